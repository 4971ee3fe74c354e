// Package dynamo provides the numeric primitives shared by the builtin
// vehicle models and the simulation engine.
//
//   - [State]: continuous state vector
//   - [System]: ODE right-hand side (dX/dt = f(X, u, t))
//   - [Integrator]: fixed-step numerical stepper
//
// It also holds the sentinel errors returned across package boundaries, so
// callers can match them with errors.Is regardless of which layer wrapped them.
package dynamo
