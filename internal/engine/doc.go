// Package engine runs a vehicle model on a fixed timestep.
//
// One goroutine owns the loop. Callers stage parameter, setting, overlay
// and timestep changes; the loop applies them together inside the reset
// transition, so a running model never observes a half-applied
// configuration. Inputs come from the local caller, from asynchronous
// control messages gated on the schema version, or from a synchronous
// client that answers one request per control period with a configurable
// actuation delay.
package engine
