// Package driver is an autonomous control client. It holds a target speed
// with a [PID] on the longitudinal input and follows the track midpoints
// with [Pursuit] on the steering input, answering synchronous requests or
// streaming asynchronous inputs.
package driver
