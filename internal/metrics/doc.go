// Package metrics summarizes recorded runs. Each [Metric] replays the
// samples of a run and reduces them to one figure.
package metrics
