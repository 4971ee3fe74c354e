package metrics

import (
	"github.com/san-kum/vehsim/internal/model"
	"github.com/san-kum/vehsim/internal/storage"
)

// Metric accumulates one figure over the samples of a run.
type Metric interface {
	Name() string
	Observe(states, inputs []float64, t float64)
	Value() float64
	Reset()
}

var speedColumns = []string{"v", "vx", "speed"}

// ForRun picks the metrics that apply to the channels of a run.
func ForRun(meta *storage.RunMetadata) []Metric {
	out := []Metric{NewControlEffort()}
	x, y := column(meta.States, model.StateX), column(meta.States, model.StateY)
	if x >= 0 && y >= 0 {
		out = append(out, NewPathLength(x, y))
	}
	for _, name := range speedColumns {
		if i := column(meta.States, name); i >= 0 {
			out = append(out, NewPeak("peak_"+name, i), NewMean("mean_"+name, i))
			break
		}
	}
	if i := column(meta.States, "vy"); i >= 0 {
		out = append(out, NewStability("grip", i, 0.5))
	}
	return out
}

// Evaluate replays a recorded series through metrics.
func Evaluate(meta *storage.RunMetadata, series *storage.Series, metrics []Metric) map[string]float64 {
	nStates := len(meta.States)
	for _, m := range metrics {
		m.Reset()
	}
	for i, row := range series.Rows {
		states, inputs := row, []float64(nil)
		if len(row) > nStates {
			states, inputs = row[:nStates], row[nStates:]
		}
		t := 0.0
		if i < len(series.Times) {
			t = series.Times[i]
		}
		for _, m := range metrics {
			m.Observe(states, inputs, t)
		}
	}
	out := make(map[string]float64, len(metrics))
	for _, m := range metrics {
		out[m.Name()] = m.Value()
	}
	return out
}

func column(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}
