package metrics

import (
	"math"
	"testing"

	"github.com/san-kum/vehsim/internal/storage"
)

func TestControlEffort(t *testing.T) {
	m := NewControlEffort()
	if m.Value() != 0 {
		t.Errorf("expected 0 without samples, got %f", m.Value())
	}
	m.Observe(nil, []float64{1, -3}, 0)
	m.Observe(nil, []float64{0, 2}, 0.1)
	if m.Value() != 3 {
		t.Errorf("expected mean effort 3, got %f", m.Value())
	}
	m.Reset()
	if m.Value() != 0 {
		t.Errorf("expected 0 after reset, got %f", m.Value())
	}
}

func TestStability(t *testing.T) {
	s := NewStability("grip", 1, 0.5)
	if s.Value() != 1 {
		t.Errorf("expected 1 without samples, got %f", s.Value())
	}
	s.Observe([]float64{0, 0.1}, nil, 0)
	s.Observe([]float64{0, -0.9}, nil, 0)
	s.Observe([]float64{0, math.NaN()}, nil, 0)
	s.Observe([]float64{0, 0.5}, nil, 0)
	if s.Value() != 0.5 {
		t.Errorf("expected 0.5, got %f", s.Value())
	}
}

func TestEvaluate(t *testing.T) {
	meta := &storage.RunMetadata{
		States: []string{"x", "y", "yaw", "v"},
		Inputs: []string{"ax"},
	}
	series := &storage.Series{
		Times: []float64{0, 0.1, 0.2},
		Rows: [][]float64{
			{0, 0, 0, 1, 2},
			{3, 4, 0, 3, -2},
			{3, 4, 0, 2, 0},
		},
	}

	got := Evaluate(meta, series, ForRun(meta))
	want := map[string]float64{
		"control_effort": 4.0 / 3,
		"path_length":    5,
		"peak_v":         3,
		"mean_v":         2,
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d metrics, got %v", len(want), got)
	}
	for name, w := range want {
		if math.Abs(got[name]-w) > 1e-9 {
			t.Errorf("%s = %f, want %f", name, got[name], w)
		}
	}
}

func TestForRunPicksGrip(t *testing.T) {
	meta := &storage.RunMetadata{States: []string{"x", "y", "yaw", "vx", "vy"}}
	names := map[string]bool{}
	for _, m := range ForRun(meta) {
		names[m.Name()] = true
	}
	for _, n := range []string{"peak_vx", "mean_vx", "grip", "path_length"} {
		if !names[n] {
			t.Errorf("missing metric %s", n)
		}
	}
}
