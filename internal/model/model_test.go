package model

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/san-kum/vehsim/internal/dynamo"
)

type stubInstance struct {
	desc      Descriptor
	destroyed *int
}

func (s *stubInstance) Descriptor() *Descriptor { return &s.desc }
func (s *stubInstance) Reset(dt float64)        {}
func (s *stubInstance) Step(dt float64)         {}
func (s *stubInstance) Destroy()                { *s.destroyed++ }

func stubDescriptor() Descriptor {
	return Descriptor{
		Params: Channels{
			Names:  []string{"wheelbase"},
			Values: []float64{2.8},
			Min:    []float64{0.5},
			Max:    []float64{5},
		},
		States: Channels{
			Names:  []string{"px", "py", "heading", "steering_angle"},
			Values: make([]float64, 4),
			Min:    make([]float64, 4),
			Max:    make([]float64, 4),
		},
		StateTags: []StateTag{TagPoseX, TagPoseY, TagPoseYaw, TagSteerAngle},
		Settings: Settings{
			Names:  []string{"mode", "drive"},
			Values: []int32{0, 0},
			Options: []SettingOption{
				{Label: "angle", Setting: 0},
				{Label: "fwd", Setting: 1},
				{Label: "rate", Setting: 0},
				{Label: "rwd", Setting: 1},
			},
		},
	}
}

func TestDescriptorValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(d *Descriptor)
		wantErr bool
	}{
		{"valid", func(d *Descriptor) {}, false},
		{"short values", func(d *Descriptor) { d.Params.Values = nil }, true},
		{"short max", func(d *Descriptor) { d.States.Max = d.States.Max[:2] }, true},
		{"tag count", func(d *Descriptor) { d.StateTags = d.StateTags[:1] }, true},
		{"no tags", func(d *Descriptor) { d.StateTags = nil }, false},
		{"setting values", func(d *Descriptor) { d.Settings.Values = d.Settings.Values[:1] }, true},
		{"orphan option", func(d *Descriptor) { d.Settings.Options[0].Setting = 5 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := stubDescriptor()
			tt.mutate(&d)
			err := d.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSettingOptions(t *testing.T) {
	d := stubDescriptor()

	labels := d.Settings.OptionLabels(1)
	if len(labels) != 2 || labels[0] != "fwd" || labels[1] != "rwd" {
		t.Fatalf("unexpected labels %v", labels)
	}
	if idx, ok := d.Settings.OptionIndex(0, "rate"); !ok || idx != 1 {
		t.Errorf("expected rate at 1, got %d %v", idx, ok)
	}
	if _, ok := d.Settings.OptionIndex(0, "rwd"); ok {
		t.Error("rwd belongs to another setting")
	}
	if d.Settings.Index("drive") != 1 || d.Settings.Index("none") != -1 {
		t.Error("unexpected setting index")
	}
}

func TestPoseIndicesFallBackToTags(t *testing.T) {
	d := stubDescriptor()

	x, y, yaw := PoseIndices(&d)
	if x != 0 || y != 1 || yaw != 2 {
		t.Errorf("expected tagged pose 0,1,2 got %d,%d,%d", x, y, yaw)
	}
	fl, fr := SteerIndices(&d)
	if fl != 3 || fr != 3 {
		t.Errorf("expected single-track steer 3,3 got %d,%d", fl, fr)
	}

	d.States.Names = []string{"y", "x", "yaw", "steering_angle_fl"}
	x, y, _ = PoseIndices(&d)
	if x != 1 || y != 0 {
		t.Errorf("named states should win over tags, got %d,%d", x, y)
	}
	fl, fr = SteerIndices(&d)
	if fl != 3 || fr != 3 {
		t.Errorf("expected fl 3 with fallback fr, got %d,%d", fl, fr)
	}
}

func TestRegistry(t *testing.T) {
	destroyed := 0
	reg := NewRegistry()
	reg.Register(NewFactory("stub", func(dt float64) Instance {
		return &stubInstance{desc: stubDescriptor(), destroyed: &destroyed}
	}))

	src, err := reg.Get("builtin:stub")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	inst, err := src.Create(0.01)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	inst.Destroy()
	if destroyed != 1 {
		t.Errorf("expected one destroy, got %d", destroyed)
	}

	if _, err := reg.Get("missing"); !errors.Is(err, dynamo.ErrUnknownModel) {
		t.Errorf("expected ErrUnknownModel, got %v", err)
	}
	if names := reg.List(); len(names) != 1 || names[0] != "stub" {
		t.Errorf("unexpected list %v", names)
	}
}

func TestFactoryRejectsInvalidDescriptor(t *testing.T) {
	destroyed := 0
	f := NewFactory("broken", func(dt float64) Instance {
		d := stubDescriptor()
		d.Params.Min = nil
		return &stubInstance{desc: d, destroyed: &destroyed}
	})
	if _, err := f.Create(0.01); err == nil {
		t.Fatal("expected invalid descriptor error")
	}
	if destroyed != 1 {
		t.Errorf("rejected instance should be destroyed, got %d", destroyed)
	}
}

type namedSource struct {
	Source
	name   string
	closed *int
}

func (n namedSource) Name() string { return n.name }
func (n namedSource) Close() error { *n.closed++; return nil }

func TestCatalog(t *testing.T) {
	dir := t.TempDir()
	for _, f := range []string{"b.so", "a.dylib", "notes.txt", "bad.so"} {
		if err := os.WriteFile(filepath.Join(dir, f), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	reg := NewRegistry()
	reg.Register(NewFactory("stub", func(dt float64) Instance { return nil }))

	closed := 0
	cat := &Catalog{
		Registry: reg,
		Dirs:     []string{dir, filepath.Join(dir, "absent")},
		Log:      zerolog.Nop(),
		Open: func(path string) (Source, error) {
			if filepath.Base(path) == "bad.so" {
				return nil, dynamo.ErrInvalidPlugin
			}
			return namedSource{name: "lib-" + filepath.Base(path), closed: &closed}, nil
		},
	}

	got := cat.Available()
	if len(got) != 3 {
		t.Fatalf("expected 3 models, got %+v", got)
	}
	if !got[0].Builtin || got[0].Ref != "builtin:stub" {
		t.Errorf("expected builtin first, got %+v", got[0])
	}
	if got[1].Name != "lib-a.dylib" || got[2].Name != "lib-b.so" {
		t.Errorf("unexpected library order %+v", got[1:])
	}
	if closed != 2 {
		t.Errorf("expected transient loads closed, got %d", closed)
	}

	if _, err := cat.Resolve("stub"); err != nil {
		t.Errorf("resolve bare builtin: %v", err)
	}
	if _, err := cat.Resolve("builtin:missing"); !errors.Is(err, dynamo.ErrUnknownModel) {
		t.Errorf("expected ErrUnknownModel, got %v", err)
	}
	src, err := cat.Resolve(filepath.Join(dir, "a.dylib"))
	if err != nil || src.Name() != "lib-a.dylib" {
		t.Errorf("resolve path: %v %v", src, err)
	}
}

func TestIsLibraryFile(t *testing.T) {
	tests := map[string]bool{
		"model.so":     true,
		"Model.DYLIB":  true,
		"model.dll":    true,
		"model.so.txt": false,
		"model":        false,
	}
	for path, want := range tests {
		if got := IsLibraryFile(path); got != want {
			t.Errorf("IsLibraryFile(%q) = %v, want %v", path, got, want)
		}
	}
}
