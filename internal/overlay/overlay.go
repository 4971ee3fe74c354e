package overlay

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Range overrides the bounds and optionally the default of one channel.
type Range struct {
	Default *float64 `yaml:"default,omitempty"`
	Min     *float64 `yaml:"min,omitempty"`
	Max     *float64 `yaml:"max,omitempty"`
}

// Overlay is a declarative set of bound and default overrides applied on top
// of a model's own metadata.
type Overlay struct {
	Model    string            `yaml:"model,omitempty"`
	Params   map[string]Range  `yaml:"parameters,omitempty"`
	Inputs   map[string]Range  `yaml:"inputs,omitempty"`
	States   map[string]Range  `yaml:"states,omitempty"`
	Settings map[string]string `yaml:"settings,omitempty"`

	Path string `yaml:"-"`
}

func Load(path string) (*Overlay, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read overlay: %w", err)
	}
	o, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	o.Path = path
	return o, nil
}

// Parse decodes an overlay document. Unknown keys are rejected.
func Parse(data []byte) (*Overlay, error) {
	var o Overlay
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&o); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse overlay: %w", err)
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return &o, nil
}

func (o *Overlay) Validate() error {
	for category, ranges := range map[string]map[string]Range{
		"parameters": o.Params,
		"inputs":     o.Inputs,
		"states":     o.States,
	} {
		for _, name := range sortedKeys(ranges) {
			r := ranges[name]
			if r.Min != nil && r.Max != nil && *r.Min > *r.Max {
				return fmt.Errorf("%s.%s: min %g exceeds max %g", category, name, *r.Min, *r.Max)
			}
		}
	}
	return nil
}

// Matches reports whether the overlay targets the named model. An overlay
// without a model hint matches any model.
func (o *Overlay) Matches(modelName string) bool {
	return o.Model == "" || o.Model == modelName
}

func (o *Overlay) Save(path string) error {
	data, err := yaml.Marshal(o)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
