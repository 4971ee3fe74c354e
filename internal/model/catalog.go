package model

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// Opener loads a model source from a shared-library path.
type Opener func(path string) (Source, error)

// Catalog resolves model references and lists the models an engine can load.
type Catalog struct {
	Registry *Registry
	Dirs     []string
	Open     Opener
	Log      zerolog.Logger
}

var libraryExts = []string{".so", ".dylib", ".dll"}

// IsLibraryFile reports whether path carries a shared-library extension.
func IsLibraryFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range libraryExts {
		if ext == e {
			return true
		}
	}
	return false
}

// Resolve maps a reference to a source. References are builtin:<name>, a
// bare registered name, or a path to a shared library.
func (c *Catalog) Resolve(ref string) (Source, error) {
	if strings.HasPrefix(ref, BuiltinPrefix) || c.Open == nil {
		return c.Registry.Get(ref)
	}
	if c.Registry != nil {
		if src, err := c.Registry.Get(ref); err == nil {
			return src, nil
		}
	}
	return c.Open(ref)
}

// Available lists builtin models followed by every loadable shared library
// found in the candidate directories. Libraries are opened transiently to
// read their display name; failures are logged and skipped.
func (c *Catalog) Available() []Info {
	var out []Info
	if c.Registry != nil {
		for _, name := range c.Registry.List() {
			out = append(out, Info{Name: name, Ref: BuiltinPrefix + name, Builtin: true})
		}
	}
	if c.Open == nil {
		return out
	}

	seen := make(map[string]bool)
	for _, dir := range c.Dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			c.Log.Debug().Err(err).Str("dir", dir).Msg("skipping model directory")
			continue
		}
		var found []Info
		for _, e := range entries {
			if e.IsDir() || !IsLibraryFile(e.Name()) {
				continue
			}
			path := filepath.Join(dir, e.Name())
			if abs, err := filepath.Abs(path); err == nil {
				path = abs
			}
			if seen[path] {
				continue
			}
			seen[path] = true

			src, err := c.Open(path)
			if err != nil {
				c.Log.Warn().Err(err).Str("path", path).Msg("skipping model library")
				continue
			}
			found = append(found, Info{Name: src.Name(), Ref: path})
			if err := src.Close(); err != nil {
				c.Log.Warn().Err(err).Str("path", path).Msg("close model library")
			}
		}
		sort.Slice(found, func(i, j int) bool { return found[i].Ref < found[j].Ref })
		out = append(out, found...)
	}
	return out
}
