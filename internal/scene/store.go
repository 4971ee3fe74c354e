package scene

import "sync/atomic"

// Store publishes immutable scene snapshots from a single writer to any
// number of readers.
type Store struct {
	current   atomic.Pointer[Scene]
	published atomic.Uint64
}

func NewStore() *Store {
	s := &Store{}
	s.current.Store(&Scene{})
	return s
}

// Publish deep copies sc and makes it the current snapshot.
func (s *Store) Publish(sc Scene) {
	s.current.Store(sc.Clone())
	s.published.Add(1)
}

// Snapshot returns the current scene. Its slices are shared with other
// readers and must not be modified.
func (s *Store) Snapshot() Scene {
	return *s.current.Load()
}

// Tick is the tick of the last published scene.
func (s *Store) Tick() uint64 {
	return s.current.Load().Tick
}

// Published counts calls to Publish.
func (s *Store) Published() uint64 {
	return s.published.Load()
}
