package natsapi

import "sync"

// State is an arbitrary key/value bag owned by the application (§5 "Shared
// resources"). Handlers may read and write it; the concurrency discipline of
// what's stored in it is the application's responsibility, same as the
// Python original's natsapi/state.py. The map itself is guarded so
// concurrent Get/Set from different dispatcher tasks never races.
type State struct {
	mu   sync.RWMutex
	data map[string]any
}

// NewState returns an empty State bag.
func NewState() *State {
	return &State{data: make(map[string]any)}
}

// Get returns the value stored under key, and whether it was present.
func (s *State) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// Set stores value under key.
func (s *State) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

// Delete removes key, if present.
func (s *State) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
}
