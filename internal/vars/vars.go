// Package vars implements the per-execution variable store: an ordered
// name/value mapping used for template interpolation and inter-step data
// passing.
package vars

import (
	"encoding/json"
	"fmt"
)

// Store is an ordered mapping of variable name to value, scoped to one
// execution. Keys are unique; writing an existing name replaces its value
// (last-write-wins) without changing its position. Store is not safe for
// concurrent use; the engine serializes access per execution.
type Store struct {
	order  []string
	values map[string]any
}

// New creates an empty Store.
func New() *Store {
	return &Store{values: make(map[string]any)}
}

// Set writes name, appending it to the declaration order on first write.
func (s *Store) Set(name string, value any) {
	if _, exists := s.values[name]; !exists {
		s.order = append(s.order, name)
	}
	s.values[name] = value
}

// Get returns the value for name and whether it is present.
func (s *Store) Get(name string) (any, bool) {
	v, ok := s.values[name]
	return v, ok
}

// GetString returns the value for name rendered as a string. Missing names
// return ("", false).
func (s *Store) GetString(name string) (string, bool) {
	v, ok := s.values[name]
	if !ok {
		return "", false
	}
	return Stringify(v), true
}

// Has reports whether name is present.
func (s *Store) Has(name string) bool {
	_, ok := s.values[name]
	return ok
}

// Names returns variable names in insertion order.
func (s *Store) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of variables.
func (s *Store) Len() int {
	return len(s.values)
}

// Snapshot returns a shallow copy of the mapping for persistence and for
// handing to step executors. Mutating the copy does not affect the store.
func (s *Store) Snapshot() map[string]any {
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Stringify renders a variable value for interpolation into text. Strings
// pass through; structured values are JSON-encoded so they stay parseable
// downstream.
func Stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	case float64, int, int64, bool:
		return fmt.Sprint(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}
