// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package engine

import "reflect"

// Store is the concrete implementation of graph.Store: an opaque,
// arbitrarily-keyed bag of values that a compiled graph carries
// across every frame it is executed in, until the graph itself is
// destroyed (see Context.GraphCreate/GraphDestroy). Pass
// implementations use it to keep state (e.g. a running frame
// counter, or last frame's resource handles) between Prepare and
// Execute calls, and across frames.
type Store struct {
	vals map[any]any
}

// NewStore returns an empty Store.
func NewStore() *Store { return &Store{vals: map[any]any{}} }

// Get implements graph.Store.
func (s *Store) Get(key any) (any, bool) {
	v, ok := s.vals[key]
	return v, ok
}

// Set implements graph.Store.
func (s *Store) Set(key any, value any) {
	if s.vals == nil {
		s.vals = map[any]any{}
	}
	s.vals[key] = value
}

// StoreGet retrieves the value of type T previously stored with
// StoreSet, keyed by T's reflect.Type so callers do not need to
// invent a key of their own. It is the common case; Get/Set remain
// available for passes that want an explicit key (e.g. to keep two
// independent values of the same type).
func StoreGet[T any](s *Store) (T, bool) {
	var zero T
	v, ok := s.Get(reflect.TypeFor[T]())
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

// StoreSet stores value under its own reflect.Type as key.
func StoreSet[T any](s *Store, value T) {
	s.Set(reflect.TypeFor[T](), value)
}
