// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package handle_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gviegas/neo3/internal/handle"
)

func TestInsertGet(t *testing.T) {
	var s handle.Storage[string]
	h := s.Insert("a")
	require.True(t, h.IsValid())
	v := s.Get(h)
	require.NotNil(t, v)
	assert.Equal(t, "a", *v)
}

func TestRemoveInvalidatesHandle(t *testing.T) {
	var s handle.Storage[int]
	h := s.Insert(42)
	val, ok := s.Remove(h)
	require.True(t, ok)
	assert.Equal(t, 42, val)
	assert.Nil(t, s.Get(h))

	_, ok = s.Remove(h)
	assert.False(t, ok, "removing an already-stale handle must fail cleanly")
}

func TestGenerationStrictlyMonotone(t *testing.T) {
	var s handle.Storage[int]
	h1 := s.Insert(1)
	s.Remove(h1)
	h2 := s.Insert(2) // should reuse h1's slot
	require.NotEqual(t, h1, h2)
	assert.Nil(t, s.Get(h1), "stale handle must never alias the new value")
	v := s.Get(h2)
	require.NotNil(t, v)
	assert.Equal(t, 2, *v)

	s.Remove(h2)
	h3 := s.Insert(3)
	assert.Nil(t, s.Get(h2))
	require.NotNil(t, s.Get(h3))
}

func TestAllIteratesLiveOnly(t *testing.T) {
	var s handle.Storage[int]
	a := s.Insert(1)
	b := s.Insert(2)
	s.Insert(3)
	s.Remove(b)

	seen := map[int]bool{}
	for h, v := range s.All {
		seen[*v] = true
		assert.True(t, h.IsValid())
	}
	assert.Equal(t, map[int]bool{1: true, 3: true}, seen)
	assert.Equal(t, 2, s.Len())
	_ = a
}
