// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package graph_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gviegas/neo3/graph"
)

// TestBuilderClone builds a common base (one pass creating "A"),
// clones it mid-construction, and diverges each copy with its own
// second pass and target. Resolve on both must succeed
// independently and describe distinct graphs, confirming Clone's
// copies don't alias each other's passes/targets slices.
func TestBuilderClone(t *testing.T) {
	base := &graph.Builder{}
	base.AddGraphicsPass("P1", &fakeGfxPass{describe: func(rd *graph.ResourceDescriptor) {
		rd.CreateImage("A", graph.ImageCreateInfo{Size: fullscreenSize()})
		rd.WriteImage("A", graph.ImageWriteColor, 0)
	}})

	left := base.Clone()
	right := base.Clone()

	left.AddGraphicsPass("P2L", &fakeGfxPass{describe: func(rd *graph.ResourceDescriptor) {
		rd.Move("B", "A")
		rd.WriteImage("B", graph.ImageWriteColor, 0)
	}})
	left.AddTarget("B")

	right.AddGraphicsPass("P2R", &fakeGfxPass{describe: func(rd *graph.ResourceDescriptor) {
		rd.Move("C", "A")
		rd.WriteImage("C", graph.ImageWriteColor, 0)
	}})
	right.AddTarget("C")

	// base itself must stay untouched by either clone's later
	// additions: it still has no target, which Resolve accepts.
	require.Equal(t, 1, base.NumPasses())
	bg, err := graph.Resolve(base)
	require.NoError(t, err)
	assert.Empty(t, bg.Targets())

	require.Equal(t, 2, left.NumPasses())
	require.Equal(t, 2, right.NumPasses())

	lg, err := graph.Resolve(&left)
	require.NoError(t, err)
	rg, err := graph.Resolve(&right)
	require.NoError(t, err)

	lTargets := lg.Targets()
	rTargets := rg.Targets()
	require.Len(t, lTargets, 1)
	require.Len(t, rTargets, 1)
	assert.Equal(t, graph.ResourceName("B"), lg.ResourceName(lTargets[0]))
	assert.Equal(t, graph.ResourceName("C"), rg.ResourceName(rTargets[0]))
}
