// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package graph_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gviegas/neo3/graph"
)

// S1: A (aliased to the target B) is color-written by P1 and
// again by P2 (after the move), and is the schedule's output, so
// it must accumulate COLOR_ATTACHMENT | SAMPLED | TRANSFER_SRC.
func TestDeriveUsageS1(t *testing.T) {
	g, err := graph.Resolve(buildS1())
	require.NoError(t, err)
	s, err := graph.ScheduleGraph(g)
	require.NoError(t, err)
	usage := graph.DeriveUsage(g, s)

	root, ok := g.MovedFromRoot(g.Targets()[0])
	require.True(t, ok)

	u := usage[root]
	require.NotNil(t, u)
	assert.Equal(t, graph.UsageColorAttachment|graph.UsageSampled|graph.UsageTransferSrc, u.Image)
}

// S2: X is read as a sampled color input by both P1 and P2, so it
// must carry SAMPLED; P0 color-writes it when creating it, so it
// carries COLOR_ATTACHMENT too.
func TestDeriveUsageS2(t *testing.T) {
	g, err := graph.Resolve(buildS2())
	require.NoError(t, err)
	s, err := graph.ScheduleGraph(g)
	require.NoError(t, err)
	usage := graph.DeriveUsage(g, s)

	var xID graph.ResourceId
	for id := 0; id < g.NumResources(); id++ {
		if g.ResourceName(graph.ResourceId(id)) == "X" {
			xID = graph.ResourceId(id)
			break
		}
	}
	u := usage[xID]
	require.NotNil(t, u)
	assert.NotZero(t, u.Image&graph.UsageSampled)
	assert.NotZero(t, u.Image&graph.UsageColorAttachment, "P0 color-writes X when creating it")

	var outID graph.ResourceId
	for id := 0; id < g.NumResources(); id++ {
		if g.ResourceName(graph.ResourceId(id)) == "Out" {
			outID = graph.ResourceId(id)
			break
		}
	}
	uOut := usage[outID]
	require.NotNil(t, uOut)
	assert.NotZero(t, uOut.Image&graph.UsageTransferSrc, "Out is a target")
}

// S6: Data is written as STORAGE by the compute pass and read as
// UNIFORM by the graphics pass, so both flags must accumulate on
// the same physical resource.
func TestDeriveUsageS6(t *testing.T) {
	g, err := graph.Resolve(buildS6())
	require.NoError(t, err)
	s, err := graph.ScheduleGraph(g)
	require.NoError(t, err)
	usage := graph.DeriveUsage(g, s)

	var dataID graph.ResourceId
	for id := 0; id < g.NumResources(); id++ {
		if g.ResourceName(graph.ResourceId(id)) == "Data" {
			dataID = graph.ResourceId(id)
			break
		}
	}
	u := usage[dataID]
	require.NotNil(t, u)
	assert.NotZero(t, u.Buffer&graph.BufferUsageStorage)
	assert.NotZero(t, u.Buffer&graph.BufferUsageUniform)
}

func TestDeriveUsageSkipsVirtual(t *testing.T) {
	b := &graph.Builder{}
	b.AddGraphicsPass("P0", &fakeGfxPass{describe: func(rd *graph.ResourceDescriptor) {
		rd.CreateVirtualResource("Order")
		rd.CreateImage("Out", graph.ImageCreateInfo{Size: fullscreenSize()})
		rd.WriteImage("Out", graph.ImageWriteColor, 0)
	}})
	b.AddTarget("Out")
	g, err := graph.Resolve(b)
	require.NoError(t, err)
	s, err := graph.ScheduleGraph(g)
	require.NoError(t, err)
	usage := graph.DeriveUsage(g, s)

	for id, name := range namesByID(g) {
		if name == "Order" {
			_, present := usage[graph.ResourceId(id)]
			assert.False(t, present, "virtual resources must not appear in derived usage")
		}
	}
}

func namesByID(g *graph.ResolvedGraph) map[int]graph.ResourceName {
	out := map[int]graph.ResourceName{}
	for id := 0; id < g.NumResources(); id++ {
		name := g.ResourceName(graph.ResourceId(id))
		if name != "" {
			out[id] = name
		}
	}
	return out
}
