// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package graph_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gviegas/neo3/graph"
)

// fakeGfxPass and fakeCmpPass let each test declare exactly the
// resource intents a scenario needs, without a real pipeline.
type fakeGfxPass struct{ describe func(*graph.ResourceDescriptor) }

func (p *fakeGfxPass) Prepare(graph.Store)                       {}
func (p *fakeGfxPass) Describe(rd *graph.ResourceDescriptor)      { p.describe(rd) }
func (p *fakeGfxPass) Configure(any) (graph.PipelineInfo, error) { return graph.PipelineInfo{}, nil }
func (p *fakeGfxPass) Execute(graph.Store, graph.Dispatcher)     {}

type fakeCmpPass struct{ describe func(*graph.ResourceDescriptor) }

func (p *fakeCmpPass) Prepare(graph.Store)                  {}
func (p *fakeCmpPass) Describe(rd *graph.ResourceDescriptor) { p.describe(rd) }
func (p *fakeCmpPass) Execute(graph.Store, graph.Dispatcher) {}

func fullscreenSize() graph.ImageSize {
	return graph.ImageSize{Mode: graph.ContextRelative, FW: 1, FH: 1}
}

func findErrorOfKind(t *testing.T, err error, kind graph.CompileErrorKind) *graph.CompileError {
	t.Helper()
	var ces []*graph.CompileError
	for _, e := range unwrapJoined(err) {
		var ce *graph.CompileError
		if errors.As(e, &ce) {
			ces = append(ces, ce)
		}
	}
	for _, ce := range ces {
		if ce.Kind == kind {
			return ce
		}
	}
	t.Fatalf("expected a CompileError of kind %v, got %v", kind, err)
	return nil
}

// unwrapJoined walks the tree produced by errors.Join, which
// nests via an Unwrap() []error method.
func unwrapJoined(err error) []error {
	type joined interface{ Unwrap() []error }
	if j, ok := err.(joined); ok {
		var out []error
		for _, e := range j.Unwrap() {
			out = append(out, unwrapJoined(e)...)
		}
		return out
	}
	if err == nil {
		return nil
	}
	return []error{err}
}

// S1 — Linear two-pass: P1 creates "A" (color-writes binding 0,
// ContextRelative 1x1); P2 moves A->B, color-writes B (binding 0);
// target = "B".
func buildS1() *graph.Builder {
	b := &graph.Builder{}
	b.AddGraphicsPass("P1", &fakeGfxPass{describe: func(rd *graph.ResourceDescriptor) {
		rd.CreateImage("A", graph.ImageCreateInfo{Format: 0, Size: fullscreenSize()})
		rd.WriteImage("A", graph.ImageWriteColor, 0)
	}})
	b.AddGraphicsPass("P2", &fakeGfxPass{describe: func(rd *graph.ResourceDescriptor) {
		rd.Move("B", "A")
		rd.WriteImage("B", graph.ImageWriteColor, 0)
	}})
	b.AddTarget("B")
	return b
}

func TestResolveS1LinearMove(t *testing.T) {
	g, err := graph.Resolve(buildS1())
	require.NoError(t, err)

	targets := g.Targets()
	require.Len(t, targets, 1)
	bID := targets[0]
	root, ok := g.MovedFromRoot(bID)
	require.True(t, ok)
	assert.Equal(t, graph.ResourceName("A"), g.ResourceName(root))
	assert.Equal(t, graph.KindImageCreate, g.ResourceKindOf(root))
}

func TestResolveResourceRedefined(t *testing.T) {
	b := &graph.Builder{}
	b.AddGraphicsPass("P1", &fakeGfxPass{describe: func(rd *graph.ResourceDescriptor) {
		rd.CreateImage("A", graph.ImageCreateInfo{Size: fullscreenSize()})
	}})
	b.AddGraphicsPass("P2", &fakeGfxPass{describe: func(rd *graph.ResourceDescriptor) {
		rd.CreateImage("A", graph.ImageCreateInfo{Size: fullscreenSize()})
	}})
	_, err := graph.Resolve(b)
	require.Error(t, err)
	findErrorOfKind(t, err, graph.ResourceRedefined)
}

func TestResolveReferencedInvalidResource(t *testing.T) {
	b := &graph.Builder{}
	b.AddGraphicsPass("P1", &fakeGfxPass{describe: func(rd *graph.ResourceDescriptor) {
		rd.ReadImage("Nope", graph.ImageReadColor, 0, -1)
	}})
	_, err := graph.Resolve(b)
	require.Error(t, err)
	findErrorOfKind(t, err, graph.ReferencedInvalidResource)
}

// S5 — reading a name after it has been moved away, from a pass
// declared *after* the move, is a hard error (OQ-1).
func TestResolveReadAfterMoveIsHardError(t *testing.T) {
	b := &graph.Builder{}
	b.AddGraphicsPass("P1", &fakeGfxPass{describe: func(rd *graph.ResourceDescriptor) {
		rd.CreateImage("A", graph.ImageCreateInfo{Size: fullscreenSize()})
		rd.WriteImage("A", graph.ImageWriteColor, 0)
	}})
	b.AddGraphicsPass("P2", &fakeGfxPass{describe: func(rd *graph.ResourceDescriptor) {
		rd.Move("B", "A")
		rd.WriteImage("B", graph.ImageWriteColor, 0)
	}})
	b.AddGraphicsPass("P3", &fakeGfxPass{describe: func(rd *graph.ResourceDescriptor) {
		rd.ReadImage("A", graph.ImageReadColor, 0, -1)
	}})
	b.AddTarget("B")
	_, err := graph.Resolve(b)
	require.Error(t, err)
	findErrorOfKind(t, err, graph.ReferencedInvalidResource)
}

// A pass declared *before* the move may still reference the
// pre-move name; only later passes are rejected.
func TestResolveReadBeforeMoveIsFine(t *testing.T) {
	b := &graph.Builder{}
	b.AddGraphicsPass("P0", &fakeGfxPass{describe: func(rd *graph.ResourceDescriptor) {
		rd.CreateImage("A", graph.ImageCreateInfo{Size: fullscreenSize()})
		rd.WriteImage("A", graph.ImageWriteColor, 0)
	}})
	b.AddGraphicsPass("P1", &fakeGfxPass{describe: func(rd *graph.ResourceDescriptor) {
		rd.ReadImage("A", graph.ImageReadColor, 0, -1)
		rd.CreateImage("Side", graph.ImageCreateInfo{Size: fullscreenSize()})
		rd.WriteImage("Side", graph.ImageWriteColor, 0)
	}})
	b.AddGraphicsPass("P2", &fakeGfxPass{describe: func(rd *graph.ResourceDescriptor) {
		rd.Move("B", "A")
		rd.WriteImage("B", graph.ImageWriteColor, 0)
	}})
	b.AddTarget("B")
	b.AddTarget("Side")
	_, err := graph.Resolve(b)
	require.NoError(t, err)
}

func TestResolveResourceAlreadyMoved(t *testing.T) {
	b := &graph.Builder{}
	b.AddGraphicsPass("P0", &fakeGfxPass{describe: func(rd *graph.ResourceDescriptor) {
		rd.CreateImage("A", graph.ImageCreateInfo{Size: fullscreenSize()})
	}})
	b.AddGraphicsPass("P1", &fakeGfxPass{describe: func(rd *graph.ResourceDescriptor) {
		rd.Move("B", "A")
	}})
	b.AddGraphicsPass("P2", &fakeGfxPass{describe: func(rd *graph.ResourceDescriptor) {
		rd.Move("C", "A")
	}})
	_, err := graph.Resolve(b)
	require.Error(t, err)
	findErrorOfKind(t, err, graph.ResourceAlreadyMoved)
}

func TestResolveResourceTypeMismatch(t *testing.T) {
	b := &graph.Builder{}
	b.AddGraphicsPass("P0", &fakeGfxPass{describe: func(rd *graph.ResourceDescriptor) {
		rd.CreateBuffer("Buf", graph.BufferCreateInfo{Size: 256})
	}})
	b.AddGraphicsPass("P1", &fakeGfxPass{describe: func(rd *graph.ResourceDescriptor) {
		rd.ReadImage("Buf", graph.ImageReadColor, 0, -1)
	}})
	_, err := graph.Resolve(b)
	require.Error(t, err)
	findErrorOfKind(t, err, graph.ResourceTypeMismatch)
}

func TestResolveInvalidOutputResource(t *testing.T) {
	b := &graph.Builder{}
	b.AddTarget("Nope")
	_, err := graph.Resolve(b)
	require.Error(t, err)
	findErrorOfKind(t, err, graph.InvalidOutputResource)
}

// S3 — a pass whose output nothing depends on is simply absent
// from ExtDepends-reachability; Resolve itself does not prune
// (that is ScheduleGraph's job), but it must still resolve
// cleanly.
func TestResolveUnreferencedPassStillResolves(t *testing.T) {
	b := &graph.Builder{}
	b.AddGraphicsPass("Used", &fakeGfxPass{describe: func(rd *graph.ResourceDescriptor) {
		rd.CreateImage("Out", graph.ImageCreateInfo{Size: fullscreenSize()})
		rd.WriteImage("Out", graph.ImageWriteColor, 0)
	}})
	b.AddGraphicsPass("Unused", &fakeGfxPass{describe: func(rd *graph.ResourceDescriptor) {
		rd.CreateImage("Dead", graph.ImageCreateInfo{Size: fullscreenSize()})
		rd.WriteImage("Dead", graph.ImageWriteColor, 0)
	}})
	b.AddTarget("Out")
	g, err := graph.Resolve(b)
	require.NoError(t, err)
	assert.Equal(t, 2, g.NumPasses())
}
