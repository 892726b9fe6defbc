// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package graph

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// CompileError is the error type returned for every failure
// detected while resolving a Builder. Resolve collects every
// error it finds rather than stopping at the first one; the
// errors returned from Resolve can be unwrapped individually
// with errors.As against *CompileError.
type CompileError struct {
	// Kind classifies the failure.
	Kind CompileErrorKind
	// Res is the resource name involved, if any.
	Res ResourceName
	// Pass is the pass where the problem was detected.
	Pass PassId
	// PrevPass is the pass that first defined Res, set only
	// for ResourceRedefined.
	PrevPass PassId
	// AttemptedNewName is the move destination name that
	// could not be registered, set only for
	// ResourceAlreadyMoved.
	AttemptedNewName ResourceName
	// PrevMove is the pass that performed the original move
	// of Res, set only for ResourceAlreadyMoved.
	PrevMove PassId
}

// CompileErrorKind enumerates the ways Resolve can reject a
// Builder.
type CompileErrorKind int

const (
	// InvalidGraph is a catch-all for structural problems not
	// covered by a more specific kind (e.g. a cycle that
	// survives the batch-building pass; see ScheduleGraph).
	InvalidGraph CompileErrorKind = iota
	// ResourceRedefined: I1 violated, a name was defined
	// (created or moved into) by more than one pass.
	ResourceRedefined
	// ReferencedInvalidResource: a pass referenced a name that
	// was never defined (or is no longer live, e.g. read after
	// being moved away).
	ReferencedInvalidResource
	// ResourceAlreadyMoved: I3 violated, a resource was the
	// source of more than one move.
	ResourceAlreadyMoved
	// ResourceTypeMismatch: I4 violated, a read/write kind is
	// inconsistent with the resource's defining create kind.
	ResourceTypeMismatch
	// InvalidOutputResource: I5 violated, a target name did
	// not resolve to a defined resource.
	InvalidOutputResource
)

func (k CompileErrorKind) String() string {
	switch k {
	case ResourceRedefined:
		return "resource redefined"
	case ReferencedInvalidResource:
		return "referenced invalid resource"
	case ResourceAlreadyMoved:
		return "resource already moved"
	case ResourceTypeMismatch:
		return "resource type mismatch"
	case InvalidOutputResource:
		return "invalid output resource"
	default:
		return "invalid graph"
	}
}

func (e *CompileError) Error() string {
	switch e.Kind {
	case ResourceRedefined:
		return fmt.Sprintf("graph: resource %q redefined by pass %d (first defined by pass %d)", e.Res, e.Pass, e.PrevPass)
	case ReferencedInvalidResource:
		return fmt.Sprintf("graph: pass %d referenced invalid resource %q", e.Pass, e.Res)
	case ResourceAlreadyMoved:
		return fmt.Sprintf("graph: pass %d cannot move %q into %q, already moved into a new name by pass %d", e.Pass, e.Res, e.AttemptedNewName, e.PrevMove)
	case ResourceTypeMismatch:
		return fmt.Sprintf("graph: pass %d used resource %q with a kind inconsistent with its definition", e.Pass, e.Res)
	case InvalidOutputResource:
		return fmt.Sprintf("graph: target resource %q does not resolve to a defined resource", e.Res)
	default:
		return fmt.Sprintf("graph: invalid graph (pass %d, resource %q)", e.Pass, e.Res)
	}
}

// resourceInfo is the resolved, per-resource bookkeeping the
// rest of the core (Schedule, DeriveUsage) relies on.
type resourceInfo struct {
	name ResourceName
	kind ResourceKind

	imageCreate     ImageCreateInfo
	bufferCreate    BufferCreateInfo
	backbufferGet   ImageBackbufferGetInfo
}

// ResolvedGraph is the output of Resolve: a Builder's names
// turned into a dense, ID-based dependency graph.
type ResolvedGraph struct {
	builder *Builder

	// names maps every name that was ever defined (created or
	// a move-destination) to its ResourceId.
	names map[ResourceName]ResourceId
	// resources is indexed by ResourceId.
	resources []resourceInfo

	// Defines maps a ResourceId to the PassId that defines it.
	Defines map[ResourceId]PassId
	// Creates, Reads, Writes map a PassId to the set of
	// resource ids it creates / reads / writes, in declaration
	// order within the pass.
	Creates map[PassId][]ResourceId
	Reads   map[PassId][]ResourceId
	Writes  map[PassId][]ResourceId
	// MovesFrom maps a move-destination ResourceId to the
	// ResourceId it was moved from. At most one entry exists
	// per source id (I3).
	MovesFrom map[ResourceId]ResourceId
	// ExtDepends maps a PassId to the set of resource ids it
	// references that it did not itself create (its external
	// dependencies), in the order those references were
	// declared.
	ExtDepends map[PassId][]ResourceId

	// imageReads/imageWrites/bufferReads/bufferWrites record,
	// per pass, the exact declarations made during Describe,
	// needed by DeriveUsage and by the base/per-frame resource
	// builders (package engine) to know kinds and bindings.
	imageReads   map[PassId][]ImageReadDecl
	imageWrites  map[PassId][]ImageWriteDecl
	bufferReads  map[PassId][]BufferReadDecl
	bufferWrites map[PassId][]BufferWriteDecl

	// targets is the set of resource ids named by the
	// builder's targets, resolved.
	targets []ResourceId
}

// NumPasses returns the number of passes in the underlying
// Builder.
func (g *ResolvedGraph) NumPasses() int { return g.builder.NumPasses() }

// NumResources returns the number of resource ids assigned by
// Resolve (every create, backbuffer-get and move destination).
func (g *ResolvedGraph) NumResources() int { return len(g.resources) }

// PassKindOf returns the PassKind of p.
func (g *ResolvedGraph) PassKindOf(p PassId) PassKind { return g.builder.passes[p].kind }

// GraphicsPass returns the GraphicsPassImpl declared for p. It is
// only valid when PassKindOf(p) == Graphics.
func (g *ResolvedGraph) GraphicsPass(p PassId) GraphicsPassImpl { return g.builder.passes[p].gfx }

// ComputePass returns the ComputePassImpl declared for p. It is
// only valid when PassKindOf(p) == Compute.
func (g *ResolvedGraph) ComputePass(p PassId) ComputePassImpl { return g.builder.passes[p].cmp }

// PassName returns the name a pass was declared under.
func (g *ResolvedGraph) PassName(p PassId) ResourceName { return g.builder.passes[p].name }

// ResourceName returns the name a resource id was originally
// defined under.
func (g *ResolvedGraph) ResourceName(id ResourceId) ResourceName { return g.resources[id].name }

// ResourceKindOf returns the defining kind of a resource id.
func (g *ResolvedGraph) ResourceKindOf(id ResourceId) ResourceKind { return g.resources[id].kind }

// ImageCreateInfoOf returns the creation parameters of an
// image-create resource. It is only valid when
// ResourceKindOf(id) == KindImageCreate.
func (g *ResolvedGraph) ImageCreateInfoOf(id ResourceId) ImageCreateInfo {
	return g.resources[id].imageCreate
}

// BufferCreateInfoOf returns the creation parameters of a
// buffer-create resource. It is only valid when
// ResourceKindOf(id) == KindBufferCreate.
func (g *ResolvedGraph) BufferCreateInfoOf(id ResourceId) BufferCreateInfo {
	return g.resources[id].bufferCreate
}

// BackbufferGetInfoOf returns the backbuffer-get parameters of
// a resource. It is only valid when ResourceKindOf(id) ==
// KindImageBackbufferGet.
func (g *ResolvedGraph) BackbufferGetInfoOf(id ResourceId) ImageBackbufferGetInfo {
	return g.resources[id].backbufferGet
}

// Targets returns the resolved target resource ids, in the
// order the builder declared them.
func (g *ResolvedGraph) Targets() []ResourceId {
	out := make([]ResourceId, len(g.targets))
	copy(out, g.targets)
	return out
}

// ImageReads, ImageWrites, BufferReads, BufferWrites return the
// declarations a given pass made during Describe.
func (g *ResolvedGraph) ImageReads(p PassId) []ImageReadDecl    { return g.imageReads[p] }
func (g *ResolvedGraph) ImageWrites(p PassId) []ImageWriteDecl  { return g.imageWrites[p] }
func (g *ResolvedGraph) BufferReads(p PassId) []BufferReadDecl  { return g.bufferReads[p] }
func (g *ResolvedGraph) BufferWrites(p PassId) []BufferWriteDecl { return g.bufferWrites[p] }

// MovedFromRoot follows a chain of moves back to the original
// creator of the physical resource backing id, returning its
// ResourceId and true. It returns (0, false) if id is not
// backed by a physical creation (e.g. id does not exist, or —
// this cannot actually happen for a resolved graph, since every
// definition is either a create or a move — included only to
// keep the contract total).
//
// MovedFromRoot is idempotent (MovedFromRoot(MovedFromRoot(id))
// == MovedFromRoot(id), once translated through Defines) and
// terminates for any acyclic move chain, since I3 guarantees
// MovesFrom has at most one outgoing edge per id and Resolve
// rejects any graph where a move chain could cycle back on
// itself (a move destination name cannot also be an earlier
// move source, by I1/I2).
func (g *ResolvedGraph) MovedFromRoot(id ResourceId) (ResourceId, bool) {
	if int(id) < 0 || int(id) >= len(g.resources) {
		return 0, false
	}
	for {
		src, ok := g.MovesFrom[id]
		if !ok {
			return id, true
		}
		id = src
	}
}

// resolveState is the mutable working state threaded through
// Resolve's passes.
type resolveState struct {
	g    *ResolvedGraph
	errs []error
}

func (s *resolveState) fail(e *CompileError) { s.errs = append(s.errs, e) }

// Resolve turns a Builder into a ResolvedGraph, or fails with
// every CompileError it can find (wrapped together with
// errors.Join; use errors.As to pull out individual
// *CompileError values).
//
// Name assignment happens in a deterministic two-pass
// traversal over b's passes, in declaration order:
//
//  1. First pass: walk every pass's Describe output and assign
//     a fresh ResourceId to every *definition* (a create, a
//     backbuffer-get, or a move destination), pass by pass in
//     builder order; within a pass, image creates, buffer
//     creates, virtual creates and backbuffer-gets come first,
//     each kind in ascending name order (the descriptor keeps
//     them in maps), then move destinations in the order the
//     moves were declared.
//  2. Second pass: walk every pass's reads/writes and look up
//     the ResourceId each referenced name was assigned in
//     step 1, recording ExtDepends for names the pass itself
//     did not define.
//
// This matches spec.md §4.3 exactly and is what makes pass
// ordering and the resulting schedule deterministic.
func Resolve(b *Builder) (*ResolvedGraph, error) {
	g := &ResolvedGraph{
		builder:      b,
		names:        map[ResourceName]ResourceId{},
		Defines:      map[ResourceId]PassId{},
		Creates:      map[PassId][]ResourceId{},
		Reads:        map[PassId][]ResourceId{},
		Writes:       map[PassId][]ResourceId{},
		MovesFrom:    map[ResourceId]ResourceId{},
		ExtDepends:   map[PassId][]ResourceId{},
		imageReads:   map[PassId][]ImageReadDecl{},
		imageWrites:  map[PassId][]ImageWriteDecl{},
		bufferReads:  map[PassId][]BufferReadDecl{},
		bufferWrites: map[PassId][]BufferWriteDecl{},
	}
	st := &resolveState{g: g}

	descs := make([]*ResourceDescriptor, len(b.passes))
	for i := range b.passes {
		rd := newResourceDescriptor()
		p := &b.passes[i]
		if p.kind == Graphics {
			p.gfx.Describe(rd)
		} else {
			p.cmp.Describe(rd)
		}
		descs[i] = rd
	}

	// Pass 1: assign ids to every definition.
	defineOrigin := map[ResourceName]PassId{}
	for i, rd := range descs {
		pid := PassId(i)
		define := func(name ResourceName, kind ResourceKind, setInfo func(*resourceInfo)) {
			if prev, ok := defineOrigin[name]; ok {
				st.fail(&CompileError{Kind: ResourceRedefined, Res: name, Pass: pid, PrevPass: prev})
				return
			}
			id := ResourceId(len(g.resources))
			info := resourceInfo{name: name, kind: kind}
			if setInfo != nil {
				setInfo(&info)
			}
			g.resources = append(g.resources, info)
			g.names[name] = id
			g.Defines[id] = pid
			g.Creates[pid] = append(g.Creates[pid], id)
			defineOrigin[name] = pid
		}
		for _, name := range slices.Sorted(maps.Keys(rd.CreateImages)) {
			ci := rd.CreateImages[name]
			define(name, KindImageCreate, func(r *resourceInfo) { r.imageCreate = ci })
		}
		for _, name := range slices.Sorted(maps.Keys(rd.CreateBuffers)) {
			bi := rd.CreateBuffers[name]
			define(name, KindBufferCreate, func(r *resourceInfo) { r.bufferCreate = bi })
		}
		for _, name := range slices.Sorted(maps.Keys(rd.CreateVirtual)) {
			define(name, KindVirtual, nil)
		}
		for _, name := range slices.Sorted(maps.Keys(rd.BackbufferGets)) {
			bi := rd.BackbufferGets[name]
			define(name, KindImageBackbufferGet, func(r *resourceInfo) { r.backbufferGet = bi })
		}
		for _, mv := range rd.Moves {
			define(mv.New, 0 /*kind assigned below, once the source is known*/, nil)
		}
	}

	// Resolve move destinations' kind/info (copied from the
	// source) and record MovesFrom (I2: the source must
	// already be defined by the time the move is processed,
	// which pass-1 guarantees since moves are processed in the
	// same left-to-right order as every other definition, and
	// define() above already rejected redefinitions).
	movedAway := map[ResourceName]PassId{} // I3 bookkeeping
	for i, rd := range descs {
		pid := PassId(i)
		for _, mv := range rd.Moves {
			newId, newOk := g.names[mv.New]
			srcId, srcOk := g.names[mv.From]
			if !newOk {
				// define() already reported ResourceRedefined
				// for mv.New; nothing further to resolve.
				continue
			}
			if !srcOk {
				st.fail(&CompileError{Kind: ReferencedInvalidResource, Res: mv.From, Pass: pid})
				continue
			}
			if prevPass, already := movedAway[mv.From]; already {
				st.fail(&CompileError{
					Kind: ResourceAlreadyMoved, Res: mv.From, Pass: pid,
					AttemptedNewName: mv.New, PrevMove: prevPass,
				})
				continue
			}
			movedAway[mv.From] = pid
			g.MovesFrom[newId] = srcId
			r := &g.resources[newId]
			r.kind = g.resources[srcId].kind
			r.imageCreate = g.resources[srcId].imageCreate
			r.bufferCreate = g.resources[srcId].bufferCreate
			r.backbufferGet = g.resources[srcId].backbufferGet
			// A move is itself a use of its source: the pass
			// performing the move cannot be scheduled before
			// whatever pass defined the source. A pass moving
			// away something it created itself is its own
			// source and needs no edge (and would otherwise
			// make Schedule loop forever on a self-dependency).
			if g.Defines[srcId] != pid {
				g.ExtDepends[pid] = appendUnique(g.ExtDepends[pid], srcId)
			}
		}
	}

	// Pass 2: resolve every read/write reference, check I4,
	// and build ExtDepends.
	for i, rd := range descs {
		pid := PassId(i)
		ownedHere := map[ResourceName]bool{}
		for _, id := range g.Creates[pid] {
			ownedHere[g.resources[id].name] = true
		}

		resolveRef := func(name ResourceName) (ResourceId, bool) {
			id, ok := g.names[name]
			if !ok {
				st.fail(&CompileError{Kind: ReferencedInvalidResource, Res: name, Pass: pid})
				return 0, false
			}
			// OQ-1: a name stops being live the moment an
			// earlier-declared pass moves it away. Per S5,
			// referencing it from a later pass is a hard
			// error; referencing it from an earlier pass (one
			// declared before the move) is fine, since at
			// that point in the declared order the name was
			// still live.
			if movedPass, moved := movedAway[name]; moved && movedPass < pid {
				st.fail(&CompileError{Kind: ReferencedInvalidResource, Res: name, Pass: pid})
				return 0, false
			}
			if !ownedHere[name] {
				g.ExtDepends[pid] = appendUnique(g.ExtDepends[pid], id)
			}
			return id, true
		}
		checkImageKind := func(id ResourceId, name ResourceName) bool {
			if !g.resources[id].kind.IsImage() {
				st.fail(&CompileError{Kind: ResourceTypeMismatch, Res: name, Pass: pid})
				return false
			}
			return true
		}
		checkBufferKind := func(id ResourceId, name ResourceName) bool {
			if !g.resources[id].kind.IsBuffer() {
				st.fail(&CompileError{Kind: ResourceTypeMismatch, Res: name, Pass: pid})
				return false
			}
			return true
		}

		for _, r := range rd.ImageReads {
			id, ok := resolveRef(r.Name)
			if !ok {
				continue
			}
			if checkImageKind(id, r.Name) {
				g.Reads[pid] = append(g.Reads[pid], id)
				g.imageReads[pid] = append(g.imageReads[pid], r)
			}
		}
		for _, w := range rd.ImageWrites {
			id, ok := resolveRef(w.Name)
			if !ok {
				continue
			}
			if checkImageKind(id, w.Name) {
				g.Writes[pid] = append(g.Writes[pid], id)
				g.imageWrites[pid] = append(g.imageWrites[pid], w)
			}
		}
		for _, r := range rd.BufferReads {
			id, ok := resolveRef(r.Name)
			if !ok {
				continue
			}
			if checkBufferKind(id, r.Name) {
				g.Reads[pid] = append(g.Reads[pid], id)
				g.bufferReads[pid] = append(g.bufferReads[pid], r)
			}
		}
		for _, w := range rd.BufferWrites {
			id, ok := resolveRef(w.Name)
			if !ok {
				continue
			}
			if checkBufferKind(id, w.Name) {
				g.Writes[pid] = append(g.Writes[pid], id)
				g.bufferWrites[pid] = append(g.bufferWrites[pid], w)
			}
		}
	}

	// I5: every target must resolve to a defined resource.
	for _, t := range b.targets {
		id, ok := g.names[t]
		if !ok {
			st.fail(&CompileError{Kind: InvalidOutputResource, Res: t})
			continue
		}
		g.targets = append(g.targets, id)
	}

	if len(st.errs) > 0 {
		return nil, errors.Join(st.errs...)
	}
	return g, nil
}

func appendUnique(s []ResourceId, id ResourceId) []ResourceId {
	for _, x := range s {
		if x == id {
			return s
		}
	}
	return append(s, id)
}
