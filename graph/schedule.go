// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package graph

import "sort"

// Batch is a set of passes with no direct dependency on one
// another, plus the physical-resource lifetime events that occur
// at this point in the schedule. Passes in a Batch may be
// recorded and submitted without inter-pass synchronization;
// Batch i is guaranteed complete before Batch i+1 begins (see
// DESIGN.md's two-CmdBuffer note for how that ordering is
// enforced on the GPU timeline).
type Batch struct {
	// Passes is the set of passes that run in this batch. The
	// slice is sorted by PassId only to make the schedule
	// reproducible; it carries no ordering guarantee between the
	// passes themselves.
	Passes []PassId
	// ToCreate are resources first defined in this batch by an
	// actual creation (image-create, buffer-create or
	// backbuffer-get): the per-frame resource builder must
	// allocate or acquire them here.
	ToCreate []ResourceId
	// ToCopy are resources first defined in this batch by a
	// move: nothing is allocated, the destination aliases
	// whatever physical resource MovedFromRoot resolves to.
	ToCopy []ResourceId
	// ToDestroy are physical resources whose last use falls in
	// this batch and that are not exempt (see Schedule.Keep and
	// the backbuffer-get carve-out in assignDestroyPoints).
	ToDestroy []ResourceId
}

// Schedule is the ordered, batched execution plan produced by
// ScheduleGraph.
type Schedule struct {
	Batches []Batch
	// Keep is the set of resource ids exempt from destruction:
	// every graph target, plus every resource reached by walking
	// MovesFrom backward from a target (the root originals
	// backing an output must survive as long as the output
	// does).
	Keep map[ResourceId]bool
}

// ScheduleGraph computes a Schedule for g, given the targets
// recorded on the Builder it was resolved from.
//
// Batch formation walks the dependency graph backward from the
// targets: a batch is the set of passes that define every
// currently-needed resource, and the next (earlier) batch is
// seeded by those passes' external dependencies. The walk is
// built output-to-input and then reversed, with each pass kept
// only in the earliest (input-to-output) batch it lands in, per
// spec.md §4.4.
func ScheduleGraph(g *ResolvedGraph) (*Schedule, error) {
	keep := map[ResourceId]bool{}
	for _, t := range g.targets {
		for id := t; ; {
			if keep[id] {
				break
			}
			keep[id] = true
			src, ok := g.MovesFrom[id]
			if !ok {
				break
			}
			id = src
		}
	}

	needed := map[ResourceId]bool{}
	for _, t := range g.targets {
		needed[t] = true
	}

	var rawBatches [][]PassId
	maxBatches := len(g.resources) + g.NumPasses() + 1
	for len(needed) > 0 {
		if len(rawBatches) > maxBatches {
			return nil, &CompileError{Kind: InvalidGraph}
		}
		passSet := map[PassId]bool{}
		for r := range needed {
			if pid, ok := g.Defines[r]; ok {
				passSet[pid] = true
			}
		}
		passes := make([]PassId, 0, len(passSet))
		for pid := range passSet {
			passes = append(passes, pid)
		}
		sort.Slice(passes, func(i, j int) bool { return passes[i] < passes[j] })
		rawBatches = append(rawBatches, passes)

		next := map[ResourceId]bool{}
		for _, pid := range passes {
			for _, r := range g.ExtDepends[pid] {
				next[r] = true
			}
		}
		needed = next
	}

	// Reverse (rawBatches was built output-to-input) and
	// de-duplicate: a pass appears only in its first
	// (earliest-executing) batch.
	n := len(rawBatches)
	assigned := map[PassId]bool{}
	batches := make([]Batch, 0, n)
	for i := n - 1; i >= 0; i-- {
		var kept []PassId
		for _, pid := range rawBatches[i] {
			if assigned[pid] {
				continue
			}
			assigned[pid] = true
			kept = append(kept, pid)
		}
		if len(kept) == 0 {
			continue
		}
		batches = append(batches, Batch{Passes: kept})
	}

	for bi := range batches {
		for _, pid := range batches[bi].Passes {
			for _, r := range g.Creates[pid] {
				if g.resources[r].kind == KindVirtual {
					continue
				}
				if _, moved := g.MovesFrom[r]; moved {
					batches[bi].ToCopy = append(batches[bi].ToCopy, r)
				} else {
					batches[bi].ToCreate = append(batches[bi].ToCreate, r)
				}
			}
		}
	}

	assignDestroyPoints(g, batches, keep)

	return &Schedule{Batches: batches, Keep: keep}, nil
}

// assignDestroyPoints computes, for every physical resource not
// exempt from destruction, the batch containing its last use, and
// appends it to that batch's ToDestroy. A chain of moves shares
// one physical resource, so last-use is tracked per root (via
// MovedFromRoot), not per individual ResourceId.
func assignDestroyPoints(g *ResolvedGraph, batches []Batch, keep map[ResourceId]bool) {
	root := func(id ResourceId) (ResourceId, bool) {
		if g.resources[id].kind == KindVirtual {
			return 0, false
		}
		r, ok := g.MovedFromRoot(id)
		return r, ok
	}

	lastUse := map[ResourceId]int{}
	touch := func(bi int, id ResourceId) {
		if r, ok := root(id); ok {
			lastUse[r] = bi
		}
	}
	for bi, b := range batches {
		for _, pid := range b.Passes {
			for _, r := range g.Creates[pid] {
				touch(bi, r)
			}
			for _, r := range g.Reads[pid] {
				touch(bi, r)
			}
			for _, r := range g.Writes[pid] {
				touch(bi, r)
			}
		}
	}

	roots := make([]ResourceId, 0, len(lastUse))
	for r := range lastUse {
		roots = append(roots, r)
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })

	for _, r := range roots {
		if keep[r] || g.resources[r].kind == KindImageBackbufferGet {
			continue
		}
		bi := lastUse[r]
		batches[bi].ToDestroy = append(batches[bi].ToDestroy, r)
	}
}
