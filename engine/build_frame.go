// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package engine

import (
	"fmt"

	"gviegas/neo3/driver"
	"gviegas/neo3/graph"
	"gviegas/neo3/internal/alloc"
)

// frameKey identifies one cached set of per-frame resources, per
// spec.md §4.7: a compiled graph's identity, its compilation
// version (bumped by Context.GraphRecompile) and the reference
// size in effect when it was built.
type frameKey struct {
	graph   GraphHandle
	version int
	refW    int
	refH    int
}

// frameImage is one physical image materialized for a frame.
type frameImage struct {
	img     driver.Image
	view    driver.ImageView
	sampler driver.Sampler // non-nil only for images whose derived usage has UsageSampled
	backbuf bool            // true: owned by the Backbuffer, not destroyed with the frame entry
}

// frameBufferAlloc is one physical buffer materialized for a
// frame.
type frameBufferAlloc struct {
	block *alloc.Block
}

// frameEntry is the materialized set of physical resources for one
// frameKey: one frameImage/frameBufferAlloc per root ResourceId,
// plus one driver.Framebuf per graphics pass.
type frameEntry struct {
	images    map[graph.ResourceId]*frameImage
	buffers   map[graph.ResourceId]*frameBufferAlloc
	framebufs map[graph.PassId]driver.Framebuf
	fbExtent  map[graph.PassId][2]int
}

// frameBuilder caches frameEntry values across frames, keyed by
// frameKey, and evicts stale entries (e.g. after a reference-size
// change) onto whatever deferred-destroy list the caller supplies.
type frameBuilder struct {
	cache map[GraphHandle]*frameEntry
	keys  map[GraphHandle]frameKey
}

func newFrameBuilder() *frameBuilder {
	return &frameBuilder{cache: map[GraphHandle]*frameEntry{}, keys: map[GraphHandle]frameKey{}}
}

func (fb *frameBuilder) forget(h GraphHandle) {
	delete(fb.cache, h)
	delete(fb.keys, h)
}

// releaseOne destroys h's cached frame resources, if any, and
// forgets them.
func (fb *frameBuilder) releaseOne(h GraphHandle, gpu driver.GPU, a *alloc.Allocator) {
	if e, ok := fb.cache[h]; ok {
		e.release(gpu, a)
	}
	fb.forget(h)
}

// releaseAll destroys every cached frame entry. Only
// Context.Release calls this.
func (fb *frameBuilder) releaseAll(gpu driver.GPU, a *alloc.Allocator) {
	for h, e := range fb.cache {
		e.release(gpu, a)
		delete(fb.cache, h)
		delete(fb.keys, h)
	}
}

// acquire returns the frame resources for h, building them (or
// rebuilding them, if version/reference size changed since the
// last build) as needed. stale, when non-nil, is a previous
// entry's resources that the caller must queue for destruction
// once the GPU is known to be done with them.
func (fb *frameBuilder) acquire(c *Context, h GraphHandle, ge *graphEntry) (entry *frameEntry, stale *frameEntry, err error) {
	key := frameKey{graph: h, version: ge.version, refW: c.refW, refH: c.refH}
	if prevKey, ok := fb.keys[h]; ok && prevKey == key {
		return fb.cache[h], nil, nil
	}

	e, err := buildFrameEntry(c, ge)
	if err != nil {
		return nil, nil, err
	}
	stale = fb.cache[h]
	fb.cache[h] = e
	fb.keys[h] = key
	return e, stale, nil
}

func buildFrameEntry(c *Context, ge *graphEntry) (*frameEntry, error) {
	g, s := ge.resolved, ge.schedule
	e := &frameEntry{
		images:    map[graph.ResourceId]*frameImage{},
		buffers:   map[graph.ResourceId]*frameBufferAlloc{},
		framebufs: map[graph.PassId]driver.Framebuf{},
		fbExtent:  map[graph.PassId][2]int{},
	}
	usage := graph.DeriveUsage(g, s)

	for bi := range s.Batches {
		batch := &s.Batches[bi]
		for _, id := range batch.ToCreate {
			if err := createFrameResource(c, g, usage, e, id); err != nil {
				e.release(c.gpu, c.alloc)
				return nil, err
			}
		}
		for _, id := range batch.ToCopy {
			root, ok := g.MovedFromRoot(id)
			if !ok {
				continue
			}
			if fi, ok := e.images[root]; ok {
				e.images[id] = fi
			} else if fb, ok := e.buffers[root]; ok {
				e.buffers[id] = fb
			}
		}
		for _, pid := range batch.Passes {
			if g.PassKindOf(pid) != graph.Graphics {
				continue
			}
			pb := ge.base.passes[pid]
			if pb == nil {
				continue
			}
			if err := buildFramebuffer(c, g, e, pid, pb); err != nil {
				e.release(c.gpu, c.alloc)
				return nil, err
			}
		}
	}
	return e, nil
}

func createFrameResource(c *Context, g *graph.ResolvedGraph, usage map[graph.ResourceId]*graph.ResourceUsage, e *frameEntry, id graph.ResourceId) error {
	switch g.ResourceKindOf(id) {
	case graph.KindImageCreate:
		info := g.ImageCreateInfoOf(id)
		w, h := info.Size.Resolve(c.refW, c.refH)
		u := usage[id]
		var flags driver.Usage
		if u != nil {
			flags = imageUsageOf(u.Image)
		}
		img, err := c.gpu.NewImage(pixelFmtOf(info.Format), driver.Dim3D{Width: w, Height: h, Depth: 1}, 1, 1, 1, flags)
		if err != nil {
			return fmt.Errorf("engine: image %q: %w", g.ResourceName(id), err)
		}
		view, err := img.NewView(driver.IView2D, 0, 1, 0, 1)
		if err != nil {
			img.Destroy()
			return fmt.Errorf("engine: image %q view: %w", g.ResourceName(id), err)
		}
		fi := &frameImage{img: img, view: view}
		if u != nil && u.Image&graph.UsageSampled != 0 {
			splr, err := c.gpu.NewSampler(&driver.Sampling{
				Min: driver.FLinear, Mag: driver.FLinear, Mipmap: driver.FLinear,
				AddrU: driver.AClamp, AddrV: driver.AClamp, AddrW: driver.AClamp,
				MaxLOD: 1000,
			})
			if err != nil {
				view.Destroy()
				img.Destroy()
				return fmt.Errorf("engine: image %q sampler: %w", g.ResourceName(id), err)
			}
			fi.sampler = splr
		}
		e.images[id] = fi

	case graph.KindImageBackbufferGet:
		info := g.BackbufferGetInfoOf(id)
		u := usage[id]
		var flags driver.Usage
		if u != nil {
			flags = imageUsageOf(u.Image)
		}
		be, err := c.back.get(c.gpu, info.BackbufferName, pixelFmtOf(info.Format), flags, c.refW, c.refH)
		if err != nil {
			return err
		}
		e.images[id] = &frameImage{img: be.img, view: be.view, backbuf: true}

	case graph.KindBufferCreate:
		info := g.BufferCreateInfoOf(id)
		u := usage[id]
		var flags driver.Usage
		if u != nil {
			flags = bufferUsageOf(u.Buffer)
		}
		// Per-frame buffers are cached and reused across every
		// frame executed against this graph (see frameBuilder),
		// so they must not be classified Transient: that class is
		// destroyed wholesale by Allocator.FreeTransient at the
		// end of every SubmitGroup.Wait, which would tear a
		// cached buffer down after its very first use.
		visible := info.Storage == graph.HostVisible
		block, err := c.alloc.Alloc(info.Size, false, info.Storage == graph.DeviceLocal, visible, flags)
		if err != nil {
			return fmt.Errorf("engine: buffer %q: %w", g.ResourceName(id), err)
		}
		e.buffers[id] = &frameBufferAlloc{block: block}
	}
	return nil
}

// buildFramebuffer builds the framebuffer for one graphics pass's
// batch, from its base's attachment order (write-color then
// write-depth-stencil, in ascending binding order, matching
// buildRenderPass). Extent comes from the first attachment, per
// spec.md §4.7.
func buildFramebuffer(c *Context, g *graph.ResolvedGraph, e *frameEntry, pid graph.PassId, pb *passBase) error {
	if pb.renderPass == nil {
		return nil
	}
	var views []driver.ImageView
	var w, h int
	for i, id := range pb.attachOrder {
		fi := e.images[id]
		if fi == nil {
			return fmt.Errorf("engine: pass %d: attachment resource %q not materialized", pid, g.ResourceName(id))
		}
		views = append(views, fi.view)
		if i == 0 {
			if g.ResourceKindOf(id) == graph.KindImageBackbufferGet {
				w, h = c.refW, c.refH
			} else {
				w, h = g.ImageCreateInfoOf(id).Size.Resolve(c.refW, c.refH)
			}
		}
	}
	fb, err := pb.renderPass.NewFB(views, w, h, 1)
	if err != nil {
		return fmt.Errorf("engine: pass %d framebuffer: %w", pid, err)
	}
	e.framebufs[pid] = fb
	e.fbExtent[pid] = [2]int{w, h}
	return nil
}

// writeDescriptors populates a pass's descriptor set (heap copy 0
// of its own descHeap) for the current batch, from its recorded
// bindings and this frame's materialized resources. It must run
// after every resource the pass reads or storage-writes has been
// materialized (i.e. no earlier than the pass's own batch).
func writeDescriptors(g *graph.ResolvedGraph, e *frameEntry, pb *passBase) error {
	if pb.descHeap == nil {
		return nil
	}
	for _, b := range pb.bindings {
		if fi, ok := e.images[b.resource]; ok {
			if b.sampler {
				if fi.sampler == nil {
					return fmt.Errorf("engine: resource %q has no sampler to bind at %d", g.ResourceName(b.resource), b.nr)
				}
				pb.descHeap.SetSampler(0, b.nr, 0, []driver.Sampler{fi.sampler})
			} else {
				pb.descHeap.SetImage(0, b.nr, 0, []driver.ImageView{fi.view})
			}
			continue
		}
		if buf, ok := e.buffers[b.resource]; ok {
			pb.descHeap.SetBuffer(0, b.nr, 0, []driver.Buffer{buf.block.Buffer}, []int64{buf.block.Offset}, []int64{buf.block.Size()})
			continue
		}
		return fmt.Errorf("engine: resource %q not materialized for descriptor write", g.ResourceName(b.resource))
	}
	return nil
}

// deferredFree adapts an Allocator.Free call to driver.Destroyer,
// so a Block can sit on a SubmitGroup's deferred-destroy list
// alongside actual backend objects.
type deferredFree struct {
	a     *alloc.Allocator
	block *alloc.Block
}

func (d deferredFree) Destroy() { d.a.Free(d.block) }

// destroyers flattens every backend object this frameEntry owns
// (excluding Backbuffer-owned images, which outlive it) into a
// single deduped list, for either synchronous release or queueing
// onto a SubmitGroup's deferred-destroy list.
//
// batch.ToDestroy from the schedule is intentionally not consulted
// here: a frameEntry is cached and reused across every frame
// executed against its graph (see frameBuilder.acquire), so a
// resource's last-use batch within one schedule does not mean it
// should be torn down mid-lifetime — only a stale frameEntry
// (reference size or compilation version changed) or an explicit
// GraphDestroy/Context.Release ever tears these down.
func (e *frameEntry) destroyers(a *alloc.Allocator) []driver.Destroyer {
	var out []driver.Destroyer
	for _, fb := range e.framebufs {
		out = append(out, fb)
	}
	// Moved-into (to_copy) ids alias their root's *frameImage
	// pointer, so destroying by id would double-destroy; dedupe
	// by pointer identity instead.
	seenImg := map[*frameImage]bool{}
	for _, fi := range e.images {
		if fi.backbuf || seenImg[fi] {
			continue
		}
		seenImg[fi] = true
		if fi.sampler != nil {
			out = append(out, fi.sampler)
		}
		out = append(out, fi.view, fi.img)
	}
	seenBuf := map[*frameBufferAlloc]bool{}
	for _, fbuf := range e.buffers {
		if seenBuf[fbuf] {
			continue
		}
		seenBuf[fbuf] = true
		out = append(out, deferredFree{a: a, block: fbuf.block})
	}
	return out
}

func (e *frameEntry) release(gpu driver.GPU, a *alloc.Allocator) {
	for _, d := range e.destroyers(a) {
		d.Destroy()
	}
}
