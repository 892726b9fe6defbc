// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package engine

import (
	"fmt"

	"gviegas/neo3/driver"
	"gviegas/neo3/graph"
)

// passBinding records where one resource's descriptor lives in a
// pass's own descriptor heap, so the per-frame resource builder
// can write the correct backend object into the correct slot.
type passBinding struct {
	resource graph.ResourceId
	nr       int
	sampler  bool // true: this entry is the accompanying sampler binding, not the image/buffer itself
}

// passBase is the compiled, config-independent half of one pass:
// its render pass object (graphics only) and its own descriptor
// heap/table (set 0), plus a cache of the pipelines built for it
// so far, keyed by whatever comparable Config value Execute
// dispatched.
type passBase struct {
	id   graph.PassId
	kind graph.PassKind

	renderPass  driver.RenderPass // nil for compute passes
	attachOrder []graph.ResourceId

	descHeap  driver.DescHeap
	descTable driver.DescTable
	bindings  []passBinding

	pipelines map[any]*compiledPipeline
}

// compiledPipeline is a fully built graphics or compute pipeline
// plus the descriptor table it was built against (the pass's own
// set possibly concatenated with material sets).
type compiledPipeline struct {
	pipeline driver.Pipeline
	table    driver.DescTable
}

// compiledBase holds every pass's passBase for one compiled graph.
type compiledBase struct {
	passes map[graph.PassId]*passBase
}

// newCompiledBase builds the base resources for every pass that
// survived scheduling (pruned passes, per spec.md's S3, never
// reach here: they do not appear in any batch).
func newCompiledBase(c *Context, g *graph.ResolvedGraph, s *graph.Schedule) (*compiledBase, error) {
	cb := &compiledBase{passes: map[graph.PassId]*passBase{}}
	for _, batch := range s.Batches {
		for _, pid := range batch.Passes {
			pb, err := buildPassBase(c, g, pid)
			if err != nil {
				cb.release(c.gpu)
				return nil, fmt.Errorf("engine: pass %d: %w", pid, err)
			}
			cb.passes[pid] = pb
		}
	}
	return cb, nil
}

func buildPassBase(c *Context, g *graph.ResolvedGraph, pid graph.PassId) (*passBase, error) {
	pb := &passBase{id: pid, kind: g.PassKindOf(pid), pipelines: map[any]*compiledPipeline{}}

	if pb.kind == graph.Graphics {
		if err := buildRenderPass(c, g, pid, pb); err != nil {
			return nil, err
		}
	}
	if err := buildPassDescSet(c, g, pid, pb); err != nil {
		if pb.renderPass != nil {
			pb.renderPass.Destroy()
		}
		return nil, err
	}
	return pb, nil
}

// buildRenderPass builds the single-subpass render pass for a
// graphics pass, per spec.md §4.6: one attachment per write-color
// or write-depth-stencil resource, in ascending binding order;
// load op is Clear the first time this batch's pass is also the
// resource's defining pass (a true first use), Load otherwise;
// store op is always Store; the render pass carries exactly one
// external dependency into its only subpass, realized here as
// Subpass.Wait (this backend has no explicit Attachment layout or
// dependency fields: layout transitions are issued explicitly by
// the per-frame resource builder via CmdBuffer.Transition before
// BeginPass, and Wait is the only dependency knob Subpass exposes).
func buildRenderPass(c *Context, g *graph.ResolvedGraph, pid graph.PassId, pb *passBase) error {
	writes := g.ImageWrites(pid)
	ids := imageWriteIDs(g, pid)

	type colorAtt struct {
		id  graph.ResourceId
		nr  int
		idx int
	}
	var color []colorAtt
	var ds *colorAtt

	for i, w := range writes {
		switch w.Kind {
		case graph.ImageWriteColor:
			color = append(color, colorAtt{id: ids[i], nr: w.Binding})
		case graph.ImageWriteDepthStencil:
			a := colorAtt{id: ids[i], nr: w.Binding}
			ds = &a
		}
	}
	// Ascending binding order.
	for i := 0; i < len(color); i++ {
		for j := i + 1; j < len(color); j++ {
			if color[j].nr < color[i].nr {
				color[i], color[j] = color[j], color[i]
			}
		}
	}

	var atts []driver.Attachment
	var subpassColor []int
	dsIdx := -1

	firstUse := func(id graph.ResourceId) bool {
		root, ok := g.MovedFromRoot(id)
		return ok && root == id && g.Defines[id] == pid
	}

	formatOf := func(id graph.ResourceId) driver.PixelFmt {
		switch g.ResourceKindOf(id) {
		case graph.KindImageBackbufferGet:
			return pixelFmtOf(g.BackbufferGetInfoOf(id).Format)
		default:
			return pixelFmtOf(g.ImageCreateInfoOf(id).Format)
		}
	}

	for i := range color {
		idx := len(atts)
		subpassColor = append(subpassColor, idx)
		pb.attachOrder = append(pb.attachOrder, color[i].id)
		load := driver.LLoad
		if firstUse(color[i].id) {
			load = driver.LClear
		}
		atts = append(atts, driver.Attachment{
			Format:  formatOf(color[i].id),
			Samples: 1,
			Load:    [2]driver.LoadOp{load, driver.LDontCare},
			Store:   [2]driver.StoreOp{driver.SStore, driver.SDontCare},
		})
	}
	if ds != nil {
		dsIdx = len(atts)
		pb.attachOrder = append(pb.attachOrder, ds.id)
		load := driver.LLoad
		if firstUse(ds.id) {
			load = driver.LClear
		}
		atts = append(atts, driver.Attachment{
			Format:  formatOf(ds.id),
			Samples: 1,
			Load:    [2]driver.LoadOp{load, driver.LDontCare},
			Store:   [2]driver.StoreOp{driver.SStore, driver.SDontCare},
		})
	}

	if len(atts) == 0 {
		// A graphics pass with no color/depth-stencil writes is
		// degenerate (it can still read and dispatch draws with
		// no attachments bound is not meaningful); buildPassBase
		// is only ever reached for passes present in a batch,
		// which always write something they were scheduled for.
		return fmt.Errorf("graphics pass has no color or depth-stencil writes")
	}

	rp, err := c.gpu.NewRenderPass(atts, []driver.Subpass{{Color: subpassColor, DS: dsIdx, Wait: true}})
	if err != nil {
		return fmt.Errorf("render pass: %w", err)
	}
	pb.renderPass = rp
	return nil
}

// buildPassDescSet builds the pass's own descriptor heap (set 0):
// one entry per declared read (images/buffers) plus an optional
// sampler entry for each Color read that requested one, plus one
// entry per storage write (images/buffers); depth-stencil reads
// contribute no descriptor, per spec.md §4.7 (and buildRenderPass
// attaches only depth-stencil writes, so they get no attachment
// either). Pool size is 1 (the pass's own set is not materialized
// per MaterialInstance; it changes every frame, so the per-frame
// resource builder rewrites it in place each batch).
func buildPassDescSet(c *Context, g *graph.ResolvedGraph, pid graph.PassId, pb *passBase) error {
	var descs []driver.Descriptor
	stage := driver.SVertex | driver.SFragment
	if pb.kind == graph.Compute {
		stage = driver.SCompute
	}

	imgReadIDs := imageReadIDs(g, pid)
	for i, r := range g.ImageReads(pid) {
		id := imgReadIDs[i]
		switch r.Kind {
		case graph.ImageReadColor:
			descs = append(descs, driver.Descriptor{Type: driver.DTexture, Stages: stage, Nr: r.Binding, Len: 1})
			pb.bindings = append(pb.bindings, passBinding{resource: id, nr: r.Binding})
			if r.HasSamplerBind {
				descs = append(descs, driver.Descriptor{Type: driver.DSampler, Stages: stage, Nr: r.SamplerBind, Len: 1})
				pb.bindings = append(pb.bindings, passBinding{resource: id, nr: r.SamplerBind, sampler: true})
			}
		case graph.ImageReadStorage:
			descs = append(descs, driver.Descriptor{Type: driver.DImage, Stages: stage, Nr: r.Binding, Len: 1})
			pb.bindings = append(pb.bindings, passBinding{resource: id, nr: r.Binding})
		case graph.ImageReadDepthStencil:
			// no descriptor (and no attachment, see above).
		}
	}
	imgWriteIDs := imageWriteIDs(g, pid)
	for i, w := range g.ImageWrites(pid) {
		if w.Kind != graph.ImageWriteStorage {
			continue
		}
		id := imgWriteIDs[i]
		descs = append(descs, driver.Descriptor{Type: driver.DImage, Stages: stage, Nr: w.Binding, Len: 1})
		pb.bindings = append(pb.bindings, passBinding{resource: id, nr: w.Binding})
	}
	bufReadIDs := bufferReadIDs(g, pid)
	for i, r := range g.BufferReads(pid) {
		id := bufReadIDs[i]
		typ := driver.DBuffer
		if r.Kind == graph.BufferReadUniform || r.Kind == graph.BufferReadUniformTexel {
			typ = driver.DConstant
		}
		descs = append(descs, driver.Descriptor{Type: typ, Stages: stage, Nr: r.Binding, Len: 1})
		pb.bindings = append(pb.bindings, passBinding{resource: id, nr: r.Binding})
	}
	bufWriteIDs := bufferWriteIDs(g, pid)
	for i, w := range g.BufferWrites(pid) {
		id := bufWriteIDs[i]
		descs = append(descs, driver.Descriptor{Type: driver.DBuffer, Stages: stage, Nr: w.Binding, Len: 1})
		pb.bindings = append(pb.bindings, passBinding{resource: id, nr: w.Binding})
	}

	if len(descs) == 0 {
		return nil
	}
	heap, err := c.gpu.NewDescHeap(descs)
	if err != nil {
		return fmt.Errorf("pass descriptor heap: %w", err)
	}
	if err := heap.New(1); err != nil {
		heap.Destroy()
		return fmt.Errorf("pass descriptor heap: %w", err)
	}
	table, err := c.gpu.NewDescTable([]driver.DescHeap{heap})
	if err != nil {
		heap.Destroy()
		return fmt.Errorf("pass descriptor table: %w", err)
	}
	pb.descHeap, pb.descTable = heap, table
	return nil
}

// pipelineFor resolves (building and caching on first use) the
// pipeline for cfg. For a graphics pass, configure calls the
// pass's own GraphicsPassImpl.Configure; for a compute pass,
// configure is nil and cfg must be a ComputeConfig (compute passes
// have no Configure step, per graph.ComputePassImpl's doc: the
// pipeline only ever depends on the shader).
func (pb *passBase) pipelineFor(c *Context, cfg any, configure func(any) (graph.PipelineInfo, error)) (*compiledPipeline, error) {
	if cp, ok := pb.pipelines[cfg]; ok {
		return cp, nil
	}

	var cp *compiledPipeline
	var err error
	if pb.kind == graph.Graphics {
		cp, err = pb.buildGraphicsPipeline(c, cfg, configure)
	} else {
		cp, err = pb.buildComputePipeline(c, cfg)
	}
	if err != nil {
		return nil, err
	}
	pb.pipelines[cfg] = cp
	return cp, nil
}

func (pb *passBase) buildGraphicsPipeline(c *Context, cfg any, configure func(any) (graph.PipelineInfo, error)) (*compiledPipeline, error) {
	info, err := configure(cfg)
	if err != nil {
		return nil, fmt.Errorf("configure: %w", err)
	}
	table, err := tableForMaterials(c, pb, info.Materials)
	if err != nil {
		return nil, err
	}

	vf, err := c.shaderFunc(info.VertShader.Module.(ShaderHandle), info.VertShader.EntryPoint)
	if err != nil {
		return nil, fmt.Errorf("vertex shader: %w", err)
	}
	ff, err := c.shaderFunc(info.FragShader.Module.(ShaderHandle), info.FragShader.EntryPoint)
	if err != nil {
		return nil, fmt.Errorf("fragment shader: %w", err)
	}

	input := make([]driver.VertexIn, len(info.VertexAttribs))
	for i, a := range info.VertexAttribs {
		input[i] = driver.VertexIn{Format: vertexFmtOf(a.Format), Stride: a.Stride, Nr: a.Location}
	}
	blend := driver.BlendState{IndependentBlend: len(info.Blend) > 1}
	for _, b := range info.Blend {
		mask := driver.ColorMask(b.WriteMask)
		if mask == 0 {
			mask = driver.CAll
		}
		blend.Color = append(blend.Color, driver.ColorBlend{Blend: b.Enabled, WriteMask: mask})
	}

	state := &driver.GraphState{
		VertFunc: vf,
		FragFunc: ff,
		Desc:     table,
		Input:    input,
		Topology: driver.TTriangle,
		Samples:  1,
		DS: driver.DSState{
			DepthTest:  info.DepthStencil.Enabled,
			DepthWrite: info.DepthStencil.WriteDepth,
			DepthCmp:   driver.CLessEqual,
		},
		Blend:   blend,
		Pass:    pb.renderPass,
		Subpass: 0,
	}
	pl, err := c.gpu.NewPipeline(state)
	if err != nil {
		return nil, fmt.Errorf("graphics pipeline: %w", err)
	}
	return &compiledPipeline{pipeline: pl, table: table}, nil
}

// ComputeConfig is the cfg value a compute pass's Execute method
// passes to Dispatcher.WithConfig: the fixed shader a compute pass
// dispatches with, per graph.ComputePassImpl's doc that compute
// passes have no Configure step.
type ComputeConfig struct {
	Shader ShaderHandle
	Entry  string
}

func (pb *passBase) buildComputePipeline(c *Context, cfg any) (*compiledPipeline, error) {
	cc, ok := cfg.(ComputeConfig)
	if !ok {
		return nil, fmt.Errorf("compute pass dispatched with a %T, want engine.ComputeConfig", cfg)
	}
	fn, err := c.shaderFunc(cc.Shader, cc.Entry)
	if err != nil {
		return nil, fmt.Errorf("compute shader: %w", err)
	}
	table, err := tableForMaterials(c, pb, nil)
	if err != nil {
		return nil, err
	}
	pl, err := c.gpu.NewPipeline(&driver.CompState{Func: fn, Desc: table})
	if err != nil {
		return nil, fmt.Errorf("compute pipeline: %w", err)
	}
	return &compiledPipeline{pipeline: pl, table: table}, nil
}

// tableForMaterials builds the descriptor table for a pipeline:
// the pass's own heap (set 0, may be absent if the pass declares
// no reads/storage-writes) plus every material heap named in mats,
// ordered by ascending set index.
func tableForMaterials(c *Context, pb *passBase, mats map[int]graph.MaterialLayoutRef) (driver.DescTable, error) {
	if len(mats) == 0 {
		if pb.descTable != nil {
			return pb.descTable, nil
		}
		// A pass with no descriptors still needs an (empty)
		// table if its pipeline state requires one; reuse what
		// buildPassDescSet produced (nil here means none).
		return nil, nil
	}

	keys := make([]int, 0, len(mats))
	for k := range mats {
		keys = append(keys, k)
	}
	for i := 0; i < len(keys); i++ {
		for j := i + 1; j < len(keys); j++ {
			if keys[j] < keys[i] {
				keys[i], keys[j] = keys[j], keys[i]
			}
		}
	}

	var heaps []driver.DescHeap
	if pb.descHeap != nil {
		heaps = append(heaps, pb.descHeap)
	}
	for _, k := range keys {
		h, ok := mats[k].Layout.(MaterialHandle)
		if !ok {
			return nil, fmt.Errorf("material set %d: layout is a %T, want engine.MaterialHandle", k, mats[k].Layout)
		}
		me := c.materials.Get(h)
		if me == nil {
			return nil, fmt.Errorf("material set %d: invalid material handle", k)
		}
		heaps = append(heaps, me.heap)
	}
	table, err := c.gpu.NewDescTable(heaps)
	if err != nil {
		return nil, fmt.Errorf("descriptor table: %w", err)
	}
	return table, nil
}

func (cb *compiledBase) release(gpu driver.GPU) {
	for _, pb := range cb.passes {
		for _, cp := range pb.pipelines {
			cp.pipeline.Destroy()
			if cp.table != nil && cp.table != pb.descTable {
				cp.table.Destroy()
			}
		}
		if pb.descTable != nil {
			pb.descTable.Destroy()
		}
		if pb.descHeap != nil {
			pb.descHeap.Destroy()
		}
		if pb.renderPass != nil {
			pb.renderPass.Destroy()
		}
	}
}
