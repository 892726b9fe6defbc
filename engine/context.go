// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package engine

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"gviegas/neo3/driver"
	"gviegas/neo3/graph"
	"gviegas/neo3/internal/alloc"
	"gviegas/neo3/internal/handle"
)

// loadDriver selects a registered driver.Driver whose Name
// contains name as a substring. An empty name selects whichever
// driver was registered first. This is the teacher's own
// driver-selection technique (previously a package-level function
// over a global default Context); here it is invoked once from
// Context.New, since the Context itself is the only thing that
// ever needs a Driver.
func loadDriver(name string) (driver.Driver, error) {
	drvs := driver.Drivers()
	if len(drvs) == 0 {
		return nil, errors.New("engine: no driver registered")
	}
	if name == "" {
		return drvs[0], nil
	}
	for _, d := range drvs {
		if strings.Contains(d.Name(), name) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("engine: no driver matching %q (have %d registered)", name, len(drvs))
}

// BufferHandle identifies a buffer created through
// Context.BufferCreate.
type BufferHandle = handle.Handle[bufferEntry]

// ImageHandle identifies an image created through
// Context.ImageCreate.
type ImageHandle = handle.Handle[imageEntry]

// SamplerHandle identifies a sampler created through
// Context.SamplerCreate.
type SamplerHandle = handle.Handle[samplerEntry]

// ShaderHandle identifies a shader module created through
// Context.ShaderCreate. It is the concrete type behind
// graph.ShaderRef.Module.
type ShaderHandle = handle.Handle[shaderEntry]

// GraphHandle identifies a compiled graph created through
// Context.GraphCreate.
type GraphHandle = handle.Handle[graphEntry]

type bufferEntry struct {
	buf   driver.Buffer
	block *alloc.Block
}

type imageEntry struct {
	img  driver.Image
	pf   driver.PixelFmt
	w, h int
}

type samplerEntry struct {
	splr driver.Sampler
}

type shaderEntry struct {
	code driver.ShaderCode
}

// graphEntry is a compiled graph: its resolved dependency graph
// and schedule (immutable once computed), the base (per-pass,
// config-independent) resources built from them, and the Store
// that persists Prepare/Execute state for it across frames.
type graphEntry struct {
	resolved *graph.ResolvedGraph
	schedule *graph.Schedule
	base     *compiledBase
	version  int
	store    *Store
}

// Context owns every backend resource and storage: there is no
// package-level mutable state anywhere in the engine package. A
// caller creates exactly one Context per device with New and tears
// it down with Release.
type Context struct {
	cfg Config
	drv driver.Driver
	gpu driver.GPU

	buffers   handle.Storage[bufferEntry]
	images    handle.Storage[imageEntry]
	samplers  handle.Storage[samplerEntry]
	shaders   handle.Storage[shaderEntry]
	materials handle.Storage[materialEntry]
	matInsts  handle.Storage[materialInstanceEntry]
	graphs    handle.Storage[graphEntry]

	alloc *alloc.Allocator
	back  *Backbuffer
	frame *frameBuilder

	refW, refH int
}

// New creates a Context. appName and appVersion are passed through
// for parity with backends that report them to the platform (the
// in-memory mock backend ignores both; no registered driver in
// this module currently requires them).
func New(appName string, appVersion uint32, cfg Config) (*Context, error) {
	if cfg.NonCoherentAtomSize <= 0 {
		cfg.NonCoherentAtomSize = dflAtomSize
	}
	if cfg.MaxAllocObjects <= 0 {
		cfg.MaxAllocObjects = dflMaxAllocObjects
	}
	if cfg.ReferenceWidth <= 0 {
		cfg.ReferenceWidth = dflRefWidth
	}
	if cfg.ReferenceHeight <= 0 {
		cfg.ReferenceHeight = dflRefHeight
	}

	drv, err := loadDriver(cfg.DriverName)
	if err != nil {
		return nil, err
	}
	gpu, err := drv.Open()
	if err != nil {
		return nil, fmt.Errorf("engine: opening driver %q: %w", drv.Name(), err)
	}
	log.Printf("engine: context opened on driver %q (app %q v%d)", drv.Name(), appName, appVersion)

	return &Context{
		cfg:   cfg,
		drv:   drv,
		gpu:   gpu,
		alloc: alloc.New(gpu, cfg.NonCoherentAtomSize, cfg.MaxAllocObjects),
		back:  newBackbuffer(),
		frame: newFrameBuilder(),
		refW:  cfg.ReferenceWidth,
		refH:  cfg.ReferenceHeight,
	}, nil
}

// SetReferenceSize updates the reference size used to resolve
// ContextRelative image sizes in frames compiled or executed
// after this call.
func (c *Context) SetReferenceSize(w, h int) {
	if w > 0 {
		c.refW = w
	}
	if h > 0 {
		c.refH = h
	}
}

// ReferenceSize returns the Context's current reference size.
func (c *Context) ReferenceSize() (w, h int) { return c.refW, c.refH }

// Backbuffer returns the Context's Backbuffer.
func (c *Context) Backbuffer() *Backbuffer { return c.back }

// Driver returns the name of the backend driver this Context is
// using.
func (c *Context) Driver() string { return c.drv.Name() }

// Release tears down every resource the Context owns and closes
// the underlying driver. The caller must not use the Context, or
// any handle obtained from it, afterward.
func (c *Context) Release() {
	for h, e := range c.graphs.All {
		e.base.release(c.gpu)
		c.graphs.Remove(h)
	}
	for h, e := range c.materials.All {
		e.table.Destroy()
		e.heap.Destroy()
		c.materials.Remove(h)
	}
	for h, e := range c.shaders.All {
		e.code.Destroy()
		c.shaders.Remove(h)
	}
	for h, e := range c.samplers.All {
		e.splr.Destroy()
		c.samplers.Remove(h)
	}
	for h, e := range c.images.All {
		e.img.Destroy()
		c.images.Remove(h)
	}
	for h, e := range c.buffers.All {
		if e.block != nil {
			c.alloc.Free(e.block)
		}
		c.buffers.Remove(h)
	}
	c.frame.releaseAll(c.gpu, c.alloc)
	c.back.release(c.gpu)
	c.drv.Close()
}

// ShaderCreate compiles shader bytecode into a driver.ShaderCode
// and returns a handle to it, for use as a graph.ShaderRef.Module.
func (c *Context) ShaderCreate(data []byte) (ShaderHandle, error) {
	code, err := c.gpu.NewShaderCode(data)
	if err != nil {
		return ShaderHandle{}, fmt.Errorf("engine: shader code: %w", err)
	}
	return c.shaders.Insert(shaderEntry{code: code}), nil
}

// ShaderDestroy releases a shader module. It must not still be
// referenced by any cached pipeline.
func (c *Context) ShaderDestroy(h ShaderHandle) {
	if e, ok := c.shaders.Remove(h); ok {
		e.code.Destroy()
	}
}

func (c *Context) shaderFunc(h ShaderHandle, entry string) (driver.ShaderFunc, error) {
	e := c.shaders.Get(h)
	if e == nil {
		return driver.ShaderFunc{}, fmt.Errorf("engine: invalid shader handle")
	}
	return driver.ShaderFunc{Code: e.code, Name: entry}, nil
}

// SamplerCreate creates a sampler.
func (c *Context) SamplerCreate(s *driver.Sampling) (SamplerHandle, error) {
	splr, err := c.gpu.NewSampler(s)
	if err != nil {
		return SamplerHandle{}, fmt.Errorf("engine: sampler: %w", err)
	}
	return c.samplers.Insert(samplerEntry{splr: splr}), nil
}

// SamplerDestroy releases a sampler.
func (c *Context) SamplerDestroy(h SamplerHandle) {
	if e, ok := c.samplers.Remove(h); ok {
		e.splr.Destroy()
	}
}

// BufferCreate creates a buffer of the given size, sub-allocated
// through the Context's allocator. visible buffers can be mapped
// from the CPU via the Bytes method of the driver.Buffer that
// Context.Buffer returns (see
// SubmitGroup.BufferCpuVisible{Upload,Read}); deviceLocal selects
// a device-local allocation class, uploaded to via
// SubmitGroup.BufferDeviceLocalUpload.
func (c *Context) BufferCreate(size int64, visible, deviceLocal bool, usg driver.Usage) (BufferHandle, error) {
	block, err := c.alloc.Alloc(size, false, deviceLocal, visible, usg)
	if err != nil {
		return BufferHandle{}, err
	}
	return c.buffers.Insert(bufferEntry{buf: block.Buffer, block: block}), nil
}

// BufferDestroy releases a buffer's allocation.
func (c *Context) BufferDestroy(h BufferHandle) {
	if e, ok := c.buffers.Remove(h); ok && e.block != nil {
		c.alloc.Free(e.block)
	}
}

// Buffer returns the backend Buffer and byte offset behind h, for
// use when recording commands or building descriptor sets. ok is
// false for an invalid handle.
func (c *Context) Buffer(h BufferHandle) (buf driver.Buffer, offset int64, ok bool) {
	e := c.buffers.Get(h)
	if e == nil {
		return nil, 0, false
	}
	return e.block.Buffer, e.block.Offset, true
}

// ImageCreate creates a 2D image directly (bypassing the frame
// graph), for long-lived resources such as loaded textures.
func (c *Context) ImageCreate(pf driver.PixelFmt, w, h, layers, levels, samples int, usg driver.Usage) (ImageHandle, error) {
	img, err := c.gpu.NewImage(pf, driver.Dim3D{Width: w, Height: h, Depth: 1}, layers, levels, samples, usg)
	if err != nil {
		return ImageHandle{}, fmt.Errorf("engine: image: %w", err)
	}
	return c.images.Insert(imageEntry{img: img, pf: pf, w: w, h: h}), nil
}

// ImageDestroy releases an image.
func (c *Context) ImageDestroy(h ImageHandle) {
	if e, ok := c.images.Remove(h); ok {
		e.img.Destroy()
	}
}

// Image returns the backend Image behind h.
func (c *Context) Image(h ImageHandle) (driver.Image, bool) {
	e := c.images.Get(h)
	if e == nil {
		return nil, false
	}
	return e.img, true
}

// ImageDims returns the pixel format and 2D extent h was created
// with.
func (c *Context) ImageDims(h ImageHandle) (pf driver.PixelFmt, width, height int, ok bool) {
	e := c.images.Get(h)
	if e == nil {
		return 0, 0, 0, false
	}
	return e.pf, e.w, e.h, true
}

// GraphCreate resolves and schedules b, builds its base (per-pass)
// resources, and returns a handle to the compiled graph. The
// resulting ResolvedGraph/Schedule are reused by every
// SubmitGroup.GraphExecute call against this handle until the
// graph is recompiled (GraphRecompile) or destroyed (GraphDestroy).
func (c *Context) GraphCreate(b *graph.Builder) (GraphHandle, error) {
	resolved, err := graph.Resolve(b)
	if err != nil {
		return GraphHandle{}, err
	}
	sched, err := graph.ScheduleGraph(resolved)
	if err != nil {
		return GraphHandle{}, err
	}
	base, err := newCompiledBase(c, resolved, sched)
	if err != nil {
		return GraphHandle{}, err
	}
	h := c.graphs.Insert(graphEntry{
		resolved: resolved,
		schedule: sched,
		base:     base,
		store:    NewStore(),
	})
	return h, nil
}

// GraphRecompile re-resolves and re-schedules a graph in place
// (e.g. after the caller's Builder construction changed, perhaps
// because a pass was enabled/disabled), discarding the previous
// base resources and bumping the graph's compilation version so
// cached per-frame resources for the old version are invalidated.
func (c *Context) GraphRecompile(h GraphHandle, b *graph.Builder) error {
	e := c.graphs.Get(h)
	if e == nil {
		return fmt.Errorf("engine: invalid graph handle")
	}
	resolved, err := graph.Resolve(b)
	if err != nil {
		return err
	}
	sched, err := graph.ScheduleGraph(resolved)
	if err != nil {
		return err
	}
	base, err := newCompiledBase(c, resolved, sched)
	if err != nil {
		return err
	}
	e.base.release(c.gpu)
	e.resolved, e.schedule, e.base = resolved, sched, base
	e.version++
	return nil
}

// GraphDestroy releases a compiled graph's base resources and
// immediately destroys the per-frame resources cached for it in
// the Context's frame builder.
func (c *Context) GraphDestroy(h GraphHandle) {
	e, ok := c.graphs.Remove(h)
	if !ok {
		return
	}
	c.frame.releaseOne(h, c.gpu, c.alloc)
	e.base.release(c.gpu)
}

func (c *Context) graphEntryOf(h GraphHandle) *graphEntry {
	return c.graphs.Get(h)
}
