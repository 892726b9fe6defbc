// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package mock implements an in-memory driver.Driver with no
// real GPU calls, for use in this module's own tests. It performs
// just enough bookkeeping to make object lifetimes and basic
// state-machine misuse (End without Begin, committing a CmdBuffer
// that was never ended) detectable, but never renders or
// dispatches anything.
package mock

import (
	"errors"
	"sync"

	"gviegas/neo3/driver"
)

func init() { driver.Register(&drv) }

var drv Driver

// Driver is the mock driver.Driver implementation. There is
// exactly one instance, registered under the name "mock".
type Driver struct {
	mu   sync.Mutex
	open *GPU
}

// Name implements driver.Driver.
func (d *Driver) Name() string { return "mock" }

// Open implements driver.Driver.
func (d *Driver) Open() (driver.GPU, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open == nil {
		d.open = &GPU{drv: d}
	}
	return d.open, nil
}

// Close implements driver.Driver.
func (d *Driver) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open = nil
}

// GPU is the mock driver.GPU implementation.
type GPU struct {
	drv *Driver
}

// Driver implements driver.GPU.
func (g *GPU) Driver() driver.Driver { return g.drv }

// Commit implements driver.GPU. It does not execute any commands;
// it simply reports success for every committed CmdBuffer once
// End was called on it.
func (g *GPU) Commit(cb []driver.CmdBuffer, ch chan<- error) {
	var err error
	for _, c := range cb {
		mc, ok := c.(*CmdBuffer)
		if !ok {
			err = errors.New("mock: foreign CmdBuffer")
			break
		}
		if !mc.ended {
			err = errors.New("mock: Commit called with a CmdBuffer that was never End'd")
			break
		}
		mc.committed = true
	}
	if ch != nil {
		ch <- err
	}
}

// NewCmdBuffer implements driver.GPU.
func (g *GPU) NewCmdBuffer() (driver.CmdBuffer, error) { return &CmdBuffer{}, nil }

// NewRenderPass implements driver.GPU.
func (g *GPU) NewRenderPass(att []driver.Attachment, sub []driver.Subpass) (driver.RenderPass, error) {
	a := make([]driver.Attachment, len(att))
	copy(a, att)
	s := make([]driver.Subpass, len(sub))
	copy(s, sub)
	return &RenderPass{att: a, sub: s}, nil
}

// NewShaderCode implements driver.GPU.
func (g *GPU) NewShaderCode(data []byte) (driver.ShaderCode, error) {
	b := make([]byte, len(data))
	copy(b, data)
	return &ShaderCode{data: b}, nil
}

// NewDescHeap implements driver.GPU.
func (g *GPU) NewDescHeap(ds []driver.Descriptor) (driver.DescHeap, error) {
	d := make([]driver.Descriptor, len(ds))
	copy(d, ds)
	return &DescHeap{descs: d}, nil
}

// NewDescTable implements driver.GPU.
func (g *GPU) NewDescTable(dh []driver.DescHeap) (driver.DescTable, error) {
	h := make([]driver.DescHeap, len(dh))
	copy(h, dh)
	return &DescTable{heaps: h}, nil
}

// NewPipeline implements driver.GPU.
func (g *GPU) NewPipeline(state any) (driver.Pipeline, error) {
	switch state.(type) {
	case *driver.GraphState, *driver.CompState:
		return &Pipeline{}, nil
	default:
		return nil, errors.New("mock: NewPipeline called with neither *GraphState nor *CompState")
	}
}

// NewBuffer implements driver.GPU.
func (g *GPU) NewBuffer(size int64, visible bool, usg driver.Usage) (driver.Buffer, error) {
	if size <= 0 {
		return nil, errors.New("mock: NewBuffer called with non-positive size")
	}
	return &Buffer{cap: size, visible: visible, usg: usg, data: make([]byte, size)}, nil
}

// NewImage implements driver.GPU.
func (g *GPU) NewImage(pf driver.PixelFmt, size driver.Dim3D, layers, levels, samples int, usg driver.Usage) (driver.Image, error) {
	if layers < 1 || levels < 1 || samples < 1 {
		return nil, errors.New("mock: NewImage called with a non-positive layers/levels/samples count")
	}
	return &Image{pf: pf, size: size, layers: layers, levels: levels, samples: samples, usg: usg}, nil
}

// NewSampler implements driver.GPU.
func (g *GPU) NewSampler(spln *driver.Sampling) (driver.Sampler, error) {
	s := *spln
	return &Sampler{state: s}, nil
}

// Limits implements driver.GPU, returning generous limits with no
// particular device in mind.
func (g *GPU) Limits() driver.Limits {
	return driver.Limits{
		MaxImage1D:        16384,
		MaxImage2D:        16384,
		MaxImageCube:      16384,
		MaxImage3D:        2048,
		MaxLayers:         2048,
		MaxDescHeaps:      32,
		MaxDBuffer:        1 << 16,
		MaxDImage:         1 << 16,
		MaxDConstant:      1 << 16,
		MaxDTexture:       1 << 16,
		MaxDSampler:       1 << 16,
		MaxDBufferRange:   1 << 30,
		MaxDConstantRange: 1 << 16,
		MaxColorTargets:   8,
		MaxFBSize:         [2]int{16384, 16384},
		MaxFBLayers:       2048,
		MaxPointSize:      256,
		MaxViewports:      16,
		MaxVertexIn:       32,
		MaxFragmentIn:     32,
		MaxDispatch:       [3]int{65535, 65535, 65535},
	}
}

// Buffer is the mock driver.Buffer implementation: a plain byte
// slice standing in for device memory.
type Buffer struct {
	cap       int64
	visible   bool
	usg       driver.Usage
	data      []byte
	destroyed bool
}

func (b *Buffer) Destroy()      { b.destroyed = true }
func (b *Buffer) Visible() bool { return b.visible }
func (b *Buffer) Cap() int64    { return b.cap }

// Bytes implements driver.Buffer. It returns nil for non-visible
// buffers, matching the interface's documented contract.
func (b *Buffer) Bytes() []byte {
	if !b.visible {
		return nil
	}
	return b.data
}

// Image is the mock driver.Image implementation.
type Image struct {
	pf        driver.PixelFmt
	size      driver.Dim3D
	layers    int
	levels    int
	samples   int
	usg       driver.Usage
	destroyed bool
}

func (i *Image) Destroy() { i.destroyed = true }

// NewView implements driver.Image.
func (i *Image) NewView(typ driver.ViewType, layer, layers, level, levels int) (driver.ImageView, error) {
	if layer < 0 || layers < 1 || layer+layers > i.layers {
		return nil, errors.New("mock: NewView layer range out of bounds")
	}
	if level < 0 || levels < 1 || level+levels > i.levels {
		return nil, errors.New("mock: NewView level range out of bounds")
	}
	return &ImageView{img: i, typ: typ}, nil
}

// ImageView is the mock driver.ImageView implementation.
type ImageView struct {
	img       *Image
	typ       driver.ViewType
	destroyed bool
}

func (v *ImageView) Destroy() { v.destroyed = true }

// Sampler is the mock driver.Sampler implementation.
type Sampler struct {
	state     driver.Sampling
	destroyed bool
}

func (s *Sampler) Destroy() { s.destroyed = true }

// ShaderCode is the mock driver.ShaderCode implementation.
type ShaderCode struct {
	data      []byte
	destroyed bool
}

func (s *ShaderCode) Destroy() { s.destroyed = true }

// Pipeline is the mock driver.Pipeline implementation. It carries
// no state: the mock backend does not rasterize or dispatch
// anything, so there is nothing to configure.
type Pipeline struct{ destroyed bool }

func (p *Pipeline) Destroy() { p.destroyed = true }

// DescHeap is the mock driver.DescHeap implementation.
type DescHeap struct {
	descs     []driver.Descriptor
	count     int
	destroyed bool
}

func (h *DescHeap) Destroy() { h.destroyed = true }

// New implements driver.DescHeap.
func (h *DescHeap) New(n int) error {
	if n < 0 {
		return errors.New("mock: DescHeap.New called with negative count")
	}
	h.count = n
	return nil
}

// Count implements driver.DescHeap.
func (h *DescHeap) Count() int { return h.count }

// SetBuffer, SetImage and SetSampler implement driver.DescHeap.
// The mock backend does not read these bindings back anywhere,
// so it ignores them; the heap copy index is not checked.
func (h *DescHeap) SetBuffer(cpy, nr, start int, buf []driver.Buffer, off, size []int64) {
	_ = cpy
}
func (h *DescHeap) SetImage(cpy, nr, start int, iv []driver.ImageView) { _ = cpy }
func (h *DescHeap) SetSampler(cpy, nr, start int, splr []driver.Sampler) { _ = cpy }

// DescTable is the mock driver.DescTable implementation.
type DescTable struct {
	heaps     []driver.DescHeap
	destroyed bool
}

func (t *DescTable) Destroy() { t.destroyed = true }

// RenderPass is the mock driver.RenderPass implementation.
type RenderPass struct {
	att       []driver.Attachment
	sub       []driver.Subpass
	destroyed bool
}

func (p *RenderPass) Destroy() { p.destroyed = true }

// NewFB implements driver.RenderPass.
func (p *RenderPass) NewFB(iv []driver.ImageView, width, height, layers int) (driver.Framebuf, error) {
	if len(iv) != len(p.att) {
		return nil, errors.New("mock: NewFB called with a view count that does not match the render pass's attachment count")
	}
	if width < 1 || height < 1 || layers < 1 {
		return nil, errors.New("mock: NewFB called with a non-positive extent")
	}
	return &Framebuf{}, nil
}

// Framebuf is the mock driver.Framebuf implementation.
type Framebuf struct{ destroyed bool }

func (f *Framebuf) Destroy() { f.destroyed = true }

// CmdBuffer is the mock driver.CmdBuffer implementation. It
// reports End without a matching Begin, and GPU.Commit reports a
// CmdBuffer that was never ended. The Begin*/End* block flags are
// recorded but not checked: nested Begin* calls and commands
// recorded outside a block are not detected. It does not
// interpret or store the commands themselves.
type CmdBuffer struct {
	recording bool
	inPass    bool
	inWork    bool
	inBlit    bool
	ended     bool
	committed bool
	destroyed bool
}

func (c *CmdBuffer) Destroy() { c.destroyed = true }

func (c *CmdBuffer) Begin() error {
	c.recording = true
	c.ended = false
	c.committed = false
	return nil
}

func (c *CmdBuffer) BeginPass(pass driver.RenderPass, fb driver.Framebuf, clear []driver.ClearValue) {
	c.inPass = true
}
func (c *CmdBuffer) NextSubpass() {}
func (c *CmdBuffer) EndPass()     { c.inPass = false }

func (c *CmdBuffer) BeginWork(wait bool) { c.inWork = true }
func (c *CmdBuffer) EndWork()            { c.inWork = false }

func (c *CmdBuffer) BeginBlit(wait bool) { c.inBlit = true }
func (c *CmdBuffer) EndBlit()            { c.inBlit = false }

func (c *CmdBuffer) SetPipeline(pl driver.Pipeline)                              {}
func (c *CmdBuffer) SetViewport(vp []driver.Viewport)                            {}
func (c *CmdBuffer) SetScissor(sciss []driver.Scissor)                           {}
func (c *CmdBuffer) SetBlendColor(r, g, b, a float32)                            {}
func (c *CmdBuffer) SetStencilRef(value uint32)                                  {}
func (c *CmdBuffer) SetVertexBuf(start int, buf []driver.Buffer, off []int64)    {}
func (c *CmdBuffer) SetIndexBuf(format driver.IndexFmt, buf driver.Buffer, off int64) {}
func (c *CmdBuffer) SetDescTableGraph(table driver.DescTable, start int, heapCopy []int) {}
func (c *CmdBuffer) SetDescTableComp(table driver.DescTable, start int, heapCopy []int)  {}

func (c *CmdBuffer) Draw(vertCount, instCount, baseVert, baseInst int)                  {}
func (c *CmdBuffer) DrawIndexed(idxCount, instCount, baseIdx, vertOff, baseInst int)    {}
func (c *CmdBuffer) Dispatch(grpCountX, grpCountY, grpCountZ int)                       {}
func (c *CmdBuffer) CopyBuffer(param *driver.BufferCopy)                               {}
func (c *CmdBuffer) CopyImage(param *driver.ImageCopy)                                 {}
func (c *CmdBuffer) CopyBufToImg(param *driver.BufImgCopy)                             {}
func (c *CmdBuffer) CopyImgToBuf(param *driver.BufImgCopy)                             {}
func (c *CmdBuffer) Fill(buf driver.Buffer, off int64, value byte, size int64)          {}
func (c *CmdBuffer) Barrier(b []driver.Barrier)                                        {}
func (c *CmdBuffer) Transition(t []driver.Transition)                                  {}

func (c *CmdBuffer) End() error {
	if !c.recording {
		return errors.New("mock: End called without a matching Begin")
	}
	c.recording = false
	c.ended = true
	return nil
}

func (c *CmdBuffer) Reset() error {
	c.recording = false
	c.inPass = false
	c.inWork = false
	c.inBlit = false
	c.ended = false
	c.committed = false
	return nil
}
