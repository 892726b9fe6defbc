// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package engine

import (
	"fmt"

	"gviegas/neo3/driver"
	"gviegas/neo3/graph"
	"gviegas/neo3/wsi"
)

// submitState is a SubmitGroup's position in its Idle/Recording/
// Pending state machine.
type submitState int

const (
	groupIdle submitState = iota
	groupRecording
	groupPending
)

// pendingPresent is a Swapchain.Present call deferred until
// Submit, since Present must be recorded after every command that
// writes the image (see driver.Swapchain's doc).
type pendingPresent struct {
	swapchain driver.Swapchain
	index     int
}

// SubmitGroup drives one in-flight unit of GPU work: recording,
// submission and the wait that reclaims its resources, per
// spec.md §4.9. This backend exposes no explicit semaphore or
// per-queue submit primitive (GPU.Commit takes a single ordered
// batch of command buffers and orders them by each buffer's own
// BeginWork/BeginBlit wait flag and each render pass's Subpass.Wait
// flag), so the three typed command pools of the design become two
// driver.CmdBuffers here: one for graph execution (render passes
// and compute dispatches, interleaved in schedule order) and one
// for transfer work (uploads, blits), committed together
// with the transfer buffer first so uploads are visible to
// whatever the same submit group draws or dispatches with them.
//
// A SubmitGroup is not safe for concurrent use; see SPEC_FULL.md's
// concurrency notes for the intended double/triple-buffering
// pattern of alternating between a small number of SubmitGroups.
type SubmitGroup struct {
	c *Context

	state submitState

	mainCB     driver.CmdBuffer
	transferCB driver.CmdBuffer

	destroy  []driver.Destroyer
	presents []pendingPresent
	resultCh chan error
}

// NewSubmitGroup creates a SubmitGroup bound to c.
func NewSubmitGroup(c *Context) (*SubmitGroup, error) {
	main, err := c.gpu.NewCmdBuffer()
	if err != nil {
		return nil, fmt.Errorf("engine: submit group: %w", err)
	}
	xfer, err := c.gpu.NewCmdBuffer()
	if err != nil {
		main.Destroy()
		return nil, fmt.Errorf("engine: submit group: %w", err)
	}
	return &SubmitGroup{c: c, mainCB: main, transferCB: xfer, resultCh: make(chan error, 1)}, nil
}

// record transitions Idle to Recording, beginning both command
// buffers, idempotently.
func (g *SubmitGroup) record() error {
	switch g.state {
	case groupRecording:
		return nil
	case groupPending:
		return fmt.Errorf("engine: submit group: Wait has not been called since the last Submit")
	}
	if err := g.mainCB.Begin(); err != nil {
		return fmt.Errorf("engine: submit group: %w", err)
	}
	if err := g.transferCB.Begin(); err != nil {
		return fmt.Errorf("engine: submit group: %w", err)
	}
	g.transferCB.BeginBlit(true)
	g.state = groupRecording
	return nil
}

// deferDestroy queues d to be destroyed once this group's Wait
// confirms the GPU is done with the work recorded so far. It is
// also called by Backbuffer.destroyNames and internally for stale
// per-frame resources.
func (g *SubmitGroup) deferDestroy(d driver.Destroyer) {
	if d != nil {
		g.destroy = append(g.destroy, d)
	}
}

func (g *SubmitGroup) deferDestroyFrame(e *frameEntry) {
	if e == nil {
		return
	}
	for _, d := range e.destroyers(g.c.alloc) {
		g.deferDestroy(d)
	}
}

var clearZero = [4]float32{}

func clearValuesFor(pb *passBase) []driver.ClearValue {
	cv := make([]driver.ClearValue, len(pb.attachOrder))
	for i := range cv {
		cv[i] = driver.ClearValue{Color: clearZero, Depth: 1}
	}
	return cv
}

// GraphExecute records every batch of h's compiled schedule onto
// the group's graph command buffer: graphics passes between
// BeginPass/EndPass, compute passes between BeginWork/EndWork, in
// the order batches were scheduled. Per-frame resources are
// acquired (building or reusing them, per frameBuilder.acquire)
// before any pass is recorded, and each pass's descriptor set is
// rewritten from this frame's resources immediately before the
// pass runs.
func (g *SubmitGroup) GraphExecute(h GraphHandle) error {
	if err := g.record(); err != nil {
		return err
	}
	c := g.c
	ge := c.graphEntryOf(h)
	if ge == nil {
		return fmt.Errorf("engine: invalid graph handle")
	}

	fe, stale, err := c.frame.acquire(c, h, ge)
	if err != nil {
		return fmt.Errorf("engine: graph execute: %w", err)
	}
	g.deferDestroyFrame(stale)

	for bi := range ge.schedule.Batches {
		batch := &ge.schedule.Batches[bi]
		for _, pid := range batch.Passes {
			pb := ge.base.passes[pid]
			if pb == nil {
				continue
			}
			if err := writeDescriptors(ge.resolved, fe, pb); err != nil {
				return fmt.Errorf("engine: graph execute: pass %d: %w", pid, err)
			}
			switch ge.resolved.PassKindOf(pid) {
			case graph.Graphics:
				impl := ge.resolved.GraphicsPass(pid)
				impl.Prepare(ge.store)
				fb, ok := fe.framebufs[pid]
				if !ok {
					return fmt.Errorf("engine: graph execute: pass %d: no framebuffer built", pid)
				}
				ext := fe.fbExtent[pid]
				g.mainCB.BeginPass(pb.renderPass, fb, clearValuesFor(pb))
				g.mainCB.SetViewport([]driver.Viewport{{Width: float32(ext[0]), Height: float32(ext[1]), Zfar: 1}})
				g.mainCB.SetScissor([]driver.Scissor{{Width: ext[0], Height: ext[1]}})
				d := newDispatcher(c, pb, g.mainCB, impl.Configure)
				impl.Execute(ge.store, d)
				g.mainCB.EndPass()
			case graph.Compute:
				impl := ge.resolved.ComputePass(pid)
				impl.Prepare(ge.store)
				g.mainCB.BeginWork(true)
				d := newDispatcher(c, pb, g.mainCB, nil)
				impl.Execute(ge.store, d)
				g.mainCB.EndWork()
			}
		}
	}
	return nil
}

// DisplaySetupSwapchain creates (or recreates, if one already
// exists under name) a swapchain for win and binds name in the
// Context's Backbuffer to its current image, so a frame graph's
// backbuffer-get for name resolves to it. The backend GPU must
// implement driver.Presenter.
func (g *SubmitGroup) DisplaySetupSwapchain(win wsi.Window, imageCount int, name string) (driver.Swapchain, error) {
	pres, ok := g.c.gpu.(driver.Presenter)
	if !ok {
		return nil, driver.ErrCannotPresent
	}
	sc, err := pres.NewSwapchain(win, imageCount)
	if err != nil {
		return nil, fmt.Errorf("engine: swapchain: %w", err)
	}
	views := sc.Views()
	if len(views) > 0 {
		g.c.back.bindSwapchainView(name, views[0], sc.Format())
	}
	return sc, nil
}

// DisplayPresent acquires the next writable swapchain image,
// rebinds it under name in the Backbuffer, and queues the
// corresponding Present call to be recorded at Submit time (after
// every other command in this group, since Present must follow
// whatever writes the image). It must be called once per group,
// before GraphExecute records the pass that targets name.
func (g *SubmitGroup) DisplayPresent(sc driver.Swapchain, name string) error {
	if err := g.record(); err != nil {
		return err
	}
	idx, err := sc.Next(g.mainCB)
	if err != nil {
		return fmt.Errorf("engine: display present: %w", err)
	}
	views := sc.Views()
	if idx < 0 || idx >= len(views) {
		return fmt.Errorf("engine: display present: swapchain returned out-of-range index %d", idx)
	}
	g.c.back.bindSwapchainView(name, views[idx], sc.Format())
	g.presents = append(g.presents, pendingPresent{swapchain: sc, index: idx})
	return nil
}

// ClearImage clears h to value. This backend has no standalone
// image-clear command, so it is realized as a one-subpass render
// pass over h with a Clear load-op, recorded on the graph command
// buffer and torn down once this group's Wait confirms it ran.
func (g *SubmitGroup) ClearImage(h ImageHandle, value driver.ClearValue) error {
	if err := g.record(); err != nil {
		return err
	}
	c := g.c
	img, ok := c.Image(h)
	if !ok {
		return fmt.Errorf("engine: clear image: invalid image handle")
	}
	pf, w, ht, _ := c.ImageDims(h)
	view, err := img.NewView(driver.IView2D, 0, 1, 0, 1)
	if err != nil {
		return fmt.Errorf("engine: clear image: %w", err)
	}
	rp, err := c.gpu.NewRenderPass(
		[]driver.Attachment{{Format: pf, Samples: 1, Load: [2]driver.LoadOp{driver.LClear, driver.LDontCare}, Store: [2]driver.StoreOp{driver.SStore, driver.SDontCare}}},
		[]driver.Subpass{{Color: []int{0}, DS: -1, Wait: true}},
	)
	if err != nil {
		view.Destroy()
		return fmt.Errorf("engine: clear image: %w", err)
	}
	fb, err := rp.NewFB([]driver.ImageView{view}, w, ht, 1)
	if err != nil {
		rp.Destroy()
		view.Destroy()
		return fmt.Errorf("engine: clear image: %w", err)
	}
	g.mainCB.BeginPass(rp, fb, []driver.ClearValue{value})
	g.mainCB.EndPass()
	g.deferDestroy(fb)
	g.deferDestroy(rp)
	g.deferDestroy(view)
	return nil
}

// BlitImage copies from src to dst via the transfer command
// buffer.
func (g *SubmitGroup) BlitImage(param *driver.ImageCopy) error {
	if err := g.record(); err != nil {
		return err
	}
	g.transferCB.CopyImage(param)
	return nil
}

// ImageUploadData uploads data to h through a transient, host-
// visible staging buffer. The staging buffer's pool is reclaimed
// wholesale by Allocator.FreeTransient once this group's Wait
// completes (see build_frame.go's note on why per-frame graph
// buffers are never allocated Transient), so it is not added to
// the deferred-destroy list individually.
func (g *SubmitGroup) ImageUploadData(h ImageHandle, layer, level int, size driver.Dim3D, rowStride int64, data []byte) error {
	if err := g.record(); err != nil {
		return err
	}
	img, ok := g.c.Image(h)
	if !ok {
		return fmt.Errorf("engine: image upload: invalid image handle")
	}
	block, err := g.c.alloc.Alloc(int64(len(data)), true, false, true, driver.UGeneric)
	if err != nil {
		return fmt.Errorf("engine: image upload: staging buffer: %w", err)
	}
	copy(block.Buffer.Bytes()[block.Offset:], data)
	g.transferCB.CopyBufToImg(&driver.BufImgCopy{
		Buf:    block.Buffer,
		BufOff: block.Offset,
		Stride: [2]int64{rowStride, int64(size.Height)},
		Img:    img,
		Layer:  layer,
		Level:  level,
		Size:   size,
	})
	return nil
}

// BufferCpuVisibleUpload writes data directly into h's mapped
// range at off. h must have been created with BufferCreate's
// visible parameter set.
func (g *SubmitGroup) BufferCpuVisibleUpload(h BufferHandle, off int64, data []byte) error {
	buf, bufOff, ok := g.c.Buffer(h)
	if !ok {
		return fmt.Errorf("engine: buffer upload: invalid buffer handle")
	}
	b := buf.Bytes()
	if b == nil {
		return fmt.Errorf("engine: buffer upload: buffer is not host visible")
	}
	copy(b[bufOff+off:], data)
	return nil
}

// BufferCpuVisibleRead returns a copy of h's mapped range
// [off:off+size]. h must have been created with BufferCreate's
// visible parameter set.
func (g *SubmitGroup) BufferCpuVisibleRead(h BufferHandle, off, size int64) ([]byte, error) {
	buf, bufOff, ok := g.c.Buffer(h)
	if !ok {
		return nil, fmt.Errorf("engine: buffer read: invalid buffer handle")
	}
	b := buf.Bytes()
	if b == nil {
		return nil, fmt.Errorf("engine: buffer read: buffer is not host visible")
	}
	out := make([]byte, size)
	copy(out, b[bufOff+off:bufOff+off+size])
	return out, nil
}

// BufferDeviceLocalUpload uploads data to h (a device-local
// buffer) through a transient staging buffer and a transfer-queue
// copy, per spec.md §4.9's upload recipe.
func (g *SubmitGroup) BufferDeviceLocalUpload(h BufferHandle, off int64, data []byte) error {
	if err := g.record(); err != nil {
		return err
	}
	dst, dstOff, ok := g.c.Buffer(h)
	if !ok {
		return fmt.Errorf("engine: buffer upload: invalid buffer handle")
	}
	block, err := g.c.alloc.Alloc(int64(len(data)), true, false, true, driver.UGeneric)
	if err != nil {
		return fmt.Errorf("engine: buffer upload: staging buffer: %w", err)
	}
	copy(block.Buffer.Bytes()[block.Offset:], data)
	g.transferCB.CopyBuffer(&driver.BufferCopy{
		From:    block.Buffer,
		FromOff: block.Offset,
		To:      dst,
		ToOff:   dstOff + off,
		Size:    int64(len(data)),
	})
	return nil
}

// BufferDestroy queues h for destruction once this group's Wait
// completes, instead of freeing it immediately, so in-flight
// commands that reference it remain valid.
func (g *SubmitGroup) BufferDestroy(h BufferHandle) {
	if e, ok := g.c.buffers.Remove(h); ok && e.block != nil {
		g.deferDestroy(deferredFree{a: g.c.alloc, block: e.block})
	}
}

// ImageDestroy queues h for deferred destruction.
func (g *SubmitGroup) ImageDestroy(h ImageHandle) {
	if e, ok := g.c.images.Remove(h); ok {
		g.deferDestroy(e.img)
	}
}

// BackbufferDestroy queues every named backbuffer image for
// deferred destruction.
func (g *SubmitGroup) BackbufferDestroy(names ...string) {
	g.c.back.destroyNames(g, names)
}

// Submit ends recording and commits both command buffers,
// transitioning Recording to Pending. The transfer buffer is
// committed first, so any upload or blit recorded this
// group is visible to whatever GraphExecute call follows it in
// program order.
func (g *SubmitGroup) Submit() error {
	if g.state != groupRecording {
		return fmt.Errorf("engine: submit group: Submit called while not Recording")
	}
	g.transferCB.EndBlit()
	if err := g.transferCB.End(); err != nil {
		return fmt.Errorf("engine: submit group: %w", err)
	}
	if err := g.mainCB.End(); err != nil {
		return fmt.Errorf("engine: submit group: %w", err)
	}
	for _, p := range g.presents {
		if err := p.swapchain.Present(p.index, g.mainCB); err != nil {
			return fmt.Errorf("engine: submit group: present: %w", err)
		}
	}
	g.c.gpu.Commit([]driver.CmdBuffer{g.transferCB, g.mainCB}, g.resultCh)
	g.state = groupPending
	return nil
}

// Wait blocks until the committed batch completes, then drains
// the deferred-destroy list and resets both command buffers,
// transitioning Pending to Idle.
func (g *SubmitGroup) Wait() error {
	if g.state != groupPending {
		return fmt.Errorf("engine: submit group: Wait called while not Pending")
	}
	err := <-g.resultCh
	for i := len(g.destroy) - 1; i >= 0; i-- {
		g.destroy[i].Destroy()
	}
	g.destroy = g.destroy[:0]
	g.presents = g.presents[:0]
	g.c.alloc.FreeTransient()
	if rerr := g.mainCB.Reset(); rerr != nil && err == nil {
		err = fmt.Errorf("engine: submit group: %w", rerr)
	}
	if rerr := g.transferCB.Reset(); rerr != nil && err == nil {
		err = fmt.Errorf("engine: submit group: %w", rerr)
	}
	g.state = groupIdle
	return err
}

// Release destroys the group's command buffers. The group must be
// Idle (i.e. Wait must have returned, if anything was ever
// submitted).
func (g *SubmitGroup) Release() error {
	if g.state != groupIdle {
		return fmt.Errorf("engine: submit group: Release called while not Idle")
	}
	g.mainCB.Destroy()
	g.transferCB.Destroy()
	return nil
}
