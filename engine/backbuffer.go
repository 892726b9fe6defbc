// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package engine

import (
	"fmt"

	"gviegas/neo3/driver"
)

// backbufferEntry is one Backbuffer-bound image. owned is false
// for a name bound to a swapchain view (see bindSwapchainView):
// the swapchain, not the Backbuffer, owns that image, so img is
// nil and destroyNames/release must not destroy it.
type backbufferEntry struct {
	img   driver.Image
	view  driver.ImageView
	fmt   driver.PixelFmt
	usage driver.Usage
	owned bool
}

// Backbuffer holds the name-addressed images that a frame graph's
// KindImageBackbufferGet resources bind to. It survives across
// every graph and every frame executed against a Context: a
// backbuffer image is created the first time a per-frame resource
// builder resolves a get for that name, recreated with the union
// of usages when a later get needs a usage bit it lacks, and is
// destroyed by an explicit call to SubmitGroup.BackbufferDestroy
// or by Context.Release.
type Backbuffer struct {
	entries map[string]*backbufferEntry
}

func newBackbuffer() *Backbuffer {
	return &Backbuffer{entries: map[string]*backbufferEntry{}}
}

// get returns the image bound to name, creating it on first use.
// usage accumulates across every graph that has ever referenced
// this name: a backbuffer image's declared usage only ever grows.
func (bb *Backbuffer) get(gpu driver.GPU, name string, pf driver.PixelFmt, usage driver.Usage, w, h int) (*backbufferEntry, error) {
	if e, ok := bb.entries[name]; ok {
		if e.fmt != pf {
			return nil, fmt.Errorf("engine: backbuffer %q already bound with a different format", name)
		}
		if !e.owned {
			// Swapchain-bound: format and usage are whatever the
			// swapchain was created with, not ours to change.
			return e, nil
		}
		if usage&^e.usage != 0 {
			// A previously unseen usage bit is needed: recreate
			// with the union, since driver.Image usage is fixed
			// at creation time.
			merged := e.usage | usage
			img, err := gpu.NewImage(pf, driver.Dim3D{Width: w, Height: h, Depth: 1}, 1, 1, 1, merged)
			if err != nil {
				return nil, fmt.Errorf("engine: backbuffer %q: %w", name, err)
			}
			view, err := img.NewView(driver.IView2D, 0, 1, 0, 1)
			if err != nil {
				img.Destroy()
				return nil, fmt.Errorf("engine: backbuffer %q: %w", name, err)
			}
			e.view.Destroy()
			e.img.Destroy()
			e.img, e.view, e.usage = img, view, merged
		}
		return e, nil
	}

	img, err := gpu.NewImage(pf, driver.Dim3D{Width: w, Height: h, Depth: 1}, 1, 1, 1, usage)
	if err != nil {
		return nil, fmt.Errorf("engine: backbuffer %q: %w", name, err)
	}
	view, err := img.NewView(driver.IView2D, 0, 1, 0, 1)
	if err != nil {
		img.Destroy()
		return nil, fmt.Errorf("engine: backbuffer %q: %w", name, err)
	}
	e := &backbufferEntry{img: img, view: view, fmt: pf, usage: usage, owned: true}
	bb.entries[name] = e
	return e, nil
}

// bindSwapchainView rebinds name to view, the image view a
// Swapchain.Next call returned for the current frame. name is
// never GPU-allocated by the Backbuffer in this case: the
// swapchain owns the image for its whole lifetime.
func (bb *Backbuffer) bindSwapchainView(name string, view driver.ImageView, pf driver.PixelFmt) {
	bb.entries[name] = &backbufferEntry{view: view, fmt: pf, owned: false}
}

// destroyNames queues the named images onto group's deferred-
// destroy list and forgets them. Names that were never bound are
// silently ignored.
func (bb *Backbuffer) destroyNames(group *SubmitGroup, names []string) {
	for _, name := range names {
		e, ok := bb.entries[name]
		if !ok {
			continue
		}
		if e.owned {
			group.deferDestroy(e.view)
			group.deferDestroy(e.img)
		}
		delete(bb.entries, name)
	}
}

// release destroys every backbuffer image immediately. Only
// Context.Release calls this: by that point no SubmitGroup can be
// waited on to defer through, so destruction happens synchronously.
func (bb *Backbuffer) release(gpu driver.GPU) {
	for name, e := range bb.entries {
		if e.owned {
			e.view.Destroy()
			e.img.Destroy()
		}
		delete(bb.entries, name)
	}
}

// names reports every name currently bound, for diagnostics.
func (bb *Backbuffer) names() []string {
	out := make([]string, 0, len(bb.entries))
	for n := range bb.entries {
		out = append(out, n)
	}
	return out
}
