// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package engine

import (
	"fmt"

	"gviegas/neo3/driver"
	"gviegas/neo3/internal/handle"
)

// MaterialHandle identifies a material layout created through
// MaterialCreate.
type MaterialHandle = handle.Handle[materialEntry]

// MaterialInstanceHandle identifies a pool-allocated descriptor
// set bound to a Material.
type MaterialInstanceHandle = handle.Handle[materialInstanceEntry]

// materialEntry is a descriptor-set layout plus the pool of heap
// copies instances are allocated from. Nr in descs gives each
// descriptor's binding number, matching graph.MaterialLayoutRef's
// contract that a PipelineInfo.Materials entry names a concrete
// layout owned by package engine.
type materialEntry struct {
	descs []driver.Descriptor
	heap  driver.DescHeap
	table driver.DescTable

	maxInstances int
	free         []int // copy indices available for reuse, LIFO
	next         int   // next never-used copy index
}

// materialInstanceEntry binds one heap copy of a Material's
// descriptor set.
type materialInstanceEntry struct {
	material MaterialHandle
	copy     int
}

// MaterialCreate creates a new material: a descriptor-set layout
// (descs) pool-allocated for up to maxInstances simultaneous
// MaterialInstances.
func (c *Context) MaterialCreate(descs []driver.Descriptor, maxInstances int) (MaterialHandle, error) {
	if maxInstances <= 0 {
		maxInstances = dflMaxMatInstances
	}
	heap, err := c.gpu.NewDescHeap(descs)
	if err != nil {
		return MaterialHandle{}, fmt.Errorf("engine: material descriptor heap: %w", err)
	}
	if err := heap.New(maxInstances); err != nil {
		heap.Destroy()
		return MaterialHandle{}, fmt.Errorf("engine: material descriptor heap: %w", err)
	}
	table, err := c.gpu.NewDescTable([]driver.DescHeap{heap})
	if err != nil {
		heap.Destroy()
		return MaterialHandle{}, fmt.Errorf("engine: material descriptor table: %w", err)
	}
	h := c.materials.Insert(materialEntry{
		descs:        append([]driver.Descriptor(nil), descs...),
		heap:         heap,
		table:        table,
		maxInstances: maxInstances,
	})
	return h, nil
}

// MaterialDestroy releases a material and every instance still
// allocated from it. Instances allocated from it become invalid;
// callers must not use their handles afterward.
func (c *Context) MaterialDestroy(h MaterialHandle) {
	e, ok := c.materials.Remove(h)
	if !ok {
		return
	}
	e.table.Destroy()
	e.heap.Destroy()
}

// MaterialLayout exposes the concrete layout of a material, to be
// embedded in a graph.PipelineInfo.Materials entry.
func (c *Context) MaterialLayout(h MaterialHandle) (driver.DescTable, bool) {
	e := c.materials.Get(h)
	if e == nil {
		return nil, false
	}
	return e.table, true
}

// MaterialInstanceCreate allocates a descriptor set from m's pool.
func (c *Context) MaterialInstanceCreate(m MaterialHandle) (MaterialInstanceHandle, error) {
	e := c.materials.Get(m)
	if e == nil {
		return MaterialInstanceHandle{}, fmt.Errorf("engine: invalid material handle")
	}
	var cpy int
	if n := len(e.free); n > 0 {
		cpy = e.free[n-1]
		e.free = e.free[:n-1]
	} else {
		if e.next >= e.maxInstances {
			return MaterialInstanceHandle{}, fmt.Errorf("engine: material instance pool exhausted (max %d)", e.maxInstances)
		}
		cpy = e.next
		e.next++
	}
	return c.matInsts.Insert(materialInstanceEntry{material: m, copy: cpy}), nil
}

// MaterialInstanceDestroy returns inst's heap copy to its
// material's pool for reuse.
func (c *Context) MaterialInstanceDestroy(inst MaterialInstanceHandle) {
	ie, ok := c.matInsts.Remove(inst)
	if !ok {
		return
	}
	if me := c.materials.Get(ie.material); me != nil {
		me.free = append(me.free, ie.copy)
	}
}

// MaterialInstanceSetBuffer updates a DBuffer/DConstant binding of
// inst's descriptor set.
func (c *Context) MaterialInstanceSetBuffer(inst MaterialInstanceHandle, nr, start int, bufs []driver.Buffer, off, size []int64) error {
	ie := c.matInsts.Get(inst)
	if ie == nil {
		return fmt.Errorf("engine: invalid material instance handle")
	}
	me := c.materials.Get(ie.material)
	if me == nil {
		return fmt.Errorf("engine: material instance refers to a destroyed material")
	}
	me.heap.SetBuffer(ie.copy, nr, start, bufs, off, size)
	return nil
}

// MaterialInstanceSetImage updates a DImage/DTexture binding of
// inst's descriptor set.
func (c *Context) MaterialInstanceSetImage(inst MaterialInstanceHandle, nr, start int, views []driver.ImageView) error {
	ie := c.matInsts.Get(inst)
	if ie == nil {
		return fmt.Errorf("engine: invalid material instance handle")
	}
	me := c.materials.Get(ie.material)
	if me == nil {
		return fmt.Errorf("engine: material instance refers to a destroyed material")
	}
	me.heap.SetImage(ie.copy, nr, start, views)
	return nil
}

// MaterialInstanceSetSampler updates a DSampler binding of inst's
// descriptor set.
func (c *Context) MaterialInstanceSetSampler(inst MaterialInstanceHandle, nr, start int, splrs []driver.Sampler) error {
	ie := c.matInsts.Get(inst)
	if ie == nil {
		return fmt.Errorf("engine: invalid material instance handle")
	}
	me := c.materials.Get(ie.material)
	if me == nil {
		return fmt.Errorf("engine: material instance refers to a destroyed material")
	}
	me.heap.SetSampler(ie.copy, nr, start, splrs)
	return nil
}

// heapCopyOf returns the heap-copy index a MaterialInstance was
// allocated at, for use in CmdBuffer.SetDescTableGraph/Comp's
// heapCopy argument.
func (c *Context) heapCopyOf(inst MaterialInstanceHandle) (int, bool) {
	ie := c.matInsts.Get(inst)
	if ie == nil {
		return 0, false
	}
	return ie.copy, true
}
