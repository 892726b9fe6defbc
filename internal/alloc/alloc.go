// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package alloc implements a sub-allocator over driver.Buffer
// backing storage.
//
// The driver package's GPU.NewBuffer/NewImage already perform one
// allocation per call; what this package adds is packing many
// small, short-lived requests (uniform updates, staging copies,
// storage scratch space) into a handful of larger Buffer objects
// instead of issuing one driver-level allocation per request.
// Images are not sub-allocated: the driver abstraction has no
// notion of byte-addressable image storage to pack into, so
// per-frame image creation goes straight through GPU.NewImage.
package alloc

import (
	"errors"

	"gviegas/neo3/driver"
	"gviegas/neo3/internal/bitvec"
)

// Class selects the allocation strategy for a request.
type Class int

const (
	// Dynamic is the general-purpose case: packed into a shared
	// pool sized for repeated sub-allocation.
	Dynamic Class = iota
	// Transient allocations live no longer than one submit
	// group. They are packed into pools separate from Dynamic's
	// so a submit group can reclaim its whole pool's free space
	// at once instead of tracking individual frees.
	Transient
	// Dedicated allocations get their own driver.Buffer, with no
	// pooling. Chosen for large, long-lived, device-local
	// requests where packing would waste more than it saves.
	Dedicated
)

// dedicatedThreshold is the size (in bytes) at or above which a
// device-local request is classified Dedicated rather than
// Dynamic, per spec.md §4.8.
const dedicatedThreshold = 2 << 20 // 2 MiB

// ClassOf applies the classification heuristic: Transient
// requests are always pooled separately regardless of size;
// large device-local requests are Dedicated; everything else is
// Dynamic.
func ClassOf(size int64, transient, deviceLocal bool) Class {
	switch {
	case transient:
		return Transient
	case size >= dedicatedThreshold && deviceLocal:
		return Dedicated
	default:
		return Dynamic
	}
}

// Sentinel allocation failures.
var (
	// ErrOutOfMemory is returned when the backend fails to
	// create a new pool or dedicated buffer.
	ErrOutOfMemory = errors.New("alloc: out of memory")
	// ErrNoSuitableMemoryType is returned when a request's
	// combination of Class and visibility cannot be satisfied
	// (e.g. a Dedicated, device-local request also marked host
	// visible: the two are mutually exclusive under this
	// classification).
	ErrNoSuitableMemoryType = errors.New("alloc: no suitable memory type")
	// ErrTooManyObjects is returned when an allocation would
	// exceed the configured object budget (the number of
	// distinct driver.Buffer objects created).
	ErrTooManyObjects = errors.New("alloc: too many objects")
)

// defaultPoolSize is the size of a freshly created Dynamic or
// Transient pool buffer, used whenever no existing pool has room.
// A request larger than this still gets its own pool sized to fit
// it exactly.
const defaultPoolSize = 4 << 20 // 4 MiB

// pool is one backing driver.Buffer sub-allocated in units of
// atom bytes, tracked by a bit per unit (set = in use).
type pool struct {
	buf  driver.Buffer
	free bitvec.V[uint32]
	unit int64
	usg  driver.Usage
}

func newPool(gpu driver.GPU, size, unit int64, visible bool, usg driver.Usage) (*pool, error) {
	buf, err := gpu.NewBuffer(size, visible, usg)
	if err != nil {
		return nil, ErrOutOfMemory
	}
	units := int(size / unit)
	words := (units + 31) / 32
	p := &pool{buf: buf, unit: unit, usg: usg}
	p.free.Grow(words)
	// Grow always appends whole 32-bit words; reserve whatever
	// tail bits fall past the pool's actual unit count so they
	// can never be handed out as an offset beyond the buffer.
	for i := units; i < words*32; i++ {
		p.free.Set(i)
	}
	return p, nil
}

func (p *pool) searchRange(nunit int) (unitIdx int, ok bool) {
	return p.free.SearchRange(nunit)
}

func (p *pool) reserve(unitIdx, nunit int) {
	for i := unitIdx; i < unitIdx+nunit; i++ {
		p.free.Set(i)
	}
}

func (p *pool) release(unitIdx, nunit int) {
	for i := unitIdx; i < unitIdx+nunit; i++ {
		p.free.Unset(i)
	}
}

// Block is a sub-allocated byte range, or (for Dedicated
// allocations) a whole driver.Buffer in its own right.
type Block struct {
	Buffer driver.Buffer
	Offset int64
	size   int64

	class    Class
	pool     *pool
	unitIdx  int
	nunit    int
	dedicated bool
}

// Size returns the block's requested size, rounded up to the
// allocator's alignment.
func (b *Block) Size() int64 { return b.size }

// Allocator packs buffer sub-allocations into pools per Class and
// creates one-off Dedicated buffers, enforcing an object budget
// and rounding every request up to the device's non-coherent atom
// size (spec.md §4.8).
type Allocator struct {
	gpu        driver.GPU
	atom       int64
	maxObjects int
	nobjects   int

	dynamic   []*pool
	transient []*pool
}

// New creates an Allocator. atom is the device's non-coherent
// atom size (every request is rounded up to a multiple of it);
// maxObjects bounds the number of distinct driver.Buffer objects
// the allocator may create across all pools and Dedicated
// requests.
func New(gpu driver.GPU, atom int64, maxObjects int) *Allocator {
	if atom <= 0 {
		atom = 1
	}
	return &Allocator{gpu: gpu, atom: atom, maxObjects: maxObjects}
}

func alignUp(n, a int64) int64 {
	if a <= 1 {
		return n
	}
	return (n + a - 1) / a * a
}

// Alloc reserves size bytes under the given classification and
// visibility/usage. The returned Block's Offset is relative to
// Block.Buffer, which for Dynamic/Transient classes is shared
// with other live blocks.
func (a *Allocator) Alloc(size int64, transient, deviceLocal, visible bool, usg driver.Usage) (*Block, error) {
	class := ClassOf(size, transient, deviceLocal)
	if class == Dedicated && visible && deviceLocal {
		return nil, ErrNoSuitableMemoryType
	}
	size = alignUp(size, a.atom)

	if class == Dedicated {
		if a.nobjects >= a.maxObjects {
			return nil, ErrTooManyObjects
		}
		buf, err := a.gpu.NewBuffer(size, visible, usg)
		if err != nil {
			return nil, ErrOutOfMemory
		}
		a.nobjects++
		return &Block{Buffer: buf, Offset: 0, size: size, class: class, dedicated: true}, nil
	}

	pools := &a.dynamic
	if class == Transient {
		pools = &a.transient
	}
	nunit := int(size / a.atom)
	if nunit == 0 {
		nunit = 1
	}
	for _, p := range *pools {
		if p.free.Rem() < nunit || p.buf.Visible() != visible || p.usg&usg != usg {
			continue
		}
		if idx, ok := p.searchRange(nunit); ok {
			p.reserve(idx, nunit)
			return &Block{
				Buffer: p.buf, Offset: int64(idx) * a.atom, size: size,
				class: class, pool: p, unitIdx: idx, nunit: nunit,
			}, nil
		}
	}

	if a.nobjects >= a.maxObjects {
		return nil, ErrTooManyObjects
	}
	poolSize := int64(defaultPoolSize)
	if size > poolSize {
		poolSize = size
	}
	p, err := newPool(a.gpu, poolSize, a.atom, visible, usg)
	if err != nil {
		return nil, err
	}
	a.nobjects++
	*pools = append(*pools, p)
	idx, ok := p.searchRange(nunit)
	if !ok {
		// A freshly created pool sized to fit this request must
		// have room; this would only fail if defaultPoolSize's
		// bit accounting in newPool were wrong.
		return nil, ErrOutOfMemory
	}
	p.reserve(idx, nunit)
	return &Block{
		Buffer: p.buf, Offset: int64(idx) * a.atom, size: size,
		class: class, pool: p, unitIdx: idx, nunit: nunit,
	}, nil
}

// Free returns b's byte range to its originating sub-allocator.
// Dedicated blocks are destroyed outright.
func (a *Allocator) Free(b *Block) {
	if b == nil {
		return
	}
	if b.dedicated {
		b.Buffer.Destroy()
		a.nobjects--
		return
	}
	b.pool.release(b.unitIdx, b.nunit)
}

// FreeTransient releases every pool backing Transient
// allocations, destroying their buffers outright. Called once a
// submit group that recorded transient uploads has finished
// executing, so the next frame starts from empty pools rather
// than accumulating per-block frees.
func (a *Allocator) FreeTransient() {
	for _, p := range a.transient {
		p.buf.Destroy()
		a.nobjects--
	}
	a.transient = nil
}
