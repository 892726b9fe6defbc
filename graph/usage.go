// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package graph

// ImageUsage accumulates the backend usage flags an image-backed
// physical resource needs, derived from how every pass in the
// schedule reads or writes it. Flags are expressed as a bit set
// so DeriveUsage never has to name a concrete backend type;
// package engine translates these bits to the driver package's
// own Usage flags.
type ImageUsage uint32

const (
	UsageSampled ImageUsage = 1 << iota
	UsageStorage
	UsageColorAttachment
	UsageDepthStencilAttachment
	UsageTransferSrc
)

// BufferUsage accumulates the backend usage flags a buffer-backed
// physical resource needs.
type BufferUsage uint32

const (
	BufferUsageStorage BufferUsage = 1 << iota
	BufferUsageStorageTexel
	BufferUsageUniform
	BufferUsageUniformTexel
	BufferUsageTransferSrc
)

// ResourceUsage is the derived usage information for one physical
// resource, keyed by its root ResourceId (see MovedFromRoot: every
// alias produced by a move chain shares one entry).
type ResourceUsage struct {
	// Image is set when the resource is image-backed.
	Image ImageUsage
	// Format is the image's declared pixel format, copied from
	// the image-create that defined the root. It is the zero
	// PixelFormat for buffers.
	Format PixelFormat
	// Buffer is set when the resource is buffer-backed.
	Buffer BufferUsage
}

// DeriveUsage walks every batch of s and accumulates, per
// physical resource, the usage flags implied by the declared
// reads and writes of the passes that touch it. Virtual
// resources are skipped (they have no GPU representation).
// Backbuffer-get images are skipped too: their format comes from
// the Backbuffer and their usage is owned externally, not derived
// here (spec.md §4.5).
func DeriveUsage(g *ResolvedGraph, s *Schedule) map[ResourceId]*ResourceUsage {
	out := map[ResourceId]*ResourceUsage{}

	entry := func(id ResourceId) *ResourceUsage {
		root, ok := g.MovedFromRoot(id)
		if !ok {
			return nil
		}
		if g.resources[root].kind == KindVirtual || g.resources[root].kind == KindImageBackbufferGet {
			return nil
		}
		u, ok := out[root]
		if !ok {
			u = &ResourceUsage{}
			if g.resources[root].kind == KindImageCreate {
				u.Format = g.resources[root].imageCreate.Format
			}
			out[root] = u
		}
		return u
	}

	for _, b := range s.Batches {
		for _, pid := range b.Passes {
			for _, r := range g.imageReads[pid] {
				u := entry(g.names[r.Name])
				if u == nil {
					continue
				}
				switch r.Kind {
				case ImageReadColor:
					u.Image |= UsageSampled
				case ImageReadStorage:
					u.Image |= UsageStorage
				case ImageReadDepthStencil:
					u.Image |= UsageDepthStencilAttachment
				}
			}
			for _, w := range g.imageWrites[pid] {
				u := entry(g.names[w.Name])
				if u == nil {
					continue
				}
				switch w.Kind {
				case ImageWriteColor:
					u.Image |= UsageColorAttachment
				case ImageWriteDepthStencil:
					u.Image |= UsageDepthStencilAttachment
				case ImageWriteStorage:
					u.Image |= UsageStorage
				}
			}
			for _, r := range g.bufferReads[pid] {
				u := entry(g.names[r.Name])
				if u == nil {
					continue
				}
				switch r.Kind {
				case BufferReadStorage:
					u.Buffer |= BufferUsageStorage
				case BufferReadStorageTexel:
					u.Buffer |= BufferUsageStorageTexel
				case BufferReadUniform:
					u.Buffer |= BufferUsageUniform
				case BufferReadUniformTexel:
					u.Buffer |= BufferUsageUniformTexel
				}
			}
			for _, w := range g.bufferWrites[pid] {
				u := entry(g.names[w.Name])
				if u == nil {
					continue
				}
				switch w.Kind {
				case BufferWriteStorage:
					u.Buffer |= BufferUsageStorage
				case BufferWriteStorageTexel:
					u.Buffer |= BufferUsageStorageTexel
				}
			}
		}
	}

	// Targets additionally gain SAMPLED|TRANSFER_SRC (images) or
	// TRANSFER_SRC (buffers), so the presentation collaborator
	// can blit or sample them.
	for _, t := range g.targets {
		u := entry(t)
		if u == nil {
			continue
		}
		root, _ := g.MovedFromRoot(t)
		if g.ResourceKindOf(root) == KindBufferCreate {
			u.Buffer |= BufferUsageTransferSrc
		} else {
			u.Image |= UsageSampled | UsageTransferSrc
		}
	}

	return out
}
