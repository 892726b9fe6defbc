// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package graph implements the graph compilation pipeline: it
// turns a declarative description of a frame (named passes
// reading and writing named resources) into a resolved
// dependency graph and an ordered, batched execution schedule
// with resource-lifetime annotations.
//
// The package never talks to a GPU. It is a pure function of
// its inputs: Builder in, ResolvedGraph/Schedule out. Package
// engine consumes those results to materialize actual backend
// objects.
package graph

// ResourceName identifies a resource within a single graph.
// Names are only meaningful within the GraphBuilder that
// declared them.
type ResourceName string

// ResourceId is a dense integer assigned by Resolve, in a
// deterministic two-pass traversal over a GraphBuilder's
// passes (see Resolve for the exact ordering).
type ResourceId int

// PassId indexes a GraphBuilder's pass list in declaration
// order.
type PassId int

// PassKind distinguishes graphics from compute passes.
type PassKind int

const (
	Graphics PassKind = iota
	Compute
)

func (k PassKind) String() string {
	if k == Compute {
		return "compute"
	}
	return "graphics"
}

// ResourceKind tags how a resource is defined.
type ResourceKind int

const (
	// KindImageCreate is a newly allocated image.
	KindImageCreate ResourceKind = iota
	// KindImageBackbufferGet binds a fresh local name to an
	// image owned by a Backbuffer.
	KindImageBackbufferGet
	// KindBufferCreate is a newly allocated buffer.
	KindBufferCreate
	// KindVirtual has no GPU representation; it exists only
	// to express a dependency edge between passes.
	KindVirtual
)

func (k ResourceKind) String() string {
	switch k {
	case KindImageCreate:
		return "image-create"
	case KindImageBackbufferGet:
		return "image-backbuffer-get"
	case KindBufferCreate:
		return "buffer-create"
	case KindVirtual:
		return "virtual"
	default:
		return "unknown"
	}
}

// IsImage reports whether k denotes an image-backed resource.
func (k ResourceKind) IsImage() bool {
	return k == KindImageCreate || k == KindImageBackbufferGet
}

// IsBuffer reports whether k denotes a buffer-backed resource.
func (k ResourceKind) IsBuffer() bool { return k == KindBufferCreate }

// SizeMode describes how an image-create resource's extent is
// computed.
type SizeMode int

const (
	// Absolute gives the size directly, in pixels.
	Absolute SizeMode = iota
	// ContextRelative gives the size as a fraction (fw, fh)
	// of the execution context's reference size.
	ContextRelative
)

// ImageSize is either an absolute pixel size or a fraction of
// the context's reference size, depending on Mode.
type ImageSize struct {
	Mode SizeMode
	// W, H are pixels when Mode == Absolute.
	W, H int
	// FW, FH are fractions of the reference size when
	// Mode == ContextRelative (1.0 == full size).
	FW, FH float32
}

// Resolve computes an ImageSize against a given reference
// (context) size, in pixels.
func (s ImageSize) Resolve(refW, refH int) (w, h int) {
	switch s.Mode {
	case Absolute:
		return s.W, s.H
	default:
		w = int(s.FW * float32(refW))
		h = int(s.FH * float32(refH))
		if w < 1 {
			w = 1
		}
		if h < 1 {
			h = 1
		}
		return
	}
}

// StorageClass selects the memory class of a buffer-create
// resource.
type StorageClass int

const (
	HostVisible StorageClass = iota
	DeviceLocal
)

// PixelFormat is an opaque pixel format tag, the same type the
// backend (package driver) uses for images. It is duplicated
// here (rather than importing package driver) so that package
// graph never depends on a concrete backend, matching spec.md's
// "GPU abstraction itself... treated as a backend API" split.
type PixelFormat int

// ImageReadKind enumerates the ways a pass may read an image.
type ImageReadKind int

const (
	ImageReadColor ImageReadKind = iota // sampled
	ImageReadStorage
	ImageReadDepthStencil // read-only attachment
)

// ImageWriteKind enumerates the ways a pass may write an image.
type ImageWriteKind int

const (
	ImageWriteColor ImageWriteKind = iota // render target
	ImageWriteDepthStencil
	ImageWriteStorage
)

// BufferReadKind enumerates the ways a pass may read a buffer.
type BufferReadKind int

const (
	BufferReadStorage BufferReadKind = iota
	BufferReadStorageTexel
	BufferReadUniform
	BufferReadUniformTexel
)

// BufferWriteKind enumerates the ways a pass may write a
// buffer.
type BufferWriteKind int

const (
	BufferWriteStorage BufferWriteKind = iota
	BufferWriteStorageTexel
)
