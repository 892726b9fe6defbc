// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package graph

// Store is an opaque type-keyed key-value bag used by pass
// implementations to receive frame inputs and produce
// cross-pass, and cross-frame, state. See engine.Store for the
// concrete implementation; package graph only needs the
// interface so Prepare/Execute can be invoked without a
// dependency on package engine.
type Store interface {
	// Get returns the value stored under key, and whether it
	// was present.
	Get(key any) (any, bool)
	// Set stores value under key, replacing any previous
	// value.
	Set(key any, value any)
}

// Dispatcher lets a pass's Execute method record commands for
// one or more pipeline configurations. See engine.Dispatcher
// for the concrete implementation.
type Dispatcher interface {
	// WithConfig resolves (creating and caching on first use)
	// the backend pipeline for cfg and invokes fn with a
	// recorder bound to it. cfg must be comparable.
	WithConfig(cfg any, fn func(cmd any))
}

// GraphicsPassImpl is the capability set a graphics pass
// implementation exposes to the core.
type GraphicsPassImpl interface {
	// Prepare mutates per-frame state; it must not call into
	// the backend.
	Prepare(s Store)
	// Describe is called once during compilation; it appends
	// this pass's resource intents to rd.
	Describe(rd *ResourceDescriptor)
	// Configure is called lazily, the first time a particular
	// cfg is dispatched via Dispatcher.WithConfig, and must
	// produce the full pipeline description for cfg.
	Configure(cfg any) (PipelineInfo, error)
	// Execute records commands, possibly calling
	// d.WithConfig one or more times.
	Execute(s Store, d Dispatcher)
}

// ComputePassImpl is the capability set a compute pass
// implementation exposes to the core. Compute passes carry
// only a shader, so unlike graphics passes they do not need a
// lazy Configure step keyed by render state: the pipeline is
// fixed for the pass's lifetime.
type ComputePassImpl interface {
	Prepare(s Store)
	Describe(rd *ResourceDescriptor)
	Execute(s Store, d Dispatcher)
}

// PipelineInfo is the result of a graphics pass's Configure
// method: vertex attributes, blend modes, depth/stencil state,
// shader handles with specialization data, the push-constant
// range, and the set of materials this pipeline's descriptor
// table must accommodate alongside the pass's own set.
type PipelineInfo struct {
	VertexAttribs []VertexAttrib
	Blend         []BlendMode
	DepthStencil  DepthStencilState
	VertShader    ShaderRef
	FragShader    ShaderRef
	PushConstant  PushConstantRange
	// Materials maps a descriptor-set index to the material
	// layout bound at that index, for every material this
	// pipeline's layout must include in addition to the
	// pass's own per-pass set (set 0).
	Materials map[int]MaterialLayoutRef
}

// VertexAttrib describes one vertex input attribute.
type VertexAttrib struct {
	Location int
	Format   VertexFormat
	Offset   int
	Binding  int
	Stride   int
}

// VertexFormat mirrors the backend's vertex format enumeration
// (kept independent of package driver for the same reason as
// PixelFormat).
type VertexFormat int

// BlendMode describes one color attachment's blend state.
type BlendMode struct {
	Enabled   bool
	WriteMask int
}

// DepthStencilState describes a graphics pipeline's
// depth/stencil state.
type DepthStencilState struct {
	Enabled    bool
	WriteDepth bool
}

// ShaderRef identifies a shader module plus entry point and
// specialization data; the concrete module handle is owned by
// package engine.
type ShaderRef struct {
	Module     any
	EntryPoint string
	Spec       []byte
}

// PushConstantRange describes one push-constant range.
type PushConstantRange struct {
	Offset, Size int
}

// MaterialLayoutRef identifies a material's descriptor-set
// layout; the concrete layout handle is owned by package
// engine.
type MaterialLayoutRef struct {
	Layout any
}

// ImageCreateInfo describes a pass-declared image creation.
type ImageCreateInfo struct {
	Format PixelFormat
	Size   ImageSize
}

// ImageBackbufferGetInfo describes a pass-declared binding to
// a Backbuffer-owned image.
type ImageBackbufferGetInfo struct {
	BackbufferName string
	Format         PixelFormat
}

// BufferCreateInfo describes a pass-declared buffer creation.
type BufferCreateInfo struct {
	Size    int64
	Storage StorageClass
}

// ImageReadDecl is one entry of ResourceDescriptor.ImageReads.
type ImageReadDecl struct {
	Name           ResourceName
	Kind           ImageReadKind
	Binding        int
	SamplerBind    int
	HasSamplerBind bool
}

// ImageWriteDecl is one entry of ResourceDescriptor.ImageWrites.
type ImageWriteDecl struct {
	Name    ResourceName
	Kind    ImageWriteKind
	Binding int
}

// BufferReadDecl is one entry of ResourceDescriptor.BufferReads.
type BufferReadDecl struct {
	Name    ResourceName
	Kind    BufferReadKind
	Binding int
}

// BufferWriteDecl is one entry of ResourceDescriptor.BufferWrites.
type BufferWriteDecl struct {
	Name    ResourceName
	Kind    BufferWriteKind
	Binding int
}

// MoveDecl renames an existing resource: New becomes the sole
// owner of the physical resource previously bound to From.
type MoveDecl struct {
	New  ResourceName
	From ResourceName
}

// ResourceDescriptor accumulates one pass's resource intents
// during the Describe phase of compilation. The three lists
// (creates, moves, reads/writes) parallel spec.md's data model
// exactly; CreateImages/CreateBuffers/CreateVirtual are kept
// as separate maps (rather than one polymorphic collection) so
// Describe implementations don't need a type switch to append
// to them.
type ResourceDescriptor struct {
	CreateImages      map[ResourceName]ImageCreateInfo
	CreateBuffers     map[ResourceName]BufferCreateInfo
	CreateVirtual     map[ResourceName]struct{}
	BackbufferGets    map[ResourceName]ImageBackbufferGetInfo
	Moves             []MoveDecl
	ImageReads        []ImageReadDecl
	ImageWrites       []ImageWriteDecl
	BufferReads       []BufferReadDecl
	BufferWrites      []BufferWriteDecl
}

func newResourceDescriptor() *ResourceDescriptor {
	return &ResourceDescriptor{
		CreateImages:   map[ResourceName]ImageCreateInfo{},
		CreateBuffers:  map[ResourceName]BufferCreateInfo{},
		CreateVirtual:  map[ResourceName]struct{}{},
		BackbufferGets: map[ResourceName]ImageBackbufferGetInfo{},
	}
}

// CreateImage records an image-create resource intent.
func (rd *ResourceDescriptor) CreateImage(name ResourceName, info ImageCreateInfo) {
	rd.CreateImages[name] = info
}

// CreateBuffer records a buffer-create resource intent.
func (rd *ResourceDescriptor) CreateBuffer(name ResourceName, info BufferCreateInfo) {
	rd.CreateBuffers[name] = info
}

// CreateVirtualResource records a dependency-only resource
// with no GPU representation.
func (rd *ResourceDescriptor) CreateVirtualResource(name ResourceName) {
	rd.CreateVirtual[name] = struct{}{}
}

// GetBackbuffer records a resource intent that binds a fresh
// local name to an image owned by the Backbuffer.
func (rd *ResourceDescriptor) GetBackbuffer(name ResourceName, info ImageBackbufferGetInfo) {
	rd.BackbufferGets[name] = info
}

// Move records that new becomes the sole owner of the physical
// resource currently bound to from.
func (rd *ResourceDescriptor) Move(new, from ResourceName) {
	rd.Moves = append(rd.Moves, MoveDecl{New: new, From: from})
}

// ReadImage records an image read. sampler, when >= 0, is the
// binding index of an accompanying sampler for a Color
// (sampled) read.
func (rd *ResourceDescriptor) ReadImage(name ResourceName, kind ImageReadKind, binding int, sampler int) {
	d := ImageReadDecl{Name: name, Kind: kind, Binding: binding}
	if sampler >= 0 {
		d.SamplerBind, d.HasSamplerBind = sampler, true
	}
	rd.ImageReads = append(rd.ImageReads, d)
}

// WriteImage records an image write.
func (rd *ResourceDescriptor) WriteImage(name ResourceName, kind ImageWriteKind, binding int) {
	rd.ImageWrites = append(rd.ImageWrites, ImageWriteDecl{Name: name, Kind: kind, Binding: binding})
}

// ReadBuffer records a buffer read.
func (rd *ResourceDescriptor) ReadBuffer(name ResourceName, kind BufferReadKind, binding int) {
	rd.BufferReads = append(rd.BufferReads, BufferReadDecl{Name: name, Kind: kind, Binding: binding})
}

// WriteBuffer records a buffer write.
func (rd *ResourceDescriptor) WriteBuffer(name ResourceName, kind BufferWriteKind, binding int) {
	rd.BufferWrites = append(rd.BufferWrites, BufferWriteDecl{Name: name, Kind: kind, Binding: binding})
}

// passEntry is one declared pass of a Builder.
type passEntry struct {
	name ResourceName
	kind PassKind
	gfx  GraphicsPassImpl
	cmp  ComputePassImpl
}

// Builder is an ordered list of passes plus a set of target
// (output) resource names. It is immutable once handed to
// Resolve: Resolve and Schedule never mutate the Builder they
// are given.
//
// Builder has plain value semantics (a struct holding slices),
// so it is cheap to copy; Clone makes a deep-enough copy
// explicit for callers who want to derive a sibling graph from
// a shared base (spec.md's "multi-graph" usage, see
// SPEC_FULL.md §8).
type Builder struct {
	passes  []passEntry
	targets []ResourceName
}

// AddGraphicsPass appends a graphics pass to the builder.
// Passes execute in a schedule derived from their declared
// dependencies, not from declaration order, but declaration
// order is used to break ties deterministically (see Resolve
// and Schedule).
func (b *Builder) AddGraphicsPass(name ResourceName, impl GraphicsPassImpl) {
	b.passes = append(b.passes, passEntry{name: name, kind: Graphics, gfx: impl})
}

// AddComputePass appends a compute pass to the builder.
func (b *Builder) AddComputePass(name ResourceName, impl ComputePassImpl) {
	b.passes = append(b.passes, passEntry{name: name, kind: Compute, cmp: impl})
}

// AddTarget marks name as a graph output. A Builder may have
// any number of targets, including zero (an empty schedule)
// or several (spec.md's "multi-target" usage).
func (b *Builder) AddTarget(name ResourceName) {
	b.targets = append(b.targets, name)
}

// Targets returns the builder's target names, in the order
// they were added.
func (b *Builder) Targets() []ResourceName {
	out := make([]ResourceName, len(b.targets))
	copy(out, b.targets)
	return out
}

// NumPasses returns the number of passes added so far.
func (b *Builder) NumPasses() int { return len(b.passes) }

// Clone returns a copy of b. Because passEntry holds interface
// values (pointers into caller-owned pass-impl state) rather
// than the pass state itself, Clone is a shallow copy of those
// interfaces: the two builders describe the same passes but
// can independently gain new passes/targets afterward.
func (b *Builder) Clone() Builder {
	out := Builder{
		passes:  make([]passEntry, len(b.passes)),
		targets: make([]ResourceName, len(b.targets)),
	}
	copy(out.passes, b.passes)
	copy(out.targets, b.targets)
	return out
}
