// Copyright 2023 Gustavo C. Viegas. All rights reserved.

// Package engine implements the render-graph core: it compiles a
// declarative frame description (package graph) into GPU resources
// via package driver, caches per-pass pipelines and descriptor
// sets, materializes per-frame resources, and drives their
// multi-queue submission and synchronization.
//
// There is no package-level mutable state. A Context is a value
// the caller creates with New and explicitly tears down with
// Release; everything else (buffers, images, compiled graphs,
// submit groups) hangs off one Context.
package engine

const (
	// MaxFrame is the maximum number of frames a caller is
	// expected to keep in flight across distinct SubmitGroups
	// (e.g. double or triple buffering).
	MaxFrame = 3

	dflAtomSize         = 256
	dflMaxAllocObjects  = 4096
	dflRefWidth         = 1920
	dflRefHeight        = 1080
	dflMaxMatInstances  = 256
)

// Config configures a Context.
type Config struct {
	// DriverName selects a registered driver.Driver by a substring
	// match against its Name. Empty selects whichever driver was
	// registered first.
	//
	// Default is "" (first registered driver).
	DriverName string

	// NonCoherentAtomSize is the device's non-coherent atom size.
	// Every allocation made through the Context's allocator is
	// rounded up to a multiple of it. driver.Limits carries no
	// such field, so it is supplied here instead.
	//
	// Default is 256 bytes.
	NonCoherentAtomSize int64

	// MaxAllocObjects bounds the number of distinct driver.Buffer
	// objects the Context's allocator may create.
	//
	// Default is 4096.
	MaxAllocObjects int

	// ReferenceWidth and ReferenceHeight give the initial
	// reference size used to resolve ContextRelative image sizes
	// until SetReferenceSize is called.
	//
	// Default is 1920x1080.
	ReferenceWidth, ReferenceHeight int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		NonCoherentAtomSize: dflAtomSize,
		MaxAllocObjects:     dflMaxAllocObjects,
		ReferenceWidth:      dflRefWidth,
		ReferenceHeight:     dflRefHeight,
	}
}
