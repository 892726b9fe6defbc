// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package engine

import (
	"gviegas/neo3/driver"
	"gviegas/neo3/graph"
)

// pixelFmtOf translates a graph.PixelFormat into the driver's
// concrete PixelFmt. graph.PixelFormat deliberately duplicates
// driver.PixelFmt's numeric encoding (see graph.go's package doc)
// so that package graph never imports a concrete backend; the two
// enumerations are kept in lockstep by convention, so the
// conversion is a plain re-typing.
func pixelFmtOf(f graph.PixelFormat) driver.PixelFmt { return driver.PixelFmt(f) }

// vertexFmtOf translates a graph.VertexFormat into the driver's
// concrete VertexFmt, for the same reason as pixelFmtOf.
func vertexFmtOf(f graph.VertexFormat) driver.VertexFmt { return driver.VertexFmt(f) }

// imageUsageOf translates the usage bits DeriveUsage accumulated
// for an image-backed resource into the driver's Usage flags.
func imageUsageOf(u graph.ImageUsage) driver.Usage {
	var out driver.Usage
	if u&graph.UsageSampled != 0 {
		out |= driver.UShaderSample
	}
	if u&graph.UsageStorage != 0 {
		out |= driver.UShaderRead | driver.UShaderWrite
	}
	if u&graph.UsageColorAttachment != 0 || u&graph.UsageDepthStencilAttachment != 0 {
		out |= driver.URenderTarget
	}
	if u&graph.UsageTransferSrc != 0 {
		// There is no dedicated transfer-src usage flag in this
		// backend; general-purpose access covers blit sources.
		out |= driver.UGeneric
	}
	return out
}

// bufferUsageOf translates the usage bits DeriveUsage accumulated
// for a buffer-backed resource into the driver's Usage flags.
func bufferUsageOf(u graph.BufferUsage) driver.Usage {
	var out driver.Usage
	if u&graph.BufferUsageStorage != 0 || u&graph.BufferUsageStorageTexel != 0 {
		out |= driver.UShaderRead | driver.UShaderWrite
	}
	if u&graph.BufferUsageUniform != 0 || u&graph.BufferUsageUniformTexel != 0 {
		out |= driver.UShaderConst
	}
	if u&graph.BufferUsageTransferSrc != 0 {
		out |= driver.UGeneric
	}
	return out
}

// imageReadIDs and bufferReadIDs zip a pass's ImageReads/
// BufferReads declarations against the parallel ResourceId slice
// Resolve built for them: Reads[p] is [image read ids...] followed
// by [buffer read ids...], in the exact order each group was
// declared (see resolve.go's pass-2 loop), so a plain index split
// recovers the id for each declaration without needing a public
// name->id lookup.
func imageReadIDs(g *graph.ResolvedGraph, p graph.PassId) []graph.ResourceId {
	n := len(g.ImageReads(p))
	return g.Reads[p][:n]
}

func bufferReadIDs(g *graph.ResolvedGraph, p graph.PassId) []graph.ResourceId {
	n := len(g.ImageReads(p))
	return g.Reads[p][n:]
}

func imageWriteIDs(g *graph.ResolvedGraph, p graph.PassId) []graph.ResourceId {
	n := len(g.ImageWrites(p))
	return g.Writes[p][:n]
}

func bufferWriteIDs(g *graph.ResolvedGraph, p graph.PassId) []graph.ResourceId {
	n := len(g.ImageWrites(p))
	return g.Writes[p][n:]
}
