// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package alloc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gviegas/neo3/driver"
	"gviegas/neo3/internal/alloc"
)

// fakeBuffer is the minimal driver.Buffer a pool needs: a byte
// slice big enough to stand in for device memory.
type fakeBuffer struct {
	cap int64
	vis bool
	buf []byte
}

func (b *fakeBuffer) Destroy()        {}
func (b *fakeBuffer) Visible() bool   { return b.vis }
func (b *fakeBuffer) Bytes() []byte   { return b.buf }
func (b *fakeBuffer) Cap() int64      { return b.cap }

// stubGPU implements driver.GPU with only NewBuffer/Limits doing
// real work; every other method panics if called, since this test
// only exercises internal/alloc's pooling logic.
type stubGPU struct {
	nbuffers  int
	failAfter int // NewBuffer fails once nbuffers reaches this; 0 disables
}

func (g *stubGPU) Driver() driver.Driver                 { panic("not implemented") }
func (g *stubGPU) Commit(cb []driver.CmdBuffer, ch chan<- error) { panic("not implemented") }
func (g *stubGPU) NewCmdBuffer() (driver.CmdBuffer, error)      { panic("not implemented") }
func (g *stubGPU) NewRenderPass(att []driver.Attachment, sub []driver.Subpass) (driver.RenderPass, error) {
	panic("not implemented")
}
func (g *stubGPU) NewShaderCode(data []byte) (driver.ShaderCode, error) { panic("not implemented") }
func (g *stubGPU) NewDescHeap(ds []driver.Descriptor) (driver.DescHeap, error) {
	panic("not implemented")
}
func (g *stubGPU) NewDescTable(dh []driver.DescHeap) (driver.DescTable, error) {
	panic("not implemented")
}
func (g *stubGPU) NewPipeline(state any) (driver.Pipeline, error) { panic("not implemented") }
func (g *stubGPU) NewImage(pf driver.PixelFmt, size driver.Dim3D, layers, levels, samples int, usg driver.Usage) (driver.Image, error) {
	panic("not implemented")
}
func (g *stubGPU) NewSampler(spln *driver.Sampling) (driver.Sampler, error) { panic("not implemented") }
func (g *stubGPU) Limits() driver.Limits                                   { return driver.Limits{} }

func (g *stubGPU) NewBuffer(size int64, visible bool, usg driver.Usage) (driver.Buffer, error) {
	if g.failAfter > 0 && g.nbuffers >= g.failAfter {
		return nil, assert.AnError
	}
	g.nbuffers++
	return &fakeBuffer{cap: size, vis: visible, buf: make([]byte, size)}, nil
}

func TestAllocDynamicPacksIntoOnePool(t *testing.T) {
	gpu := &stubGPU{}
	a := alloc.New(gpu, 256, 16)

	b1, err := a.Alloc(64, false, false, true, driver.UShaderRead)
	require.NoError(t, err)
	b2, err := a.Alloc(128, false, false, true, driver.UShaderRead)
	require.NoError(t, err)

	assert.Same(t, b1.Buffer, b2.Buffer, "small Dynamic requests should share one pool buffer")
	assert.NotEqual(t, b1.Offset, b2.Offset)
	assert.Equal(t, 1, gpu.nbuffers, "only the pool's backing buffer should have been created")
}

func TestAllocDedicatedGetsOwnBuffer(t *testing.T) {
	gpu := &stubGPU{}
	a := alloc.New(gpu, 256, 16)

	const big = 4 << 20 // above the 2 MiB Dedicated threshold
	b, err := a.Alloc(big, false, true, false, driver.UShaderRead)
	require.NoError(t, err)
	assert.Equal(t, alloc.ClassOf(big, false, true), alloc.Dedicated)
	assert.EqualValues(t, 0, b.Offset)
	assert.Equal(t, 1, gpu.nbuffers)
}

func TestAllocRejectsVisibleDedicatedDeviceLocal(t *testing.T) {
	gpu := &stubGPU{}
	a := alloc.New(gpu, 256, 16)

	const big = 4 << 20
	_, err := a.Alloc(big, false, true, true, driver.UShaderRead)
	assert.ErrorIs(t, err, alloc.ErrNoSuitableMemoryType)
}

func TestAllocTooManyObjects(t *testing.T) {
	gpu := &stubGPU{failAfter: 1}
	a := alloc.New(gpu, 256, 1)

	const big = 4 << 20
	_, err := a.Alloc(big, false, true, false, driver.UShaderRead)
	require.NoError(t, err)

	_, err = a.Alloc(big, false, true, false, driver.UShaderRead)
	assert.ErrorIs(t, err, alloc.ErrTooManyObjects)
}

func TestFreeReturnsBlockToPool(t *testing.T) {
	gpu := &stubGPU{}
	a := alloc.New(gpu, 256, 16)

	b1, err := a.Alloc(256, false, false, true, driver.UShaderRead)
	require.NoError(t, err)
	a.Free(b1)

	b2, err := a.Alloc(256, false, false, true, driver.UShaderRead)
	require.NoError(t, err)
	assert.Equal(t, b1.Offset, b2.Offset, "the freed range should be reused")
	assert.Equal(t, 1, gpu.nbuffers)
}

func TestFreeTransientDestroysPools(t *testing.T) {
	gpu := &stubGPU{}
	a := alloc.New(gpu, 256, 16)

	_, err := a.Alloc(64, true, false, true, driver.UShaderRead)
	require.NoError(t, err)
	assert.Equal(t, 1, gpu.nbuffers)

	a.FreeTransient()

	_, err = a.Alloc(64, true, false, true, driver.UShaderRead)
	require.NoError(t, err)
	assert.Equal(t, 2, gpu.nbuffers, "a fresh pool should be created after FreeTransient")
}
