// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gviegas/neo3/driver"
	"gviegas/neo3/engine"
	"gviegas/neo3/graph"
)

// materialGfxPass draws with one bound MaterialInstance, to
// exercise Dispatcher/Recorder's material-binding path.
type materialGfxPass struct {
	c          *engine.Context
	vs, fs     engine.ShaderHandle
	mat        engine.MaterialHandle
	inst       engine.MaterialInstanceHandle
	configured int
	drawn      int
}

func (p *materialGfxPass) Prepare(graph.Store) {}

func (p *materialGfxPass) Describe(rd *graph.ResourceDescriptor) {
	rd.CreateImage("color", graph.ImageCreateInfo{Format: 0, Size: absSize(4, 4)})
	rd.WriteImage("color", graph.ImageWriteColor, 0)
}

func (p *materialGfxPass) Configure(cfg any) (graph.PipelineInfo, error) {
	p.configured++
	return graph.PipelineInfo{
		VertShader: graph.ShaderRef{Module: p.vs, EntryPoint: "vs"},
		FragShader: graph.ShaderRef{Module: p.fs, EntryPoint: "fs"},
		Materials:  map[int]graph.MaterialLayoutRef{0: {Layout: p.mat}},
	}, nil
}

func (p *materialGfxPass) Execute(s graph.Store, d graph.Dispatcher) {
	d.WithConfig(struct{}{}, func(cmd any) {
		r := cmd.(*engine.Recorder)
		r.BindMaterials(p.c, p.inst)
		r.CB.DrawIndexed(3, 1, 0, 0, 0)
		p.drawn++
	})
}

func TestDispatcherBindsMaterial(t *testing.T) {
	c := open(t)

	descs := []driver.Descriptor{{Type: driver.DTexture, Stages: driver.SFragment, Nr: 0, Len: 1}}
	mat, err := c.MaterialCreate(descs, 2)
	require.NoError(t, err)
	inst, err := c.MaterialInstanceCreate(mat)
	require.NoError(t, err)

	texH, err := c.ImageCreate(0, 4, 4, 1, 1, 1, driver.UShaderSample)
	require.NoError(t, err)
	tex, ok := c.Image(texH)
	require.True(t, ok)
	view, err := tex.NewView(driver.IView2D, 0, 1, 0, 1)
	require.NoError(t, err)
	require.NoError(t, c.MaterialInstanceSetImage(inst, 0, 0, []driver.ImageView{view}))

	vs, err := c.ShaderCreate([]byte("dummy-vs"))
	require.NoError(t, err)
	fs, err := c.ShaderCreate([]byte("dummy-fs"))
	require.NoError(t, err)

	pass := &materialGfxPass{c: c, vs: vs, fs: fs, mat: mat, inst: inst}
	b := &graph.Builder{}
	b.AddGraphicsPass("draw", pass)
	b.AddTarget("color")

	h, err := c.GraphCreate(b)
	require.NoError(t, err)

	sg, err := engine.NewSubmitGroup(c)
	require.NoError(t, err)
	require.NoError(t, sg.GraphExecute(h))
	assert.Equal(t, 1, pass.configured)
	assert.Equal(t, 1, pass.drawn)

	// The pipeline for this cfg is cached: a second frame must not
	// call Configure again.
	require.NoError(t, sg.Submit())
	require.NoError(t, sg.Wait())
	require.NoError(t, sg.GraphExecute(h))
	assert.Equal(t, 1, pass.configured)
	assert.Equal(t, 2, pass.drawn)

	require.NoError(t, sg.Submit())
	require.NoError(t, sg.Wait())
	require.NoError(t, sg.Release())
}

func TestBindMaterialsNoopWithoutTable(t *testing.T) {
	// A Recorder whose pass declared no reads/writes/materials has
	// a nil table; BindMaterials must be a no-op rather than panic.
	r := &engine.Recorder{}
	r.BindMaterials(nil)
}
