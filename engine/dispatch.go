// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package engine

import (
	"log"

	"gviegas/neo3/driver"
	"gviegas/neo3/graph"
)

// Recorder is the concrete value a pass's Execute method receives
// as the cmd argument of graph.Dispatcher.WithConfig's callback.
// CB is bound to the resolved pipeline and, if the pass declares
// any reads/storage-writes (and so has its own set), to its
// descriptor table at heap copy 0 for that set; a pass
// that also declares Materials in its PipelineInfo must call
// BindMaterials before drawing with them, in the same ascending
// set-index order it gave Configure.
type Recorder struct {
	CB driver.CmdBuffer

	table     driver.DescTable
	kind      graph.PassKind
	passSlots int
}

// BindMaterials sets the heap copy for each material set included
// in the pipeline's table, identified by the MaterialInstance
// currently bound at that set. insts must be given in the same
// ascending set-index order as the PipelineInfo.Materials map
// Configure returned for this pipeline.
func (r *Recorder) BindMaterials(c *Context, insts ...MaterialInstanceHandle) {
	if r.table == nil || len(insts) == 0 {
		return
	}
	heapCopy := make([]int, r.passSlots+len(insts))
	for i, inst := range insts {
		cpy, ok := c.heapCopyOf(inst)
		if !ok {
			log.Printf("engine: BindMaterials: invalid material instance handle")
			return
		}
		heapCopy[r.passSlots+i] = cpy
	}
	if r.kind == graph.Graphics {
		r.CB.SetDescTableGraph(r.table, 0, heapCopy)
	} else {
		r.CB.SetDescTableComp(r.table, 0, heapCopy)
	}
}

// Dispatcher implements graph.Dispatcher: it resolves and caches
// the pipeline for a pass's configuration, binds it, and hands
// the caller a Recorder to draw/dispatch with.
type Dispatcher struct {
	c         *Context
	pb        *passBase
	cb        driver.CmdBuffer
	configure func(any) (graph.PipelineInfo, error)
}

func newDispatcher(c *Context, pb *passBase, cb driver.CmdBuffer, configure func(any) (graph.PipelineInfo, error)) *Dispatcher {
	return &Dispatcher{c: c, pb: pb, cb: cb, configure: configure}
}

// WithConfig implements graph.Dispatcher.
func (d *Dispatcher) WithConfig(cfg any, fn func(cmd any)) {
	cp, err := d.pb.pipelineFor(d.c, cfg, d.configure)
	if err != nil {
		log.Printf("engine: pass %d: %v", d.pb.id, err)
		return
	}
	d.cb.SetPipeline(cp.pipeline)
	passSlots := 0
	if d.pb.descHeap != nil {
		passSlots = 1
		heapCopy := []int{0}
		if d.pb.kind == graph.Graphics {
			d.cb.SetDescTableGraph(cp.table, 0, heapCopy)
		} else {
			d.cb.SetDescTableComp(cp.table, 0, heapCopy)
		}
	}
	fn(&Recorder{CB: d.cb, table: cp.table, kind: d.pb.kind, passSlots: passSlots})
}
