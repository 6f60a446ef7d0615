// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package sim

import (
	"runtime"
	"sync"

	"github.com/db47h/bittide"
	"github.com/pkg/errors"
)

type wire struct {
	w  uint32
	ok bool
}

// Mesh is a lockstep mesh simulation: every node ticks once per step.
//
// Links are one word registers. Words written during a step are received by
// the peer on the next step.
//
type Mesh struct {
	nodes []*Node
	s0    []wire // wire states frame #0
	s1    []wire // wire states frame #1
	errs  []error
	steps uint64

	wc []chan struct{}
	wg sync.WaitGroup
}

// meshPort reads wire in from frame #0 and writes wire out in frame #1.
//
type meshPort struct {
	m       *Mesh
	in, out int
}

func (p *meshPort) Read() (uint32, bool) {
	w := &p.m.s0[p.in]
	if !w.ok {
		return 0, false
	}
	w.ok = false
	return w.w, true
}

func (p *meshPort) Write(v uint32) {
	p.m.s1[p.out] = wire{v, true}
}

// NewMesh builds a new mesh of nodes connected by edges.
//
// workers is the number of goroutines used to tick nodes each step of the
// simulation. If less or equal to 0, the value of GOMAXPROCS will be used.
//
// All nodes run at the same frequency: the frequency controllers run but
// their output has no effect.
//
// Callers must make sure to call Dispose() once the mesh is no longer needed
// in order to release allocated resources.
//
func NewMesh(workers int, nodes []NodeConfig, edges []Edge) (*Mesh, error) {
	degrees, ends, err := layout(nodes, edges)
	if err != nil {
		return nil, err
	}
	m := &Mesh{
		s0:   make([]wire, 2*len(edges)),
		s1:   make([]wire, 2*len(edges)),
		errs: make([]error, len(nodes)),
	}
	ports := make([][]bittide.Port, len(nodes))
	for i, d := range degrees {
		ports[i] = make([]bittide.Port, d)
		for j := range ports[i] {
			ports[i][j] = nullPort{}
		}
	}
	// wire 2i carries A -> B, wire 2i+1 B -> A.
	for i, e := range ends {
		a, b := e[0], e[1]
		ports[a.node][a.port] = &meshPort{m, 2*i + 1, 2 * i}
		ports[b.node][b.port] = &meshPort{m, 2 * i, 2*i + 1}
	}
	masks := linkMasks(degrees, ends)
	for i, cfg := range nodes {
		n, err := newNode(i, cfg, DefaultSysFreq, ports[i], masks[i])
		if err != nil {
			return nil, err
		}
		m.nodes = append(m.nodes, n)
	}

	if workers <= 0 {
		workers = runtime.GOMAXPROCS(-1)
	}
	ns := m.nodes
	for len(ns) > 0 {
		size := len(ns) / workers
		if size*workers < len(ns) {
			size++
		}
		wc := make(chan struct{}, 1)
		m.wc = append(m.wc, wc)
		go worker(m, ns[:size], wc)
		ns = ns[size:]
	}
	return m, nil
}

func worker(m *Mesh, ns []*Node, wc <-chan struct{}) {
	for {
		_, ok := <-wc
		if !ok {
			m.wg.Done()
			return
		}
		for _, n := range ns {
			m.errs[n.ID] = n.record(n.Control.Interrupt())
		}
		m.wg.Done()
	}
}

// Dispose releases all resources allocated for a mesh and stops
// worker goroutines.
//
func (m *Mesh) Dispose() {
	m.wg.Add(len(m.wc))
	for _, wc := range m.wc {
		close(wc)
	}
	m.wg.Wait()
}

// Step advances the simulation by one step. It returns the first fatal node
// error, if any.
//
func (m *Mesh) Step() error {
	m.wg.Add(len(m.wc))
	for _, wc := range m.wc {
		wc <- struct{}{}
	}
	m.wg.Wait()
	m.steps++
	m.s0, m.s1 = m.s1, m.s0
	for i := range m.s1 {
		m.s1[i].ok = false
	}
	for _, err := range m.errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Run runs n steps, stopping at the first fatal error.
//
func (m *Mesh) Run(n int) error {
	for i := 0; i < n; i++ {
		if err := m.Step(); err != nil {
			return errors.Wrapf(err, "step %d", m.steps)
		}
	}
	return nil
}

// Steps returns the value of the step counter.
//
func (m *Mesh) Steps() uint64 { return m.steps }

// Nodes returns the mesh nodes.
//
func (m *Mesh) Nodes() []*Node { return m.nodes }
