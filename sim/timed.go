// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package sim

import (
	"github.com/db47h/bittide"
	"github.com/pkg/errors"
	akita "github.com/sarchlab/akita/v4/sim"
)

// TimedConfig configures a Timed simulation.
//
type TimedConfig struct {
	SysFreq       float64 // nominal system clock frequency. Defaults to DefaultSysFreq.
	CyclesPerTick int     // system clock cycles between ticks. Defaults to DefaultCyclesPerTick.
	LinkDelay     float64 // link latency in seconds
	RxDepth       int     // receive FIFO depth. Defaults to bittide.MaxBurst.
}

// rxFifo is the hardware receive FIFO of a port. Words received while it is
// full are dropped.
//
type rxFifo struct {
	q        []uint32
	depth    int
	overruns uint64
}

func (f *rxFifo) push(w uint32) {
	if len(f.q) == f.depth {
		f.overruns++
		return
	}
	f.q = append(f.q, w)
}

func (f *rxFifo) Read() (uint32, bool) {
	if len(f.q) == 0 {
		return 0, false
	}
	w := f.q[0]
	f.q = append(f.q[:0], f.q[1:]...)
	return w, true
}

type timedPort struct {
	t    *Timed
	rx   *rxFifo
	peer *rxFifo
}

func (p *timedPort) Read() (uint32, bool) { return p.rx.Read() }

func (p *timedPort) Write(w uint32) {
	if p.t.delay == 0 {
		p.peer.push(w)
		return
	}
	p.t.send(&wordEvent{
		EventBase: akita.NewEventBase(p.t.engine.CurrentTime()+p.t.delay, linkHandler{}),
		dst:       p.peer,
		w:         w,
	})
}

// wordEvent is the arrival of a word at the end of a link.
//
type wordEvent struct {
	*akita.EventBase
	dst *rxFifo
	w   uint32
}

type linkHandler struct{}

func (linkHandler) Handle(e akita.Event) error {
	ev := e.(*wordEvent)
	ev.dst.push(ev.w)
	return nil
}

type timedNode struct {
	*Node
	t         *Timed
	rx        []*rxFifo
	next      akita.VTimeInSec
	scheduled bool
	fatal     error
}

// Handle runs one tick and schedules the next one.
//
func (n *timedNode) Handle(e akita.Event) error {
	n.scheduled = false
	if n.t.fatal != nil {
		return nil
	}
	if err := n.record(n.Control.Interrupt()); err != nil {
		n.fatal = err
		n.t.fatal = err
		return nil
	}
	n.next = e.Time() + akita.VTimeInSec(float64(n.t.cpt)/n.Clock.Freq())
	n.schedule()
	return nil
}

func (n *timedNode) schedule() {
	if n.scheduled || n.fatal != nil || n.next > n.t.until {
		return
	}
	n.t.engine.Schedule(akita.NewEventBase(n.next, n))
	n.scheduled = true
}

// Timed is a discrete event mesh simulation. Each node ticks every
// CyclesPerTick cycles of its own clock, whose frequency is set by the
// node's frequency controller.
//
type Timed struct {
	engine akita.Engine
	nodes  []*timedNode
	cpt    int
	delay  akita.VTimeInSec
	until  akita.VTimeInSec
	fatal  error

	// words arriving after until
	pending []*wordEvent
}

func (t *Timed) send(ev *wordEvent) {
	if ev.Time() > t.until {
		t.pending = append(t.pending, ev)
		return
	}
	t.engine.Schedule(ev)
}

// NewTimed builds a new timed mesh of nodes connected by edges.
//
func NewTimed(cfg TimedConfig, nodes []NodeConfig, edges []Edge) (*Timed, error) {
	if cfg.SysFreq <= 0 {
		cfg.SysFreq = DefaultSysFreq
	}
	if cfg.CyclesPerTick <= 0 {
		cfg.CyclesPerTick = DefaultCyclesPerTick
	}
	if cfg.RxDepth <= 0 {
		cfg.RxDepth = bittide.MaxBurst
	}
	if cfg.LinkDelay < 0 {
		return nil, errors.Errorf("negative link delay %v", cfg.LinkDelay)
	}
	degrees, ends, err := layout(nodes, edges)
	if err != nil {
		return nil, err
	}
	t := &Timed{
		engine: akita.NewSerialEngine(),
		cpt:    cfg.CyclesPerTick,
		delay:  akita.VTimeInSec(cfg.LinkDelay),
	}

	rx := make([][]*rxFifo, len(nodes))
	ports := make([][]bittide.Port, len(nodes))
	for i, d := range degrees {
		rx[i] = make([]*rxFifo, d)
		ports[i] = make([]bittide.Port, d)
		for j := range ports[i] {
			rx[i][j] = &rxFifo{depth: cfg.RxDepth}
			ports[i][j] = nullPort{}
		}
	}
	for _, e := range ends {
		a, b := e[0], e[1]
		ports[a.node][a.port] = &timedPort{t, rx[a.node][a.port], rx[b.node][b.port]}
		ports[b.node][b.port] = &timedPort{t, rx[b.node][b.port], rx[a.node][a.port]}
	}
	masks := linkMasks(degrees, ends)
	period := float64(cfg.CyclesPerTick) / cfg.SysFreq
	for i, nc := range nodes {
		n, err := newNode(i, nc, cfg.SysFreq, ports[i], masks[i])
		if err != nil {
			return nil, err
		}
		t.nodes = append(t.nodes, &timedNode{
			Node: n,
			t:    t,
			rx:   rx[i],
			// spread the first ticks over one period.
			next: akita.VTimeInSec(period * float64(i) / float64(len(nodes))),
		})
	}
	return t, nil
}

// Run runs the simulation until the given simulated time, in seconds. It
// can be called again with a later time to resume the simulation. Run stops
// all nodes at the first fatal node error and returns it.
//
func (t *Timed) Run(until float64) error {
	if t.fatal != nil {
		return t.fatal
	}
	t.until = akita.VTimeInSec(until)
	pending := t.pending
	t.pending = nil
	for _, ev := range pending {
		t.send(ev)
	}
	for _, n := range t.nodes {
		n.schedule()
	}
	if err := t.engine.Run(); err != nil {
		return errors.Wrap(err, "simulation engine")
	}
	return t.fatal
}

// Now returns the current simulated time in seconds.
//
func (t *Timed) Now() float64 { return float64(t.engine.CurrentTime()) }

// Nodes returns the simulated nodes.
//
func (t *Timed) Nodes() []*Node {
	ns := make([]*Node, len(t.nodes))
	for i, n := range t.nodes {
		ns[i] = n.Node
	}
	return ns
}

// NodeStats is a summary of a simulated node's state.
//
type NodeStats struct {
	ID       int
	Freq     float64 // current clock frequency in Hz
	Overruns uint64  // words dropped by full receive FIFOs
	Errors   uint64  // non fatal tick errors
	Err      error   // fatal error
	Debug    bittide.DebugInfo
}

// Stats returns the current state of all nodes.
//
func (t *Timed) Stats() []NodeStats {
	st := make([]NodeStats, len(t.nodes))
	for i, n := range t.nodes {
		s := NodeStats{
			ID:     n.ID,
			Freq:   n.Clock.Freq(),
			Errors: n.Errors,
			Err:    n.fatal,
			Debug:  n.Control.Debug(),
		}
		for _, f := range n.rx {
			s.Overruns += f.overruns
		}
		st[i] = s
	}
	return st
}
