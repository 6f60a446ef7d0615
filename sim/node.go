// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

// Package sim simulates meshes of bittide nodes.
//
// Mesh runs all nodes in lockstep, one tick per step, and is suited to test
// the logical behavior of the channel controllers. Timed is a discrete event
// simulation where each node ticks at its own, controlled, frequency.
//
// In both simulations, nodes are fully fledged bittide.ChannelControl
// instances connected with point to point links. Links are described by an
// edge list: each edge takes up the next free port of both of its nodes and
// unused ports are masked.
//
package sim

import (
	"github.com/db47h/bittide"
	"github.com/db47h/bittide/freqctl"
	"github.com/db47h/bittide/pid"
	"github.com/db47h/bittide/si5351"
	"github.com/pkg/errors"
)

// Simulation defaults.
//
const (
	DefaultSysFreq       = 125e6
	DefaultCyclesPerTick = 4096
	DefaultMailboxDepth  = 16
)

// Actuator selects a node's frequency controller and clock model.
//
type Actuator int

// Supported actuators.
//
const (
	FbdivActuator Actuator = iota // freqctl.Fbdiv driving an FbdivClock
	SynthActuator                 // freqctl.Synth driving a Si5351 on a SynthClock
)

func (a Actuator) String() string {
	if a == SynthActuator {
		return "synth"
	}
	return "fbdiv"
}

// NodeConfig configures a simulated node.
//
type NodeConfig struct {
	Degree   int // number of ports. Defaults to bittide.DefaultDegree.
	Capacity int // elastic buffer capacity. Defaults to bittide.DefaultCapacity.
	Gains    pid.Settings
	Actuator Actuator
	// Initial feedback divider and its range, FbdivActuator only.
	Fbdiv, FbdivMin, FbdivMax uint16
	// Static clock error in parts per million.
	PPM    float64
	Logger bittide.Logger
}

// Edge is a bidirectional link between nodes A and B.
//
type Edge struct {
	A, B int
}

// Node is a simulated node.
//
type Node struct {
	ID      int
	Control *bittide.ChannelControl
	Mailbox *bittide.ChanMailbox
	Freq    freqctl.Controller
	Clock   Clock
	// Err is the last tick result.
	Err error
	// Errors counts non fatal tick errors.
	Errors uint64
}

func newNode(id int, cfg NodeConfig, sysFreq float64, ports []bittide.Port, mask []bool) (*Node, error) {
	n := &Node{
		ID:      id,
		Mailbox: bittide.NewChanMailbox(DefaultMailboxDepth),
	}
	switch cfg.Actuator {
	case FbdivActuator:
		clk := NewFbdivClock(sysFreq, cfg.Fbdiv, cfg.PPM)
		n.Clock = clk
		fc, err := freqctl.NewFbdiv(clk, freqctl.FbdivConfig{
			Capacity: cfg.Capacity,
			Gains:    cfg.Gains,
			Min:      cfg.FbdivMin,
			Max:      cfg.FbdivMax,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "node %d", id)
		}
		n.Freq = fc
	case SynthActuator:
		clk := NewSynthClock(sysFreq, cfg.PPM)
		n.Clock = clk
		n.Freq = freqctl.NewSynth(si5351.New(clk, si5351.DefaultAddress), freqctl.SynthConfig{
			Capacity: cfg.Capacity,
			Gains:    cfg.Gains,
		})
	default:
		return nil, errors.Errorf("node %d: unknown actuator %d", id, cfg.Actuator)
	}
	ctl, err := bittide.New(n.Freq, bittide.NewPortLinks(ports...), n.Mailbox, bittide.Config{
		Degree:   len(ports),
		Capacity: cfg.Capacity,
		LinkMask: mask,
		Logger:   cfg.Logger,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "node %d", id)
	}
	n.Control = ctl
	return n, nil
}

// record stores the result of a tick and returns it if fatal.
//
func (n *Node) record(err error) error {
	n.Err = err
	if err == nil {
		return nil
	}
	if bittide.IsFatal(err) {
		return errors.Wrapf(err, "node %d", n.ID)
	}
	n.Errors++
	return nil
}

// link is one end of an edge.
//
type link struct {
	node, port int
}

// layout returns the port degree of each node and the two ends of every edge.
//
func layout(nodes []NodeConfig, edges []Edge) ([]int, [][2]link, error) {
	if len(nodes) == 0 {
		return nil, nil, errors.New("empty node list")
	}
	degrees := make([]int, len(nodes))
	for i, n := range nodes {
		degrees[i] = n.Degree
		if degrees[i] == 0 {
			degrees[i] = bittide.DefaultDegree
		}
		if degrees[i] < 0 || degrees[i] > bittide.MaxDegree {
			return nil, nil, errors.Errorf("node %d: invalid degree %d", i, degrees[i])
		}
	}
	used := make([]int, len(nodes))
	ends := make([][2]link, len(edges))
	for i, e := range edges {
		if e.A < 0 || e.A >= len(nodes) || e.B < 0 || e.B >= len(nodes) {
			return nil, nil, errors.Errorf("edge %d: node out of range", i)
		}
		if e.A == e.B {
			return nil, nil, errors.Errorf("edge %d: node %d connected to itself", i, e.A)
		}
		for j, n := range [2]int{e.A, e.B} {
			if used[n] == degrees[n] {
				return nil, nil, errors.Errorf("edge %d: no free port on node %d", i, n)
			}
			ends[i][j] = link{n, used[n]}
			used[n]++
		}
	}
	return degrees, ends, nil
}

func linkMasks(degrees []int, ends [][2]link) [][]bool {
	masks := make([][]bool, len(degrees))
	for i, d := range degrees {
		masks[i] = make([]bool, d)
	}
	for _, e := range ends {
		for _, l := range e {
			masks[l.node][l.port] = true
		}
	}
	return masks
}

// nullPort is an unconnected port.
//
type nullPort struct{}

func (nullPort) Read() (uint32, bool) { return 0, false }
func (nullPort) Write(uint32)         {}
