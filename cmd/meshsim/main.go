// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

// Command meshsim simulates a mesh of bittide nodes and reports how well
// their clocks and elastic buffers converge.
//
// Usage:
//
//	meshsim [flags]
//
// In lockstep mode, all nodes tick once per step. In timed mode, each node
// runs from its own clock, with a static error spread over [-ppm, +ppm],
// adjusted by its frequency controller.
//
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	"github.com/db47h/bittide"
	"github.com/db47h/bittide/fixed"
	"github.com/db47h/bittide/pid"
	"github.com/db47h/bittide/sim"
	"github.com/dterei/gotsc"
	"github.com/pkg/errors"
	"github.com/tebeka/atexit"
)

var (
	mode     = flag.String("mode", "timed", "simulation mode: lockstep or timed")
	topo     = flag.String("topology", "ring", "topology: line, ring, star or full")
	edgeList = flag.String("edges", "", "explicit edge list, e.g. \"0-1, 1-2\". Overrides -topology")
	nodes    = flag.Int("n", 4, "number of nodes")
	actuator = flag.String("actuator", "synth", "frequency actuator: fbdiv or synth")
	spread   = flag.Float64("ppm", 2000, "clock error spread in ppm")
	capacity = flag.Int("capacity", bittide.DefaultCapacity, "elastic buffer capacity")
	kp       = flag.String("kp", "1", "proportional gain")
	ki       = flag.String("ki", "0", "integral gain")
	kd       = flag.String("kd", "0", "derivative gain")
	duration = flag.Float64("time", 0.1, "simulated time in seconds (timed mode)")
	steps    = flag.Int("steps", 10000, "number of steps (lockstep mode)")
	delay    = flag.Float64("delay", 0, "link delay in seconds (timed mode)")
	workers  = flag.Int("workers", 0, "worker goroutines (lockstep mode)")
	verbose  = flag.Bool("v", false, "log empty elastic buffers")
)

func gains() (pid.Settings, error) {
	var k pid.Settings
	for _, g := range []struct {
		name string
		s    string
		v    *fixed.I16F16
	}{
		{"kp", *kp, &k.Kp},
		{"ki", *ki, &k.Ki},
		{"kd", *kd, &k.Kd},
	} {
		v, err := fixed.Parse(g.s)
		if err != nil {
			return k, errors.Wrapf(err, "invalid %s", g.name)
		}
		*g.v = v
	}
	return k, nil
}

func configs() ([]sim.NodeConfig, []sim.Edge, error) {
	var (
		edges []sim.Edge
		err   error
	)
	if *edgeList != "" {
		edges, err = sim.ParseEdges(*edgeList)
	} else {
		edges, err = sim.Topology(*topo, *nodes)
	}
	if err != nil {
		return nil, nil, err
	}
	k, err := gains()
	if err != nil {
		return nil, nil, err
	}
	var act sim.Actuator
	switch *actuator {
	case "fbdiv":
		act = sim.FbdivActuator
	case "synth":
		act = sim.SynthActuator
	default:
		return nil, nil, errors.Errorf("unknown actuator %q", *actuator)
	}
	var logger bittide.Logger
	if *verbose {
		logger = log.New(os.Stderr, "", log.Lmicroseconds)
	}
	ncs := make([]sim.NodeConfig, *nodes)
	for i, d := range sim.Degrees(*nodes, edges) {
		if d == 0 {
			d = 1
		}
		e := 0.0
		if *nodes > 1 {
			e = *spread * (2*float64(i)/float64(*nodes-1) - 1)
		}
		ncs[i] = sim.NodeConfig{
			Degree:   d,
			Capacity: *capacity,
			Gains:    k,
			Actuator: act,
			PPM:      e,
			Logger:   logger,
		}
	}
	return ncs, edges, nil
}

func report(ns []*sim.Node) {
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 1, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "node\tfreq (Hz)\tticks\tdegree\tsetting\tlevels\terrors\tlast\t")
	for _, n := range ns {
		d := n.Control.Debug()
		fmt.Fprintf(w, "%d\t%.1f\t%d\t%d\t%#x\t%v\t%d\t%v\t\n",
			n.ID, n.Clock.Freq(), d.Ticks, d.Degree, d.Freq.Setting, d.BufferLevels, n.Errors, d.LastError)
	}
	w.Flush()
}

// tickCost returns the average cost of a single node tick in CPU cycles.
//
func tickCost(m *sim.Mesh) uint64 {
	const rounds = 1000
	tsc := gotsc.TSCOverhead()
	start := gotsc.BenchStart()
	for i := 0; i < rounds; i++ {
		if err := m.Step(); err != nil {
			log.Print(err)
			break
		}
	}
	end := gotsc.BenchEnd()
	return (end - start - tsc) / rounds / uint64(len(m.Nodes()))
}

func lockstep(ncs []sim.NodeConfig, edges []sim.Edge) error {
	m, err := sim.NewMesh(*workers, ncs, edges)
	if err != nil {
		return err
	}
	atexit.Register(m.Dispose)
	err = m.Run(*steps)
	report(m.Nodes())
	if err != nil {
		return err
	}
	c := tickCost(m)
	log.Printf("tick cost: %d cycles, budget %d cycles per tick", c, sim.DefaultCyclesPerTick)
	return nil
}

func timed(ncs []sim.NodeConfig, edges []sim.Edge) error {
	ts, err := sim.NewTimed(sim.TimedConfig{LinkDelay: *delay}, ncs, edges)
	if err != nil {
		return err
	}
	atexit.Register(func() { report(ts.Nodes()) })
	if err = ts.Run(*duration); err != nil {
		return err
	}
	var over uint64
	for _, s := range ts.Stats() {
		over += s.Overruns
	}
	log.Printf("simulated %gs, %d receive FIFO overruns", ts.Now(), over)
	return nil
}

func main() {
	flag.Parse()
	ncs, edges, err := configs()
	if err != nil {
		log.Print(err)
		atexit.Exit(2)
	}
	switch *mode {
	case "lockstep":
		err = lockstep(ncs, edges)
	case "timed":
		err = timed(ncs, edges)
	default:
		err = errors.Errorf("unknown mode %q", *mode)
	}
	if err != nil {
		log.Print(err)
		atexit.Exit(1)
	}
	atexit.Exit(0)
}
