// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

// Package tidetest provides fake hardware and helpers for testing bittide
// controllers.
//
package tidetest

import (
	"github.com/db47h/bittide"
	"github.com/db47h/bittide/freqctl"
)

// Port is a fake link port. Words queued with Push are returned by Read;
// words written are appended to Tx.
//
type Port struct {
	Rx []uint32
	Tx []uint32
	// OnWrite, if not nil, is called after every Write.
	OnWrite func(w uint32)
}

// Push queues words to be read.
//
func (p *Port) Push(ws ...uint32) { p.Rx = append(p.Rx, ws...) }

// Read implements bittide.Port.
//
func (p *Port) Read() (uint32, bool) {
	if len(p.Rx) == 0 {
		return 0, false
	}
	w := p.Rx[0]
	p.Rx = p.Rx[1:]
	return w, true
}

// Write implements bittide.Port.
//
func (p *Port) Write(w uint32) {
	p.Tx = append(p.Tx, w)
	if p.OnWrite != nil {
		p.OnWrite(w)
	}
}

// Links returns degree fake ports wrapped into a bittide.PortLinks.
//
func Links(degree int) (*bittide.PortLinks, []*Port) {
	ps := make([]*Port, degree)
	bps := make([]bittide.Port, degree)
	for i := range ps {
		ps[i] = new(Port)
		bps[i] = ps[i]
	}
	return bittide.NewPortLinks(bps...), ps
}

// Mailbox is a fake bittide.Mailbox.
//
type Mailbox struct {
	In  []uint32 // words to be read by the controller
	Out []uint32 // words written by the controller
}

// Read implements bittide.Mailbox.
//
func (m *Mailbox) Read() (uint32, bool) {
	if len(m.In) == 0 {
		return 0, false
	}
	w := m.In[0]
	m.In = m.In[1:]
	return w, true
}

// Write implements bittide.Mailbox.
//
func (m *Mailbox) Write(w uint32) { m.Out = append(m.Out, w) }

// Controller is a fake freqctl.Controller that records its inputs.
//
type Controller struct {
	Levels  [][]int
	Degrees []int
	Err     error // returned by Run
	degree  int
}

// Run implements freqctl.Controller.
//
func (c *Controller) Run(levels []int) error {
	c.Levels = append(c.Levels, append([]int(nil), levels...))
	return c.Err
}

// SetDegree implements freqctl.Controller.
//
func (c *Controller) SetDegree(n int) {
	c.degree = n
	c.Degrees = append(c.Degrees, n)
}

// Debug implements freqctl.Controller.
//
func (c *Controller) Debug() freqctl.Debug {
	d := freqctl.Debug{Degree: c.degree}
	if n := len(c.Levels); n > 0 {
		for _, l := range c.Levels[n-1] {
			d.Actual += l
		}
	}
	return d
}

// FbdivRegister is a fake freqctl.FbdivRegister.
//
type FbdivRegister struct {
	Value  uint16
	Writes []uint16
	Err    error // returned by SetFbdiv
}

// Fbdiv implements freqctl.FbdivRegister.
//
func (r *FbdivRegister) Fbdiv() uint16 { return r.Value }

// SetFbdiv implements freqctl.FbdivRegister.
//
func (r *FbdivRegister) SetFbdiv(v uint16) error {
	if r.Err != nil {
		return r.Err
	}
	r.Value = v
	r.Writes = append(r.Writes, v)
	return nil
}

// Synth is a fake freqctl.PLLSynth.
//
type Synth struct {
	Frac     uint32
	Writes   []uint32
	BusyNext int   // number of upcoming calls to Busy that return true
	Err      error // returned by SetPLLFrac
}

// SetPLLFrac implements freqctl.PLLSynth.
//
func (s *Synth) SetPLLFrac(frac uint32) error {
	if s.Err != nil {
		return s.Err
	}
	s.Frac = frac
	s.Writes = append(s.Writes, frac)
	return nil
}

// Busy implements freqctl.PLLSynth.
//
func (s *Synth) Busy() bool {
	if s.BusyNext > 0 {
		s.BusyNext--
		return true
	}
	return false
}
