// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package freqctl

import (
	"github.com/db47h/bittide/fixed"
	"github.com/db47h/bittide/pid"
	"github.com/pkg/errors"
)

// Valid range of the rp2040 PLL feedback divider.
//
const (
	FbdivMin = 16
	FbdivMax = 320
)

// FbdivRegister is an integer PLL feedback divider. The VCO runs at the
// reference frequency times the divider, so a higher value results in a higher
// output frequency.
//
type FbdivRegister interface {
	Fbdiv() uint16
	SetFbdiv(v uint16) error
}

// FbdivConfig configures an Fbdiv controller.
//
type FbdivConfig struct {
	Capacity int // elastic buffer capacity. Defaults to DefaultCapacity.
	Degree   int // initial neighbor count
	Gains    pid.Settings
	// Divider range. Zero values default to FbdivMin and FbdivMax.
	Min, Max uint16
}

// Fbdiv controls frequency through an integer PLL feedback divider.
//
// Since a larger divider raises the frequency, the PID correction is
// subtracted from the divider: buffers below their target mean that this node
// drains them faster than its neighbors fill them, so it must slow down.
//
// Fbdiv uses the strict PID variant: a buffer error that cannot be
// represented is reported as an error and no correction is applied.
//
type Fbdiv struct {
	reg      FbdivRegister
	pid      *pid.Control
	capacity int
	degree   int
	min, max fixed.I16F16
	fbdiv    fixed.I16F16
	last     uint16
	dbg      Debug
}

// NewFbdiv returns a new Fbdiv controller. The internal divider state is
// initialized from the current register value.
//
func NewFbdiv(reg FbdivRegister, cfg FbdivConfig) (*Fbdiv, error) {
	if reg == nil {
		return nil, errors.New("freqctl: nil fbdiv register")
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Min == 0 {
		cfg.Min = FbdivMin
	}
	if cfg.Max == 0 {
		cfg.Max = FbdivMax
	}
	if cfg.Min > cfg.Max {
		return nil, errors.Errorf("freqctl: invalid fbdiv range [%d, %d]", cfg.Min, cfg.Max)
	}
	c := &Fbdiv{
		reg:      reg,
		pid:      pid.New(cfg.Gains),
		capacity: cfg.Capacity,
		degree:   cfg.Degree,
		min:      fixed.FromInt(int(cfg.Min)),
		max:      fixed.FromInt(int(cfg.Max)),
		last:     reg.Fbdiv(),
	}
	c.fbdiv = fixed.FromInt(int(c.last)).Clamp(c.min, c.max)
	c.dbg.Degree = c.degree
	c.dbg.Divider = c.fbdiv
	c.dbg.Setting = uint32(c.last)
	return c, nil
}

// Run implements Controller.
//
func (c *Fbdiv) Run(levels []int) error {
	target, actual, err := measure(levels, c.degree, c.capacity)
	if err != nil {
		return err
	}
	c.dbg.Target, c.dbg.Actual = target, actual
	adj, ok := c.pid.RunChecked(fixed.FromInt(target), fixed.FromInt(actual))
	if !ok {
		return errors.Errorf("freqctl: buffer error %d - %d out of range", target, actual)
	}
	c.dbg.Adjust = adj

	next := c.fbdiv.Sub(adj).Clamp(c.min, c.max)
	v := uint16(next.Round().Int())
	if v != c.last {
		if err = c.reg.SetFbdiv(v); err != nil {
			return errors.Wrapf(err, "freqctl: set fbdiv to %d", v)
		}
		c.last = v
	}
	c.fbdiv = next
	c.dbg.Divider = next
	c.dbg.Setting = uint32(v)
	return nil
}

// SetDegree implements Controller.
//
func (c *Fbdiv) SetDegree(n int) {
	c.degree = n
	c.dbg.Degree = n
}

// Debug implements Controller.
//
func (c *Fbdiv) Debug() Debug { return c.dbg }

// Divider returns the internal divider value.
//
func (c *Fbdiv) Divider() fixed.I16F16 { return c.fbdiv }
