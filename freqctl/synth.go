// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package freqctl

import (
	"github.com/db47h/bittide/fixed"
	"github.com/db47h/bittide/pid"
	"github.com/pkg/errors"
)

// Fractional PLL multiplier range.
//
const (
	FracMax    = 0xfffff
	FracCenter = FracMax / 2

	// the internal offset keeps 12 more bits than the fraction register.
	fracShift = 12
	minOffset = fixed.I16F16(-FracCenter << fracShift)
)

// PLLSynth is an external clock synthesizer whose PLL multiplier fraction can
// be set. A larger fraction results in a higher output frequency.
//
type PLLSynth interface {
	// SetPLLFrac sets the fractional part of the PLL multiplier.
	SetPLLFrac(frac uint32) error
	// Busy returns true if an update cannot be started without blocking.
	Busy() bool
}

// SynthConfig configures a Synth controller.
//
type SynthConfig struct {
	Capacity int // elastic buffer capacity. Defaults to DefaultCapacity.
	Degree   int // initial neighbor count
	Gains    pid.Settings
}

// Synth controls frequency through the fractional PLL multiplier of an
// external clock synthesizer. The fraction starts at FracCenter.
//
// The PID correction is subtracted from the multiplier: buffers below their
// target slow the node down.
//
// If the synthesizer is busy, the internal state is still updated but the
// hardware update is skipped for this tick.
//
type Synth struct {
	synth    PLLSynth
	pid      *pid.Control
	capacity int
	degree   int
	offset   fixed.I16F16
	dbg      Debug
}

// NewSynth returns a new Synth controller.
//
func NewSynth(synth PLLSynth, cfg SynthConfig) *Synth {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	return &Synth{
		synth:    synth,
		pid:      pid.New(cfg.Gains),
		capacity: cfg.Capacity,
		degree:   cfg.Degree,
		dbg:      Debug{Degree: cfg.Degree, Setting: FracCenter},
	}
}

func fracOf(offset fixed.I16F16) uint32 {
	f := FracCenter + int(offset.Bits()>>fracShift)
	switch {
	case f < 0:
		f = 0
	case f > FracMax:
		f = FracMax
	}
	return uint32(f)
}

// Run implements Controller.
//
func (c *Synth) Run(levels []int) error {
	target, actual, err := measure(levels, c.degree, c.capacity)
	if err != nil {
		return err
	}
	c.dbg.Target, c.dbg.Actual = target, actual
	adj := c.pid.Run(fixed.FromInt(target), fixed.FromInt(actual))
	c.dbg.Adjust = adj

	next := c.offset.Sub(adj).Clamp(minOffset, fixed.Max)
	if c.synth.Busy() {
		c.dbg.Skipped++
	} else {
		frac := fracOf(next)
		if err = c.synth.SetPLLFrac(frac); err != nil {
			return errors.Wrapf(err, "freqctl: set pll fraction to %#x", frac)
		}
		c.dbg.Setting = frac
	}
	c.offset = next
	c.dbg.Divider = next
	return nil
}

// SetDegree implements Controller.
//
func (c *Synth) SetDegree(n int) {
	c.degree = n
	c.dbg.Degree = n
}

// Debug implements Controller.
//
func (c *Synth) Debug() Debug { return c.dbg }

// Frac returns the fraction matching the current internal state. It may
// differ from the last value written to the hardware if updates were
// skipped.
//
func (c *Synth) Frac() uint32 { return fracOf(c.offset) }
