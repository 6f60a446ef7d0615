// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package sim

import (
	"github.com/db47h/bittide/freqctl"
	"github.com/db47h/bittide/si5351"
	"github.com/pkg/errors"
)

// Clock is a node's system clock.
//
type Clock interface {
	// Freq returns the current frequency in Hz.
	Freq() float64
}

// NominalFbdiv is the feedback divider value at which an FbdivClock runs at
// its base frequency.
//
const NominalFbdiv = 100

func ppm(f, e float64) float64 { return f * (1 + e*1e-6) }

// FbdivClock is a system clock driven by an integer feedback divider. It
// implements freqctl.FbdivRegister.
//
// The output frequency is Base * fbdiv / NominalFbdiv, like an rp2040 PLL
// whose VCO runs at the reference frequency times the feedback divider.
//
type FbdivClock struct {
	Base   float64 // frequency at NominalFbdiv
	PPM    float64 // static frequency error
	Writes uint64
	fbdiv  uint16
}

// NewFbdivClock returns a new FbdivClock. If fbdiv is 0, NominalFbdiv is
// used.
//
func NewFbdivClock(base float64, fbdiv uint16, ppm float64) *FbdivClock {
	if fbdiv == 0 {
		fbdiv = NominalFbdiv
	}
	return &FbdivClock{Base: base, PPM: ppm, fbdiv: fbdiv}
}

// Fbdiv implements freqctl.FbdivRegister.
//
func (c *FbdivClock) Fbdiv() uint16 { return c.fbdiv }

// SetFbdiv implements freqctl.FbdivRegister.
//
func (c *FbdivClock) SetFbdiv(v uint16) error {
	if v < freqctl.FbdivMin || v > freqctl.FbdivMax {
		return errors.Errorf("fbdiv %d out of range", v)
	}
	c.fbdiv = v
	c.Writes++
	return nil
}

// Freq implements Clock.
//
func (c *FbdivClock) Freq() float64 {
	return ppm(c.Base*float64(c.fbdiv)/NominalFbdiv, c.PPM)
}

// centerMult is the Si5351 PLL multiplier at freqctl.FracCenter.
var centerMult = si5351.FracMult + float64(freqctl.FracCenter)/si5351.MaxDenom

// SynthClock is a system clock generated by a simulated Si5351. It implements
// the I2C bus used by si5351.Device and decodes the PLL A registers to
// compute its frequency.
//
// The output frequency is Base * mult / centerMult where mult is the PLL A
// multiplier and centerMult the multiplier at freqctl.FracCenter.
//
type SynthClock struct {
	si5351.RegisterMap
	Base float64 // frequency at the center fraction
	PPM  float64 // static frequency error
}

// NewSynthClock returns a new SynthClock with PLL A set to the center
// fraction.
//
func NewSynthClock(base, ppm float64) *SynthClock {
	c := &SynthClock{Base: base, PPM: ppm}
	c.Addr = si5351.DefaultAddress
	p, err := si5351.Encode(si5351.FracMult, freqctl.FracCenter, si5351.MaxDenom)
	if err != nil {
		panic(err)
	}
	r := p.Registers()
	copy(c.Regs[si5351.PLLA.Register():], r[:])
	return c
}

// Mult returns the PLL A multiplier.
//
func (c *SynthClock) Mult() float64 { return c.PLL(si5351.PLLA) }

// Freq implements Clock.
//
func (c *SynthClock) Freq() float64 {
	return ppm(c.Base*c.Mult()/centerMult, c.PPM)
}
