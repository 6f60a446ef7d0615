// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

// Package si5351 drives the PLLs of a Si5351 clock generator over I2C.
//
// Only the PLL feedback multisynth is handled: it is what a frequency
// controller needs to fine tune the generated clock. The output multisynth
// and clock outputs are expected to be configured once at startup.
//
// The PLL multiplier is a + b/c, with 15 <= a <= 90 and 0 <= b <= c < 2^20.
// It is encoded in three parameters:
//
//	P1 = 128a + floor(128b/c) - 512
//	P2 = 128b - c*floor(128b/c)
//	P3 = c
//
package si5351

import (
	"github.com/pkg/errors"
	"tinygo.org/x/drivers"
)

// DefaultAddress is the I2C address of the Si5351.
//
const DefaultAddress = 0x60

// PLL selects one of the two PLLs.
//
type PLL uint8

// PLLs
//
const (
	PLLA PLL = iota
	PLLB
)

func (p PLL) String() string {
	if p == PLLB {
		return "PLL B"
	}
	return "PLL A"
}

// Register returns the address of the first parameter register of p.
//
func (p PLL) Register() uint8 {
	if p == PLLB {
		return regPLLB
	}
	return regPLLA
}

const (
	regPLLA = 26
	regPLLB = 34
)

// Multiplier limits.
//
const (
	MinMult  = 15
	MaxMult  = 90
	MaxDenom = 0xfffff
)

// FracMult is the integer part of the multiplier used by SetPLLFrac.
//
const FracMult = 35

// Params are the encoded multisynth parameters.
//
type Params struct {
	P1, P2, P3 uint32
}

// Encode computes the parameters for a multiplier a + b/c.
//
func Encode(a, b, c uint32) (Params, error) {
	if a < MinMult || a > MaxMult {
		return Params{}, errors.Errorf("si5351: multiplier %d out of range [%d, %d]", a, MinMult, MaxMult)
	}
	if c == 0 || c > MaxDenom || b > c {
		return Params{}, errors.Errorf("si5351: invalid fraction %d/%d", b, c)
	}
	f := 128 * b / c
	return Params{
		P1: 128*a + f - 512,
		P2: 128*b - c*f,
		P3: c,
	}, nil
}

// Registers returns the register values for p, in address order.
//
func (p Params) Registers() [8]byte {
	return [8]byte{
		byte(p.P3 >> 8),
		byte(p.P3),
		byte(p.P1>>16) & 0x03,
		byte(p.P1 >> 8),
		byte(p.P1),
		byte(p.P3>>12)&0xf0 | byte(p.P2>>16)&0x0f,
		byte(p.P2 >> 8),
		byte(p.P2),
	}
}

// DecodeParams is the reverse of Params.Registers. It panics if len(regs) < 8.
//
func DecodeParams(regs []byte) Params {
	_ = regs[7]
	return Params{
		P1: uint32(regs[2]&0x03)<<16 | uint32(regs[3])<<8 | uint32(regs[4]),
		P2: uint32(regs[5]&0x0f)<<16 | uint32(regs[6])<<8 | uint32(regs[7]),
		P3: uint32(regs[5]&0xf0)<<12 | uint32(regs[0])<<8 | uint32(regs[1]),
	}
}

// Mult returns the multiplier encoded in p.
//
func (p Params) Mult() float64 {
	if p.P3 == 0 {
		return float64(p.P1+512) / 128
	}
	return (float64(p.P1+512)*float64(p.P3) + float64(p.P2)) / (128 * float64(p.P3))
}

// DecodePLL returns the multiplier encoded in the 8 PLL parameter registers
// regs.
//
func DecodePLL(regs []byte) float64 {
	return DecodeParams(regs).Mult()
}

type txPender interface {
	TxPending() int
}

// Device is a Si5351 on an I2C bus.
//
// If the bus implements
//
//	TxPending() int
//
// returning the number of bytes waiting in its transmit queue, Busy reports
// whether a transfer is still in progress.
//
type Device struct {
	bus  drivers.I2C
	addr uint16
	buf  [9]byte
}

// New returns a new Device. If addr is 0, DefaultAddress is used.
//
func New(bus drivers.I2C, addr uint16) *Device {
	if addr == 0 {
		addr = DefaultAddress
	}
	return &Device{bus: bus, addr: addr}
}

// SetupPLL sets the multiplier of pll to a + b/c.
//
func (d *Device) SetupPLL(pll PLL, a, b, c uint32) error {
	p, err := Encode(a, b, c)
	if err != nil {
		return err
	}
	regs := p.Registers()
	d.buf[0] = pll.Register()
	copy(d.buf[1:], regs[:])
	if err = d.bus.Tx(d.addr, d.buf[:], nil); err != nil {
		return errors.Wrapf(err, "si5351: setup %v", pll)
	}
	return nil
}

// ReadPLL reads back the parameters of pll.
//
func (d *Device) ReadPLL(pll PLL) (Params, error) {
	var regs [8]byte
	if err := d.bus.Tx(d.addr, []byte{pll.Register()}, regs[:]); err != nil {
		return Params{}, errors.Wrapf(err, "si5351: read %v", pll)
	}
	return DecodeParams(regs[:]), nil
}

// SetPLLFrac sets the multiplier of PLL A to FracMult + frac/MaxDenom. Only
// the 20 low bits of frac are used.
//
func (d *Device) SetPLLFrac(frac uint32) error {
	return d.SetupPLL(PLLA, FracMult, frac&MaxDenom, MaxDenom)
}

// Busy returns true if the bus still has a transfer in progress.
//
func (d *Device) Busy() bool {
	if tp, ok := d.bus.(txPender); ok {
		return tp.TxPending() > 0
	}
	return false
}
