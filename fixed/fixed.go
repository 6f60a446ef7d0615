// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

// Package fixed implements a 32 bits signed fixed-point number with 16
// integer bits and 16 fractional bits.
//
// All arithmetic saturates at Min and Max instead of wrapping around. Checked
// variants report overflow instead.
//
package fixed

import (
	"math"
	"strconv"

	"github.com/pkg/errors"
)

// I16F16 is a signed fixed-point number with 16 fractional bits.
//
type I16F16 int32

const fracBits = 16

// Some useful values.
//
const (
	Zero I16F16 = 0
	One  I16F16 = 1 << fracBits
	Max  I16F16 = math.MaxInt32
	Min  I16F16 = math.MinInt32
	// Delta is the smallest positive value.
	Delta I16F16 = 1

	half     = One >> 1
	fracMask = One - 1
)

func sat(v int64) I16F16 {
	switch {
	case v > int64(Max):
		return Max
	case v < int64(Min):
		return Min
	}
	return I16F16(v)
}

// FromInt returns i as an I16F16, saturated to [Min, Max].
//
func FromInt(i int) I16F16 {
	return sat(int64(i) << fracBits)
}

// FromFloat returns f rounded to the nearest I16F16, saturated to [Min, Max].
//
func FromFloat(f float64) I16F16 {
	if math.IsNaN(f) {
		return Zero
	}
	v := math.Round(f * float64(One))
	if v >= float64(Max) {
		return Max
	}
	if v <= float64(Min) {
		return Min
	}
	return I16F16(v)
}

// FromBits returns the I16F16 whose raw representation is b.
//
func FromBits(b int32) I16F16 { return I16F16(b) }

// Parse parses a decimal number like "0.001" or "-12.5".
//
func Parse(s string) (I16F16, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Zero, errors.Wrapf(err, "fixed: parse %q", s)
	}
	if f > Max.Float() || f < Min.Float() {
		return Zero, errors.Errorf("fixed: %q out of range", s)
	}
	return FromFloat(f), nil
}

// MustParse is like Parse but panics on error. Meant for constants.
//
func MustParse(s string) I16F16 {
	x, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return x
}

// Bits returns the raw representation of x.
//
func (x I16F16) Bits() int32 { return int32(x) }

// Float returns x as a float64. The conversion is exact.
//
func (x I16F16) Float() float64 { return float64(x) / float64(One) }

// Int returns the integer part of x, rounded towards negative infinity.
//
func (x I16F16) Int() int { return int(x >> fracBits) }

// Frac returns the fractional part of x, always positive.
//
func (x I16F16) Frac() I16F16 { return x & fracMask }

// Round returns x rounded to the nearest integer, ties away from zero.
//
func (x I16F16) Round() I16F16 {
	v := int64(x)
	if v >= 0 {
		return sat((v + int64(half)) &^ int64(fracMask))
	}
	return sat(-((-v + int64(half)) &^ int64(fracMask)))
}

// Add returns x+y, saturated.
//
func (x I16F16) Add(y I16F16) I16F16 { return sat(int64(x) + int64(y)) }

// Sub returns x-y, saturated.
//
func (x I16F16) Sub(y I16F16) I16F16 { return sat(int64(x) - int64(y)) }

// Mul returns x*y, saturated. The result is truncated towards negative
// infinity.
//
func (x I16F16) Mul(y I16F16) I16F16 { return sat((int64(x) * int64(y)) >> fracBits) }

// Neg returns -x, saturated.
//
func (x I16F16) Neg() I16F16 { return sat(-int64(x)) }

// CheckedAdd returns x+y and true, or 0 and false on overflow.
//
func (x I16F16) CheckedAdd(y I16F16) (I16F16, bool) {
	v := int64(x) + int64(y)
	if v > int64(Max) || v < int64(Min) {
		return Zero, false
	}
	return I16F16(v), true
}

// CheckedSub returns x-y and true, or 0 and false on overflow.
//
func (x I16F16) CheckedSub(y I16F16) (I16F16, bool) {
	v := int64(x) - int64(y)
	if v > int64(Max) || v < int64(Min) {
		return Zero, false
	}
	return I16F16(v), true
}

// Clamp returns x restricted to [lo, hi].
//
func (x I16F16) Clamp(lo, hi I16F16) I16F16 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func (x I16F16) String() string {
	return strconv.FormatFloat(x.Float(), 'f', -1, 64)
}
