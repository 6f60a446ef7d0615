// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

// Package pid implements a discrete fixed-point PID controller.
//
package pid

import "github.com/db47h/bittide/fixed"

// Settings holds the proportional, integral and derivative gains.
//
type Settings struct {
	Kp, Ki, Kd fixed.I16F16
}

// Control is a PID controller. The zero value is a controller with all gains
// set to zero.
//
// The controller state (previous error and integral) persists across calls.
//
type Control struct {
	k        Settings
	prevErr  fixed.I16F16
	integral fixed.I16F16
}

// New returns a new PID controller with the given gains. The gains cannot be
// changed afterwards.
//
func New(k Settings) *Control {
	return &Control{k: k}
}

// Settings returns the controller gains.
//
func (c *Control) Settings() Settings { return c.k }

// Integral returns the accumulated error.
//
func (c *Control) Integral() fixed.I16F16 { return c.integral }

// PrevError returns the error computed by the last call to Run or RunChecked.
//
func (c *Control) PrevError() fixed.I16F16 { return c.prevErr }

// Run computes a correction from the setpoint and measurement. All
// arithmetic saturates.
//
//	error = setpoint - measurement
//	integral += error
//	derivative = error - previous error
//	output = kp*error + ki*integral + kd*derivative
//
func (c *Control) Run(setpoint, measurement fixed.I16F16) fixed.I16F16 {
	return c.run(setpoint.Sub(measurement))
}

// RunChecked is like Run except that it returns false and leaves the
// controller state untouched if setpoint - measurement cannot be represented.
//
func (c *Control) RunChecked(setpoint, measurement fixed.I16F16) (fixed.I16F16, bool) {
	e, ok := setpoint.CheckedSub(measurement)
	if !ok {
		return fixed.Zero, false
	}
	return c.run(e), true
}

func (c *Control) run(e fixed.I16F16) fixed.I16F16 {
	c.integral = c.integral.Add(e)
	d := e.Sub(c.prevErr)
	out := c.k.Kp.Mul(e).
		Add(c.k.Ki.Mul(c.integral)).
		Add(c.k.Kd.Mul(d))
	c.prevErr = e
	return out
}
