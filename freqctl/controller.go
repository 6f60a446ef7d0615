// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

// Package freqctl implements the frequency controllers that keep the elastic
// buffers of a bittide node centered by adjusting the node's clock.
//
// All controllers share the same algorithm: the sum of buffer levels across
// all links is compared with the ideal occupancy (half full for each active
// neighbor), and the PID output is applied to a high precision internal
// divider state which is then pushed to the hardware.
//
// The direction in which a correction is applied depends on the actuator and
// is fixed by each implementation.
//
package freqctl

import (
	"github.com/db47h/bittide/fixed"
	"github.com/pkg/errors"
)

// DefaultCapacity is the elastic buffer capacity assumed when a config does
// not specify one.
//
const DefaultCapacity = 64

// A Controller adjusts a node's frequency from elastic buffer levels.
//
// Run is called once per tick and must complete within the tick budget: it
// must never block.
//
type Controller interface {
	// Run runs one iteration of the control loop.
	Run(levels []int) error
	// SetDegree sets the number of neighbors the controller should assume.
	SetDegree(n int)
	// Debug returns a snapshot of the controller state.
	Debug() Debug
}

// Debug is a snapshot of a controller's state.
//
type Debug struct {
	Degree  int          // assumed neighbor count
	Target  int          // ideal sum of buffer levels
	Actual  int          // last sum of buffer levels
	Adjust  fixed.I16F16 // last PID output
	Divider fixed.I16F16 // internal divider state
	Setting uint32       // last value written to the hardware
	Skipped uint64       // updates skipped because the hardware was busy
}

// ErrShortLevels is returned by controllers when given fewer buffer levels
// than the current degree.
//
var ErrShortLevels = errors.New("freqctl: fewer buffer levels than neighbors")

// measure returns the target and actual sum of buffer levels.
//
func measure(levels []int, degree, capacity int) (target, actual int, err error) {
	if len(levels) < degree {
		return 0, 0, errors.Wrapf(ErrShortLevels, "%d levels, degree %d", len(levels), degree)
	}
	for _, l := range levels {
		actual += l
	}
	return degree * capacity / 2, actual, nil
}
