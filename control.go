// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package bittide

import (
	"context"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/db47h/bittide/freqctl"
	"github.com/pkg/errors"
)

// Default configuration values.
//
const (
	DefaultDegree   = 4
	DefaultCapacity = freqctl.DefaultCapacity
)

// Logger is the logging interface used by ChannelControl. It is satisfied by
// *log.Logger.
//
type Logger interface {
	Printf(format string, v ...interface{})
}

// Config configures a ChannelControl.
//
type Config struct {
	// Number of links. Defaults to DefaultDegree. Must not exceed MaxDegree.
	Degree int
	// Elastic buffer capacity. Defaults to DefaultCapacity.
	Capacity int
	// LinkMask selects the links in use. If nil, all links are enabled.
	LinkMask []bool
	// Logger receives warnings. If nil, warnings are discarded.
	Logger Logger
}

// DebugInfo is a snapshot of a ChannelControl's state.
//
type DebugInfo struct {
	Ticks        uint64
	BufferLevels []int    // per link elastic buffer level
	Starved      []uint64 // per link count of ticks with an empty elastic buffer
	RxSync       uint64   // sync messages received
	RxData       uint64   // data messages received
	Forwarded    uint64   // data messages forwarded to the application
	Degree       int      // active links at the last tick
	LastError    Code     // result of the last tick
	Freq         freqctl.Debug
}

func (d *DebugInfo) clone() DebugInfo {
	c := *d
	c.BufferLevels = append([]int(nil), d.BufferLevels...)
	c.Starved = append([]uint64(nil), d.Starved...)
	return c
}

// ChannelControl is the per-node bittide channel controller. It multiplexes
// application data onto the links, buffers received messages in one elastic
// buffer per link and drives a frequency controller with the buffer levels.
//
// Interrupt must be called exactly once per fixed interval of system clock
// cycles. Debug may be called concurrently from another goroutine.
//
type ChannelControl struct {
	busy atomic.Bool
	mu   sync.Mutex

	fc    freqctl.Controller
	links Links
	mbox  Mailbox
	log   Logger
	mask  []bool
	fifos []*Fifo

	tx     []uint32
	levels []int
	dbg    DebugInfo
}

// New returns a new ChannelControl. The elastic buffers are created
// pre-filled to half their capacity.
//
func New(fc freqctl.Controller, links Links, mbox Mailbox, cfg Config) (*ChannelControl, error) {
	if cfg.Degree == 0 {
		cfg.Degree = DefaultDegree
	}
	if cfg.Degree < 0 || cfg.Degree > MaxDegree {
		return nil, errors.Errorf("invalid degree %d", cfg.Degree)
	}
	if cfg.Capacity == 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Capacity < 0 {
		return nil, errors.Errorf("invalid elastic buffer capacity %d", cfg.Capacity)
	}
	if cfg.LinkMask != nil && len(cfg.LinkMask) != cfg.Degree {
		return nil, errors.Errorf("link mask size %d does not match degree %d", len(cfg.LinkMask), cfg.Degree)
	}
	if fc == nil || links == nil || mbox == nil {
		return nil, errors.New("nil frequency controller, links or mailbox")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}

	c := &ChannelControl{
		fc:     fc,
		links:  links,
		mbox:   mbox,
		log:    cfg.Logger,
		mask:   append([]bool(nil), cfg.LinkMask...),
		fifos:  make([]*Fifo, cfg.Degree),
		tx:     make([]uint32, cfg.Degree),
		levels: make([]int, cfg.Degree),
		dbg: DebugInfo{
			BufferLevels: make([]int, cfg.Degree),
			Starved:      make([]uint64, cfg.Degree),
		},
	}
	for i := range c.fifos {
		c.fifos[i] = NewFifo(cfg.Capacity)
		c.dbg.BufferLevels[i] = c.fifos[i].Len()
	}
	return c, nil
}

func (c *ChannelControl) enabled(i int) bool {
	return c.mask == nil || c.mask[i]
}

// Interrupt runs one tick of the control loop:
//
//	1. read at most one word from the mailbox and stage it for its neighbor
//	2. write one word to every link (staged data or sync)
//	3. read all pending words from the links, rewriting the neighbor field of
//	   data messages to the link they were received on
//	4. push them onto the link's elastic buffer
//	5. pop one message from each elastic buffer, forwarding data to the
//	   mailbox
//	6. record buffer levels
//	7. run the frequency controller
//
// Invalid application input (ErrSyncFromUser, ErrInvalidNeighbor) does not
// prevent the tick from completing: links still receive sync words. An
// elastic buffer overflow (ErrFifoFull) aborts the tick and is fatal. A
// frequency controller failure is reported with code
// FrequencyControllerError after the tick completes.
//
// Interrupt panics with ErrTickOverrun if called while a previous call is
// still running.
//
func (c *ChannelControl) Interrupt() error {
	if !c.busy.CompareAndSwap(false, true) {
		panic(ErrTickOverrun)
	}
	defer c.busy.Store(false)

	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.tick()
	c.dbg.Ticks++
	c.dbg.LastError = CodeOf(err)
	return err
}

func (c *ChannelControl) tick() error {
	var uerr error

	for i := range c.tx {
		c.tx[i] = SyncWord
	}
	if w, ok := c.mbox.Read(); ok {
		switch m := Decode(w); {
		case m.IsSync():
			uerr = ErrSyncFromUser
		case int(m.Neighbor) >= len(c.tx):
			uerr = errors.Wrapf(ErrInvalidNeighbor, "neighbor %d", m.Neighbor)
		default:
			c.tx[m.Neighbor] = m.Encode()
		}
	}

	c.links.Write(c.tx)

	rx := c.links.Read()
	for i, f := range c.fifos {
		if !c.enabled(i) || i >= len(rx) {
			continue
		}
		for _, w := range rx[i] {
			m := Decode(w)
			if m.Comm {
				m.Neighbor = uint8(i)
				c.dbg.RxData++
			} else {
				c.dbg.RxSync++
			}
			if err := f.PushBack(m); err != nil {
				c.snapshot()
				return errors.Wrapf(err, "link %d", i)
			}
		}
	}

	for i, f := range c.fifos {
		if !c.enabled(i) {
			continue
		}
		m, ok := f.PopFront()
		if !ok {
			// nothing connected on this link, or it is starved.
			c.dbg.Starved[i]++
			c.log.Printf("bittide: FIFO #%d is empty", i)
			continue
		}
		if m.Comm {
			c.mbox.Write(m.Encode())
			c.dbg.Forwarded++
		}
	}

	c.snapshot()

	degree := 0
	for i, a := range c.links.Active() {
		if a && i < len(c.fifos) && c.enabled(i) {
			degree++
		}
	}
	c.dbg.Degree = degree
	c.fc.SetDegree(degree)
	err := c.fc.Run(c.levels)
	c.dbg.Freq = c.fc.Debug()
	if err != nil {
		ferr := &Error{Code: FrequencyControllerError, Err: err}
		if uerr != nil {
			c.log.Printf("%v", ferr)
			return uerr
		}
		return ferr
	}
	return uerr
}

func (c *ChannelControl) snapshot() {
	for i, f := range c.fifos {
		c.dbg.BufferLevels[i] = f.Len()
		if c.enabled(i) {
			c.levels[i] = f.Len()
		} else {
			c.levels[i] = 0
		}
	}
}

// Debug returns a copy of the debug information. It never observes a tick in
// progress.
//
func (c *ChannelControl) Debug() DebugInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dbg.clone()
}

// Degree returns the number of links.
//
func (c *ChannelControl) Degree() int { return len(c.fifos) }

// Run calls Interrupt once for every value received from tick, until ctx is
// done or tick is closed. Non fatal errors are passed to report, if not nil.
// Run returns the first fatal error.
//
// Run is meant to be the only owner of c: it takes the place of the periodic
// interrupt handler.
//
func (c *ChannelControl) Run(ctx context.Context, tick <-chan time.Time, report func(error)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-tick:
			if !ok {
				return nil
			}
			if err := c.Interrupt(); err != nil {
				if IsFatal(err) {
					return err
				}
				if report != nil {
					report(err)
				}
			}
		}
	}
}
