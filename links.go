// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package bittide

import "sync/atomic"

const (
	// MaxDegree is the maximum number of links addressable by the neighbor
	// field of a message.
	MaxDegree = 1 << NeighborBits

	// MaxBurst is the maximum number of words read from a link in a single
	// tick. It allows neighbors to run up to MaxBurst times faster than
	// this node.
	MaxBurst = 4

	// NoMessageLimit is the number of consecutive ticks without any
	// received word after which a link is considered inactive.
	NoMessageLimit = 3
)

// Links is the transport to all neighbors. Implementations must never block.
//
type Links interface {
	// Write sends exactly one word per link.
	Write(words []uint32)
	// Read returns for each link the words received since the last call,
	// at most MaxBurst per link. The returned slices are only valid until
	// the next call to Read.
	Read() [][]uint32
	// Active reports which links have received data recently.
	Active() []bool
}

// Mailbox is a non-blocking single word channel to the application.
//
type Mailbox interface {
	// Read returns the next word from the application, if any.
	Read() (uint32, bool)
	// Write passes a word to the application. It must not block.
	Write(w uint32)
}

// Port is one end of a physical link, typically a pair of hardware rx/tx
// FIFOs.
//
type Port interface {
	Read() (uint32, bool)
	Write(w uint32)
}

// PortLinks implements Links over a set of Ports. It keeps track of link
// liveness with per-link counters of consecutive ticks without any received
// word.
//
type PortLinks struct {
	ports []Port
	noMsg []int
	rx    [][]uint32
	act   []bool
}

// NewPortLinks returns a new PortLinks. All links start inactive.
//
func NewPortLinks(ports ...Port) *PortLinks {
	l := &PortLinks{
		ports: ports,
		noMsg: make([]int, len(ports)),
		rx:    make([][]uint32, len(ports)),
		act:   make([]bool, len(ports)),
	}
	for i := range l.noMsg {
		l.noMsg[i] = NoMessageLimit
		l.rx[i] = make([]uint32, 0, MaxBurst)
	}
	return l
}

// Write implements Links. If there are fewer words than ports, the remaining
// ports are left alone and extra words are ignored.
//
func (l *PortLinks) Write(words []uint32) {
	n := len(words)
	if len(l.ports) < n {
		n = len(l.ports)
	}
	for i, p := range l.ports[:n] {
		p.Write(words[i])
	}
}

// Read implements Links.
//
func (l *PortLinks) Read() [][]uint32 {
	for i, p := range l.ports {
		rx := l.rx[i][:0]
		for n := 0; n < MaxBurst; n++ {
			if w, ok := p.Read(); ok {
				rx = append(rx, w)
			}
		}
		l.rx[i] = rx
		if len(rx) == 0 {
			if l.noMsg[i] < NoMessageLimit {
				l.noMsg[i]++
			}
		} else {
			l.noMsg[i] = 0
		}
	}
	return l.rx
}

// Active implements Links.
//
func (l *PortLinks) Active() []bool {
	for i, n := range l.noMsg {
		l.act[i] = n < NoMessageLimit
	}
	return l.act
}

// ChanMailbox is a Mailbox backed by two buffered channels. The application
// side uses Send and Recv.
//
type ChanMailbox struct {
	in      chan uint32
	out     chan uint32
	dropped uint64
}

// NewChanMailbox returns a new ChanMailbox with the given queue depth in each
// direction. A depth <= 0 defaults to 8.
//
func NewChanMailbox(depth int) *ChanMailbox {
	if depth <= 0 {
		depth = 8
	}
	return &ChanMailbox{
		in:  make(chan uint32, depth),
		out: make(chan uint32, depth),
	}
}

// Read implements Mailbox.
//
func (m *ChanMailbox) Read() (uint32, bool) {
	select {
	case w := <-m.in:
		return w, true
	default:
		return 0, false
	}
}

// Write implements Mailbox. Words are dropped if the application does not
// keep up.
//
func (m *ChanMailbox) Write(w uint32) {
	select {
	case m.out <- w:
	default:
		atomic.AddUint64(&m.dropped, 1)
	}
}

// Send queues a word for the controller. It returns false if the queue is
// full.
//
func (m *ChanMailbox) Send(w uint32) bool {
	select {
	case m.in <- w:
		return true
	default:
		return false
	}
}

// Recv returns the channel of words forwarded by the controller.
//
func (m *ChanMailbox) Recv() <-chan uint32 { return m.out }

// Dropped returns the number of words dropped by Write.
//
func (m *ChanMailbox) Dropped() uint64 { return atomic.LoadUint64(&m.dropped) }
