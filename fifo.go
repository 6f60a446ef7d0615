// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package bittide

import "strconv"

// A Fifo is an elastic buffer: a bounded FIFO of messages received on a link.
// Its occupancy is the control signal used for frequency correction.
//
type Fifo struct {
	buf  []Message
	head int
	n    int
}

// NewFifo returns a new Fifo of the given capacity, pre-filled to half its
// capacity with sync messages.
//
func NewFifo(capacity int) *Fifo {
	if capacity <= 0 {
		panic("invalid fifo capacity " + strconv.Itoa(capacity))
	}
	f := &Fifo{buf: make([]Message, capacity)}
	for i := 0; i < capacity/2; i++ {
		f.buf[i] = Sync
	}
	f.n = capacity / 2
	return f
}

// PushBack appends m at the back of the buffer. It returns ErrFifoFull if the
// buffer is at capacity.
//
func (f *Fifo) PushBack(m Message) error {
	if f.n == len(f.buf) {
		return ErrFifoFull
	}
	i := f.head + f.n
	if i >= len(f.buf) {
		i -= len(f.buf)
	}
	f.buf[i] = m
	f.n++
	return nil
}

// PopFront removes and returns the message at the front of the buffer. It
// returns false if the buffer is empty.
//
func (f *Fifo) PopFront() (Message, bool) {
	if f.n == 0 {
		return Message{}, false
	}
	m := f.buf[f.head]
	f.head++
	if f.head == len(f.buf) {
		f.head = 0
	}
	f.n--
	return m, true
}

// Len returns the buffer occupancy.
//
func (f *Fifo) Len() int { return f.n }

// Cap returns the buffer capacity.
//
func (f *Fifo) Cap() int { return len(f.buf) }
