// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package bittide

import "strconv"

// Wire format constants.
//
//	bit 0:     tag. The word 0x1 alone is a sync message.
//	bits 1-3:  neighbor id
//	bits 4-31: payload
//
const (
	SyncWord     = 0x1
	NeighborBits = 3
	PayloadBits  = 28

	NeighborMask = 1<<NeighborBits - 1
	PayloadMask  = 1<<PayloadBits - 1

	neighborShift = 1
	payloadShift  = neighborShift + NeighborBits
)

// A Message is the decoded form of a word exchanged with neighbors. It is
// either a sync message, used to keep elastic buffers populated, or a
// communication message addressed to a neighbor.
//
// The zero value is a sync message.
//
type Message struct {
	Comm     bool
	Neighbor uint8
	Payload  uint32
}

// Sync is the sync message.
//
var Sync = Message{}

// Data returns a communication message.
//
func Data(neighbor uint8, payload uint32) Message {
	return Message{Comm: true, Neighbor: neighbor, Payload: payload}
}

// IsSync returns true if m is a sync message.
//
func (m Message) IsSync() bool { return !m.Comm }

// Encode returns the wire representation of m. Neighbor and payload are
// silently masked to their field width.
//
func (m Message) Encode() uint32 {
	if !m.Comm {
		return SyncWord
	}
	return uint32(m.Neighbor&NeighborMask)<<neighborShift | (m.Payload&PayloadMask)<<payloadShift
}

// Decode decodes a word. Any word other than SyncWord decodes to a
// communication message.
//
func Decode(w uint32) Message {
	if w == SyncWord {
		return Sync
	}
	return Message{
		Comm:     true,
		Neighbor: uint8(w>>neighborShift) & NeighborMask,
		Payload:  w >> payloadShift & PayloadMask,
	}
}

func (m Message) String() string {
	if !m.Comm {
		return "Sync"
	}
	return "Data{" + strconv.Itoa(int(m.Neighbor)) + ", " + strconv.FormatUint(uint64(m.Payload), 10) + "}"
}
