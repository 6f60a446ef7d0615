// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

/*
Package bittide implements the per-node control loop of a bittide network.

In a bittide network, nodes exchange exactly one fixed size word per link on
every tick of their local clock. There are no clock domain crossings: each
node buffers incoming words in one elastic buffer per link and drains exactly
one message per buffer and per tick. If a neighbor runs faster than the local
node, the corresponding buffer fills up; if it runs slower, it drains. The
buffer levels are fed to a frequency controller (see package freqctl) that
adjusts the local clock so that all buffers stay near half full. Once all
nodes have converged, the network behaves as if driven by a single clock.

Words are 32 bits wide. The word 0x1 is a sync message, any other word
carries data:

	bit 0       0
	bits 1-3    neighbor (link index)
	bits 4-31   payload

Sync messages are fillers that keep the links busy when there is no
application data to send. Data messages are multiplexed from the
application's Mailbox onto the link selected by their neighbor field. On
reception, the neighbor field is rewritten with the index of the link the
message arrived on.

ChannelControl.Interrupt runs one tick and must be called at a fixed
interval, typically from a timer interrupt. ChannelControl.Run provides the
same from a dedicated goroutine.
*/
package bittide
