// Copyright 2018 Denis Bernard <db047h@gmail.com>
// Licensed under the MIT license. See license text in the LICENSE file.

package tidetest

import (
	"math/rand"
	"testing"
	"time"

	"github.com/db47h/bittide"
	"github.com/db47h/bittide/freqctl"
	"github.com/pkg/errors"
)

// model is a reference elastic buffer.
//
type model []bittide.Message

func (m *model) pop() (bittide.Message, bool) {
	if len(*m) == 0 {
		return bittide.Message{}, false
	}
	msg := (*m)[0]
	*m = (*m)[1:]
	return msg, true
}

// checkSent checks that tx holds exactly one word per tick up to tick, the
// last one being exp.
//
func checkSent(tx []uint32, tick int, exp uint32) error {
	switch {
	case len(tx) <= tick:
		return errors.Errorf("expected %#x to be sent, got nothing", exp)
	case len(tx) > tick+1:
		return errors.Errorf("expected %#x to be sent, got %#x", exp, tx[tick:])
	case tx[tick] != exp:
		return errors.Errorf("expected %#x to be sent, got %#x", exp, tx[tick])
	}
	return nil
}

// Stress drives a new ChannelControl with random traffic for the given number
// of ticks and compares its output with a reference model: words sent on
// links, words forwarded to the mailbox, buffer levels and tick errors.
//
// Random traffic never overflows the elastic buffers. fc must not fail.
//
func Stress(t *testing.T, degree, capacity, ticks int, fc freqctl.Controller) {
	t.Helper()

	seed := time.Now().UnixNano()
	rng := rand.New(rand.NewSource(seed))
	defer func() {
		if t.Failed() {
			t.Logf("seed: %d", seed)
		}
	}()

	links, ports := Links(degree)
	mbox := new(Mailbox)
	c, err := bittide.New(fc, links, mbox, bittide.Config{Degree: degree, Capacity: capacity})
	if err != nil {
		t.Fatal(err)
	}

	ms := make([]model, degree)
	for i := range ms {
		for j := 0; j < capacity/2; j++ {
			ms[i] = append(ms[i], bittide.Sync)
		}
	}
	randMsg := func(neighbors int) bittide.Message {
		if rng.Intn(4) == 0 {
			return bittide.Sync
		}
		return bittide.Data(uint8(rng.Intn(neighbors)), rng.Uint32()&bittide.PayloadMask)
	}

	for tick := 0; tick < ticks; tick++ {
		// application input, occasionally invalid.
		var (
			in     bittide.Message
			hasIn  = rng.Intn(2) == 0
			expErr error
		)
		if hasIn {
			in = randMsg(bittide.MaxDegree)
			switch {
			case in.IsSync():
				expErr = bittide.ErrSyncFromUser
			case int(in.Neighbor) >= degree:
				expErr = bittide.ErrInvalidNeighbor
			}
			mbox.In = append(mbox.In[:0], in.Encode())
		}

		// link traffic.
		for i, p := range ports {
			n := rng.Intn(3)
			if len(ms[i])+n > capacity {
				n = 0
			}
			for j := 0; j < n; j++ {
				msg := randMsg(bittide.MaxDegree)
				p.Push(msg.Encode())
				if msg.Comm {
					msg.Neighbor = uint8(i)
				}
				ms[i] = append(ms[i], msg)
			}
		}

		mbox.Out = mbox.Out[:0]
		err := c.Interrupt()
		if errors.Cause(err) != expErr {
			t.Fatalf("tick %d: input %v: expected error %v, got %v", tick, in, expErr, err)
		}

		for i, p := range ports {
			exp := uint32(bittide.SyncWord)
			if hasIn && expErr == nil && int(in.Neighbor) == i {
				exp = in.Encode()
			}
			if err := checkSent(p.Tx, tick, exp); err != nil {
				t.Fatalf("tick %d, link %d: %v", tick, i, err)
			}
		}

		var out []uint32
		for i := range ms {
			if msg, ok := ms[i].pop(); ok && msg.Comm {
				out = append(out, msg.Encode())
			}
		}
		if len(out) != len(mbox.Out) {
			t.Fatalf("tick %d: expected %d forwarded words, got %d", tick, len(out), len(mbox.Out))
		}
		for i := range out {
			if out[i] != mbox.Out[i] {
				t.Fatalf("tick %d: expected %v to be forwarded, got %v", tick, bittide.Decode(out[i]), bittide.Decode(mbox.Out[i]))
			}
		}

		d := c.Debug()
		for i, l := range d.BufferLevels {
			if l != len(ms[i]) || l < 0 || l > capacity {
				t.Fatalf("tick %d, link %d: expected level %d, got %d", tick, i, len(ms[i]), l)
			}
		}
	}
}
