package bittide_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/db47h/bittide"
	"github.com/db47h/bittide/tidetest"
	"github.com/pkg/errors"
)

type logRecorder struct {
	msgs []string
}

func (l *logRecorder) Printf(format string, v ...interface{}) {
	l.msgs = append(l.msgs, fmt.Sprintf(format, v...))
}

type fixture struct {
	ctl   *bittide.ChannelControl
	ports []*tidetest.Port
	mbox  *tidetest.Mailbox
	fc    *tidetest.Controller
	log   *logRecorder
}

func newFixture(t *testing.T, cfg bittide.Config) *fixture {
	t.Helper()
	if cfg.Degree == 0 {
		cfg.Degree = 4
	}
	links, ports := tidetest.Links(cfg.Degree)
	f := &fixture{
		ports: ports,
		mbox:  new(tidetest.Mailbox),
		fc:    new(tidetest.Controller),
		log:   new(logRecorder),
	}
	cfg.Logger = f.log
	ctl, err := bittide.New(f.fc, links, f.mbox, cfg)
	if err != nil {
		t.Fatal(err)
	}
	f.ctl = ctl
	return f
}

func TestNew_invalid(t *testing.T) {
	links, _ := tidetest.Links(4)
	td := []bittide.Config{
		{Degree: 9},
		{Degree: -1},
		{Capacity: -2},
		{Degree: 4, LinkMask: []bool{true, true}},
	}
	for _, cfg := range td {
		if _, err := bittide.New(new(tidetest.Controller), links, new(tidetest.Mailbox), cfg); err == nil {
			t.Errorf("expected an error for config %+v", cfg)
		}
	}
}

func TestChannelControl_new(t *testing.T) {
	f := newFixture(t, bittide.Config{Capacity: 64})
	d := f.ctl.Debug()
	for i, l := range d.BufferLevels {
		if l != 32 {
			t.Errorf("link %d: expected level 32, got %d", i, l)
		}
	}
}

// link 0 sends one data word per tick for 3 ticks, other links are silent.
func TestChannelControl_scenarioA(t *testing.T) {
	f := newFixture(t, bittide.Config{Degree: 4, Capacity: 64})
	// the sender's neighbor field is irrelevant to the receiver.
	w := bittide.Data(3, 42).Encode()
	for i := 0; i < 40; i++ {
		if i < 3 {
			f.ports[0].Push(w)
		}
		if err := f.ctl.Interrupt(); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
		d := f.ctl.Debug()
		if i < 3 && d.BufferLevels[0] != 32 {
			t.Fatalf("tick %d: expected level 32 on link 0, got %d", i, d.BufferLevels[0])
		}
		for l := 1; l < 4; l++ {
			exp := 32 - (i + 1)
			if exp < 0 {
				exp = 0
			}
			if d.BufferLevels[l] != exp {
				t.Fatalf("tick %d: expected level %d on link %d, got %d", i, exp, l, d.BufferLevels[l])
			}
		}
		// data is forwarded once the 32 sync messages ahead of it have been drained.
		fwd := i - 31
		if fwd < 0 {
			fwd = 0
		} else if fwd > 3 {
			fwd = 3
		}
		if len(f.mbox.Out) != fwd {
			t.Fatalf("tick %d: expected %d forwarded words, got %d", i, fwd, len(f.mbox.Out))
		}
	}
	for _, o := range f.mbox.Out {
		if m := bittide.Decode(o); m != bittide.Data(0, 42) {
			t.Fatalf("expected Data{0, 42}, got %v", m)
		}
	}
	d := f.ctl.Debug()
	if d.Starved[0] != 5 || d.Starved[1] != 8 || d.Starved[2] != 8 || d.Starved[3] != 8 {
		t.Fatalf("unexpected starved counters %v", d.Starved)
	}
	if len(f.log.msgs) != 29 {
		t.Fatalf("expected 29 warnings, got %d", len(f.log.msgs))
	}
	if d.RxData != 3 || d.RxSync != 0 || d.Forwarded != 3 {
		t.Fatalf("unexpected counters: %+v", d)
	}
	if d.LastError != bittide.OK {
		t.Fatalf("unexpected last error %v", d.LastError)
	}
	// link 0 is active from the first tick until 3 ticks without data.
	for i, deg := range f.fc.Degrees {
		exp := 0
		if i < 5 {
			exp = 1
		}
		if deg != exp {
			t.Fatalf("tick %d: expected degree %d, got %d", i, exp, deg)
		}
	}
	// every link got exactly one sync word per tick.
	for l, p := range f.ports {
		if len(p.Tx) != 40 {
			t.Fatalf("link %d: expected 40 words sent, got %d", l, len(p.Tx))
		}
		for _, w := range p.Tx {
			if w != bittide.SyncWord {
				t.Fatalf("link %d: expected sync word, got %#x", l, w)
			}
		}
	}
}

func TestChannelControl_userErrors(t *testing.T) {
	td := []struct {
		name string
		word uint32
		err  error
	}{
		{"sync", bittide.SyncWord, bittide.ErrSyncFromUser},
		{"neighbor 6", bittide.Data(6, 1).Encode(), bittide.ErrInvalidNeighbor},
		{"neighbor 4", bittide.Data(4, 1).Encode(), bittide.ErrInvalidNeighbor},
	}
	for _, d := range td {
		t.Run(d.name, func(t *testing.T) {
			f := newFixture(t, bittide.Config{Degree: 4})
			f.mbox.In = []uint32{d.word}
			err := f.ctl.Interrupt()
			if errors.Cause(err) != d.err {
				t.Fatalf("expected %v, got %v", d.err, err)
			}
			for l, p := range f.ports {
				if len(p.Tx) != 1 || p.Tx[0] != bittide.SyncWord {
					t.Fatalf("link %d: expected a single sync word, got %v", l, p.Tx)
				}
			}
			dbg := f.ctl.Debug()
			if dbg.LastError != bittide.CodeOf(d.err) {
				t.Fatalf("expected last error %v, got %v", bittide.CodeOf(d.err), dbg.LastError)
			}
			// the rest of the tick ran.
			if len(f.fc.Levels) != 1 || dbg.BufferLevels[0] != 31 {
				t.Fatalf("tick did not complete: %+v", dbg)
			}
		})
	}
}

func TestChannelControl_egress(t *testing.T) {
	f := newFixture(t, bittide.Config{Degree: 4})
	f.mbox.In = []uint32{bittide.Data(2, 0xabc).Encode(), bittide.Data(0, 7).Encode()}
	for i := 0; i < 3; i++ {
		if err := f.ctl.Interrupt(); err != nil {
			t.Fatal(err)
		}
	}
	exp := [][]uint32{
		{bittide.SyncWord, bittide.Data(0, 7).Encode(), bittide.SyncWord},
		{bittide.SyncWord, bittide.SyncWord, bittide.SyncWord},
		{bittide.Data(2, 0xabc).Encode(), bittide.SyncWord, bittide.SyncWord},
		{bittide.SyncWord, bittide.SyncWord, bittide.SyncWord},
	}
	for l, p := range f.ports {
		for i, w := range p.Tx {
			if w != exp[l][i] {
				t.Fatalf("link %d, tick %d: expected %#x, got %#x", l, i, exp[l][i], w)
			}
		}
	}
	// masked neighbor ids are a known tolerance: 9 is sent on link 1.
	f.mbox.In = []uint32{bittide.Data(9, 1).Encode()}
	if err := f.ctl.Interrupt(); err != nil {
		t.Fatal(err)
	}
	if w := f.ports[1].Tx[3]; bittide.Decode(w) != bittide.Data(1, 1) {
		t.Fatalf("expected Data{1, 1} on link 1, got %v", bittide.Decode(w))
	}
}

func TestChannelControl_neighborRewrite(t *testing.T) {
	f := newFixture(t, bittide.Config{Degree: 4, Capacity: 2})
	for l, p := range f.ports {
		p.Push(bittide.Data(uint8(7-l), uint32(l)).Encode())
	}
	// tick 1 drains the pre-filled sync, tick 2 forwards the data.
	for i := 0; i < 2; i++ {
		if err := f.ctl.Interrupt(); err != nil {
			t.Fatal(err)
		}
	}
	if len(f.mbox.Out) != 4 {
		t.Fatalf("expected 4 forwarded words, got %d", len(f.mbox.Out))
	}
	for i, w := range f.mbox.Out {
		m := bittide.Decode(w)
		if m != bittide.Data(uint8(i), uint32(i)) {
			t.Fatalf("expected Data{%d, %d}, got %v", i, i, m)
		}
	}
}

func TestChannelControl_steadyState(t *testing.T) {
	f := newFixture(t, bittide.Config{Degree: 4, Capacity: 16})
	// neighbors send sync for a while, then go silent.
	for i := 0; i < 5; i++ {
		for _, p := range f.ports {
			p.Push(bittide.SyncWord)
		}
		if err := f.ctl.Interrupt(); err != nil {
			t.Fatal(err)
		}
	}
	if deg := f.ctl.Debug().Degree; deg != 4 {
		t.Fatalf("expected 4 active links, got %d", deg)
	}
	prev := f.ctl.Debug().BufferLevels
	for i := 0; i < 20; i++ {
		if err := f.ctl.Interrupt(); err != nil {
			t.Fatal(err)
		}
		d := f.ctl.Debug()
		for l, lvl := range d.BufferLevels {
			if lvl != prev[l]-1 && !(lvl == 0 && prev[l] == 0) {
				t.Fatalf("tick %d, link %d: level went from %d to %d", i, l, prev[l], lvl)
			}
		}
		prev = d.BufferLevels
	}
	d := f.ctl.Debug()
	if d.Degree != 0 {
		t.Fatalf("expected all links inactive, got degree %d", d.Degree)
	}
	for l, lvl := range d.BufferLevels {
		if lvl != 0 {
			t.Fatalf("link %d: expected empty buffer, got %d", l, lvl)
		}
	}
	if d.RxSync != 20 {
		t.Fatalf("expected 20 sync messages received, got %d", d.RxSync)
	}
}

func TestChannelControl_fifoFull(t *testing.T) {
	f := newFixture(t, bittide.Config{Degree: 4, Capacity: 8})
	burst := []uint32{bittide.SyncWord, bittide.SyncWord, bittide.SyncWord, bittide.SyncWord}
	f.ports[0].Push(burst...)
	if err := f.ctl.Interrupt(); err != nil {
		t.Fatal(err)
	}
	if lvl := f.ctl.Debug().BufferLevels[0]; lvl != 7 {
		t.Fatalf("expected level 7, got %d", lvl)
	}
	f.ports[0].Push(burst...)
	err := f.ctl.Interrupt()
	if errors.Cause(err) != bittide.ErrFifoFull || !bittide.IsFatal(err) {
		t.Fatalf("expected fatal ErrFifoFull, got %v", err)
	}
	d := f.ctl.Debug()
	if d.LastError != bittide.TideFifoFull {
		t.Fatalf("expected last error %v, got %v", bittide.TideFifoFull, d.LastError)
	}
	if d.BufferLevels[0] != 8 {
		t.Fatalf("expected a full buffer, got %d", d.BufferLevels[0])
	}
}

func TestChannelControl_linkMask(t *testing.T) {
	f := newFixture(t, bittide.Config{Degree: 4, Capacity: 8, LinkMask: []bool{true, false, true, true}})
	for _, p := range f.ports {
		p.Push(bittide.Data(0, 1).Encode())
	}
	if err := f.ctl.Interrupt(); err != nil {
		t.Fatal(err)
	}
	d := f.ctl.Debug()
	if exp := []int{4, 4, 4, 4}; fmt.Sprint(d.BufferLevels) != fmt.Sprint(exp) {
		t.Fatalf("expected levels %v, got %v", exp, d.BufferLevels)
	}
	if exp := []int{4, 0, 4, 4}; fmt.Sprint(f.fc.Levels[0]) != fmt.Sprint(exp) {
		t.Fatalf("expected controller levels %v, got %v", exp, f.fc.Levels[0])
	}
	if f.fc.Degrees[0] != 3 {
		t.Fatalf("expected degree 3, got %d", f.fc.Degrees[0])
	}
	if d.RxData != 3 {
		t.Fatalf("expected 3 data messages, got %d", d.RxData)
	}
	// disabled links still send.
	if len(f.ports[1].Tx) != 1 {
		t.Fatal("disabled link did not send")
	}
}

func TestChannelControl_frequencyError(t *testing.T) {
	f := newFixture(t, bittide.Config{})
	f.fc.Err = errors.New("nack")
	err := f.ctl.Interrupt()
	if bittide.CodeOf(err) != bittide.FrequencyControllerError || bittide.IsFatal(err) {
		t.Fatalf("expected a non fatal frequency controller error, got %v", err)
	}
	f.fc.Err = nil
	if err = f.ctl.Interrupt(); err != nil {
		t.Fatal(err)
	}
	if d := f.ctl.Debug(); d.Ticks != 2 || d.LastError != bittide.OK {
		t.Fatalf("unexpected debug info %+v", d)
	}

	// user errors take precedence, the controller error is logged.
	f.fc.Err = errors.New("nack")
	f.mbox.In = []uint32{bittide.SyncWord}
	n := len(f.log.msgs)
	if err = f.ctl.Interrupt(); errors.Cause(err) != bittide.ErrSyncFromUser {
		t.Fatalf("expected ErrSyncFromUser, got %v", err)
	}
	if len(f.log.msgs) != n+1 {
		t.Fatal("frequency controller error not logged")
	}
}

func TestChannelControl_overrun(t *testing.T) {
	f := newFixture(t, bittide.Config{})
	f.ports[0].OnWrite = func(uint32) {
		f.ports[0].OnWrite = nil
		f.ctl.Interrupt()
	}
	defer func() {
		if r := recover(); r != bittide.ErrTickOverrun {
			t.Fatalf("expected ErrTickOverrun panic, got %v", r)
		}
		// the controller is usable again.
		if err := f.ctl.Interrupt(); err != nil {
			t.Fatal(err)
		}
	}()
	f.ctl.Interrupt()
	t.Fatal("expected a panic")
}

// more ports than links: the extra port is never used.
func TestChannelControl_extraPorts(t *testing.T) {
	links, ports := tidetest.Links(5)
	ctl, err := bittide.New(new(tidetest.Controller), links, new(tidetest.Mailbox), bittide.Config{Degree: 4})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err = ctl.Interrupt(); err != nil {
			t.Fatal(err)
		}
	}
	for i, p := range ports {
		n := 3
		if i == 4 {
			n = 0
		}
		if len(p.Tx) != n {
			t.Fatalf("port %d: expected %d words, got %v", i, n, p.Tx)
		}
	}
}

func TestChannelControl_run(t *testing.T) {
	f := newFixture(t, bittide.Config{})
	f.mbox.In = []uint32{bittide.SyncWord}
	tick := make(chan time.Time)
	var reported []error
	done := make(chan error)
	go func() {
		done <- f.ctl.Run(context.Background(), tick, func(err error) { reported = append(reported, err) })
	}()
	for i := 0; i < 10; i++ {
		tick <- time.Time{}
		// concurrent reader.
		_ = f.ctl.Debug()
	}
	close(tick)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if d := f.ctl.Debug(); d.Ticks != 10 {
		t.Fatalf("expected 10 ticks, got %d", d.Ticks)
	}
	if len(reported) != 1 || errors.Cause(reported[0]) != bittide.ErrSyncFromUser {
		t.Fatalf("expected ErrSyncFromUser to be reported once, got %v", reported)
	}

	// fatal errors stop the loop.
	f.ports[1].Push(make([]uint32, 4)...)
	f.ports[1].OnWrite = func(uint32) { f.ports[1].Push(make([]uint32, 4)...) }
	tick = make(chan time.Time, 100)
	for i := 0; i < 100; i++ {
		tick <- time.Time{}
	}
	err := f.ctl.Run(context.Background(), tick, nil)
	if !bittide.IsFatal(err) {
		t.Fatalf("expected a fatal error, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err = f.ctl.Run(ctx, make(chan time.Time), nil); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestChannelControl_stress(t *testing.T) {
	for _, degree := range []int{1, 4, bittide.MaxDegree} {
		t.Run(fmt.Sprintf("degree-%d", degree), func(t *testing.T) {
			tidetest.Stress(t, degree, 16, 5000, new(tidetest.Controller))
		})
	}
}
