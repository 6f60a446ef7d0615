package sim_test

import (
	"math"
	"testing"

	"github.com/db47h/bittide/freqctl"
	"github.com/db47h/bittide/si5351"
	"github.com/db47h/bittide/sim"
)

func near(a, b float64) bool { return math.Abs(a-b) <= 1e-9*math.Abs(b) }

func TestFbdivClock(t *testing.T) {
	c := sim.NewFbdivClock(100e6, 0, 0)
	if c.Fbdiv() != sim.NominalFbdiv || !near(c.Freq(), 100e6) {
		t.Fatalf("unexpected initial state %d, %v", c.Fbdiv(), c.Freq())
	}
	td := []struct {
		fbdiv uint16
		freq  float64
	}{
		{50, 50e6},
		{200, 200e6},
		{125, 125e6},
	}
	for _, d := range td {
		if err := c.SetFbdiv(d.fbdiv); err != nil {
			t.Fatal(err)
		}
		if !near(c.Freq(), d.freq) {
			t.Errorf("fbdiv %d: expected %v Hz, got %v", d.fbdiv, d.freq, c.Freq())
		}
	}
	if err := c.SetFbdiv(freqctl.FbdivMax + 1); err == nil {
		t.Fatal("expected an error")
	}
	c = sim.NewFbdivClock(100e6, 100, 100)
	if !near(c.Freq(), 100.01e6) {
		t.Fatalf("expected 100.01MHz, got %v", c.Freq())
	}
}

func TestSynthClock(t *testing.T) {
	c := sim.NewSynthClock(125e6, 0)
	if !near(c.Freq(), 125e6) {
		t.Fatalf("expected 125MHz, got %v", c.Freq())
	}
	dev := si5351.New(c, 0)
	if err := dev.SetPLLFrac(freqctl.FracMax); err != nil {
		t.Fatal(err)
	}
	if c.Freq() <= 125e6 {
		t.Fatalf("larger fraction did not raise the frequency: %v", c.Freq())
	}
	if !near(c.Mult(), 36) {
		t.Fatalf("expected multiplier 36, got %v", c.Mult())
	}
	if err := dev.SetPLLFrac(0); err != nil {
		t.Fatal(err)
	}
	if c.Freq() >= 125e6 {
		t.Fatalf("smaller fraction did not lower the frequency: %v", c.Freq())
	}
	if err := si5351.New(c, 0x61).SetPLLFrac(0); err == nil {
		t.Fatal("expected an error")
	}
	c.Pending = 1
	if !dev.Busy() {
		t.Fatal("expected a busy device")
	}
}
