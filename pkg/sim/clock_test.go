package sim

import "testing"

func TestManualClockStep(t *testing.T) {
	clk := NewManualClock()
	abort := make(chan struct{})
	done := make(chan bool)

	go func() {
		done <- clk.Tick(abort)
	}()
	clk.Step(2)
	if !<-done {
		t.Fatal("Tick() = false after Step")
	}
	if got := clk.Pending(); got != 1 {
		t.Errorf("Pending() = %d, want 1", got)
	}
	if !clk.Tick(abort) {
		t.Fatal("Tick() with a pending token = false")
	}

	go func() {
		done <- clk.Tick(abort)
	}()
	close(abort)
	if <-done {
		t.Error("Tick() = true after abort")
	}
}

func TestFreeClockAbort(t *testing.T) {
	abort := make(chan struct{})
	if !(FreeClock{}).Tick(abort) {
		t.Fatal("FreeClock.Tick() = false")
	}
	close(abort)
	if (FreeClock{}).Tick(abort) {
		t.Error("FreeClock.Tick() = true after abort")
	}
}
