package hal

import (
	"errors"
	"testing"
)

func TestChannelBusyWindow(t *testing.T) {
	var c Channel
	if c.Busy() || c.Count() != 0 {
		t.Fatal("zero Channel must be idle with count 0")
	}

	op, err := c.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if !c.Busy() {
		t.Error("Busy() = false after Begin")
	}
	if _, err := c.Begin(); !errors.Is(err, ErrBusy) {
		t.Errorf("second Begin() = %v, want ErrBusy", err)
	}

	c.Add(op, 2)
	c.Add(op, 1)
	if got := c.Count(); got != 3 {
		t.Errorf("Count() = %d, want 3", got)
	}
	if !c.End(op) {
		t.Error("End() of current op = false")
	}
	if c.Busy() {
		t.Error("Busy() = true after End")
	}
	if c.End(op) {
		t.Error("End() twice = true")
	}
	if got := c.Count(); got != 3 {
		t.Errorf("Count() after End = %d, want 3", got)
	}

	if _, err := c.Begin(); err != nil {
		t.Fatal(err)
	}
	if got := c.Count(); got != 0 {
		t.Errorf("Count() after next Begin = %d, want 0", got)
	}
}

func TestChannelAbortDropsStaleOp(t *testing.T) {
	var c Channel
	op, _ := c.Begin()

	if !c.Abort() {
		t.Fatal("Abort() with outstanding op = false")
	}
	select {
	case <-op.Aborted():
	default:
		t.Error("abort channel not closed")
	}
	if c.Abort() {
		t.Error("Abort() when idle = true")
	}

	next, _ := c.Begin()
	if c.Add(op, 1) {
		t.Error("Add() for aborted op accepted")
	}
	if c.End(op) {
		t.Error("End() for aborted op accepted")
	}
	if !c.Current(next) || c.Current(op) {
		t.Error("Current() mismatch")
	}
}

func TestBeginBoth(t *testing.T) {
	var tx, rx Channel
	if _, err := rx.Begin(); err != nil {
		t.Fatal(err)
	}
	if _, _, err := BeginBoth(&tx, &rx); !errors.Is(err, ErrBusy) {
		t.Fatalf("BeginBoth() with busy rx = %v, want ErrBusy", err)
	}
	if tx.Busy() {
		t.Error("tx acquired although rx was busy")
	}
	rx.Abort()
	if _, _, err := BeginBoth(&tx, &rx); err != nil {
		t.Fatal(err)
	}
	if !tx.Busy() || !rx.Busy() {
		t.Error("BeginBoth() must acquire both directions")
	}
}

func TestItems(t *testing.T) {
	tests := []struct {
		n, size int
		want    uint32
		wantErr bool
	}{
		{4, 1, 4, false},
		{8, 2, 4, false},
		{6, 4, 0, true},
		{0, 1, 0, true},
	}
	for _, tt := range tests {
		got, err := Items(tt.n, tt.size)
		if (err != nil) != tt.wantErr {
			t.Errorf("Items(%d, %d) err = %v", tt.n, tt.size, err)
			continue
		}
		if err != nil && !errors.Is(err, ErrParameter) {
			t.Errorf("Items(%d, %d) err = %v, want ErrParameter", tt.n, tt.size, err)
		}
		if got != tt.want {
			t.Errorf("Items(%d, %d) = %d, want %d", tt.n, tt.size, got, tt.want)
		}
	}
	if ItemSize(8) != 1 || ItemSize(9) != 2 || ItemSize(24) != 4 {
		t.Error("ItemSize() mismatch")
	}
}
