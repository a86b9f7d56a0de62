package sim

import (
	"bytes"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/mbalug7/go-hal-driver/pkg/flash"
	"github.com/mbalug7/go-hal-driver/pkg/hal"
)

func newTestFlash(t *testing.T, clock Clock, opts ...FlashOption) *Flash {
	t.Helper()
	f, err := NewFlash(flash.Uniform(4, 256, 64, 4, 0xFF), clock, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestFlashLifecycle(t *testing.T) {
	f := newTestFlash(t, FreeClock{})

	if err := f.ReadData(0, make([]byte, 4)); !errors.Is(err, hal.ErrNotInitialized) {
		t.Fatalf("ReadData() before Initialize = %v, want ErrNotInitialized", err)
	}
	if f.GetStatus() != (flash.Status{}) {
		t.Errorf("status changed by rejected call: %+v", f.GetStatus())
	}
	if err := f.Uninitialize(); err != nil {
		t.Fatalf("Uninitialize() when uninitialized = %v", err)
	}

	var rec recorder[flash.Event]
	if err := f.Initialize(rec.record); err != nil {
		t.Fatal(err)
	}
	if err := f.Initialize(rec.record); !errors.Is(err, hal.ErrAlreadyInitialized) {
		t.Fatalf("second Initialize() = %v, want ErrAlreadyInitialized", err)
	}
	if err := f.Uninitialize(); err != nil {
		t.Fatal(err)
	}
	if err := f.Uninitialize(); err != nil {
		t.Fatal(err)
	}
}

func TestFlashProgramAndRead(t *testing.T) {
	clk := NewManualClock()
	f := newTestFlash(t, clk)

	var rec recorder[flash.Event]
	var busyInCallback atomic.Bool
	busyInCallback.Store(true)
	err := f.Initialize(func(ev flash.Event) {
		busyInCallback.Store(f.GetStatus().Busy)
		rec.record(ev)
	})
	if err != nil {
		t.Fatal(err)
	}

	data := bytes.Repeat([]byte{0xA5}, 128)
	if err := f.ProgramData(0x100, data); err != nil {
		t.Fatal(err)
	}
	if !f.GetStatus().Busy {
		t.Fatal("not busy after ProgramData accepted")
	}
	if err := f.ReadData(0, make([]byte, 4)); !errors.Is(err, hal.ErrBusy) {
		t.Fatalf("ReadData() while busy = %v, want ErrBusy", err)
	}

	clk.Step(1)
	eventually(t, "first page", func() bool { return f.GetDataCount() == 64 })
	if !f.GetStatus().Busy || rec.len() != 0 {
		t.Fatal("operation finished after one page")
	}
	clk.Step(1)
	eventually(t, "ready event", func() bool { return rec.len() == 1 })
	if rec.last() != flash.EventReady {
		t.Errorf("event = %v, want Ready", rec.last())
	}
	if busyInCallback.Load() {
		t.Error("callback observed busy status")
	}
	if got := f.GetDataCount(); got != 128 {
		t.Errorf("GetDataCount() = %d, want 128", got)
	}

	buf := make([]byte, 130)
	if err := f.ReadData(0xFF, buf); err != nil {
		t.Fatal(err)
	}
	if f.GetDataCount() != 0 {
		t.Errorf("GetDataCount() = %d after new operation, want 0", f.GetDataCount())
	}
	clk.Step(3)
	eventually(t, "read done", func() bool { return rec.len() == 2 })
	if buf[0] != 0xFF || !bytes.Equal(buf[1:129], data) || buf[129] != 0xFF {
		t.Errorf("read back % x", buf)
	}
}

func TestFlashProgramNeedsErase(t *testing.T) {
	f := newTestFlash(t, FreeClock{})
	var rec recorder[flash.Event]
	if err := f.Initialize(rec.record); err != nil {
		t.Fatal(err)
	}

	if err := f.ProgramData(0, []byte{0x0F, 0x0F, 0x0F, 0x0F}); err != nil {
		t.Fatal(err)
	}
	eventually(t, "first program", func() bool { return rec.len() == 1 })

	if err := f.ProgramData(0, []byte{0xF0, 0xF0, 0xF0, 0xF0, 0x00, 0x00, 0x00, 0x00}); err != nil {
		t.Fatal(err)
	}
	eventually(t, "second program", func() bool { return rec.len() == 2 })
	ev := rec.last()
	if !ev.Has(flash.EventError) || !ev.Has(flash.EventReady) {
		t.Errorf("event = %v, want Ready|Error", ev)
	}
	if st := f.GetStatus(); !st.Error || st.Busy {
		t.Errorf("status = %+v, want error latched", st)
	}
	if f.GetDataCount() != 0 {
		t.Errorf("GetDataCount() = %d, want 0", f.GetDataCount())
	}

	if err := f.EraseSector(0x10); err != nil {
		t.Fatal(err)
	}
	if f.GetStatus().Error {
		t.Error("error flag not cleared by next operation")
	}
	eventually(t, "erase", func() bool { return rec.len() == 3 })
	if got := f.GetDataCount(); got != 256 {
		t.Errorf("GetDataCount() after erase = %d, want 256", got)
	}
	mem, _ := f.Peek(0, 4)
	if !bytes.Equal(mem, []byte{0xFF, 0xFF, 0xFF, 0xFF}) {
		t.Errorf("memory after erase = % x", mem)
	}
}

func TestFlashParameterErrors(t *testing.T) {
	f := newTestFlash(t, FreeClock{})
	var rec recorder[flash.Event]
	if err := f.Initialize(rec.record); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		call func() error
	}{
		{"erase outside any sector", func() error { return f.EraseSector(0x400) }},
		{"read past end", func() error { return f.ReadData(0x3FE, make([]byte, 4)) }},
		{"empty read", func() error { return f.ReadData(0, nil) }},
		{"misaligned program", func() error { return f.ProgramData(2, make([]byte, 4)) }},
		{"partial unit program", func() error { return f.ProgramData(0, make([]byte, 6)) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := f.GetStatus()
			if err := tt.call(); !errors.Is(err, hal.ErrParameter) {
				t.Fatalf("err = %v, want ErrParameter", err)
			}
			if f.GetStatus() != before {
				t.Errorf("status changed to %+v", f.GetStatus())
			}
		})
	}
	if rec.len() != 0 {
		t.Errorf("rejected calls signaled %v", rec.snapshot())
	}
}

func TestFlashChipErase(t *testing.T) {
	f := newTestFlash(t, FreeClock{}, WithoutChipErase())
	var rec recorder[flash.Event]
	if err := f.Initialize(rec.record); err != nil {
		t.Fatal(err)
	}
	if err := f.EraseChip(); !errors.Is(err, hal.ErrUnsupported) {
		t.Fatalf("EraseChip() = %v, want ErrUnsupported", err)
	}

	g := newTestFlash(t, FreeClock{})
	if err := g.Initialize(rec.record); err != nil {
		t.Fatal(err)
	}
	if err := g.EraseChip(); err != nil {
		t.Fatal(err)
	}
	eventually(t, "chip erase", func() bool { return rec.len() == 1 })
	if got := g.GetDataCount(); got != 1024 {
		t.Errorf("GetDataCount() = %d, want 1024", got)
	}
}

func TestFlashInjectedError(t *testing.T) {
	f := newTestFlash(t, FreeClock{})
	var rec recorder[flash.Event]
	if err := f.Initialize(rec.record); err != nil {
		t.Fatal(err)
	}
	f.InjectError()
	if err := f.ReadData(0, make([]byte, 8)); err != nil {
		t.Fatal(err)
	}
	eventually(t, "failed read", func() bool { return rec.len() == 1 })
	if !rec.last().Has(flash.EventError) || !f.GetStatus().Error {
		t.Errorf("event %v status %+v, want error", rec.last(), f.GetStatus())
	}
}

func TestFlashUninitializeAborts(t *testing.T) {
	clk := NewManualClock()
	f := newTestFlash(t, clk)
	var rec recorder[flash.Event]
	if err := f.Initialize(rec.record); err != nil {
		t.Fatal(err)
	}
	if err := f.EraseChip(); err != nil {
		t.Fatal(err)
	}
	if err := f.Uninitialize(); err != nil {
		t.Fatal(err)
	}
	if f.GetStatus().Busy {
		t.Error("busy after Uninitialize")
	}
	clk.Step(8)
	if err := f.Initialize(rec.record); err != nil {
		t.Fatal(err)
	}
	if err := f.ReadData(0, make([]byte, 64)); err != nil {
		t.Fatal(err)
	}
	eventually(t, "read after reinitialize", func() bool { return rec.len() == 1 })
	if rec.last() != flash.EventReady {
		t.Errorf("event = %v, want Ready", rec.last())
	}
}
