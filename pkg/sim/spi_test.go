package sim

import (
	"bytes"
	"errors"
	"testing"

	"github.com/mbalug7/go-hal-driver/pkg/hal"
	"github.com/mbalug7/go-hal-driver/pkg/spi"
)

func newTestSPI(t *testing.T, peer Peer, clock Clock, control uint32) (*SPI, *recorder[spi.Event]) {
	t.Helper()
	s := NewSPI(peer, clock)
	rec := &recorder[spi.Event]{}
	if err := s.Initialize(rec.record); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Control(control, 1_000_000); err != nil {
		t.Fatalf("Control(mode) = %v", err)
	}
	return s, rec
}

func TestSPILifecycle(t *testing.T) {
	s := NewSPI(nil, FreeClock{})
	if err := s.Send([]byte{1}); !errors.Is(err, hal.ErrNotInitialized) {
		t.Fatalf("Send() before Initialize = %v", err)
	}
	if _, err := s.Control(spi.ModeMaster, 1000); !errors.Is(err, hal.ErrNotInitialized) {
		t.Fatalf("Control() before Initialize = %v", err)
	}
	if err := s.Transfer([]byte{1, 2}, make([]byte, 1)); !errors.Is(err, hal.ErrNotInitialized) {
		t.Fatalf("Transfer() with mismatched buffers before Initialize = %v", err)
	}
	if err := s.Uninitialize(); err != nil {
		t.Fatal(err)
	}
	var rec recorder[spi.Event]
	if err := s.Initialize(rec.record); err != nil {
		t.Fatal(err)
	}
	if err := s.Initialize(rec.record); !errors.Is(err, hal.ErrAlreadyInitialized) {
		t.Fatalf("second Initialize() = %v", err)
	}
	if err := s.Send([]byte{1}); !errors.Is(err, hal.ErrGeneric) {
		t.Errorf("Send() in inactive mode = %v, want ErrGeneric", err)
	}
}

func TestSPITransfer(t *testing.T) {
	tests := []struct {
		name string
		bits uint32
		out  []byte
		want []byte
	}{
		{"8 bit", 8, []byte{1, 2, 3, 4}, []byte{1, 2, 3, 4}},
		{"12 bit", 12, []byte{0xFF, 0xFF, 0x34, 0x12}, []byte{0xFF, 0x0F, 0x34, 0x02}},
		{"24 bit", 24, []byte{1, 2, 3, 4}, []byte{1, 2, 3, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, rec := newTestSPI(t, nil, FreeClock{}, spi.ModeMaster|spi.DataBits(tt.bits))
			in := make([]byte, len(tt.out))
			if err := s.Transfer(tt.out, in); err != nil {
				t.Fatal(err)
			}
			eventually(t, "transfer", func() bool { return rec.len() == 1 })
			if rec.last() != spi.EventTransferComplete {
				t.Errorf("event = %v", rec.last())
			}
			if !bytes.Equal(in, tt.want) {
				t.Errorf("received % x, want % x", in, tt.want)
			}
			if got, want := s.GetDataCount(), uint32(len(tt.out)/hal.ItemSize(tt.bits)); got != want {
				t.Errorf("GetDataCount() = %d, want %d", got, want)
			}
		})
	}
}

func TestSPIBufferErrors(t *testing.T) {
	s, _ := newTestSPI(t, nil, FreeClock{}, spi.ModeMaster|spi.DataBits(16))
	if err := s.Send([]byte{1, 2, 3}); !errors.Is(err, hal.ErrParameter) {
		t.Errorf("Send(3 bytes of 16-bit items) = %v, want ErrParameter", err)
	}
	if err := s.Transfer([]byte{1, 2}, make([]byte, 4)); !errors.Is(err, hal.ErrParameter) {
		t.Errorf("Transfer(mismatched) = %v, want ErrParameter", err)
	}
	if err := s.Receive(nil); !errors.Is(err, hal.ErrParameter) {
		t.Errorf("Receive(nil) = %v, want ErrParameter", err)
	}
}

func TestSPIReceiveDefaultValue(t *testing.T) {
	var sent []uint32
	peer := func(item uint32) uint32 {
		sent = append(sent, item)
		return item + 1
	}
	s, rec := newTestSPI(t, peer, FreeClock{}, spi.ModeMaster)
	if _, err := s.Control(spi.ControlSetDefaultTxValue, 0xA5); err != nil {
		t.Fatal(err)
	}
	in := make([]byte, 3)
	if err := s.Receive(in); err != nil {
		t.Fatal(err)
	}
	eventually(t, "receive", func() bool { return rec.len() == 1 })
	if !bytes.Equal(in, []byte{0xA6, 0xA6, 0xA6}) {
		t.Errorf("received % x", in)
	}
	for _, item := range sent {
		if item != 0xA5 {
			t.Errorf("clocked out %#x, want the default value", item)
		}
	}
}

func TestSPIControl(t *testing.T) {
	clk := NewManualClock()
	s, rec := newTestSPI(t, nil, clk, spi.ModeMaster|spi.SSMasterSoftware)

	if speed, err := s.Control(spi.ControlGetBusSpeed, 0); err != nil || speed != 1_000_000 {
		t.Errorf("GetBusSpeed = %d, %v", speed, err)
	}
	if _, err := s.Control(spi.ControlSetBusSpeed, 2_000_000); err != nil {
		t.Fatal(err)
	}
	if speed, _ := s.Control(spi.ControlGetBusSpeed, 0); speed != 2_000_000 {
		t.Errorf("bus speed = %d after set", speed)
	}
	if _, err := s.Control(spi.ControlSS, spi.SSActive); err != nil {
		t.Fatal(err)
	}
	if s.SlaveSelect() != spi.SSActive {
		t.Error("slave select not active")
	}
	if _, err := s.Control(0x7F, 0); !errors.Is(err, hal.ErrUnsupported) {
		t.Errorf("Control(0x7f) = %v, want ErrUnsupported", err)
	}

	if err := s.Send([]byte{1, 2}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Control(spi.ModeMaster, 500_000); !errors.Is(err, hal.ErrBusy) {
		t.Errorf("mode change while busy = %v, want ErrBusy", err)
	}
	clk.Step(1)
	eventually(t, "first item", func() bool { return s.GetDataCount() == 1 })
	if _, err := s.Control(spi.ControlAbortTransfer, 0); err != nil {
		t.Fatal(err)
	}
	if s.GetStatus().Busy {
		t.Error("busy after abort")
	}
	clk.Step(5)
	if err := s.Send([]byte{1}); err != nil {
		t.Fatal(err)
	}
	eventually(t, "next send", func() bool { return rec.len() == 1 })
	if rec.last() != spi.EventTransferComplete || s.GetDataCount() != 1 {
		t.Errorf("event %v count %d", rec.last(), s.GetDataCount())
	}
}

func TestSPISlaveSelectNotSoftware(t *testing.T) {
	s, _ := newTestSPI(t, nil, FreeClock{}, spi.ModeMaster|spi.SSMasterHWOutput)
	if _, err := s.Control(spi.ControlSS, spi.SSActive); !errors.Is(err, hal.ErrGeneric) {
		t.Errorf("ControlSS with hardware slave select = %v, want ErrGeneric", err)
	}
}

func TestSPIModeFault(t *testing.T) {
	s, rec := newTestSPI(t, nil, FreeClock{}, spi.ModeMaster|spi.SSMasterHWInput)
	s.InjectModeFault()
	if err := s.Send([]byte{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	eventually(t, "mode fault", func() bool { return rec.len() == 1 })
	if rec.last() != spi.EventModeFault {
		t.Errorf("event = %v, want ModeFault", rec.last())
	}
	st := s.GetStatus()
	if !st.ModeFault || st.Busy {
		t.Errorf("status = %+v", st)
	}
	if s.Settings().Master() {
		t.Error("master role kept after mode fault")
	}
	if err := s.Send([]byte{1}); !errors.Is(err, hal.ErrGeneric) {
		t.Errorf("Send() after mode fault = %v, want ErrGeneric", err)
	}
}

func TestSPIDataLost(t *testing.T) {
	s, rec := newTestSPI(t, nil, FreeClock{}, spi.ModeMaster)
	s.InjectDataLost()
	in := make([]byte, 2)
	if err := s.Transfer([]byte{7, 8}, in); err != nil {
		t.Fatal(err)
	}
	eventually(t, "transfer", func() bool { return rec.len() == 2 })
	got := rec.snapshot()
	if got[0] != spi.EventDataLost || got[1] != spi.EventTransferComplete {
		t.Errorf("events = %v", got)
	}
	if !s.GetStatus().DataLost {
		t.Error("DataLost not latched")
	}
	if !bytes.Equal(in, []byte{0, 8}) {
		t.Errorf("received % x, want the first item dropped", in)
	}
}
