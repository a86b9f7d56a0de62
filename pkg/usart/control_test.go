package usart

import (
	"errors"
	"testing"

	"github.com/mbalug7/go-hal-driver/pkg/hal"
)

func TestSettingsRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		s    Settings
	}{
		{"default", DefaultSettings()},
		{"7E2", Settings{Mode: Mode(ModeAsynchronous), DataBits: 7, Parity: ParityEven, StopBits: StopBits2, Baud: 115200}},
		{"9 bit rts/cts", Settings{Mode: Mode(ModeAsynchronous), DataBits: 9, FlowControl: FlowRTSCTS, Baud: 57600}},
		{"sync slave", Settings{Mode: Mode(ModeSynchronousSlave), DataBits: 8, ClockPolarity: CPOL1, ClockPhase: CPHA1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.s.Control())
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.s {
				t.Errorf("Decode(Control()) = %+v, want %+v", got, tt.s)
			}
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name    string
		control uint32
		arg     uint32
		want    error
	}{
		{"abort is not a mode", ControlAbortSend, 0, hal.ErrParameter},
		{"zero baud", ModeAsynchronous, 0, hal.ErrParameter},
		{"data bits code 2", ModeAsynchronous | 2<<8, 9600, hal.ErrUnsupported},
		{"parity code 3", ModeAsynchronous | 3<<12, 9600, hal.ErrUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.control, tt.arg); !errors.Is(err, tt.want) {
				t.Errorf("Decode() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestItemSize(t *testing.T) {
	s := DefaultSettings()
	if s.ItemSize() != 1 {
		t.Errorf("ItemSize() = %d for 8 bits", s.ItemSize())
	}
	s.DataBits = 9
	if s.ItemSize() != 2 {
		t.Errorf("ItemSize() = %d for 9 bits", s.ItemSize())
	}
}

func TestEventString(t *testing.T) {
	ev := EventReceiveComplete | EventRxFramingError
	if got := ev.String(); got != "ReceiveComplete|RxFramingError" {
		t.Errorf("String() = %q", got)
	}
	if !ModemEvents.Has(EventDCD) || ModemEvents.Has(EventRxBreak) {
		t.Error("ModemEvents mask mismatch")
	}
}
