package i2c

import "testing"

func TestValidAddress(t *testing.T) {
	tests := []struct {
		addr uint32
		want bool
	}{
		{0x50, true},
		{0x7F, true},
		{0x80, false},
		{0x3FF | Address10Bit, true},
		{0x50 | AddressGeneralCall, true},
		{0x10000, false},
	}
	for _, tt := range tests {
		if got := ValidAddress(tt.addr); got != tt.want {
			t.Errorf("ValidAddress(%#x) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}

func TestEventTerminal(t *testing.T) {
	tests := []struct {
		ev   Event
		want bool
	}{
		{EventTransferDone, true},
		{EventArbitrationLost | EventTransferIncomplete, true},
		{EventBusError, true},
		{EventSlaveReceive, false},
		{EventGeneralCall, false},
		{EventBusCleared, false},
	}
	for _, tt := range tests {
		if got := tt.ev.Terminal(); got != tt.want {
			t.Errorf("%v.Terminal() = %v, want %v", tt.ev, got, tt.want)
		}
	}
}

func TestBusSpeedHz(t *testing.T) {
	if SpeedFast.Hz() != 400_000 || SpeedHigh.Hz() != 3_400_000 || BusSpeed(9).Hz() != 0 {
		t.Error("Hz() mismatch")
	}
}
