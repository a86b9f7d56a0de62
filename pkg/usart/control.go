package usart

import (
	"fmt"

	"github.com/mbalug7/go-hal-driver/pkg/hal"
)

// Control codes, bits 0..7 of the control word.
const (
	ControlMask uint32 = 0xFF

	ModeAsynchronous      uint32 = 0x01 // UART, arg is the baud rate
	ModeSynchronousMaster uint32 = 0x02 // synchronous master, arg is the baud rate
	ModeSynchronousSlave  uint32 = 0x03 // synchronous slave, external clock
	ModeSingleWire        uint32 = 0x04 // half-duplex UART
	ModeIrDA              uint32 = 0x05
	ModeSmartCard         uint32 = 0x06

	ControlSetDefaultTxValue uint32 = 0x10 // arg is the value sent by Receive in synchronous master mode
	ControlTx                uint32 = 0x15 // arg 0 disables, 1 enables the transmitter
	ControlRx                uint32 = 0x16 // arg 0 disables, 1 enables the receiver
	ControlBreak             uint32 = 0x17 // arg 0 clears, 1 sends break
	ControlAbortSend         uint32 = 0x18
	ControlAbortReceive      uint32 = 0x19
	ControlAbortTransfer     uint32 = 0x1A
)

type Mode uint32

type DataBits uint32

// Parity is the parity bit setting.
type Parity uint32

const (
	ParityNone Parity = 0
	ParityEven Parity = 1 << 12
	ParityOdd  Parity = 2 << 12
)

type StopBits uint32

const (
	StopBits1   StopBits = 0
	StopBits2   StopBits = 1 << 14
	StopBits1_5 StopBits = 2 << 14
	StopBits0_5 StopBits = 3 << 14
)

type FlowControl uint32

const (
	FlowNone   FlowControl = 0
	FlowRTS    FlowControl = 1 << 16
	FlowCTS    FlowControl = 2 << 16
	FlowRTSCTS FlowControl = 3 << 16
)

type ClockPolarity uint32

const (
	CPOL0 ClockPolarity = 0
	CPOL1 ClockPolarity = 1 << 18
)

type ClockPhase uint32

const (
	CPHA0 ClockPhase = 0
	CPHA1 ClockPhase = 1 << 19
)

const (
	dataBitsPos  = 8
	dataBitsMask = 7 << dataBitsPos
	parityMask   = 3 << 12
	stopBitsMask = 3 << 14
	flowMask     = 3 << 16
)

// Settings is a decoded mode control word.
type Settings struct {
	Mode          Mode
	DataBits      DataBits
	Parity        Parity
	StopBits      StopBits
	FlowControl   FlowControl
	ClockPolarity ClockPolarity
	ClockPhase    ClockPhase
	Baud          uint32
}

// DefaultSettings is 9600 8N1 asynchronous, without flow control.
func DefaultSettings() Settings {
	return Settings{
		Mode:     Mode(ModeAsynchronous),
		DataBits: 8,
		Baud:     9600,
	}
}

// Control encodes the settings as a control word and arg.
func (s Settings) Control() (uint32, uint32) {
	var bits uint32
	switch s.DataBits {
	case 5, 6, 7:
		bits = uint32(s.DataBits) << dataBitsPos
	case 9:
		bits = 1 << dataBitsPos
	}
	return uint32(s.Mode) | bits | uint32(s.Parity) | uint32(s.StopBits) |
		uint32(s.FlowControl) | uint32(s.ClockPolarity) | uint32(s.ClockPhase), s.Baud
}

// IsMode reports whether the control code selects a port mode.
func IsMode(control uint32) bool {
	code := control & ControlMask
	return code >= ModeAsynchronous && code <= ModeSmartCard
}

// Synchronous reports whether the mode clocks data with a separate line.
func (s Settings) Synchronous() bool {
	return s.Mode == Mode(ModeSynchronousMaster) || s.Mode == Mode(ModeSynchronousSlave)
}

// ItemSize returns the buffer bytes per character.
func (s Settings) ItemSize() int {
	return hal.ItemSize(uint32(s.DataBits))
}

// Decode splits a mode control word and its arg into settings.
func Decode(control, arg uint32) (Settings, error) {
	if !IsMode(control) {
		return Settings{}, fmt.Errorf("%w: control %#x is not a mode", hal.ErrParameter, control)
	}
	s := Settings{
		Mode:          Mode(control & ControlMask),
		Parity:        Parity(control & parityMask),
		StopBits:      StopBits(control & stopBitsMask),
		FlowControl:   FlowControl(control & flowMask),
		ClockPolarity: ClockPolarity(control & uint32(CPOL1)),
		ClockPhase:    ClockPhase(control & uint32(CPHA1)),
		Baud:          arg,
	}
	switch bits := (control & dataBitsMask) >> dataBitsPos; bits {
	case 0:
		s.DataBits = 8
	case 1:
		s.DataBits = 9
	case 5, 6, 7:
		s.DataBits = DataBits(bits)
	default:
		return Settings{}, fmt.Errorf("%w: data bits code %d", hal.ErrUnsupported, bits)
	}
	if s.Parity == 3<<12 {
		return Settings{}, fmt.Errorf("%w: parity code 3", hal.ErrUnsupported)
	}
	if s.Mode != Mode(ModeSynchronousSlave) && s.Baud == 0 {
		return Settings{}, fmt.Errorf("%w: baud rate 0", hal.ErrParameter)
	}
	return s, nil
}
