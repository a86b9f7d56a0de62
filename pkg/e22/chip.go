// Package e22 drives Ebyte E22 LoRa modules. The module is wired to one
// serial port and three GPIO lines: M0 and M1 select the operating mode, AUX
// reports when the module is busy. Any usart.USART and gpio.GPIO pair can
// carry it, so the same code runs on Linux and against simulated hardware.
package e22

import (
	"fmt"

	"github.com/mbalug7/go-hal-driver/pkg/usart"
)

// ChipMode is the operating mode selected by the M0 and M1 lines.
type ChipMode int

const (
	ModeNormal ChipMode = iota
	ModeWakeUp
	ModePowerSave
	ModeSleep // configuration mode, serial fixed to 9600 8N1
)

func (m ChipMode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeWakeUp:
		return "wake-up"
	case ModePowerSave:
		return "power-save"
	case ModeSleep:
		return "sleep"
	default:
		return fmt.Sprintf("ChipMode(%d)", int(m))
	}
}

type chipModeLineState struct {
	m0Value uint32
	m1Value uint32
}

var chipModes = map[ChipMode]chipModeLineState{
	ModeNormal:    {m0Value: 0, m1Value: 0},
	ModeWakeUp:    {m0Value: 1, m1Value: 0},
	ModePowerSave: {m0Value: 0, m1Value: 1},
	ModeSleep:     {m0Value: 1, m1Value: 1},
}

// modeOf maps M0/M1 levels back to a mode.
func modeOf(m0, m1 uint32) ChipMode {
	for mode, lines := range chipModes {
		if lines.m0Value == m0 && lines.m1Value == m1 {
			return mode
		}
	}
	return ModeSleep
}

// OnDataCb receives raw serial data the module emits outside of
// configuration mode.
type OnDataCb func([]byte, error)

// Handler is the hardware access a Module needs.
type Handler interface {
	ReadSerial() ([]byte, error)
	WriteSerial(msg []byte) error
	StageSerialPortConfig(baud uint32, parityBit usart.Parity)
	SetMode(mode ChipMode) error
	GetMode() (ChipMode, error)
	RegisterOnMessageCb(cb OnDataCb) error
}

// RegAddress is the address of a module register.
type RegAddress uint8

func (a RegAddress) ToByte() byte {
	return byte(a)
}

// Register is one byte of the module configuration.
type Register interface {
	GetAddress() RegAddress
	GetValue() uint8
	SetValue(value uint8)
}
