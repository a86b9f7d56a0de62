package spi

import (
	"fmt"

	"github.com/mbalug7/go-hal-driver/pkg/hal"
)

// Control codes, bits 0..7 of the control word.
const (
	ControlMask uint32 = 0xFF

	ModeInactive      uint32 = 0x00 // disable, arg ignored
	ModeMaster        uint32 = 0x01 // master, arg is the bus speed
	ModeSlave         uint32 = 0x02 // slave
	ModeMasterSimplex uint32 = 0x03 // master, single I/O line
	ModeSlaveSimplex  uint32 = 0x04 // slave, single I/O line

	ControlSetBusSpeed       uint32 = 0x10 // arg is the bus speed
	ControlGetBusSpeed       uint32 = 0x11
	ControlSetDefaultTxValue uint32 = 0x12 // arg is the value sent by Receive
	ControlSS                uint32 = 0x13 // arg is SSInactive or SSActive
	ControlAbortTransfer     uint32 = 0x14
)

// Frame format, bits 8..10.
const (
	frameFormatPos         = 8
	FrameFormatMask uint32 = 7 << frameFormatPos

	CPOL0CPHA0 uint32 = 0 << frameFormatPos
	CPOL0CPHA1 uint32 = 1 << frameFormatPos
	CPOL1CPHA0 uint32 = 2 << frameFormatPos
	CPOL1CPHA1 uint32 = 3 << frameFormatPos
	TISSI      uint32 = 4 << frameFormatPos // Texas Instruments frame format
	Microwire  uint32 = 5 << frameFormatPos // National Semiconductor Microwire
)

// Data bits, bits 12..17; zero means 8.
const (
	dataBitsPos         = 12
	DataBitsMask uint32 = 0x3F << dataBitsPos
)

// DataBits encodes n data bits per item, 1..32.
func DataBits(n uint32) uint32 {
	return (n << dataBitsPos) & DataBitsMask
}

// Bit order, bit 18.
const (
	MSBFirst uint32 = 0
	LSBFirst uint32 = 1 << 18
)

// Slave-select mode, bits 19..20. The master and slave encodings overlap and
// are told apart by the mode code.
const (
	ssModePos         = 19
	SSModeMask uint32 = 3 << ssModePos

	SSMasterUnused   uint32 = 0 << ssModePos
	SSMasterSoftware uint32 = 1 << ssModePos
	SSMasterHWOutput uint32 = 2 << ssModePos
	SSMasterHWInput  uint32 = 3 << ssModePos
	SSSlaveHardware  uint32 = 0 << ssModePos
	SSSlaveSoftware  uint32 = 1 << ssModePos
)

// Slave-select argument of ControlSS.
const (
	SSInactive uint32 = 0
	SSActive   uint32 = 1
)

// Settings is a decoded mode control word.
type Settings struct {
	Mode        uint32
	FrameFormat uint32
	DataBits    uint32
	BitOrder    uint32
	SSMode      uint32
	BusSpeed    uint32
}

// IsMode reports whether the control code selects a bus mode.
func IsMode(control uint32) bool {
	return control&ControlMask <= ModeSlaveSimplex
}

// Decode splits a mode control word and its arg into settings.
func Decode(control, arg uint32) (Settings, error) {
	s := Settings{
		Mode:        control & ControlMask,
		FrameFormat: control & FrameFormatMask,
		DataBits:    (control & DataBitsMask) >> dataBitsPos,
		BitOrder:    control & LSBFirst,
		SSMode:      control & SSModeMask,
		BusSpeed:    arg,
	}
	if !IsMode(control) {
		return Settings{}, fmt.Errorf("%w: control %#x is not a mode", hal.ErrParameter, control)
	}
	if s.DataBits == 0 {
		s.DataBits = 8
	}
	if s.FrameFormat > Microwire {
		return Settings{}, fmt.Errorf("%w: frame format %#x", hal.ErrUnsupported, s.FrameFormat)
	}
	if s.DataBits > 32 {
		return Settings{}, fmt.Errorf("%w: %d data bits", hal.ErrParameter, s.DataBits)
	}
	if (s.Mode == ModeMaster || s.Mode == ModeMasterSimplex) && s.BusSpeed == 0 {
		return Settings{}, fmt.Errorf("%w: master mode without bus speed", hal.ErrParameter)
	}
	if (s.Mode == ModeSlave || s.Mode == ModeSlaveSimplex) && s.SSMode > SSSlaveSoftware {
		return Settings{}, fmt.Errorf("%w: slave select mode %#x for slave", hal.ErrParameter, s.SSMode)
	}
	return s, nil
}

// ItemSize returns the buffer bytes per data item.
func (s Settings) ItemSize() int {
	return hal.ItemSize(s.DataBits)
}

// Master reports whether the settings select a master mode.
func (s Settings) Master() bool {
	return s.Mode == ModeMaster || s.Mode == ModeMasterSimplex
}
