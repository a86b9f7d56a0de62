// Package sai defines the driver contract for synchronous audio interfaces
// (I2S, PCM, AC'97 and user frame formats).
//
// Transmitter and receiver have independent busy windows. Underflow and
// overflow do not end an operation: the flag is latched in Status and the
// transfer carries on.
package sai

import (
	"fmt"

	"github.com/mbalug7/go-hal-driver/pkg/hal"
)

type Mode int

const (
	Master Mode = iota
	Slave
)

type Synchronization int

const (
	Asynchronous Synchronization = iota
	Synchronous
)

type Protocol int

const (
	ProtocolUser Protocol = iota
	ProtocolI2S
	ProtocolMSBJustified
	ProtocolLSBJustified
	ProtocolPCMShort
	ProtocolPCMLong
	ProtocolAC97
)

type BitOrder int

const (
	MSBFirst BitOrder = iota
	LSBFirst
)

type Companding int

const (
	CompandingNone Companding = iota
	CompandingALaw
	CompandingULaw
)

type ClockPolarity int

const (
	ClockFallingEdge ClockPolarity = iota // drive on falling edge, capture on rising
	ClockRisingEdge                       // drive on rising edge, capture on falling
)

type MasterClockPin int

const (
	MasterClockInactive MasterClockPin = iota
	MasterClockOutput
	MasterClockInput
)

type FrameSyncPolarity int

const (
	FrameSyncHigh FrameSyncPolarity = iota
	FrameSyncLow
)

// Config is the frame format of both directions.
type Config struct {
	Mode              Mode
	Synchronization   Synchronization
	Protocol          Protocol
	DataSize          uint32 // bits per slot, 8..32
	BitOrder          BitOrder
	Companding        Companding
	ClockPolarity     ClockPolarity
	MasterClockPin    MasterClockPin
	FrameSyncPolarity FrameSyncPolarity
	FrameLength       uint32 // bits per frame, 0 derives it from slots
	Slots             uint32 // data slots per frame, 0 means stereo
	AudioFrequency    uint32 // Hz, master mode only
	Transmitter       bool   // transmitter enabled
	Receiver          bool   // receiver enabled
}

// DefaultConfig is 16-bit stereo I2S master at 48 kHz with both directions
// enabled.
func DefaultConfig() Config {
	return Config{
		Protocol:       ProtocolI2S,
		DataSize:       16,
		Slots:          2,
		AudioFrequency: 48_000,
		Transmitter:    true,
		Receiver:       true,
	}
}

// Validate checks the combination of fields.
func (obj Config) Validate() error {
	if obj.DataSize < 8 || obj.DataSize > 32 {
		return fmt.Errorf("%w: data size %d", hal.ErrParameter, obj.DataSize)
	}
	if obj.Companding != CompandingNone && obj.DataSize != 8 {
		return fmt.Errorf("%w: companding needs 8-bit data", hal.ErrParameter)
	}
	if obj.Protocol == ProtocolAC97 && obj.DataSize != 16 && obj.DataSize != 20 {
		return fmt.Errorf("%w: AC'97 slot size %d", hal.ErrParameter, obj.DataSize)
	}
	if obj.Mode == Master && obj.AudioFrequency == 0 {
		return fmt.Errorf("%w: master mode without audio frequency", hal.ErrParameter)
	}
	if obj.FrameLength != 0 && obj.FrameLength < obj.DataSize*obj.SlotCount() {
		return fmt.Errorf("%w: frame of %d bits cannot hold %d slots", hal.ErrParameter, obj.FrameLength, obj.SlotCount())
	}
	if obj.Mode == Slave && obj.MasterClockPin == MasterClockOutput {
		return fmt.Errorf("%w: slave cannot drive the master clock", hal.ErrParameter)
	}
	return nil
}

// SlotCount returns the number of data slots per frame.
func (obj Config) SlotCount() uint32 {
	if obj.Slots == 0 {
		return 2
	}
	return obj.Slots
}

// ItemSize returns the buffer bytes per data item.
func (obj Config) ItemSize() int {
	return hal.ItemSize(obj.DataSize)
}

// Event is the set of conditions signaled to the callback.
type Event uint32

const (
	EventSendComplete    Event = 1 << 0
	EventReceiveComplete Event = 1 << 1
	EventTxUnderflow     Event = 1 << 2 // transmit data not available
	EventRxOverflow      Event = 1 << 3 // receive data overflow
	EventFrameError      Event = 1 << 4 // sync frame error in slave mode
)

var eventNames = map[Event]string{
	EventSendComplete:    "SendComplete",
	EventReceiveComplete: "ReceiveComplete",
	EventTxUnderflow:     "TxUnderflow",
	EventRxOverflow:      "RxOverflow",
	EventFrameError:      "FrameError",
}

func (e Event) Has(flag Event) bool {
	return hal.Has(e, flag)
}

func (e Event) String() string {
	return hal.FormatFlags(e, eventNames)
}

// SignalEvent is the callback shape of a SAI driver.
type SignalEvent func(Event)

// Status is a snapshot of the driver state.
type Status struct {
	TxBusy      bool
	RxBusy      bool
	TxUnderflow bool
	RxOverflow  bool
	FrameError  bool
}

// SAI is implemented by every audio-frame bus driver.
//
// The callback runs on a backend goroutine. It must not block and must not
// call back into the same driver synchronously.
type SAI interface {
	hal.Driver

	Initialize(cb SignalEvent) error

	// Configure applies cfg. Rejected with ErrBusy while either direction
	// is busy.
	Configure(cfg Config) error

	// Send starts transmitting the items in data; len(data) must be a
	// multiple of the configured item size.
	Send(data []byte) error
	Receive(data []byte) error

	// AbortSend and AbortReceive terminate one direction without a callback.
	AbortSend() error
	AbortReceive() error

	GetTxCount() uint32
	GetRxCount() uint32
	GetStatus() Status
}
