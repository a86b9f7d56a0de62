// Package i2c defines the driver contract for two-wire serial buses.
package i2c

import "github.com/mbalug7/go-hal-driver/pkg/hal"

// BusSpeed selects the SCL clock rate.
type BusSpeed int

const (
	SpeedStandard BusSpeed = iota // 100 kHz
	SpeedFast                     // 400 kHz
	SpeedFastPlus                 // 1 MHz
	SpeedHigh                     // 3.4 MHz
)

// Hz returns the nominal clock frequency of the speed.
func (s BusSpeed) Hz() uint32 {
	switch s {
	case SpeedStandard:
		return 100_000
	case SpeedFast:
		return 400_000
	case SpeedFastPlus:
		return 1_000_000
	case SpeedHigh:
		return 3_400_000
	default:
		return 0
	}
}

// Address flags, OR-ed into a 7 or 10 bit address.
const (
	Address10Bit       uint32 = 0x0400 // 10-bit address
	AddressGeneralCall uint32 = 0x8000 // own address also answers the general call
)

// AddressMask extracts the address bits from a flagged address.
const AddressMask uint32 = 0x03FF

// GeneralCallAddress is the broadcast address.
const GeneralCallAddress uint32 = 0x00

// ValidAddress reports whether addr, with flags, is a legal target address.
func ValidAddress(addr uint32) bool {
	if addr&^(AddressMask|Address10Bit|AddressGeneralCall) != 0 {
		return false
	}
	if addr&Address10Bit != 0 {
		return true
	}
	return addr&AddressMask <= 0x7F
}

// Event is the set of conditions signaled to the callback.
type Event uint32

const (
	EventTransferDone       Event = 1 << 0 // master/slave transmit/receive finished
	EventTransferIncomplete Event = 1 << 1 // finished with fewer bytes than requested
	EventSlaveTransmit      Event = 1 << 2 // addressed as slave transmitter
	EventSlaveReceive       Event = 1 << 3 // addressed as slave receiver
	EventAddressNack        Event = 1 << 4 // address not acknowledged
	EventGeneralCall        Event = 1 << 5 // slave addressed with general call
	EventArbitrationLost    Event = 1 << 6 // master lost arbitration
	EventBusError           Event = 1 << 7 // bus error detected
	EventBusCleared         Event = 1 << 8 // bus clear finished
)

var eventNames = map[Event]string{
	EventTransferDone:       "TransferDone",
	EventTransferIncomplete: "TransferIncomplete",
	EventSlaveTransmit:      "SlaveTransmit",
	EventSlaveReceive:       "SlaveReceive",
	EventAddressNack:        "AddressNack",
	EventGeneralCall:        "GeneralCall",
	EventArbitrationLost:    "ArbitrationLost",
	EventBusError:           "BusError",
	EventBusCleared:         "BusCleared",
}

func (e Event) Has(flag Event) bool {
	return hal.Has(e, flag)
}

func (e Event) String() string {
	return hal.FormatFlags(e, eventNames)
}

// Terminal reports whether the set ends the current operation.
func (e Event) Terminal() bool {
	return hal.Any(e, EventTransferDone|EventArbitrationLost|EventBusError)
}

// SignalEvent is the callback shape of an I2C driver.
type SignalEvent func(Event)

// Status is a snapshot of the driver state.
type Status struct {
	Busy            bool
	Master          bool // false: slave
	Receiving       bool // false: transmitter
	GeneralCall     bool // addressed by general call
	ArbitrationLost bool
	BusError        bool
}

// I2C is implemented by every two-wire bus driver.
//
// A master operation with xferPending set completes with TransferDone but
// keeps the bus: no STOP is generated and the next master operation starts
// with a repeated START. Every chained call has its own busy window.
//
// The callback runs on a backend goroutine. It must not block and must not
// call back into the same driver synchronously.
type I2C interface {
	hal.Driver

	Initialize(cb SignalEvent) error

	MasterTransmit(addr uint32, data []byte, xferPending bool) error
	MasterReceive(addr uint32, data []byte, xferPending bool) error
	SlaveTransmit(data []byte) error
	SlaveReceive(data []byte) error

	// GetDataCount returns the bytes moved by the current or last operation.
	GetDataCount() uint32

	SetBusSpeed(speed BusSpeed) error
	// SetOwnAddress sets the slave address; zero disables slave mode.
	SetOwnAddress(addr uint32) error

	// ClearBus sends nine clock pulses and signals BusCleared.
	ClearBus() error
	// AbortTransfer terminates the outstanding operation without a callback.
	AbortTransfer() error

	GetStatus() Status
}
