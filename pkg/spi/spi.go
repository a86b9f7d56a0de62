// Package spi defines the driver contract for serial peripheral buses.
package spi

import "github.com/mbalug7/go-hal-driver/pkg/hal"

// Event is the set of conditions signaled to the callback.
type Event uint32

const (
	EventTransferComplete Event = 1 << 0
	EventDataLost         Event = 1 << 1 // receive overflow or transmit underflow
	EventModeFault        Event = 1 << 2 // slave select deactivated while master
)

var eventNames = map[Event]string{
	EventTransferComplete: "TransferComplete",
	EventDataLost:         "DataLost",
	EventModeFault:        "ModeFault",
}

func (e Event) Has(flag Event) bool {
	return hal.Has(e, flag)
}

func (e Event) String() string {
	return hal.FormatFlags(e, eventNames)
}

// SignalEvent is the callback shape of a SPI driver.
type SignalEvent func(Event)

// Status is a snapshot of the driver state.
type Status struct {
	Busy      bool
	DataLost  bool
	ModeFault bool
}

// SPI is implemented by every serial peripheral bus driver.
//
// Send, Receive and Transfer move len(data)/ItemSize items, where the item
// size follows the configured data bits. A mode fault aborts the outstanding
// transfer and drops the driver to the inactive mode.
//
// The callback runs on a backend goroutine. It must not block and must not
// call back into the same driver synchronously.
type SPI interface {
	hal.Driver

	Initialize(cb SignalEvent) error

	Send(data []byte) error
	// Receive clocks out the default transmit value while receiving.
	Receive(data []byte) error
	// Transfer sends out and receives into in simultaneously; both buffers
	// must have the same length.
	Transfer(out, in []byte) error

	GetDataCount() uint32

	// Control is the configuration escape. Mode words carry frame format,
	// data bits, bit order and slave-select mode; arg is the bus speed in
	// bits/s. The returned value is meaningful for ControlGetBusSpeed.
	Control(control uint32, arg uint32) (uint32, error)

	GetStatus() Status
}
