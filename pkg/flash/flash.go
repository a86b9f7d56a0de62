// Package flash defines the driver contract for non-volatile memory.
package flash

import "github.com/mbalug7/go-hal-driver/pkg/hal"

// Event is the set of conditions signaled to the callback.
type Event uint32

const (
	EventReady Event = 1 << 0 // operation finished, device ready
	EventError Event = 1 << 1 // read, program or erase error
)

var eventNames = map[Event]string{
	EventReady: "Ready",
	EventError: "Error",
}

func (e Event) Has(flag Event) bool {
	return hal.Has(e, flag)
}

func (e Event) String() string {
	return hal.FormatFlags(e, eventNames)
}

// SignalEvent is the callback shape of a flash driver.
type SignalEvent func(Event)

// Status is a snapshot of the driver state.
type Status struct {
	Busy  bool // operation outstanding
	Error bool // last operation failed, cleared when the next one starts
}

// Flash is implemented by every non-volatile memory driver.
//
// The callback runs on a backend goroutine. It must not block and must not
// call back into the same driver synchronously.
type Flash interface {
	hal.Driver

	// Initialize registers the callback; ErrAlreadyInitialized on a second call.
	Initialize(cb SignalEvent) error

	// ReadData starts reading len(data) bytes at addr.
	ReadData(addr uint32, data []byte) error

	// ProgramData starts programming data at addr. addr and len(data) must be
	// multiples of Info.ProgramUnit.
	ProgramData(addr uint32, data []byte) error

	// EraseSector starts erasing the sector containing addr.
	EraseSector(addr uint32) error

	// EraseChip starts erasing the whole device. ErrUnsupported if the device
	// cannot do it in one operation.
	EraseChip() error

	// GetDataCount returns the bytes moved by the current or last operation.
	GetDataCount() uint32

	GetStatus() Status
	GetInfo() Info
}
