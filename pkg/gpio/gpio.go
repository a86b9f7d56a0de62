// Package gpio defines the driver contract for digital I/O pins.
//
// Pin I/O is synchronous. Only edge detection is asynchronous: a pin set up
// with a callback and an event trigger reports edges independently of any
// other activity on the driver.
package gpio

import "github.com/mbalug7/go-hal-driver/pkg/hal"

// Pin identifies one line of a GPIO driver.
type Pin uint32

type Direction int

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	if d == Output {
		return "output"
	}
	return "input"
}

type OutputMode int

const (
	PushPull OutputMode = iota
	OpenDrain
)

type PullResistor int

const (
	PullNone PullResistor = iota
	PullUp
	PullDown
)

// EventTrigger selects which edges are reported.
type EventTrigger int

const (
	TriggerNone EventTrigger = iota
	TriggerRisingEdge
	TriggerFallingEdge
	TriggerEitherEdge
)

// EventType is the set of edges reported to the callback.
type EventType uint32

const (
	RisingEdge  EventType = 1 << 0
	FallingEdge EventType = 1 << 1
	EitherEdge  EventType = 1 << 2 // set together with the concrete edge when the trigger is TriggerEitherEdge
)

var eventNames = map[EventType]string{
	RisingEdge:  "RisingEdge",
	FallingEdge: "FallingEdge",
	EitherEdge:  "EitherEdge",
}

func (e EventType) Has(flag EventType) bool {
	return hal.Has(e, flag)
}

func (e EventType) String() string {
	return hal.FormatFlags(e, eventNames)
}

// SignalEvent is the callback shape of a GPIO driver. It carries the pin the
// edge was detected on.
type SignalEvent func(Pin, EventType)

// Edge returns the event set a trigger reports for a level transition from
// prev to next, or zero if the transition is not reported.
func Edge(trigger EventTrigger, prev, next uint32) EventType {
	switch {
	case prev == 0 && next != 0:
		switch trigger {
		case TriggerRisingEdge:
			return RisingEdge
		case TriggerEitherEdge:
			return RisingEdge | EitherEdge
		}
	case prev != 0 && next == 0:
		switch trigger {
		case TriggerFallingEdge:
			return FallingEdge
		case TriggerEitherEdge:
			return FallingEdge | EitherEdge
		}
	}
	return 0
}

// GPIO is implemented by every digital I/O driver.
//
// The callback runs on a backend goroutine. It must not block and must not
// call back into the same driver synchronously.
type GPIO interface {
	// Setup resets pin to input, push-pull, no pull resistor and no trigger,
	// and registers cb for its edge events. Calling it again for the same pin
	// replaces the callback. ErrParameter for an unknown pin or nil cb.
	Setup(pin Pin, cb SignalEvent) error

	// Release returns pin to the not-set-up state and drops its callback.
	Release(pin Pin) error

	SetDirection(pin Pin, dir Direction) error
	SetOutputMode(pin Pin, mode OutputMode) error
	SetPullResistor(pin Pin, pull PullResistor) error
	SetEventTrigger(pin Pin, trigger EventTrigger) error

	// SetOutput drives an output pin; any non-zero value is high.
	SetOutput(pin Pin, value uint32)

	// GetInput returns the pin level, 0 or 1.
	GetInput(pin Pin) uint32
}
