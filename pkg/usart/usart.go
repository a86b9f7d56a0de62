// Package usart defines the driver contract for asynchronous (and
// synchronous) serial ports.
//
// Transmitter and receiver have independent busy windows. Modem-status
// changes and receive line conditions are signaled asynchronously and never
// change the busy state.
package usart

import "github.com/mbalug7/go-hal-driver/pkg/hal"

// Event is the set of conditions signaled to the callback.
type Event uint32

const (
	EventSendComplete     Event = 1 << 0  // send completed, transmitter may still be shifting
	EventReceiveComplete  Event = 1 << 1  // receive completed
	EventTransferComplete Event = 1 << 2  // transfer completed
	EventTxComplete       Event = 1 << 3  // last bit shifted out
	EventTxUnderflow      Event = 1 << 4  // transmit data not available (synchronous slave)
	EventRxOverflow       Event = 1 << 5  // receive data overflow
	EventRxTimeout        Event = 1 << 6  // receive character timeout
	EventRxBreak          Event = 1 << 7  // break detected on receive
	EventRxFramingError   Event = 1 << 8  // framing error detected on receive
	EventRxParityError    Event = 1 << 9  // parity error detected on receive
	EventCTS              Event = 1 << 10 // CTS state changed
	EventDSR              Event = 1 << 11 // DSR state changed
	EventDCD              Event = 1 << 12 // DCD state changed
	EventRI               Event = 1 << 13 // RI state changed
)

var eventNames = map[Event]string{
	EventSendComplete:     "SendComplete",
	EventReceiveComplete:  "ReceiveComplete",
	EventTransferComplete: "TransferComplete",
	EventTxComplete:       "TxComplete",
	EventTxUnderflow:      "TxUnderflow",
	EventRxOverflow:       "RxOverflow",
	EventRxTimeout:        "RxTimeout",
	EventRxBreak:          "RxBreak",
	EventRxFramingError:   "RxFramingError",
	EventRxParityError:    "RxParityError",
	EventCTS:              "CTS",
	EventDSR:              "DSR",
	EventDCD:              "DCD",
	EventRI:               "RI",
}

// ModemEvents is the mask of modem-status change events.
const ModemEvents = EventCTS | EventDSR | EventDCD | EventRI

func (e Event) Has(flag Event) bool {
	return hal.Has(e, flag)
}

func (e Event) String() string {
	return hal.FormatFlags(e, eventNames)
}

// SignalEvent is the callback shape of a USART driver.
type SignalEvent func(Event)

// Status is a snapshot of the driver state. Error flags stay set until the
// next operation in their direction starts.
type Status struct {
	TxBusy         bool
	RxBusy         bool
	TxUnderflow    bool
	RxOverflow     bool
	RxBreak        bool
	RxFramingError bool
	RxParityError  bool
}

// ModemControl drives one modem output line.
type ModemControl int

const (
	RTSClear ModemControl = iota
	RTSSet
	DTRClear
	DTRSet
)

// ModemStatus is the state of the modem input lines; true is active.
type ModemStatus struct {
	CTS bool
	DSR bool
	DCD bool
	RI  bool
}

// USART is implemented by every serial port driver.
//
// The callback runs on a backend goroutine. It must not block and must not
// call back into the same driver synchronously.
type USART interface {
	hal.Driver

	Initialize(cb SignalEvent) error

	// Send starts transmitting data. Items wider than 8 bits take two bytes.
	Send(data []byte) error
	// Receive starts receiving into data.
	Receive(data []byte) error
	// Transfer sends and receives simultaneously (synchronous modes only).
	Transfer(out, in []byte) error

	GetTxCount() uint32
	GetRxCount() uint32

	// Control is the configuration escape: mode words carry data bits,
	// parity, stop bits, flow control and clock settings, with the baud rate
	// in arg. Other codes enable the transmitter/receiver, control break and
	// abort operations.
	Control(control uint32, arg uint32) error

	GetStatus() Status

	SetModemControl(control ModemControl) error
	GetModemStatus() ModemStatus
}
