package e22

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbalug7/go-hal-driver/pkg/gpio"
	"github.com/mbalug7/go-hal-driver/pkg/hal"
	"github.com/mbalug7/go-hal-driver/pkg/usart"
)

const (
	// the module needs 2ms to leave busy state after the AUX rising edge
	auxSettle = 2 * time.Millisecond
	// largest chunk the module emits in one go
	rxChunk = 512
	// inbox holds configuration responses nobody has read yet
	inboxSize = 8

	defaultTimeout    = 2 * time.Second
	defaultModeSettle = 200 * time.Millisecond
)

// rxRestart wakes the receive loop without a serial event.
const rxRestart usart.Event = 0

// Pins are the GPIO lines the module is wired to.
type Pins struct {
	M0  gpio.Pin
	M1  gpio.Pin
	AUX gpio.Pin
}

type serialPortData struct {
	serialBaud            uint32
	serialParityBit       usart.Parity
	serialBaudStaged      uint32
	serialParityBitStaged usart.Parity
}

// Option configures a HWHandler.
type Option func(*HWHandler)

// WithTimeout bounds every wait for the module: AUX edges, sends and
// configuration responses.
func WithTimeout(d time.Duration) Option {
	return func(h *HWHandler) { h.timeout = d }
}

// WithModeSettle sets the pause after a mode switch. The datasheet asks for
// 2ms; the default is 200ms.
func WithModeSettle(d time.Duration) Option {
	return func(h *HWHandler) { h.modeSettle = d }
}

// HWHandler talks to an E22 module through a serial port and three GPIO
// lines. It owns both drivers from NewHWHandler until Close.
type HWHandler struct {
	port           usart.USART
	io             gpio.GPIO
	pins           Pins
	serialPortData *serialPortData
	timeout        time.Duration
	modeSettle     time.Duration

	events *hal.Waiter[usart.Event]   // serial events
	aux    *hal.Waiter[gpio.EventType] // AUX edges
	mode   atomic.Int32                // mode last switched to
	inbox  chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	rxBuf  []byte
	closed bool

	muRead  sync.Mutex // held while the serial port is reconfigured
	muBusy  sync.Mutex // write, and mode change must wait for the previous one
	muCb    sync.Mutex
	onMsgCb OnDataCb
}

// NewHWHandler initializes port at 9600 8N1, drives M0 and M1 high (sleep
// mode) and watches AUX for rising edges.
func NewHWHandler(port usart.USART, io gpio.GPIO, pins Pins, opts ...Option) (*HWHandler, error) {
	ctx, cancel := context.WithCancel(context.Background())
	handler := &HWHandler{
		port: port,
		io:   io,
		pins: pins,
		serialPortData: &serialPortData{
			serialBaud:            9600,
			serialParityBit:       usart.ParityNone,
			serialBaudStaged:      9600,
			serialParityBitStaged: usart.ParityNone,
		},
		timeout:    defaultTimeout,
		modeSettle: defaultModeSettle,
		events:     hal.NewWaiter[usart.Event](),
		aux:        hal.NewWaiter[gpio.EventType](),
		inbox:      make(chan []byte, inboxSize),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		rxBuf:      make([]byte, rxChunk),
	}
	for _, opt := range opts {
		opt(handler)
	}
	handler.mode.Store(int32(ModeSleep))

	if err := port.Initialize(handler.onSerialEvent); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize serial port: %w", err)
	}
	if err := port.Control(serialSettings(9600, usart.ParityNone)); err != nil {
		cancel()
		port.Uninitialize()
		return nil, fmt.Errorf("failed to configure serial port: %w", err)
	}
	if err := handler.setupLines(); err != nil {
		cancel()
		port.Uninitialize()
		return nil, err
	}
	go handler.receiveLoop()
	time.Sleep(handler.modeSettle)
	return handler, nil
}

func (obj *HWHandler) setupLines() error {
	for _, pin := range []gpio.Pin{obj.pins.M0, obj.pins.M1} {
		if err := obj.io.Setup(pin, obj.onLineEvent); err != nil {
			return fmt.Errorf("failed to set up mode line %d: %w", pin, err)
		}
		obj.io.SetOutput(pin, 1)
		if err := obj.io.SetDirection(pin, gpio.Output); err != nil {
			return fmt.Errorf("failed to set mode line %d as output: %w", pin, err)
		}
	}
	if err := obj.io.Setup(obj.pins.AUX, obj.onLineEvent); err != nil {
		return fmt.Errorf("failed to set up AUX line: %w", err)
	}
	if err := obj.io.SetEventTrigger(obj.pins.AUX, gpio.TriggerRisingEdge); err != nil {
		return fmt.Errorf("failed to watch AUX line: %w", err)
	}
	return nil
}

// Close stops the receive loop, releases the lines and uninitializes the
// serial port.
func (obj *HWHandler) Close() error {
	obj.muRead.Lock()
	if obj.closed {
		obj.muRead.Unlock()
		return nil
	}
	obj.closed = true
	obj.muRead.Unlock()
	obj.cancel()
	<-obj.done

	var errs []error
	for _, pin := range []gpio.Pin{obj.pins.M0, obj.pins.M1, obj.pins.AUX} {
		if err := obj.io.Release(pin); err != nil {
			errs = append(errs, fmt.Errorf("failed to release line %d: %w", pin, err))
		}
	}
	if err := obj.port.Uninitialize(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close serial port: %w", err))
	}
	return errors.Join(errs...)
}

func (obj *HWHandler) RegisterOnMessageCb(cb OnDataCb) error {
	obj.muCb.Lock()
	defer obj.muCb.Unlock()
	if obj.onMsgCb != nil {
		return fmt.Errorf("on message callback already registered")
	}
	obj.onMsgCb = cb
	return nil
}

// StageSerialPortConfig records the serial settings the module uses outside
// of sleep mode. They are applied on the next switch to such a mode.
func (obj *HWHandler) StageSerialPortConfig(baudRate uint32, parityBit usart.Parity) {
	obj.muBusy.Lock()
	defer obj.muBusy.Unlock()
	obj.serialPortData.serialBaudStaged = baudRate
	obj.serialPortData.serialParityBitStaged = parityBit
}

func serialSettings(baud uint32, parityBit usart.Parity) (uint32, uint32) {
	s := usart.DefaultSettings()
	s.Baud = baud
	s.Parity = parityBit
	return s.Control()
}

// updateSerialConfig reconfigures the port to the staged settings. The
// caller holds muBusy.
func (obj *HWHandler) updateSerialConfig(data *serialPortData) error {
	// ignore updating if current and next config is the same
	if data.serialBaud == data.serialBaudStaged && data.serialParityBit == data.serialParityBitStaged {
		return nil
	}

	// keep the receive loop from re-arming until this is finished
	obj.muRead.Lock()
	defer obj.muRead.Unlock()

	if err := obj.port.Control(usart.ControlAbortReceive, 0); err != nil {
		return fmt.Errorf("failed to stop receiving: %w", err)
	}
	obj.events.Notify(rxRestart)
	if err := obj.port.Control(serialSettings(data.serialBaudStaged, data.serialParityBitStaged)); err != nil {
		return fmt.Errorf("failed to reconfigure serial port: %w", err)
	}
	hal.LogDebug(hal.ComponentE22, "serial port reconfigured", "baud", data.serialBaudStaged, "parity", data.serialParityBitStaged)
	obj.serialPortData.serialBaud = data.serialBaudStaged
	obj.serialPortData.serialParityBit = data.serialParityBitStaged
	return nil
}

func (obj *HWHandler) onSerialEvent(ev usart.Event) {
	if hal.Any(ev, usart.EventRxFramingError|usart.EventRxParityError|usart.EventRxOverflow) {
		hal.LogWarn(hal.ComponentE22, "serial receive error", "event", ev)
	}
	obj.events.Notify(ev)
}

func (obj *HWHandler) onLineEvent(pin gpio.Pin, ev gpio.EventType) {
	if pin == obj.pins.AUX {
		obj.aux.Notify(ev)
	}
}

func rxEnded(ev usart.Event) bool {
	return ev == rxRestart || hal.Any(ev, usart.EventReceiveComplete|usart.EventRxTimeout)
}

// receiveLoop keeps a receive outstanding and hands every chunk the module
// emits to route.
func (obj *HWHandler) receiveLoop() {
	defer close(obj.done)
	for {
		ev, err := hal.Await(obj.ctx, obj.events, rxEnded, obj.armReceive)
		if obj.ctx.Err() != nil {
			return
		}
		if err != nil {
			hal.LogWarn(hal.ComponentE22, "failed to start receiving", "error", err)
			select {
			case <-obj.ctx.Done():
				return
			case <-time.After(auxSettle):
			}
			continue
		}
		if !ev.Has(usart.EventReceiveComplete) {
			// the receive stays outstanding on a timeout
			if err := obj.port.Control(usart.ControlAbortReceive, 0); err != nil {
				hal.LogWarn(hal.ComponentE22, "failed to stop receiving", "error", err)
			}
		}
		n := obj.port.GetRxCount()
		if n == 0 {
			continue
		}
		chunk := make([]byte, n)
		copy(chunk, obj.rxBuf[:n])
		obj.route(chunk)
	}
}

func (obj *HWHandler) armReceive() error {
	obj.muRead.Lock()
	defer obj.muRead.Unlock()
	if obj.closed {
		return hal.ErrNotInitialized
	}
	return obj.port.Receive(obj.rxBuf)
}

// route sends configuration responses to ReadSerial and everything else to
// the registered callback.
func (obj *HWHandler) route(chunk []byte) {
	if ChipMode(obj.mode.Load()) == ModeSleep {
		select {
		case obj.inbox <- chunk:
		default:
			hal.LogWarn(hal.ComponentE22, "configuration response dropped", "bytes", len(chunk))
		}
		return
	}
	obj.muCb.Lock()
	cb := obj.onMsgCb
	obj.muCb.Unlock()
	if cb == nil {
		hal.LogDebug(hal.ComponentE22, "message dropped, no callback", "bytes", len(chunk))
		return
	}
	cb(chunk, nil)
}

// ReadSerial returns the next chunk the module emitted in sleep mode.
func (obj *HWHandler) ReadSerial() ([]byte, error) {
	select {
	case data := <-obj.inbox:
		return data, nil
	case <-time.After(obj.timeout):
		return nil, fmt.Errorf("%w: no response from module", hal.ErrTimeout)
	}
}

// WriteSerial sends msg and waits until the module has taken it, signaled by
// the AUX rising edge.
func (obj *HWHandler) WriteSerial(msg []byte) error {
	// lock it, another write or mode switch can't happen before this writing finishes
	obj.muBusy.Lock()
	defer obj.muBusy.Unlock()

	// check if module is busy, wait for previous action to finish
	if err := obj.waitAUXFree(); err != nil {
		return fmt.Errorf("failed to check AUX pin input state: %w", err)
	}
	id, auxDone, err := obj.aux.Register(isRising)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(obj.ctx, obj.timeout)
	defer cancel()
	_, err = hal.Await(ctx, obj.events, sent, func() error {
		return obj.port.Send(msg)
	})
	if err != nil {
		obj.aux.Cancel(id)
		return fmt.Errorf("failed to send data: %w", err)
	}
	select {
	case <-ctx.Done():
		obj.aux.Cancel(id)
		return fmt.Errorf("%w: module did not finish the write", hal.ErrTimeout)
	case <-auxDone:
	}

	// module needs 2ms to switch from busy mode to non busy mode after rising aux edge
	time.Sleep(auxSettle)
	return nil
}

func sent(ev usart.Event) bool {
	return ev.Has(usart.EventSendComplete)
}

func isRising(ev gpio.EventType) bool {
	return ev.Has(gpio.RisingEdge)
}

func (obj *HWHandler) SetMode(mode ChipMode) error {
	currentMode, err := obj.GetMode()
	if err != nil {
		return err
	}
	if currentMode == mode {
		return nil
	}
	chipMode, ok := chipModes[mode]
	if !ok {
		return fmt.Errorf("%w: unsupported chip mode %d", hal.ErrParameter, mode)
	}
	// lock it, another write or mode switch can't happen before this mode switching finishes
	obj.muBusy.Lock()
	defer obj.muBusy.Unlock()

	if mode == ModeSleep {
		// configuration is always exchanged at 9600 8N1
		err = obj.updateSerialConfig(&serialPortData{
			serialBaud:            obj.serialPortData.serialBaud,
			serialParityBit:       obj.serialPortData.serialParityBit,
			serialBaudStaged:      9600,
			serialParityBitStaged: usart.ParityNone,
		})
	} else {
		err = obj.updateSerialConfig(obj.serialPortData)
	}
	if err != nil {
		return fmt.Errorf("failed to setup serial port params for mode %s: %w", mode, err)
	}

	if err := obj.waitAUXFree(); err != nil {
		return fmt.Errorf("failed to check AUX pin input state: %w", err)
	}
	id, auxDone, err := obj.aux.Register(isRising)
	if err != nil {
		return err
	}
	obj.io.SetOutput(obj.pins.M0, chipMode.m0Value)
	obj.io.SetOutput(obj.pins.M1, chipMode.m1Value)

	select {
	case <-time.After(obj.timeout):
		obj.aux.Cancel(id)
		return fmt.Errorf("%w: failed to switch chip mode to %s", hal.ErrTimeout, mode)
	case <-auxDone:
	}
	obj.mode.Store(int32(mode))
	hal.LogDebug(hal.ComponentE22, "chip mode switched", "from", currentMode, "to", mode)
	// the switch is not complete on the rising edge
	time.Sleep(obj.modeSettle)
	return nil
}

func (obj *HWHandler) GetMode() (ChipMode, error) {
	return modeOf(obj.io.GetInput(obj.pins.M0), obj.io.GetInput(obj.pins.M1)), nil
}

// waitAUXFree returns once AUX is high.
func (obj *HWHandler) waitAUXFree() error {
	id, ch, err := obj.aux.Register(isRising)
	if err != nil {
		return err
	}
	if obj.io.GetInput(obj.pins.AUX) == 1 {
		obj.aux.Cancel(id)
		return nil
	}
	select {
	case <-time.After(obj.timeout):
		obj.aux.Cancel(id)
		return fmt.Errorf("%w: aux free checking", hal.ErrTimeout)
	case <-ch:
		return nil
	}
}
