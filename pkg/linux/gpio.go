//go:build linux

package linux

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mbalug7/go-hal-driver/pkg/gpio"
	"github.com/mbalug7/go-hal-driver/pkg/hal"
	"github.com/warthog618/gpiod"
)

const consumer = "go-hal-driver"

type lineConfig struct {
	dir     gpio.Direction
	mode    gpio.OutputMode
	pull    gpio.PullResistor
	trigger gpio.EventTrigger
}

type pinLine struct {
	cfg  lineConfig
	cb   gpio.SignalEvent
	out  int
	gen  uint64 // bumped on every request
	line *gpiod.Line
}

type lineEvent struct {
	pin gpio.Pin
	gen uint64
	ev  gpio.EventType
	evt gpiod.LineEvent
}

// eventQueue bounds the edges waiting for the callback; further edges are
// dropped.
const eventQueue = 64

// GPIO drives the lines of one GPIO character device. A line is requested
// from the kernel on Setup and re-requested whenever its configuration
// changes. Edge events are handed from the gpiod watcher to a dispatch
// goroutine, which runs the callbacks one at a time.
type GPIO struct {
	chip       *gpiod.Chip
	mu         sync.Mutex
	dispatchMu sync.Mutex
	pins       map[gpio.Pin]*pinLine
	events     chan lineEvent
	done       chan struct{}
	closed     bool
}

// NewGPIO opens the GPIO chip, e.g. "gpiochip0".
func NewGPIO(chip string) (*GPIO, error) {
	c, err := gpiod.NewChip(chip, gpiod.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("failed to create GPIO chip: %w", err)
	}
	obj := &GPIO{
		chip:   c,
		pins:   make(map[gpio.Pin]*pinLine),
		events: make(chan lineEvent, eventQueue),
		done:   make(chan struct{}),
	}
	go obj.dispatch()
	return obj, nil
}

// Close releases every requested line and the chip. Later calls do nothing.
func (obj *GPIO) Close() error {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	if obj.closed {
		return nil
	}
	obj.closed = true
	var errs []error
	for pin, p := range obj.pins {
		if p.line != nil {
			if err := p.line.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close line %d: %w", pin, err))
			}
		}
		delete(obj.pins, pin)
	}
	close(obj.done)
	if err := obj.chip.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close GPIO chip: %w", err))
	}
	return errors.Join(errs...)
}

func (obj *GPIO) valid(pin gpio.Pin) bool {
	return int(pin) < obj.chip.Lines()
}

func (obj *GPIO) Setup(pin gpio.Pin, cb gpio.SignalEvent) error {
	if cb == nil || !obj.valid(pin) {
		return fmt.Errorf("%w: setup of pin %d", hal.ErrParameter, pin)
	}
	obj.dispatchMu.Lock()
	defer obj.dispatchMu.Unlock()
	obj.mu.Lock()
	defer obj.mu.Unlock()
	if obj.closed {
		return fmt.Errorf("%w: GPIO chip closed", hal.ErrGeneric)
	}

	p, ok := obj.pins[pin]
	if !ok {
		p = &pinLine{}
		obj.pins[pin] = p
	}
	p.cb = cb
	p.cfg = lineConfig{}
	p.out = 0
	if err := obj.request(pin, p); err != nil {
		delete(obj.pins, pin)
		return err
	}
	hal.LogDebug(hal.ComponentGPIO, "line requested", "pin", pin)
	return nil
}

func (obj *GPIO) Release(pin gpio.Pin) error {
	if !obj.valid(pin) {
		return fmt.Errorf("%w: release of pin %d", hal.ErrParameter, pin)
	}
	obj.dispatchMu.Lock()
	defer obj.dispatchMu.Unlock()
	obj.mu.Lock()
	defer obj.mu.Unlock()

	p, ok := obj.pins[pin]
	if !ok {
		return nil
	}
	delete(obj.pins, pin)
	if p.line == nil {
		return nil
	}
	if err := p.line.Close(); err != nil {
		return fmt.Errorf("%w: failed to close line %d: %v", hal.ErrGeneric, pin, err)
	}
	return nil
}

// request (re)requests the kernel line for p with its current config.
func (obj *GPIO) request(pin gpio.Pin, p *pinLine) error {
	if p.line != nil {
		if err := p.line.Close(); err != nil {
			return fmt.Errorf("%w: failed to close line %d: %v", hal.ErrGeneric, pin, err)
		}
		p.line = nil
	}
	p.gen++
	line, err := obj.chip.RequestLine(int(pin), obj.options(pin, p.gen, p.cfg, p.out)...)
	if err != nil {
		return fmt.Errorf("%w: failed to request line %d: %v", hal.ErrGeneric, pin, err)
	}
	p.line = line
	return nil
}

func (obj *GPIO) options(pin gpio.Pin, gen uint64, cfg lineConfig, out int) []gpiod.LineReqOption {
	var opts []gpiod.LineReqOption
	switch cfg.pull {
	case gpio.PullUp:
		opts = append(opts, gpiod.WithPullUp)
	case gpio.PullDown:
		opts = append(opts, gpiod.WithPullDown)
	}
	if cfg.dir == gpio.Output {
		opts = append(opts, gpiod.AsOutput(out))
		if cfg.mode == gpio.OpenDrain {
			opts = append(opts, gpiod.AsOpenDrain)
		}
		return opts
	}
	opts = append(opts, gpiod.AsInput)
	switch cfg.trigger {
	case gpio.TriggerRisingEdge:
		opts = append(opts, gpiod.WithRisingEdge)
	case gpio.TriggerFallingEdge:
		opts = append(opts, gpiod.WithFallingEdge)
	case gpio.TriggerEitherEdge:
		opts = append(opts, gpiod.WithBothEdges)
	default:
		return opts
	}
	trigger := cfg.trigger
	return append(opts, gpiod.WithEventHandler(func(evt gpiod.LineEvent) {
		obj.onLineEvent(pin, gen, trigger, evt)
	}))
}

// onLineEvent runs on the gpiod watcher goroutine, which Line.Close waits
// for. It must not take obj.mu or obj.dispatchMu.
func (obj *GPIO) onLineEvent(pin gpio.Pin, gen uint64, trigger gpio.EventTrigger, evt gpiod.LineEvent) {
	prev, next := uint32(0), uint32(1)
	if evt.Type == gpiod.LineEventFallingEdge {
		prev, next = 1, 0
	}
	ev := gpio.Edge(trigger, prev, next)
	if ev == 0 {
		return
	}
	select {
	case obj.events <- lineEvent{pin: pin, gen: gen, ev: ev, evt: evt}:
	default:
		hal.LogWarn(hal.ComponentGPIO, "edge dropped, event queue full", "pin", pin, "event", ev)
	}
}

func (obj *GPIO) dispatch() {
	for {
		select {
		case <-obj.done:
			return
		case e := <-obj.events:
			obj.deliver(e)
		}
	}
}

func (obj *GPIO) deliver(e lineEvent) {
	obj.dispatchMu.Lock()
	defer obj.dispatchMu.Unlock()
	obj.mu.Lock()
	p, ok := obj.pins[e.pin]
	var cb gpio.SignalEvent
	if ok && p.gen == e.gen {
		cb = p.cb
	}
	obj.mu.Unlock()
	if cb != nil {
		hal.LogDebug(hal.ComponentGPIO, "edge", "pin", e.pin, "event", e.ev, "timestamp", e.evt.Timestamp)
		cb(e.pin, e.ev)
	}
}

func (obj *GPIO) reconfigure(pin gpio.Pin, apply func(cfg *lineConfig)) error {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	p, ok := obj.pins[pin]
	if !ok {
		return fmt.Errorf("pin %d: %w", pin, hal.ErrNotInitialized)
	}
	next := p.cfg
	apply(&next)
	if next == p.cfg {
		return nil
	}
	p.cfg = next
	return obj.request(pin, p)
}

func (obj *GPIO) SetDirection(pin gpio.Pin, dir gpio.Direction) error {
	if dir != gpio.Input && dir != gpio.Output {
		return fmt.Errorf("%w: direction %d", hal.ErrParameter, dir)
	}
	return obj.reconfigure(pin, func(cfg *lineConfig) { cfg.dir = dir })
}

func (obj *GPIO) SetOutputMode(pin gpio.Pin, mode gpio.OutputMode) error {
	if mode != gpio.PushPull && mode != gpio.OpenDrain {
		return fmt.Errorf("%w: output mode %d", hal.ErrParameter, mode)
	}
	return obj.reconfigure(pin, func(cfg *lineConfig) { cfg.mode = mode })
}

func (obj *GPIO) SetPullResistor(pin gpio.Pin, pull gpio.PullResistor) error {
	if pull < gpio.PullNone || pull > gpio.PullDown {
		return fmt.Errorf("%w: pull resistor %d", hal.ErrParameter, pull)
	}
	return obj.reconfigure(pin, func(cfg *lineConfig) { cfg.pull = pull })
}

func (obj *GPIO) SetEventTrigger(pin gpio.Pin, trigger gpio.EventTrigger) error {
	if trigger < gpio.TriggerNone || trigger > gpio.TriggerEitherEdge {
		return fmt.Errorf("%w: trigger %d", hal.ErrParameter, trigger)
	}
	return obj.reconfigure(pin, func(cfg *lineConfig) { cfg.trigger = trigger })
}

func (obj *GPIO) SetOutput(pin gpio.Pin, value uint32) {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	p, ok := obj.pins[pin]
	if !ok {
		return
	}
	p.out = 0
	if value != 0 {
		p.out = 1
	}
	if p.cfg.dir != gpio.Output || p.line == nil {
		return
	}
	if err := p.line.SetValue(p.out); err != nil {
		hal.LogWarn(hal.ComponentGPIO, "failed to set line value", "pin", pin, "error", err)
	}
}

func (obj *GPIO) GetInput(pin gpio.Pin) uint32 {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	p, ok := obj.pins[pin]
	if !ok || p.line == nil {
		return 0
	}
	v, err := p.line.Value()
	if err != nil {
		hal.LogWarn(hal.ComponentGPIO, "failed to get line value", "pin", pin, "error", err)
		return 0
	}
	if v != 0 {
		return 1
	}
	return 0
}
