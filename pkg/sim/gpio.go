package sim

import (
	"fmt"
	"sync"

	"github.com/mbalug7/go-hal-driver/pkg/gpio"
	"github.com/mbalug7/go-hal-driver/pkg/hal"
)

type pinState struct {
	setup   bool
	cb      gpio.SignalEvent
	dir     gpio.Direction
	mode    gpio.OutputMode
	pull    gpio.PullResistor
	trigger gpio.EventTrigger
	out     uint32 // output latch
	driven  bool   // external level applied
	ext     uint32 // external level
}

// level is the electrical level of the pin. An undriven open-drain output or
// input floats to its pull resistor; a floating pin without one reads low.
func (p *pinState) level() uint32 {
	if p.dir == gpio.Output && (p.mode == gpio.PushPull || p.out == 0) {
		return p.out & 1
	}
	if p.driven {
		return p.ext
	}
	if p.pull == gpio.PullUp {
		return 1
	}
	return 0
}

// GPIO is a bank of simulated pins. The outside world drives pins with Drive
// and Float; level changes caused that way are reported as edges, on the
// goroutine calling Drive or Float.
type GPIO struct {
	mu         sync.Mutex
	dispatchMu sync.Mutex
	pins       []pinState
}

// NewGPIO returns a bank of n pins numbered from zero.
func NewGPIO(n int) *GPIO {
	return &GPIO{pins: make([]pinState, n)}
}

func (obj *GPIO) pin(pin gpio.Pin) (*pinState, error) {
	if int(pin) >= len(obj.pins) {
		return nil, fmt.Errorf("%w: pin %d out of %d", hal.ErrParameter, pin, len(obj.pins))
	}
	p := &obj.pins[pin]
	if !p.setup {
		return nil, fmt.Errorf("pin %d: %w", pin, hal.ErrNotInitialized)
	}
	return p, nil
}

func (obj *GPIO) Setup(pin gpio.Pin, cb gpio.SignalEvent) error {
	if cb == nil || int(pin) >= len(obj.pins) {
		return fmt.Errorf("%w: setup of pin %d", hal.ErrParameter, pin)
	}
	obj.dispatchMu.Lock()
	defer obj.dispatchMu.Unlock()
	obj.mu.Lock()
	defer obj.mu.Unlock()
	p := &obj.pins[pin]
	*p = pinState{setup: true, cb: cb, driven: p.driven, ext: p.ext}
	hal.LogDebug(hal.ComponentGPIO, "pin set up", "pin", pin)
	return nil
}

func (obj *GPIO) Release(pin gpio.Pin) error {
	if int(pin) >= len(obj.pins) {
		return fmt.Errorf("%w: release of pin %d", hal.ErrParameter, pin)
	}
	obj.dispatchMu.Lock()
	defer obj.dispatchMu.Unlock()
	obj.mu.Lock()
	defer obj.mu.Unlock()
	p := &obj.pins[pin]
	*p = pinState{driven: p.driven, ext: p.ext}
	return nil
}

func (obj *GPIO) configure(pin gpio.Pin, apply func(p *pinState)) error {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	p, err := obj.pin(pin)
	if err != nil {
		return err
	}
	apply(p)
	return nil
}

func (obj *GPIO) SetDirection(pin gpio.Pin, dir gpio.Direction) error {
	if dir != gpio.Input && dir != gpio.Output {
		return fmt.Errorf("%w: direction %d", hal.ErrParameter, dir)
	}
	return obj.configure(pin, func(p *pinState) { p.dir = dir })
}

func (obj *GPIO) SetOutputMode(pin gpio.Pin, mode gpio.OutputMode) error {
	if mode != gpio.PushPull && mode != gpio.OpenDrain {
		return fmt.Errorf("%w: output mode %d", hal.ErrParameter, mode)
	}
	return obj.configure(pin, func(p *pinState) { p.mode = mode })
}

func (obj *GPIO) SetPullResistor(pin gpio.Pin, pull gpio.PullResistor) error {
	if pull < gpio.PullNone || pull > gpio.PullDown {
		return fmt.Errorf("%w: pull resistor %d", hal.ErrParameter, pull)
	}
	return obj.configure(pin, func(p *pinState) { p.pull = pull })
}

func (obj *GPIO) SetEventTrigger(pin gpio.Pin, trigger gpio.EventTrigger) error {
	if trigger < gpio.TriggerNone || trigger > gpio.TriggerEitherEdge {
		return fmt.Errorf("%w: trigger %d", hal.ErrParameter, trigger)
	}
	return obj.configure(pin, func(p *pinState) { p.trigger = trigger })
}

// SetOutput latches value; it only reaches the pin while it is an output.
func (obj *GPIO) SetOutput(pin gpio.Pin, value uint32) {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	if p, err := obj.pin(pin); err == nil {
		p.out = boolToLevel(value != 0)
	}
}

func (obj *GPIO) GetInput(pin gpio.Pin) uint32 {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	if int(pin) >= len(obj.pins) {
		return 0
	}
	return obj.pins[pin].level()
}

// Output returns the level the bank drives on pin, for the outside world to
// observe. Pins not driven by the bank read as floating.
func (obj *GPIO) Output(pin gpio.Pin) (level uint32, driving bool) {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	if int(pin) >= len(obj.pins) {
		return 0, false
	}
	p := &obj.pins[pin]
	if !p.setup || p.dir != gpio.Output {
		return 0, false
	}
	if p.mode == gpio.OpenDrain && p.out != 0 {
		return 1, false
	}
	return p.out, true
}

// Drive applies an external level to pin.
func (obj *GPIO) Drive(pin gpio.Pin, level uint32) error {
	return obj.external(pin, func(p *pinState) {
		p.driven = true
		p.ext = boolToLevel(level != 0)
	})
}

// Float removes the external level from pin.
func (obj *GPIO) Float(pin gpio.Pin) error {
	return obj.external(pin, func(p *pinState) {
		p.driven = false
	})
}

func (obj *GPIO) external(pin gpio.Pin, apply func(p *pinState)) error {
	if int(pin) >= len(obj.pins) {
		return fmt.Errorf("%w: pin %d out of %d", hal.ErrParameter, pin, len(obj.pins))
	}
	obj.dispatchMu.Lock()
	defer obj.dispatchMu.Unlock()

	obj.mu.Lock()
	p := &obj.pins[pin]
	prev := p.level()
	apply(p)
	ev := gpio.Edge(p.trigger, prev, p.level())
	cb := p.cb
	obj.mu.Unlock()

	if ev != 0 && cb != nil {
		hal.LogDebug(hal.ComponentGPIO, "edge", "pin", pin, "event", ev)
		cb(pin, ev)
	}
	return nil
}

func boolToLevel(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
