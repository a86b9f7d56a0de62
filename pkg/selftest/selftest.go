// Package selftest exercises drivers end to end through their public
// contract: start an operation, wait for the terminal callback, compare the
// data that came back.
package selftest

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/mbalug7/go-hal-driver/pkg/flash"
	"github.com/mbalug7/go-hal-driver/pkg/gpio"
	"github.com/mbalug7/go-hal-driver/pkg/hal"
	"github.com/mbalug7/go-hal-driver/pkg/i2c"
	"github.com/mbalug7/go-hal-driver/pkg/sai"
	"github.com/mbalug7/go-hal-driver/pkg/spi"
	"github.com/mbalug7/go-hal-driver/pkg/usart"
	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds a single check.
const DefaultTimeout = 5 * time.Second

// Check is one named test of a driver.
type Check struct {
	Name string
	Run  func(ctx context.Context) error
}

// Result is the outcome of a Check.
type Result struct {
	Name     string
	Err      error
	Duration time.Duration
}

// Passed reports whether the check succeeded.
func (r Result) Passed() bool {
	return r.Err == nil
}

// Run executes checks concurrently, each bounded by timeout, and returns the
// results in the order of checks. A failing check does not cancel the others;
// the returned error is the first failure, prefixed with the check name.
func Run(ctx context.Context, timeout time.Duration, checks ...Check) ([]Result, error) {
	results := make([]Result, len(checks))
	var g errgroup.Group
	for i, c := range checks {
		i, c := i, c
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			start := time.Now()
			err := c.Run(cctx)
			results[i] = Result{Name: c.Name, Err: err, Duration: time.Since(start)}
			if err != nil {
				hal.LogWarn(hal.ComponentBoard, "self test failed", "check", c.Name, "err", err)
				return fmt.Errorf("%s: %w", c.Name, err)
			}
			hal.LogDebug(hal.ComponentBoard, "self test passed", "check", c.Name, "duration", results[i].Duration)
			return nil
		})
	}
	err := g.Wait()
	return results, err
}

// stater is implemented by drivers that report their lifecycle state.
type stater interface {
	State() hal.State
}

// idle fails unless drv is back to StateIdle. Drivers without a State method
// pass.
func idle(what string, drv any) error {
	s, ok := drv.(stater)
	if !ok {
		return nil
	}
	if st := s.State(); st != hal.StateIdle {
		return fmt.Errorf("%s: driver %v after completion, want %v", what, st, hal.StateIdle)
	}
	return nil
}

func pattern(n int, seed byte) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = seed + byte(i*7)
	}
	return data
}

func compare(what string, got, want []byte) error {
	if !bytes.Equal(got, want) {
		return fmt.Errorf("%s mismatch: got % x, want % x", what, got, want)
	}
	return nil
}

// Flash erases the first sector of f, programs one page and reads it back.
// f must be uninitialized; it is uninitialized again on return.
func Flash(ctx context.Context, f flash.Flash) error {
	events := hal.NewWaiter[flash.Event]()
	if err := f.Initialize(events.Notify); err != nil {
		return err
	}
	defer f.Uninitialize()

	do := func(what string, start func() error) error {
		ev, err := hal.Await(ctx, events, func(ev flash.Event) bool { return ev.Has(flash.EventReady) }, start)
		if err != nil {
			return fmt.Errorf("%s: %w", what, err)
		}
		if ev.Has(flash.EventError) {
			return fmt.Errorf("%s: %w", what, hal.ErrGeneric)
		}
		return idle(what, f)
	}

	info := f.GetInfo()
	base := info.Base()
	n := int(info.PageSize)
	if sector, ok := info.Sector(base); ok && uint32(n) > sector.Size() {
		n = int(sector.Size())
	}
	if err := do("erase", func() error { return f.EraseSector(base) }); err != nil {
		return err
	}
	got := make([]byte, n)
	if err := do("read", func() error { return f.ReadData(base, got) }); err != nil {
		return err
	}
	if err := compare("erased page", got, bytes.Repeat([]byte{info.ErasedValue}, n)); err != nil {
		return err
	}
	want := pattern(n, 0x5A)
	if err := do("program", func() error { return f.ProgramData(base, want) }); err != nil {
		return err
	}
	if err := do("read back", func() error { return f.ReadData(base, got) }); err != nil {
		return err
	}
	return compare("programmed page", got, want)
}

// GPIO configures pin as a rising edge input and raises it with drive, which
// stands for whatever is wired to the pin. The edge and the new level must
// both be observed. The pin is released on return.
func GPIO(ctx context.Context, g gpio.GPIO, pin gpio.Pin, drive func(level uint32) error) error {
	edges := hal.NewWaiter[gpio.EventType]()
	if err := g.Setup(pin, func(_ gpio.Pin, ev gpio.EventType) { edges.Notify(ev) }); err != nil {
		return err
	}
	defer g.Release(pin)
	if err := drive(0); err != nil {
		return err
	}
	if err := g.SetDirection(pin, gpio.Input); err != nil {
		return err
	}
	if err := g.SetEventTrigger(pin, gpio.TriggerRisingEdge); err != nil {
		return err
	}
	rising := func(ev gpio.EventType) bool { return ev.Has(gpio.RisingEdge) }
	if _, err := hal.Await(ctx, edges, rising, func() error { return drive(1) }); err != nil {
		return fmt.Errorf("rising edge on pin %d: %w", pin, err)
	}
	if v := g.GetInput(pin); v != 1 {
		return fmt.Errorf("pin %d reads %d after rising edge", pin, v)
	}
	return nil
}

// I2C writes a block to the memory target at addr and reads it back through
// a repeated START. m must be uninitialized.
func I2C(ctx context.Context, m i2c.I2C, addr uint32) error {
	events := hal.NewWaiter[i2c.Event]()
	if err := m.Initialize(events.Notify); err != nil {
		return err
	}
	defer m.Uninitialize()
	if err := m.SetBusSpeed(i2c.SpeedFast); err != nil {
		return err
	}

	do := func(what string, start func() error) error {
		ev, err := hal.Await(ctx, events, i2c.Event.Terminal, start)
		if err != nil {
			return fmt.Errorf("%s: %w", what, err)
		}
		if ev != i2c.EventTransferDone {
			return fmt.Errorf("%s: %v", what, ev)
		}
		return idle(what, m)
	}

	const word = 0x10
	want := pattern(8, 0xA0)
	if err := do("write", func() error { return m.MasterTransmit(addr, append([]byte{word}, want...), false) }); err != nil {
		return err
	}
	if err := do("set pointer", func() error { return m.MasterTransmit(addr, []byte{word}, true) }); err != nil {
		return err
	}
	got := make([]byte, len(want))
	if err := do("read", func() error { return m.MasterReceive(addr, got, false) }); err != nil {
		return err
	}
	return compare("memory", got, want)
}

// SPI runs an 8-bit master transfer against a peer that echoes every item.
// s must be uninitialized.
func SPI(ctx context.Context, s spi.SPI) error {
	events := hal.NewWaiter[spi.Event]()
	if err := s.Initialize(events.Notify); err != nil {
		return err
	}
	defer s.Uninitialize()
	if _, err := s.Control(spi.ModeMaster|spi.DataBits(8), 1_000_000); err != nil {
		return err
	}
	want := pattern(16, 0x11)
	got := make([]byte, len(want))
	ev, err := hal.Await(ctx, events, nil, func() error { return s.Transfer(want, got) })
	if err != nil {
		return err
	}
	if ev != spi.EventTransferComplete {
		return fmt.Errorf("transfer: %v", ev)
	}
	if err := idle("transfer", s); err != nil {
		return err
	}
	return compare("transfer", got, want)
}

// SAI sends a few stereo frames with the receiver looped back onto the
// transmitter. s must be uninitialized.
func SAI(ctx context.Context, s sai.SAI) error {
	events := hal.NewWaiter[sai.Event]()
	if err := s.Initialize(events.Notify); err != nil {
		return err
	}
	defer s.Uninitialize()
	cfg := sai.DefaultConfig()
	if err := s.Configure(cfg); err != nil {
		return err
	}
	want := pattern(4*cfg.ItemSize()*int(cfg.SlotCount()), 0x01)
	got := make([]byte, len(want))

	id, received, err := events.Register(func(ev sai.Event) bool { return ev.Has(sai.EventReceiveComplete) })
	if err != nil {
		return err
	}
	defer events.Cancel(id)
	if err := s.Receive(got); err != nil {
		return err
	}
	sent := func(ev sai.Event) bool { return ev.Has(sai.EventSendComplete) }
	if _, err := hal.Await(ctx, events, sent, func() error { return s.Send(want) }); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	select {
	case <-received:
	case <-ctx.Done():
		return fmt.Errorf("receive: %w: %w", hal.ErrTimeout, ctx.Err())
	}
	if err := idle("frames", s); err != nil {
		return err
	}
	return compare("frames", got, want)
}

// USART sends a message from tx to rx at 115200 8N1. Both ports must be
// uninitialized and wired together; they may be the same port.
func USART(ctx context.Context, tx, rx usart.USART) error {
	txEvents := hal.NewWaiter[usart.Event]()
	rxEvents := txEvents
	ports := []usart.USART{tx}
	if rx != tx {
		rxEvents = hal.NewWaiter[usart.Event]()
		ports = append(ports, rx)
	}
	waiters := []*hal.Waiter[usart.Event]{txEvents, rxEvents}
	settings := usart.DefaultSettings()
	settings.Baud = 115200
	for i, p := range ports {
		if err := p.Initialize(waiters[i].Notify); err != nil {
			return err
		}
		defer p.Uninitialize()
		if err := p.Control(settings.Control()); err != nil {
			return err
		}
	}

	want := []byte("The quick brown fox")
	got := make([]byte, len(want))
	id, received, err := rxEvents.Register(func(ev usart.Event) bool { return ev.Has(usart.EventReceiveComplete) })
	if err != nil {
		return err
	}
	defer rxEvents.Cancel(id)
	if err := rx.Receive(got); err != nil {
		return err
	}
	sent := func(ev usart.Event) bool { return ev.Has(usart.EventSendComplete) }
	if _, err := hal.Await(ctx, txEvents, sent, func() error { return tx.Send(want) }); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	select {
	case <-received:
	case <-ctx.Done():
		return fmt.Errorf("receive: %w: %w", hal.ErrTimeout, ctx.Err())
	}
	for _, p := range ports {
		if err := idle("message", p); err != nil {
			return err
		}
	}
	return compare("message", got, want)
}
