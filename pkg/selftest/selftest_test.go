package selftest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mbalug7/go-hal-driver/pkg/hal"
	"github.com/mbalug7/go-hal-driver/pkg/sim"
	"github.com/mbalug7/go-hal-driver/pkg/spi"
)

func TestSimChecksPass(t *testing.T) {
	checks := Sim()
	results, err := Run(context.Background(), DefaultTimeout, checks...)
	if err != nil {
		t.Errorf("Run() = %v", err)
	}
	if len(results) != len(checks) {
		t.Fatalf("got %d results for %d checks", len(results), len(checks))
	}
	for i, r := range results {
		if r.Name != checks[i].Name {
			t.Errorf("result %d is %q, want %q", i, r.Name, checks[i].Name)
		}
		if !r.Passed() {
			t.Errorf("%s: %v", r.Name, r.Err)
		}
	}
}

func TestRunReportsFailures(t *testing.T) {
	broken := func(item uint32) uint32 { return ^item }
	results, err := Run(context.Background(), DefaultTimeout,
		Check{Name: "spi inverted", Run: func(ctx context.Context) error {
			return SPI(ctx, sim.NewSPI(broken, sim.FreeClock{}))
		}},
		Check{Name: "spi", Run: func(ctx context.Context) error {
			return SPI(ctx, sim.NewSPI(sim.Loopback, sim.FreeClock{}))
		}},
	)
	if results[0].Passed() {
		t.Error("inverting peer passed the transfer check")
	}
	if err == nil || !strings.HasPrefix(err.Error(), "spi inverted: ") {
		t.Errorf("Run() = %v, want the inverted check's failure", err)
	}
	if !results[1].Passed() {
		t.Errorf("loopback peer failed: %v", results[1].Err)
	}
}

func TestRunTimeout(t *testing.T) {
	// A manual clock that is never stepped stalls the transfer.
	results, err := Run(context.Background(), 50*time.Millisecond, Check{Name: "stalled", Run: func(ctx context.Context) error {
		return SPI(ctx, sim.NewSPI(sim.Loopback, sim.NewManualClock()))
	}})
	if !errors.Is(results[0].Err, hal.ErrTimeout) {
		t.Errorf("stalled check = %v, want ErrTimeout", results[0].Err)
	}
	if !errors.Is(err, hal.ErrTimeout) {
		t.Errorf("Run() = %v, want ErrTimeout", err)
	}
}

func TestIdleState(t *testing.T) {
	s := sim.NewSPI(sim.Loopback, sim.NewManualClock())
	if err := idle("spi", s); err == nil {
		t.Error("uninitialized driver reported idle")
	}
	if err := s.Initialize(func(spi.Event) {}); err != nil {
		t.Fatal(err)
	}
	defer s.Uninitialize()
	if err := idle("spi", s); err != nil {
		t.Errorf("initialized driver: %v", err)
	}
	if _, err := s.Control(spi.ModeMaster|spi.DataBits(8), 1_000_000); err != nil {
		t.Fatal(err)
	}
	if err := s.Transfer(make([]byte, 4), make([]byte, 4)); err != nil {
		t.Fatal(err)
	}
	if err := idle("spi", s); err == nil || !strings.Contains(err.Error(), hal.StateBusy.String()) {
		t.Errorf("stalled transfer: %v", err)
	}
	if err := idle("plain", struct{}{}); err != nil {
		t.Errorf("driver without State: %v", err)
	}
}

func TestUSARTLoopbackPort(t *testing.T) {
	u := sim.NewUSART(sim.FreeClock{})
	sim.Connect(u, u)
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()
	if err := USART(ctx, u, u); err != nil {
		t.Fatal(err)
	}
}
