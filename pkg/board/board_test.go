package board

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mbalug7/go-hal-driver/pkg/flash"
	"github.com/mbalug7/go-hal-driver/pkg/gpio"
	"github.com/mbalug7/go-hal-driver/pkg/hal"
	"github.com/mbalug7/go-hal-driver/pkg/usart"
)

const simBoard = `
backend: sim
gpio:  { lines: 8 }
usart: { baud: 115200 }
flash: { sectors: 4, sector_size: 1024, page_size: 256, program_unit: 4, erased_value: 0xFF }
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.yaml")
	if err := os.WriteFile(path, []byte(simBoard), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend != BackendSim {
		t.Errorf("Backend = %q", cfg.Backend)
	}
	if cfg.GPIO.Lines != 8 || cfg.GPIO.Chip != defaultGPIOChip {
		t.Errorf("GPIO = %+v", *cfg.GPIO)
	}
	if cfg.Baud() != 115200 {
		t.Errorf("Baud() = %d", cfg.Baud())
	}
	want := flash.Uniform(4, 1024, 256, 4, 0xFF)
	if got := cfg.Flash.Info(); got.SectorCount != want.SectorCount || got.SectorSize != want.SectorSize || got.ErasedValue != 0xFF {
		t.Errorf("Flash.Info() = %+v", got)
	}
	if cfg.E22 != nil {
		t.Errorf("E22 = %+v, want nil", cfg.E22)
	}

	zero, err := Parse([]byte("flash: { sectors: 1, sector_size: 256, page_size: 256, program_unit: 1, erased_value: 0 }"))
	if err != nil {
		t.Fatal(err)
	}
	if got := zero.Flash.Info().ErasedValue; got != 0 {
		t.Errorf("explicit erased value 0 read as %#x", got)
	}
	def, err := Parse([]byte("flash: { sectors: 1, sector_size: 256, page_size: 256, program_unit: 1 }"))
	if err != nil {
		t.Fatal(err)
	}
	if got := def.Flash.Info().ErasedValue; got != 0xFF {
		t.Errorf("default erased value = %#x", got)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown backend", "backend: pico"},
		{"unknown key", "backend: sim\nspi: {}"},
		{"bad flash geometry", "flash: { sectors: 4, sector_size: 1000, page_size: 256, program_unit: 3 }"},
		{"e22 without usart", "gpio: {}\ne22: { m0: 1, m1: 2, aux: 3 }"},
		{"e22 pins overlap", "gpio: {}\nusart: {}\ne22: { m0: 1, m1: 1, aux: 3 }"},
		{"linux usart without device", "backend: linux\nusart: { baud: 9600 }"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.yaml)); err == nil {
				t.Error("Parse() succeeded")
			}
		})
	}
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend != BackendSim {
		t.Errorf("Backend = %q", cfg.Backend)
	}
	if _, _, err := cfg.OpenGPIO(); !errors.Is(err, ErrNoSection) {
		t.Errorf("OpenGPIO() = %v", err)
	}
	if _, err := cfg.OpenFlash(); !errors.Is(err, ErrNoSection) {
		t.Errorf("OpenFlash() = %v", err)
	}
}

func TestOpenSimDrivers(t *testing.T) {
	cfg, err := Parse([]byte(simBoard + "e22: { m0: 1, m1: 2, aux: 3 }\n"))
	if err != nil {
		t.Fatal(err)
	}

	f, err := cfg.OpenFlash()
	if err != nil {
		t.Fatal(err)
	}
	if got := f.GetInfo().Count(); got != 4 {
		t.Errorf("flash sectors = %d", got)
	}

	g, closeGPIO, err := cfg.OpenGPIO()
	if err != nil {
		t.Fatal(err)
	}
	defer closeGPIO()
	if err := g.Setup(7, func(gpio.Pin, gpio.EventType) {}); err != nil {
		t.Errorf("Setup(7) = %v", err)
	}
	if err := g.Setup(8, func(gpio.Pin, gpio.EventType) {}); !errors.Is(err, hal.ErrParameter) {
		t.Errorf("Setup(8) on an 8 line bank = %v", err)
	}

	if _, _, err := cfg.OpenE22(); !errors.Is(err, hal.ErrUnsupported) {
		t.Errorf("OpenE22() on sim = %v", err)
	}
}

func TestSimUSARTLoopback(t *testing.T) {
	cfg, err := Parse([]byte(simBoard))
	if err != nil {
		t.Fatal(err)
	}
	port, err := cfg.OpenUSART()
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan usart.Event, 4)
	if err := port.Initialize(func(ev usart.Event) {
		if ev.Has(usart.EventReceiveComplete) {
			done <- ev
		}
	}); err != nil {
		t.Fatal(err)
	}
	defer port.Uninitialize()
	s := usart.DefaultSettings()
	s.Baud = cfg.Baud()
	if err := port.Control(s.Control()); err != nil {
		t.Fatal(err)
	}

	in := make([]byte, 5)
	if err := port.Receive(in); err != nil {
		t.Fatal(err)
	}
	if err := port.Send([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loopback receive did not complete")
	}
	if string(in) != "hello" {
		t.Errorf("received %q", in)
	}
}
