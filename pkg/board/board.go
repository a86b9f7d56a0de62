// Package board reads a YAML description of the peripherals attached to a
// machine and constructs the matching drivers, simulated or real.
//
//	backend: linux
//	gpio:  { chip: gpiochip0, lines: 32 }
//	usart: { device: /dev/ttyS0, baud: 9600 }
//	flash: { sectors: 16, sector_size: 4096, page_size: 256, program_unit: 4, erased_value: 0xFF }
//	e22:   { m0: 23, m1: 24, aux: 25 }
package board

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mbalug7/go-hal-driver/pkg/e22"
	"github.com/mbalug7/go-hal-driver/pkg/flash"
	"github.com/mbalug7/go-hal-driver/pkg/gpio"
	"github.com/mbalug7/go-hal-driver/pkg/hal"
	"github.com/mbalug7/go-hal-driver/pkg/linux"
	"github.com/mbalug7/go-hal-driver/pkg/sim"
	"github.com/mbalug7/go-hal-driver/pkg/usart"
	"gopkg.in/yaml.v3"
)

type Backend string

const (
	BackendSim   Backend = "sim"
	BackendLinux Backend = "linux"
)

const (
	defaultGPIOChip  = "gpiochip0"
	defaultGPIOLines = 32
	defaultBaud      = 9600
)

type GPIOConfig struct {
	Chip  string `yaml:"chip"`
	Lines int    `yaml:"lines"` // simulated bank size
}

type USARTConfig struct {
	Device string `yaml:"device"`
	Baud   uint32 `yaml:"baud"`
}

type FlashConfig struct {
	Sectors     uint32 `yaml:"sectors"`
	SectorSize  uint32 `yaml:"sector_size"`
	PageSize    uint32 `yaml:"page_size"`
	ProgramUnit uint32 `yaml:"program_unit"`
	ErasedValue *uint8 `yaml:"erased_value"` // 0xFF when left out
}

// Info returns the flash geometry.
func (obj FlashConfig) Info() flash.Info {
	erased := uint8(0xFF)
	if obj.ErasedValue != nil {
		erased = *obj.ErasedValue
	}
	return flash.Uniform(obj.Sectors, obj.SectorSize, obj.PageSize, obj.ProgramUnit, erased)
}

type E22Config struct {
	M0  uint32 `yaml:"m0"`
	M1  uint32 `yaml:"m1"`
	AUX uint32 `yaml:"aux"`
}

// Pins returns the module wiring.
func (obj E22Config) Pins() e22.Pins {
	return e22.Pins{M0: gpio.Pin(obj.M0), M1: gpio.Pin(obj.M1), AUX: gpio.Pin(obj.AUX)}
}

// Config is a parsed board file. Sections left out of the file are nil.
type Config struct {
	Backend Backend      `yaml:"backend"`
	GPIO    *GPIOConfig  `yaml:"gpio"`
	USART   *USARTConfig `yaml:"usart"`
	Flash   *FlashConfig `yaml:"flash"`
	E22     *E22Config   `yaml:"e22"`
}

// ErrNoSection is returned when a driver is requested that the board file
// does not describe.
var ErrNoSection = errors.New("board section missing")

// Load reads and validates the board file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read board file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	hal.LogInfo(hal.ComponentBoard, "board loaded", "path", path, "backend", cfg.Backend)
	return cfg, nil
}

// Parse decodes a board file, fills in defaults and validates it. Unknown
// keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse board file: %w", err)
	}
	if cfg.Backend == "" {
		cfg.Backend = BackendSim
	}
	if cfg.GPIO != nil {
		if cfg.GPIO.Chip == "" {
			cfg.GPIO.Chip = defaultGPIOChip
		}
		if cfg.GPIO.Lines == 0 {
			cfg.GPIO.Lines = defaultGPIOLines
		}
	}
	if cfg.USART != nil && cfg.USART.Baud == 0 {
		cfg.USART.Baud = defaultBaud
	}
	return cfg, cfg.validate()
}

func (obj *Config) validate() error {
	switch obj.Backend {
	case BackendSim, BackendLinux:
	default:
		return fmt.Errorf("%w: unknown backend %q", hal.ErrParameter, obj.Backend)
	}
	if obj.GPIO != nil && obj.GPIO.Lines < 0 {
		return fmt.Errorf("%w: %d GPIO lines", hal.ErrParameter, obj.GPIO.Lines)
	}
	if obj.USART != nil && obj.Backend == BackendLinux && obj.USART.Device == "" {
		return fmt.Errorf("%w: usart device missing", hal.ErrParameter)
	}
	if obj.Flash != nil {
		if err := obj.Flash.Info().Validate(); err != nil {
			return fmt.Errorf("flash: %w", err)
		}
	}
	if obj.E22 != nil {
		if obj.GPIO == nil || obj.USART == nil {
			return fmt.Errorf("%w: e22 needs the gpio and usart sections", hal.ErrParameter)
		}
		p := obj.E22
		if p.M0 == p.M1 || p.M0 == p.AUX || p.M1 == p.AUX {
			return fmt.Errorf("%w: e22 pins m0=%d m1=%d aux=%d overlap", hal.ErrParameter, p.M0, p.M1, p.AUX)
		}
	}
	return nil
}

// Closer releases what an Open call acquired.
type Closer func() error

func nopCloser() error { return nil }

// OpenGPIO returns the GPIO driver of the board.
func (obj *Config) OpenGPIO() (gpio.GPIO, Closer, error) {
	if obj.GPIO == nil {
		return nil, nil, fmt.Errorf("gpio: %w", ErrNoSection)
	}
	if obj.Backend == BackendSim {
		return sim.NewGPIO(obj.GPIO.Lines), nopCloser, nil
	}
	return openLinuxGPIO(obj.GPIO.Chip)
}

// OpenUSART returns the serial port of the board, uninitialized; apply Baud
// after Initialize. A simulated port is wired back to itself, so everything
// sent is received again.
func (obj *Config) OpenUSART() (usart.USART, error) {
	if obj.USART == nil {
		return nil, fmt.Errorf("usart: %w", ErrNoSection)
	}
	if obj.Backend == BackendSim {
		port := sim.NewUSART(sim.FreeClock{})
		sim.Connect(port, port)
		return port, nil
	}
	return linux.NewUSART(obj.USART.Device), nil
}

// Baud returns the configured serial baud rate.
func (obj *Config) Baud() uint32 {
	if obj.USART == nil {
		return defaultBaud
	}
	return obj.USART.Baud
}

// OpenFlash returns the flash device of the board. Flash is always
// simulated, the Linux backend has no flash driver.
func (obj *Config) OpenFlash() (flash.Flash, error) {
	if obj.Flash == nil {
		return nil, fmt.Errorf("flash: %w", ErrNoSection)
	}
	f, err := sim.NewFlash(obj.Flash.Info(), sim.FreeClock{})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// OpenE22 opens the GPIO and serial drivers and hands them to an E22
// handler. The returned Closer closes the handler and the GPIO chip.
func (obj *Config) OpenE22(opts ...e22.Option) (*e22.HWHandler, Closer, error) {
	if obj.E22 == nil {
		return nil, nil, fmt.Errorf("e22: %w", ErrNoSection)
	}
	if obj.Backend == BackendSim {
		return nil, nil, fmt.Errorf("%w: no simulated E22 module", hal.ErrUnsupported)
	}
	lines, closeGPIO, err := obj.OpenGPIO()
	if err != nil {
		return nil, nil, err
	}
	port, err := obj.OpenUSART()
	if err != nil {
		closeGPIO()
		return nil, nil, err
	}
	hw, err := e22.NewHWHandler(port, lines, obj.E22.Pins(), opts...)
	if err != nil {
		closeGPIO()
		return nil, nil, err
	}
	return hw, func() error {
		return errors.Join(hw.Close(), closeGPIO())
	}, nil
}
