package selftest

import (
	"context"

	"github.com/mbalug7/go-hal-driver/pkg/flash"
	"github.com/mbalug7/go-hal-driver/pkg/gpio"
	"github.com/mbalug7/go-hal-driver/pkg/sim"
)

const memoryAddress = 0x50

// Sim returns one check per peripheral class, each against freshly built
// simulated hardware: a flash device, a GPIO bank driven from outside, an
// I2C memory, an echoing SPI peer, a looped back SAI and a pair of wired
// serial ports.
func Sim() []Check {
	return []Check{
		{Name: "flash", Run: func(ctx context.Context) error {
			f, err := sim.NewFlash(flash.Uniform(4, 4096, 256, 4, 0xFF), sim.FreeClock{})
			if err != nil {
				return err
			}
			return Flash(ctx, f)
		}},
		{Name: "gpio", Run: func(ctx context.Context) error {
			g := sim.NewGPIO(8)
			const pin gpio.Pin = 3
			return GPIO(ctx, g, pin, func(level uint32) error { return g.Drive(pin, level) })
		}},
		{Name: "i2c", Run: func(ctx context.Context) error {
			bus := sim.NewBus()
			if err := bus.Attach(memoryAddress, sim.NewMemory(256)); err != nil {
				return err
			}
			return I2C(ctx, sim.NewI2C(bus, sim.FreeClock{}), memoryAddress)
		}},
		{Name: "spi", Run: func(ctx context.Context) error {
			return SPI(ctx, sim.NewSPI(sim.Loopback, sim.FreeClock{}))
		}},
		{Name: "sai", Run: func(ctx context.Context) error {
			return SAI(ctx, sim.NewSAI(sim.FreeClock{}, true))
		}},
		{Name: "usart", Run: func(ctx context.Context) error {
			a, b := sim.NewUSART(sim.FreeClock{}), sim.NewUSART(sim.FreeClock{})
			sim.Connect(a, b)
			return USART(ctx, a, b)
		}},
	}
}
