package main

import (
	"fmt"
	"strconv"

	"github.com/mbalug7/go-hal-driver/pkg/gpio"
	"github.com/spf13/cobra"
)

var (
	gpioOpts = struct {
		pull string
		open bool
		hold bool
	}{}

	gpioCmd = &cobra.Command{
		Use:   "gpio",
		Short: "Read, drive and watch GPIO lines",
	}

	gpioWatchCmd = &cobra.Command{
		Use:   "watch <pin>",
		Short: "Print edges on a pin until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pin, err := parsePin(args[0])
			if err != nil {
				return err
			}
			pull, err := parsePull(gpioOpts.pull)
			if err != nil {
				return err
			}
			cfg, err := loadBoard()
			if err != nil {
				return err
			}
			g, closeGPIO, err := cfg.OpenGPIO()
			if err != nil {
				return err
			}
			defer closeGPIO()

			out := cmd.OutOrStdout()
			err = g.Setup(pin, func(p gpio.Pin, ev gpio.EventType) {
				fmt.Fprintf(out, "pin %d: %v, level %d\n", p, ev, g.GetInput(p))
			})
			if err != nil {
				return err
			}
			defer g.Release(pin)
			if err := g.SetPullResistor(pin, pull); err != nil {
				return err
			}
			if err := g.SetEventTrigger(pin, gpio.TriggerEitherEdge); err != nil {
				return err
			}
			fmt.Fprintf(out, "pin %d: level %d, watching\n", pin, g.GetInput(pin))

			ctx, stop := interruptContext(cmd.Context())
			defer stop()
			<-ctx.Done()
			return nil
		},
	}

	gpioSetCmd = &cobra.Command{
		Use:   "set <pin> <0|1>",
		Short: "Drive a pin as an output",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pin, err := parsePin(args[0])
			if err != nil {
				return err
			}
			value, err := strconv.ParseUint(args[1], 10, 1)
			if err != nil {
				return fmt.Errorf("invalid level %q: %w", args[1], err)
			}
			cfg, err := loadBoard()
			if err != nil {
				return err
			}
			g, closeGPIO, err := cfg.OpenGPIO()
			if err != nil {
				return err
			}
			defer closeGPIO()

			if err := g.Setup(pin, func(gpio.Pin, gpio.EventType) {}); err != nil {
				return err
			}
			mode := gpio.PushPull
			if gpioOpts.open {
				mode = gpio.OpenDrain
			}
			if err := g.SetOutputMode(pin, mode); err != nil {
				return err
			}
			g.SetOutput(pin, uint32(value))
			if err := g.SetDirection(pin, gpio.Output); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pin %d: driven %d\n", pin, value)
			if gpioOpts.hold {
				ctx, stop := interruptContext(cmd.Context())
				defer stop()
				<-ctx.Done()
			}
			return nil
		},
	}
)

func init() {
	gpioWatchCmd.Flags().StringVar(&gpioOpts.pull, "pull", "none", "pull resistor: none, up or down")
	gpioSetCmd.Flags().BoolVar(&gpioOpts.open, "open-drain", false, "drive the pin open drain")
	gpioSetCmd.Flags().BoolVar(&gpioOpts.hold, "hold", false, "keep driving the pin until interrupted")
	gpioCmd.AddCommand(gpioWatchCmd, gpioSetCmd)
}

func parsePin(s string) (gpio.Pin, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid pin %q: %w", s, err)
	}
	return gpio.Pin(n), nil
}

func parsePull(s string) (gpio.PullResistor, error) {
	switch s {
	case "none":
		return gpio.PullNone, nil
	case "up":
		return gpio.PullUp, nil
	case "down":
		return gpio.PullDown, nil
	}
	return 0, fmt.Errorf("invalid pull resistor %q", s)
}
