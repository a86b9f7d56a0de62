package main

import (
	"context"
	"fmt"
	"time"

	"github.com/mbalug7/go-hal-driver/pkg/hal"
	"github.com/mbalug7/go-hal-driver/pkg/usart"
	"github.com/spf13/cobra"
)

const listenBuffer = 256

var (
	uartOpts = struct {
		baud   uint32
		listen time.Duration
	}{}

	uartCmd = &cobra.Command{
		Use:   "uart",
		Short: "Talk to the board serial port",
	}

	uartSendCmd = &cobra.Command{
		Use:   "send <text>",
		Short: "Send text and optionally print what comes back",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadBoard()
			if err != nil {
				return err
			}
			port, err := cfg.OpenUSART()
			if err != nil {
				return err
			}
			events := hal.NewWaiter[usart.Event]()
			if err := port.Initialize(events.Notify); err != nil {
				return err
			}
			defer port.Uninitialize()

			settings := usart.DefaultSettings()
			settings.Baud = cfg.Baud()
			if uartOpts.baud != 0 {
				settings.Baud = uartOpts.baud
			}
			if err := port.Control(settings.Control()); err != nil {
				return err
			}

			var reply []byte
			var replied <-chan usart.Event
			if uartOpts.listen > 0 {
				reply = make([]byte, listenBuffer)
				id, ch, err := events.Register(func(ev usart.Event) bool {
					return hal.Any(ev, usart.EventReceiveComplete|usart.EventRxTimeout)
				})
				if err != nil {
					return err
				}
				defer events.Cancel(id)
				if err := port.Receive(reply); err != nil {
					return err
				}
				replied = ch
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			sent := func(ev usart.Event) bool { return ev.Has(usart.EventSendComplete) }
			if _, err := hal.Await(ctx, events, sent, func() error { return port.Send([]byte(args[0])) }); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "sent %d bytes at %d baud\n", port.GetTxCount(), settings.Baud)
			if replied == nil {
				return nil
			}

			select {
			case <-replied:
			case <-time.After(uartOpts.listen):
			case <-cmd.Context().Done():
			}
			if err := port.Control(usart.ControlAbortReceive, 0); err != nil {
				return err
			}
			n := min(int(port.GetRxCount()), len(reply))
			fmt.Fprintf(out, "received %d bytes: %q\n", n, reply[:n])
			return nil
		},
	}
)

func init() {
	uartSendCmd.Flags().Uint32Var(&uartOpts.baud, "baud", 0, "baud rate, 0 uses the board file")
	uartSendCmd.Flags().DurationVar(&uartOpts.listen, "listen", 0, "how long to wait for a reply")
	uartCmd.AddCommand(uartSendCmd)
}
