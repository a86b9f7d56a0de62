package main

import (
	"fmt"
	"time"

	"github.com/mbalug7/go-hal-driver/pkg/e22"
	"github.com/spf13/cobra"
)

var (
	e22Opts = struct {
		listen time.Duration
	}{}

	e22Cmd = &cobra.Command{
		Use:   "e22",
		Short: "Configure and use an EBYTE E22 LoRa module",
	}

	e22InfoCmd = &cobra.Command{
		Use:   "info",
		Short: "Print the configuration stored on the module",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadBoard()
			if err != nil {
				return err
			}
			hw, closeE22, err := cfg.OpenE22()
			if err != nil {
				return err
			}
			defer closeE22()
			module, err := e22.NewModule(hw, nil)
			if err != nil {
				return err
			}
			mode, err := hw.GetMode()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "mode: %v\nregisters: % x\n%s\n", mode, module.Registers(), module.GetModuleConfiguration())
			return nil
		},
	}

	e22SendCmd = &cobra.Command{
		Use:   "send <text>",
		Short: "Broadcast a message and print messages received afterwards",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadBoard()
			if err != nil {
				return err
			}
			hw, closeE22, err := cfg.OpenE22()
			if err != nil {
				return err
			}
			defer closeE22()
			out := cmd.OutOrStdout()
			module, err := e22.NewModule(hw, func(msg e22.Message, err error) {
				if err != nil {
					fmt.Fprintf(out, "receive error: %s\n", err)
					return
				}
				fmt.Fprintf(out, "received %q, RSSI -%d dBm\n", msg.Payload, msg.RSSI)
			})
			if err != nil {
				return err
			}
			if err := hw.SetMode(e22.ModeNormal); err != nil {
				return err
			}
			if err := module.SendMessage(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(out, "sent %d bytes\n", len(args[0]))
			if e22Opts.listen <= 0 {
				return nil
			}
			ctx, stop := interruptContext(cmd.Context())
			defer stop()
			select {
			case <-ctx.Done():
			case <-time.After(e22Opts.listen):
			}
			return nil
		},
	}
)

func init() {
	e22SendCmd.Flags().DurationVar(&e22Opts.listen, "listen", 0, "how long to print received messages")
	e22Cmd.AddCommand(e22InfoCmd, e22SendCmd)
}
