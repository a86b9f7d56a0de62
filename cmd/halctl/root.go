package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mbalug7/go-hal-driver/pkg/board"
	"github.com/mbalug7/go-hal-driver/pkg/hal"
	"github.com/spf13/cobra"
)

var (
	rootOpts = struct {
		board    string
		logLevel string
	}{}

	rootCmd = &cobra.Command{
		Use:          "halctl",
		Short:        "Exercise peripheral drivers",
		Long:         "Open the GPIO, serial, flash and E22 radio drivers of a board file and run operations on them.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var level slog.Level
			if err := level.UnmarshalText([]byte(rootOpts.logLevel)); err != nil {
				return fmt.Errorf("invalid log level %q: %w", rootOpts.logLevel, err)
			}
			hal.SetLogLevel(level)
			hal.SetLogger(hal.NewLogger(cmd.ErrOrStderr()))
			return nil
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&rootOpts.board, "board", "b", "board.yaml", "board file describing the attached peripherals")
	rootCmd.PersistentFlags().StringVar(&rootOpts.logLevel, "log-level", "warn", "driver log level: debug, info, warn or error")

	rootCmd.AddCommand(gpioCmd, uartCmd, flashCmd, selftestCmd, e22Cmd)
}

// loadBoard reads the file named by --board.
func loadBoard() (*board.Config, error) {
	return board.Load(rootOpts.board)
}

// interruptContext is cancelled by SIGINT or SIGTERM.
func interruptContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
