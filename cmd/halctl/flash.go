package main

import (
	"context"
	"fmt"

	"github.com/mbalug7/go-hal-driver/pkg/selftest"
	"github.com/spf13/cobra"
)

var (
	flashCmd = &cobra.Command{
		Use:   "flash",
		Short: "Inspect and test the board flash",
	}

	flashInfoCmd = &cobra.Command{
		Use:   "info",
		Short: "Print the flash geometry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadBoard()
			if err != nil {
				return err
			}
			f, err := cfg.OpenFlash()
			if err != nil {
				return err
			}
			info := f.GetInfo()
			fmt.Fprintf(cmd.OutOrStdout(), "sectors:      %d\nsize:         %d bytes\npage size:    %d\nprogram unit: %d\nerased value: %#02x\n",
				info.Count(), info.Size(), info.PageSize, info.ProgramUnit, info.ErasedValue)
			return nil
		},
	}

	flashSelftestCmd = &cobra.Command{
		Use:   "selftest",
		Short: "Erase, program and verify the first page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadBoard()
			if err != nil {
				return err
			}
			f, err := cfg.OpenFlash()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), selftest.DefaultTimeout)
			defer cancel()
			if err := selftest.Flash(ctx, f); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "flash: ok")
			return nil
		},
	}
)

func init() {
	flashCmd.AddCommand(flashInfoCmd, flashSelftestCmd)
}
