package main

import (
	"fmt"
	"time"

	"github.com/mbalug7/go-hal-driver/pkg/selftest"
	"github.com/spf13/cobra"
)

var (
	selftestOpts = struct {
		only []string
	}{}

	selftestCmd = &cobra.Command{
		Use:   "selftest",
		Short: "Run every driver class against simulated hardware",
		Long:  "Build simulated flash, GPIO, I2C, SPI, SAI and serial hardware and run a round trip on each, all at once. No board file is needed.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			checks, err := selectChecks(selftest.Sim(), selftestOpts.only)
			if err != nil {
				return err
			}
			results, err := selftest.Run(cmd.Context(), selftest.DefaultTimeout, checks...)
			failed := 0
			out := cmd.OutOrStdout()
			for _, r := range results {
				if r.Passed() {
					fmt.Fprintf(out, "%-6s ok    %v\n", r.Name, r.Duration.Round(time.Microsecond))
					continue
				}
				failed++
				fmt.Fprintf(out, "%-6s FAIL  %v\n", r.Name, r.Err)
			}
			if err != nil {
				return fmt.Errorf("%d of %d checks failed, first %w", failed, len(results), err)
			}
			return nil
		},
	}
)

func init() {
	selftestCmd.Flags().StringSliceVar(&selftestOpts.only, "only", nil, "run only the named checks")
}

func selectChecks(all []selftest.Check, names []string) ([]selftest.Check, error) {
	if len(names) == 0 {
		return all, nil
	}
	byName := make(map[string]selftest.Check, len(all))
	for _, c := range all {
		byName[c.Name] = c
	}
	var checks []selftest.Check
	for _, name := range names {
		c, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown check %q", name)
		}
		checks = append(checks, c)
	}
	return checks, nil
}
