// Command halctl drives the peripherals described by a board file from the
// command line.
//
//	halctl selftest
//	halctl --board board.yaml gpio watch 17
//	halctl --board board.yaml uart send "hello" --listen 500ms
//	halctl --board board.yaml e22 info
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
