//go:build linux

package board

import (
	"github.com/mbalug7/go-hal-driver/pkg/gpio"
	"github.com/mbalug7/go-hal-driver/pkg/linux"
)

func openLinuxGPIO(chip string) (gpio.GPIO, Closer, error) {
	g, err := linux.NewGPIO(chip)
	if err != nil {
		return nil, nil, err
	}
	return g, g.Close, nil
}
