//go:build !linux

package board

import (
	"fmt"

	"github.com/mbalug7/go-hal-driver/pkg/gpio"
	"github.com/mbalug7/go-hal-driver/pkg/hal"
)

func openLinuxGPIO(chip string) (gpio.GPIO, Closer, error) {
	return nil, nil, fmt.Errorf("%w: GPIO character device %s needs Linux", hal.ErrUnsupported, chip)
}
