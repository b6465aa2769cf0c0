package main

import (
	"fmt"
	"log/slog"
	"os"
)

// gpioPowerSwitch drives the latch that keeps the board powered. Writing "0"
// to the sysfs value file releases it.
type gpioPowerSwitch struct {
	valuePath string
	logger    *slog.Logger
}

func (p gpioPowerSwitch) CutPower() error {
	p.logger.Warn("cutting power", "gpio", p.valuePath)
	if err := os.WriteFile(p.valuePath, []byte("0"), 0); err != nil {
		return fmt.Errorf("write %s: %w", p.valuePath, err)
	}
	return nil
}

// newPowerSwitch picks the GPIO switch when a value file is configured.
func newPowerSwitch(cfg PowerConfig, logger *slog.Logger) PowerSwitch {
	if cfg.OffGPIOValuePath == "" {
		return logPowerSwitch{logger: logger}
	}
	return gpioPowerSwitch{valuePath: ExpandPath(cfg.OffGPIOValuePath), logger: logger}
}
