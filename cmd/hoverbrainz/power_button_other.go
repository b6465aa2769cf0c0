//go:build !linux

package main

import (
	"context"
	"errors"
	"log/slog"
)

func runPowerButtonReader(ctx context.Context, devices []string, events chan<- Event, logger *slog.Logger) error {
	return errors.New("power button reader requires linux evdev")
}
