package main

import (
	"context"
	"testing"
	"time"
)

func TestRunDaemon_HaltsOnInactivity(t *testing.T) {
	cfg := testControlConfig(t, func(c *Config) { c.Control.TickMS = 1 })
	cfg.InactivityLimitTicks = 10

	r := &recorder{}
	events := make(chan Event, 8)
	broadcasts := make(chan StateBroadcast, 64)
	events <- AnalogSample{Ch1: 2047, Ch2: 2047}

	done := make(chan struct{})
	go func() {
		runDaemon(context.Background(), events, broadcasts, fakeHardware(r), cfg, nil, discardLogger())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not halt")
	}

	_, drives, _, cuts := r.snapshot()
	if cuts != 1 {
		t.Fatalf("expected exactly one power cut, got %d", cuts)
	}
	if last := drives[len(drives)-1]; last.Enabled {
		t.Fatalf("motors left enabled: %+v", last)
	}

	var shutdown *BroadcastShutdown
	for len(broadcasts) > 0 {
		if b, ok := (<-broadcasts).(BroadcastShutdown); ok {
			shutdown = &b
		}
	}
	if shutdown == nil || shutdown.Reason != ReasonInactivity {
		t.Fatalf("expected inactivity shutdown broadcast, got %+v", shutdown)
	}
}

func TestRunDaemon_ExternalBatteryEventShutsDown(t *testing.T) {
	cfg := testControlConfig(t, func(c *Config) { c.Control.TickMS = 1 })

	r := &recorder{}
	events := make(chan Event, 8)
	events <- BatterySampled{Volts: 20}

	done := make(chan struct{})
	state := NewLoopState(cfg)
	go func() {
		runDaemon(context.Background(), events, nil, fakeHardware(r), cfg, state, discardLogger())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not halt")
	}
	if state.HaltReason != ReasonBatteryDead {
		t.Fatalf("halt reason: got %s", state.HaltReason)
	}
}

func TestRunDaemon_CancelDisablesMotors(t *testing.T) {
	cfg := testControlConfig(t, func(c *Config) { c.Control.TickMS = 1 })

	r := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runDaemon(ctx, make(chan Event), nil, fakeHardware(r), cfg, nil, discardLogger())
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop on cancel")
	}

	_, drives, _, cuts := r.snapshot()
	if cuts != 0 {
		t.Fatalf("cancel must not cut power")
	}
	if len(drives) == 0 || drives[len(drives)-1].Enabled {
		t.Fatalf("motors must be disabled on cancel, got %v", drives)
	}
}
