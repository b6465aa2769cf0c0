package main

import (
	"context"
	"log/slog"
	"time"
)

// ============================================================================
// Loop driver
// ============================================================================
//
// runDaemon is the single owner of LoopState. It:
//   - Receives Events from producers (serial link, power button, IPC, websocket)
//   - Emits Tick events on the configured period
//   - Reduces events into (state, commands, broadcasts)
//   - Executes commands against the hardware and feeds failures back
//
// Exit semantics:
//   - Returns once the reducer halts the loop and the power-off sequence ran
//   - Returns when ctx is canceled, after disabling the motors
// ============================================================================

func runDaemon(
	ctx context.Context,
	events <-chan Event,
	broadcasts chan<- StateBroadcast,
	hw *Hardware,
	cfg ControlConfig,
	state *LoopState,
	logger *slog.Logger,
) {
	if state == nil {
		state = NewLoopState(cfg)
	}

	ticker := time.NewTicker(cfg.TickPeriod)
	defer ticker.Stop()

	var eventQueue []Event
	var cmdQueue []Command

	enqueueEvent := func(ev Event) {
		eventQueue = append(eventQueue, ev)
	}

	publish := func(bs []StateBroadcast) {
		if broadcasts == nil {
			return
		}
		for _, b := range bs {
			select {
			case broadcasts <- b:
			default:
				logger.Debug("broadcast channel full, dropping", "broadcast", b)
			}
		}
	}

	flushEvents := func() {
		for len(eventQueue) > 0 {
			ev := eventQueue[0]
			eventQueue = eventQueue[1:]

			prevSafety := state.Safety
			rr := Reduce(state, ev, cfg)
			if rr.State != nil {
				state = rr.State
			}
			if state.Safety != prevSafety {
				logSafetyChange(logger, prevSafety, state)
			}
			cmdQueue = append(cmdQueue, rr.Commands...)
			publish(rr.Broadcasts)
		}
	}

	flushCommands := func() {
		for len(cmdQueue) > 0 {
			cmd := cmdQueue[0]
			cmdQueue = cmdQueue[1:]

			runEffect(hw, cmd, logger, enqueueEvent)
			flushEvents()
		}
	}

	step := func(ev Event) bool {
		enqueueEvent(ev)
		flushEvents()
		flushCommands()
		return state.Halted
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("daemon stopping (context canceled)")
			if !state.Halted {
				runEffect(hw, CmdDriveMotors{Enabled: false}, logger, nil)
			}
			return

		case ev, ok := <-events:
			if !ok {
				logger.Info("daemon stopping (events channel closed)")
				runEffect(hw, CmdDriveMotors{Enabled: false}, logger, nil)
				return
			}
			if step(TimedEvent{Event: ev, At: time.Now()}) {
				logger.Info("daemon halted", "reason", state.HaltReason)
				return
			}

		case now := <-ticker.C:
			if step(Tick{Now: now}) {
				logger.Info("daemon halted", "reason", state.HaltReason)
				return
			}
		}
	}
}

func logSafetyChange(logger *slog.Logger, prev SafetyState, s *LoopState) {
	attrs := []any{
		"from", prev.String(),
		"to", s.Safety.String(),
		"battery_v", s.Battery.Volts,
		"temp_c", s.Temperature.DegreesC,
		"speed", s.Filter.Speed,
	}
	switch s.Safety.Level {
	case SafetyCritical:
		logger.Error("safety interlock tripped", attrs...)
	case SafetyNormal:
		logger.Info("safety state cleared", attrs...)
	default:
		logger.Warn("safety warning", attrs...)
	}
}
