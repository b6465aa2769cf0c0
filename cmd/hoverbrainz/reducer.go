package main

import (
	"math"
	"time"
)

// The reducer owns every control decision:
//
//   - Events: ticks, raw samples, battery/temperature readings, button edges,
//     effect failures
//   - Commands: motor writes, buzzer updates, the power-off sequence
//   - Broadcasts: telemetry and state changes for observers
//
// Reduce performs no I/O and never blocks. The daemon loop executes Commands
// and feeds failures back as Events.

// ControlConfig is the engine view of the configuration, built once at
// startup by Config.ToControlConfig.
type ControlConfig struct {
	Input InputAdapter

	TickPeriod  time.Duration
	FilterAlpha float64
	Mixer       MixerConfig

	MaxSlew  int
	SlewMode SlewMode

	InvertLeft  bool
	InvertRight bool

	// Outputs freeze once this many ticks pass without a fresh sample.
	FreshnessTimeoutTicks uint32

	// Wheel target magnitude above which the vehicle counts as moving.
	MovingThreshold int

	// Zero disables the inactivity shutdown.
	InactivityLimitTicks uint32

	Safety           SafetyConfig
	Alerts           AlertConfig
	BackwardBeepLine float64

	Temperature          TemperatureCalibration
	TempUpdateEveryTicks uint64
	TelemetryEveryTicks  uint64

	NominalCellVolts float64

	Cues CueSet
}

// ReduceResult is the output of Reduce(): next state plus the Commands to
// execute and the Broadcasts to publish.
type ReduceResult struct {
	State      *LoopState
	Commands   []Command
	Broadcasts []StateBroadcast
}

// Reduce computes the next state for one event.
func Reduce(s *LoopState, e Event, cfg ControlConfig) ReduceResult {
	if s == nil {
		s = NewLoopState(cfg)
	}

	r := ReduceResult{State: s}

	at := time.Time{}
	if te, ok := e.(TimedEvent); ok {
		e = te.Event
		at = te.At
	}

	switch ev := e.(type) {
	case Tick:
		reduceTick(s, ev.Now, cfg, &r)

	case RawSample:
		if cfg.Input == nil || ev.variant() != cfg.Input.Variant() {
			// Samples for an inactive source are ignored.
			break
		}
		s.Latest = ev
		s.TicksSinceFresh = 0

	case BatterySampled:
		s.Battery = BatteryState{Volts: ev.Volts, At: at}

	case BoardTemperatureSampled:
		s.Temperature.RawADC = ev.ADC
		s.Temperature.At = at
		if !s.Temperature.Known {
			s.Temperature.Filtered = float64(ev.ADC)
			s.Temperature.DegreesC = cfg.Temperature.DegreesC(s.Temperature.Filtered)
			s.Temperature.Known = true
		}

	case FieldWeakeningObserved:
		s.FieldWeakening = FieldWeakeningState{Left: ev.Left, Right: ev.Right}

	case PowerButtonChanged:
		s.PowerButton.Pressed = ev.Pressed

	case ToggleReverse:
		s.Gesture.ReversePending = true

	case RequestStateSnapshot:
		r.Commands = append(r.Commands, CmdPublishStateSnapshot{
			Reply:    ev.Reply,
			Snapshot: s.Snapshot(cfg),
		})

	case CommandFailed:
		s.FailedCommands++

	case PowerCut:
		// Terminal; nothing left to decide.

	default:
		// Unknown event type: no-op.
	}

	return r
}

// reduceTick runs one full pass of the control pipeline.
func reduceTick(s *LoopState, now time.Time, cfg ControlConfig, r *ReduceResult) {
	if s.Halted {
		return
	}

	// 1. Input
	if cfg.Input != nil {
		s.Reading = cfg.Input.Normalize(s.Latest, &s.Input)
		if cfg.Input.SelfRefreshing() {
			s.TicksSinceFresh = 0
		}
		if cfg.Input.Gestures() {
			s.Gesture.Horn = s.Reading.Button1
			if s.Reading.Button2 && !s.Gesture.Button2Held {
				s.Gesture.ReversePending = true
			}
			s.Gesture.Button2Held = s.Reading.Button2
		}
	}

	// Reverse toggles are judged against the speed the rider had going into
	// this tick.
	if s.Gesture.ReversePending {
		s.Gesture.ReversePending = false
		if math.Abs(s.Filter.Speed) > cfg.Safety.StationarySpeed {
			s.Gesture.Cue = cfg.Cues.StillDriving
		} else {
			s.Reverse = !s.Reverse
			if s.Reverse {
				s.Gesture.Cue = cfg.Cues.Reverse
			} else {
				s.Gesture.Cue = cfg.Cues.Forward
			}
			r.Broadcasts = append(r.Broadcasts, BroadcastReverseChanged{Reverse: s.Reverse, At: now})
		}
	}

	// 2-4. Filter, mixer, rate limiter
	s.Filter = s.Filter.Step(s.Reading.Command, cfg.FilterAlpha)
	s.Proposed = Mix(s.Filter, s.Reverse, cfg.Mixer)
	if s.TicksSinceFresh < cfg.FreshnessTimeoutTicks {
		s.Applied = LimitSlew(s.Applied, s.Proposed, cfg.MaxSlew, cfg.SlewMode)
	}

	// Board temperature housekeeping
	if cfg.TempUpdateEveryTicks > 0 && s.LoopCounter%cfg.TempUpdateEveryTicks == 0 && s.Temperature.Known {
		s.Temperature.Filtered = s.Temperature.Filtered*tempFilterKeep + float64(s.Temperature.RawADC)*tempFilterNew
		s.Temperature.DegreesC = cfg.Temperature.DegreesC(s.Temperature.Filtered)
	}

	// 5. Power button, then interlock, then inactivity
	if s.PowerButton.Pressed && s.FieldWeakening.AtRest() {
		s.PowerButton.Armed = true
	}
	if s.PowerButton.Armed && !s.PowerButton.Pressed {
		shutdown(s, SafetyState{Level: SafetyCritical, Reason: ReasonPowerButton}, now, r)
		return
	}

	prevSafety := s.Safety
	verdict := EvaluateSafety(SafetyInputs{
		BatteryVolts: s.Battery.Volts,
		TemperatureC: s.Temperature.DegreesC,
		TempKnown:    s.Temperature.Known,
		Speed:        s.Filter.Speed,
	}, cfg.Safety)
	if verdict.Shutdown {
		shutdown(s, verdict.State, now, r)
		return
	}
	s.Safety = verdict.State
	s.DisplayWarning = verdict.DisplayWarning

	if abs(s.Proposed.Left) > cfg.MovingThreshold || abs(s.Proposed.Right) > cfg.MovingThreshold {
		s.Inactivity = 0
	} else {
		s.Inactivity++
	}
	if cfg.InactivityLimitTicks > 0 && s.Inactivity >= cfg.InactivityLimitTicks {
		shutdown(s, SafetyState{Level: SafetyCritical, Reason: ReasonInactivity}, now, r)
		return
	}

	// 6. Alert
	var gesture *AlertCode
	if s.Gesture.Horn {
		gesture = &AlertCode{Tone: toneHorn}
	} else {
		gesture, s.Gesture.Cue = playCue(s.Gesture.Cue)
	}
	travel := s.Filter.Speed
	if s.Reverse {
		travel = -travel
	}
	prevAlert := s.Alert
	s.Alert = EncodeAlert(AlertInputs{
		Safety:   s.Safety,
		Gesture:  gesture,
		Backward: travel < -cfg.BackwardBeepLine,
	}, cfg.Alerts)

	// Outputs
	r.Commands = append(r.Commands, driveCommand(s.Applied, !s.PowerButton.Armed, cfg))
	if s.Alert != prevAlert {
		r.Commands = append(r.Commands, CmdSetAlert{Alert: s.Alert})
	}
	if s.Safety != prevSafety {
		r.Broadcasts = append(r.Broadcasts, BroadcastSafetyChanged{From: prevSafety, To: s.Safety, At: now})
	}
	if cfg.TelemetryEveryTicks > 0 && s.LoopCounter%cfg.TelemetryEveryTicks == 0 {
		r.Broadcasts = append(r.Broadcasts, BroadcastTelemetry{Frame: s.telemetry(cfg), At: now})
	}

	s.LoopCounter++
	if s.TicksSinceFresh < math.MaxUint32 {
		s.TicksSinceFresh++
	}
}

// shutdown moves the loop into its terminal state and requests the power-off
// sequence. It runs at most once per process.
func shutdown(s *LoopState, st SafetyState, now time.Time, r *ReduceResult) {
	prev := s.Safety
	s.Safety = st
	s.Halted = true
	s.HaltReason = st.Reason
	s.HaltedAt = now
	s.Alert = AlertSilent

	r.Commands = append(r.Commands,
		CmdDriveMotors{Enabled: false},
		CmdPowerOff{Reason: st.Reason},
	)
	if prev != st {
		r.Broadcasts = append(r.Broadcasts, BroadcastSafetyChanged{From: prev, To: st, At: now})
	}
	r.Broadcasts = append(r.Broadcasts, BroadcastShutdown{Reason: st.Reason, At: now})
}

// driveCommand applies the per-side sign convention of the motor driver.
func driveCommand(m MotorCommand, enabled bool, cfg ControlConfig) CmdDriveMotors {
	left, right := m.Left, m.Right
	if cfg.InvertLeft {
		left = -left
	}
	if cfg.InvertRight {
		right = -right
	}
	return CmdDriveMotors{Left: left, Right: right, Enabled: enabled}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
