package main

import "fmt"

// ============================================================================
// Command pipeline: filter -> mixer -> output rate limiter
// ============================================================================
// Every function in this file is pure. Cross-tick state (filter accumulators,
// last applied command) lives in LoopState and is passed in explicitly.
// ============================================================================

// FilterState holds the low-pass accumulators for both axes.
type FilterState struct {
	Steer float64 `json:"steer"`
	Speed float64 `json:"speed"`
}

// Step advances both accumulators toward cmd by the fraction alpha.
// With alpha in (0, 1] and cmd within the command range the result stays
// within the range too.
func (f FilterState) Step(cmd NormalizedCommand, alpha float64) FilterState {
	return FilterState{
		Steer: f.Steer*(1-alpha) + float64(cmd.Steer)*alpha,
		Speed: f.Speed*(1-alpha) + float64(cmd.Speed)*alpha,
	}
}

// MotorCommand is a per-wheel target in [-1000, 1000].
type MotorCommand struct {
	Left  int `json:"left"`
	Right int `json:"right"`
}

func (m MotorCommand) String() string {
	return fmt.Sprintf("L=%d R=%d", m.Left, m.Right)
}

// MixerConfig holds the differential mixer coefficients.
type MixerConfig struct {
	SpeedCoefficient float64 // Ks
	SteerCoefficient float64 // Kt
}

// Mix converts filtered steer/speed into per-wheel targets. In reverse mode
// the speed axis and the steering sense are both flipped.
func Mix(f FilterState, reverse bool, cfg MixerConfig) MotorCommand {
	speed := f.Speed * cfg.SpeedCoefficient
	steer := f.Steer * cfg.SteerCoefficient
	if reverse {
		speed = -speed
		steer = -steer
	}
	return MotorCommand{
		Left:  clampCommand(speed + steer),
		Right: clampCommand(speed - steer),
	}
}

// SlewMode selects how the limiter treats a proposal that moves too far.
type SlewMode string

const (
	// SlewGate rejects an oversized change and holds the previous value.
	SlewGate SlewMode = "gate"
	// SlewStep moves toward the proposal by at most maxSlew.
	SlewStep SlewMode = "step"
)

// LimitSlew applies the per-wheel slew bound to a proposed command.
func LimitSlew(prev, proposed MotorCommand, maxSlew int, mode SlewMode) MotorCommand {
	return MotorCommand{
		Left:  limitWheel(prev.Left, proposed.Left, maxSlew, mode),
		Right: limitWheel(prev.Right, proposed.Right, maxSlew, mode),
	}
}

func limitWheel(prev, proposed, maxSlew int, mode SlewMode) int {
	d := proposed - prev
	if d >= -maxSlew && d <= maxSlew {
		return proposed
	}
	if mode != SlewStep {
		return prev
	}
	if d > 0 {
		return prev + maxSlew
	}
	return prev - maxSlew
}
