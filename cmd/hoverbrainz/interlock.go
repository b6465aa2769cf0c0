package main

import (
	"fmt"
	"math"
)

// ============================================================================
// Safety Interlock
// ============================================================================
// EvaluateSafety is recomputed from scratch on every tick. Conditions are
// checked in strict priority order and the first match wins:
//
//   1. overheat while nearly stationary        -> Critical(Overheat), shutdown
//   2. battery dead while nearly stationary    -> Critical(BatteryDead), shutdown
//   3. temperature at or above warning         -> ThermalWarning
//   4. battery between lvl2 and lvl1           -> BatteryWarning1
//   5. battery between dead and lvl2           -> BatteryWarning2 (+ display warning)
//   6. otherwise                               -> Normal
//
// Inactivity and the power button are tracked by the reducer, since they need
// cross-tick state.
// ============================================================================

// SafetyLevel is the interlock outcome for one tick.
type SafetyLevel int

const (
	SafetyNormal SafetyLevel = iota
	SafetyThermalWarning
	SafetyBatteryWarning1
	SafetyBatteryWarning2
	SafetyCritical
)

func (l SafetyLevel) String() string {
	switch l {
	case SafetyNormal:
		return "normal"
	case SafetyThermalWarning:
		return "thermal_warning"
	case SafetyBatteryWarning1:
		return "battery_warning_1"
	case SafetyBatteryWarning2:
		return "battery_warning_2"
	case SafetyCritical:
		return "critical"
	default:
		return fmt.Sprintf("safety_level(%d)", int(l))
	}
}

// ShutdownReason says why the loop was terminated.
type ShutdownReason int

const (
	ReasonNone ShutdownReason = iota
	ReasonOverheat
	ReasonBatteryDead
	ReasonInactivity
	ReasonPowerButton
)

func (r ShutdownReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonOverheat:
		return "overheat"
	case ReasonBatteryDead:
		return "battery_dead"
	case ReasonInactivity:
		return "inactivity"
	case ReasonPowerButton:
		return "power_button"
	default:
		return fmt.Sprintf("shutdown_reason(%d)", int(r))
	}
}

// SafetyState is the level plus, for Critical, its reason.
type SafetyState struct {
	Level  SafetyLevel
	Reason ShutdownReason
}

func (s SafetyState) String() string {
	if s.Level == SafetyCritical {
		return fmt.Sprintf("critical(%s)", s.Reason)
	}
	return s.Level.String()
}

// SafetyConfig holds the interlock thresholds.
type SafetyConfig struct {
	Cells int

	// Per-cell volts.
	Lvl1PerCell float64
	Lvl2PerCell float64
	DeadPerCell float64

	// Pack volts considered full, for the telemetry percentage.
	FullVolts float64

	Lvl1BeepEnabled bool
	Lvl2BeepEnabled bool

	WarningC        float64
	PoweroffC       float64
	WarningEnabled  bool
	PoweroffEnabled bool

	// Critical conditions only shut down while |speed| is below this.
	StationarySpeed float64
}

// SafetyInputs are the same-tick values the interlock looks at.
type SafetyInputs struct {
	BatteryVolts float64
	TemperatureC float64
	TempKnown    bool
	Speed        float64 // filtered speed command
}

// SafetyVerdict is the interlock result for one tick.
type SafetyVerdict struct {
	State          SafetyState
	Shutdown       bool
	DisplayWarning bool
}

// EvaluateSafety applies the priority chain.
func EvaluateSafety(in SafetyInputs, cfg SafetyConfig) SafetyVerdict {
	cells := float64(cfg.Cells)
	stationary := math.Abs(in.Speed) < cfg.StationarySpeed
	hot := in.TempKnown && cfg.PoweroffEnabled && in.TemperatureC >= cfg.PoweroffC
	dead := in.BatteryVolts < cfg.DeadPerCell*cells

	switch {
	case hot && stationary:
		return SafetyVerdict{State: SafetyState{Level: SafetyCritical, Reason: ReasonOverheat}, Shutdown: true}
	case dead && stationary:
		return SafetyVerdict{State: SafetyState{Level: SafetyCritical, Reason: ReasonBatteryDead}, Shutdown: true}
	case in.TempKnown && cfg.WarningEnabled && in.TemperatureC >= cfg.WarningC:
		return SafetyVerdict{State: SafetyState{Level: SafetyThermalWarning}}
	case in.BatteryVolts < cfg.Lvl1PerCell*cells && in.BatteryVolts > cfg.Lvl2PerCell*cells:
		return SafetyVerdict{State: SafetyState{Level: SafetyBatteryWarning1}}
	case in.BatteryVolts < cfg.Lvl2PerCell*cells && in.BatteryVolts > cfg.DeadPerCell*cells:
		return SafetyVerdict{State: SafetyState{Level: SafetyBatteryWarning2}, DisplayWarning: true}
	default:
		return SafetyVerdict{State: SafetyState{Level: SafetyNormal}}
	}
}

// InactivityLimitTicks converts the inactivity timeout to ticks. Zero minutes
// disables the timeout.
func InactivityLimitTicks(minutes float64, tickMS int) uint32 {
	if minutes <= 0 || tickMS <= 0 {
		return 0
	}
	return uint32(math.Floor(minutes * 60000 / float64(tickMS)))
}

// TemperatureCalibration is a two-point ADC to degrees Celsius mapping.
type TemperatureCalibration struct {
	LowADC  float64
	LowC    float64
	HighADC float64
	HighC   float64
}

// DegreesC converts a filtered ADC reading.
func (c TemperatureCalibration) DegreesC(adc float64) float64 {
	if c.HighADC == c.LowADC {
		return c.LowC
	}
	return (c.HighC-c.LowC)/(c.HighADC-c.LowADC)*(adc-c.LowADC) + c.LowC
}

// BatteryPercent maps pack volts to 0..100 between the lvl2 threshold and full.
func BatteryPercent(volts float64, cfg SafetyConfig) float64 {
	empty := cfg.Lvl2PerCell * float64(cfg.Cells)
	span := cfg.FullVolts - empty
	if span <= 0 {
		return 0
	}
	return math.Max(0, math.Min(100, 100*(volts-empty)/span))
}
