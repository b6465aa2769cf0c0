package main

import (
	"math"
	"time"
)

// LoopState is the complete cross-tick state of the control loop.
//
// It is owned by the daemon goroutine and only mutated by Reduce. Producers
// never touch it; they publish events instead.
type LoopState struct {
	Input InputState

	// Latest committed raw sample for the active variant (nil until the first one).
	Latest RawSample

	// TicksSinceFresh counts ticks since the input source last delivered a sample.
	TicksSinceFresh uint32

	Reading  InputReading
	Filter   FilterState
	Proposed MotorCommand // mixer output this tick
	Applied  MotorCommand // rate-limited, logical sign
	Reverse  bool

	Inactivity  uint32
	LoopCounter uint64

	Battery        BatteryState
	Temperature    TemperatureState
	FieldWeakening FieldWeakeningState
	PowerButton    PowerButtonState
	Gesture        GestureState

	Safety         SafetyState
	DisplayWarning bool
	Alert          AlertCode

	Halted     bool
	HaltReason ShutdownReason
	HaltedAt   time.Time

	// FailedCommands counts effect failures reported back by the effects layer.
	FailedCommands uint64
}

// BatteryState is the latest pack voltage.
type BatteryState struct {
	Volts float64
	At    time.Time
}

// TemperatureState tracks the board temperature filter.
type TemperatureState struct {
	RawADC   uint16
	Filtered float64
	DegreesC float64
	Known    bool // false until the first ADC sample arrives
	At       time.Time
}

// FieldWeakeningState is the last observed auxiliary driver output.
type FieldWeakeningState struct {
	Left  int
	Right int
}

// AtRest reports whether both outputs are zero.
func (f FieldWeakeningState) AtRest() bool { return f.Left == 0 && f.Right == 0 }

// PowerButtonState tracks the manual power-off gesture.
type PowerButtonState struct {
	Pressed bool
	// Armed is set when the button was pressed with the motors at rest; the
	// shutdown fires on release.
	Armed bool
}

// GestureState tracks motion-controller button gestures and tone cues.
type GestureState struct {
	Horn           bool
	Button2Held    bool
	ReversePending bool
	Cue            []CueStep
}

// NewLoopState returns the state at power-on. The battery starts at the
// nominal pack voltage so the interlock does not trip before the first
// sample arrives.
func NewLoopState(cfg ControlConfig) *LoopState {
	return &LoopState{
		Battery: BatteryState{Volts: float64(cfg.Safety.Cells) * cfg.NominalCellVolts},
	}
}

// StateSnapshot is a daemon-produced copy of LoopState for observers.
type StateSnapshot struct {
	Telemetry      TelemetryFrame
	Halted         bool
	Reason         ShutdownReason
	HaltedAt       time.Time
	FailedCommands uint64
}

// TelemetryFrame is the periodic telemetry record.
type TelemetryFrame struct {
	Tick           uint64            `json:"tick"`
	Command        NormalizedCommand `json:"command"`
	Analog         *AnalogSample     `json:"analog,omitempty"` // raw channels, analog input only
	Filter         FilterState       `json:"filter"`
	Proposed       MotorCommand      `json:"proposed"`
	Applied        MotorCommand      `json:"applied"`
	Reverse        bool              `json:"reverse"`
	Fresh          bool              `json:"fresh"`
	BatteryVolts   float64           `json:"battery_volts"`
	BatteryPercent float64           `json:"battery_percent"`
	TempADC        float64           `json:"temp_adc"`
	TempC          float64           `json:"temp_c"`
	TempKnown      bool              `json:"temp_known"`
	DisplayWarning bool              `json:"display_warning"`
	SpeedBar       int               `json:"speed_bar"`
	Safety         string            `json:"safety"`
	Alert          AlertCode         `json:"alert"`
	Inactivity     uint32            `json:"inactivity_ticks"`
}

// speedBar is the number of display blocks for a speed command.
func speedBar(speed float64, stationary float64) int {
	a := math.Abs(speed)
	if a <= stationary {
		return 0
	}
	return clampInt(int(a)/speedBarDivisor+1, 0, speedBarMaxBlock)
}

// telemetry builds a frame from the current state.
func (s *LoopState) telemetry(cfg ControlConfig) TelemetryFrame {
	var analog *AnalogSample
	if a, ok := s.Latest.(AnalogSample); ok {
		analog = &a
	}
	return TelemetryFrame{
		Tick:           s.LoopCounter,
		Command:        s.Reading.Command,
		Analog:         analog,
		Filter:         s.Filter,
		Proposed:       s.Proposed,
		Applied:        s.Applied,
		Reverse:        s.Reverse,
		Fresh:          s.TicksSinceFresh < cfg.FreshnessTimeoutTicks,
		BatteryVolts:   s.Battery.Volts,
		BatteryPercent: BatteryPercent(s.Battery.Volts, cfg.Safety),
		TempADC:        s.Temperature.Filtered,
		TempC:          s.Temperature.DegreesC,
		TempKnown:      s.Temperature.Known,
		DisplayWarning: s.DisplayWarning,
		SpeedBar:       speedBar(s.Filter.Speed, cfg.Safety.StationarySpeed),
		Safety:         s.Safety.String(),
		Alert:          s.Alert,
		Inactivity:     s.Inactivity,
	}
}

// Snapshot copies the observer-visible parts of the state.
func (s *LoopState) Snapshot(cfg ControlConfig) StateSnapshot {
	return StateSnapshot{
		Telemetry:      s.telemetry(cfg),
		Halted:         s.Halted,
		Reason:         s.HaltReason,
		HaltedAt:       s.HaltedAt,
		FailedCommands: s.FailedCommands,
	}
}
