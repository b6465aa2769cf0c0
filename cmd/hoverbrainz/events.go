package main

import (
	"encoding/json"
	"fmt"
	"time"
)

// ============================================================================
// Events
// ============================================================================
// Events are the only input to the reducer. They come from the daemon ticker,
// from producers (serial link, power button reader, IPC clients) and from the
// effects layer reporting failures.
// ============================================================================

// Event is the input to the reducer.
type Event interface {
	eventMarker()
}

// Tick is emitted by the daemon loop at the configured period.
type Tick struct {
	Now time.Time
}

// TimedEvent stamps an externally produced event with its arrival time.
type TimedEvent struct {
	Event Event
	At    time.Time
}

// BatterySampled carries the calibrated pack voltage.
type BatterySampled struct {
	Volts float64 `json:"volts"`
}

// BoardTemperatureSampled carries the raw board temperature ADC value.
type BoardTemperatureSampled struct {
	ADC uint16 `json:"adc"`
}

// FieldWeakeningObserved reports the motor driver's auxiliary outputs.
type FieldWeakeningObserved struct {
	Left  int `json:"left"`
	Right int `json:"right"`
}

// PowerButtonChanged reports a power button edge.
type PowerButtonChanged struct {
	Pressed bool `json:"pressed"`
}

// ToggleReverse asks for reverse mode to flip, subject to the stationary guard.
type ToggleReverse struct{}

// RequestStateSnapshot asks the reducer for a snapshot delivered on Reply.
type RequestStateSnapshot struct {
	Reply chan<- StateSnapshot
}

// CommandFailed is emitted by the effects layer when a Command fails.
type CommandFailed struct {
	Command Command
	Err     error
	At      time.Time
}

// PowerCut is emitted once the shutdown sequence has run.
type PowerCut struct {
	Reason ShutdownReason
	At     time.Time
}

func (Tick) eventMarker()                    {}
func (TimedEvent) eventMarker()              {}
func (BatterySampled) eventMarker()          {}
func (BoardTemperatureSampled) eventMarker() {}
func (FieldWeakeningObserved) eventMarker()  {}
func (PowerButtonChanged) eventMarker()      {}
func (ToggleReverse) eventMarker()           {}
func (RequestStateSnapshot) eventMarker()    {}
func (CommandFailed) eventMarker()           {}
func (PowerCut) eventMarker()                {}

// ============================================================================
// JSON envelope
// ============================================================================
// External producers (IPC clients, hover-ctl) send {"type": ..., "data": ...}.
// Only events that make sense from outside the process have a wire type.
// ============================================================================

// EventEnvelope wraps an event with a type discriminator for JSON marshaling
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

const (
	evTypeAnalogSample     = "analog_sample"
	evTypePulseWidthSample = "pulse_width_sample"
	evTypeMotionSample     = "motion_sample"
	evTypeSerialSample     = "serial_sample"
	evTypeBattery          = "battery_sampled"
	evTypeBoardTemperature = "board_temperature_sampled"
	evTypeFieldWeakening   = "field_weakening_observed"
	evTypePowerButton      = "power_button_changed"
	evTypeToggleReverse    = "toggle_reverse"
)

func decodeData[T Event](env EventEnvelope) (Event, error) {
	var v T
	if len(env.Data) == 0 {
		return nil, fmt.Errorf("event %q: missing data", env.Type)
	}
	if err := json.Unmarshal(env.Data, &v); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", env.Type, err)
	}
	return v, nil
}

// UnmarshalEvent deserializes a JSON event envelope into a concrete Event
func UnmarshalEvent(data []byte) (Event, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case evTypeAnalogSample:
		return decodeData[AnalogSample](env)
	case evTypePulseWidthSample:
		return decodeData[PulseWidthSample](env)
	case evTypeMotionSample:
		return decodeData[MotionSample](env)
	case evTypeSerialSample:
		return decodeData[SerialSample](env)
	case evTypeBattery:
		return decodeData[BatterySampled](env)
	case evTypeBoardTemperature:
		return decodeData[BoardTemperatureSampled](env)
	case evTypeFieldWeakening:
		return decodeData[FieldWeakeningObserved](env)
	case evTypePowerButton:
		return decodeData[PowerButtonChanged](env)
	case evTypeToggleReverse:
		return ToggleReverse{}, nil
	default:
		return nil, fmt.Errorf("unknown event type: %q", env.Type)
	}
}

// MarshalEvent serializes an Event into a JSON envelope with type discriminator
func MarshalEvent(e Event) ([]byte, error) {
	var env EventEnvelope

	switch e.(type) {
	case AnalogSample:
		env.Type = evTypeAnalogSample
	case PulseWidthSample:
		env.Type = evTypePulseWidthSample
	case MotionSample:
		env.Type = evTypeMotionSample
	case SerialSample:
		env.Type = evTypeSerialSample
	case BatterySampled:
		env.Type = evTypeBattery
	case BoardTemperatureSampled:
		env.Type = evTypeBoardTemperature
	case FieldWeakeningObserved:
		env.Type = evTypeFieldWeakening
	case PowerButtonChanged:
		env.Type = evTypePowerButton
	case ToggleReverse:
		env.Type = evTypeToggleReverse
		return json.Marshal(env)
	default:
		return nil, fmt.Errorf("unsupported event type: %T", e)
	}

	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", env.Type, err)
	}
	env.Data = data
	return json.Marshal(env)
}
