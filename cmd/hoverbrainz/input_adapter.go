package main

import (
	"fmt"
	"math"
)

// ============================================================================
// Input Adapters
// ============================================================================
// An InputAdapter turns the latest committed raw sample of one input source
// into a NormalizedCommand in [-1000, 1000]. Exactly one adapter is active,
// chosen from configuration at startup. Adapters never fail: out-of-range
// values are clamped and a missing sample reads as centered sticks.
// ============================================================================

// InputVariant names an input source.
type InputVariant string

const (
	InputAnalog     InputVariant = "analog"
	InputPulseWidth InputVariant = "pulse_width"
	InputMotion     InputVariant = "motion"
	InputSerial     InputVariant = "serial"
	InputTestSweep  InputVariant = "test_sweep"
)

// NormalizedCommand is operator intent, both axes in [-1000, 1000].
type NormalizedCommand struct {
	Steer int `json:"steer"`
	Speed int `json:"speed"`
}

// InputReading is one tick's normalized view of the input source.
type InputReading struct {
	Command NormalizedCommand
	Button1 bool // pressed
	Button2 bool // pressed
}

// RawSample is the last value committed by an input producer.
type RawSample interface {
	Event
	variant() InputVariant
}

// AnalogSample holds the two raw ADC channels of the dual-analog input.
// Ch1 drives steer, Ch2 drives speed.
type AnalogSample struct {
	Ch1 uint16 `json:"ch1"`
	Ch2 uint16 `json:"ch2"`
}

// PulseWidthSample holds the receiver channels, in microseconds above 1000.
type PulseWidthSample struct {
	Channels []uint16 `json:"channels"`
}

// MotionSample is the 6-byte motion controller report.
type MotionSample struct {
	Packet [6]byte `json:"packet"`
}

// SerialSample is a pre-normalized command from the serial link.
type SerialSample struct {
	Steer int16 `json:"steer"`
	Speed int16 `json:"speed"`
}

func (AnalogSample) eventMarker()     {}
func (PulseWidthSample) eventMarker() {}
func (MotionSample) eventMarker()     {}
func (SerialSample) eventMarker()     {}

func (AnalogSample) variant() InputVariant     { return InputAnalog }
func (PulseWidthSample) variant() InputVariant { return InputPulseWidth }
func (MotionSample) variant() InputVariant     { return InputMotion }
func (SerialSample) variant() InputVariant     { return InputSerial }

// InputState is the adapter-owned part of LoopState.
type InputState struct {
	SweepSpeed int
	SweepDir   int
}

// InputAdapter normalizes raw samples of one variant.
type InputAdapter interface {
	Variant() InputVariant

	// Normalize maps the latest sample (nil when none has arrived yet) to a reading.
	Normalize(raw RawSample, st *InputState) InputReading

	// SelfRefreshing reports whether the source counts as fresh on every tick,
	// regardless of sample arrival.
	SelfRefreshing() bool

	// Gestures reports whether the buttons carry horn/reverse gestures.
	Gestures() bool
}

// clampCommand rounds half away from zero and clamps to the command range.
func clampCommand(v float64) int {
	// Clamp before converting; out-of-range floats do not convert to int.
	r := math.Round(v)
	if math.IsNaN(r) {
		return 0
	}
	if r < commandMin {
		return commandMin
	}
	if r > commandMax {
		return commandMax
	}
	return int(r)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ----------------------------------------------------------------------------
// Dual-analog
// ----------------------------------------------------------------------------

// AnalogWindow is the raw range of one ADC channel.
type AnalogWindow struct {
	Min int
	Max int
}

// rescale maps [Min, Max] linearly onto [-1000, 1000].
func (w AnalogWindow) rescale(raw uint16) int {
	span := float64(w.Max - w.Min)
	if span <= 0 {
		return 0
	}
	return clampCommand((float64(int(raw)-w.Min)/span)*2000 - 1000)
}

type analogAdapter struct {
	steer           AnalogWindow
	speed           AnalogWindow
	buttonThreshold uint16
}

func (analogAdapter) Variant() InputVariant { return InputAnalog }
func (analogAdapter) SelfRefreshing() bool  { return true }
func (analogAdapter) Gestures() bool        { return false }

func (a analogAdapter) Normalize(raw RawSample, _ *InputState) InputReading {
	s, ok := raw.(AnalogSample)
	if !ok {
		return InputReading{}
	}
	return InputReading{
		Command: NormalizedCommand{
			Steer: a.steer.rescale(s.Ch1),
			Speed: a.speed.rescale(s.Ch2),
		},
		Button1: s.Ch1 > a.buttonThreshold,
		Button2: s.Ch2 > a.buttonThreshold,
	}
}

// ----------------------------------------------------------------------------
// Pulse-width (PPM receiver)
// ----------------------------------------------------------------------------

type pulseWidthAdapter struct {
	steerChannel    int
	speedChannel    int
	buttonChannel   int
	center          int
	buttonThreshold uint16
}

func (pulseWidthAdapter) Variant() InputVariant { return InputPulseWidth }
func (pulseWidthAdapter) SelfRefreshing() bool  { return false }
func (pulseWidthAdapter) Gestures() bool        { return false }

func (p pulseWidthAdapter) channel(s PulseWidthSample, idx int) int {
	if idx < 0 || idx >= len(s.Channels) {
		return 0
	}
	return clampInt((int(s.Channels[idx])-p.center)*2, commandMin, commandMax)
}

func (p pulseWidthAdapter) Normalize(raw RawSample, _ *InputState) InputReading {
	s, ok := raw.(PulseWidthSample)
	if !ok {
		return InputReading{}
	}
	r := InputReading{
		Command: NormalizedCommand{
			Steer: p.channel(s, p.steerChannel),
			Speed: p.channel(s, p.speedChannel),
		},
	}
	if p.buttonChannel >= 0 && p.buttonChannel < len(s.Channels) {
		r.Button1 = s.Channels[p.buttonChannel] > p.buttonThreshold
	}
	return r
}

// ----------------------------------------------------------------------------
// Motion controller
// ----------------------------------------------------------------------------

type motionAdapter struct {
	biasX int
	biasY int
	gain  int
}

// motionBias returns the axis rest position for a calibrated [min, max] range.
func motionBias(lo, hi int) int {
	return (hi-lo)/2 + lo - 1
}

func (motionAdapter) Variant() InputVariant { return InputMotion }
func (motionAdapter) SelfRefreshing() bool  { return false }
func (motionAdapter) Gestures() bool        { return true }

func (m motionAdapter) Normalize(raw RawSample, _ *InputState) InputReading {
	s, ok := raw.(MotionSample)
	if !ok {
		return InputReading{}
	}
	return InputReading{
		Command: NormalizedCommand{
			Steer: clampInt((int(s.Packet[0])-m.biasX)*m.gain, commandMin, commandMax),
			Speed: clampInt((int(s.Packet[1])-m.biasY)*m.gain, commandMin, commandMax),
		},
		// Active-low.
		Button1: s.Packet[5]&0x01 == 0,
		Button2: s.Packet[5]&0x02 == 0,
	}
}

// ----------------------------------------------------------------------------
// Framed serial
// ----------------------------------------------------------------------------

type serialAdapter struct{}

func (serialAdapter) Variant() InputVariant { return InputSerial }
func (serialAdapter) SelfRefreshing() bool  { return false }
func (serialAdapter) Gestures() bool        { return false }

func (serialAdapter) Normalize(raw RawSample, _ *InputState) InputReading {
	s, ok := raw.(SerialSample)
	if !ok {
		return InputReading{}
	}
	return InputReading{
		Command: NormalizedCommand{
			Steer: clampInt(int(s.Steer), commandMin, commandMax),
			Speed: clampInt(int(s.Speed), commandMin, commandMax),
		},
	}
}

// ----------------------------------------------------------------------------
// Test sweep
// ----------------------------------------------------------------------------

// testSweepAdapter ignores samples and ramps speed between 0 and max, one
// unit per tick, with steer held at 0.
type testSweepAdapter struct {
	max int
}

func (testSweepAdapter) Variant() InputVariant { return InputTestSweep }
func (testSweepAdapter) SelfRefreshing() bool  { return true }
func (testSweepAdapter) Gestures() bool        { return false }

func (t testSweepAdapter) Normalize(_ RawSample, st *InputState) InputReading {
	if st.SweepDir == 0 {
		st.SweepDir = 1
	}
	st.SweepSpeed += st.SweepDir
	if st.SweepSpeed >= t.max {
		st.SweepSpeed = t.max
		st.SweepDir = -1
	} else if st.SweepSpeed <= 0 {
		st.SweepSpeed = 0
		st.SweepDir = 1
	}
	return InputReading{
		Command: NormalizedCommand{Speed: clampInt(st.SweepSpeed, commandMin, commandMax)},
	}
}

// ----------------------------------------------------------------------------
// Construction
// ----------------------------------------------------------------------------

// NewInputAdapter builds the adapter selected by cfg.Variant.
func NewInputAdapter(cfg InputConfig) (InputAdapter, error) {
	switch InputVariant(cfg.Variant) {
	case InputAnalog:
		return analogAdapter{
			steer:           AnalogWindow{Min: cfg.Analog.Ch1Min, Max: cfg.Analog.Ch1Max},
			speed:           AnalogWindow{Min: cfg.Analog.Ch2Min, Max: cfg.Analog.Ch2Max},
			buttonThreshold: uint16(cfg.Analog.ButtonThreshold),
		}, nil
	case InputPulseWidth:
		return pulseWidthAdapter{
			steerChannel:    cfg.PulseWidth.SteerChannel,
			speedChannel:    cfg.PulseWidth.SpeedChannel,
			buttonChannel:   cfg.PulseWidth.ButtonChannel,
			center:          cfg.PulseWidth.Center,
			buttonThreshold: uint16(cfg.PulseWidth.ButtonThreshold),
		}, nil
	case InputMotion:
		return motionAdapter{
			biasX: motionBias(cfg.Motion.MinX, cfg.Motion.MaxX),
			biasY: motionBias(cfg.Motion.MinY, cfg.Motion.MaxY),
			gain:  cfg.Motion.Gain,
		}, nil
	case InputSerial:
		return serialAdapter{}, nil
	case InputTestSweep:
		return testSweepAdapter{max: cfg.TestSweep.MaxSpeed}, nil
	default:
		return nil, fmt.Errorf("unknown input variant %q", cfg.Variant)
	}
}
