package main

import (
	"fmt"
	"time"
)

// AlertCode drives the buzzer: Tone selects pitch, Pattern the on/off
// cadence. The zero value is silence.
type AlertCode struct {
	Tone    uint8 `json:"tone"`
	Pattern uint8 `json:"pattern"`
}

// AlertSilent is the default alert.
var AlertSilent = AlertCode{}

func (a AlertCode) String() string {
	return fmt.Sprintf("tone=%d pattern=%d", a.Tone, a.Pattern)
}

// AlertConfig holds the switches that change the alert mapping.
type AlertConfig struct {
	Lvl1BeepEnabled bool
	Lvl2BeepEnabled bool
	BeepsBackward   bool
}

// AlertInputs is everything the encoder looks at.
type AlertInputs struct {
	Safety SafetyState

	// Gesture is the transient horn or tone-cue code, nil when no gesture
	// feedback is playing.
	Gesture *AlertCode

	// Backward is true while travelling backward faster than the beep line.
	Backward bool
}

// EncodeAlert maps interlock state to exactly one alert code. Interlock
// warnings win over gesture feedback, which wins over the backward beep.
func EncodeAlert(in AlertInputs, cfg AlertConfig) AlertCode {
	switch in.Safety.Level {
	case SafetyCritical:
		// The shutdown sequence owns the buzzer from here.
		return AlertSilent
	case SafetyThermalWarning:
		return AlertCode{Tone: toneThermalWarning, Pattern: patternThermal}
	case SafetyBatteryWarning1:
		if cfg.Lvl1BeepEnabled {
			return AlertCode{Tone: toneBattery, Pattern: patternBatteryLvl1}
		}
	case SafetyBatteryWarning2:
		if cfg.Lvl2BeepEnabled {
			return AlertCode{Tone: toneBattery, Pattern: patternBatteryLvl2}
		}
	}

	if in.Gesture != nil {
		return *in.Gesture
	}
	if cfg.BeepsBackward && in.Backward {
		return AlertCode{Tone: toneBattery, Pattern: patternBackward}
	}
	return AlertSilent
}

// ----------------------------------------------------------------------------
// Tone cues
// ----------------------------------------------------------------------------

// CueStep is one segment of a tick-counted tone cue. Tone 0 is a gap.
type CueStep struct {
	Tone  uint8
	Ticks int
}

// CueSet holds the pre-computed gesture cues for the configured tick period.
type CueSet struct {
	StillDriving []CueStep
	Forward      []CueStep
	Reverse      []CueStep
}

func ticksFor(d, tick time.Duration) int {
	if tick <= 0 {
		return 1
	}
	n := int(d / tick)
	if n < 1 {
		n = 1
	}
	return n
}

// NewCueSet builds the reverse-toggle cues for a tick period.
func NewCueSet(tick time.Duration) CueSet {
	short := ticksFor(cueShortMS*time.Millisecond, tick)
	long := ticksFor(cueLongMS*time.Millisecond, tick)
	return CueSet{
		StillDriving: []CueStep{{Tone: toneCue, Ticks: short}},
		Forward:      []CueStep{{Tone: toneCue, Ticks: long}},
		Reverse: []CueStep{
			{Tone: toneCue, Ticks: long},
			{Tone: 0, Ticks: long},
			{Tone: toneCue, Ticks: long},
		},
	}
}

// playCue returns the code for the head of the cue and the remaining cue
// after this tick. A nil code means nothing is playing.
func playCue(cue []CueStep) (*AlertCode, []CueStep) {
	for len(cue) > 0 && cue[0].Ticks <= 0 {
		cue = cue[1:]
	}
	if len(cue) == 0 {
		return nil, nil
	}
	code := AlertCode{Tone: cue[0].Tone}
	rest := make([]CueStep, len(cue))
	copy(rest, cue)
	rest[0].Ticks--
	if rest[0].Ticks == 0 {
		rest = rest[1:]
	}
	return &code, rest
}
