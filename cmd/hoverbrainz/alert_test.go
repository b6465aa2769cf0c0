package main

import (
	"testing"
	"time"
)

func TestEncodeAlert_Precedence(t *testing.T) {
	cfg := AlertConfig{Lvl1BeepEnabled: true, Lvl2BeepEnabled: true, BeepsBackward: true}
	horn := &AlertCode{Tone: toneHorn}

	tests := []struct {
		name string
		in   AlertInputs
		want AlertCode
	}{
		{"silent", AlertInputs{}, AlertSilent},
		{"critical is silent", AlertInputs{Safety: SafetyState{Level: SafetyCritical, Reason: ReasonBatteryDead}, Gesture: horn}, AlertSilent},
		{"thermal beats horn", AlertInputs{Safety: SafetyState{Level: SafetyThermalWarning}, Gesture: horn}, AlertCode{Tone: 4, Pattern: 1}},
		{"lvl1", AlertInputs{Safety: SafetyState{Level: SafetyBatteryWarning1}}, AlertCode{Tone: 5, Pattern: 42}},
		{"lvl2", AlertInputs{Safety: SafetyState{Level: SafetyBatteryWarning2}}, AlertCode{Tone: 5, Pattern: 6}},
		{"horn", AlertInputs{Gesture: horn, Backward: true}, AlertCode{Tone: 7}},
		{"backward", AlertInputs{Backward: true}, AlertCode{Tone: 5, Pattern: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EncodeAlert(tt.in, cfg); got != tt.want {
				t.Fatalf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestEncodeAlert_DisabledBeepsFallThrough(t *testing.T) {
	cfg := AlertConfig{}
	in := AlertInputs{Safety: SafetyState{Level: SafetyBatteryWarning1}, Backward: true}
	if got := EncodeAlert(in, cfg); got != AlertSilent {
		t.Fatalf("got %s, want silent with beeps disabled", got)
	}
	in.Gesture = &AlertCode{Tone: toneHorn}
	if got := EncodeAlert(in, cfg); got != (AlertCode{Tone: toneHorn}) {
		t.Fatalf("got %s, want horn", got)
	}
}

func TestPlayCue_Reverse(t *testing.T) {
	cues := NewCueSet(100 * time.Millisecond)
	// 400ms at 100ms ticks: 4 on, 4 off, 4 on.
	cue := cues.Reverse
	var tones []uint8
	for {
		var code *AlertCode
		code, cue = playCue(cue)
		if code == nil {
			break
		}
		tones = append(tones, code.Tone)
	}
	want := []uint8{5, 5, 5, 5, 0, 0, 0, 0, 5, 5, 5, 5}
	if len(tones) != len(want) {
		t.Fatalf("got %v, want %v", tones, want)
	}
	for i := range want {
		if tones[i] != want[i] {
			t.Fatalf("got %v, want %v", tones, want)
		}
	}
}

func TestPlayCue_DoesNotMutateSource(t *testing.T) {
	cues := NewCueSet(5 * time.Millisecond)
	before := cues.StillDriving[0].Ticks
	_, _ = playCue(cues.StillDriving)
	if cues.StillDriving[0].Ticks != before {
		t.Fatalf("playCue mutated the shared cue")
	}
	if before != 20 {
		t.Fatalf("short cue at 5ms: got %d ticks, want 20", before)
	}
}
