package main

import (
	"math"
	"testing"
)

func testSafetyConfig() SafetyConfig {
	return SafetyConfig{
		Cells:           10,
		Lvl1PerCell:     3.6,
		Lvl2PerCell:     3.5,
		DeadPerCell:     3.37,
		FullVolts:       42,
		Lvl1BeepEnabled: true,
		Lvl2BeepEnabled: true,
		WarningC:        60,
		PoweroffC:       65,
		WarningEnabled:  true,
		PoweroffEnabled: true,
		StationarySpeed: 20,
	}
}

func TestEvaluateSafety_PriorityChain(t *testing.T) {
	cfg := testSafetyConfig()
	tests := []struct {
		name     string
		in       SafetyInputs
		want     SafetyState
		shutdown bool
		display  bool
	}{
		{"normal", SafetyInputs{BatteryVolts: 40}, SafetyState{Level: SafetyNormal}, false, false},
		{"overheat beats dead", SafetyInputs{BatteryVolts: 30, TemperatureC: 70, TempKnown: true}, SafetyState{Level: SafetyCritical, Reason: ReasonOverheat}, true, false},
		{"dead stationary", SafetyInputs{BatteryVolts: 33.0, Speed: 5}, SafetyState{Level: SafetyCritical, Reason: ReasonBatteryDead}, true, false},
		{"dead while moving", SafetyInputs{BatteryVolts: 33.0, Speed: 300}, SafetyState{Level: SafetyNormal}, false, false},
		{"overheat while moving warns", SafetyInputs{BatteryVolts: 40, TemperatureC: 70, TempKnown: true, Speed: -300}, SafetyState{Level: SafetyThermalWarning}, false, false},
		{"thermal warning", SafetyInputs{BatteryVolts: 40, TemperatureC: 61, TempKnown: true}, SafetyState{Level: SafetyThermalWarning}, false, false},
		{"unknown temperature ignored", SafetyInputs{BatteryVolts: 40, TemperatureC: 99}, SafetyState{Level: SafetyNormal}, false, false},
		{"lvl1", SafetyInputs{BatteryVolts: 35.5}, SafetyState{Level: SafetyBatteryWarning1}, false, false},
		{"lvl2", SafetyInputs{BatteryVolts: 34.0}, SafetyState{Level: SafetyBatteryWarning2}, false, true},
		{"thermal beats battery", SafetyInputs{BatteryVolts: 34.0, TemperatureC: 62, TempKnown: true}, SafetyState{Level: SafetyThermalWarning}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := EvaluateSafety(tt.in, cfg)
			if v.State != tt.want || v.Shutdown != tt.shutdown || v.DisplayWarning != tt.display {
				t.Fatalf("got %+v (%s), want state=%s shutdown=%v display=%v", v, v.State, tt.want, tt.shutdown, tt.display)
			}
		})
	}
}

func TestEvaluateSafety_DisabledThermal(t *testing.T) {
	cfg := testSafetyConfig()
	cfg.PoweroffEnabled = false
	cfg.WarningEnabled = false
	v := EvaluateSafety(SafetyInputs{BatteryVolts: 40, TemperatureC: 90, TempKnown: true}, cfg)
	if v.State.Level != SafetyNormal || v.Shutdown {
		t.Fatalf("got %+v, want normal with thermal checks disabled", v)
	}
}

func TestInactivityLimitTicks(t *testing.T) {
	if got := InactivityLimitTicks(1, 10); got != 6000 {
		t.Fatalf("1 min @ 10ms: got %d, want 6000", got)
	}
	if got := InactivityLimitTicks(8, 5); got != 96000 {
		t.Fatalf("8 min @ 5ms: got %d, want 96000", got)
	}
	if got := InactivityLimitTicks(0, 5); got != 0 {
		t.Fatalf("disabled: got %d, want 0", got)
	}
}

func TestTemperatureCalibration(t *testing.T) {
	c := TemperatureCalibration{LowADC: 1655, LowC: 35.8, HighADC: 1588, HighC: 48.9}
	if got := c.DegreesC(1655); math.Abs(got-35.8) > 1e-9 {
		t.Fatalf("low point: got %.3f", got)
	}
	if got := c.DegreesC(1588); math.Abs(got-48.9) > 1e-9 {
		t.Fatalf("high point: got %.3f", got)
	}
	// Lower ADC means hotter on this sensor.
	if c.DegreesC(1400) <= c.DegreesC(1500) {
		t.Fatalf("calibration slope has the wrong sign")
	}
}

func TestBatteryPercent(t *testing.T) {
	cfg := testSafetyConfig()
	if got := BatteryPercent(42, cfg); got != 100 {
		t.Fatalf("full: got %.1f", got)
	}
	if got := BatteryPercent(35, cfg); got != 0 {
		t.Fatalf("empty: got %.1f", got)
	}
	if got := BatteryPercent(38.5, cfg); math.Abs(got-50) > 1e-9 {
		t.Fatalf("half: got %.1f", got)
	}
	if got := BatteryPercent(20, cfg); got != 0 {
		t.Fatalf("below empty: got %.1f", got)
	}
}

func TestSafetyStateString(t *testing.T) {
	if got := (SafetyState{Level: SafetyCritical, Reason: ReasonOverheat}).String(); got != "critical(overheat)" {
		t.Fatalf("got %q", got)
	}
	if got := (SafetyState{Level: SafetyBatteryWarning2}).String(); got != "battery_warning_2" {
		t.Fatalf("got %q", got)
	}
}
