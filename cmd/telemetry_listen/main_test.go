package main

import (
	"strings"
	"testing"
)

func TestFormatFrame(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{
			`{"type":"telemetry","ts":"2024-01-01T10:00:00Z","data":{"tick":25,"applied":{"left":100,"right":-100},"battery_volts":38.5,"battery_percent":50,"temp_known":false,"safety":"normal","fresh":true}}`,
			[]string{"[TELEMETRY]", "#25", "L=100 R=-100", "FWD", "38.50V", "temp=--.-C", "safety=normal"},
		},
		{
			`{"type":"telemetry","ts":"2024-01-01T10:00:00Z","data":{"reverse":true,"fresh":false,"temp_known":true,"temp_c":41.3}}`,
			[]string{"REV", "temp=41.3C", "STALE"},
		},
		{
			`{"type":"safety_changed","ts":"2024-01-01T10:00:00Z","data":{"from":"normal","to":"battery_warning_1"}}`,
			[]string{"[SAFETY] normal -> battery_warning_1"},
		},
		{
			`{"type":"shutdown","ts":"2024-01-01T10:00:00Z","data":{"reason":"inactivity"}}`,
			[]string{"[SHUTDOWN] inactivity"},
		},
		{
			`{"type":"reverse_changed","ts":"2024-01-01T10:00:00Z","data":{"reverse":true}}`,
			[]string{"[reverse_changed]", `{"reverse":true}`},
		},
		{`not json`, []string{"[TEXT] not json"}},
	}
	for _, tt := range tests {
		got := formatFrame([]byte(tt.in))
		for _, w := range tt.want {
			if !strings.Contains(got, w) {
				t.Fatalf("formatFrame(%s) = %q, missing %q", tt.in, got, w)
			}
		}
	}
}
