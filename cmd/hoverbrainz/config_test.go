package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cc, err := cfg.ToControlConfig()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Millisecond, cc.TickPeriod)
	assert.Equal(t, uint32(96000), cc.InactivityLimitTicks)
	assert.Equal(t, InputAnalog, cc.Input.Variant())
	assert.True(t, cc.InvertRight)
	assert.False(t, cc.InvertLeft)
	assert.Equal(t, SlewGate, cc.SlewMode)
	assert.InDelta(t, 33.7, cc.Safety.DeadPerCell*float64(cc.Safety.Cells), 1e-9)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hover.yaml")
	yml := `
input:
  variant: serial
  serial:
    port: /dev/ttyUSB0
    framing: framed
control:
  tick_ms: 10
  slew_mode: step
safety:
  inactivity_minutes: 1
  battery:
    lvl1_beep: false
telemetry:
  listen_addr: ""
logging:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "serial", cfg.Input.Variant)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Input.Serial.Port)
	assert.Equal(t, defaultSerialBaud, cfg.Input.Serial.Baud, "unset keys keep defaults")
	assert.Equal(t, 10, cfg.Control.TickMS)
	assert.Equal(t, "", cfg.Telemetry.ListenAddr)
	assert.False(t, cfg.Safety.Battery.Lvl1Beep)
	assert.True(t, cfg.Safety.Battery.Lvl2Beep)

	cc, err := cfg.ToControlConfig()
	require.NoError(t, err)
	assert.Equal(t, uint32(6000), cc.InactivityLimitTicks)
	assert.Equal(t, SlewStep, cc.SlewMode)
	assert.False(t, cc.Alerts.Lvl1BeepEnabled)
}

func TestParseConfig_RejectsUnknownField(t *testing.T) {
	_, err := parseConfig([]byte("control:\n  tick_msec: 10\n"))
	require.Error(t, err)
}

func TestParseConfig_RejectsTrailingDocument(t *testing.T) {
	_, err := parseConfig([]byte("control:\n  tick_ms: 10\n---\nlogging:\n  level: debug\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trailing")
}

func TestLoadConfigFile_Missing(t *testing.T) {
	_, err := LoadConfigFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate_CollectsErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Input.Variant = "joystick"
	cfg.Control.FilterAlpha = 0
	cfg.Safety.Battery.Lvl2PerCell = 3.7
	cfg.Logging.Level = "loud"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "input.variant")
	assert.Contains(t, msg, "filter_alpha")
	assert.Contains(t, msg, "dead < lvl2 < lvl1")
	assert.Contains(t, msg, "log level")
}

func TestValidate_BoundsMixerCoefficients(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Control.SpeedCoefficient = 1e20
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "speed_coefficient")

	cfg = DefaultConfig()
	cfg.Control.SteerCoefficient = -1
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "steer_coefficient")
}

func TestValidate_SerialNeedsPort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Input.Variant = string(InputSerial)
	cfg.Input.Serial.Port = ""
	require.Error(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HOVER_INPUT", "motion")
	t.Setenv("HOVER_LOG_LEVEL", "warn")
	t.Setenv("HOVER_MQTT_BROKER", "tcp://broker:1883")

	o, err := LoadEnvOverrides()
	require.NoError(t, err)

	cfg := DefaultConfig()
	o.Apply(&cfg)
	assert.Equal(t, "motion", cfg.Input.Variant)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.True(t, cfg.Telemetry.MQTT.Enabled)
	assert.Equal(t, "tcp://broker:1883", cfg.Telemetry.MQTT.Broker)
	assert.False(t, cfg.Telemetry.AMQP.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestFlagOverrides(t *testing.T) {
	variant := "pulse_width"
	devices := " /dev/input/event0, ,/dev/input/event3 "
	cfg := DefaultConfig()

	FlagOverrides{InputVariant: &variant, PowerDevices: &devices}.Apply(&cfg)

	assert.Equal(t, "pulse_width", cfg.Input.Variant)
	assert.Equal(t, []string{"/dev/input/event0", "/dev/input/event3"}, cfg.Power.ButtonDevices)
	assert.Equal(t, "/tmp/hoverbrainz.sock", cfg.IPC.SocketPath, "unset flags leave values alone")
}
