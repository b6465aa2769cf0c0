package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the hoverbrainz daemon.
//
// Layering: DefaultConfig() -> YAML file -> HOVER_* environment -> flags ->
// Validate(). The engine never sees this type; it gets a ControlConfig.
type Config struct {
	Input     InputConfig     `yaml:"input"`
	Control   ControlSection  `yaml:"control"`
	Safety    SafetySection   `yaml:"safety"`
	Power     PowerConfig     `yaml:"power"`
	Motor     MotorConfig     `yaml:"motor"`
	IPC       IPCConfig       `yaml:"ipc"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type InputConfig struct {
	Variant               string `yaml:"variant"`
	FreshnessTimeoutTicks int    `yaml:"freshness_timeout_ticks"`

	Analog     AnalogInputConfig     `yaml:"analog"`
	PulseWidth PulseWidthInputConfig `yaml:"pulse_width"`
	Motion     MotionInputConfig     `yaml:"motion"`
	Serial     SerialInputConfig     `yaml:"serial"`
	TestSweep  TestSweepInputConfig  `yaml:"test_sweep"`
}

type AnalogInputConfig struct {
	Ch1Min          int `yaml:"ch1_min"`
	Ch1Max          int `yaml:"ch1_max"`
	Ch2Min          int `yaml:"ch2_min"`
	Ch2Max          int `yaml:"ch2_max"`
	ButtonThreshold int `yaml:"button_threshold"`
}

type PulseWidthInputConfig struct {
	SteerChannel    int `yaml:"steer_channel"`
	SpeedChannel    int `yaml:"speed_channel"`
	ButtonChannel   int `yaml:"button_channel"`
	Center          int `yaml:"center"`
	ButtonThreshold int `yaml:"button_threshold"`
}

type MotionInputConfig struct {
	MinX int `yaml:"min_x"`
	MaxX int `yaml:"max_x"`
	MinY int `yaml:"min_y"`
	MaxY int `yaml:"max_y"`
	Gain int `yaml:"gain"`
}

type SerialInputConfig struct {
	Port    string `yaml:"port"`
	Baud    int    `yaml:"baud"`
	Framing string `yaml:"framing"` // "raw" or "framed"
}

type TestSweepInputConfig struct {
	MaxSpeed int `yaml:"max_speed"`
}

type ControlSection struct {
	TickMS           int     `yaml:"tick_ms"`
	FilterAlpha      float64 `yaml:"filter_alpha"`
	SpeedCoefficient float64 `yaml:"speed_coefficient"`
	SteerCoefficient float64 `yaml:"steer_coefficient"`
	MaxSlew          int     `yaml:"max_slew"`
	InvertLeft       bool    `yaml:"invert_left"`
	InvertRight      bool    `yaml:"invert_right"`
	MovingThreshold  int     `yaml:"moving_threshold"`
	StationarySpeed  int     `yaml:"stationary_speed"`

	// SlewMode is "gate" or "step". In gate mode a wheel whose target jumps
	// more than max_slew from the applied value holds until the target comes
	// back within max_slew; a full stick from rest leaves that wheel stopped.
	SlewMode string `yaml:"slew_mode"`

	TelemetryEveryTicks int `yaml:"telemetry_every_ticks"`
}

type SafetySection struct {
	Battery     BatteryConfig     `yaml:"battery"`
	Temperature TemperatureConfig `yaml:"temperature"`

	InactivityMinutes float64 `yaml:"inactivity_minutes"`
	BeepsBackward     bool    `yaml:"beeps_backward"`
	BackwardBeepLine  int     `yaml:"backward_beep_line"`
}

type BatteryConfig struct {
	Cells            int     `yaml:"cells"`
	Lvl1PerCell      float64 `yaml:"lvl1_per_cell"`
	Lvl2PerCell      float64 `yaml:"lvl2_per_cell"`
	DeadPerCell      float64 `yaml:"dead_per_cell"`
	FullVolts        float64 `yaml:"full_volts"`
	NominalCellVolts float64 `yaml:"nominal_cell_volts"`
	Lvl1Beep         bool    `yaml:"lvl1_beep"`
	Lvl2Beep         bool    `yaml:"lvl2_beep"`
}

type TemperatureConfig struct {
	CalLowADC        int     `yaml:"cal_low_adc"`
	CalLowC          float64 `yaml:"cal_low_c"`
	CalHighADC       int     `yaml:"cal_high_adc"`
	CalHighC         float64 `yaml:"cal_high_c"`
	WarningC         float64 `yaml:"warning_c"`
	PoweroffC        float64 `yaml:"poweroff_c"`
	WarningEnabled   bool    `yaml:"warning_enabled"`
	PoweroffEnabled  bool    `yaml:"poweroff_enabled"`
	UpdateEveryTicks int     `yaml:"update_every_ticks"`
}

type PowerConfig struct {
	ButtonDevices    []string `yaml:"button_devices,omitempty"`
	OffGPIOValuePath string   `yaml:"off_gpio_value_path,omitempty"`
}

type MotorConfig struct {
	CANInterface string `yaml:"can_interface,omitempty"`
	MotorFrameID uint32 `yaml:"motor_frame_id"`
	AlertFrameID uint32 `yaml:"alert_frame_id"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type TelemetryConfig struct {
	ListenAddr string     `yaml:"listen_addr"` // empty disables the HTTP/websocket server
	WSPath     string     `yaml:"ws_path"`
	MQTT       MQTTConfig `yaml:"mqtt"`
	AMQP       AMQPConfig `yaml:"amqp"`
}

type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
}

type AMQPConfig struct {
	Enabled    bool   `yaml:"enabled"`
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go.
func DefaultConfig() Config {
	return Config{
		Input: InputConfig{
			Variant:               string(InputAnalog),
			FreshnessTimeoutTicks: defaultFreshnessTimeoutTicks,
			Analog: AnalogInputConfig{
				Ch1Min:          defaultADCMin,
				Ch1Max:          defaultADCMax,
				Ch2Min:          defaultADCMin,
				Ch2Max:          defaultADCMax,
				ButtonThreshold: defaultADCButtonThreshold,
			},
			PulseWidth: PulseWidthInputConfig{
				SteerChannel:    0,
				SpeedChannel:    1,
				ButtonChannel:   defaultPulseButtonChannel,
				Center:          defaultPulseCenter,
				ButtonThreshold: defaultPulseButtonThreshold,
			},
			Motion: MotionInputConfig{
				MinX: defaultMotionAxisMin,
				MaxX: defaultMotionAxisMax,
				MinY: defaultMotionAxisMin,
				MaxY: defaultMotionAxisMax,
				Gain: defaultMotionGain,
			},
			Serial: SerialInputConfig{
				Port:    "/dev/ttyS1",
				Baud:    defaultSerialBaud,
				Framing: string(FramingRaw),
			},
			TestSweep: TestSweepInputConfig{MaxSpeed: defaultTestSweepMax},
		},
		Control: ControlSection{
			TickMS:              defaultTickMS,
			FilterAlpha:         defaultFilterAlpha,
			SpeedCoefficient:    defaultSpeedCoefficient,
			SteerCoefficient:    defaultSteerCoefficient,
			MaxSlew:             defaultMaxSlew,
			SlewMode:            string(SlewGate),
			InvertLeft:          false,
			InvertRight:         true,
			MovingThreshold:     defaultMovingThreshold,
			StationarySpeed:     defaultStationarySpeed,
			TelemetryEveryTicks: defaultTelemetryEveryTicks,
		},
		Safety: SafetySection{
			Battery: BatteryConfig{
				Cells:            defaultBatteryCells,
				Lvl1PerCell:      defaultBatteryLvl1,
				Lvl2PerCell:      defaultBatteryLvl2,
				DeadPerCell:      defaultBatteryDead,
				FullVolts:        defaultBatteryFullV,
				NominalCellVolts: defaultCellNominalV,
				Lvl1Beep:         true,
				Lvl2Beep:         true,
			},
			Temperature: TemperatureConfig{
				CalLowADC:        defaultTempCalLowADC,
				CalLowC:          defaultTempCalLowC,
				CalHighADC:       defaultTempCalHighADC,
				CalHighC:         defaultTempCalHighC,
				WarningC:         defaultTempWarningC,
				PoweroffC:        defaultTempPoweroffC,
				WarningEnabled:   true,
				PoweroffEnabled:  true,
				UpdateEveryTicks: defaultTempUpdateEveryTicks,
			},
			InactivityMinutes: defaultInactivityMinutes,
			BeepsBackward:     false,
			BackwardBeepLine:  defaultBackwardBeepLine,
		},
		Motor: MotorConfig{
			MotorFrameID: defaultMotorFrameID,
			AlertFrameID: defaultAlertFrameID,
		},
		IPC: IPCConfig{
			SocketPath: "/tmp/hoverbrainz.sock",
		},
		Telemetry: TelemetryConfig{
			ListenAddr: ":3002",
			WSPath:     "/ws",
			MQTT: MQTTConfig{
				ClientID: "hoverbrainz",
				Topic:    "hoverbrainz/telemetry",
			},
			AMQP: AMQPConfig{
				Exchange:   "hoverbrainz",
				RoutingKey: "telemetry",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of the defaults.
// Unknown fields are rejected to catch typos.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return parseConfig(b)
}

func parseConfig(b []byte) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace/comments are allowed after the document.
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// EnvOverrides are HOVER_* environment variables, applied after the file and
// before flags. Empty values are ignored.
type EnvOverrides struct {
	ConfigPath      string `env:"HOVER_CONFIG"`
	LogLevel        string `env:"HOVER_LOG_LEVEL"`
	InputVariant    string `env:"HOVER_INPUT"`
	SerialPort      string `env:"HOVER_SERIAL_PORT"`
	IPCSocket       string `env:"HOVER_IPC_SOCKET"`
	TelemetryListen string `env:"HOVER_TELEMETRY_LISTEN"`
	CANInterface    string `env:"HOVER_CAN_INTERFACE"`
	MQTTBroker      string `env:"HOVER_MQTT_BROKER"`
	AMQPURL         string `env:"HOVER_AMQP_URL"`
}

// LoadEnvOverrides reads the HOVER_* variables.
func LoadEnvOverrides() (EnvOverrides, error) {
	var o EnvOverrides
	if err := env.Parse(&o); err != nil {
		return EnvOverrides{}, fmt.Errorf("parse environment: %w", err)
	}
	return o, nil
}

// Apply merges non-empty environment values into cfg.
func (o EnvOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	if o.InputVariant != "" {
		cfg.Input.Variant = o.InputVariant
	}
	if o.SerialPort != "" {
		cfg.Input.Serial.Port = o.SerialPort
	}
	if o.IPCSocket != "" {
		cfg.IPC.SocketPath = o.IPCSocket
	}
	if o.TelemetryListen != "" {
		cfg.Telemetry.ListenAddr = o.TelemetryListen
	}
	if o.CANInterface != "" {
		cfg.Motor.CANInterface = o.CANInterface
	}
	if o.MQTTBroker != "" {
		cfg.Telemetry.MQTT.Broker = o.MQTTBroker
		cfg.Telemetry.MQTT.Enabled = true
	}
	if o.AMQPURL != "" {
		cfg.Telemetry.AMQP.URL = o.AMQPURL
		cfg.Telemetry.AMQP.Enabled = true
	}
}

// FlagOverrides carries flag values; a nil pointer means the flag was not set.
type FlagOverrides struct {
	LogLevel        *string
	InputVariant    *string
	SerialPort      *string
	IPCSocket       *string
	TelemetryListen *string
	CANInterface    *string
	PowerDevices    *string // comma-separated
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
	if o.InputVariant != nil {
		cfg.Input.Variant = *o.InputVariant
	}
	if o.SerialPort != nil {
		cfg.Input.Serial.Port = *o.SerialPort
	}
	if o.IPCSocket != nil {
		cfg.IPC.SocketPath = *o.IPCSocket
	}
	if o.TelemetryListen != nil {
		cfg.Telemetry.ListenAddr = *o.TelemetryListen
	}
	if o.CANInterface != nil {
		cfg.Motor.CANInterface = *o.CANInterface
	}
	if o.PowerDevices != nil {
		cfg.Power.ButtonDevices = splitList(*o.PowerDevices)
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the config for internal consistency.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch InputVariant(c.Input.Variant) {
	case InputAnalog, InputPulseWidth, InputMotion, InputSerial, InputTestSweep:
	default:
		add("input.variant must be one of analog, pulse_width, motion, serial, test_sweep (got %q)", c.Input.Variant)
	}
	if c.Input.FreshnessTimeoutTicks <= 0 {
		add("input.freshness_timeout_ticks must be > 0")
	}
	if c.Input.Analog.Ch1Max <= c.Input.Analog.Ch1Min || c.Input.Analog.Ch2Max <= c.Input.Analog.Ch2Min {
		add("input.analog channel max must be > min")
	}
	if c.Input.Motion.MaxX <= c.Input.Motion.MinX || c.Input.Motion.MaxY <= c.Input.Motion.MinY {
		add("input.motion axis max must be > min")
	}
	if c.Input.Motion.Gain <= 0 {
		add("input.motion.gain must be > 0")
	}
	if InputVariant(c.Input.Variant) == InputSerial {
		if c.Input.Serial.Port == "" {
			add("input.serial.port is required for the serial input")
		}
		if c.Input.Serial.Baud <= 0 {
			add("input.serial.baud must be > 0")
		}
	}
	switch SerialFraming(c.Input.Serial.Framing) {
	case FramingRaw, FramingFramed:
	default:
		add("input.serial.framing must be raw or framed (got %q)", c.Input.Serial.Framing)
	}
	if c.Input.TestSweep.MaxSpeed <= 0 || c.Input.TestSweep.MaxSpeed > commandMax {
		add("input.test_sweep.max_speed must be in 1..%d", commandMax)
	}

	if c.Control.TickMS <= 0 || c.Control.TickMS > 1000 {
		add("control.tick_ms must be between 1 and 1000")
	}
	if c.Control.FilterAlpha <= 0 || c.Control.FilterAlpha > 1 {
		add("control.filter_alpha must be in (0, 1]")
	}
	if c.Control.SpeedCoefficient < 0 || c.Control.SpeedCoefficient > maxMixerCoefficient {
		add("control.speed_coefficient must be in 0..%g", maxMixerCoefficient)
	}
	if c.Control.SteerCoefficient < 0 || c.Control.SteerCoefficient > maxMixerCoefficient {
		add("control.steer_coefficient must be in 0..%g", maxMixerCoefficient)
	}
	if c.Control.MaxSlew <= 0 {
		add("control.max_slew must be > 0")
	}
	switch SlewMode(c.Control.SlewMode) {
	case SlewGate, SlewStep:
	default:
		add("control.slew_mode must be gate or step (got %q)", c.Control.SlewMode)
	}
	if c.Control.MovingThreshold < 0 || c.Control.StationarySpeed < 0 {
		add("control speed thresholds must be >= 0")
	}
	if c.Control.TelemetryEveryTicks < 0 {
		add("control.telemetry_every_ticks must be >= 0")
	}

	b := c.Safety.Battery
	if b.Cells <= 0 {
		add("safety.battery.cells must be > 0")
	}
	if !(b.DeadPerCell < b.Lvl2PerCell && b.Lvl2PerCell < b.Lvl1PerCell) {
		add("safety.battery thresholds must satisfy dead < lvl2 < lvl1")
	}
	if b.FullVolts <= b.Lvl2PerCell*float64(b.Cells) {
		add("safety.battery.full_volts must be above lvl2 * cells")
	}
	if b.NominalCellVolts <= b.DeadPerCell {
		add("safety.battery.nominal_cell_volts must be above dead_per_cell")
	}
	t := c.Safety.Temperature
	if t.CalHighADC == t.CalLowADC {
		add("safety.temperature calibration points must differ")
	}
	if t.WarningC > t.PoweroffC {
		add("safety.temperature.warning_c must be <= poweroff_c")
	}
	if t.UpdateEveryTicks <= 0 {
		add("safety.temperature.update_every_ticks must be > 0")
	}
	if c.Safety.InactivityMinutes < 0 {
		add("safety.inactivity_minutes must be >= 0")
	}

	if c.IPC.SocketPath == "" {
		add("ipc.socket_path is required")
	}
	if c.Telemetry.ListenAddr != "" && !strings.HasPrefix(c.Telemetry.WSPath, "/") {
		add("telemetry.ws_path must start with /")
	}
	if c.Telemetry.MQTT.Enabled {
		if c.Telemetry.MQTT.Broker == "" || c.Telemetry.MQTT.Topic == "" {
			add("telemetry.mqtt requires broker and topic")
		}
		if c.Telemetry.MQTT.QoS > 2 {
			add("telemetry.mqtt.qos must be 0, 1 or 2")
		}
	}
	if c.Telemetry.AMQP.Enabled && c.Telemetry.AMQP.URL == "" {
		add("telemetry.amqp.url is required when enabled")
	}
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		add("logging.format must be text or json (got %q)", c.Logging.Format)
	}

	return errors.Join(errs...)
}

// ToControlConfig converts the validated file config into the engine config.
func (c Config) ToControlConfig() (ControlConfig, error) {
	adapter, err := NewInputAdapter(c.Input)
	if err != nil {
		return ControlConfig{}, err
	}

	tick := time.Duration(c.Control.TickMS) * time.Millisecond
	b := c.Safety.Battery
	t := c.Safety.Temperature

	return ControlConfig{
		Input:       adapter,
		TickPeriod:  tick,
		FilterAlpha: c.Control.FilterAlpha,
		Mixer: MixerConfig{
			SpeedCoefficient: c.Control.SpeedCoefficient,
			SteerCoefficient: c.Control.SteerCoefficient,
		},
		MaxSlew:               c.Control.MaxSlew,
		SlewMode:              SlewMode(c.Control.SlewMode),
		InvertLeft:            c.Control.InvertLeft,
		InvertRight:           c.Control.InvertRight,
		FreshnessTimeoutTicks: uint32(c.Input.FreshnessTimeoutTicks),
		MovingThreshold:       c.Control.MovingThreshold,
		InactivityLimitTicks:  InactivityLimitTicks(c.Safety.InactivityMinutes, c.Control.TickMS),
		Safety: SafetyConfig{
			Cells:           b.Cells,
			Lvl1PerCell:     b.Lvl1PerCell,
			Lvl2PerCell:     b.Lvl2PerCell,
			DeadPerCell:     b.DeadPerCell,
			FullVolts:       b.FullVolts,
			Lvl1BeepEnabled: b.Lvl1Beep,
			Lvl2BeepEnabled: b.Lvl2Beep,
			WarningC:        t.WarningC,
			PoweroffC:       t.PoweroffC,
			WarningEnabled:  t.WarningEnabled,
			PoweroffEnabled: t.PoweroffEnabled,
			StationarySpeed: float64(c.Control.StationarySpeed),
		},
		Alerts: AlertConfig{
			Lvl1BeepEnabled: b.Lvl1Beep,
			Lvl2BeepEnabled: b.Lvl2Beep,
			BeepsBackward:   c.Safety.BeepsBackward,
		},
		BackwardBeepLine: float64(c.Safety.BackwardBeepLine),
		Temperature: TemperatureCalibration{
			LowADC:  float64(t.CalLowADC),
			LowC:    t.CalLowC,
			HighADC: float64(t.CalHighADC),
			HighC:   t.CalHighC,
		},
		TempUpdateEveryTicks: uint64(t.UpdateEveryTicks),
		TelemetryEveryTicks:  uint64(c.Control.TelemetryEveryTicks),
		NominalCellVolts:     b.NominalCellVolts,
		Cues:                 NewCueSet(tick),
	}, nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
