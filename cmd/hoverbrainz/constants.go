package main

// ============================================================================
// Defaults
// ============================================================================
// These mirror the stock board configuration. DefaultConfig() is built from
// them; everything is overridable from the YAML file.
// ============================================================================

const (
	// Loop cadence
	defaultTickMS = 5

	// Command range shared by every stage of the pipeline
	commandMin = -1000
	commandMax = 1000

	// Filter and mixer
	defaultFilterAlpha      = 0.1
	defaultSpeedCoefficient = 0.5
	defaultSteerCoefficient = 0.5
	maxMixerCoefficient     = 10.0

	// Output gating
	defaultMaxSlew               = 50
	defaultFreshnessTimeoutTicks = 5

	// Speed thresholds (command units)
	defaultMovingThreshold  = 50 // inactivity reset, wheel target magnitude
	defaultStationarySpeed  = 20 // critical shutdown and reverse toggle guard
	defaultBackwardBeepLine = 50 // backward beep when speed < -this

	// Analog input
	defaultADCMin             = 0
	defaultADCMax             = 4095
	defaultADCButtonThreshold = 2000

	// Pulse-width input
	defaultPulseCenter          = 500
	defaultPulseButtonChannel   = 5
	defaultPulseButtonThreshold = 500

	// Motion controller input
	defaultMotionAxisMin = 0
	defaultMotionAxisMax = 255
	defaultMotionGain    = 8

	// Test sweep
	defaultTestSweepMax = 300

	// Battery (per-cell volts)
	defaultBatteryCells   = 10
	defaultBatteryLvl1    = 3.6
	defaultBatteryLvl2    = 3.5
	defaultBatteryDead    = 3.37
	defaultBatteryFullV   = 42.0
	defaultCellNominalV   = 4.0
	defaultTempWarningC   = 60.0
	defaultTempPoweroffC  = 65.0
	defaultTempCalLowADC  = 1655
	defaultTempCalLowC    = 35.8
	defaultTempCalHighADC = 1588
	defaultTempCalHighC   = 48.9

	// Housekeeping cadence (ticks)
	defaultTempUpdateEveryTicks = 25
	defaultTelemetryEveryTicks  = 25

	defaultInactivityMinutes = 8.0

	// Temperature filter weights
	tempFilterKeep = 0.99
	tempFilterNew  = 0.01

	// Speed bar on the telemetry frame
	speedBarDivisor  = 62
	speedBarMaxBlock = 16

	// Tones
	toneThermalWarning = 4
	toneBattery        = 5
	toneHorn           = 7
	toneCue            = 5
	patternThermal     = 1
	patternBatteryLvl1 = 42
	patternBatteryLvl2 = 6
	patternBackward    = 1

	cueShortMS = 100
	cueLongMS  = 400

	// Startup chime runs tones 8..0, shutdown chime 0..7
	chimeStepMS      = 100
	startupChimeHigh = 8
	shutdownChimeTop = 7

	// Linux evdev
	evKey      = 0x01
	keyPower   = 116
	keyRelease = 0
	keyPress   = 1

	// CAN frame identifiers for the motor controller bus
	defaultMotorFrameID = 0x100
	defaultAlertFrameID = 0x101

	// Serial framing
	serialStartWord   = 0xABCD
	defaultSerialBaud = 115200
)
