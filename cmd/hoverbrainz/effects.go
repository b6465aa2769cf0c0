package main

import (
	"errors"
	"log/slog"
	"time"
)

// MotorDriver accepts physical wheel values in [-1000, 1000].
type MotorDriver interface {
	Drive(left, right int, enabled bool) error
}

// Buzzer renders an AlertCode.
type Buzzer interface {
	SetAlert(a AlertCode) error
}

// PowerSwitch cuts the board power rail.
type PowerSwitch interface {
	CutPower() error
}

// Hardware bundles the external collaborators the effects layer drives.
type Hardware struct {
	Motors MotorDriver
	Buzzer Buzzer
	Power  PowerSwitch

	// Sleep paces the chimes; nil means time.Sleep.
	Sleep func(time.Duration)
}

var (
	errNoHardware     = errors.New("no hardware configured")
	errUnknownCommand = errors.New("unknown command")
)

func (hw *Hardware) sleep(d time.Duration) {
	if hw.Sleep != nil {
		hw.Sleep(d)
		return
	}
	time.Sleep(d)
}

// runEffect executes a single reducer-emitted Command and reports failures via
// onEvent (which may be nil).
//
// This is the only place that touches hardware. It never calls Reduce.
func runEffect(hw *Hardware, cmd Command, logger *slog.Logger, onEvent func(Event)) {
	emit := func(ev Event) {
		if onEvent != nil {
			onEvent(ev)
		}
	}
	fail := func(err error) {
		emit(CommandFailed{Command: cmd, Err: err, At: time.Now()})
	}

	if hw == nil {
		fail(errNoHardware)
		return
	}

	switch c := cmd.(type) {
	case CmdDriveMotors:
		if err := hw.Motors.Drive(c.Left, c.Right, c.Enabled); err != nil {
			logger.Error("motor drive failed", "error", err, "left", c.Left, "right", c.Right)
			fail(err)
		}

	case CmdSetAlert:
		if err := hw.Buzzer.SetAlert(c.Alert); err != nil {
			logger.Warn("buzzer update failed", "error", err, "alert", c.Alert.String())
			fail(err)
		}

	case CmdPowerOff:
		logger.Error("shutting down", "reason", c.Reason.String())
		if err := runShutdownSequence(hw, logger); err != nil {
			logger.Error("power cut failed", "error", err)
			fail(err)
			return
		}
		emit(PowerCut{Reason: c.Reason, At: time.Now()})

	case CmdPublishStateSnapshot:
		if c.Reply == nil {
			logger.Warn("state snapshot requested with nil reply channel")
			return
		}
		select {
		case c.Reply <- c.Snapshot:
		default:
			logger.Warn("state snapshot reply channel not ready; dropping snapshot")
		}

	default:
		logger.Warn("unknown command type", "command", cmd.String())
		fail(errUnknownCommand)
	}
}

// runShutdownSequence de-energizes the motors, plays the falling chime and
// cuts power. Buzzer errors do not stop the sequence.
func runShutdownSequence(hw *Hardware, logger *slog.Logger) error {
	if err := hw.Motors.Drive(0, 0, false); err != nil {
		logger.Error("motor disable failed", "error", err)
	}
	for tone := 0; tone <= shutdownChimeTop; tone++ {
		if err := hw.Buzzer.SetAlert(AlertCode{Tone: uint8(tone)}); err != nil {
			logger.Debug("chime tone failed", "tone", tone, "error", err)
		}
		hw.sleep(chimeStepMS * time.Millisecond)
	}
	_ = hw.Buzzer.SetAlert(AlertSilent)
	return hw.Power.CutPower()
}

// playStartupChime plays tones 8 down to 0 before the motors are enabled.
func playStartupChime(hw *Hardware, logger *slog.Logger) {
	for tone := startupChimeHigh; tone >= 0; tone-- {
		if err := hw.Buzzer.SetAlert(AlertCode{Tone: uint8(tone)}); err != nil {
			logger.Warn("startup chime failed", "error", err)
			return
		}
		hw.sleep(chimeStepMS * time.Millisecond)
	}
	_ = hw.Buzzer.SetAlert(AlertSilent)
}

// ----------------------------------------------------------------------------
// Log-only collaborators, used when no bus or GPIO is configured.
// ----------------------------------------------------------------------------

type logMotorDriver struct{ logger *slog.Logger }

func (d logMotorDriver) Drive(left, right int, enabled bool) error {
	d.logger.Debug("motors", "left", left, "right", right, "enabled", enabled)
	return nil
}

type logBuzzer struct{ logger *slog.Logger }

func (b logBuzzer) SetAlert(a AlertCode) error {
	b.logger.Debug("buzzer", "tone", a.Tone, "pattern", a.Pattern)
	return nil
}

type logPowerSwitch struct{ logger *slog.Logger }

func (p logPowerSwitch) CutPower() error {
	p.logger.Warn("power cut requested (no power switch configured)")
	return nil
}
