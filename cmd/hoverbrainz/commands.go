package main

import (
	"fmt"
	"time"
)

// ==============================
// Commands (side effects)
// ==============================

// Command represents an external side effect to be executed by the daemon loop:
// motor driver writes, buzzer updates and the power-off sequence.
type Command interface {
	commandMarker()
	String() string
}

// CmdDriveMotors writes physical (sign-corrected) wheel values.
type CmdDriveMotors struct {
	Left    int
	Right   int
	Enabled bool
}

func (CmdDriveMotors) commandMarker() {}
func (c CmdDriveMotors) String() string {
	return fmt.Sprintf("CmdDriveMotors(left=%d, right=%d, enabled=%v)", c.Left, c.Right, c.Enabled)
}

// CmdSetAlert updates the buzzer. Emitted only when the code changes.
type CmdSetAlert struct {
	Alert AlertCode
}

func (CmdSetAlert) commandMarker() {}
func (c CmdSetAlert) String() string {
	return fmt.Sprintf("CmdSetAlert(%s)", c.Alert)
}

// CmdPowerOff runs the terminal shutdown sequence.
type CmdPowerOff struct {
	Reason ShutdownReason
}

func (CmdPowerOff) commandMarker() {}
func (c CmdPowerOff) String() string {
	return fmt.Sprintf("CmdPowerOff(reason=%s)", c.Reason)
}

// CmdPublishStateSnapshot delivers a reducer-built snapshot to a requester.
type CmdPublishStateSnapshot struct {
	Reply    chan<- StateSnapshot
	Snapshot StateSnapshot
}

func (CmdPublishStateSnapshot) commandMarker() {}
func (CmdPublishStateSnapshot) String() string { return "CmdPublishStateSnapshot()" }

// ==============================
// Broadcasts (observer fan-out)
// ==============================

// StateBroadcast is a reducer-emitted notification for observers (websocket,
// MQTT, AMQP). Broadcasts never feed back into the reducer.
type StateBroadcast interface {
	broadcastMarker()
}

// BroadcastTelemetry is the periodic telemetry frame.
type BroadcastTelemetry struct {
	Frame TelemetryFrame
	At    time.Time
}

// BroadcastSafetyChanged is emitted when the interlock level changes.
type BroadcastSafetyChanged struct {
	From SafetyState
	To   SafetyState
	At   time.Time
}

// BroadcastReverseChanged is emitted when reverse mode toggles.
type BroadcastReverseChanged struct {
	Reverse bool
	At      time.Time
}

// BroadcastShutdown is emitted once, when the loop halts.
type BroadcastShutdown struct {
	Reason ShutdownReason
	At     time.Time
}

func (BroadcastTelemetry) broadcastMarker()      {}
func (BroadcastSafetyChanged) broadcastMarker()  {}
func (BroadcastReverseChanged) broadcastMarker() {}
func (BroadcastShutdown) broadcastMarker()       {}
