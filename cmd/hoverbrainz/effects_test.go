package main

import (
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/brutella/can"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recorder is a fake for every hardware collaborator. It logs calls in order.
type recorder struct {
	mu       sync.Mutex
	calls    []string
	drives   []CmdDriveMotors
	alerts   []AlertCode
	cuts     int
	driveErr error
}

func (r *recorder) Drive(left, right int, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "drive")
	r.drives = append(r.drives, CmdDriveMotors{Left: left, Right: right, Enabled: enabled})
	return r.driveErr
}

func (r *recorder) SetAlert(a AlertCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "alert")
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *recorder) CutPower() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "cut")
	r.cuts++
	return nil
}

func (r *recorder) snapshot() (calls []string, drives []CmdDriveMotors, alerts []AlertCode, cuts int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...), append([]CmdDriveMotors(nil), r.drives...), append([]AlertCode(nil), r.alerts...), r.cuts
}

func fakeHardware(r *recorder) *Hardware {
	return &Hardware{Motors: r, Buzzer: r, Power: r, Sleep: func(time.Duration) {}}
}

func TestRunEffect_PowerOffSequence(t *testing.T) {
	r := &recorder{}
	var events []Event
	runEffect(fakeHardware(r), CmdPowerOff{Reason: ReasonInactivity}, discardLogger(), func(ev Event) {
		events = append(events, ev)
	})

	calls, drives, alerts, cuts := r.snapshot()
	if cuts != 1 {
		t.Fatalf("expected one power cut, got %d", cuts)
	}
	if calls[0] != "drive" || drives[0].Enabled {
		t.Fatalf("motors must be disabled first, got %v %v", calls, drives)
	}
	if calls[len(calls)-1] != "cut" {
		t.Fatalf("power must be cut last, got %v", calls)
	}
	// Tones 0..7, then silence.
	if len(alerts) != shutdownChimeTop+2 {
		t.Fatalf("chime: got %v", alerts)
	}
	for i := 0; i <= shutdownChimeTop; i++ {
		if alerts[i].Tone != uint8(i) {
			t.Fatalf("chime step %d: got %s", i, alerts[i])
		}
	}
	if alerts[len(alerts)-1] != AlertSilent {
		t.Fatalf("chime must end silent, got %s", alerts[len(alerts)-1])
	}

	if len(events) != 1 {
		t.Fatalf("expected PowerCut event, got %v", events)
	}
	if pc, ok := events[0].(PowerCut); !ok || pc.Reason != ReasonInactivity {
		t.Fatalf("got %#v", events[0])
	}
}

func TestRunEffect_DriveFailureReported(t *testing.T) {
	r := &recorder{driveErr: errors.New("bus off")}
	var got []Event
	runEffect(fakeHardware(r), CmdDriveMotors{Left: 10, Right: 10, Enabled: true}, discardLogger(), func(ev Event) {
		got = append(got, ev)
	})
	if len(got) != 1 {
		t.Fatalf("expected CommandFailed, got %v", got)
	}
	cf, ok := got[0].(CommandFailed)
	if !ok || cf.Err == nil {
		t.Fatalf("got %#v", got[0])
	}
}

func TestRunEffect_NilHardware(t *testing.T) {
	var got []Event
	runEffect(nil, CmdSetAlert{}, discardLogger(), func(ev Event) { got = append(got, ev) })
	if len(got) != 1 {
		t.Fatalf("expected CommandFailed, got %v", got)
	}
	if cf := got[0].(CommandFailed); !errors.Is(cf.Err, errNoHardware) {
		t.Fatalf("got %v", cf.Err)
	}
}

func TestRunEffect_SnapshotReplyDoesNotBlock(t *testing.T) {
	reply := make(chan StateSnapshot) // unbuffered, nobody reading
	runEffect(fakeHardware(&recorder{}), CmdPublishStateSnapshot{Reply: reply}, discardLogger(), nil)
}

func TestPlayStartupChime(t *testing.T) {
	r := &recorder{}
	playStartupChime(fakeHardware(r), discardLogger())
	_, _, alerts, _ := r.snapshot()
	if len(alerts) != startupChimeHigh+2 {
		t.Fatalf("got %v", alerts)
	}
	if alerts[0].Tone != startupChimeHigh || alerts[startupChimeHigh].Tone != 0 {
		t.Fatalf("startup chime must fall from %d to 0, got %v", startupChimeHigh, alerts)
	}
}

type fakeCANBus struct {
	frames []can.Frame
}

func (b *fakeCANBus) Publish(f can.Frame) error {
	b.frames = append(b.frames, f)
	return nil
}

func TestCANMotorDriver_Frames(t *testing.T) {
	bus := &fakeCANBus{}
	drv := &canMotorDriver{bus: bus, motorID: defaultMotorFrameID, alertID: defaultAlertFrameID}

	if err := drv.Drive(-1000, 500, true); err != nil {
		t.Fatalf("Drive: %v", err)
	}
	if err := drv.SetAlert(AlertCode{Tone: 5, Pattern: 42}); err != nil {
		t.Fatalf("SetAlert: %v", err)
	}
	if len(bus.frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(bus.frames))
	}

	m := bus.frames[0]
	if m.ID != defaultMotorFrameID || m.Length != 5 {
		t.Fatalf("motor frame header: id=%#x len=%d", m.ID, m.Length)
	}
	if l := int16(binary.LittleEndian.Uint16(m.Data[0:])); l != -1000 {
		t.Fatalf("left: got %d", l)
	}
	if r := int16(binary.LittleEndian.Uint16(m.Data[2:])); r != 500 {
		t.Fatalf("right: got %d", r)
	}
	if m.Data[4] != 1 {
		t.Fatalf("enable byte: got %d", m.Data[4])
	}

	a := bus.frames[1]
	if a.ID != defaultAlertFrameID || a.Length != 2 || a.Data[0] != 5 || a.Data[1] != 42 {
		t.Fatalf("alert frame: %+v", a)
	}
}

func TestMotorFrame_ClampsOutOfRange(t *testing.T) {
	f := motorFrame(defaultMotorFrameID, 5000, -5000, false)
	if l := int16(binary.LittleEndian.Uint16(f.Data[0:])); l != commandMax {
		t.Fatalf("left: got %d", l)
	}
	if r := int16(binary.LittleEndian.Uint16(f.Data[2:])); r != commandMin {
		t.Fatalf("right: got %d", r)
	}
	if f.Data[4] != 0 {
		t.Fatalf("enable byte: got %d", f.Data[4])
	}
}

func TestGPIOPowerSwitch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "value")
	if err := os.WriteFile(path, []byte("1"), 0o644); err != nil {
		t.Fatal(err)
	}
	sw := newPowerSwitch(PowerConfig{OffGPIOValuePath: path}, discardLogger())
	if err := sw.CutPower(); err != nil {
		t.Fatalf("CutPower: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "0" {
		t.Fatalf("value file: got %q, want \"0\"", b)
	}
}

func TestPowerButtonEvent(t *testing.T) {
	tests := []struct {
		ev   inputEvent
		want PowerButtonChanged
		ok   bool
	}{
		{inputEvent{Type: evKey, Code: keyPower, Value: keyPress}, PowerButtonChanged{Pressed: true}, true},
		{inputEvent{Type: evKey, Code: keyPower, Value: keyRelease}, PowerButtonChanged{Pressed: false}, true},
		{inputEvent{Type: evKey, Code: keyPower, Value: 2}, PowerButtonChanged{}, false},
		{inputEvent{Type: evKey, Code: 115, Value: keyPress}, PowerButtonChanged{}, false},
		{inputEvent{Type: 0x02, Code: keyPower, Value: keyPress}, PowerButtonChanged{}, false},
	}
	for _, tt := range tests {
		got, ok := powerButtonEvent(tt.ev)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("powerButtonEvent(%+v): got %v,%v want %v,%v", tt.ev, got, ok, tt.want, tt.ok)
		}
	}
}
