package main

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/brutella/can"
)

// canPublisher is the subset of *can.Bus the driver needs.
type canPublisher interface {
	Publish(frame can.Frame) error
}

// canMotorDriver sends wheel commands and alert codes to the motor
// controllers over SocketCAN.
//
// Motor frame (5 bytes): int16 left LE, int16 right LE, enable byte.
// Alert frame (2 bytes): tone, pattern.
type canMotorDriver struct {
	bus     canPublisher
	motorID uint32
	alertID uint32
}

// packFrame creates a CAN frame with the given ID and data
func packFrame(id uint32, data []byte) can.Frame {
	var frameData [8]byte
	copy(frameData[:], data)
	return can.Frame{
		ID:     id,
		Length: uint8(len(data)),
		Data:   frameData,
	}
}

func boolToByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func motorFrame(id uint32, left, right int, enabled bool) can.Frame {
	data := make([]byte, 5)
	binary.LittleEndian.PutUint16(data[0:], uint16(int16(clampInt(left, commandMin, commandMax))))
	binary.LittleEndian.PutUint16(data[2:], uint16(int16(clampInt(right, commandMin, commandMax))))
	data[4] = boolToByte(enabled)
	return packFrame(id, data)
}

func (d *canMotorDriver) Drive(left, right int, enabled bool) error {
	if err := d.bus.Publish(motorFrame(d.motorID, left, right, enabled)); err != nil {
		return fmt.Errorf("publish motor frame: %w", err)
	}
	return nil
}

func (d *canMotorDriver) SetAlert(a AlertCode) error {
	if err := d.bus.Publish(packFrame(d.alertID, []byte{a.Tone, a.Pattern})); err != nil {
		return fmt.Errorf("publish alert frame: %w", err)
	}
	return nil
}

// openCANBus connects to a SocketCAN interface and starts its read loop.
// The returned close function disconnects the bus.
func openCANBus(iface string, logger *slog.Logger) (*can.Bus, func(), error) {
	bus, err := can.NewBusForInterfaceWithName(iface)
	if err != nil {
		return nil, nil, fmt.Errorf("open CAN interface %s: %w", iface, err)
	}

	go func() {
		if err := bus.ConnectAndPublish(); err != nil {
			logger.Debug("CAN bus read loop ended", "interface", iface, "error", err)
		}
	}()

	logger.Info("CAN bus connected", "interface", iface)
	return bus, func() { _ = bus.Disconnect() }, nil
}

// newHardware builds the motor/buzzer side: CAN when an interface is
// configured, log-only otherwise.
func newHardware(cfg Config, logger *slog.Logger) (*Hardware, func(), error) {
	hw := &Hardware{Power: newPowerSwitch(cfg.Power, logger)}

	if cfg.Motor.CANInterface == "" {
		hw.Motors = logMotorDriver{logger: logger}
		hw.Buzzer = logBuzzer{logger: logger}
		return hw, func() {}, nil
	}

	bus, closeBus, err := openCANBus(cfg.Motor.CANInterface, logger)
	if err != nil {
		return nil, nil, err
	}
	drv := &canMotorDriver{bus: bus, motorID: cfg.Motor.MotorFrameID, alertID: cfg.Motor.AlertFrameID}
	hw.Motors = drv
	hw.Buzzer = drv
	return hw, closeBus, nil
}
