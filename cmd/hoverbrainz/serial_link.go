package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goburrow/serial"
)

// SerialFraming selects the wire format of the serial command link.
type SerialFraming string

const (
	// FramingRaw is back-to-back 4-byte records: int16 steer, int16 speed (LE).
	FramingRaw SerialFraming = "raw"
	// FramingFramed prefixes each record with 0xABCD and appends an XOR checksum.
	FramingFramed SerialFraming = "framed"
)

const (
	rawRecordLen    = 4
	framedRecordLen = 8
	serialReadSize  = 64
)

// serialDecoder turns a byte stream into SerialSamples. It keeps a partial
// record between calls to Feed.
type serialDecoder struct {
	framing SerialFraming
	buf     []byte

	// Dropped counts bytes discarded while resynchronizing.
	Dropped int
}

func newSerialDecoder(framing SerialFraming) *serialDecoder {
	return &serialDecoder{framing: framing}
}

func serialChecksum(steer, speed int16) uint16 {
	return serialStartWord ^ uint16(steer) ^ uint16(speed)
}

// encodeSerialRecord is the inverse of the decoder; hover-ctl style tools and
// tests use it to produce wire records.
func encodeSerialRecord(framing SerialFraming, s SerialSample) []byte {
	if framing == FramingFramed {
		b := make([]byte, framedRecordLen)
		binary.LittleEndian.PutUint16(b[0:], serialStartWord)
		binary.LittleEndian.PutUint16(b[2:], uint16(s.Steer))
		binary.LittleEndian.PutUint16(b[4:], uint16(s.Speed))
		binary.LittleEndian.PutUint16(b[6:], serialChecksum(s.Steer, s.Speed))
		return b
	}
	b := make([]byte, rawRecordLen)
	binary.LittleEndian.PutUint16(b[0:], uint16(s.Steer))
	binary.LittleEndian.PutUint16(b[2:], uint16(s.Speed))
	return b
}

// Feed appends p and returns every complete record now available.
func (d *serialDecoder) Feed(p []byte) []SerialSample {
	d.buf = append(d.buf, p...)

	var out []SerialSample
	if d.framing != FramingFramed {
		for len(d.buf) >= rawRecordLen {
			out = append(out, SerialSample{
				Steer: int16(binary.LittleEndian.Uint16(d.buf[0:])),
				Speed: int16(binary.LittleEndian.Uint16(d.buf[2:])),
			})
			d.buf = d.buf[rawRecordLen:]
		}
		d.compact()
		return out
	}

	for len(d.buf) >= framedRecordLen {
		if binary.LittleEndian.Uint16(d.buf[0:]) != serialStartWord {
			d.buf = d.buf[1:]
			d.Dropped++
			continue
		}
		steer := int16(binary.LittleEndian.Uint16(d.buf[2:]))
		speed := int16(binary.LittleEndian.Uint16(d.buf[4:]))
		if binary.LittleEndian.Uint16(d.buf[6:]) != serialChecksum(steer, speed) {
			d.buf = d.buf[1:]
			d.Dropped++
			continue
		}
		out = append(out, SerialSample{Steer: steer, Speed: speed})
		d.buf = d.buf[framedRecordLen:]
	}
	d.compact()
	return out
}

// compact keeps the backing array from growing without bound.
func (d *serialDecoder) compact() {
	if len(d.buf) == 0 {
		d.buf = d.buf[:0:0]
		return
	}
	rest := make([]byte, len(d.buf))
	copy(rest, d.buf)
	d.buf = rest
}

// runSerialLink reads command records from the serial port and publishes the
// latest one per read as a SerialSample event. It returns nil on ctx cancel.
func runSerialLink(ctx context.Context, cfg SerialInputConfig, events chan<- Event, logger *slog.Logger) error {
	port, err := serial.Open(&serial.Config{
		Address:  ExpandPath(cfg.Port),
		BaudRate: cfg.Baud,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  100 * time.Millisecond,
	})
	if err != nil {
		return fmt.Errorf("open serial port %s: %w", cfg.Port, err)
	}

	go func() {
		<-ctx.Done()
		_ = port.Close()
	}()

	logger.Info("serial link open", "port", cfg.Port, "baud", cfg.Baud, "framing", cfg.Framing)

	dec := newSerialDecoder(SerialFraming(cfg.Framing))
	buf := make([]byte, serialReadSize)
	for {
		n, err := port.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, serial.ErrTimeout) {
				continue
			}
			return fmt.Errorf("read serial port %s: %w", cfg.Port, err)
		}

		recs := dec.Feed(buf[:n])
		if len(recs) == 0 {
			continue
		}
		// Only the most recent record matters to the loop.
		select {
		case events <- recs[len(recs)-1]:
		case <-ctx.Done():
			return nil
		}
	}
}
