package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

// ============================================================================
// hover-ctl - Command-line IPC Client
// ============================================================================
// Injects events into a running hoverbrainz daemon. Useful on the bench
// when no real input, battery monitor or power button is attached.
//
// Usage:
//   hover-ctl analog 2047 3000
//   hover-ctl battery 35.2
//   hover-ctl power press
//   hover-ctl reverse
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/hoverbrainz.sock)
//   -timeout DUR    Dial and response timeout (default: 2s)
// ============================================================================

// Wire payloads (duplicated from the daemon for a standalone binary)

type analogSample struct {
	Ch1 uint16 `json:"ch1"`
	Ch2 uint16 `json:"ch2"`
}

type pulseWidthSample struct {
	Channels []uint16 `json:"channels"`
}

type motionSample struct {
	Packet [6]byte `json:"packet"`
}

type serialSample struct {
	Steer int16 `json:"steer"`
	Speed int16 `json:"speed"`
}

type batterySampled struct {
	Volts float64 `json:"volts"`
}

type boardTemperatureSampled struct {
	ADC uint16 `json:"adc"`
}

type fieldWeakeningObserved struct {
	Left  int `json:"left"`
	Right int `json:"right"`
}

type powerButtonChanged struct {
	Pressed bool `json:"pressed"`
}

// EventEnvelope wraps events for JSON
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// IPCResponse represents the daemon's response
type IPCResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func main() {
	fs := flag.NewFlagSet("hover-ctl", flag.ExitOnError)
	socketPath := fs.String("socket", "/tmp/hoverbrainz.sock", "Unix domain socket path")
	timeout := fs.Duration("timeout", 2*time.Second, "Dial and response timeout")
	fs.Usage = printUsage
	_ = fs.Parse(os.Args[1:])

	args := fs.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}
	if args[0] == "help" {
		printUsage()
		return
	}

	env, err := buildEnvelope(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		printUsage()
		os.Exit(1)
	}

	if err := sendEnvelope(*socketPath, env, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("ok")
}

// buildEnvelope turns a command line into a wire event.
func buildEnvelope(args []string) (EventEnvelope, error) {
	cmd, rest := args[0], args[1:]

	need := func(n int, usage string) error {
		if len(rest) < n {
			return fmt.Errorf("%s requires %s", cmd, usage)
		}
		return nil
	}

	switch cmd {
	case "analog":
		if err := need(2, "<ch1> <ch2>"); err != nil {
			return EventEnvelope{}, err
		}
		ch1, err := parseUint16(rest[0])
		if err != nil {
			return EventEnvelope{}, err
		}
		ch2, err := parseUint16(rest[1])
		if err != nil {
			return EventEnvelope{}, err
		}
		return envelopeOf("analog_sample", analogSample{Ch1: ch1, Ch2: ch2})

	case "pulse":
		if err := need(1, "at least one channel"); err != nil {
			return EventEnvelope{}, err
		}
		s := pulseWidthSample{}
		for _, a := range rest {
			v, err := parseUint16(a)
			if err != nil {
				return EventEnvelope{}, err
			}
			s.Channels = append(s.Channels, v)
		}
		return envelopeOf("pulse_width_sample", s)

	case "motion":
		if err := need(2, "<x> <y> [buttons]"); err != nil {
			return EventEnvelope{}, err
		}
		// Buttons are active-low; 3 means both released.
		fields := []string{rest[0], rest[1], "0", "0", "0", "3"}
		if len(rest) > 2 {
			fields[5] = rest[2]
		}
		var s motionSample
		for i, f := range fields {
			v, err := strconv.ParseUint(f, 0, 8)
			if err != nil {
				return EventEnvelope{}, fmt.Errorf("invalid byte %q: %w", f, err)
			}
			s.Packet[i] = byte(v)
		}
		return envelopeOf("motion_sample", s)

	case "serial":
		if err := need(2, "<steer> <speed>"); err != nil {
			return EventEnvelope{}, err
		}
		steer, err := strconv.ParseInt(rest[0], 10, 16)
		if err != nil {
			return EventEnvelope{}, fmt.Errorf("invalid steer: %w", err)
		}
		speed, err := strconv.ParseInt(rest[1], 10, 16)
		if err != nil {
			return EventEnvelope{}, fmt.Errorf("invalid speed: %w", err)
		}
		return envelopeOf("serial_sample", serialSample{Steer: int16(steer), Speed: int16(speed)})

	case "battery":
		if err := need(1, "<volts>"); err != nil {
			return EventEnvelope{}, err
		}
		v, err := strconv.ParseFloat(rest[0], 64)
		if err != nil {
			return EventEnvelope{}, fmt.Errorf("invalid volts: %w", err)
		}
		return envelopeOf("battery_sampled", batterySampled{Volts: v})

	case "temp":
		if err := need(1, "<adc>"); err != nil {
			return EventEnvelope{}, err
		}
		adc, err := parseUint16(rest[0])
		if err != nil {
			return EventEnvelope{}, err
		}
		return envelopeOf("board_temperature_sampled", boardTemperatureSampled{ADC: adc})

	case "field-weakening", "fw":
		if err := need(2, "<left> <right>"); err != nil {
			return EventEnvelope{}, err
		}
		l, err := strconv.Atoi(rest[0])
		if err != nil {
			return EventEnvelope{}, fmt.Errorf("invalid left: %w", err)
		}
		r, err := strconv.Atoi(rest[1])
		if err != nil {
			return EventEnvelope{}, fmt.Errorf("invalid right: %w", err)
		}
		return envelopeOf("field_weakening_observed", fieldWeakeningObserved{Left: l, Right: r})

	case "power":
		if err := need(1, "press|release"); err != nil {
			return EventEnvelope{}, err
		}
		switch rest[0] {
		case "press":
			return envelopeOf("power_button_changed", powerButtonChanged{Pressed: true})
		case "release":
			return envelopeOf("power_button_changed", powerButtonChanged{Pressed: false})
		default:
			return EventEnvelope{}, fmt.Errorf("power expects press or release, got %q", rest[0])
		}

	case "reverse":
		return EventEnvelope{Type: "toggle_reverse"}, nil

	default:
		return EventEnvelope{}, fmt.Errorf("unknown command: %s", cmd)
	}
}

func parseUint16(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q: %w", s, err)
	}
	return uint16(v), nil
}

func envelopeOf(typ string, data any) (EventEnvelope, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return EventEnvelope{}, fmt.Errorf("marshal %s: %w", typ, err)
	}
	return EventEnvelope{Type: typ, Data: b}, nil
}

func sendEnvelope(socketPath string, env EventEnvelope, timeout time.Duration) error {
	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// Line-delimited JSON
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return fmt.Errorf("send event: %w", err)
	}

	var response IPCResponse
	if err := json.NewDecoder(conn).Decode(&response); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if response.Status == "error" {
		return fmt.Errorf("daemon error: %s", response.Error)
	}
	return nil
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `hover-ctl - Inject events into the hoverbrainz daemon via IPC

Usage:
  hover-ctl [options] <command> [args]

Options:
  -socket PATH    Unix domain socket path (default: /tmp/hoverbrainz.sock)
  -timeout DUR    Dial and response timeout (default: 2s)

Commands:
  analog <ch1> <ch2>             Dual-analog ADC sample (0..4095)
  pulse <ch0> [ch1 ...]          Receiver channels (500 = centered)
  motion <x> <y> [buttons]       Motion controller axes and active-low button byte
  serial <steer> <speed>         Pre-normalized serial command
  battery <volts>                Pack voltage
  temp <adc>                     Raw board temperature ADC value
  field-weakening, fw <l> <r>    Motor driver auxiliary outputs
  power press|release            Power button edge
  reverse                        Request a reverse-mode toggle
  help                           Show this help message

Examples:
  hover-ctl analog 2047 2047
  hover-ctl battery 33.0
  hover-ctl -socket /run/hoverbrainz.sock power press
`)
}
