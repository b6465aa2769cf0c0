package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// telemetry_listen connects to the hoverbrainz telemetry websocket and prints
// every frame, one line per event.

type envelope struct {
	Type string          `json:"type"`
	Ts   time.Time       `json:"ts"`
	Data json.RawMessage `json:"data"`
}

type telemetryData struct {
	Tick           uint64  `json:"tick"`
	BatteryVolts   float64 `json:"battery_volts"`
	BatteryPercent float64 `json:"battery_percent"`
	TempC          float64 `json:"temp_c"`
	TempKnown      bool    `json:"temp_known"`
	Reverse        bool    `json:"reverse"`
	Fresh          bool    `json:"fresh"`
	Safety         string  `json:"safety"`
	SpeedBar       int     `json:"speed_bar"`
	Applied        struct {
		Left  int `json:"left"`
		Right int `json:"right"`
	} `json:"applied"`
}

func main() {
	var (
		wsURL = flag.String("ws", "ws://127.0.0.1:3002/ws", "hoverbrainz telemetry websocket URL")
		raw   = flag.Bool("raw", false, "Print frames as received")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()
	log.Printf("connected! (press Ctrl+C to exit)")

	var writeMu sync.Mutex

	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()
	go func() {
		for range pingTicker.C {
			writeMu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				log.Printf("ping failed: %v", err)
				return
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			// Frames arrive at least every telemetry period; keep the deadline moving.
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			if messageType != websocket.TextMessage {
				continue
			}
			if *raw {
				fmt.Println(string(message))
				continue
			}
			fmt.Println(formatFrame(message))
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

// formatFrame renders one envelope as a single human-readable line.
func formatFrame(message []byte) string {
	var env envelope
	if err := json.Unmarshal(message, &env); err != nil {
		return "[TEXT] " + string(message)
	}
	ts := env.Ts.Local().Format("15:04:05.000")

	switch env.Type {
	case "telemetry":
		var t telemetryData
		if err := json.Unmarshal(env.Data, &t); err != nil {
			break
		}
		temp := "--.-"
		if t.TempKnown {
			temp = fmt.Sprintf("%.1f", t.TempC)
		}
		dir := "FWD"
		if t.Reverse {
			dir = "REV"
		}
		stale := ""
		if !t.Fresh {
			stale = " STALE"
		}
		return fmt.Sprintf("%s [TELEMETRY] #%d L=%d R=%d %s bat=%.2fV (%.0f%%) temp=%sC safety=%s bar=%d%s",
			ts, t.Tick, t.Applied.Left, t.Applied.Right, dir, t.BatteryVolts, t.BatteryPercent, temp, t.Safety, t.SpeedBar, stale)

	case "safety_changed":
		var s struct{ From, To string }
		if err := json.Unmarshal(env.Data, &s); err == nil {
			return fmt.Sprintf("%s [SAFETY] %s -> %s", ts, s.From, s.To)
		}

	case "shutdown":
		var s struct{ Reason string }
		if err := json.Unmarshal(env.Data, &s); err == nil {
			return fmt.Sprintf("%s [SHUTDOWN] %s", ts, s.Reason)
		}
	}

	return fmt.Sprintf("%s [%s] %s", ts, env.Type, string(env.Data))
}
