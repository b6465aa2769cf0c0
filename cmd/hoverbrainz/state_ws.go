package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ============================================================================
// Telemetry WebSocket: hub + per-client pumps + broadcaster
// ============================================================================
//
// Observers (a dashboard, the telemetry_listen tool) connect over websocket.
//   - LoopState stays daemon-owned; the snapshot on connect goes through the
//     reducer (RequestStateSnapshot).
//   - Frames originate from reducer broadcasts.
//   - Slow clients are disconnected when their send buffer fills.
//   - Messages are JSON text frames with an envelope: {type, ts, data}.
// ============================================================================

// wsSafetyChangedData is the JSON `data` payload for "safety_changed".
type wsSafetyChangedData struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// wsReverseChangedData is the JSON `data` payload for "reverse_changed".
type wsReverseChangedData struct {
	Reverse bool `json:"reverse"`
}

// wsShutdownData is the JSON `data` payload for "shutdown".
type wsShutdownData struct {
	Reason string `json:"reason"`
}

// wsStateInitData is the JSON `data` payload for "state_init".
type wsStateInitData struct {
	Telemetry      TelemetryFrame `json:"telemetry"`
	Halted         bool           `json:"halted"`
	Reason         string         `json:"reason,omitempty"`
	HaltedAt       *time.Time     `json:"halted_at,omitempty"`
	FailedCommands uint64         `json:"failed_commands"`
}

// outboundEvent is a pre-typed, externally-consumable state event.
type outboundEvent struct {
	Type string
	Data any
	At   time.Time
}

// envelope is the wire format envelope for observer messages.
type envelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

const (
	outTelemetry      = "telemetry"
	outSafetyChanged  = "safety_changed"
	outReverseChanged = "reverse_changed"
	outShutdown       = "shutdown"
	outStateInit      = "state_init"
)

// convertBroadcast maps a reducer broadcast onto its wire event.
func convertBroadcast(b StateBroadcast) (outboundEvent, bool) {
	switch ev := b.(type) {
	case BroadcastTelemetry:
		return outboundEvent{Type: outTelemetry, Data: ev.Frame, At: ev.At}, true
	case BroadcastSafetyChanged:
		return outboundEvent{
			Type: outSafetyChanged,
			Data: wsSafetyChangedData{From: ev.From.String(), To: ev.To.String()},
			At:   ev.At,
		}, true
	case BroadcastReverseChanged:
		return outboundEvent{Type: outReverseChanged, Data: wsReverseChangedData{Reverse: ev.Reverse}, At: ev.At}, true
	case BroadcastShutdown:
		return outboundEvent{Type: outShutdown, Data: wsShutdownData{Reason: ev.Reason.String()}, At: ev.At}, true
	default:
		return outboundEvent{}, false
	}
}

// marshal renders the event in its envelope.
func (ev outboundEvent) marshal() ([]byte, error) {
	ts := ev.At
	if ts.IsZero() {
		ts = time.Now()
	}
	ts = ts.UTC()
	return json.Marshal(envelope{Type: ev.Type, Ts: &ts, Data: ev.Data})
}

// ============================================================================
// Hub
// ============================================================================

type Hub struct {
	logger *slog.Logger

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.Mutex
	clients map[*Client]struct{}

	sendBuf int
}

type HubConfig struct {
	// SendBuf is the per-client outbound queue size (default 32).
	SendBuf int
	// BroadcastBuf is the hub inbound queue size (default 128).
	BroadcastBuf int
}

// NewHub constructs a hub. Call Run(ctx) to start it.
func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	sendBuf := cfg.SendBuf
	if sendBuf <= 0 {
		sendBuf = 32
	}
	bcastBuf := cfg.BroadcastBuf
	if bcastBuf <= 0 {
		bcastBuf = 128
	}

	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, bcastBuf),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		clients:    make(map[*Client]struct{}),
		sendBuf:    sendBuf,
	}
}

// Run processes hub events until ctx is canceled, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("telemetry client connected", "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.removeClient(c, "unregister")

		case msg := <-h.broadcast:
			var slow []*Client

			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()

			for _, c := range slow {
				h.removeClient(c, "slow_client")
			}
		}
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.closeSend()
		delete(h.clients, c)
	}
}

func (h *Hub) removeClient(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.closeSend()
	h.logger.Info("telemetry client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
}

// BroadcastBytes enqueues a serialized frame. It never blocks; when the hub
// queue is full the frame is dropped.
func (h *Hub) BroadcastBytes(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("telemetry hub queue full, dropping frame", "bytes", len(msg))
	}
}

// ============================================================================
// Client
// ============================================================================

type Client struct {
	hub *Hub

	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once

	remoteAddr string
	logger     *slog.Logger
}

// NewClient creates a client with a buffered send channel.
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string, logger *slog.Logger) *Client {
	sendBuf := 32
	if hub != nil && hub.sendBuf > 0 {
		sendBuf = hub.sendBuf
	}
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBuf),
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

// telemetryCoalesceWindow is the latest-wins window for telemetry frames.
const telemetryCoalesceWindow = 100 * time.Millisecond

func closeStatus(err error) (code int, text string, ok bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

func (c *Client) logPumpExit(pump string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	if code, text, ok := closeStatus(err); ok {
		c.logger.Debug("telemetry "+pump+" exiting (close)", "remote_addr", c.remoteAddr, "code", code, "reason", text)
		return
	}
	c.logger.Debug("telemetry "+pump+" exiting", "remote_addr", c.remoteAddr, "error", err)
}

// writePump writes queued frames and pings until send is closed or a write fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logPumpExit("writePump", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logPumpExit("writePump", err)
				return
			}
		}
	}
}

// readPump discards inbound messages to service control frames, and
// unregisters the client on error.
func (c *Client) readPump() {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.logPumpExit("readPump", err)
			if c.hub != nil {
				c.hub.unregister <- c
			}
			return
		}
	}
}

// ============================================================================
// HTTP handler
// ============================================================================

type TelemetryServer struct {
	logger *slog.Logger
	hub    *Hub
	events chan<- Event
}

// NewTelemetryServer constructs the hub and handler. Register it on a mux,
// then run Hub().Run and RunBroadcaster.
func NewTelemetryServer(logger *slog.Logger, events chan<- Event, cfg HubConfig) *TelemetryServer {
	return &TelemetryServer{
		logger: logger,
		hub:    NewHub(logger, cfg),
		events: events,
	}
}

func (s *TelemetryServer) Hub() *Hub { return s.hub }

// Register registers the websocket handler on the provided mux.
func (s *TelemetryServer) Register(mux *http.ServeMux, path string) {
	if mux == nil {
		return
	}
	mux.HandleFunc(path, s.handleWS)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// requestSnapshot round-trips a RequestStateSnapshot through the daemon.
func requestSnapshot(ctx context.Context, events chan<- Event) (StateSnapshot, error) {
	reply := make(chan StateSnapshot, 1)
	select {
	case <-ctx.Done():
		return StateSnapshot{}, ctx.Err()
	case events <- RequestStateSnapshot{Reply: reply}:
	}

	if _, has := ctx.Deadline(); !has {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Second)
		defer cancel()
	}

	select {
	case <-ctx.Done():
		return StateSnapshot{}, ctx.Err()
	case snap := <-reply:
		return snap, nil
	}
}

func snapshotEvent(snap StateSnapshot) outboundEvent {
	data := wsStateInitData{
		Telemetry:      snap.Telemetry,
		Halted:         snap.Halted,
		FailedCommands: snap.FailedCommands,
	}
	if snap.Halted {
		data.Reason = snap.Reason.String()
		at := snap.HaltedAt
		data.HaltedAt = &at
	}
	return outboundEvent{Type: outStateInit, Data: data}
}

// handleWS upgrades, registers the client and sends state_init.
func (s *TelemetryServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("telemetry upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, r.RemoteAddr, s.logger)
	s.hub.register <- client

	// Pump lifetime is tied to the connection, not to the request context,
	// which net/http cancels when this handler returns.
	go client.writePump()
	go client.readPump()

	if s.events == nil {
		return
	}

	snap, err := requestSnapshot(r.Context(), s.events)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn("telemetry snapshot request failed", "error", err)
		}
		return
	}

	msg, err := snapshotEvent(snap).marshal()
	if err != nil {
		s.logger.Warn("telemetry snapshot marshal failed", "error", err)
		return
	}
	select {
	case client.send <- msg:
	default:
		s.hub.unregister <- client
	}
}

// ============================================================================
// Broadcaster
// ============================================================================

// RunBroadcaster marshals reducer broadcasts and fans them out to the hub.
// Telemetry frames are coalesced latest-wins within telemetryCoalesceWindow;
// state changes are sent immediately, after any pending frame.
func RunBroadcaster(ctx context.Context, hub *Hub, src <-chan StateBroadcast, logger *slog.Logger) {
	if hub == nil || src == nil {
		return
	}

	var pending *outboundEvent
	var timer *time.Timer
	var timerC <-chan time.Time

	send := func(ev outboundEvent) {
		msg, err := ev.marshal()
		if err != nil {
			logger.Warn("telemetry marshal failed", "error", err, "type", ev.Type)
			return
		}
		hub.BroadcastBytes(msg)
	}

	flush := func() {
		if pending != nil {
			send(*pending)
			pending = nil
		}
	}

	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = nil
		timerC = nil
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			stopTimer()
			return

		case <-timerC:
			flush()
			stopTimer()

		case b, ok := <-src:
			if !ok {
				flush()
				stopTimer()
				return
			}
			ev, ok := convertBroadcast(b)
			if !ok {
				continue
			}
			if ev.Type == outTelemetry {
				copyEv := ev
				pending = &copyEv
				if timer == nil {
					timer = time.NewTimer(telemetryCoalesceWindow)
					timerC = timer.C
				}
				continue
			}
			flush()
			stopTimer()
			send(ev)
		}
	}
}
