package infra

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crownarena/server/internal/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Channel separates the lobby connection from the per-battle connection of a
// session. A session holds at most one connection per channel.
type Channel string

const (
	ChannelWorld  Channel = "world"
	ChannelBattle Channel = "battle"
)

// WSConfig tunes connection pumps.
type WSConfig struct {
	WriteWait       time.Duration
	PongWait        time.Duration
	MaxMessageBytes int64
	SendBuffer      int
}

func (c WSConfig) pingPeriod() time.Duration { return c.PongWait * 9 / 10 }

// WSConfigFrom derives pump settings from the app config.
func WSConfigFrom(cfg *Config) WSConfig {
	return WSConfig{
		WriteWait:       cfg.WriteWait,
		PongWait:        cfg.PongWait,
		MaxMessageBytes: cfg.MaxMessageBytes,
		SendBuffer:      256,
	}
}

// ConnHub tracks live WebSocket connections and delivers encoded frames.
type ConnHub struct {
	mu     sync.RWMutex
	conns  map[Channel]map[string]*Conn // channel -> sessionID -> conn
	cfg    WSConfig
	logger *slog.Logger
}

// Conn is one upgraded WebSocket connection.
type Conn struct {
	ID        string
	SessionID string
	Channel   Channel

	ws        *websocket.Conn
	hub       *ConnHub
	send      chan []byte
	closing   chan closeFrame
	done      chan struct{}
	closeOnce sync.Once
	replaced  atomic.Bool
}

type closeFrame struct {
	code   int
	reason string
}

// NewConnHub creates an empty connection hub.
func NewConnHub(cfg WSConfig, logger *slog.Logger) *ConnHub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	return &ConnHub{
		conns: map[Channel]map[string]*Conn{
			ChannelWorld:  {},
			ChannelBattle: {},
		},
		cfg:    cfg,
		logger: logger.With("component", "ws"),
	}
}

// Register binds ws to sessionID on ch. An existing connection for the same
// session and channel is closed and replaced.
func (h *ConnHub) Register(ch Channel, sessionID string, ws *websocket.Conn) *Conn {
	c := &Conn{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Channel:   ch,
		ws:        ws,
		hub:       h,
		send:      make(chan []byte, h.cfg.SendBuffer),
		closing:   make(chan closeFrame, 1),
		done:      make(chan struct{}),
	}

	h.mu.Lock()
	old := h.conns[ch][sessionID]
	h.conns[ch][sessionID] = c
	h.mu.Unlock()

	if old != nil {
		old.replaced.Store(true)
		old.Close(websocket.CloseNormalClosure, "replaced by a newer connection")
	}
	return c
}

// Unregister forgets c unless it has already been replaced.
func (h *ConnHub) Unregister(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[c.Channel][c.SessionID] == c {
		delete(h.conns[c.Channel], c.SessionID)
	}
}

// Send encodes a message and queues it for sessionID on ch. A connection
// whose buffer is full is closed rather than allowed to stall the sender.
func (h *ConnHub) Send(ch Channel, sessionID, msgType string, data any) {
	frame, err := protocol.Encode(msgType, data)
	if err != nil {
		h.logger.Error("ws encode error", "error", err, "type", msgType)
		return
	}

	h.mu.RLock()
	c := h.conns[ch][sessionID]
	h.mu.RUnlock()
	if c == nil {
		return
	}

	select {
	case c.send <- frame:
	case <-c.done:
	default:
		h.logger.Warn("ws send buffer full, closing", "conn_id", c.ID, "session_id", sessionID, "channel", ch)
		c.Close(protocol.CloseInternal, "send buffer overflow")
	}
}

// Disconnect closes the session's connection on ch with a close code.
func (h *ConnHub) Disconnect(ch Channel, sessionID string, code int, reason string) {
	h.mu.RLock()
	c := h.conns[ch][sessionID]
	h.mu.RUnlock()
	if c != nil {
		c.Close(code, reason)
	}
}

// Count returns the number of live connections on ch.
func (h *ConnHub) Count(ch Channel) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[ch])
}

// Shutdown closes every connection with a going-away frame.
func (h *ConnHub) Shutdown(_ context.Context) {
	h.mu.Lock()
	var all []*Conn
	for _, conns := range h.conns {
		for id, c := range conns {
			all = append(all, c)
			delete(conns, id)
		}
	}
	h.mu.Unlock()

	for _, c := range all {
		c.Close(websocket.CloseGoingAway, "server shutting down")
	}
}

// ChannelSender delivers to one channel of the hub. It satisfies both the
// world notifier and the battle sender.
type ChannelSender struct {
	hub *ConnHub
	ch  Channel
}

// Sender returns a sender bound to ch.
func (h *ConnHub) Sender(ch Channel) ChannelSender {
	return ChannelSender{hub: h, ch: ch}
}

func (s ChannelSender) Send(sessionID, msgType string, data any) {
	s.hub.Send(s.ch, sessionID, msgType, data)
}

func (s ChannelSender) Disconnect(sessionID string, code int, reason string) {
	s.hub.Disconnect(s.ch, sessionID, code, reason)
}

// Close asks the write pump to send a close frame and hang up. Safe to call
// more than once and from any goroutine.
func (c *Conn) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closing <- closeFrame{code: code, reason: reason}
		close(c.done)
	})
}

// Replaced reports whether a newer connection took over this one's session.
func (c *Conn) Replaced() bool { return c.replaced.Load() }

// Reject closes a connection that never got pumps, e.g. after a failed
// handshake check.
func Reject(ws *websocket.Conn, code int, reason string, writeWait time.Duration) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = ws.Close()
}

// Done is closed once Close has been called.
func (c *Conn) Done() <-chan struct{} { return c.done }

// ReadPump reads frames until the peer goes away or the connection is closed,
// handing each text frame to handle. It unregisters the connection on return.
func (c *Conn) ReadPump(handle func(frame []byte)) error {
	defer c.hub.Unregister(c)
	defer c.Close(websocket.CloseNormalClosure, "")

	cfg := c.hub.cfg
	c.ws.SetReadLimit(cfg.MaxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	for {
		msgType, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return err
			}
			return nil
		}
		if msgType != websocket.TextMessage {
			continue
		}
		handle(frame)
	}
}

// WritePump drains the send buffer, keeps the peer alive with pings and
// writes the close frame when asked to close.
func (c *Conn) WritePump() {
	cfg := c.hub.cfg
	ticker := time.NewTicker(cfg.pingPeriod())
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.Close(protocol.CloseInternal, "write failed")
				return
			}
		case cf := <-c.closing:
			c.flush(cfg)
			msg := websocket.FormatCloseMessage(cf.code, cf.reason)
			err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(cfg.WriteWait))
			if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				c.hub.logger.Debug("ws close frame failed", "conn_id", c.ID, "error", err)
			}
			return
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close(protocol.CloseInternal, "ping failed")
				return
			}
		}
	}
}

// flush writes frames queued before the close so final messages such as
// battle_ended still reach the client.
func (c *Conn) flush(cfg WSConfig) {
	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}
