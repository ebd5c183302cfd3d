// Package server manages individual WebSocket connections: read and write
// pumps, per-connection rate limiting and event dispatch.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/companychat/internal/chat"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 256
	eventTimeout   = 10 * time.Second
)

// eventHandler processes one inbound envelope on the client's reader
// goroutine.
type eventHandler interface {
	handleEvent(ctx context.Context, c *Client, env chat.Envelope)
}

// Client represents a WebSocket client connection in the chat system.
// The hub owns send and closed; the reader goroutine owns identity.
type Client struct {
	id       string
	identity chat.Identity
	conn     *websocket.Conn
	send     chan []byte
	hub      *Hub
	events   eventHandler
	addr     string
	closed   bool
	log      *slog.Logger

	// initialRoom is joined as part of registration.
	initialRoom string
	// authenticated identities cannot be replaced by join-room.
	authenticated bool

	roomMu sync.RWMutex
	room   string

	maxMessageSize int64
	rateLimiter    *rate.Limiter
	rateLimit      RateLimitConfig
}

// NewClient creates a new Client instance with the provided WebSocket connection,
// hub reference, client address and display identity. The client's send
// channel is buffered to handle message queuing.
func NewClient(conn *websocket.Conn, hub *Hub, addr string, identity chat.Identity) *Client {
	return newClient(uuid.NewString(), conn, hub, addr, identity)
}

func newClient(id string, conn *websocket.Conn, hub *Hub, addr string, identity chat.Identity) *Client {
	cfg := currentConfig()
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	log := slog.Default()
	if hub != nil {
		log = hub.log
	}

	return &Client{
		id:             id,
		identity:       identity,
		conn:           conn,
		send:           make(chan []byte, sendBufferSize),
		hub:            hub,
		addr:           addr,
		log:            log.With("conn_id", id, "addr", addr),
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		rateLimit:      cfg.RateLimit,
	}
}

// ID returns the connection id used in presence snapshots.
func (c *Client) ID() string {
	return c.id
}

// GetSendChan returns the client's send channel for reading outgoing messages.
// This channel is read-only from the caller's perspective.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

// Room returns the room the client is currently in.
func (c *Client) Room() string {
	c.roomMu.RLock()
	defer c.roomMu.RUnlock()
	return c.room
}

func (c *Client) setRoom(roomID string) {
	c.roomMu.Lock()
	c.room = roomID
	c.roomMu.Unlock()
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Error("Error setting initial read deadline", "error", err.Error())
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.Error("Error setting read deadline in pong handler", "error", err.Error())
		}
		return nil
	})
}

// handleReadError logs appropriate error messages based on the error type
// and returns true if the read loop should break
func (c *Client) handleReadError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, websocket.ErrReadLimit) {
		c.log.Warn("Message exceeded maximum size", "max_bytes", c.maxMessageSize)
		return true
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		c.log.Info("Client disconnected", "reason", err.Error())
		return true
	}

	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		c.log.Info("Client connection closed", "reason", err.Error())
		return true
	}

	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig) {
		c.log.Warn("Unexpected WebSocket error", "error", err.Error())
		return true
	}

	c.log.Warn("WebSocket read error", "error", err.Error())
	return true
}

// checkRateLimit verifies if the client has exceeded rate limits
// and returns true if the message should be processed
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.Allow() {
		c.log.Warn("Rate limit exceeded; discarding message",
			"burst", c.rateLimit.Burst, "interval", c.rateLimit.RefillInterval)
		if c.hub != nil {
			c.hub.metrics.EventRejected("rate_limited")
		}
		return false
	}
	return true
}

// processMessage splits a frame into envelopes and dispatches each in order.
// It returns false if any envelope could not be decoded.
func (c *Client) processMessage(frame []byte) bool {
	ok := true
	for _, raw := range bytes.Split(frame, []byte{'\n'}) {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			continue
		}
		var env chat.Envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
			c.log.Warn("Invalid frame", "frame", string(raw))
			c.sendError("", chat.ErrValidation, "", "")
			ok = false
			continue
		}
		c.dispatch(env)
	}
	return ok
}

func (c *Client) dispatch(env chat.Envelope) {
	if c.events == nil {
		c.log.Debug("No event handler; dropping event", "event", env.Event)
		return
	}
	parent := context.Background()
	if c.hub != nil {
		parent = c.hub.ctx
	}
	ctx, cancel := context.WithTimeout(parent, eventTimeout)
	defer cancel()
	c.events.handleEvent(ctx, c, env)
}

// sendError reports a rejected event to this connection only.
func (c *Client) sendError(event string, err error, clientToken, messageID string) {
	if c.hub == nil {
		return
	}
	c.hub.Unicast(c.id, chat.EventError, chat.ErrorPayload{
		Event:       event,
		Code:        chat.CodeOf(err),
		Message:     err.Error(),
		ClientToken: clientToken,
		MessageID:   messageID,
	})
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Error("Error closing connection in readPump", "error", err.Error())
		}
	}()

	c.setupReadConnection()

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if err != nil {
			if c.handleReadError(err) {
				break
			}
		}

		if !c.checkRateLimit() {
			continue
		}

		c.processMessage(rawMessage)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Error("Error closing connection in writePump", "error", err.Error())
	}
}

// handleMessage processes outgoing messages and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Error("Error setting write deadline", "error", err.Error())
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	return c.writeTextMessage(message)
}

func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
		c.log.Error("Error writing close message", "error", err.Error())
	}
	return false
}

// writeTextMessage writes a frame and any queued frames, one envelope per line.
func (c *Client) writeTextMessage(message []byte) bool {
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		c.log.Error("Error creating writer", "error", err.Error())
		return false
	}

	if _, err := w.Write(message); err != nil {
		c.log.Error("Error writing message", "error", err.Error())
		return false
	}

	n := len(c.send)
	for i := 0; i < n; i++ {
		queued, ok := <-c.send
		if !ok {
			break
		}
		if _, err := w.Write([]byte{'\n'}); err != nil {
			c.log.Error("Error writing newline", "error", err.Error())
			return false
		}
		if _, err := w.Write(queued); err != nil {
			c.log.Error("Error writing queued message", "error", err.Error())
			return false
		}
	}

	if err := w.Close(); err != nil {
		c.log.Error("Error closing writer", "error", err.Error())
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Error("Error setting write deadline for ping", "error", err.Error())
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.Error("Error writing ping message", "error", err.Error())
		return false
	}
	return true
}
