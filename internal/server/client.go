// Package server manages individual WebSocket clients: read and write pumps,
// envelope decoding, rate limiting and error frames for each connection.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatnet/internal/chat"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

// Client is one WebSocket connection. Its read pump decodes envelopes and
// hands them to the hub's dispatcher; its write pump drains the send queue.
type Client struct {
	id             string
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	addr           string
	closed         bool
	verified       *chat.Identity
	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig
	log            *slog.Logger
}

// NewClient wraps conn with a fresh connection id. verified is the identity
// proven by the credential presented at upgrade time, or nil.
func NewClient(conn *websocket.Conn, hub *Hub, addr string, verified *chat.Identity, cfg Config) *Client {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	id := uuid.NewString()

	return &Client{
		id:             id,
		conn:           conn,
		send:           make(chan []byte, sendBuffer),
		hub:            hub,
		addr:           addr,
		verified:       verified,
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		rateLimit:      cfg.RateLimit,
		log:            hub.log.With("connection", id, "addr", addr),
	}
}

// ID returns the connection id the client is known by.
func (c *Client) ID() string {
	return c.id
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn("Error setting initial read deadline", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.Warn("Error setting read deadline in pong handler", "error", err)
		}
		return nil
	})
}

// handleReadError logs the read failure at a level matching how expected it is.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("Message exceeded maximum size", "limit", c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Info("Client disconnected", "reason", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Info("Client connection closed", "reason", err)
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.log.Warn("Unexpected WebSocket close", "error", err)
	default:
		c.log.Warn("WebSocket read error", "error", err)
	}
}

// checkRateLimit reports whether the next inbound frame may be processed.
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.log.Warn("Rate limit exceeded; discarding message",
			"burst", c.rateLimit.Burst,
			"interval", c.rateLimit.RefillInterval)
		return false
	}
	return true
}

// processMessage decodes one envelope and dispatches it. Failures are
// reported to this client only.
func (c *Client) processMessage(rawMessage []byte) {
	var envelope chat.Envelope
	if err := json.Unmarshal(rawMessage, &envelope); err != nil || envelope.Event == "" {
		c.log.Debug("Invalid envelope", "error", err)
		c.reportError("", fmt.Errorf("%w: malformed envelope", chat.ErrValidation))
		return
	}

	if err := c.dispatch(envelope); err != nil {
		c.log.Debug("Event rejected", "event", envelope.Event, "error", err)
		c.reportError(envelope.Event, err)
	}
}

func (c *Client) dispatch(envelope chat.Envelope) error {
	d := c.hub.dispatcher

	switch envelope.Event {
	case chat.EventUserConnected:
		var claim chat.Identity
		if err := decodeData(envelope.Data, &claim); err != nil {
			return err
		}
		return d.ClaimIdentity(c.id, claim)

	case chat.EventSendMessage:
		var payload sendMessagePayload
		if err := decodeData(envelope.Data, &payload); err != nil {
			return err
		}
		_, err := d.Message(c.id, payload.Content)
		return err

	case chat.EventTyping:
		var payload typingPayload
		if err := decodeData(envelope.Data, &payload); err != nil {
			return err
		}
		return d.Typing(c.id, payload.IsTyping)

	default:
		return fmt.Errorf("%w: unknown event %q", chat.ErrValidation, envelope.Event)
	}
}

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", chat.ErrValidation)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", chat.ErrValidation, err)
	}
	return nil
}

func (c *Client) reportError(event string, err error) {
	frame, encodeErr := chat.Encode(chat.EventError, chat.ErrorPayload{Event: event, Error: err.Error()})
	if encodeErr != nil {
		c.log.Error("Failed to encode error frame", "error", encodeErr)
		return
	}
	if sendErr := c.hub.Send(c.id, frame); sendErr != nil {
		c.log.Debug("Error frame not delivered", "error", sendErr)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.release(c)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Warn("Error closing connection in readPump", "error", err)
		}
	}()

	c.setupReadConnection()

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
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
		c.log.Warn("Error closing connection in writePump", "error", err)
	}
}

// handleMessage writes one frame and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn("Error setting write deadline", "error", err)
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("Error writing message", "error", err)
		}
		return false
	}
	return true
}

func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
		c.log.Debug("Error writing close message", "error", err)
	}
	return false
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn("Error setting write deadline for ping", "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.Warn("Error writing ping message", "error", err)
		return false
	}
	return true
}
