// Package server coordinates client registration, frame delivery, and
// connection cleanup for ChatNet WebSocket connections via the Hub type.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatnet/internal/chat"
)

// Hub owns the live WebSocket clients, keyed by connection id, and is the
// chat.Transport the Router delivers frames through.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	dispatcher Dispatcher
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	log        *slog.Logger
}

// NewHub creates a Hub. attach must be called before Run.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		log:        log,
	}
}

func (h *Hub) attach(d Dispatcher) {
	h.dispatcher = d
}

// ClientCount returns the number of attached clients.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("Recovered from panic in safeSend", "connection", client.id, "panic", r)
		}
	}()

	// The read lock is held across the enqueue so that remove cannot close
	// the channel underneath it.
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	_, exists := h.clients[client.id]
	if !exists || client.closed {
		return false
	}

	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// Send enqueues frame for connectionID without blocking. A client whose
// buffer is full is disconnected.
func (h *Hub) Send(connectionID string, frame []byte) error {
	h.mutex.RLock()
	client, ok := h.clients[connectionID]
	h.mutex.RUnlock()
	if !ok {
		return fmt.Errorf("%w: connection %s is not attached", chat.ErrTransport, connectionID)
	}

	if !h.safeSend(client, frame) {
		h.log.Warn("Send buffer full, disconnecting client", "connection", connectionID, "addr", client.addr)
		go h.Disconnect(connectionID)
		return fmt.Errorf("%w: connection %s cannot accept frames", chat.ErrTransport, connectionID)
	}
	return nil
}

// Disconnect sends a close frame to connectionID and closes its socket. The
// read pump then unregisters the client.
func (h *Hub) Disconnect(connectionID string) {
	h.mutex.RLock()
	client, ok := h.clients[connectionID]
	h.mutex.RUnlock()
	if !ok || client.conn == nil {
		return
	}

	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "disconnected by server")
	if err := client.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil && !isExpectedCloseError(err) {
		h.log.Debug("Error writing close frame", "connection", connectionID, "error", err)
	}
	if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
		h.log.Warn("Error closing client connection", "connection", connectionID, "error", err)
	}
}

// Run starts the hub's main event loop, handling client registration and
// unregistration. It returns once Shutdown is called.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.log.Warn("Received nil client registration; skipping")
				continue
			}

			h.mutex.Lock()
			client.closed = false
			h.clients[client.id] = client
			clientCount := len(h.clients)
			h.mutex.Unlock()
			h.log.Info("Client registered",
				"connection", client.id,
				"addr", client.addr,
				"verified", client.verified != nil,
				"clients", clientCount)

			h.dispatcher.Open(client.id, client.verified)

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

		case client := <-h.unregister:
			h.remove(client)
		}
	}
}

// remove detaches client, closes its send queue and reports the close to the
// dispatcher. Calling it twice is a no-op.
func (h *Hub) remove(client *Client) {
	h.mutex.Lock()
	if _, ok := h.clients[client.id]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client.id)
	client.closed = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	close(client.send)
	h.log.Info("Client unregistered", "connection", client.id, "addr", client.addr, "clients", clientCount)

	h.dispatcher.Close(client.id)
}

// admit hands a freshly upgraded client to the run loop. It reports false
// once the hub is shutting down.
func (h *Hub) admit(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// release hands client to the run loop, or removes it directly once the loop
// has stopped.
func (h *Hub) release(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
		h.remove(client)
	}
}

// shutdownClients gracefully closes all active client connections
func (h *Hub) shutdownClients() {
	h.log.Info("Shutting down all client connections")

	h.mutex.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.RUnlock()

	for _, client := range clients {
		if client.conn == nil {
			continue
		}
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		_ = client.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
			h.log.Warn("Error closing client connection", "addr", client.addr, "error", err)
		}
	}

	h.log.Info("Closed client connections", "count", len(clients))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("Initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		h.log.Warn("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
