// Package server defines inbound payload types and helpers shared by the
// client and hub logic.
package server

import (
	"strings"

	"github.com/Tyrowin/chatnet/internal/chat"
)

// sendMessagePayload is the data of an inbound send_message event. Any
// sender fields a client adds are ignored; the sender is the bound identity.
type sendMessagePayload struct {
	Content string `json:"content"`
}

// typingPayload is the data of an inbound typing event.
type typingPayload struct {
	IsTyping bool `json:"isTyping"`
}

// createMessageRequest is the body of POST /api/chat/messages.
type createMessageRequest struct {
	Content string `json:"content" validate:"required"`
}

// Dispatcher receives the connection lifecycle and chat events decoded by
// the transport. *chat.Router implements it.
type Dispatcher interface {
	Open(connectionID string, verified *chat.Identity)
	ClaimIdentity(connectionID string, claim chat.Identity) error
	Message(connectionID, content string) (chat.Message, error)
	Typing(connectionID string, isTyping bool) error
	Close(connectionID string)
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
