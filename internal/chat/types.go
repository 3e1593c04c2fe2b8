//go:generate go run go.uber.org/mock/mockgen -source=types.go -destination=mocks/mock_collaborators.go -package=mocks
package chat

import (
	"encoding/json"
	"time"
)

// Event names exchanged with clients. They are part of the client contract.
const (
	EventUserConnected = "user_connected"
	EventSendMessage   = "send_message"
	EventTyping        = "typing"

	EventActiveUsers = "active_users"
	EventNewMessage  = "new_message"
	EventUserTyping  = "user_typing"
	EventError       = "error"
)

// Identity is a verified or claimed (userId, nickname) pair.
type Identity struct {
	UserID   string `json:"userId" validate:"required,max=128"`
	Nickname string `json:"nickname" validate:"required,max=64"`
}

// Connection is one live transport session bound to an identity.
type Connection struct {
	ID       string `json:"socketId"`
	UserID   string `json:"userId"`
	Nickname string `json:"nickname"`
}

// RosterEntry is the per-user view of the connections bound to one userId.
type RosterEntry struct {
	UserID          string `json:"userId"`
	Nickname        string `json:"nickname"`
	ConnectionCount int    `json:"connectionCount"`
	SocketID        string `json:"socketId"`
}

// Message is a chat message stamped by the server.
type Message struct {
	ID             string    `json:"id"`
	SenderID       string    `json:"senderId"`
	SenderNickname string    `json:"senderNickname"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
}

// Typing is the payload of a user_typing event.
type Typing struct {
	UserID   string `json:"userId"`
	Nickname string `json:"nickname"`
	IsTyping bool   `json:"isTyping"`
}

// ErrorPayload is sent to a single connection when one of its events is rejected.
type ErrorPayload struct {
	Event string `json:"event,omitempty"`
	Error string `json:"error"`
}

// Envelope is the frame format used in both directions on the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Transport delivers encoded frames to individual connections.
type Transport interface {
	// Send enqueues frame for connectionID. It must not block.
	Send(connectionID string, frame []byte) error
	// Disconnect closes the transport for connectionID. The transport reports
	// the closure back through Router.Close, never from within Disconnect.
	Disconnect(connectionID string)
}

// Ledger receives usage events produced by the router.
type Ledger interface {
	Ensure(userID, nickname string)
	RecordLogin(userID string)
	RecordLogout(userID string)
	RecordMessage(userID string)
}

// MessageSink persists stamped messages.
type MessageSink interface {
	Save(msg Message) error
}

// Encode builds a wire frame for event with payload as its data.
func Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}
