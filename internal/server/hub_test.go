package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chatnet/internal/chat"
)

type recordedCall struct {
	kind     string
	claim    chat.Identity
	content  string
	isTyping bool
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []recordedCall
	err   error
}

func (d *fakeDispatcher) record(call recordedCall) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call)
	return d.err
}

func (d *fakeDispatcher) Open(string, *chat.Identity) { _ = d.record(recordedCall{kind: "open"}) }
func (d *fakeDispatcher) Close(string)                { _ = d.record(recordedCall{kind: "close"}) }

func (d *fakeDispatcher) ClaimIdentity(_ string, claim chat.Identity) error {
	return d.record(recordedCall{kind: "claim", claim: claim})
}

func (d *fakeDispatcher) Message(_ string, content string) (chat.Message, error) {
	return chat.Message{}, d.record(recordedCall{kind: "message", content: content})
}

func (d *fakeDispatcher) Typing(_ string, isTyping bool) error {
	return d.record(recordedCall{kind: "typing", isTyping: isTyping})
}

func newTestHub(t *testing.T, d Dispatcher) *Hub {
	t.Helper()
	h := NewHub(slog.New(slog.DiscardHandler))
	h.attach(d)
	return h
}

// attachClient registers a socketless client directly, bypassing the run loop.
func attachClient(h *Hub, id string, buffer int) *Client {
	c := &Client{id: id, send: make(chan []byte, buffer), hub: h, addr: "test", log: h.log}
	h.mutex.Lock()
	h.clients[id] = c
	h.mutex.Unlock()
	return c
}

func TestHubSend(t *testing.T) {
	h := newTestHub(t, &fakeDispatcher{})
	c := attachClient(h, "c1", 1)

	require.NoError(t, h.Send("c1", []byte("one")))
	require.Equal(t, []byte("one"), <-c.send)

	err := h.Send("missing", []byte("x"))
	require.ErrorIs(t, err, chat.ErrTransport)
}

func TestHubSendToFullBufferFails(t *testing.T) {
	h := newTestHub(t, &fakeDispatcher{})
	attachClient(h, "c1", 1)

	require.NoError(t, h.Send("c1", []byte("one")))
	require.ErrorIs(t, h.Send("c1", []byte("two")), chat.ErrTransport)
}

func TestHubRemoveIsIdempotent(t *testing.T) {
	d := &fakeDispatcher{}
	h := newTestHub(t, d)
	c := attachClient(h, "c1", 1)

	h.remove(c)
	h.remove(c)

	require.Zero(t, h.ClientCount())
	require.True(t, c.closed)
	_, open := <-c.send
	require.False(t, open)
	require.ErrorIs(t, h.Send("c1", []byte("late")), chat.ErrTransport)
	require.Equal(t, []recordedCall{{kind: "close"}}, d.calls)
}

func TestHubShutdownWithoutClients(t *testing.T) {
	h := newTestHub(t, &fakeDispatcher{})
	go h.Run()

	require.NoError(t, h.Shutdown(time.Second))
}

func TestHubShutdownTimeout(t *testing.T) {
	h := newTestHub(t, &fakeDispatcher{})
	go h.Run()

	h.wg.Add(1)
	defer h.wg.Done()

	require.ErrorIs(t, h.Shutdown(50*time.Millisecond), context.DeadlineExceeded)
}

func TestHubReleaseAfterShutdownRemovesDirectly(t *testing.T) {
	d := &fakeDispatcher{}
	h := newTestHub(t, d)
	go h.Run()
	c := attachClient(h, "c1", 1)
	require.NoError(t, h.Shutdown(time.Second))

	done := make(chan struct{})
	go func() {
		h.release(c)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("release blocked after shutdown")
	}
	require.Zero(t, h.ClientCount())
}

func readFrame(t *testing.T, c *Client) chat.Envelope {
	t.Helper()
	select {
	case frame := <-c.send:
		var envelope chat.Envelope
		require.NoError(t, json.Unmarshal(frame, &envelope))
		return envelope
	case <-time.After(time.Second):
		t.Fatal("no frame queued")
		return chat.Envelope{}
	}
}

func TestClientDispatchesEnvelopes(t *testing.T) {
	d := &fakeDispatcher{}
	h := newTestHub(t, d)
	c := attachClient(h, "c1", 4)

	c.processMessage([]byte(`{"event":"user_connected","data":{"userId":"u1","nickname":"Ann"}}`))
	c.processMessage([]byte(`{"event":"send_message","data":{"content":"hi","senderId":"someone-else"}}`))
	c.processMessage([]byte(`{"event":"typing","data":{"isTyping":true}}`))

	require.Equal(t, []recordedCall{
		{kind: "claim", claim: chat.Identity{UserID: "u1", Nickname: "Ann"}},
		{kind: "message", content: "hi"},
		{kind: "typing", isTyping: true},
	}, d.calls)
	require.Empty(t, c.send)
}

func TestClientReportsErrorsToItself(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		err       error
		wantEvent string
	}{
		{"Malformed JSON", `{"event":`, nil, ""},
		{"Missing event", `{"data":{}}`, nil, ""},
		{"Unknown event", `{"event":"dance","data":{}}`, nil, "dance"},
		{"Missing data", `{"event":"send_message"}`, nil, chat.EventSendMessage},
		{"Wrongly typed data", `{"event":"typing","data":{"isTyping":"yes"}}`, nil, chat.EventTyping},
		{"Rejected by the router", `{"event":"send_message","data":{"content":"hi"}}`, chat.ErrNotBound, chat.EventSendMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHub(t, &fakeDispatcher{err: tt.err})
			c := attachClient(h, "c1", 4)

			c.processMessage([]byte(tt.raw))

			envelope := readFrame(t, c)
			require.Equal(t, chat.EventError, envelope.Event)
			var payload chat.ErrorPayload
			require.NoError(t, json.Unmarshal(envelope.Data, &payload))
			require.Equal(t, tt.wantEvent, payload.Event)
			if tt.err != nil {
				require.Equal(t, tt.err.Error(), payload.Error)
			}
		})
	}
}

func TestIsExpectedCloseError(t *testing.T) {
	require.True(t, isExpectedCloseError(nil))
	require.True(t, isExpectedCloseError(errString("write tcp: use of closed network connection")))
	require.True(t, isExpectedCloseError(errString("websocket: close sent")))
	require.True(t, isExpectedCloseError(errString("write: broken pipe")))
	require.False(t, isExpectedCloseError(errString("something else")))
}

type errString string

func (e errString) Error() string { return string(e) }
