// Package testhelpers provides utilities shared by the ChatNet test suites:
// HTTP requests with bearer credentials, WebSocket dialing and envelope
// framing.
package testhelpers

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatnet/internal/chat"
)

// DefaultOrigin is the origin test clients present unless told otherwise.
const DefaultOrigin = "http://localhost:8080"

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if contentType != expected {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// MakeRequest executes an HTTP request with an optional bearer token and JSON
// body. The response body is closed when the test ends.
func MakeRequest(t *testing.T, method, url, token, body string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	var reader io.Reader = http.NoBody
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })

	return resp
}

// DecodeJSON decodes the response body into v.
func DecodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response body: %v", err)
	}
}

// WebSocketURL turns an httptest server URL into the URL of its /ws endpoint.
func WebSocketURL(serverURL, token string) string {
	u := "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
	if token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	return u
}

// ConnectWebSocket dials url presenting origin.
func ConnectWebSocket(url, origin string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// MustConnect dials url with DefaultOrigin and closes the connection when the
// test ends.
func MustConnect(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, err := ConnectWebSocket(url, DefaultOrigin)
	if err != nil {
		t.Fatalf("Failed to connect to %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// SendEvent writes one {"event","data"} envelope.
func SendEvent(conn *websocket.Conn, event string, data any) error {
	frame, err := chat.Encode(event, data)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// ReadEvent reads the next envelope, waiting at most timeout.
func ReadEvent(conn *websocket.Conn, timeout time.Duration) (chat.Envelope, error) {
	var envelope chat.Envelope
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return envelope, err
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		return envelope, err
	}
	err = json.Unmarshal(data, &envelope)
	return envelope, err
}

// WaitForEvent reads envelopes until one named event arrives and decodes its
// data into v. Other events are skipped.
func WaitForEvent(t *testing.T, conn *websocket.Conn, event string, v any) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		envelope, err := ReadEvent(conn, time.Until(deadline))
		if err != nil {
			t.Fatalf("Waiting for %q: %v", event, err)
		}
		if envelope.Event != event {
			continue
		}
		if v != nil {
			if err := json.Unmarshal(envelope.Data, v); err != nil {
				t.Fatalf("Decoding %q data: %v", event, err)
			}
		}
		return
	}
	t.Fatalf("Timed out waiting for %q", event)
}

// ExpectNoEvent fails the test if an envelope named event arrives within
// timeout. The read deadline it hits leaves conn unreadable afterwards.
func ExpectNoEvent(t *testing.T, conn *websocket.Conn, event string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		envelope, err := ReadEvent(conn, time.Until(deadline))
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return
		}
		if err != nil {
			t.Fatalf("Unexpected error while waiting for absence of %q: %v", event, err)
		}
		if envelope.Event == event {
			t.Fatalf("Expected no %q event, got %s", event, envelope.Data)
		}
	}
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
