package server_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/chatnet/internal/chat"
	"github.com/Tyrowin/chatnet/internal/server"
	"github.com/Tyrowin/chatnet/internal/testhelpers"
	"github.com/Tyrowin/chatnet/internal/usage"
)

func TestHealthHandlerUnit(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodPost} {
		t.Run(method, func(t *testing.T) {
			req := httptest.NewRequest(method, "/", http.NoBody)
			rr := httptest.NewRecorder()

			server.HealthHandler(rr, req)

			require.Equal(t, http.StatusOK, rr.Code)
			require.Equal(t, "ChatNet server is running!", rr.Body.String())
			require.Equal(t, "text/plain", rr.Header().Get("Content-Type"))
		})
	}
}

func TestRoutes(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name         string
		method       string
		path         string
		expectedCode int
		contentType  string
		bodyContains string
	}{
		{"Health check", http.MethodGet, "/", http.StatusOK, "text/plain", "running"},
		{"JSON health check", http.MethodGet, "/healthz", http.StatusOK, "application/json", `"status":"ok"`},
		{"Test page", http.MethodGet, "/test", http.StatusOK, "text/html", "ChatNet WebSocket Test"},
		{"WebSocket endpoint rejects POST", http.MethodPost, "/ws", http.StatusMethodNotAllowed, "", "only accepts GET"},
		{"WebSocket endpoint without upgrade", http.MethodGet, "/ws", http.StatusBadRequest, "", ""},
		{"Unknown path", http.MethodGet, "/nope", http.StatusNotFound, "", ""},
		{"Wrong method on API", http.MethodPut, "/api/chat/messages", http.StatusMethodNotAllowed, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := testhelpers.MakeRequest(t, tt.method, f.url(tt.path), "", "")
			testhelpers.AssertStatusCode(t, resp, tt.expectedCode)
			if tt.contentType != "" {
				testhelpers.AssertContentType(t, resp, tt.contentType)
			}
			if tt.bodyContains != "" {
				body, err := io.ReadAll(resp.Body)
				require.NoError(t, err)
				require.Contains(t, string(body), tt.bodyContains)
			}
		})
	}
}

func TestAPIRequiresBearerToken(t *testing.T) {
	f := newFixture(t, nil)
	expired, err := f.verifier.Issue(chat.Identity{UserID: "alice", Nickname: "Alice"}, -time.Minute)
	require.NoError(t, err)

	paths := []string{"/api/usage", "/api/usage/me", "/api/usage/alice", "/api/chat/messages", "/api/users/active"}
	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			var body struct {
				Error string `json:"error"`
			}

			resp := testhelpers.MakeRequest(t, http.MethodGet, f.url(path), "", "")
			testhelpers.AssertStatusCode(t, resp, http.StatusUnauthorized)
			testhelpers.DecodeJSON(t, resp, &body)
			require.Equal(t, "Access denied. No token provided.", body.Error)

			resp = testhelpers.MakeRequest(t, http.MethodGet, f.url(path), expired, "")
			testhelpers.AssertStatusCode(t, resp, http.StatusUnauthorized)
			testhelpers.DecodeJSON(t, resp, &body)
			require.Equal(t, "Invalid token", body.Error)
		})
	}
}

func TestUsageEndpoints(t *testing.T) {
	f := newFixture(t, nil)
	token := f.token(t, "alice", "Alice")

	resp := testhelpers.MakeRequest(t, http.MethodGet, f.url("/api/usage/me"), token, "")
	testhelpers.AssertStatusCode(t, resp, http.StatusNotFound)

	f.ledger.Ensure("alice", "Alice")
	f.ledger.RecordLogin("alice")
	f.ledger.Ensure("bob", "Bob")

	var me usage.Record
	resp = testhelpers.MakeRequest(t, http.MethodGet, f.url("/api/usage/me"), token, "")
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	testhelpers.DecodeJSON(t, resp, &me)
	require.Equal(t, "alice", me.UserID)
	require.EqualValues(t, 1, me.LoginCount)

	var bob usage.Record
	resp = testhelpers.MakeRequest(t, http.MethodGet, f.url("/api/usage/bob"), token, "")
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	testhelpers.DecodeJSON(t, resp, &bob)
	require.Equal(t, "Bob", bob.Nickname)

	resp = testhelpers.MakeRequest(t, http.MethodGet, f.url("/api/usage/carol"), token, "")
	testhelpers.AssertStatusCode(t, resp, http.StatusNotFound)

	var all struct {
		Count int            `json:"count"`
		Usage []usage.Record `json:"usage"`
	}
	resp = testhelpers.MakeRequest(t, http.MethodGet, f.url("/api/usage"), token, "")
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	testhelpers.DecodeJSON(t, resp, &all)
	require.Equal(t, 2, all.Count)
	require.Equal(t, "alice", all.Usage[0].UserID)
	require.Equal(t, "bob", all.Usage[1].UserID)
}

type messageResult struct {
	Message string       `json:"message"`
	Data    chat.Message `json:"data"`
}

func TestPostMessageIsStampedStoredAndBroadcast(t *testing.T) {
	f := newFixture(t, nil)
	listener := f.join(t, "bob", "Bob")
	waitForRoster(t, listener, rosterOf(chat.RosterEntry{UserID: "bob", ConnectionCount: 1}))

	var created messageResult
	resp := testhelpers.MakeRequest(t, http.MethodPost, f.url("/api/chat/messages"), f.token(t, "alice", "Alice"), `{"content":"from rest"}`)
	testhelpers.AssertStatusCode(t, resp, http.StatusCreated)
	testhelpers.DecodeJSON(t, resp, &created)
	require.Equal(t, "Message sent successfully", created.Message)
	require.Equal(t, "alice", created.Data.SenderID)
	require.Equal(t, "Alice", created.Data.SenderNickname)

	var delivered chat.Message
	testhelpers.WaitForEvent(t, listener, chat.EventNewMessage, &delivered)
	require.Equal(t, created.Data.ID, delivered.ID)

	record, ok := f.ledger.Get("alice")
	require.True(t, ok)
	require.EqualValues(t, 1, record.MessagesSent)
}

func TestPostMessageValidation(t *testing.T) {
	f := newFixture(t, func(cfg *server.Config) { cfg.MaxContentLength = 10 })
	token := f.token(t, "alice", "Alice")

	tests := []struct {
		name string
		body string
	}{
		{"Not JSON", "content=hi"},
		{"Missing content", `{}`},
		{"Blank content", `{"content":"   "}`},
		{"Too long", `{"content":"` + strings.Repeat("x", 11) + `"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := testhelpers.MakeRequest(t, http.MethodPost, f.url("/api/chat/messages"), token, tt.body)
			testhelpers.AssertStatusCode(t, resp, http.StatusBadRequest)
		})
	}

	messages, err := f.store.Recent(10)
	require.NoError(t, err)
	require.Empty(t, messages)
}

func TestListMessages(t *testing.T) {
	f := newFixture(t, nil)
	token := f.token(t, "alice", "Alice")

	for _, content := range []string{"one", "two", "three"} {
		resp := testhelpers.MakeRequest(t, http.MethodPost, f.url("/api/chat/messages"), token, `{"content":"`+content+`"}`)
		testhelpers.AssertStatusCode(t, resp, http.StatusCreated)
	}

	var page struct {
		Count    int            `json:"count"`
		Messages []chat.Message `json:"messages"`
	}
	resp := testhelpers.MakeRequest(t, http.MethodGet, f.url("/api/chat/messages?limit=2"), token, "")
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	testhelpers.DecodeJSON(t, resp, &page)
	require.Equal(t, 2, page.Count)
	require.Equal(t, "two", page.Messages[0].Content)
	require.Equal(t, "three", page.Messages[1].Content)

	resp = testhelpers.MakeRequest(t, http.MethodGet, f.url("/api/chat/messages"), token, "")
	testhelpers.DecodeJSON(t, resp, &page)
	require.Equal(t, 3, page.Count)

	resp = testhelpers.MakeRequest(t, http.MethodGet, f.url("/api/chat/messages?limit=abc"), token, "")
	testhelpers.AssertStatusCode(t, resp, http.StatusBadRequest)
}

func TestDeleteMessage(t *testing.T) {
	f := newFixture(t, nil)
	alice := f.token(t, "alice", "Alice")
	bob := f.token(t, "bob", "Bob")

	var created messageResult
	resp := testhelpers.MakeRequest(t, http.MethodPost, f.url("/api/chat/messages"), alice, `{"content":"oops"}`)
	testhelpers.DecodeJSON(t, resp, &created)
	path := "/api/chat/messages/" + created.Data.ID

	resp = testhelpers.MakeRequest(t, http.MethodDelete, f.url(path), bob, "")
	testhelpers.AssertStatusCode(t, resp, http.StatusForbidden)

	resp = testhelpers.MakeRequest(t, http.MethodDelete, f.url("/api/chat/messages/missing"), alice, "")
	testhelpers.AssertStatusCode(t, resp, http.StatusNotFound)

	var deleted messageResult
	resp = testhelpers.MakeRequest(t, http.MethodDelete, f.url(path), alice, "")
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	testhelpers.DecodeJSON(t, resp, &deleted)
	require.Equal(t, "Message deleted successfully", deleted.Message)
	require.Equal(t, created.Data.ID, deleted.Data.ID)

	resp = testhelpers.MakeRequest(t, http.MethodDelete, f.url(path), alice, "")
	testhelpers.AssertStatusCode(t, resp, http.StatusNotFound)
}

func TestActiveUsersEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	token := f.token(t, "alice", "Alice")

	var users struct {
		Count int                `json:"count"`
		Users []chat.RosterEntry `json:"users"`
	}
	resp := testhelpers.MakeRequest(t, http.MethodGet, f.url("/api/users/active"), token, "")
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	testhelpers.DecodeJSON(t, resp, &users)
	require.Zero(t, users.Count)

	conn := f.join(t, "alice", "Alice")
	waitForRoster(t, conn, rosterOf(chat.RosterEntry{UserID: "alice", ConnectionCount: 1}))

	resp = testhelpers.MakeRequest(t, http.MethodGet, f.url("/api/users/active"), token, "")
	testhelpers.DecodeJSON(t, resp, &users)
	require.Equal(t, 1, users.Count)
	require.Equal(t, "Alice", users.Users[0].Nickname)
}
