// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, the usage and history API, and the built-in test page.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/Tyrowin/chatnet/internal/auth"
	"github.com/Tyrowin/chatnet/internal/chat"
	"github.com/Tyrowin/chatnet/internal/history"
	"github.com/Tyrowin/chatnet/internal/usage"
)

// handleWebSocket upgrades the request and hands the connection to the hub.
// A missing or bad credential does not refuse the upgrade; the connection is
// admitted unverified and the router decides whether it may bind.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	var verified *chat.Identity
	identity, err := s.verifier.Verify(auth.BearerToken(r))
	switch {
	case err == nil:
		verified = &identity
	case errors.Is(err, chat.ErrCredentialMissing):
	default:
		s.log.Warn("WebSocket credential rejected", "addr", r.RemoteAddr, "error", err)
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", "addr", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(conn, s.hub, r.RemoteAddr, verified, s.cfg)
	if !s.hub.admit(client) {
		_ = conn.Close()
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "ChatNet server is running!")
}

type healthResponse struct {
	Status      string `json:"status"`
	Clients     int    `json:"clients"`
	Connections int    `json:"connections"`
	Users       int    `json:"users"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		Clients:     s.hub.ClientCount(),
		Connections: s.router.OpenConnections(),
		Users:       len(s.router.Roster()),
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

type resultResponse struct {
	Message string `json:"message"`
	Data    any    `json:"data"`
}

type usageResponse struct {
	Count int            `json:"count"`
	Usage []usage.Record `json:"usage"`
}

type messagesResponse struct {
	Count    int            `json:"count"`
	Messages []chat.Message `json:"messages"`
}

type usersResponse struct {
	Count int                `json:"count"`
	Users []chat.RosterEntry `json:"users"`
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// authenticated wraps next so that it only runs for requests carrying a
// valid bearer credential.
func (s *Server) authenticated(next func(http.ResponseWriter, *http.Request, chat.Identity)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.verifier.Verify(auth.BearerToken(r))
		if errors.Is(err, chat.ErrCredentialMissing) {
			writeError(w, http.StatusUnauthorized, "Access denied. No token provided.")
			return
		}
		if err != nil {
			s.log.Debug("Rejected API credential", "path", r.URL.Path, "error", err)
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}
		next(w, r, identity)
	}
}

func (s *Server) handleUsage(w http.ResponseWriter, _ *http.Request, _ chat.Identity) {
	records := s.ledger.All()
	writeJSON(w, http.StatusOK, usageResponse{Count: len(records), Usage: records})
}

func (s *Server) handleUsageMe(w http.ResponseWriter, _ *http.Request, identity chat.Identity) {
	record, ok := s.ledger.Get(identity.UserID)
	if !ok {
		writeError(w, http.StatusNotFound, "Usage statistics not found for this user")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleUsageByUser(w http.ResponseWriter, r *http.Request, _ chat.Identity) {
	record, ok := s.ledger.Get(r.PathValue("userId"))
	if !ok {
		writeError(w, http.StatusNotFound, "User usage statistics not found")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request, _ chat.Identity) {
	limit := s.cfg.HistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	messages, err := s.store.Recent(limit)
	if err != nil {
		s.log.Error("Failed to read message history", "error", err)
		writeError(w, http.StatusInternalServerError, "Server error while fetching messages")
		return
	}
	writeJSON(w, http.StatusOK, messagesResponse{Count: len(messages), Messages: messages})
}

func (s *Server) handleCreateMessage(w http.ResponseWriter, r *http.Request, identity chat.Identity) {
	var req createMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Request body must be a JSON object")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, chat.ErrEmptyContent.Error())
		return
	}

	msg, err := s.router.Publish(identity, req.Content)
	if errors.Is(err, chat.ErrValidation) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.log.Error("Failed to publish message", "user", identity.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "Server error while sending message")
		return
	}
	writeJSON(w, http.StatusCreated, resultResponse{Message: "Message sent successfully", Data: msg})
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request, identity chat.Identity) {
	deleted, err := s.store.Delete(r.PathValue("messageId"), identity.UserID)
	switch {
	case errors.Is(err, chat.ErrNotFound):
		writeError(w, http.StatusNotFound, "Message not found")
	case errors.Is(err, history.ErrForbidden):
		writeError(w, http.StatusForbidden, "You can only delete your own messages")
	case err != nil:
		s.log.Error("Failed to delete message", "message", r.PathValue("messageId"), "error", err)
		writeError(w, http.StatusInternalServerError, "Server error while deleting message")
	default:
		writeJSON(w, http.StatusOK, resultResponse{Message: "Message deleted successfully", Data: deleted})
	}
}

func (s *Server) handleActiveUsers(w http.ResponseWriter, _ *http.Request, _ chat.Identity) {
	roster := s.router.Roster()
	writeJSON(w, http.StatusOK, usersResponse{Count: len(roster), Users: roster})
}

// TestPageHandler serves an HTML page for exercising the chat protocol by hand.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	html := `<!DOCTYPE html>
<html>
<head>
    <title>ChatNet WebSocket Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages { 
            border: 1px solid #ccc; 
            height: 300px; 
            padding: 10px; 
            overflow-y: scroll; 
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"] { 
            width: 300px; 
            padding: 5px; 
            margin-right: 10px;
        }
        button { 
            padding: 5px 15px; 
            background-color: #007cba; 
            color: white; 
            border: none; 
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        .status { 
            margin: 10px 0; 
            padding: 5px; 
            border-radius: 3px;
        }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>ChatNet WebSocket Test</h1>
    
    <div id="status" class="status disconnected">Disconnected</div>
    
    <div>
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    
    <div id="messages"></div>

    <script>
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const messageInput = document.getElementById('messageInput');
        const sendButton = document.getElementById('sendButton');
        const connectButton = document.getElementById('connectButton');
        const statusDiv = document.getElementById('status');
        const userId = 'guest-' + Math.random().toString(36).slice(2, 8);

        function addMessage(message, type = 'info') {
            const messageElement = document.createElement('div');
            messageElement.style.margin = '5px 0';
            messageElement.style.padding = '3px';
            messageElement.textContent = message;

            if (type === 'received') {
                messageElement.style.color = 'green';
            } else if (type === 'error') {
                messageElement.style.color = 'red';
            } else {
                messageElement.style.color = 'gray';
                messageElement.style.fontStyle = 'italic';
            }

            messagesDiv.appendChild(messageElement);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected as ' + userId : 'Disconnected';
            statusDiv.className = connected ? 'status connected' : 'status disconnected';
            messageInput.disabled = !connected;
            sendButton.disabled = !connected;
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function emit(event, data) {
            ws.send(JSON.stringify({ event: event, data: data }));
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            const token = new URLSearchParams(location.search).get('token');
            ws = new WebSocket(scheme + location.host + '/ws' + (token ? '?token=' + encodeURIComponent(token) : ''));

            ws.onopen = function() {
                emit('user_connected', { userId: userId, nickname: userId });
                updateStatus(true);
            };

            ws.onmessage = function(event) {
                const envelope = JSON.parse(event.data);
                switch (envelope.event) {
                case 'new_message':
                    addMessage(envelope.data.senderNickname + ': ' + envelope.data.content, 'received');
                    break;
                case 'active_users':
                    addMessage('Online: ' + envelope.data.map(u => u.nickname + ' (' + u.connectionCount + ')').join(', '));
                    break;
                case 'user_typing':
                    addMessage(envelope.data.nickname + (envelope.data.isTyping ? ' is typing...' : ' stopped typing'));
                    break;
                case 'error':
                    addMessage('Error: ' + envelope.data.error, 'error');
                    break;
                }
            };

            ws.onclose = function() {
                addMessage('Connection closed');
                updateStatus(false);
                ws = null;
            };

            ws.onerror = function() {
                addMessage('Connection error', 'error');
            };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function sendMessage() {
            const message = messageInput.value.trim();
            if (message && ws && ws.readyState === WebSocket.OPEN) {
                emit('send_message', { content: message });
                emit('typing', { isTyping: false });
                messageInput.value = '';
            }
        }

        messageInput.addEventListener('input', function() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                emit('typing', { isTyping: messageInput.value !== '' });
            }
        });

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });
    </script>
</body>
</html>`
	_, _ = fmt.Fprint(w, html)
}
