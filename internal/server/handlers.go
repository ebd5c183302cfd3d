// Package server exposes HTTP handlers, including the WebSocket handshake,
// health checks and the built-in test page.
package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/Tyrowin/companychat/internal/chat"
)

// handshakeIdentity resolves who is connecting. A token is authenticated
// against the directory; otherwise the query parameters are taken as a
// display identity.
func (s *Server) handshakeIdentity(r *http.Request) (chat.Identity, bool, error) {
	q := r.URL.Query()
	if token := q.Get("token"); token != "" {
		id, err := s.directory.Authenticate(r.Context(), token)
		if err != nil {
			return chat.Identity{}, false, err
		}
		return id, true, nil
	}
	if s.cfg.RequireToken {
		return chat.Identity{}, false, fmt.Errorf("%w: token required", chat.ErrForbidden)
	}

	id := chat.Identity{
		UserID:   strings.TrimSpace(q.Get("userId")),
		UserName: strings.TrimSpace(q.Get("userName")),
		UserRole: chat.Role(strings.TrimSpace(q.Get("userRole"))),
		Email:    strings.TrimSpace(q.Get("userEmail")),
	}
	switch id.UserRole {
	case "", chat.RoleProfessional, chat.RoleStudent:
	default:
		return chat.Identity{}, false, fmt.Errorf("%w: unknown role %q", chat.ErrValidation, id.UserRole)
	}
	return id, false, nil
}

// WebSocketHandler upgrades the request, registers a client for it and joins
// the room named by the roomId (or companyId) query parameter.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	identity, authenticated, err := s.handshakeIdentity(r)
	if err != nil {
		s.log.Warn("WebSocket handshake rejected", "addr", r.RemoteAddr, "error", err.Error())
		http.Error(w, err.Error(), chat.HTTPStatus(err))
		return
	}

	q := r.URL.Query()
	roomID := chat.NormalizeRoomID(q.Get("roomId"))
	if roomID == "" {
		roomID = chat.NormalizeRoomID(q.Get("companyId"))
	}

	connID := uuid.NewString()
	conn, err := s.upgrader.Upgrade(w, r, http.Header{chat.ConnectionIDHeader: {connID}})
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", "addr", r.RemoteAddr, "error", err.Error())
		return
	}

	client := newClient(connID, conn, s.hub, r.RemoteAddr, identity)
	client.events = s
	client.authenticated = authenticated
	client.initialRoom = roomID

	// The hub launches the pump goroutines and performs the initial join.
	if !s.hub.Register(client) {
		_ = conn.Close()
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
// It responds with a plain text message indicating the server is running.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Company chat server is running!")
}

// TestPageHandler serves an HTML page for trying the chat protocol from a
// browser: connect with an identity and room, send messages and watch the
// events the server pushes back.
func (s *Server) TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPage); err != nil {
		s.log.Error("Error writing HTML response", "error", err.Error())
	}
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>Company Chat Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #events {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
            font-family: monospace;
        }
        #online { margin: 10px 0; color: #555; }
        input[type="text"], select { padding: 5px; margin-right: 10px; }
        #messageInput { width: 300px; }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>Company Chat Test</h1>

    <div>
        <input type="text" id="userId" placeholder="user id" value="stu-1">
        <input type="text" id="userName" placeholder="name" value="Sam">
        <select id="userRole">
            <option value="student">student</option>
            <option value="professional">professional</option>
        </select>
        <input type="text" id="roomId" placeholder="room" value="google">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>

    <div id="status" class="status disconnected">Disconnected</div>
    <div id="online"></div>

    <div>
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>

    <div id="events"></div>

    <script>
        let ws = null;
        const eventsDiv = document.getElementById('events');
        const onlineDiv = document.getElementById('online');
        const messageInput = document.getElementById('messageInput');
        const sendButton = document.getElementById('sendButton');
        const connectButton = document.getElementById('connectButton');
        const statusDiv = document.getElementById('status');

        function log(line, color) {
            const el = document.createElement('div');
            el.style.margin = '3px 0';
            el.style.color = color || 'gray';
            el.textContent = line;
            eventsDiv.appendChild(el);
            eventsDiv.scrollTop = eventsDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            messageInput.disabled = !connected;
            sendButton.disabled = !connected;
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
            if (!connected) onlineDiv.textContent = '';
        }

        function handle(env) {
            const d = env.data || {};
            switch (env.event) {
            case 'presence-updated':
                onlineDiv.textContent = 'Online: ' + d.users.map(u => u.userName + ' (' + u.userRole + ')').join(', ');
                break;
            case 'new-message':
                log((d.ephemeral ? '[unsaved] ' : '') + d.authorName + ': ' + d.text, d.isInterviewHelp ? 'darkorange' : 'green');
                break;
            case 'message-edited':
                log('edited ' + d.messageId + ': ' + d.text, 'blue');
                break;
            case 'message-deleted':
                log('deleted ' + d.messageId, 'blue');
                break;
            case 'interview-help-notification':
                log(d.authorName + ' needs interview help at ' + d.companyName, 'red');
                break;
            case 'error':
                log('error (' + d.code + ') ' + d.message, 'red');
                break;
            default:
                log(JSON.stringify(env));
            }
        }

        function connect() {
            const params = new URLSearchParams({
                userId: document.getElementById('userId').value,
                userName: document.getElementById('userName').value,
                userRole: document.getElementById('userRole').value,
                roomId: document.getElementById('roomId').value,
            });
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws?' + params.toString());

            ws.onopen = function() {
                log('Connected');
                updateStatus(true);
            };
            ws.onmessage = function(event) {
                event.data.split('\n').forEach(line => {
                    if (line.trim()) handle(JSON.parse(line));
                });
            };
            ws.onclose = function() {
                log('Connection closed');
                updateStatus(false);
                ws = null;
            };
            ws.onerror = function() {
                log('Connection error');
                updateStatus(false);
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
            const text = messageInput.value.trim();
            if (text && ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({
                    event: 'send-message',
                    data: { text: text, roomId: document.getElementById('roomId').value, clientToken: crypto.randomUUID() },
                }));
                messageInput.value = '';
            }
        }

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });
    </script>
</body>
</html>`
