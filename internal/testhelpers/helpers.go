// Package testhelpers provides websocket and HTTP utilities shared by the
// server and client tests.
package testhelpers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/companychat/internal/chat"
)

// TestOrigin is the Origin header sent by ConnectWebSocket.
const TestOrigin = "http://localhost:8080"

// CreateTestServer creates a test HTTP server with the given handler.
// It returns a running httptest.Server that should be closed after use.
func CreateTestServer(handler http.Handler) *httptest.Server {
	return httptest.NewServer(handler)
}

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

// MakeRequest executes an HTTP request with an optional JSON body and
// returns the response. It fails the test if the request cannot be made.
func MakeRequest(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}

	return resp
}

// DecodeJSON decodes the response body into v and closes it.
func DecodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

// WebSocketURL turns an http test server URL into the /ws endpoint URL with
// the given query.
func WebSocketURL(serverURL string, query url.Values) string {
	u := "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// IdentityQuery builds the handshake query for an identity joining roomID.
func IdentityQuery(id chat.Identity, roomID string) url.Values {
	q := url.Values{}
	q.Set("userId", id.UserID)
	q.Set("userName", id.UserName)
	q.Set("userRole", string(id.UserRole))
	if id.Email != "" {
		q.Set("userEmail", id.Email)
	}
	if roomID != "" {
		q.Set("roomId", roomID)
	}
	return q
}

// ConnectWebSocket creates a WebSocket connection to the specified URL.
// It returns the connection or an error if connection fails.
func ConnectWebSocket(url string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	headers.Set("Origin", TestOrigin)

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// SendEvent writes one envelope to the connection.
func SendEvent(conn *websocket.Conn, event string, payload any) error {
	frame, err := chat.Encode(event, payload)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, frame)
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

// EventReader reads envelopes from a connection, splitting frames that carry
// several newline separated envelopes.
type EventReader struct {
	conn    *websocket.Conn
	pending []chat.Envelope
}

// NewEventReader wraps conn.
func NewEventReader(conn *websocket.Conn) *EventReader {
	return &EventReader{conn: conn}
}

// Next returns the next envelope, waiting at most timeout for a frame.
func (r *EventReader) Next(timeout time.Duration) (chat.Envelope, error) {
	for len(r.pending) == 0 {
		if err := r.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return chat.Envelope{}, err
		}
		_, frame, err := r.conn.ReadMessage()
		if err != nil {
			return chat.Envelope{}, err
		}
		for _, line := range bytes.Split(frame, []byte{'\n'}) {
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var env chat.Envelope
			if err := json.Unmarshal(line, &env); err != nil {
				return chat.Envelope{}, err
			}
			r.pending = append(r.pending, env)
		}
	}
	env := r.pending[0]
	r.pending = r.pending[1:]
	return env, nil
}

// WaitFor skips envelopes until one named event arrives and decodes its
// payload into v (which may be nil). It fails the test on timeout.
func (r *EventReader) WaitFor(t *testing.T, event string, v any) chat.Envelope {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			t.Fatalf("timed out waiting for %s", event)
		}
		env, err := r.Next(remaining)
		if err != nil {
			t.Fatalf("waiting for %s: %v", event, err)
		}
		if env.Event != event {
			continue
		}
		if v != nil {
			if err := env.Decode(v); err != nil {
				t.Fatalf("decode %s: %v", event, err)
			}
		}
		return env
	}
}

// ExpectNone fails the test if an envelope named event arrives within d.
// Other envelopes are consumed and ignored. A read error after d is the
// expected outcome; the connection must not be used for reads afterwards.
func (r *EventReader) ExpectNone(t *testing.T, event string, d time.Duration) {
	t.Helper()
	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		env, err := r.Next(remaining)
		if err != nil {
			return
		}
		if env.Event == event {
			t.Fatalf("unexpected %s event: %s", event, string(env.Data))
		}
	}
}
