// Package server defines shared hub message types and helpers used by
// client and hub logic.
package server

import (
	"strings"

	"github.com/Tyrowin/companychat/internal/chat"
)

// outbound is an encoded frame addressed to a room or a single connection.
type outbound struct {
	target  string
	payload []byte
}

// membership asks the hub to move a client into or out of a room.
type membership struct {
	client   *Client
	roomID   string
	identity *chat.Identity
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
