package chat

import (
	"encoding/json"
	"time"
)

// Inbound event names.
const (
	EventJoinRoom      = "join-room"
	EventLeaveRoom     = "leave-room"
	EventSendMessage   = "send-message"
	EventEditMessage   = "edit-message"
	EventDeleteMessage = "delete-message"
)

// Outbound event names.
const (
	EventPresenceUpdated = "presence-updated"
	EventNewMessage      = "new-message"
	EventInterviewHelp   = "interview-help-notification"
	EventMessageEdited   = "message-edited"
	EventMessageDeleted  = "message-deleted"
	EventError           = "error"
)

// ConnectionIDHeader carries the connection id in the websocket upgrade
// response. Presence snapshots list connections by this id.
const ConnectionIDHeader = "X-Connection-Id"

// Envelope is the JSON frame exchanged over the websocket.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data into an envelope for event.
func NewEnvelope(event string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: raw}, nil
}

// Encode marshals event and data into a single wire frame.
func Encode(event string, data any) ([]byte, error) {
	env, err := NewEnvelope(event, data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// JoinRoomPayload is sent by a client to subscribe to a room.
type JoinRoomPayload struct {
	RoomID   string    `json:"roomId"`
	Identity *Identity `json:"identity,omitempty"`
}

// LeaveRoomPayload is sent by a client to unsubscribe from a room.
type LeaveRoomPayload struct {
	RoomID string `json:"roomId"`
}

// ReplyTarget identifies the message a new message replies to. The snapshot
// fields are used only when the server cannot load the target itself.
type ReplyTarget struct {
	MessageID string `json:"messageId"`
	Text      string `json:"text,omitempty"`
	UserName  string `json:"userName,omitempty"`
	UserID    string `json:"userId,omitempty"`
}

// SendMessagePayload is the send-message event body.
type SendMessagePayload struct {
	Text        string       `json:"text"`
	AuthorID    string       `json:"authorId,omitempty"`
	AuthorName  string       `json:"authorName,omitempty"`
	AuthorRole  Role         `json:"authorRole,omitempty"`
	AuthorEmail string       `json:"authorEmail,omitempty"`
	RoomID      string       `json:"roomId"`
	ReplyTo     *ReplyTarget `json:"replyTo,omitempty"`
	ClientToken string       `json:"clientToken,omitempty"`
}

// EditMessagePayload is the edit-message event body.
type EditMessagePayload struct {
	MessageID   string `json:"messageId"`
	NewText     string `json:"newText"`
	RequesterID string `json:"requesterId,omitempty"`
	RoomID      string `json:"roomId,omitempty"`
}

// DeleteMessagePayload is the delete-message event body.
type DeleteMessagePayload struct {
	MessageID   string `json:"messageId"`
	RequesterID string `json:"requesterId,omitempty"`
	RoomID      string `json:"roomId,omitempty"`
}

// PresenceUser is one online connection in a presence snapshot.
type PresenceUser struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	UserName     string `json:"userName"`
	UserRole     Role   `json:"userRole"`
}

// PresencePayload is the presence-updated event body.
type PresencePayload struct {
	RoomID string         `json:"roomId"`
	Users  []PresenceUser `json:"users"`
}

// InterviewHelpPayload is unicast to professionals when a student asks for
// interview help in their company's room.
type InterviewHelpPayload struct {
	Message     Message `json:"message"`
	CompanyName string  `json:"companyName"`
	AuthorName  string  `json:"authorName"`
}

// MessageEditedPayload is the message-edited event body.
type MessageEditedPayload struct {
	MessageID string    `json:"messageId"`
	Text      string    `json:"text"`
	IsEdited  bool      `json:"isEdited"`
	EditedAt  time.Time `json:"editedAt"`
}

// MessageDeletedPayload is the message-deleted event body.
type MessageDeletedPayload struct {
	MessageID string `json:"messageId"`
}

// ErrorPayload is returned to the originating connection only.
type ErrorPayload struct {
	Event       string `json:"event"`
	Code        Code   `json:"code"`
	Message     string `json:"message"`
	ClientToken string `json:"clientToken,omitempty"`
	MessageID   string `json:"messageId,omitempty"`
}
