// Package chat defines the domain types shared by the server, the message
// protocol and the reconciling client: identities, messages, mentions,
// reply snapshots, wire envelopes and the error taxonomy.
package chat

import (
	"strings"
	"time"
)

// Role is the self-declared role of a chat participant.
type Role string

// Known roles. System is reserved for server generated messages.
const (
	RoleProfessional Role = "professional"
	RoleStudent      Role = "student"
	RoleSystem       Role = "system"
)

// Identity is the display identity a connection presents at handshake time.
// It is trusted for display purposes only, never for authorization.
type Identity struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	UserRole Role   `json:"userRole"`
	Email    string `json:"userEmail,omitempty"`
}

// Complete reports whether every display field is present.
func (i Identity) Complete() bool {
	return i.UserID != "" && i.UserName != "" && i.UserRole != ""
}

// Mention is a reference from an @token to a known user, resolved once when
// the message is created and never re-resolved.
type Mention struct {
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	UserEmail string `json:"userEmail,omitempty"`
}

// ReplyRef is a snapshot of the message being replied to. It does not follow
// later edits of the target.
type ReplyRef struct {
	MessageID string `json:"messageId"`
	Text      string `json:"text"`
	UserName  string `json:"userName"`
	UserID    string `json:"userId"`
}

// Message is the canonical chat message as persisted and broadcast.
type Message struct {
	ID              string     `json:"id"`
	RoomID          string     `json:"roomId"`
	Text            string     `json:"text"`
	AuthorID        string     `json:"authorId"`
	AuthorName      string     `json:"authorName"`
	AuthorRole      Role       `json:"authorRole"`
	AuthorEmail     string     `json:"authorEmail,omitempty"`
	Timestamp       time.Time  `json:"timestamp"`
	IsEdited        bool       `json:"isEdited"`
	EditedAt        *time.Time `json:"editedAt,omitempty"`
	IsDeleted       bool       `json:"isDeleted"`
	DeletedAt       *time.Time `json:"deletedAt,omitempty"`
	Mentions        []Mention  `json:"mentions,omitempty"`
	ReplyTo         *ReplyRef  `json:"replyTo,omitempty"`
	IsInterviewHelp bool       `json:"isInterviewHelp"`
	// ClientToken echoes the sender's correlation token so the sender can
	// match the canonical record to its optimistic entry.
	ClientToken string `json:"clientToken,omitempty"`
	// Ephemeral marks a message that was broadcast without being persisted.
	Ephemeral bool `json:"ephemeral,omitempty"`
}

// Snapshot returns the reply snapshot of m.
func (m Message) Snapshot() ReplyRef {
	return ReplyRef{
		MessageID: m.ID,
		Text:      m.Text,
		UserName:  m.AuthorName,
		UserID:    m.AuthorID,
	}
}

// NormalizeRoomID turns any client supplied room key into the single string
// form used by the core.
func NormalizeRoomID(raw string) string {
	return strings.TrimSpace(raw)
}
