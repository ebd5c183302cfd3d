package sqlstore

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/Tyrowin/companychat/internal/chat"
)

// A message represents a message in the database.
type message struct {
	bun.BaseModel `bun:"table:messages"`

	ID              string         `bun:",pk"`
	RoomID          string         `bun:",notnull"`
	MessageText     string         `bun:"message_text,notnull"`
	AuthorID        string         `bun:",notnull"`
	AuthorName      string         `bun:",notnull"`
	AuthorRole      string         `bun:",notnull"`
	AuthorEmail     string         `bun:",nullzero"`
	CreatedAt       time.Time      `bun:",notnull"`
	IsEdited        bool           `bun:",notnull,default:false"`
	EditedAt        time.Time      `bun:",nullzero"`
	IsDeleted       bool           `bun:",notnull,default:false"`
	DeletedAt       time.Time      `bun:",nullzero"`
	Mentions        []chat.Mention `bun:"mentions"`
	ReplyTo         *chat.ReplyRef `bun:"reply_to"`
	IsInterviewHelp bool           `bun:",notnull,default:false"`
}

func fromAPI(m chat.Message) *message {
	row := &message{
		ID:              m.ID,
		RoomID:          m.RoomID,
		MessageText:     m.Text,
		AuthorID:        m.AuthorID,
		AuthorName:      m.AuthorName,
		AuthorRole:      string(m.AuthorRole),
		AuthorEmail:     m.AuthorEmail,
		CreatedAt:       m.Timestamp.UTC(),
		IsEdited:        m.IsEdited,
		IsDeleted:       m.IsDeleted,
		Mentions:        m.Mentions,
		ReplyTo:         m.ReplyTo,
		IsInterviewHelp: m.IsInterviewHelp,
	}
	if m.EditedAt != nil {
		row.EditedAt = m.EditedAt.UTC()
	}
	if m.DeletedAt != nil {
		row.DeletedAt = m.DeletedAt.UTC()
	}
	return row
}

func (m message) APIMessage() chat.Message {
	out := chat.Message{
		ID:              m.ID,
		RoomID:          m.RoomID,
		Text:            m.MessageText,
		AuthorID:        m.AuthorID,
		AuthorName:      m.AuthorName,
		AuthorRole:      chat.Role(m.AuthorRole),
		AuthorEmail:     m.AuthorEmail,
		Timestamp:       m.CreatedAt,
		IsEdited:        m.IsEdited,
		IsDeleted:       m.IsDeleted,
		Mentions:        m.Mentions,
		ReplyTo:         m.ReplyTo,
		IsInterviewHelp: m.IsInterviewHelp,
	}
	if !m.EditedAt.IsZero() {
		t := m.EditedAt
		out.EditedAt = &t
	}
	if !m.DeletedAt.IsZero() {
		t := m.DeletedAt
		out.DeletedAt = &t
	}
	return out
}
