package redis

import (
	"encoding/json"
	"time"

	"github.com/Tyrowin/companychat/internal/chat"
)

// message is the hash layout of a cached message. Times are unix nanos and
// nested values are JSON so every field scans from a plain string.
type message struct {
	ID              string `redis:"id"`
	RoomID          string `redis:"room_id"`
	Text            string `redis:"text"`
	AuthorID        string `redis:"author_id"`
	AuthorName      string `redis:"author_name"`
	AuthorRole      string `redis:"author_role"`
	AuthorEmail     string `redis:"author_email"`
	CreatedAt       int64  `redis:"created_at"`
	IsEdited        bool   `redis:"is_edited"`
	EditedAt        int64  `redis:"edited_at"`
	Mentions        string `redis:"mentions"`
	ReplyTo         string `redis:"reply_to"`
	IsInterviewHelp bool   `redis:"is_interview_help"`
}

func fromAPI(m chat.Message) (*message, error) {
	out := &message{
		ID:              m.ID,
		RoomID:          m.RoomID,
		Text:            m.Text,
		AuthorID:        m.AuthorID,
		AuthorName:      m.AuthorName,
		AuthorRole:      string(m.AuthorRole),
		AuthorEmail:     m.AuthorEmail,
		CreatedAt:       m.Timestamp.UnixNano(),
		IsEdited:        m.IsEdited,
		IsInterviewHelp: m.IsInterviewHelp,
	}
	if m.EditedAt != nil {
		out.EditedAt = m.EditedAt.UnixNano()
	}
	if len(m.Mentions) > 0 {
		b, err := json.Marshal(m.Mentions)
		if err != nil {
			return nil, err
		}
		out.Mentions = string(b)
	}
	if m.ReplyTo != nil {
		b, err := json.Marshal(m.ReplyTo)
		if err != nil {
			return nil, err
		}
		out.ReplyTo = string(b)
	}
	return out, nil
}

func (m message) APIMessage() (chat.Message, error) {
	out := chat.Message{
		ID:              m.ID,
		RoomID:          m.RoomID,
		Text:            m.Text,
		AuthorID:        m.AuthorID,
		AuthorName:      m.AuthorName,
		AuthorRole:      chat.Role(m.AuthorRole),
		AuthorEmail:     m.AuthorEmail,
		Timestamp:       time.Unix(0, m.CreatedAt).UTC(),
		IsEdited:        m.IsEdited,
		IsInterviewHelp: m.IsInterviewHelp,
	}
	if m.EditedAt != 0 {
		t := time.Unix(0, m.EditedAt).UTC()
		out.EditedAt = &t
	}
	if m.Mentions != "" {
		if err := json.Unmarshal([]byte(m.Mentions), &out.Mentions); err != nil {
			return chat.Message{}, err
		}
	}
	if m.ReplyTo != "" {
		out.ReplyTo = new(chat.ReplyRef)
		if err := json.Unmarshal([]byte(m.ReplyTo), out.ReplyTo); err != nil {
			return chat.Message{}, err
		}
	}
	return out, nil
}
