package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/Tyrowin/companychat/internal/chat"
)

// Memory is a process-local Store.
type Memory struct {
	mu       sync.RWMutex
	messages map[string]chat.Message
	rooms    map[string][]string
}

// NewMemory returns an empty memory store.
func NewMemory() *Memory {
	return &Memory{
		messages: make(map[string]chat.Message),
		rooms:    make(map[string][]string),
	}
}

func (s *Memory) Create(_ context.Context, msg chat.Message) (chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg.ID = uuid.NewString()
	msg.Ephemeral = false
	s.messages[msg.ID] = msg
	s.rooms[msg.RoomID] = append(s.rooms[msg.RoomID], msg.ID)
	return msg, nil
}

func (s *Memory) Get(_ context.Context, id string) (chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[id]
	if !ok {
		return chat.Message{}, fmt.Errorf("get %s: %w", id, chat.ErrNotFound)
	}
	return msg, nil
}

func (s *Memory) Update(_ context.Context, msg chat.Message) (chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.messages[msg.ID]
	if !ok {
		return chat.Message{}, fmt.Errorf("update %s: %w", msg.ID, chat.ErrNotFound)
	}
	cur.Text = msg.Text
	cur.IsEdited = msg.IsEdited
	cur.EditedAt = msg.EditedAt
	cur.IsDeleted = msg.IsDeleted
	cur.DeletedAt = msg.DeletedAt
	s.messages[msg.ID] = cur
	return cur, nil
}

func (s *Memory) History(_ context.Context, roomID string, limit int) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.rooms[roomID]
	out := make([]chat.Message, 0, len(ids))
	for _, id := range ids {
		if m := s.messages[id]; !m.IsDeleted {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return tail(out, limit), nil
}

func tail(msgs []chat.Message, limit int) []chat.Message {
	if limit > 0 && len(msgs) > limit {
		return msgs[len(msgs)-limit:]
	}
	return msgs
}
