// Package store defines the message persistence boundary and its in-memory
// and cached implementations.
package store

import (
	"context"

	"github.com/Tyrowin/companychat/internal/chat"
)

// DefaultHistoryLimit is the number of messages returned by a history fetch.
const DefaultHistoryLimit = 100

// A Store persists chat messages.
type Store interface {
	// Create persists msg and returns it with its durable ID.
	Create(ctx context.Context, msg chat.Message) (chat.Message, error)
	// Get returns the message with id or an error wrapping chat.ErrNotFound.
	Get(ctx context.Context, id string) (chat.Message, error)
	// Update overwrites the mutable fields (text, edit and delete markers).
	Update(ctx context.Context, msg chat.Message) (chat.Message, error)
	// History returns the last limit non-deleted messages of roomID in
	// ascending timestamp order.
	History(ctx context.Context, roomID string, limit int) ([]chat.Message, error)
}

// A Cache keeps recent room history close to the server.
type Cache interface {
	Put(ctx context.Context, msg chat.Message) error
	History(ctx context.Context, roomID string, limit int) ([]chat.Message, error)
	// Invalidate drops everything cached for roomID.
	Invalidate(ctx context.Context, roomID string) error
}
