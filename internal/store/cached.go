package store

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Tyrowin/companychat/internal/chat"
	"github.com/Tyrowin/companychat/internal/logging"
)

// Cached writes through to a Cache after every durable write and answers
// history reads from the cache when it holds a full page.
//
// A failed cache write makes the room stale: its cached set is dropped and
// history is read from DB until a full re-warm succeeds.
type Cached struct {
	DB     Store
	Cache  Cache
	Logger *slog.Logger

	mu    sync.Mutex
	gen   uint64
	stale map[string]uint64
}

func (c *Cached) Create(ctx context.Context, msg chat.Message) (chat.Message, error) {
	saved, err := c.DB.Create(ctx, msg)
	if err != nil {
		return chat.Message{}, err
	}
	c.put(ctx, saved)
	return saved, nil
}

func (c *Cached) Get(ctx context.Context, id string) (chat.Message, error) {
	return c.DB.Get(ctx, id)
}

func (c *Cached) Update(ctx context.Context, msg chat.Message) (chat.Message, error) {
	saved, err := c.DB.Update(ctx, msg)
	if err != nil {
		return chat.Message{}, err
	}
	c.put(ctx, saved)
	return saved, nil
}

func (c *Cached) History(ctx context.Context, roomID string, limit int) ([]chat.Message, error) {
	log := logging.OrDefault(c.Logger)

	gen, stale := c.staleGen(roomID)
	if !stale {
		cached, err := c.Cache.History(ctx, roomID, limit)
		if err != nil {
			log.Error("Could not read history from cache", "room_id", roomID, "error", err.Error())
		} else if limit > 0 && len(cached) >= limit {
			log.Debug("Got history from cache", "room_id", roomID, "count", len(cached))
			return tail(cached, limit), nil
		}
	}

	msgs, err := c.DB.History(ctx, roomID, limit)
	if err != nil {
		return nil, err
	}
	log.Debug("Got history from DB", "room_id", roomID, "count", len(msgs), "stale", stale)

	c.warm(ctx, roomID, msgs, gen, stale)
	return msgs, nil
}

// warm refills the cache for roomID from a DB page. A stale room is cleared
// first and marked fresh only when every write succeeded and no newer
// invalidation happened meanwhile.
func (c *Cached) warm(ctx context.Context, roomID string, msgs []chat.Message, gen uint64, stale bool) {
	log := logging.OrDefault(c.Logger)

	if stale {
		if err := c.Cache.Invalidate(ctx, roomID); err != nil {
			log.Error("Could not clear stale history cache", "room_id", roomID, "error", err.Error())
			return
		}
	}
	for _, m := range msgs {
		if err := c.Cache.Put(ctx, m); err != nil {
			log.Error("Could not cache message", "message_id", m.ID, "error", err.Error())
			c.invalidate(ctx, roomID)
			return
		}
	}
	if stale {
		c.mu.Lock()
		if c.stale[roomID] == gen {
			delete(c.stale, roomID)
		}
		c.mu.Unlock()
	}
}

func (c *Cached) put(ctx context.Context, msg chat.Message) {
	if err := c.Cache.Put(ctx, msg); err != nil {
		logging.OrDefault(c.Logger).Error("Could not cache message", "message_id", msg.ID, "error", err.Error())
		c.invalidate(ctx, msg.RoomID)
	}
}

// invalidate marks roomID stale and drops its cached set.
func (c *Cached) invalidate(ctx context.Context, roomID string) {
	c.mu.Lock()
	if c.stale == nil {
		c.stale = make(map[string]uint64)
	}
	c.gen++
	c.stale[roomID] = c.gen
	c.mu.Unlock()

	if err := c.Cache.Invalidate(ctx, roomID); err != nil {
		logging.OrDefault(c.Logger).Error("Could not invalidate history cache", "room_id", roomID, "error", err.Error())
	}
}

func (c *Cached) staleGen(roomID string) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	gen, ok := c.stale[roomID]
	return gen, ok
}
