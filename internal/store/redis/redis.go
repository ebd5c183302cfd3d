// Package redis caches recent room history in Redis.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Tyrowin/companychat/internal/chat"
)

const (
	messagePrefix  = "messages"
	roomPrefix     = "rooms"
	defaultMaxSize = 100
)

// Redis provides caching in Redis. Each room keeps a sorted set of message
// keys scored by creation time, and each message is stored as a hash.
type Redis struct {
	cli     *redis.Client
	maxSize int64
}

// Connect connects to the Redis server and pings the server to ensure the
// connection is working. maxSize bounds the number of messages kept per
// room; zero selects the default.
func Connect(ctx context.Context, addr string, maxSize int) (*Redis, error) {
	cli := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := cli.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}
	return &Redis{cli: cli, maxSize: int64(maxSize)}, nil
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.cli.Close()
}

func messageKey(id string) string {
	return fmt.Sprintf("%s:%s", messagePrefix, id)
}

func roomKey(roomID string) string {
	return fmt.Sprintf("%s:%s:%s", roomPrefix, roomID, messagePrefix)
}

// Put stores msg in the cache. Deleted messages are removed instead.
func (r *Redis) Put(ctx context.Context, msg chat.Message) error {
	key := messageKey(msg.ID)
	set := roomKey(msg.RoomID)

	if msg.IsDeleted {
		if _, err := r.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRem(ctx, set, key)
			pipe.Del(ctx, key)
			return nil
		}); err != nil {
			return fmt.Errorf("redis remove message: %w", err)
		}
		return nil
	}

	m, err := fromAPI(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	err = r.cli.Watch(ctx, func(tx *redis.Tx) error {
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, m)
			pipe.ZAdd(ctx, set, redis.Z{
				Score:  float64(m.CreatedAt),
				Member: key,
			})
			return nil
		})
		return err
	}, key)
	if err != nil {
		return fmt.Errorf("redis insert message: %w", err)
	}

	if err := r.evictOldest(ctx, set); err != nil {
		return fmt.Errorf("evict oldest: %w", err)
	}
	return nil
}

// History returns up to limit of the newest cached messages of roomID,
// oldest first.
func (r *Redis) History(ctx context.Context, roomID string, limit int) ([]chat.Message, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	keys, err := r.cli.ZRange(ctx, roomKey(roomID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange: %w", err)
	}

	out := make([]chat.Message, 0, len(keys))
	for _, key := range keys {
		var m message
		if err := r.cli.HGetAll(ctx, key).Scan(&m); err != nil {
			return nil, fmt.Errorf("hgetall: %w", err)
		}
		if m.ID == "" {
			// hash expired or was removed out of band
			continue
		}
		msg, err := m.APIMessage()
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		out = append(out, msg)
	}
	return out, nil
}

// Invalidate removes the room's sorted set and the message hashes it
// points at.
func (r *Redis) Invalidate(ctx context.Context, roomID string) error {
	set := roomKey(roomID)
	keys, err := r.cli.ZRange(ctx, set, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("zrange: %w", err)
	}
	if _, err := r.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, set)
		if len(keys) > 0 {
			pipe.Del(ctx, keys...)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("redis invalidate room: %w", err)
	}
	return nil
}

func (r *Redis) evictOldest(ctx context.Context, set string) error {
	vals, err := r.cli.ZRange(ctx, set, 0, -r.maxSize-1).Result()
	if err != nil {
		return fmt.Errorf("zrange: %w", err)
	}

	for _, key := range vals {
		_ = r.cli.ZRem(ctx, set, key).Err()
		_ = r.cli.Del(ctx, key).Err()
	}
	return nil
}
