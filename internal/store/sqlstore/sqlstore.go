// Package sqlstore provides message storage on top of bun, backed by
// PostgreSQL in production and SQLite for single-node and local setups.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	_ "modernc.org/sqlite"

	"github.com/Tyrowin/companychat/internal/chat"
)

// Store persists messages through bun.
type Store struct {
	bun *bun.DB
}

// OpenPostgres connects to PostgreSQL and pings the database to ensure the
// connection is working.
func OpenPostgres(ctx context.Context, dsn string) (*Store, error) {
	sqlDB := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{bun: bun.NewDB(sqlDB, pgdialect.New())}, nil
}

// OpenSQLite opens (or creates) a SQLite database at path. Use ":memory:"
// for a throwaway database.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single connection keeps :memory: databases alive and serializes writes
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{bun: bun.NewDB(sqlDB, sqlitedialect.New())}, nil
}

// Init creates the messages table and its history index when missing.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.bun.NewCreateTable().
		Model((*message)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	if _, err := s.bun.NewCreateIndex().
		Model((*message)(nil)).
		Index("messages_room_created_idx").
		IfNotExists().
		Column("room_id", "created_at").
		Exec(ctx); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.bun.Close()
}

// Create inserts a message. The returned message holds the generated id.
func (s *Store) Create(ctx context.Context, msg chat.Message) (chat.Message, error) {
	msg.ID = uuid.NewString()
	msg.Ephemeral = false
	row := fromAPI(msg)
	if _, err := s.bun.NewInsert().Model(row).Exec(ctx); err != nil {
		return chat.Message{}, fmt.Errorf("insert: %w", err)
	}
	out := row.APIMessage()
	out.ClientToken = msg.ClientToken
	return out, nil
}

// Get returns a message by id.
func (s *Store) Get(ctx context.Context, id string) (chat.Message, error) {
	row := new(message)
	err := s.bun.NewSelect().Model(row).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Message{}, fmt.Errorf("get %s: %w", id, chat.ErrNotFound)
	}
	if err != nil {
		return chat.Message{}, fmt.Errorf("scan: %w", err)
	}
	return row.APIMessage(), nil
}

// Update writes the mutable columns of msg.
func (s *Store) Update(ctx context.Context, msg chat.Message) (chat.Message, error) {
	row := fromAPI(msg)
	res, err := s.bun.NewUpdate().
		Model(row).
		Column("message_text", "is_edited", "edited_at", "is_deleted", "deleted_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return chat.Message{}, fmt.Errorf("update: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return chat.Message{}, fmt.Errorf("update %s: %w", msg.ID, chat.ErrNotFound)
	}
	return s.Get(ctx, msg.ID)
}

// History returns the newest limit live messages of roomID, oldest first.
func (s *Store) History(ctx context.Context, roomID string, limit int) ([]chat.Message, error) {
	var rows []message
	q := s.bun.NewSelect().
		Model(&rows).
		Where("room_id = ?", roomID).
		Where("is_deleted = ?", false).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	out := make([]chat.Message, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = r.APIMessage()
	}
	return out, nil
}
