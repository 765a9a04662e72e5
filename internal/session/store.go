package session

import (
	"context"
	"time"

	"github.com/tgassist/tgassist/internal/cache"
	"github.com/tgassist/tgassist/internal/database"
)

// MemoryStore holds sessions in a TTL cache. An expired session reads as Idle.
type MemoryStore struct {
	cache *cache.Cache[int64, Session]
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		cache: cache.NewWithConfig[int64, Session](cache.DefaultMaxSize, ttl, cache.DefaultCleanupInterval),
	}
}

func (m *MemoryStore) Load(_ context.Context, userID int64) (*Session, error) {
	s, ok := m.cache.Get(userID)
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *MemoryStore) Save(_ context.Context, s *Session) error {
	m.cache.Set(s.UserID, *s)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, userID int64) error {
	m.cache.Delete(userID)
	return nil
}

// Len counts live sessions
func (m *MemoryStore) Len() int {
	return len(m.cache.Keys())
}

func (m *MemoryStore) Close() {
	m.cache.Close()
}

// SessionDB is the persistence surface of database.DB used for sessions
type SessionDB interface {
	LoadSession(ctx context.Context, chatID int64) (*database.SessionRecord, error)
	SaveSession(ctx context.Context, r *database.SessionRecord) error
	DeleteSession(ctx context.Context, chatID int64) error
}

// DBStore persists sessions in the chat_sessions table. Sessions older than ttl read as Idle.
type DBStore struct {
	db  SessionDB
	ttl time.Duration
}

func NewDBStore(db SessionDB, ttl time.Duration) *DBStore {
	return &DBStore{db: db, ttl: ttl}
}

func (d *DBStore) Load(ctx context.Context, userID int64) (*Session, error) {
	r, err := d.db.LoadSession(ctx, userID)
	if err != nil || r == nil {
		return nil, err
	}
	if d.ttl > 0 && time.Since(r.UpdatedAt) > d.ttl {
		return nil, d.db.DeleteSession(ctx, userID)
	}
	return &Session{
		UserID:       r.UID,
		State:        State(r.State),
		ModeID:       r.ModeID,
		TierID:       r.TierID,
		SystemPrompt: r.SystemPrompt,
		Turns:        r.Turns,
		StartedAt:    r.StartedAt,
		UpdatedAt:    r.UpdatedAt,
	}, nil
}

func (d *DBStore) Save(ctx context.Context, s *Session) error {
	return d.db.SaveSession(ctx, &database.SessionRecord{
		UID:          s.UserID,
		State:        string(s.State),
		ModeID:       s.ModeID,
		TierID:       s.TierID,
		SystemPrompt: s.SystemPrompt,
		Turns:        s.Turns,
		StartedAt:    s.StartedAt,
		UpdatedAt:    s.UpdatedAt,
	})
}

func (d *DBStore) Delete(ctx context.Context, userID int64) error {
	return d.db.DeleteSession(ctx, userID)
}
