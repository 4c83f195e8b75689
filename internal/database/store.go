package database

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"
)

// SessionStore tracks outstanding magic links so each can be redeemed once.
type SessionStore interface {
	Put(ctx context.Context, s MagicLinkSession) error
	// Consume removes the session for tokenHash. ok is false when no session
	// exists or it has expired at now; the record is removed either way.
	Consume(ctx context.Context, tokenHash string, now time.Time) (s MagicLinkSession, ok bool, err error)
	// Sweep removes every session expired at now and reports how many.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]MagicLinkSession
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]MagicLinkSession)}
}

func (m *MemoryStore) Put(_ context.Context, s MagicLinkSession) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.TokenHash] = s
	return nil
}

func (m *MemoryStore) Consume(_ context.Context, tokenHash string, now time.Time) (MagicLinkSession, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, found := m.sessions[tokenHash]
	if !found {
		return MagicLinkSession{}, false, nil
	}
	delete(m.sessions, tokenHash)
	if s.Expired(now) {
		return MagicLinkSession{}, false, nil
	}
	return s, true, nil
}

func (m *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k, s := range m.sessions {
		if s.Expired(now) {
			delete(m.sessions, k)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// GormStore persists sessions through gorm, so outstanding links survive a
// restart when the database is file backed.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (g *GormStore) Put(ctx context.Context, s MagicLinkSession) error {
	return Create(ctx, g.db, &s)
}

func (g *GormStore) Consume(ctx context.Context, tokenHash string, now time.Time) (MagicLinkSession, bool, error) {
	s, err := First[MagicLinkSession](ctx, g.db, "token_hash = ?", tokenHash)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return MagicLinkSession{}, false, nil
	}
	if err != nil {
		return MagicLinkSession{}, false, err
	}

	n, err := DeleteWhere[MagicLinkSession](ctx, g.db, "id = ?", s.ID)
	if err != nil {
		return MagicLinkSession{}, false, err
	}
	// Lost a race with a concurrent redeemer.
	if n == 0 {
		return MagicLinkSession{}, false, nil
	}
	if s.Expired(now) {
		return MagicLinkSession{}, false, nil
	}
	return s, true, nil
}

func (g *GormStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	return DeleteWhere[MagicLinkSession](ctx, g.db, "expires_at <= ?", now.Unix())
}

// Close releases the underlying connection pool.
func (g *GormStore) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Sweeper periodically drops expired sessions until ctx is cancelled.
type Sweeper struct {
	Store    SessionStore
	Interval time.Duration
	Now      func() time.Time
	Logger   *slog.Logger
}

func (s *Sweeper) Run(ctx context.Context) {
	now := s.Now
	if now == nil {
		now = time.Now
	}
	log := s.Logger
	if log == nil {
		log = slog.Default()
	}
	interval := s.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Store.Sweep(ctx, now())
			if err != nil {
				log.Warn("session sweep failed", "error", err)
				continue
			}
			if n > 0 {
				log.Debug("expired sessions removed", "count", n)
			}
		}
	}
}
