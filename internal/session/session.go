// Package session implements the per-user conversation state machine and the
// credit metering around each assistant turn.
package session

import (
	"context"
	"time"
)

type State string

const (
	StateIdle         State = "idle"
	StateAwaitingTurn State = "awaiting_turn"
)

// Session is the continuation armed by a successful mode entry. The tier is
// snapshotted at entry, so later tier changes only affect the next entry.
type Session struct {
	UserID       int64
	State        State
	ModeID       string
	TierID       string
	SystemPrompt string
	Turns        int
	StartedAt    time.Time
	UpdatedAt    time.Time
}

// Armed reports whether free text should be treated as the next turn
func (s *Session) Armed() bool {
	return s != nil && s.State == StateAwaitingTurn
}

// Store keeps at most one session per user. Load returns nil, nil when none exists.
type Store interface {
	Load(ctx context.Context, userID int64) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, userID int64) error
}
