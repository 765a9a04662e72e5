package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// LoadSession returns nil, nil when the user has no stored session
func (db *DB) LoadSession(ctx context.Context, chatID int64) (*SessionRecord, error) {
	if db == nil {
		return nil, ErrNotConfigured
	}

	r := &SessionRecord{}
	err := db.conn.QueryRowContext(ctx, `
	SELECT uid, state, mode_id, tier_id, system_prompt, turns, started_at, updated_at
	FROM chat_sessions
	WHERE uid = $1
	`, chatID).Scan(&r.UID, &r.State, &r.ModeID, &r.TierID, &r.SystemPrompt, &r.Turns, &r.StartedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return r, nil
}

func (db *DB) SaveSession(ctx context.Context, r *SessionRecord) error {
	if db == nil {
		return ErrNotConfigured
	}

	_, err := db.conn.ExecContext(ctx, `
	INSERT INTO chat_sessions (uid, state, mode_id, tier_id, system_prompt, turns, started_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (uid) DO UPDATE SET
		state = $2,
		mode_id = $3,
		tier_id = $4,
		system_prompt = $5,
		turns = $6,
		started_at = $7,
		updated_at = $8
	`, r.UID, r.State, r.ModeID, r.TierID, r.SystemPrompt, r.Turns, r.StartedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (db *DB) DeleteSession(ctx context.Context, chatID int64) error {
	if db == nil {
		return ErrNotConfigured
	}

	if _, err := db.conn.ExecContext(ctx, `DELETE FROM chat_sessions WHERE uid = $1`, chatID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
