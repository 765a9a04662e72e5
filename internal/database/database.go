package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/tgassist/tgassist/internal/logger"
)

type DB struct {
	conn *sql.DB
}

// NewDB opens the Postgres connection and creates missing tables.
// An empty dsn means no database is configured.
func NewDB(dsn string) (*DB, error) {
	if dsn == "" {
		return nil, nil
	}

	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.initTables(); err != nil {
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}

	logger.InfoMsg("Database connection established successfully")
	return db, nil
}

func (db *DB) Close() error {
	if db != nil && db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Ping is used by the health endpoint
func (db *DB) Ping(ctx context.Context) error {
	if db == nil {
		return ErrNotConfigured
	}
	return db.conn.PingContext(ctx)
}

func (db *DB) initTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id SERIAL PRIMARY KEY,
		chat_id BIGINT UNIQUE NOT NULL,
		username VARCHAR(255) NOT NULL DEFAULT '',
		language VARCHAR(16) NOT NULL DEFAULT 'eng',
		credits BIGINT NOT NULL DEFAULT 0 CHECK (credits >= 0),
		tier VARCHAR(64) NOT NULL DEFAULT '',
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_users_chat_id ON users(chat_id);

	CREATE TABLE IF NOT EXISTS user_topup_log (
		id SERIAL PRIMARY KEY,
		uid BIGINT NOT NULL,
		credits BIGINT NOT NULL DEFAULT 0,
		transaction_id VARCHAR(255) UNIQUE NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_user_topup_log_uid ON user_topup_log(uid);

	CREATE TABLE IF NOT EXISTS user_insights (
		id SERIAL PRIMARY KEY,
		uid BIGINT UNIQUE NOT NULL,
		turns BIGINT NOT NULL DEFAULT 0,
		credits_spent BIGINT NOT NULL DEFAULT 0,
		token_input BIGINT NOT NULL DEFAULT 0,
		token_output BIGINT NOT NULL DEFAULT 0,
		update_time TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_user_insights_uid ON user_insights(uid);

	CREATE TABLE IF NOT EXISTS chat_sessions (
		uid BIGINT PRIMARY KEY,
		state VARCHAR(32) NOT NULL,
		mode_id VARCHAR(64) NOT NULL DEFAULT '',
		tier_id VARCHAR(64) NOT NULL DEFAULT '',
		system_prompt TEXT NOT NULL DEFAULT '',
		turns INTEGER NOT NULL DEFAULT 0,
		started_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);
	`

	if _, err := db.conn.Exec(query); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

const accountColumns = `id, chat_id, username, language, credits, tier, created_at, updated_at`

func scanAccount(row *sql.Row) (*Account, error) {
	a := &Account{}
	err := row.Scan(&a.ID, &a.ChatID, &a.Username, &a.Language, &a.Credits, &a.Tier, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// GetAccount returns ErrAccountNotFound for unknown chat ids
func (db *DB) GetAccount(ctx context.Context, chatID int64) (*Account, error) {
	if db == nil {
		return nil, ErrNotConfigured
	}

	row := db.conn.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM users WHERE chat_id = $1`, chatID)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

// EnsureAccount creates the account with its initial grant on first contact.
// The bool reports whether a new row was inserted.
func (db *DB) EnsureAccount(ctx context.Context, na NewAccount) (*Account, bool, error) {
	if db == nil {
		return nil, false, ErrNotConfigured
	}

	now := time.Now()
	res, err := db.conn.ExecContext(ctx, `
	INSERT INTO users (chat_id, username, language, credits, tier, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $6)
	ON CONFLICT (chat_id) DO NOTHING
	`, na.ChatID, na.Username, na.Language, na.Credits, na.Tier, now)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create account: %w", err)
	}

	created := false
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		created = true
		logger.Info("Created new account", map[string]interface{}{
			"chat_id":  na.ChatID,
			"username": na.Username,
			"credits":  na.Credits,
		})
	}

	a, err := db.GetAccount(ctx, na.ChatID)
	if err != nil {
		return nil, false, err
	}
	return a, created, nil
}

func (db *DB) SetTier(ctx context.Context, chatID int64, tier string) error {
	if db == nil {
		return ErrNotConfigured
	}

	result, err := db.conn.ExecContext(ctx, `UPDATE users SET tier = $2, updated_at = $3 WHERE chat_id = $1`, chatID, tier, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update tier: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (db *DB) Balance(ctx context.Context, chatID int64) (int64, error) {
	if db == nil {
		return 0, ErrNotConfigured
	}

	var credits int64
	err := db.conn.QueryRowContext(ctx, `SELECT credits FROM users WHERE chat_id = $1`, chatID).Scan(&credits)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	return credits, nil
}

// Decrement subtracts amount, clamping at zero, and returns the new balance.
// The single UPDATE takes the row lock so concurrent charges serialize.
func (db *DB) Decrement(ctx context.Context, chatID int64, amount int64) (int64, error) {
	return db.adjust(ctx, chatID, `UPDATE users SET credits = GREATEST(credits - $2, 0), updated_at = $3 WHERE chat_id = $1 RETURNING credits`, amount)
}

func (db *DB) Increment(ctx context.Context, chatID int64, amount int64) (int64, error) {
	return db.adjust(ctx, chatID, `UPDATE users SET credits = credits + $2, updated_at = $3 WHERE chat_id = $1 RETURNING credits`, amount)
}

func (db *DB) adjust(ctx context.Context, chatID int64, query string, amount int64) (int64, error) {
	if db == nil {
		return 0, ErrNotConfigured
	}
	if amount < 0 {
		return 0, fmt.Errorf("negative credit amount %d", amount)
	}

	var credits int64
	err := db.conn.QueryRowContext(ctx, query, chatID, amount, time.Now()).Scan(&credits)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to update balance: %w", err)
	}
	return credits, nil
}

// IncrementOnce credits a referenced top-up at most once. The bool reports whether
// this call applied it; a repeated reference returns the current balance unchanged.
func (db *DB) IncrementOnce(ctx context.Context, chatID int64, amount int64, reference string) (int64, bool, error) {
	if db == nil {
		return 0, false, ErrNotConfigured
	}
	if reference == "" {
		return 0, false, fmt.Errorf("top-up reference is required")
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	res, err := tx.ExecContext(ctx, `
	INSERT INTO user_topup_log (uid, credits, transaction_id, created_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (transaction_id) DO NOTHING
	`, chatID, amount, reference, now)
	if err != nil {
		return 0, false, fmt.Errorf("failed to create topup log: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	var credits int64
	if inserted == 0 {
		err = tx.QueryRowContext(ctx, `SELECT credits FROM users WHERE chat_id = $1`, chatID).Scan(&credits)
	} else {
		err = tx.QueryRowContext(ctx, `UPDATE users SET credits = credits + $2, updated_at = $3 WHERE chat_id = $1 RETURNING credits`, chatID, amount, now).Scan(&credits)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, ErrAccountNotFound
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to apply top-up: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("failed to commit top-up: %w", err)
	}

	if inserted > 0 {
		logger.Info("Applied top-up", map[string]interface{}{
			"uid":            chatID,
			"credits":        amount,
			"transaction_id": reference,
			"balance":        credits,
		})
	}
	return credits, inserted > 0, nil
}

// RecordTurn adds one charged turn to the user's insights
func (db *DB) RecordTurn(ctx context.Context, chatID int64, credits, inputTokens, outputTokens int64) error {
	if db == nil {
		return ErrNotConfigured
	}

	_, err := db.conn.ExecContext(ctx, `
	INSERT INTO user_insights (uid, turns, credits_spent, token_input, token_output, update_time)
	VALUES ($1, 1, $2, $3, $4, $5)
	ON CONFLICT (uid) DO UPDATE SET
		turns = user_insights.turns + 1,
		credits_spent = user_insights.credits_spent + $2,
		token_input = user_insights.token_input + $3,
		token_output = user_insights.token_output + $4,
		update_time = $5
	`, chatID, credits, inputTokens, outputTokens, time.Now())
	if err != nil {
		return fmt.Errorf("failed to record turn: %w", err)
	}
	return nil
}

// GetInsights returns a zero record for users without charged turns
func (db *DB) GetInsights(ctx context.Context, chatID int64) (*Insights, error) {
	if db == nil {
		return nil, ErrNotConfigured
	}

	in := &Insights{}
	err := db.conn.QueryRowContext(ctx, `
	SELECT id, uid, turns, credits_spent, token_input, token_output, update_time
	FROM user_insights
	WHERE uid = $1
	`, chatID).Scan(&in.ID, &in.UID, &in.Turns, &in.CreditsSpent, &in.TokenInput, &in.TokenOutput, &in.UpdateTime)
	if errors.Is(err, sql.ErrNoRows) {
		return &Insights{UID: chatID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user insights: %w", err)
	}
	return in, nil
}

func (db *DB) GetGlobalStats(ctx context.Context) (*GlobalStats, error) {
	if db == nil {
		return nil, ErrNotConfigured
	}

	stats := &GlobalStats{}
	err := db.conn.QueryRowContext(ctx, `
	SELECT
		COUNT(DISTINCT uid),
		COALESCE(SUM(turns), 0),
		COALESCE(SUM(credits_spent), 0),
		COALESCE(SUM(token_input), 0),
		COALESCE(SUM(token_output), 0)
	FROM user_insights
	`).Scan(&stats.TotalUsers, &stats.TotalTurns, &stats.TotalCreditsSpent, &stats.TotalTokenInput, &stats.TotalTokenOutput)
	if err != nil {
		return nil, fmt.Errorf("failed to get global stats: %w", err)
	}
	return stats, nil
}

// deleteAccount is only used by tests to reset fixtures
func (db *DB) deleteAccount(ctx context.Context, chatID int64) error {
	for _, q := range []string{
		`DELETE FROM chat_sessions WHERE uid = $1`,
		`DELETE FROM user_insights WHERE uid = $1`,
		`DELETE FROM user_topup_log WHERE uid = $1`,
		`DELETE FROM users WHERE chat_id = $1`,
	} {
		if _, err := db.conn.ExecContext(ctx, q, chatID); err != nil {
			return err
		}
	}
	return nil
}
