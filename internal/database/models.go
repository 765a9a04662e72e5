package database

import (
	"errors"
	"time"
)

var (
	ErrNotConfigured   = errors.New("database not configured")
	ErrAccountNotFound = errors.New("account not found")
)

// Account is a Telegram user with a credit balance
type Account struct {
	ID        int       `db:"id" json:"id"`
	ChatID    int64     `db:"chat_id" json:"chat_id"`
	Username  string    `db:"username" json:"username"`
	Language  string    `db:"language" json:"language"`
	Credits   int64     `db:"credits" json:"credits"`
	Tier      string    `db:"tier" json:"tier"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// NewAccount describes the account to create on first contact
type NewAccount struct {
	ChatID   int64
	Username string
	Language string
	Credits  int64
	Tier     string
}

// TopupLog is one applied recharge
type TopupLog struct {
	ID            int       `db:"id" json:"id"`
	UID           int64     `db:"uid" json:"uid"`
	Credits       int64     `db:"credits" json:"credits"`
	TransactionID string    `db:"transaction_id" json:"transaction_id"` // Stripe session id or generated reference
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Insights is the lifetime usage record for one user
type Insights struct {
	ID           int       `db:"id" json:"id"`
	UID          int64     `db:"uid" json:"uid"`
	Turns        int64     `db:"turns" json:"turns"`
	CreditsSpent int64     `db:"credits_spent" json:"credits_spent"`
	TokenInput   int64     `db:"token_input" json:"token_input"`
	TokenOutput  int64     `db:"token_output" json:"token_output"`
	UpdateTime   time.Time `db:"update_time" json:"update_time"`
}

// SessionRecord is the persisted form of a conversation session
type SessionRecord struct {
	UID          int64     `db:"uid" json:"uid"`
	State        string    `db:"state" json:"state"`
	ModeID       string    `db:"mode_id" json:"mode_id"`
	TierID       string    `db:"tier_id" json:"tier_id"`
	SystemPrompt string    `db:"system_prompt" json:"system_prompt"`
	Turns        int       `db:"turns" json:"turns"`
	StartedAt    time.Time `db:"started_at" json:"started_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// GlobalStats aggregates user_insights
type GlobalStats struct {
	TotalUsers        int64 `json:"total_users"`
	TotalTurns        int64 `json:"total_turns"`
	TotalCreditsSpent int64 `json:"total_credits_spent"`
	TotalTokenInput   int64 `json:"total_token_input"`
	TotalTokenOutput  int64 `json:"total_token_output"`
}
