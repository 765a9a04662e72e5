package database

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryDB implements the account, ledger and insights operations of DB in process.
// Balance changes hold a per-account mutex, so charges for different users never contend.
type MemoryDB struct {
	mu       sync.RWMutex
	accounts map[int64]*memAccount
	topups   map[string]*TopupLog
	insights map[int64]*Insights
	nextID   int
}

type memAccount struct {
	mu sync.Mutex
	a  Account
}

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		accounts: make(map[int64]*memAccount),
		topups:   make(map[string]*TopupLog),
		insights: make(map[int64]*Insights),
	}
}

func (m *MemoryDB) account(chatID int64) (*memAccount, error) {
	m.mu.RLock()
	acc, ok := m.accounts[chatID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrAccountNotFound
	}
	return acc, nil
}

func (m *MemoryDB) GetAccount(_ context.Context, chatID int64) (*Account, error) {
	acc, err := m.account(chatID)
	if err != nil {
		return nil, err
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()
	a := acc.a
	return &a, nil
}

func (m *MemoryDB) EnsureAccount(ctx context.Context, na NewAccount) (*Account, bool, error) {
	m.mu.Lock()
	_, exists := m.accounts[na.ChatID]
	if !exists {
		m.nextID++
		now := time.Now()
		m.accounts[na.ChatID] = &memAccount{a: Account{
			ID:        m.nextID,
			ChatID:    na.ChatID,
			Username:  na.Username,
			Language:  na.Language,
			Credits:   na.Credits,
			Tier:      na.Tier,
			CreatedAt: now,
			UpdatedAt: now,
		}}
	}
	m.mu.Unlock()

	a, err := m.GetAccount(ctx, na.ChatID)
	return a, !exists, err
}

func (m *MemoryDB) SetTier(_ context.Context, chatID int64, tier string) error {
	acc, err := m.account(chatID)
	if err != nil {
		return err
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()
	acc.a.Tier = tier
	acc.a.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryDB) Balance(_ context.Context, chatID int64) (int64, error) {
	acc, err := m.account(chatID)
	if err != nil {
		return 0, err
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()
	return acc.a.Credits, nil
}

func (m *MemoryDB) Decrement(_ context.Context, chatID int64, amount int64) (int64, error) {
	return m.adjust(chatID, -amount, amount)
}

func (m *MemoryDB) Increment(_ context.Context, chatID int64, amount int64) (int64, error) {
	return m.adjust(chatID, amount, amount)
}

func (m *MemoryDB) adjust(chatID int64, delta, amount int64) (int64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("negative credit amount %d", amount)
	}
	acc, err := m.account(chatID)
	if err != nil {
		return 0, err
	}
	acc.mu.Lock()
	defer acc.mu.Unlock()
	acc.a.Credits += delta
	if acc.a.Credits < 0 {
		acc.a.Credits = 0
	}
	acc.a.UpdatedAt = time.Now()
	return acc.a.Credits, nil
}

func (m *MemoryDB) IncrementOnce(ctx context.Context, chatID int64, amount int64, reference string) (int64, bool, error) {
	if reference == "" {
		return 0, false, fmt.Errorf("top-up reference is required")
	}
	if _, err := m.account(chatID); err != nil {
		return 0, false, err
	}

	m.mu.Lock()
	if _, applied := m.topups[reference]; applied {
		m.mu.Unlock()
		bal, err := m.Balance(ctx, chatID)
		return bal, false, err
	}
	m.nextID++
	m.topups[reference] = &TopupLog{
		ID:            m.nextID,
		UID:           chatID,
		Credits:       amount,
		TransactionID: reference,
		CreatedAt:     time.Now(),
	}
	m.mu.Unlock()

	bal, err := m.Increment(ctx, chatID, amount)
	if err != nil {
		return 0, false, err
	}
	return bal, true, nil
}

func (m *MemoryDB) RecordTurn(_ context.Context, chatID int64, credits, inputTokens, outputTokens int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	in, ok := m.insights[chatID]
	if !ok {
		m.nextID++
		in = &Insights{ID: m.nextID, UID: chatID}
		m.insights[chatID] = in
	}
	in.Turns++
	in.CreditsSpent += credits
	in.TokenInput += inputTokens
	in.TokenOutput += outputTokens
	in.UpdateTime = time.Now()
	return nil
}

func (m *MemoryDB) GetInsights(_ context.Context, chatID int64) (*Insights, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if in, ok := m.insights[chatID]; ok {
		c := *in
		return &c, nil
	}
	return &Insights{UID: chatID}, nil
}

func (m *MemoryDB) GetGlobalStats(_ context.Context) (*GlobalStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &GlobalStats{TotalUsers: int64(len(m.insights))}
	for _, in := range m.insights {
		stats.TotalTurns += in.Turns
		stats.TotalCreditsSpent += in.CreditsSpent
		stats.TotalTokenInput += in.TokenInput
		stats.TotalTokenOutput += in.TokenOutput
	}
	return stats, nil
}
