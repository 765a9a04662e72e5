package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tgassist/tgassist/internal/catalog"
	"github.com/tgassist/tgassist/internal/database"
	"github.com/tgassist/tgassist/internal/llm"
	"github.com/tgassist/tgassist/internal/logger"
)

// Completer produces one assistant reply
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (llm.Completion, error)
}

// Ledger holds credit balances. Every method is atomic per user.
type Ledger interface {
	Balance(ctx context.Context, userID int64) (int64, error)
	Decrement(ctx context.Context, userID int64, amount int64) (int64, error)
	Increment(ctx context.Context, userID int64, amount int64) (int64, error)
	IncrementOnce(ctx context.Context, userID int64, amount int64, reference string) (int64, bool, error)
}

type Accounts interface {
	EnsureAccount(ctx context.Context, na database.NewAccount) (*database.Account, bool, error)
	SetTier(ctx context.Context, userID int64, tier string) error
	RecordTurn(ctx context.Context, userID int64, credits, inputTokens, outputTokens int64) error
	GetInsights(ctx context.Context, userID int64) (*database.Insights, error)
}

// Recorder receives engine events for metrics
type Recorder interface {
	SessionStarted(mode, tier string)
	SessionEnded(reason string)
	TurnCompleted(mode, tier string, cost int64, elapsed time.Duration)
	TurnFailed(mode, tier, reason string)
	Denied(stage string)
	Recharged(credits int64)
}

type noopRecorder struct{}

func (noopRecorder) SessionStarted(string, string)                      {}
func (noopRecorder) SessionEnded(string)                                {}
func (noopRecorder) TurnCompleted(string, string, int64, time.Duration) {}
func (noopRecorder) TurnFailed(string, string, string)                  {}
func (noopRecorder) Denied(string)                                      {}
func (noopRecorder) Recharged(int64)                                    {}

// Session end reasons reported to the Recorder
const (
	EndCommand            = "command"
	EndReplaced           = "replaced"
	EndInsufficientCredit = "insufficient_credit"
	EndCompletionFailure  = "completion_failure"
	EndLedgerFailure      = "ledger_failure"
	EndConfiguration      = "configuration"
)

type Options struct {
	InitialCredits    int64
	RechargeCredits   int64
	CompletionTimeout time.Duration
	DefaultLanguage   string
}

// User identifies who an operation is for. Username and Language are hints
// used only when the account is created.
type User struct {
	ID       int64
	Username string
	Language string
}

// Engine runs the session state machine. Operations for one user are
// serialized; different users proceed in parallel.
type Engine struct {
	catalog   *catalog.Catalog
	ledger    Ledger
	accounts  Accounts
	store     Store
	completer Completer
	recorder  Recorder
	opts      Options
	locks     *userLocks
	now       func() time.Time
}

func NewEngine(cat *catalog.Catalog, ledger Ledger, accounts Accounts, store Store, completer Completer, opts Options) *Engine {
	if opts.CompletionTimeout <= 0 {
		opts.CompletionTimeout = 60 * time.Second
	}
	if opts.DefaultLanguage == "" {
		opts.DefaultLanguage = "eng"
	}
	return &Engine{
		catalog:   cat,
		ledger:    ledger,
		accounts:  accounts,
		store:     store,
		completer: completer,
		recorder:  noopRecorder{},
		opts:      opts,
		locks:     newUserLocks(),
		now:       time.Now,
	}
}

// WithRecorder sets the metrics sink; nil restores the no-op recorder
func (e *Engine) WithRecorder(r Recorder) *Engine {
	if r == nil {
		r = noopRecorder{}
	}
	e.recorder = r
	return e
}

func (e *Engine) Catalog() *catalog.Catalog {
	return e.catalog
}

func (e *Engine) ensure(ctx context.Context, u User, res *Result) (*database.Account, bool, error) {
	acc, created, err := e.accounts.EnsureAccount(ctx, database.NewAccount{
		ChatID:   u.ID,
		Username: u.Username,
		Language: e.language(u),
		Credits:  e.opts.InitialCredits,
		Tier:     e.catalog.DefaultTier().ID,
	})
	if err != nil {
		logger.Error("Failed to ensure account", map[string]interface{}{
			"user_id": u.ID,
			"error":   err.Error(),
		})
		return nil, false, fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
	}
	res.Language = acc.Language
	return acc, created, nil
}

func (e *Engine) language(u User) string {
	if u.Language == "" {
		return e.opts.DefaultLanguage
	}
	return u.Language
}

func (e *Engine) preferredTier(acc *database.Account) catalog.Tier {
	if t, ok := e.catalog.Tier(acc.Tier); ok {
		return t
	}
	return e.catalog.DefaultTier()
}

func (e *Engine) fail(res Result, err error) Result {
	res.add(Notice{Kind: KindGenericFailure})
	res.Err = err
	return res
}

// closeSession returns the user to Idle. Store errors are logged; the caller
// has already decided the outcome.
func (e *Engine) closeSession(ctx context.Context, userID int64, reason string) {
	if err := e.store.Delete(ctx, userID); err != nil {
		logger.Error("Failed to delete session", map[string]interface{}{
			"user_id": userID,
			"reason":  reason,
			"error":   err.Error(),
		})
	}
	e.recorder.SessionEnded(reason)
}

// Start greets the user, creating the account with the initial grant on first contact
func (e *Engine) Start(ctx context.Context, u User) Result {
	unlock := e.locks.lock(u.ID)
	defer unlock()

	res := Result{UserID: u.ID}
	acc, created, err := e.ensure(ctx, u, &res)
	if err != nil {
		return e.fail(res, err)
	}

	res.add(Notice{Kind: KindStart, NewUser: created, Balance: acc.Credits, Tier: e.preferredTier(acc)})
	res.add(Notice{Kind: KindMenu, Balance: acc.Credits})
	return res
}

// Menu lists the modes
func (e *Engine) Menu(ctx context.Context, u User) Result {
	return e.simple(ctx, u, func(acc *database.Account, res *Result) {
		res.add(Notice{Kind: KindMenu, Balance: acc.Credits})
	})
}

// Help is the answer to free text when no conversation is armed
func (e *Engine) Help(ctx context.Context, u User) Result {
	return e.simple(ctx, u, func(acc *database.Account, res *Result) {
		res.add(Notice{Kind: KindHelp})
	})
}

// TierOptions shows the tiers with the user's current preference
func (e *Engine) TierOptions(ctx context.Context, u User) Result {
	return e.simple(ctx, u, func(acc *database.Account, res *Result) {
		res.add(Notice{Kind: KindTierOptions, Tier: e.preferredTier(acc), Balance: acc.Credits})
	})
}

func (e *Engine) simple(ctx context.Context, u User, fn func(acc *database.Account, res *Result)) Result {
	unlock := e.locks.lock(u.ID)
	defer unlock()

	res := Result{UserID: u.ID}
	acc, _, err := e.ensure(ctx, u, &res)
	if err != nil {
		return e.fail(res, err)
	}
	fn(acc, &res)
	return res
}

// EnterMode arms a conversation in the given mode with the user's preferred
// tier. Entry requires credit for one turn; only an allowed entry replaces an
// armed session.
func (e *Engine) EnterMode(ctx context.Context, u User, modeID string) Result {
	res := Result{UserID: u.ID}
	mode, ok := e.catalog.Mode(modeID)
	if !ok {
		return e.fail(res, fmt.Errorf("%w: mode %q", ErrUnknownOption, modeID))
	}

	unlock := e.locks.lock(u.ID)
	defer unlock()

	acc, _, err := e.ensure(ctx, u, &res)
	if err != nil {
		return e.fail(res, err)
	}

	current, err := e.store.Load(ctx, u.ID)
	if err != nil {
		e.closeSession(ctx, u.ID, EndLedgerFailure)
		return e.fail(res, fmt.Errorf("%w: %w", ErrLedgerUnavailable, err))
	}

	tier := e.preferredTier(acc)

	balance, err := e.ledger.Balance(ctx, u.ID)
	if err != nil {
		if current.Armed() {
			e.closeSession(ctx, u.ID, EndLedgerFailure)
		}
		return e.fail(res, fmt.Errorf("%w: %w", ErrLedgerUnavailable, err))
	}

	if !Allow(balance, tier.Cost) {
		e.recorder.Denied("entry")
		res.add(Notice{Kind: KindInsufficientCredit, Tier: tier, Balance: balance, Required: tier.Cost})
		res.Err = fmt.Errorf("%w: balance %d, %s costs %d", ErrInsufficientCredit, balance, tier.ID, tier.Cost)
		return res
	}

	// Only an allowed entry replaces the running conversation
	if current.Armed() {
		e.closeSession(ctx, u.ID, EndReplaced)
	}

	now := e.now()
	s := &Session{
		UserID:       u.ID,
		State:        StateAwaitingTurn,
		ModeID:       mode.ID,
		TierID:       tier.ID,
		SystemPrompt: mode.SystemPrompt,
		StartedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.store.Save(ctx, s); err != nil {
		return e.fail(res, fmt.Errorf("%w: %w", ErrLedgerUnavailable, err))
	}
	e.recorder.SessionStarted(mode.ID, tier.ID)

	logger.Debug("Session armed", map[string]interface{}{
		"user_id": u.ID,
		"mode":    mode.ID,
		"tier":    tier.ID,
	})

	res.add(Notice{Kind: KindModeGreeting, Mode: mode, Tier: tier, Balance: balance})
	return res
}

// Turn handles free text. With an armed session it runs one metered
// completion; otherwise it answers with help. Cost is deducted only after
// a usable reply, and every failure leaves the user Idle.
func (e *Engine) Turn(ctx context.Context, u User, text string) Result {
	unlock := e.locks.lock(u.ID)
	defer unlock()

	res := Result{UserID: u.ID}
	if _, _, err := e.ensure(ctx, u, &res); err != nil {
		return e.fail(res, err)
	}

	s, err := e.store.Load(ctx, u.ID)
	if err != nil {
		e.closeSession(ctx, u.ID, EndLedgerFailure)
		return e.fail(res, fmt.Errorf("%w: %w", ErrLedgerUnavailable, err))
	}
	if !s.Armed() {
		res.add(Notice{Kind: KindHelp})
		return res
	}

	mode, modeOK := e.catalog.Mode(s.ModeID)
	tier, tierOK := e.catalog.Tier(s.TierID)
	if !modeOK || !tierOK {
		e.closeSession(ctx, u.ID, EndConfiguration)
		return e.fail(res, fmt.Errorf("%w: session refers to mode %q tier %q", catalog.ConfigurationError, s.ModeID, s.TierID))
	}

	balance, err := e.ledger.Balance(ctx, u.ID)
	if err != nil {
		e.closeSession(ctx, u.ID, EndLedgerFailure)
		return e.fail(res, fmt.Errorf("%w: %w", ErrLedgerUnavailable, err))
	}

	if !Allow(balance, tier.Cost) {
		e.closeSession(ctx, u.ID, EndInsufficientCredit)
		e.recorder.Denied("turn")
		res.add(Notice{Kind: KindInsufficientCredit, Mode: mode, Tier: tier, Balance: balance, Required: tier.Cost})
		res.Err = fmt.Errorf("%w: balance %d, %s costs %d", ErrInsufficientCredit, balance, tier.ID, tier.Cost)
		return res
	}

	started := e.now()
	cctx, cancel := context.WithTimeout(ctx, e.opts.CompletionTimeout)
	completion, err := e.completer.Complete(cctx, llm.Request{
		SystemPrompt: s.SystemPrompt,
		UserText:     text,
		Tier:         tier,
		Capability:   mode.Capability,
	})
	cancel()
	if err == nil && strings.TrimSpace(completion.Text) == "" {
		err = llm.ErrEmptyReply
	}
	if err != nil {
		logger.Warn("Completion failed", map[string]interface{}{
			"user_id": u.ID,
			"mode":    mode.ID,
			"tier":    tier.ID,
			"error":   err.Error(),
		})
		e.closeSession(ctx, u.ID, EndCompletionFailure)
		e.recorder.TurnFailed(mode.ID, tier.ID, "completion")
		return e.fail(res, fmt.Errorf("%w: %w", ErrCompletionFailure, err))
	}
	elapsed := e.now().Sub(started)

	newBalance, err := e.ledger.Decrement(ctx, u.ID, tier.Cost)
	if err != nil {
		// The reply is dropped: no free reply and no partial charge
		logger.Error("Failed to charge turn", map[string]interface{}{
			"user_id": u.ID,
			"tier":    tier.ID,
			"cost":    tier.Cost,
			"error":   err.Error(),
		})
		e.closeSession(ctx, u.ID, EndLedgerFailure)
		e.recorder.TurnFailed(mode.ID, tier.ID, "ledger")
		return e.fail(res, fmt.Errorf("%w: %w", ErrLedgerUnavailable, err))
	}
	e.recorder.TurnCompleted(mode.ID, tier.ID, tier.Cost, elapsed)

	if err := e.accounts.RecordTurn(ctx, u.ID, tier.Cost, completion.InputTokens, completion.OutputTokens); err != nil {
		logger.Warn("Failed to record usage insights", map[string]interface{}{
			"user_id": u.ID,
			"error":   err.Error(),
		})
	}

	res.add(Notice{Kind: KindReply, Text: completion.Text, Mode: mode, Tier: tier, Balance: newBalance, Credits: tier.Cost})

	s.Turns++
	s.UpdatedAt = e.now()
	if err := e.store.Save(ctx, s); err != nil {
		e.closeSession(ctx, u.ID, EndLedgerFailure)
		res.add(Notice{Kind: KindConversationEnded, Mode: mode})
		res.Err = fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
	}
	return res
}

// End disarms the user's conversation. The conversation-ended notice is only
// emitted when something was armed. No charge is ever made.
func (e *Engine) End(ctx context.Context, u User) Result {
	unlock := e.locks.lock(u.ID)
	defer unlock()

	res := Result{UserID: u.ID}
	s, err := e.store.Load(ctx, u.ID)
	if err != nil {
		e.closeSession(ctx, u.ID, EndLedgerFailure)
		res.Err = fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
		return res
	}
	if !s.Armed() {
		return res
	}

	e.closeSession(ctx, u.ID, EndCommand)
	mode, _ := e.catalog.Mode(s.ModeID)
	res.add(Notice{Kind: KindConversationEnded, Mode: mode})
	return res
}

// SetTier stores the tier preference. An armed session keeps its snapshot;
// the new tier applies at the next mode entry.
func (e *Engine) SetTier(ctx context.Context, u User, tierID string) Result {
	res := Result{UserID: u.ID}
	tier, ok := e.catalog.Tier(tierID)
	if !ok {
		return e.fail(res, fmt.Errorf("%w: tier %q", ErrUnknownOption, tierID))
	}

	unlock := e.locks.lock(u.ID)
	defer unlock()

	if _, _, err := e.ensure(ctx, u, &res); err != nil {
		return e.fail(res, err)
	}
	if err := e.accounts.SetTier(ctx, u.ID, tier.ID); err != nil {
		return e.fail(res, fmt.Errorf("%w: %w", ErrLedgerUnavailable, err))
	}

	active := false
	if s, err := e.store.Load(ctx, u.ID); err == nil {
		active = s.Armed()
	}

	res.add(Notice{Kind: KindTierChanged, Tier: tier, SessionActive: active})
	return res
}

// Balance reports credits and lifetime usage
func (e *Engine) Balance(ctx context.Context, u User) Result {
	unlock := e.locks.lock(u.ID)
	defer unlock()

	res := Result{UserID: u.ID}
	acc, _, err := e.ensure(ctx, u, &res)
	if err != nil {
		return e.fail(res, err)
	}

	balance, err := e.ledger.Balance(ctx, u.ID)
	if err != nil {
		return e.fail(res, fmt.Errorf("%w: %w", ErrLedgerUnavailable, err))
	}

	n := Notice{Kind: KindBalanceReport, Balance: balance, Tier: e.preferredTier(acc)}
	if in, err := e.accounts.GetInsights(ctx, u.ID); err == nil && in != nil {
		n.Turns = in.Turns
		n.CreditsSpent = in.CreditsSpent
	} else if err != nil {
		logger.Warn("Failed to load usage insights", map[string]interface{}{
			"user_id": u.ID,
			"error":   err.Error(),
		})
	}
	res.add(n)
	return res
}

// Recharge credits the fixed top-up. A non-empty reference makes the top-up
// apply at most once; replays return a result without notices.
func (e *Engine) Recharge(ctx context.Context, u User, reference string) Result {
	unlock := e.locks.lock(u.ID)
	defer unlock()

	res := Result{UserID: u.ID}
	if _, _, err := e.ensure(ctx, u, &res); err != nil {
		return e.fail(res, err)
	}

	if reference == "" {
		reference = fmt.Sprintf("free-%d-%d", u.ID, e.now().UnixNano())
	}

	balance, applied, err := e.ledger.IncrementOnce(ctx, u.ID, e.opts.RechargeCredits, reference)
	if err != nil {
		return e.fail(res, fmt.Errorf("%w: %w", ErrLedgerUnavailable, err))
	}
	if !applied {
		logger.Info("Ignoring already applied recharge", map[string]interface{}{
			"user_id":   u.ID,
			"reference": reference,
		})
		return res
	}

	e.recorder.Recharged(e.opts.RechargeCredits)
	res.add(Notice{Kind: KindRecharged, Credits: e.opts.RechargeCredits, Balance: balance})
	return res
}
