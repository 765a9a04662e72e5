package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/tgassist/tgassist/internal/catalog"
	"github.com/tgassist/tgassist/internal/config"
	"github.com/tgassist/tgassist/internal/database"
	"github.com/tgassist/tgassist/internal/dispatch"
	"github.com/tgassist/tgassist/internal/llm"
	"github.com/tgassist/tgassist/internal/logger"
	"github.com/tgassist/tgassist/internal/messages"
	"github.com/tgassist/tgassist/internal/metrics"
	"github.com/tgassist/tgassist/internal/session"
	"github.com/tgassist/tgassist/internal/stripe"
	"github.com/tgassist/tgassist/internal/telegram"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	if err := logger.InitLogger(cfg.LogLevel, cfg.LogDir); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	logger.Info("tgassist is starting", map[string]interface{}{
		"log_level":     cfg.LogLevel,
		"has_database":  cfg.HasDatabaseConfig(),
		"has_openai":    cfg.HasOpenAIConfig(),
		"has_gemini":    cfg.HasGeminiConfig(),
		"has_stripe":    cfg.HasStripeConfig(),
		"session_store": cfg.SessionStore,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error("Bot error", map[string]interface{}{
			"error": err.Error(),
		})
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	cat, err := catalog.Load(cfg.CatalogFile)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	msgs, err := messages.Load(cfg.MessagesFile)
	if err != nil {
		return fmt.Errorf("failed to load messages: %w", err)
	}

	st, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	client, err := llm.NewClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create completion client: %w", err)
	}
	defer client.Close()
	if err := client.CheckCatalog(cat); err != nil {
		return err
	}

	collector := metrics.NewCollector()
	engine := session.NewEngine(cat, st.ledger, st.accounts, st.store, client, session.Options{
		InitialCredits:    cfg.InitialCredits,
		RechargeCredits:   cfg.RechargeCredits,
		CompletionTimeout: cfg.CompletionTimeout,
		DefaultLanguage:   messages.DefaultLanguage,
	}).WithRecorder(collector)

	payments, err := newPayments(cfg)
	if err != nil {
		return err
	}
	var linker dispatch.PaymentLinker
	if payments != nil {
		linker = payments
	}
	d := dispatch.New(engine, linker, dispatch.Options{
		AllowFreeRecharge: cfg.AllowFreeRecharge,
		RechargeCredits:   cfg.RechargeCredits,
	})

	api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	logger.Info("Authorized on Telegram", map[string]interface{}{
		"username": api.Self.UserName,
	})

	bot := telegram.NewBot(api, d, cat, msgs, telegram.Options{
		GlobalRate:  cfg.GlobalRateLimit,
		UserRate:    cfg.PerUserRateLimit,
		Workers:     telegram.WorkerPoolConfig{Workers: cfg.Workers, QueueSize: telegram.DefaultWorkerPoolConfig().QueueSize},
		WebhookPort: cfg.WebhookPort,
		Payments:    payments,
		Metrics:     collector,
		Health:      st.health,
		Stats:       st.stats,
		Sessions:    st.sessions,
	})

	logger.InfoMsg("🤖 Ready to answer your questions!")

	defer func() {
		if err := bot.Stop(); err != nil {
			logger.Error("Bot shutdown error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()
	return bot.Start(ctx)
}

// storage bundles the ledger, account and session backends picked by config
type storage struct {
	ledger   session.Ledger
	accounts session.Accounts
	store    session.Store
	health   func(context.Context) error
	stats    func(context.Context) (*database.GlobalStats, error)
	sessions func() int
	closers  []func() error
}

func (s *storage) Close() {
	for _, c := range s.closers {
		if err := c(); err != nil {
			logger.Warn("Failed to close storage", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}

func openStorage(cfg *config.Config) (*storage, error) {
	st := &storage{}

	var db *database.DB
	if cfg.HasDatabaseConfig() {
		var err error
		db, err = database.NewDB(cfg.PostgreDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		st.ledger, st.accounts, st.health, st.stats = db, db, db.Ping, db.GetGlobalStats
		st.closers = append(st.closers, db.Close)
	} else {
		logger.Warn("No database configured, balances are kept in memory and lost on restart", nil)
		mem := database.NewMemoryDB()
		st.ledger, st.accounts, st.stats = mem, mem, mem.GetGlobalStats
	}

	if cfg.SessionStore == "postgres" && db != nil {
		st.store = session.NewDBStore(db, cfg.SessionTTL)
	} else {
		mem := session.NewMemoryStore(cfg.SessionTTL)
		st.store, st.sessions = mem, mem.Len
		st.closers = append(st.closers, func() error { mem.Close(); return nil })
	}
	return st, nil
}

// newPayments returns nil when paid recharge is not configured
func newPayments(cfg *config.Config) (*stripe.Manager, error) {
	if !cfg.HasStripeConfig() {
		return nil, nil
	}
	sm := stripe.NewManager(cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.RechargePriceID, cfg.BaseURL)
	if err := sm.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize Stripe: %w", err)
	}
	return sm, nil
}
