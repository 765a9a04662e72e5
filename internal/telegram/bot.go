package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/tgassist/tgassist/internal/cache"
	"github.com/tgassist/tgassist/internal/catalog"
	"github.com/tgassist/tgassist/internal/consts"
	"github.com/tgassist/tgassist/internal/database"
	"github.com/tgassist/tgassist/internal/dispatch"
	"github.com/tgassist/tgassist/internal/logger"
	"github.com/tgassist/tgassist/internal/messages"
	"github.com/tgassist/tgassist/internal/metrics"
	"github.com/tgassist/tgassist/internal/session"
	"github.com/tgassist/tgassist/internal/stripe"
	"golang.org/x/time/rate"
)

// API is the part of tgbotapi.BotAPI the bot uses
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type Options struct {
	GlobalRate float64 // messages per second across all chats
	UserRate   float64 // messages per second per chat
	Workers    WorkerPoolConfig

	WebhookPort string
	// Payments is nil when Stripe is not configured
	Payments *stripe.Manager
	Metrics  *metrics.Collector
	// Health optionally checks dependencies for /health
	Health func(context.Context) error
	// Stats optionally reports usage totals for /stats
	Stats func(context.Context) (*database.GlobalStats, error)
	// Sessions optionally counts live in-memory sessions for /stats
	Sessions func() int
}

type Bot struct {
	api        API
	dispatcher *dispatch.Dispatcher
	catalog    *catalog.Catalog
	messages   *messages.Catalog
	metrics    *metrics.Collector
	payments   *stripe.Manager
	opts       Options

	// Rate limiting
	globalLimiter *rate.Limiter
	userLimiters  *cache.Cache[int64, *rate.Limiter]

	// Callback deduplication
	processedCallbacks *cache.Cache[string, time.Time]

	workerPool *WorkerPool
	server     *http.Server

	// Payment notices sent outside the worker pool
	notifications sync.WaitGroup
}

func NewBot(api API, d *dispatch.Dispatcher, cat *catalog.Catalog, msgs *messages.Catalog, opts Options) *Bot {
	if opts.GlobalRate <= 0 {
		opts.GlobalRate = 30
	}
	if opts.UserRate <= 0 {
		opts.UserRate = 1
	}
	if opts.Workers.Workers <= 0 {
		opts.Workers = DefaultWorkerPoolConfig()
	}

	b := &Bot{
		api:        api,
		dispatcher: d,
		catalog:    cat,
		messages:   msgs,
		metrics:    opts.Metrics,
		payments:   opts.Payments,
		opts:       opts,

		globalLimiter: rate.NewLimiter(rate.Limit(opts.GlobalRate), int(opts.GlobalRate)+1),
		userLimiters:  cache.NewWithConfig[int64, *rate.Limiter](cache.DefaultMaxSize, consts.UserLimiterIdleTTL, time.Minute),

		processedCallbacks: cache.NewWithConfig[string, time.Time](cache.DefaultMaxSize, consts.CallbackDedupTTL, time.Minute),
	}
	b.workerPool = NewWorkerPool(b.handle, opts.Workers)
	b.workerPool.depth = b.metrics.SetQueueDepth
	return b
}

// Start runs long polling until ctx is cancelled
func (b *Bot) Start(ctx context.Context) error {
	if err := b.workerPool.Start(); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	b.registerCommands()
	b.StartWebhookServer()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = consts.PollTimeoutSeconds
	u.AllowedUpdates = []string{"message", "callback_query"}

	updates := b.api.GetUpdatesChan(u)
	logger.Info("Bot started polling", map[string]interface{}{
		"global_rate_limit": b.opts.GlobalRate,
		"user_rate_limit":   b.opts.UserRate,
		"workers":           b.opts.Workers.Workers,
	})

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.enqueue(update)
		}
	}
}

func (b *Bot) enqueue(update tgbotapi.Update) {
	j, ok := jobFromUpdate(update)
	if !ok {
		logger.Debug("Update has nothing to handle, skipping", map[string]interface{}{
			"update_id": update.UpdateID,
		})
		return
	}
	j.received = time.Now()

	if err := b.workerPool.Submit(j); err != nil {
		logger.Error("Failed to submit update to worker pool", map[string]interface{}{
			"error":   err.Error(),
			"chat_id": j.chatID,
		})
	}
}

// Stop gracefully shuts down the bot, its worker pool and webhook server
func (b *Bot) Stop() error {
	logger.InfoMsg("Stopping bot...")

	var errs []error
	ctx, cancel := context.WithTimeout(context.Background(), consts.ShutdownTimeout)
	defer cancel()

	// Stop taking webhooks before waiting on the notices they started
	if b.server != nil {
		if err := b.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("webhook server shutdown: %w", err))
		}
	}
	if err := b.waitNotifications(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := b.workerPool.Stop(); err != nil {
		errs = append(errs, err)
	}
	b.userLimiters.Close()
	b.processedCallbacks.Close()

	logger.InfoMsg("Bot stopped")
	return errors.Join(errs...)
}

func (b *Bot) waitNotifications(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.notifications.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		logger.Warn("Pending payment notices not delivered before shutdown", nil)
		return fmt.Errorf("payment notices: %w", ctx.Err())
	}
}

// notify delivers a result in the background; Stop waits for it
func (b *Bot) notify(chatID int64, res session.Result) {
	b.notifications.Add(1)
	go func() {
		defer b.notifications.Done()
		b.deliver(context.Background(), chatID, res)
	}()
}

func (b *Bot) GetWorkerPoolStats() map[string]interface{} {
	return b.workerPool.GetStats()
}

// registerCommands publishes the command list shown by Telegram clients
func (b *Bot) registerCommands() {
	commands := []tgbotapi.BotCommand{
		{Command: dispatch.CmdStart, Description: consts.CmdStartDesc},
		{Command: dispatch.CmdMenu, Description: consts.CmdMenuDesc},
	}
	for _, m := range b.catalog.Modes() {
		commands = append(commands, tgbotapi.BotCommand{Command: m.Command, Description: m.Label})
	}
	commands = append(commands,
		tgbotapi.BotCommand{Command: dispatch.CmdStop, Description: consts.CmdStopDesc},
		tgbotapi.BotCommand{Command: dispatch.CmdSettings, Description: consts.CmdSettingsDesc},
		tgbotapi.BotCommand{Command: dispatch.CmdBalance, Description: consts.CmdBalanceDesc},
		tgbotapi.BotCommand{Command: dispatch.CmdRecharge, Description: consts.CmdRechargeDesc},
		tgbotapi.BotCommand{Command: dispatch.CmdHelp, Description: consts.CmdHelpDesc},
	)

	if _, err := b.api.Request(tgbotapi.NewSetMyCommands(commands...)); err != nil {
		logger.Warn("Failed to register bot commands", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// handle runs on a worker: dispatch the event, then deliver the notices
func (b *Bot) handle(ctx context.Context, j job) {
	if j.callbackID != "" {
		if b.isDuplicateCallback(j.callbackID) {
			logger.Debug("Duplicate callback detected, skipping", map[string]interface{}{
				"callback_id": j.callbackID,
			})
			b.answerCallback(ctx, j)
			return
		}
		b.markCallbackProcessed(j.callbackID)
		b.answerCallback(ctx, j)
	}

	res := b.dispatcher.Dispatch(ctx, j.event)
	b.logResult(j, res)
	b.deliver(ctx, j.chatID, res)

	elapsed := time.Since(j.received)
	b.metrics.RecordUpdate(j.event.Kind.String(), elapsed)
	logger.Debug("Update processed", map[string]interface{}{
		"chat_id":  j.chatID,
		"kind":     j.event.Kind.String(),
		"notices":  len(res.Notices),
		"duration": elapsed.String(),
	})
}

func (b *Bot) logResult(j job, res session.Result) {
	if res.Err == nil {
		return
	}
	fields := map[string]interface{}{
		"chat_id": j.chatID,
		"kind":    j.event.Kind.String(),
		"error":   res.Err.Error(),
	}
	switch {
	case errors.Is(res.Err, session.ErrInsufficientCredit), errors.Is(res.Err, session.ErrUnknownOption):
		logger.Info("Request denied", fields)
	case errors.Is(res.Err, catalog.ConfigurationError):
		logger.Error("Configuration error while handling update", fields)
	default:
		logger.Warn("Request failed", fields)
	}
}

// deliver sends every notice of a result in order
func (b *Bot) deliver(ctx context.Context, chatID int64, res session.Result) {
	lang := res.Language
	if lang == "" {
		lang = messages.DefaultLanguage
	}

	for _, n := range res.Notices {
		msgs, err := b.renderNotice(chatID, lang, n)
		if err != nil {
			logger.Error("Failed to render notice", map[string]interface{}{
				"chat_id": chatID,
				"kind":    string(n.Kind),
				"error":   err.Error(),
			})
			continue
		}
		for _, msg := range msgs {
			if _, err := b.rateLimitedSend(ctx, chatID, msg); err != nil {
				b.metrics.RecordSendError()
				logger.Error("Failed to send message", map[string]interface{}{
					"chat_id": chatID,
					"kind":    string(n.Kind),
					"error":   err.Error(),
				})
			}
		}
	}
}

func (b *Bot) answerCallback(ctx context.Context, j job) {
	if _, err := b.rateLimitedRequest(ctx, j.chatID, tgbotapi.NewCallback(j.callbackID, "")); err != nil {
		logger.Error("Failed to answer callback query", map[string]interface{}{
			"error":       err.Error(),
			"callback_id": j.callbackID,
		})
	}
}

func (b *Bot) isDuplicateCallback(callbackID string) bool {
	_, seen := b.processedCallbacks.Get(callbackID)
	return seen
}

func (b *Bot) markCallbackProcessed(callbackID string) {
	b.processedCallbacks.Set(callbackID, time.Now())
}
