package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tgassist/tgassist/internal/cache"
	"github.com/tgassist/tgassist/internal/logger"
	"github.com/tgassist/tgassist/internal/stripe"
)

// Handler returns the webhook server routes
func (b *Bot) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/stripe/webhook", b.handleStripeWebhook)
	mux.HandleFunc("/health", b.handleHealth)
	mux.HandleFunc("/stats", b.handleStats)
	if b.metrics != nil {
		mux.Handle("/metrics", promhttp.Handler())
	}
	return mux
}

// StartWebhookServer serves Stripe webhooks, health and metrics in the background
func (b *Bot) StartWebhookServer() {
	if b.opts.WebhookPort == "" {
		logger.Info("No webhook port configured, webhook server not started", nil)
		return
	}

	b.server = &http.Server{
		Addr:              ":" + b.opts.WebhookPort,
		Handler:           b.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Webhook server starting", map[string]interface{}{
			"port":            b.opts.WebhookPort,
			"stripe_enabled":  b.payments != nil,
			"metrics_enabled": b.metrics != nil,
		})
		if err := b.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Webhook server error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()
}

// handleStripeWebhook credits paid recharges and notifies the payer
func (b *Bot) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if b.payments == nil {
		logger.Error("Stripe webhook received but Stripe not configured", nil)
		http.Error(w, "Stripe not configured", http.StatusServiceUnavailable)
		return
	}

	b.payments.HandleWebhook(w, r, func(pd *stripe.PaymentData) error {
		res := b.dispatcher.ApplyPayment(r.Context(), pd.UserID, pd.SessionID)
		if res.Err != nil {
			b.metrics.RecordPayment("failed")
			return res.Err
		}

		if len(res.Notices) == 0 {
			b.metrics.RecordPayment("duplicate")
			return nil
		}
		b.metrics.RecordPayment("applied")
		logger.Info("Recharge payment applied", map[string]interface{}{
			"user_id":    pd.UserID,
			"session_id": pd.SessionID,
			"amount":     pd.Amount,
		})

		// The webhook answer must not wait on Telegram rate limits
		b.notify(pd.UserID, res)
		return nil
	})
}

func (b *Bot) handleHealth(w http.ResponseWriter, r *http.Request) {
	if b.opts.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := b.opts.Health(ctx); err != nil {
			logger.Warn("Health check failed", map[string]interface{}{
				"error": err.Error(),
			})
			http.Error(w, "Unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// handleStats reports worker pool and cache state and, when available, usage totals
func (b *Bot) handleStats(w http.ResponseWriter, r *http.Request) {
	out := map[string]interface{}{
		"workers": b.GetWorkerPoolStats(),
		"caches": map[string]cache.Stats{
			"rate_limiters": b.userLimiters.GetStats(),
			"callbacks":     b.processedCallbacks.GetStats(),
		},
	}
	if b.opts.Sessions != nil {
		out["sessions"] = b.opts.Sessions()
	}
	if b.opts.Stats != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		stats, err := b.opts.Stats(ctx)
		if err != nil {
			logger.Warn("Failed to load usage stats", map[string]interface{}{
				"error": err.Error(),
			})
			http.Error(w, "Stats unavailable", http.StatusServiceUnavailable)
			return
		}
		out["usage"] = stats
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		logger.Error("Failed to write stats", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
