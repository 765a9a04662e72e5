package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/tgassist/tgassist/internal/logger"
	"golang.org/x/time/rate"
)

// getUserRateLimiter gets or creates a rate limiter for a specific chat.
// Idle limiters expire from the cache.
func (b *Bot) getUserRateLimiter(chatID int64) *rate.Limiter {
	if limiter, ok := b.userLimiters.Get(chatID); ok {
		return limiter
	}
	limiter := rate.NewLimiter(rate.Limit(b.opts.UserRate), int(b.opts.UserRate)+2)
	b.userLimiters.Set(chatID, limiter)
	return limiter
}

func (b *Bot) wait(ctx context.Context, chatID int64) error {
	if err := b.globalLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("global rate limiter error: %w", err)
	}
	if err := b.getUserRateLimiter(chatID).Wait(ctx); err != nil {
		return fmt.Errorf("user rate limiter error: %w", err)
	}
	return nil
}

// rateLimitedSend sends a message with rate limiting
func (b *Bot) rateLimitedSend(ctx context.Context, chatID int64, msg tgbotapi.Chattable) (tgbotapi.Message, error) {
	if err := b.wait(ctx, chatID); err != nil {
		return tgbotapi.Message{}, err
	}

	logger.Debug("Sending rate-limited message", map[string]interface{}{
		"chat_id": chatID,
	})
	return b.api.Send(msg)
}

// rateLimitedRequest sends a request with rate limiting
func (b *Bot) rateLimitedRequest(ctx context.Context, chatID int64, req tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	if err := b.wait(ctx, chatID); err != nil {
		return nil, err
	}
	return b.api.Request(req)
}
