package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"github.com/tgassist/tgassist/internal/catalog"
	"github.com/tgassist/tgassist/internal/config"
	"github.com/tgassist/tgassist/internal/logger"
)

// ErrCircuitOpen is returned while a provider's breaker rejects calls
var ErrCircuitOpen = errors.New("completion provider circuit open")

type Options struct {
	BreakerFailures int
	BreakerCooldown time.Duration
}

// Client routes each request to the backend of its tier's provider. Every
// provider sits behind its own circuit breaker.
type Client struct {
	backends map[string]Backend
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewClient builds the backends the configuration has credentials for
func NewClient(ctx context.Context, cfg *config.Config) (*Client, error) {
	backends := make(map[string]Backend)

	if cfg.HasOpenAIConfig() {
		backends[catalog.ProviderOpenAI] = NewOpenAIBackend(cfg.OpenAIToken, cfg.OpenAIEndpoint, cfg.Temperature)
	}
	if cfg.HasGeminiConfig() {
		gemini, err := NewGeminiBackend(ctx, cfg.GeminiToken, cfg.Temperature)
		if err != nil {
			return nil, err
		}
		backends[catalog.ProviderGemini] = gemini
	}

	return NewClientWithBackends(backends, Options{
		BreakerFailures: cfg.BreakerFailures,
		BreakerCooldown: cfg.BreakerCooldown,
	}), nil
}

func NewClientWithBackends(backends map[string]Backend, opts Options) *Client {
	if opts.BreakerFailures <= 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = 30 * time.Second
	}

	c := &Client{
		backends: backends,
		breakers: make(map[string]*gobreaker.CircuitBreaker, len(backends)),
	}
	for provider := range backends {
		c.breakers[provider] = newBreaker(provider, opts)
	}
	return c
}

func newBreaker(provider string, opts Options) *gobreaker.CircuitBreaker {
	maxFailures := uint32(opts.BreakerFailures)
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        provider,
		MaxRequests: 1,
		Timeout:     opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// A caller giving up is not a provider fault
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Completion circuit breaker state changed", map[string]interface{}{
				"provider": name,
				"from":     from.String(),
				"to":       to.String(),
			})
		},
	})
}

// Complete runs one request through the provider's breaker. Empty replies are errors.
func (c *Client) Complete(ctx context.Context, req Request) (Completion, error) {
	provider := req.Tier.Provider
	backend, ok := c.backends[provider]
	if !ok {
		return Completion{}, fmt.Errorf("%w %q", ErrNoBackend, provider)
	}

	out, err := c.breakers[provider].Execute(func() (interface{}, error) {
		completion, err := backend.Complete(ctx, req)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(completion.Text) == "" {
			return nil, ErrEmptyReply
		}
		return completion, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Completion{}, fmt.Errorf("%w: %s", ErrCircuitOpen, provider)
	}
	if err != nil {
		return Completion{}, err
	}

	completion := out.(Completion)
	logger.Debug("Completion finished", map[string]interface{}{
		"provider":      provider,
		"model":         req.Tier.Model,
		"input_tokens":  completion.InputTokens,
		"output_tokens": completion.OutputTokens,
	})
	return completion, nil
}

// Providers lists configured backends
func (c *Client) Providers() []string {
	out := make([]string, 0, len(c.backends))
	for p := range c.backends {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// CheckCatalog fails when a tier needs a provider without credentials
func (c *Client) CheckCatalog(cat *catalog.Catalog) error {
	for _, p := range cat.Providers() {
		if _, ok := c.backends[p]; !ok {
			return fmt.Errorf("%w: tiers use provider %q but no API key is configured for it", catalog.ConfigurationError, p)
		}
	}
	return nil
}

func (c *Client) Close() error {
	var errs []error
	for _, b := range c.backends {
		if err := b.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
