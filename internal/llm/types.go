package llm

import (
	"context"
	"errors"

	"github.com/tgassist/tgassist/internal/catalog"
)

var (
	ErrEmptyReply = errors.New("empty completion")
	ErrNoBackend  = errors.New("no completion backend for provider")
)

// Request is one assistant turn. Tier picks the backend and model.
type Request struct {
	SystemPrompt string
	UserText     string
	Tier         catalog.Tier
	Capability   catalog.Capability
}

// Completion is a usable reply with the token counts the provider reported
type Completion struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
}

// Backend talks to one provider
type Backend interface {
	Complete(ctx context.Context, req Request) (Completion, error)
	Close() error
}
