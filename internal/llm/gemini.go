package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tgassist/tgassist/internal/logger"
	"google.golang.org/genai"
)

// GeminiBackend wraps the official Google Gemini Go SDK
type GeminiBackend struct {
	client      *genai.Client
	temperature float32
}

func NewGeminiBackend(ctx context.Context, apiKey string, temperature float32) (*GeminiBackend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiBackend{client: client, temperature: temperature}, nil
}

func (g *GeminiBackend) Complete(ctx context.Context, req Request) (Completion, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(g.temperature),
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.SystemPrompt}}}
	}

	resp, err := g.client.Models.GenerateContent(ctx, req.Tier.Model, genai.Text(req.UserText), cfg)
	if err != nil {
		return Completion{}, fmt.Errorf("failed to generate content: %w", err)
	}

	if len(resp.Candidates) == 0 {
		return Completion{}, fmt.Errorf("no candidates in Gemini response")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return Completion{}, fmt.Errorf("no content parts in Gemini response")
	}

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		sb.WriteString(part.Text)
	}

	out := Completion{Text: strings.TrimSpace(sb.String())}
	if resp.UsageMetadata != nil {
		out.InputTokens = int64(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int64(resp.UsageMetadata.CandidatesTokenCount)

		logger.Debug("Gemini token usage", map[string]interface{}{
			"prompt_tokens":     resp.UsageMetadata.PromptTokenCount,
			"completion_tokens": resp.UsageMetadata.CandidatesTokenCount,
		})
	}
	return out, nil
}

// Close is a no-op; the SDK client holds no resources
func (g *GeminiBackend) Close() error {
	return nil
}
