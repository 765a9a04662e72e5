package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"github.com/tgassist/tgassist/internal/catalog"
)

// OpenAIBackend serves any OpenAI-compatible endpoint
type OpenAIBackend struct {
	client      *openai.Client
	temperature float32
}

// NewOpenAIBackend uses the public API when baseURL is empty
func NewOpenAIBackend(token, baseURL string, temperature float32) *OpenAIBackend {
	cfg := openai.DefaultConfig(token)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIBackend{
		client:      openai.NewClientWithConfig(cfg),
		temperature: temperature,
	}
}

func (o *OpenAIBackend) Complete(ctx context.Context, req Request) (Completion, error) {
	if req.Capability == catalog.CapabilityCompletion {
		return o.complete(ctx, req)
	}
	return o.chat(ctx, req)
}

func (o *OpenAIBackend) chat(ctx context.Context, req Request) (Completion, error) {
	var messages []openai.ChatCompletionMessage
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.UserText,
	})

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Tier.Model,
		Messages:    messages,
		Temperature: o.temperature,
	})
	if err != nil {
		return Completion{}, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Completion{}, errors.New("no choices in openai response")
	}

	return Completion{
		Text:         resp.Choices[0].Message.Content,
		InputTokens:  int64(resp.Usage.PromptTokens),
		OutputTokens: int64(resp.Usage.CompletionTokens),
	}, nil
}

// complete serves modes that need the legacy text completion endpoint
func (o *OpenAIBackend) complete(ctx context.Context, req Request) (Completion, error) {
	prompt := req.UserText
	if req.SystemPrompt != "" {
		prompt = req.SystemPrompt + "\n\n" + req.UserText
	}

	resp, err := o.client.CreateCompletion(ctx, openai.CompletionRequest{
		Model:       req.Tier.Model,
		Prompt:      prompt,
		Temperature: o.temperature,
		MaxTokens:   1024,
	})
	if err != nil {
		return Completion{}, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Completion{}, errors.New("no choices in openai response")
	}

	return Completion{
		Text:         resp.Choices[0].Text,
		InputTokens:  int64(resp.Usage.PromptTokens),
		OutputTokens: int64(resp.Usage.CompletionTokens),
	}, nil
}

func (o *OpenAIBackend) Close() error {
	return nil
}
