// Package llm talks to the text generation provider.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"

	"github.com/iliamunaev/paper-order-pipeline/internal/apperr"
)

// Params tunes a single completion.
type Params struct {
	System      string
	Temperature *float32
	MaxTokens   *int
}

// Provider is any text generation backend.
type Provider interface {
	Complete(ctx context.Context, prompt string, params Params) (string, error)
}

// Config configures the OpenAI-compatible provider.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	// Timeout bounds one completion call.
	Timeout time.Duration
}

const (
	defaultModel  = "gpt-4o-mini"
	defaultSystem = "You are an experienced academic writer. Answer in plain text without markdown."
)

// OpenAIProvider implements Provider over the chat completion API.
type OpenAIProvider struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAIProvider creates a provider. BaseURL may point at any
// OpenAI-compatible endpoint.
func NewOpenAIProvider(cfg Config) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm: api key is required")
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	log.Info().Str("model", model).Str("base_url", oc.BaseURL).Msg("initializing text generation provider")
	return &OpenAIProvider{
		client:  openai.NewClientWithConfig(oc),
		model:   model,
		timeout: cfg.Timeout,
	}, nil
}

// Complete implements Provider.
func (p *OpenAIProvider) Complete(ctx context.Context, prompt string, params Params) (string, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	system := params.System
	if system == "" {
		system = defaultSystem
	}
	req := openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("llm: completion: %w", ctxErr)
		}
		return "", fmt.Errorf("llm: completion: %w: %w", apperr.ErrProviderUnavailable, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("llm: empty completion: %w", apperr.ErrProviderUnavailable)
	}
	log.Debug().Str("model", p.model).Str("finish_reason", string(resp.Choices[0].FinishReason)).Msg("completion received")
	return resp.Choices[0].Message.Content, nil
}

// Float32 returns a pointer to v.
func Float32(v float32) *float32 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }
