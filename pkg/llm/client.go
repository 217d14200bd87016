// Package llm provides the language-model client used by the
// orchestrator's two roles: the Coder produces and revises code, the
// Critic reviews it. The concrete client speaks the OpenAI-compatible
// chat API; calls run behind a circuit breaker.
package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"github.com/crucible-dev/crucible/pkg/crucerr"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a model conversation.
type Message struct {
	Role    string
	Content string
}

// Client is the Go-side interface for the model service. Implementations
// must honor context cancellation and deadlines.
type Client interface {
	// Complete sends a conversation and returns the model's text.
	Complete(ctx context.Context, messages []Message) (string, error)

	// HealthCheck verifies the provider endpoint is reachable.
	HealthCheck(ctx context.Context) error

	Close() error
}

// ProviderConfig describes one model provider endpoint.
type ProviderConfig struct {
	Provider  string        `json:"provider" yaml:"provider"`
	Model     string        `json:"model" yaml:"model" validate:"required"`
	BaseURL   string        `json:"base_url,omitempty" yaml:"base_url"`
	APIKeyEnv string        `json:"api_key_env,omitempty" yaml:"api_key_env"`
	Timeout   time.Duration `json:"timeout,omitempty" yaml:"timeout"`
}

// DefaultModelTimeout bounds one model call.
const DefaultModelTimeout = 10 * time.Minute

// OpenAIClient implements Client over any OpenAI-compatible endpoint.
type OpenAIClient struct {
	api     *openai.Client
	model   string
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
}

// NewOpenAIClient builds a client from the provider config. The API key
// is read from the configured environment variable.
func NewOpenAIClient(cfg ProviderConfig) (*OpenAIClient, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("provider config requires a model")
	}
	apiKey := os.Getenv(cfg.APIKeyEnv)
	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultModelTimeout
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "llm:" + cfg.Model,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &OpenAIClient{
		api:     openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		timeout: timeout,
		breaker: breaker,
	}, nil
}

// Complete implements Client.
func (c *OpenAIClient) Complete(ctx context.Context, messages []Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.breaker.Execute(func() (any, error) {
		req := openai.ChatCompletionRequest{
			Model:    c.model,
			Messages: toOpenAIMessages(messages),
		}
		resp, err := c.api.CreateChatCompletion(ctx, req)
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("model returned no choices")
		}
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", crucerr.Wrap(crucerr.KindExternalTimeout, "model call timed out", err)
		}
		return "", fmt.Errorf("model call failed: %w", err)
	}
	return out.(string), nil
}

// HealthCheck implements Client with a minimal one-token request.
func (c *OpenAIClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	_, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: 1,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: "ping"},
		},
	})
	if err != nil {
		return fmt.Errorf("provider health check failed: %w", err)
	}
	return nil
}

// Close implements Client; the HTTP client needs no teardown.
func (c *OpenAIClient) Close() error { return nil }

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		out[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return out
}
