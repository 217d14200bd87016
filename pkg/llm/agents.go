package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/crucible-dev/crucible/pkg/models"
)

// Manager owns the Coder and Critic provider handles and their prompt
// templates. configure_endpoint swaps a provider at runtime after a
// health check; set_system_prompts updates templates.
type Manager struct {
	mu      sync.RWMutex
	coder   Client
	critic  Client
	prompts *Prompts

	// factory builds a client from a provider config; injectable for
	// tests.
	factory func(ProviderConfig) (Client, error)
}

// NewManager creates a manager with both roles bound to the given
// clients. The clients may be the same instance.
func NewManager(coder, critic Client) *Manager {
	return &Manager{
		coder:   coder,
		critic:  critic,
		prompts: NewPrompts(),
		factory: func(cfg ProviderConfig) (Client, error) {
			return NewOpenAIClient(cfg)
		},
	}
}

// WithFactory overrides provider construction (tests).
func (m *Manager) WithFactory(factory func(ProviderConfig) (Client, error)) *Manager {
	m.factory = factory
	return m
}

// Configure swaps the provider for one agent after a successful health
// check. The previous client is closed.
func (m *Manager) Configure(ctx context.Context, agentType string, cfg ProviderConfig) error {
	if agentType != AgentCoder && agentType != AgentCritic {
		return fmt.Errorf("unknown agent type %q", agentType)
	}
	client, err := m.factory(cfg)
	if err != nil {
		return fmt.Errorf("failed to build provider: %w", err)
	}
	if err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return fmt.Errorf("provider health check failed: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var old Client
	if agentType == AgentCoder {
		old, m.coder = m.coder, client
	} else {
		old, m.critic = m.critic, client
	}
	if old != nil {
		_ = old.Close()
	}
	slog.Info("Swapped model provider", "agent_type", agentType, "model", cfg.Model)
	return nil
}

// SetPrompts updates prompt templates for the given agent. Keys must
// belong to that agent's role.
func (m *Manager) SetPrompts(agentType string, prompts map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, value := range prompts {
		switch {
		case agentType == AgentCoder && key == PromptCoderSystem,
			agentType == AgentCritic && key == PromptCriticSystem:
			if err := m.prompts.Set(key, value); err != nil {
				return err
			}
		default:
			return fmt.Errorf("prompt key %q does not belong to agent %q", key, agentType)
		}
	}
	return nil
}

// Generate invokes the Coder with the task spec and returns the code.
func (m *Manager) Generate(ctx context.Context, spec *models.TaskSpec) (string, error) {
	m.mu.RLock()
	client := m.coder
	system := m.prompts.Get(PromptCoderSystem)
	m.mu.RUnlock()

	return client.Complete(ctx, []Message{
		{Role: RoleSystem, Content: system},
		{Role: RoleUser, Content: BuildGeneratePrompt(spec)},
	})
}

// Revise invokes the Coder with the current code and the latest
// feedback, returning the revised code.
func (m *Manager) Revise(ctx context.Context, code string, feedback *models.ReviewFeedback, patternHints []string) (string, error) {
	m.mu.RLock()
	client := m.coder
	system := m.prompts.Get(PromptCoderSystem)
	m.mu.RUnlock()

	return client.Complete(ctx, []Message{
		{Role: RoleSystem, Content: system},
		{Role: RoleUser, Content: BuildRevisePrompt(code, feedback, patternHints)},
	})
}

// Critique invokes the Critic and parses its structured feedback.
func (m *Manager) Critique(ctx context.Context, code, language string, depth models.ReviewDepth) (*models.ReviewFeedback, error) {
	m.mu.RLock()
	client := m.critic
	system := m.prompts.Get(PromptCriticSystem)
	m.mu.RUnlock()

	text, err := client.Complete(ctx, []Message{
		{Role: RoleSystem, Content: system},
		{Role: RoleUser, Content: BuildCritiquePrompt(code, language, depth)},
	})
	if err != nil {
		return nil, err
	}
	return ParseFeedback(text)
}

// GenerateTests invokes the Coder to produce a test suite for the code.
func (m *Manager) GenerateTests(ctx context.Context, code, language, framework string, coverageTarget int) (string, error) {
	m.mu.RLock()
	client := m.coder
	system := m.prompts.Get(PromptCoderSystem)
	m.mu.RUnlock()

	return client.Complete(ctx, []Message{
		{Role: RoleSystem, Content: system},
		{Role: RoleUser, Content: BuildTestSuitePrompt(code, language, framework, coverageTarget)},
	})
}

// Close releases both provider handles.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.coder != nil {
		_ = m.coder.Close()
	}
	if m.critic != nil && m.critic != m.coder {
		_ = m.critic.Close()
	}
	return nil
}
