package llm

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crucible-dev/crucible/pkg/models"
)

// fakeClient records conversations and replays a canned response.
type fakeClient struct {
	response  string
	err       error
	healthErr error
	calls     [][]Message
	closed    bool
}

func (f *fakeClient) Complete(_ context.Context, messages []Message) (string, error) {
	f.calls = append(f.calls, messages)
	return f.response, f.err
}

func (f *fakeClient) HealthCheck(context.Context) error { return f.healthErr }

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func TestGenerateUsesCoderPrompt(t *testing.T) {
	coder := &fakeClient{response: "package main"}
	m := NewManager(coder, &fakeClient{})

	spec := &models.TaskSpec{
		Description: "implement a queue",
		Language:    "go",
		Constraints: []string{"no external deps"},
	}
	code, err := m.Generate(context.Background(), spec)

	require.NoError(t, err)
	assert.Equal(t, "package main", code)
	require.Len(t, coder.calls, 1)
	require.Len(t, coder.calls[0], 2)
	assert.Equal(t, RoleSystem, coder.calls[0][0].Role)
	assert.Contains(t, coder.calls[0][1].Content, "implement a queue")
	assert.Contains(t, coder.calls[0][1].Content, "no external deps")
}

func TestCritiqueParsesFeedback(t *testing.T) {
	critic := &fakeClient{response: `{"quality_score": 88, "defects": []}`}
	m := NewManager(&fakeClient{}, critic)

	fb, err := m.Critique(context.Background(), "code", "go", models.DepthStandard)

	require.NoError(t, err)
	assert.Equal(t, 88, fb.QualityScore)
	require.Len(t, critic.calls, 1)
	assert.Contains(t, critic.calls[0][1].Content, "Language: go")
}

func TestCritiqueErrorPropagates(t *testing.T) {
	critic := &fakeClient{err: fmt.Errorf("provider down")}
	m := NewManager(&fakeClient{}, critic)

	_, err := m.Critique(context.Background(), "code", "go", models.DepthQuick)
	assert.ErrorContains(t, err, "provider down")
}

func TestReviseIncludesFeedback(t *testing.T) {
	coder := &fakeClient{response: "revised"}
	m := NewManager(coder, &fakeClient{})

	fb := &models.ReviewFeedback{
		QualityScore: 60,
		Defects: []models.Defect{{
			Severity: models.SeverityMajor, Category: "correctness",
			Location: "main.go:3", Description: "nil deref",
		}},
		RequiredChanges: []string{"guard the pointer"},
	}
	out, err := m.Revise(context.Background(), "old code", fb, []string{"use an option struct"})

	require.NoError(t, err)
	assert.Equal(t, "revised", out)
	prompt := coder.calls[0][1].Content
	assert.Contains(t, prompt, "old code")
	assert.Contains(t, prompt, "nil deref")
	assert.Contains(t, prompt, "guard the pointer")
	assert.Contains(t, prompt, "use an option struct")
}

func TestSetPrompts(t *testing.T) {
	m := NewManager(&fakeClient{}, &fakeClient{})

	err := m.SetPrompts(AgentCoder, map[string]string{PromptCoderSystem: "be terse"})
	require.NoError(t, err)
	assert.Equal(t, "be terse", m.prompts.Get(PromptCoderSystem))

	err = m.SetPrompts(AgentCoder, map[string]string{PromptCriticSystem: "x"})
	assert.ErrorContains(t, err, "does not belong")

	err = m.SetPrompts(AgentCritic, map[string]string{"unknown_key": "x"})
	assert.Error(t, err)
}

func TestConfigureSwapsProvider(t *testing.T) {
	oldCoder := &fakeClient{}
	replacement := &fakeClient{response: "new"}
	m := NewManager(oldCoder, &fakeClient{}).WithFactory(
		func(cfg ProviderConfig) (Client, error) { return replacement, nil })

	err := m.Configure(context.Background(), AgentCoder, ProviderConfig{Model: "gpt-4o"})

	require.NoError(t, err)
	assert.True(t, oldCoder.closed)

	out, err := m.Generate(context.Background(), &models.TaskSpec{Description: "x", Language: "go"})
	require.NoError(t, err)
	assert.Equal(t, "new", out)
}

func TestConfigureHealthCheckFailure(t *testing.T) {
	oldCritic := &fakeClient{}
	broken := &fakeClient{healthErr: fmt.Errorf("unreachable")}
	m := NewManager(&fakeClient{}, oldCritic).WithFactory(
		func(cfg ProviderConfig) (Client, error) { return broken, nil })

	err := m.Configure(context.Background(), AgentCritic, ProviderConfig{Model: "m"})

	require.ErrorContains(t, err, "health check failed")
	assert.True(t, broken.closed)
	assert.False(t, oldCritic.closed)
}

func TestConfigureUnknownAgent(t *testing.T) {
	m := NewManager(&fakeClient{}, &fakeClient{})

	err := m.Configure(context.Background(), "janitor", ProviderConfig{Model: "m"})
	assert.ErrorContains(t, err, "unknown agent type")
}
