package loopguard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/crucible-dev/crucible/pkg/models"
)

func guardSession() *models.SessionState {
	s := models.NewSessionState("session-guard-test", time.Now())
	s.MaxIterations = 5
	s.TaskTimeoutMinutes = 30
	s.StartTime = time.Now().UnixMilli()
	return s
}

func TestCheckProceeds(t *testing.T) {
	g := New(DefaultConfig())
	s := guardSession()
	s.ScoreHistory = []int{60}

	v := g.Check(s, "package main\n")
	assert.False(t, v.Terminate)
	assert.True(t, s.HasHash(models.ContentDigest("package main\n")),
		"non-terminating check records the digest")
}

func TestCheckIterationCap(t *testing.T) {
	g := New(DefaultConfig())
	s := guardSession()
	s.MaxIterations = 2
	s.CurrentIteration = 1

	v := g.Check(s, "code")
	assert.True(t, v.Terminate)
	assert.Equal(t, models.ReasonMaxIterations, v.Reason)
}

func TestCheckIterationCapAllowsEarlyIterations(t *testing.T) {
	g := New(DefaultConfig())
	s := guardSession()
	s.MaxIterations = 3
	s.CurrentIteration = 1
	s.ScoreHistory = []int{40, 60}

	v := g.Check(s, "code")
	assert.False(t, v.Terminate)
}

func TestCheckTimeout(t *testing.T) {
	start := time.Now()
	g := New(DefaultConfig()).WithClock(func() time.Time {
		return start.Add(31 * time.Minute)
	})
	s := guardSession()
	s.StartTime = start.UnixMilli()
	s.TaskTimeoutMinutes = 30

	v := g.Check(s, "code")
	assert.True(t, v.Terminate)
	assert.Equal(t, models.ReasonTimeout, v.Reason)
}

func TestCheckOscillation(t *testing.T) {
	g := New(DefaultConfig())
	s := guardSession()
	s.ScoreHistory = []int{40, 60}

	v := g.Check(s, "identical revision")
	assert.False(t, v.Terminate, "first sighting proceeds")

	s.ScoreHistory = []int{40, 60, 80}
	v = g.Check(s, "identical revision")
	assert.True(t, v.Terminate, "second sighting of the same content fires")
	assert.Equal(t, models.ReasonOscillation, v.Reason)
}

func TestCheckOscillationDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OscillationEnabled = false
	g := New(cfg)
	s := guardSession()
	s.AddHash(models.ContentDigest("repeat"))
	s.ScoreHistory = []int{40, 60}

	v := g.Check(s, "repeat")
	assert.False(t, v.Terminate)
}

func TestCheckStagnation(t *testing.T) {
	g := New(Config{StagnationWindow: 2, StagnationThreshold: 2, OscillationEnabled: true})
	s := guardSession()

	// Window of two scores moving by less than the threshold.
	s.ScoreHistory = []int{70, 71}
	v := g.Check(s, "rev-a")
	assert.True(t, v.Terminate)
	assert.Equal(t, models.ReasonStagnation, v.Reason)

	// A move at the threshold is progress.
	s = guardSession()
	s.ScoreHistory = []int{70, 72}
	v = g.Check(s, "rev-b")
	assert.False(t, v.Terminate)
}

func TestCheckStagnationNeedsFullWindow(t *testing.T) {
	g := New(Config{StagnationWindow: 3, StagnationThreshold: 2, OscillationEnabled: true})
	s := guardSession()
	s.ScoreHistory = []int{70, 70}

	v := g.Check(s, "rev")
	assert.False(t, v.Terminate, "fewer scores than the window cannot stagnate")
}

func TestCheckPredicateOrder(t *testing.T) {
	// Cap and stagnation both hold; the cap wins.
	g := New(DefaultConfig())
	s := guardSession()
	s.MaxIterations = 1
	s.ScoreHistory = []int{70, 70}

	v := g.Check(s, "rev")
	assert.True(t, v.Terminate)
	assert.Equal(t, models.ReasonMaxIterations, v.Reason)
}

func TestNewAppliesDefaults(t *testing.T) {
	g := New(Config{OscillationEnabled: true})
	cfg := g.Config()
	assert.Equal(t, DefaultStagnationWindow, cfg.StagnationWindow)
	assert.Equal(t, DefaultStagnationThreshold, cfg.StagnationThreshold)
}
