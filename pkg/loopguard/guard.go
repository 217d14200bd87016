// Package loopguard evaluates the termination predicates consulted
// before each revise step: iteration cap, wall-clock timeout, content
// oscillation, and score stagnation.
package loopguard

import (
	"log/slog"
	"time"

	"github.com/crucible-dev/crucible/pkg/models"
)

// Default thresholds.
const (
	DefaultStagnationWindow    = 2
	DefaultStagnationThreshold = 2
)

// Config controls the guard predicates.
type Config struct {
	StagnationWindow    int
	StagnationThreshold int

	// OscillationEnabled gates the content-digest predicate.
	OscillationEnabled bool
}

// DefaultConfig returns the built-in guard defaults.
func DefaultConfig() Config {
	return Config{
		StagnationWindow:    DefaultStagnationWindow,
		StagnationThreshold: DefaultStagnationThreshold,
		OscillationEnabled:  true,
	}
}

// Verdict is the guard's decision. When Terminate is set, Reason names
// the first predicate that fired.
type Verdict struct {
	Terminate bool
	Reason    models.EscalationReason
}

func proceed() Verdict { return Verdict{} }

func terminate(reason models.EscalationReason) Verdict {
	return Verdict{Terminate: true, Reason: reason}
}

// Guard holds the configured thresholds. The clock is injectable for
// tests.
type Guard struct {
	cfg Config
	now func() time.Time
}

// New creates a guard with the given config. Zero window/threshold
// values fall back to defaults.
func New(cfg Config) *Guard {
	if cfg.StagnationWindow <= 0 {
		cfg.StagnationWindow = DefaultStagnationWindow
	}
	if cfg.StagnationThreshold <= 0 {
		cfg.StagnationThreshold = DefaultStagnationThreshold
	}
	return &Guard{cfg: cfg, now: time.Now}
}

// WithClock overrides the time source.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.now = now
	return g
}

// Check evaluates the four predicates in order against the session and
// the code content of the candidate revision. The first match wins.
//
// Predicates 1-2 do not mutate state. Predicate 3 adds the new digest
// to the session's content hashes as a side effect of a
// non-terminating check.
func (g *Guard) Check(session *models.SessionState, newCodeContent string) Verdict {
	// 1. Iteration cap. Entering REVISING would make the iteration
	// counter reach the cap, so a session with max N performs at most
	// N review cycles.
	if session.CurrentIteration+1 >= session.MaxIterations {
		return terminate(models.ReasonMaxIterations)
	}

	// 2. Wall-clock timeout.
	elapsed := session.ElapsedMS(g.now())
	if elapsed > int64(session.TaskTimeoutMinutes)*60_000 {
		return terminate(models.ReasonTimeout)
	}

	// 3. Oscillation.
	if g.cfg.OscillationEnabled {
		digest := models.ContentDigest(newCodeContent)
		if session.HasHash(digest) {
			slog.Info("Oscillation detected, repeated content digest",
				"session_id", session.SessionID, "digest", digest[:12])
			return terminate(models.ReasonOscillation)
		}
		session.AddHash(digest)
	}

	// 4. Stagnation.
	if g.stagnant(session.ScoreHistory) {
		return terminate(models.ReasonStagnation)
	}

	return proceed()
}

// stagnant reports whether the last StagnationWindow scores all moved
// by less than StagnationThreshold. With fewer scores than the window,
// the predicate is false regardless of values.
func (g *Guard) stagnant(history []int) bool {
	if len(history) < g.cfg.StagnationWindow {
		return false
	}
	window := history[len(history)-g.cfg.StagnationWindow:]
	// Per-step absolute deltas; the first delta is 0 by definition and
	// does not count against the threshold.
	for i := 1; i < len(window); i++ {
		delta := window[i] - window[i-1]
		if delta < 0 {
			delta = -delta
		}
		if delta >= g.cfg.StagnationThreshold {
			return false
		}
	}
	return true
}

// Config returns the effective guard configuration.
func (g *Guard) Config() Config {
	return g.cfg
}
