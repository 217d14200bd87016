package orchestrator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLaunchRunsAndReleases(t *testing.T) {
	r := NewRunner()
	done := make(chan struct{})

	ok := r.Launch("session-a", func(ctx context.Context) {
		close(done)
	})

	require.True(t, ok)
	<-done
	assert.Eventually(t, func() bool { return !r.Active("session-a") },
		time.Second, 5*time.Millisecond)
}

func TestLaunchRefusesSecondTask(t *testing.T) {
	r := NewRunner()
	release := make(chan struct{})

	require.True(t, r.Launch("session-a", func(ctx context.Context) { <-release }))
	assert.False(t, r.Launch("session-a", func(ctx context.Context) {}))
	assert.True(t, r.Launch("session-b", func(ctx context.Context) { <-release }))
	assert.Equal(t, 2, r.ActiveCount())

	close(release)
}

func TestCancelStopsTask(t *testing.T) {
	r := NewRunner()
	cancelled := make(chan struct{})

	require.True(t, r.Launch("session-a", func(ctx context.Context) {
		<-ctx.Done()
		close(cancelled)
	}))

	assert.True(t, r.Cancel("session-a"))
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("task did not observe cancellation")
	}

	assert.False(t, r.Cancel("session-missing"))
}

func TestShutdownWaitsForTasks(t *testing.T) {
	r := NewRunner()
	var finished atomic.Bool

	require.True(t, r.Launch("session-a", func(ctx context.Context) {
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
	}))

	r.Shutdown(time.Second)

	assert.True(t, finished.Load())
	assert.False(t, r.Launch("session-b", func(ctx context.Context) {}))
}

func TestShutdownCancelsStragglers(t *testing.T) {
	r := NewRunner()
	require.True(t, r.Launch("session-a", func(ctx context.Context) {
		<-ctx.Done()
	}))

	start := time.Now()
	r.Shutdown(20 * time.Millisecond)

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 0, r.ActiveCount())
}
