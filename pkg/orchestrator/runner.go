package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Runner owns the background orchestration goroutines: one at most
// per session, each with a registered cancel so shutdown and abort can
// reach it.
type Runner struct {
	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup

	shuttingDown bool
}

// NewRunner creates an empty runner.
func NewRunner() *Runner {
	return &Runner{
		locks:   make(map[string]*sync.Mutex),
		cancels: make(map[string]context.CancelFunc),
	}
}

// sessionLock returns the mutex serializing writes to one session.
func (r *Runner) sessionLock(sessionID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[sessionID] = l
	}
	return l
}

// Launch starts fn on its own goroutine under a cancellable context.
// Returns false without starting when the runner is shutting down or
// the session already has an active task.
func (r *Runner) Launch(sessionID string, fn func(ctx context.Context)) bool {
	r.mu.Lock()
	if r.shuttingDown {
		r.mu.Unlock()
		return false
	}
	if _, active := r.cancels[sessionID]; active {
		r.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancels[sessionID] = cancel
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer func() {
			r.mu.Lock()
			delete(r.cancels, sessionID)
			r.mu.Unlock()
			cancel()
			r.wg.Done()
		}()
		fn(ctx)
	}()
	return true
}

// Cancel stops the session's active task if any.
func (r *Runner) Cancel(sessionID string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[sessionID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Active reports whether the session has a running task.
func (r *Runner) Active(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.cancels[sessionID]
	return ok
}

// ActiveCount returns the number of running tasks.
func (r *Runner) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cancels)
}

// Shutdown refuses new launches and waits up to grace for running
// tasks, then cancels stragglers. Idempotent.
func (r *Runner) Shutdown(grace time.Duration) {
	r.mu.Lock()
	if r.shuttingDown {
		r.mu.Unlock()
		return
	}
	r.shuttingDown = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("All orchestration tasks drained")
	case <-time.After(grace):
		r.mu.Lock()
		for id, cancel := range r.cancels {
			slog.Warn("Cancelling orchestration task at shutdown", "session_id", id)
			cancel()
		}
		r.mu.Unlock()
		<-done
	}
}
