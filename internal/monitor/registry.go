package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// OrchestratorFactory builds a fresh orchestrator for a user. The registry
// owns the returned instance's lifecycle.
type OrchestratorFactory func(userID string) *Orchestrator

// Registry is the explicit start/stop/status surface a supervising component
// owns. It replaces process-scanning supervision with handles the control API
// can drive.
type Registry struct {
	factory OrchestratorFactory
	logger  *zap.Logger

	mu      sync.Mutex
	running map[string]*handle
}

type handle struct {
	orc    *Orchestrator
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRegistry constructs a Registry.
func NewRegistry(factory OrchestratorFactory, logger *zap.Logger) *Registry {
	return &Registry{
		factory: factory,
		logger:  logger,
		running: make(map[string]*handle),
	}
}

// Start launches a monitor for the user. Starting a running user is an error.
func (r *Registry) Start(userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.running[userID]; ok {
		return fmt.Errorf("monitor already running for user %s", userID)
	}

	orc := r.factory(userID)
	ctx, cancel := context.WithCancel(context.Background())
	h := &handle{orc: orc, cancel: cancel, done: make(chan struct{})}
	r.running[userID] = h

	go func() {
		defer close(h.done)
		orc.Run(ctx)
		r.mu.Lock()
		if r.running[userID] == h {
			delete(r.running, userID)
		}
		r.mu.Unlock()
	}()

	r.logger.Info("monitor started", zap.String("user_id", userID))
	return nil
}

// Stop cancels the user's monitor and waits up to grace for it to wind down.
func (r *Registry) Stop(userID string, grace time.Duration) error {
	r.mu.Lock()
	h, ok := r.running[userID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("no monitor running for user %s", userID)
	}

	h.cancel()
	select {
	case <-h.done:
	case <-time.After(grace):
		r.logger.Warn("monitor stop exceeded grace period", zap.String("user_id", userID))
	}
	r.logger.Info("monitor stopped", zap.String("user_id", userID))
	return nil
}

// Status reports the orchestrator state and last cycle for a user.
func (r *Registry) Status(userID string) (State, CycleStats, bool) {
	r.mu.Lock()
	h, ok := r.running[userID]
	r.mu.Unlock()
	if !ok {
		return StateStopped, CycleStats{}, false
	}
	return h.orc.State(), h.orc.LastStats(), true
}

// Snapshot returns the state of every running monitor.
func (r *Registry) Snapshot() map[string]State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]State, len(r.running))
	for user, h := range r.running {
		out[user] = h.orc.State()
	}
	return out
}

// StopAll cancels every monitor and waits up to grace for all of them.
func (r *Registry) StopAll(grace time.Duration) {
	r.mu.Lock()
	handles := make([]*handle, 0, len(r.running))
	for _, h := range r.running {
		h.cancel()
		handles = append(handles, h)
	}
	r.mu.Unlock()

	deadline := time.After(grace)
	for _, h := range handles {
		select {
		case <-h.done:
		case <-deadline:
			r.logger.Warn("shutdown grace period exceeded")
			return
		}
	}
}
