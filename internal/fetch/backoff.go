package fetch

import (
	"sync"
	"time"
)

const defaultMaxBackoff = 300 * time.Second

// retryTracker counts consecutive fetch failures per domain and computes the
// capped exponential backoff window. Cleared on first success.
type retryTracker struct {
	mu         sync.Mutex
	maxBackoff time.Duration
	states     map[string]retryState
	now        func() time.Time
}

type retryState struct {
	failures    int
	lastFailure time.Time
}

func newRetryTracker(maxBackoff time.Duration) *retryTracker {
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	return &retryTracker{
		maxBackoff: maxBackoff,
		states:     make(map[string]retryState),
		now:        time.Now,
	}
}

// MarkFailure records one more consecutive failure and returns the new count.
func (t *retryTracker) MarkFailure(domain string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.states[domain]
	s.failures++
	s.lastFailure = t.now()
	t.states[domain] = s
	return s.failures
}

// Clear resets the failure count after a success.
func (t *retryTracker) Clear(domain string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, domain)
}

// Blocked reports whether the domain is still inside its backoff window, and
// when the window ends. The window is min(maxBackoff, 2^failures seconds)
// after the last failure.
func (t *retryTracker) Blocked(domain string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[domain]
	if !ok || s.failures == 0 {
		return time.Time{}, false
	}
	until := s.lastFailure.Add(t.delay(s.failures))
	if t.now().Before(until) {
		return until, true
	}
	return time.Time{}, false
}

func (t *retryTracker) delay(failures int) time.Duration {
	if failures > 30 {
		return t.maxBackoff
	}
	d := time.Duration(1<<uint(failures)) * time.Second
	if d > t.maxBackoff {
		return t.maxBackoff
	}
	return d
}
