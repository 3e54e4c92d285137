// Package memory contains an in-memory notification sink for tests.
package memory

import (
	"context"
	"sync"

	"github.com/restockd/restockd/internal/monitor"
	"github.com/restockd/restockd/internal/notify"
)

// Sink records delivered payloads for inspection.
type Sink struct {
	mu        sync.RWMutex
	delivered []monitor.NotificationPayload

	// FailNext makes the next N deliveries return an error.
	failNext int
	err      error
}

// New returns a memory Sink.
func New() *Sink {
	return &Sink{}
}

// FailNext makes the next n deliveries fail with err.
func (s *Sink) FailNext(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
	s.err = err
}

// Deliver records the payload, unless a failure was staged.
func (s *Sink) Deliver(_ context.Context, payload monitor.NotificationPayload) (notify.DeliveryInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext > 0 {
		s.failNext--
		return notify.DeliveryInfo{Remaining: -1, StatusCode: 500}, s.err
	}
	s.delivered = append(s.delivered, payload)
	return notify.DeliveryInfo{Remaining: -1, StatusCode: 200}, nil
}

// Delivered returns a copy of the recorded payloads.
func (s *Sink) Delivered() []monitor.NotificationPayload {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]monitor.NotificationPayload, len(s.delivered))
	copy(out, s.delivered)
	return out
}
