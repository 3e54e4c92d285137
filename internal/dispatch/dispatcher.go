// Package dispatch implements the outbound notification queue: a bounded
// deque drained by a single consumer that honors the sink's rate-limit
// protocol and retries failed deliveries a bounded number of times.
package dispatch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/restockd/restockd/internal/monitor"
	"github.com/restockd/restockd/internal/notify"
	"github.com/restockd/restockd/internal/telemetry"
)

// Config controls queue behavior.
type Config struct {
	// MaxDepth bounds the queue; the oldest item is evicted to admit a new
	// one when full.
	MaxDepth int
	// MaxRetries caps delivery attempts per payload before it is dropped.
	MaxRetries int
	// Spacing is the minimum gap between consecutive deliveries.
	Spacing time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxDepth <= 0 {
		c.MaxDepth = 1000
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.Spacing <= 0 {
		c.Spacing = 100 * time.Millisecond
	}
}

type item struct {
	payload   monitor.NotificationPayload
	delivered func()
	attempts  int
}

// Dispatcher owns the outbound queue. Producers are the per-store poll tasks;
// a single background consumer drains the queue and idles once empty, to be
// restarted by the next enqueue.
type Dispatcher struct {
	cfg    Config
	sink   notify.Sink
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	queue   []item
	running bool
	closed  bool

	// sink rate-limit state, updated from every response
	remaining int
	resetAt   time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool
}

// New constructs a Dispatcher.
func New(sink notify.Sink, cfg Config, logger *zap.Logger) *Dispatcher {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:       cfg,
		sink:      sink,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		remaining: -1,
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

// Enqueue admits a payload, evicting the oldest queued item when the queue is
// full. delivered, if non-nil, runs after the payload reaches the sink; the
// orchestrator uses it to record the dedup identity only on real delivery.
// Returns false only after Close.
func (d *Dispatcher) Enqueue(payload monitor.NotificationPayload, delivered func()) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	if len(d.queue) >= d.cfg.MaxDepth {
		evicted := d.queue[0]
		d.queue = d.queue[1:]
		telemetry.ObserveNotification("evicted")
		d.logger.Warn("notification queue full, dropping oldest",
			zap.String("evicted_title", evicted.payload.Title),
		)
	}
	d.queue = append(d.queue, item{payload: payload, delivered: delivered})
	telemetry.SetQueueDepth(len(d.queue))
	if !d.running {
		d.running = true
		d.wg.Add(1)
		go d.drain()
	}
	return true
}

// Depth returns the current queue depth.
func (d *Dispatcher) Depth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Close stops the consumer, waiting a bounded grace period for the in-flight
// delivery to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		d.logger.Warn("dispatcher close timed out waiting for consumer")
	}
}

func (d *Dispatcher) drain() {
	defer d.wg.Done()
	for {
		it, ok := d.pop()
		if !ok {
			return
		}
		if !d.awaitQuota() {
			d.pushFront(it)
			return
		}
		d.deliver(it)
		if !d.sleep(d.ctx, d.cfg.Spacing) {
			return
		}
	}
}

// pop removes the head or, when the queue is drained, flips the consumer to
// idle under the same lock so a concurrent Enqueue cannot miss the wakeup.
func (d *Dispatcher) pop() (item, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 || d.closed {
		d.running = false
		return item{}, false
	}
	it := d.queue[0]
	d.queue = d.queue[1:]
	telemetry.SetQueueDepth(len(d.queue))
	return it, true
}

func (d *Dispatcher) pushFront(it item) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue = append([]item{it}, d.queue...)
	d.running = false
}

// awaitQuota sleeps until the sink's reset time when the last response
// reported zero remaining quota. Returns false if the dispatcher shut down.
func (d *Dispatcher) awaitQuota() bool {
	d.mu.Lock()
	wait := time.Duration(0)
	if d.remaining == 0 {
		if until := d.resetAt.Sub(d.now()); until > 0 {
			wait = until
		}
	}
	d.mu.Unlock()
	if wait <= 0 {
		return d.ctx.Err() == nil
	}
	d.logger.Debug("sink quota exhausted, waiting", zap.Duration("wait", wait))
	return d.sleep(d.ctx, wait)
}

func (d *Dispatcher) deliver(it item) {
	info, err := d.sink.Deliver(d.ctx, it.payload)
	d.updateState(info)
	if err != nil {
		it.attempts++
		if it.attempts < d.cfg.MaxRetries {
			telemetry.ObserveNotification("retried")
			d.logger.Warn("notification delivery failed, re-enqueued",
				zap.String("title", it.payload.Title),
				zap.Int("attempts", it.attempts),
				zap.Error(err),
			)
			d.requeue(it)
			return
		}
		telemetry.ObserveNotification("dropped")
		d.logger.Error("notification dropped after retry cap",
			zap.String("title", it.payload.Title),
			zap.Int("attempts", it.attempts),
			zap.Error(err),
		)
		return
	}
	telemetry.ObserveNotification("sent")
	if it.delivered != nil {
		it.delivered()
	}
}

func (d *Dispatcher) requeue(it item) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	if len(d.queue) >= d.cfg.MaxDepth {
		d.queue = d.queue[1:]
		telemetry.ObserveNotification("evicted")
	}
	d.queue = append(d.queue, it)
	telemetry.SetQueueDepth(len(d.queue))
}

// updateState records the sink's reported quota after every response.
func (d *Dispatcher) updateState(info notify.DeliveryInfo) {
	if info.Remaining < 0 && !info.RateLimited {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.remaining = info.Remaining
	if info.ResetAfter > 0 {
		d.resetAt = d.now().Add(info.ResetAfter)
	}
}

func sleepCtx(ctx context.Context, dur time.Duration) bool {
	if dur <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
