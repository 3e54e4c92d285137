package dispatch

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/restockd/restockd/internal/monitor"
	"github.com/restockd/restockd/internal/notify/memory"
)

func payload(n int) monitor.NotificationPayload {
	return monitor.NotificationPayload{
		ID:       fmt.Sprintf("p-%d", n),
		Title:    fmt.Sprintf("Product %d", n),
		Retailer: "kicks.example",
	}
}

func TestDispatcher_FullQueueEvictsOldest(t *testing.T) {
	t.Parallel()

	d := New(memory.New(), Config{MaxDepth: 1000}, zap.NewNop())
	defer d.Close()

	// Park the consumer flag so enqueues accumulate instead of draining.
	d.mu.Lock()
	d.running = true
	d.mu.Unlock()

	for i := 0; i < 1001; i++ {
		require.True(t, d.Enqueue(payload(i), nil))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	require.Len(t, d.queue, 1000)
	require.Equal(t, "p-1", d.queue[0].payload.ID, "oldest item should have been evicted")
	require.Equal(t, "p-1000", d.queue[len(d.queue)-1].payload.ID)
}

func TestDispatcher_DeliversAndRunsCallback(t *testing.T) {
	t.Parallel()

	sink := memory.New()
	d := New(sink, Config{Spacing: time.Millisecond}, zap.NewNop())
	defer d.Close()

	recorded := make(chan struct{})
	require.True(t, d.Enqueue(payload(1), func() { close(recorded) }))

	require.Eventually(t, func() bool {
		return len(sink.Delivered()) == 1
	}, time.Second, 5*time.Millisecond)

	select {
	case <-recorded:
	case <-time.After(time.Second):
		t.Fatal("delivered callback never ran")
	}
}

func TestDispatcher_RetriesFailedDelivery(t *testing.T) {
	t.Parallel()

	sink := memory.New()
	sink.FailNext(2, errors.New("sink down"))
	d := New(sink, Config{Spacing: time.Millisecond, MaxRetries: 5}, zap.NewNop())
	defer d.Close()

	require.True(t, d.Enqueue(payload(1), nil))

	require.Eventually(t, func() bool {
		return len(sink.Delivered()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestDispatcher_DropsAfterRetryCap(t *testing.T) {
	t.Parallel()

	sink := memory.New()
	sink.FailNext(100, errors.New("sink down"))
	d := New(sink, Config{Spacing: time.Millisecond, MaxRetries: 3}, zap.NewNop())
	defer d.Close()

	delivered := false
	require.True(t, d.Enqueue(payload(1), func() { delivered = true }))

	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return len(d.queue) == 0 && !d.running
	}, time.Second, 5*time.Millisecond)

	require.Empty(t, sink.Delivered())
	require.False(t, delivered, "dropped payload must not record dedup identity")
}

func TestDispatcher_WaitsForQuotaReset(t *testing.T) {
	t.Parallel()

	sink := memory.New()
	d := New(sink, Config{Spacing: time.Millisecond}, zap.NewNop())
	defer d.Close()

	d.mu.Lock()
	d.remaining = 0
	d.resetAt = time.Now().Add(200 * time.Millisecond)
	d.mu.Unlock()

	start := time.Now()
	require.True(t, d.Enqueue(payload(1), nil))

	require.Eventually(t, func() bool {
		return len(sink.Delivered()) == 1
	}, time.Second, 5*time.Millisecond)
	require.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond,
		"delivery should have waited for the sink quota reset")
}

func TestDispatcher_EnqueueAfterCloseRejected(t *testing.T) {
	t.Parallel()

	d := New(memory.New(), Config{}, zap.NewNop())
	d.Close()
	require.False(t, d.Enqueue(payload(1), nil))
}
