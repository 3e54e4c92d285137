package monitor_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	configmem "github.com/restockd/restockd/internal/configstore/memory"
	"github.com/restockd/restockd/internal/dispatch"
	"github.com/restockd/restockd/internal/fetch"
	"github.com/restockd/restockd/internal/monitor"
	notifymem "github.com/restockd/restockd/internal/notify/memory"
)

// loopbackResolver answers loopback addresses without touching DNS.
type loopbackResolver struct{}

func (loopbackResolver) Resolve(_ context.Context, _ string) (string, error) {
	return "127.0.0.1", nil
}

func (loopbackResolver) Probe(_ context.Context, _ string) bool { return true }

type nopWaiter struct{}

func (nopWaiter) Wait(_ context.Context, _ string) error { return nil }

func listingJSON(titles ...string) string {
	out := `{"products":[`
	for i, title := range titles {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf(`{"title":%q,"vendor":"Nike","handle":"h-%d",`+
			`"variants":[{"id":%d,"title":"US 9","price":"180.00","available":true,"inventory_quantity":2}]}`,
			title, i, 100+i)
	}
	return out + `]}`
}

type pipeline struct {
	source *configmem.Store
	sink   *notifymem.Sink
	orc    *monitor.Orchestrator
}

func newPipeline(t *testing.T, storeURLs []string, keywords []string, mutate func(*monitor.UserConfig)) *pipeline {
	t.Helper()

	cfg := monitor.UserConfig{
		UserID:        "user-1",
		MonitorDelay:  30 * time.Second,
		MinCycleDelay: time.Second,
		Enabled:       true,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	targets := make([]monitor.StoreTarget, 0, len(storeURLs))
	for _, u := range storeURLs {
		targets = append(targets, monitor.StoreTarget{URL: u, Enabled: true})
	}
	words := make([]monitor.Keyword, 0, len(keywords))
	for _, w := range keywords {
		words = append(words, monitor.Keyword{Word: w, Enabled: true})
	}

	source := configmem.New()
	source.SetUser(cfg, targets, words)

	fetcher := fetch.New(fetch.Config{}, loopbackResolver{}, nopWaiter{}, zap.NewNop())

	sink := notifymem.New()
	dispatcher := dispatch.New(sink, dispatch.Config{Spacing: time.Millisecond}, zap.NewNop())
	t.Cleanup(dispatcher.Close)

	orc := monitor.NewOrchestrator(
		monitor.OrchestratorConfig{UserID: "user-1"},
		source, fetcher, dispatcher, zap.NewNop(),
	)
	return &pipeline{source: source, sink: sink, orc: orc}
}

func TestRunCycle_MatchNotifiesOnce(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, listingJSON("Air Jordan 1 Retro", "Yeezy Boost 350"))
	}))
	defer srv.Close()

	p := newPipeline(t, []string{srv.URL}, []string{"air jordan"}, nil)

	stats, err := p.orc.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.StoresChecked)
	require.Equal(t, 1, stats.Matches)
	require.Equal(t, 1, stats.Notifications)

	require.Eventually(t, func() bool {
		return len(p.sink.Delivered()) == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, "Air Jordan 1 Retro", p.sink.Delivered()[0].Title)

	// The same listing on the next cycle produces nothing new.
	stats, err = p.orc.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.Matches)
	require.Zero(t, stats.Notifications)
	require.Len(t, p.sink.Delivered(), 1)
}

func TestRunCycle_MaxProductsCapsNotifications(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, listingJSON("Dunk Low Panda", "Dunk High Syracuse", "Dunk Low UNC"))
	}))
	defer srv.Close()

	p := newPipeline(t, []string{srv.URL}, []string{"dunk"}, func(cfg *monitor.UserConfig) {
		cfg.MaxProducts = 2
	})

	stats, err := p.orc.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, stats.Matches)
	require.Equal(t, 2, stats.Notifications)
}

func TestRunCycle_StoreFailureIsIsolated(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, listingJSON("Air Jordan 1"))
	}))
	defer srv.Close()

	// Port 1 on a distinct hostname: connection refused, separate backoff key.
	dead := "http://localhost:1"
	p := newPipeline(t, []string{srv.URL, dead}, []string{"jordan"}, nil)

	stats, err := p.orc.RunCycle(context.Background())
	require.NoError(t, err, "one failing store must not abort the cycle")
	require.Equal(t, 2, stats.StoresChecked)
	require.Equal(t, 1, stats.StoresFailed)
	require.Equal(t, 1, stats.Notifications)

	statuses := p.orc.StoreStatuses()
	require.Equal(t, monitor.StoreStatusSuccess, statuses[srv.URL])
	require.Equal(t, monitor.StoreStatusError, statuses[dead])
}

func TestRunCycle_NoKeywordsIdles(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, listingJSON("Air Jordan 1"))
	}))
	defer srv.Close()

	p := newPipeline(t, []string{srv.URL}, nil, nil)

	_, err := p.orc.RunCycle(context.Background())
	require.ErrorIs(t, err, monitor.ErrConfigMissing)
}

func TestRunCycle_UnknownUserIdles(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, nil, nil, nil)

	orc := monitor.NewOrchestrator(
		monitor.OrchestratorConfig{UserID: "ghost"},
		p.source, &failFetcher{}, &rejectEnqueuer{}, zap.NewNop(),
	)
	_, err := orc.RunCycle(context.Background())
	require.ErrorIs(t, err, monitor.ErrConfigMissing)
}

func TestRun_StopsWhenUserDisabled(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, []string{"http://localhost:1"}, []string{"jordan"}, func(cfg *monitor.UserConfig) {
		cfg.Enabled = false
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.orc.Run(context.Background())
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run loop did not exit for a disabled user")
	}
	require.Equal(t, monitor.StateStopped, p.orc.State())
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, listingJSON())
	}))
	defer srv.Close()

	p := newPipeline(t, []string{srv.URL}, []string{"jordan"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.orc.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		s := p.orc.State()
		return s == monitor.StateWaiting || s == monitor.StatePolling
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run loop did not exit on cancellation")
	}
	require.Equal(t, monitor.StateStopped, p.orc.State())
}

type failFetcher struct{}

func (failFetcher) FetchListing(_ context.Context, storeURL string) ([]monitor.ProductRecord, error) {
	return nil, &monitor.ParseError{Store: storeURL}
}

func (failFetcher) Close() {}

type rejectEnqueuer struct{}

func (rejectEnqueuer) Enqueue(_ monitor.NotificationPayload, _ func()) bool { return false }
