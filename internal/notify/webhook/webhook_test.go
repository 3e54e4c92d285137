package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/restockd/restockd/internal/monitor"
)

func TestDeliver_PostsPayload(t *testing.T) {
	t.Parallel()

	var received monitor.NotificationPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("X-RateLimit-Remaining", "4")
		w.Header().Set("X-RateLimit-Reset-After", "1.5")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink, err := New(srv.URL, time.Second)
	require.NoError(t, err)

	payload := monitor.NotificationPayload{ID: "p-1", Title: "Air Jordan 1", Retailer: "kicks.example"}
	info, err := sink.Deliver(context.Background(), payload)
	require.NoError(t, err)
	require.Equal(t, payload, received)
	require.Equal(t, 4, info.Remaining)
	require.Equal(t, 1500*time.Millisecond, info.ResetAfter)
	require.False(t, info.RateLimited)
}

func TestDeliver_RateLimited(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	sink, err := New(srv.URL, time.Second)
	require.NoError(t, err)

	info, err := sink.Deliver(context.Background(), monitor.NotificationPayload{ID: "p-1"})
	require.Error(t, err)
	require.True(t, info.RateLimited)
	require.Zero(t, info.Remaining)
	require.Equal(t, 3*time.Second, info.ResetAfter)
}

func TestDeliver_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sink, err := New(srv.URL, time.Second)
	require.NoError(t, err)

	info, err := sink.Deliver(context.Background(), monitor.NotificationPayload{ID: "p-1"})
	require.Error(t, err)
	require.Equal(t, http.StatusBadGateway, info.StatusCode)
	require.False(t, info.RateLimited)
}

func TestNew_RequiresURL(t *testing.T) {
	t.Parallel()

	_, err := New("", time.Second)
	require.Error(t, err)
}
