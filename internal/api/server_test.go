package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	configmem "github.com/restockd/restockd/internal/configstore/memory"
	"github.com/restockd/restockd/internal/monitor"
)

type fakeController struct {
	startErr error
	stopErr  error
	states   map[string]monitor.State

	started []string
	stopped []string
}

func (f *fakeController) Start(userID string) error {
	f.started = append(f.started, userID)
	return f.startErr
}

func (f *fakeController) Stop(userID string, _ time.Duration) error {
	f.stopped = append(f.stopped, userID)
	return f.stopErr
}

func (f *fakeController) Status(userID string) (monitor.State, monitor.CycleStats, bool) {
	state, ok := f.states[userID]
	if !ok {
		return monitor.StateStopped, monitor.CycleStats{}, false
	}
	return state, monitor.CycleStats{CycleID: "c-1", Matches: 2}, true
}

func (f *fakeController) Snapshot() map[string]monitor.State {
	return f.states
}

func newTestServer(t *testing.T, controller *fakeController, store *configmem.Store) *httptest.Server {
	t.Helper()
	if store == nil {
		store = configmem.New()
	}
	s := NewServer(controller, store, time.Second, zap.NewNop())
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeController{}, nil)

	var body map[string]string
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/healthz", &body))
	require.Equal(t, "ok", body["status"])
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	store := configmem.New()
	srv := newTestServer(t, &fakeController{}, store)

	var body map[string]string
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/readyz", &body))

	store.SetPingError(errors.New("connection refused"))
	require.Equal(t, http.StatusServiceUnavailable, getJSON(t, srv.URL+"/readyz", &body))
}

func TestListMonitors(t *testing.T) {
	t.Parallel()

	controller := &fakeController{states: map[string]monitor.State{
		"user-1": monitor.StateWaiting,
		"user-2": monitor.StatePolling,
	}}
	srv := newTestServer(t, controller, nil)

	var body map[string]string
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/monitors/", &body))
	require.Equal(t, "waiting", body["user-1"])
	require.Equal(t, "polling", body["user-2"])
}

func TestMonitorStatus(t *testing.T) {
	t.Parallel()

	controller := &fakeController{states: map[string]monitor.State{"user-1": monitor.StateWaiting}}
	srv := newTestServer(t, controller, nil)

	var body map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/monitors/user-1/", &body))
	require.Equal(t, "user-1", body["user_id"])
	require.Equal(t, "waiting", body["state"])

	require.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/v1/monitors/ghost/", &body))
}

func TestStartMonitor(t *testing.T) {
	t.Parallel()

	controller := &fakeController{}
	srv := newTestServer(t, controller, nil)

	var body map[string]string
	require.Equal(t, http.StatusAccepted, postJSON(t, srv.URL+"/v1/monitors/user-1/start", &body))
	require.Equal(t, []string{"user-1"}, controller.started)

	controller.startErr = fmt.Errorf("monitor already running for user user-1")
	require.Equal(t, http.StatusConflict, postJSON(t, srv.URL+"/v1/monitors/user-1/start", &body))
	require.Contains(t, body["error"], "already running")
}

func TestStopMonitor(t *testing.T) {
	t.Parallel()

	controller := &fakeController{}
	srv := newTestServer(t, controller, nil)

	var body map[string]string
	require.Equal(t, http.StatusOK, postJSON(t, srv.URL+"/v1/monitors/user-1/stop", &body))
	require.Equal(t, []string{"user-1"}, controller.stopped)

	controller.stopErr = fmt.Errorf("no monitor running for user user-1")
	require.Equal(t, http.StatusNotFound, postJSON(t, srv.URL+"/v1/monitors/user-1/stop", &body))
}

func TestRecovererConvertsPanic(t *testing.T) {
	t.Parallel()

	handler := recoverer(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
