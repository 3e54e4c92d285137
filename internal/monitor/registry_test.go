package monitor_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	configmem "github.com/restockd/restockd/internal/configstore/memory"
	"github.com/restockd/restockd/internal/monitor"
)

func newIdleRegistry() *monitor.Registry {
	source := configmem.New() // empty: every orchestrator idles
	factory := func(userID string) *monitor.Orchestrator {
		return monitor.NewOrchestrator(
			monitor.OrchestratorConfig{UserID: userID, IdleDelay: 10 * time.Millisecond},
			source, failFetcher{}, rejectEnqueuer{}, zap.NewNop(),
		)
	}
	return monitor.NewRegistry(factory, zap.NewNop())
}

func TestRegistry_StartStop(t *testing.T) {
	t.Parallel()

	r := newIdleRegistry()
	require.NoError(t, r.Start("user-1"))

	state, _, running := r.Status("user-1")
	require.True(t, running)
	require.Contains(t, []monitor.State{monitor.StateIdle, monitor.StatePolling}, state)

	require.NoError(t, r.Stop("user-1", time.Second))

	_, _, running = r.Status("user-1")
	require.False(t, running)
}

func TestRegistry_DuplicateStartRejected(t *testing.T) {
	t.Parallel()

	r := newIdleRegistry()
	require.NoError(t, r.Start("user-1"))
	defer func() { _ = r.Stop("user-1", time.Second) }()

	require.Error(t, r.Start("user-1"))
}

func TestRegistry_StopUnknownUser(t *testing.T) {
	t.Parallel()

	r := newIdleRegistry()
	require.Error(t, r.Stop("nobody", time.Second))
}

func TestRegistry_Snapshot(t *testing.T) {
	t.Parallel()

	r := newIdleRegistry()
	require.NoError(t, r.Start("user-1"))
	require.NoError(t, r.Start("user-2"))

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	require.Contains(t, snap, "user-1")
	require.Contains(t, snap, "user-2")

	r.StopAll(time.Second)
	require.Empty(t, r.Snapshot())
}
