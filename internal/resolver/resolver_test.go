package resolver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/restockd/restockd/internal/monitor"
)

func TestResolve_AnswersFromCache(t *testing.T) {
	t.Parallel()

	r := New(Config{}, zap.NewNop())
	r.store("kicks.example", "203.0.113.7")

	addr, err := r.Resolve(context.Background(), "kicks.example")
	require.NoError(t, err)
	require.Equal(t, "203.0.113.7", addr)
}

func TestResolve_CacheExpires(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	r := New(Config{CacheTTL: time.Hour}, zap.NewNop())
	r.now = func() time.Time { return now }
	r.store("kicks.example", "203.0.113.7")

	_, ok := r.cached("kicks.example")
	require.True(t, ok)

	now = now.Add(time.Hour + time.Second)
	_, ok = r.cached("kicks.example")
	require.False(t, ok, "entry older than the TTL must not be served")
}

func TestResolve_ExhaustedChain(t *testing.T) {
	t.Parallel()

	r := New(Config{
		AttemptTimeout:  50 * time.Millisecond,
		LifetimeTimeout: 150 * time.Millisecond,
	}, zap.NewNop())

	// The .invalid TLD is reserved and never resolves.
	_, err := r.Resolve(context.Background(), "store.invalid")
	require.ErrorIs(t, err, monitor.ErrResolutionFailure)
}

func TestResolve_Localhost(t *testing.T) {
	t.Parallel()

	r := New(Config{}, zap.NewNop())
	addr, err := r.Resolve(context.Background(), "localhost")
	require.NoError(t, err)
	require.NotEmpty(t, addr)

	// Second call must come straight from the cache.
	cached, ok := r.cached("localhost")
	require.True(t, ok)
	require.Equal(t, addr, cached)
}

func TestProbe(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	_, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)

	r := New(Config{ProbeTimeout: 500 * time.Millisecond}, zap.NewNop())
	r.probePort = port

	require.True(t, r.Probe(context.Background(), "127.0.0.1"))

	require.NoError(t, ln.Close())
	require.False(t, r.Probe(context.Background(), "127.0.0.1"),
		"probe against a closed port must report the store unreachable")
}
