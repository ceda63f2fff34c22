package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tresler/httpool/config"
	"github.com/tresler/httpool/transport"
)

func testConfig(mut func(*config.Config)) config.Config {
	cfg := config.Config{
		Pool: config.Limits{
			MaxRequestsPerHTTP2Connection: 100,
			ConnectTimeout:                time.Second,
		},
	}
	if mut != nil {
		mut(&cfg)
	}
	return cfg
}

func newTestRegistry(t *testing.T, cfg config.Config, connector transport.Connector) *Registry {
	t.Helper()
	r, err := NewRegistry(cfg, connector)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
	})
	return r
}

func TestNewRegistryValidation(t *testing.T) {
	m := transport.NewMockConnector(transport.ProtocolHTTP1)

	_, err := NewRegistry(testConfig(nil), nil)
	require.Error(t, err)

	bad := testConfig(func(c *config.Config) { c.Pool.MaxPendingAcquires = -1 })
	_, err = NewRegistry(bad, m)
	require.Error(t, err)
}

func TestRegistryGetReturnsSameInstance(t *testing.T) {
	m := transport.NewMockConnector(transport.ProtocolHTTP1)
	r := newTestRegistry(t, testConfig(nil), m)

	scope := testScope()
	p1, err := r.Get(scope)
	require.NoError(t, err)
	p2, err := r.Get(scope)
	require.NoError(t, err)
	assert.Same(t, p1, p2)

	other, err := r.Get(Scope{Service: "billing", Authority: "api.internal:8443"})
	require.NoError(t, err)
	assert.NotSame(t, p1, other)
}

func TestRegistrySubmitEndToEnd(t *testing.T) {
	m := transport.NewMockConnector(transport.ProtocolHTTP1)
	r := newTestRegistry(t, testConfig(nil), m)

	f, outcome, err := r.Submit("orders", "api.internal:8443", testRequest())
	require.NoError(t, err)
	require.Equal(t, OutcomeQueued, outcome)

	resp, err := waitDone(t, f)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)

	_, _, err = r.Submit("orders", "not-an-authority", testRequest())
	require.Error(t, err)
}

// Per-service limit tables override the pool-wide defaults.
func TestRegistryPerServiceLimits(t *testing.T) {
	m := transport.NewMockConnector(transport.ProtocolHTTP1)
	cfg := testConfig(func(c *config.Config) {
		c.Services = map[string]config.Limits{
			"orders": {MaxPendingAcquires: 7},
		}
	})
	r := newTestRegistry(t, cfg, m)

	p, err := r.Get(Scope{Service: "orders", Authority: "api.internal:8443"})
	require.NoError(t, err)
	assert.Equal(t, 7, p.limits.MaxPendingAcquires)

	q, err := r.Get(Scope{Service: "billing", Authority: "api.internal:8443"})
	require.NoError(t, err)
	assert.Equal(t, 0, q.limits.MaxPendingAcquires)
}

func TestRegistrySnapshotAndLookup(t *testing.T) {
	m := transport.NewMockConnector(transport.ProtocolHTTP1)
	r := newTestRegistry(t, testConfig(nil), m)

	for _, svc := range []string{"orders", "billing"} {
		f, _, err := r.Submit(svc, "api.internal:8443", testRequest())
		require.NoError(t, err)
		_, err = waitDone(t, f)
		require.NoError(t, err)
	}

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "billing|api.internal:8443", snap[0].Scope)
	assert.Equal(t, "orders|api.internal:8443", snap[1].Scope)

	st, ok := r.Lookup(testScope())
	require.True(t, ok)
	assert.Equal(t, uint64(1), st.Submitted)

	_, ok = r.Lookup(Scope{Service: "ghost", Authority: "api.internal:8443"})
	assert.False(t, ok)
}

func TestRegistryShutdownCancelsQueuedAndDrains(t *testing.T) {
	m := transport.NewMockConnector(transport.ProtocolHTTP1)
	m.ManualConns()
	cfg := testConfig(func(c *config.Config) {
		c.Pool.MaxHTTP1Connections = 1
	})
	r, err := NewRegistry(cfg, m)
	require.NoError(t, err)

	f1, _, err := r.Submit("orders", "api.internal:8443", testRequest())
	require.NoError(t, err)
	p, err := r.Get(testScope())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return p.Stats().InFlight == 1 }, waitFor, pollTick)

	f2, _, err := r.Submit("orders", "api.internal:8443", testRequest())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		done <- r.Shutdown(ctx)
	}()

	_, err = waitDone(t, f2)
	require.ErrorIs(t, err, ErrPoolClosed)

	require.Eventually(t, func() bool { return m.Conns()[0].FinishOne() }, waitFor, pollTick)
	_, err = waitDone(t, f1)
	require.NoError(t, err)
	require.NoError(t, <-done)

	// New pools cannot be created afterwards
	_, _, err = r.Submit("orders", "other.internal:8443", testRequest())
	require.ErrorIs(t, err, ErrPoolClosed)

	// Second shutdown is a no-op
	require.NoError(t, r.Shutdown(context.Background()))
}

func TestRegistryShutdownForceClosesAfterDeadline(t *testing.T) {
	m := transport.NewMockConnector(transport.ProtocolHTTP1)
	m.ManualConns()
	cfg := testConfig(func(c *config.Config) {
		c.ShutdownDeadline = 30 * time.Millisecond
	})
	r, err := NewRegistry(cfg, m)
	require.NoError(t, err)

	f, _, err := r.Submit("orders", "api.internal:8443", testRequest())
	require.NoError(t, err)
	p, err := r.Get(testScope())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return p.Stats().InFlight == 1 }, waitFor, pollTick)

	err = r.Shutdown(context.Background())
	require.Error(t, err, "overrunning the deadline must be reported")

	assert.True(t, m.Conns()[0].Closed())
	_, err = waitDone(t, f)
	require.Error(t, err)
}
