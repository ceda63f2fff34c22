package pool

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tresler/httpool/config"
	"github.com/tresler/httpool/transport"
)

// Three concurrent requests against an empty pool with one pending
// connection allowed and two HTTP/1 connections total: one dial goes
// out immediately, the rest queue; the negotiated protocol then admits
// a second dial, and the third request waits for a freed slot.
func TestHTTP1FanOut(t *testing.T) {
	m := transport.NewMockConnector(transport.ProtocolHTTP1)
	m.ManualConns()
	m.GateDials()

	limits := testLimits(func(l *config.Limits) {
		l.MaxPendingConnections = 1
		l.MaxHTTP1Connections = 2
	})
	p := newTestPool(t, limits, m)

	f1, o1 := p.Submit(testRequest())
	f2, o2 := p.Submit(testRequest())
	f3, o3 := p.Submit(testRequest())
	assert.Equal(t, OutcomeQueued, o1)
	assert.Equal(t, OutcomeQueued, o2)
	assert.Equal(t, OutcomeQueued, o3)

	// Exactly one connection opens for three requests
	require.Eventually(t, func() bool { return m.Dials() == 1 }, waitFor, pollTick)
	st := p.Stats()
	assert.Equal(t, 1, st.PendingSlots)
	assert.Equal(t, 3, st.QueueLen)

	// First connection up: FIFO head dispatches, cap now known to be 2,
	// so a second dial goes out for the remaining demand
	m.ReleaseDial()
	require.Eventually(t, func() bool {
		st := p.Stats()
		return st.BusySlots == 1 && st.PendingSlots == 1 && st.QueueLen == 2
	}, waitFor, pollTick)
	assert.Equal(t, 2, m.Dials())

	m.ReleaseDial()
	require.Eventually(t, func() bool {
		st := p.Stats()
		return st.BusySlots == 2 && st.QueueLen == 1
	}, waitFor, pollTick)
	// HTTP/1 cap reached: the third request keeps waiting, no third dial
	assert.Equal(t, 2, m.Dials())

	// Freeing the first slot admits the third request
	conns := m.Conns()
	require.True(t, conns[0].FinishOne())
	_, err := waitDone(t, f1)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return p.Stats().QueueLen == 0 }, waitFor, pollTick)
	assert.Equal(t, 2, m.Dials())

	require.Eventually(t, func() bool { return conns[1].FinishOne() }, waitFor, pollTick)
	_, err = waitDone(t, f2)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return conns[0].FinishOne() }, waitFor, pollTick)
	_, err = waitDone(t, f3)
	require.NoError(t, err)
}

// Five requests against one HTTP/2 connection capped at two concurrent
// streams: two dispatch immediately, three queue, and completions admit
// the rest FIFO without a second connection.
func TestHTTP2Multiplexing(t *testing.T) {
	m := transport.NewMockConnector(transport.ProtocolHTTP2)
	m.ManualConns()

	limits := testLimits(func(l *config.Limits) {
		l.MaxRequestsPerHTTP2Connection = 2
	})
	p := newTestPool(t, limits, m)

	futs := make([]*Future, 5)
	for i := range futs {
		futs[i], _ = p.Submit(testRequest())
	}

	require.Eventually(t, func() bool {
		st := p.Stats()
		return st.InFlight == 2 && st.QueueLen == 3
	}, waitFor, pollTick)
	require.Equal(t, 1, m.Dials())

	conn := m.Conns()[0]
	for i := 0; i < 5; i++ {
		require.Eventually(t, func() bool { return conn.FinishOne() }, waitFor, pollTick)
		_, err := waitDone(t, futs[i])
		require.NoError(t, err, "request %d", i)
	}

	assert.Equal(t, 1, m.Dials())
	assert.Equal(t, 5, conn.Sends())
	assert.LessOrEqual(t, conn.MaxInFlight(), 2)
}

// Requests freed by completed exchanges dispatch in enqueue order.
func TestPendingQueueIsFIFO(t *testing.T) {
	m := transport.NewMockConnector(transport.ProtocolHTTP1)
	m.ManualConns()

	limits := testLimits(func(l *config.Limits) {
		l.MaxHTTP1Connections = 1
	})
	p := newTestPool(t, limits, m)

	futs := make([]*Future, 4)
	for i := range futs {
		futs[i], _ = p.Submit(testRequest())
	}

	conn := func() *transport.MockConn {
		require.Eventually(t, func() bool { return len(m.Conns()) == 1 }, waitFor, pollTick)
		return m.Conns()[0]
	}()

	for i := 0; i < 4; i++ {
		require.Eventually(t, func() bool { return conn.FinishOne() }, waitFor, pollTick)
		_, err := waitDone(t, futs[i])
		require.NoError(t, err)

		// Later requests must still be unresolved
		for j := i + 1; j < 4; j++ {
			_, _, ok := futs[j].Result()
			require.False(t, ok, "request %d resolved before request %d", j, i)
		}
	}
}

// A full pending queue rejects synchronously with a capacity error,
// distinct from a timeout.
func TestCapacityRejection(t *testing.T) {
	m := transport.NewMockConnector(transport.ProtocolHTTP1)
	m.GateDials()

	limits := testLimits(func(l *config.Limits) {
		l.MaxPendingConnections = 1
		l.MaxPendingAcquires = 1
	})
	p := newTestPool(t, limits, m)

	_, o1 := p.Submit(testRequest())
	require.Equal(t, OutcomeQueued, o1)

	f2, o2 := p.Submit(testRequest())
	require.Equal(t, OutcomeRejected, o2)

	_, err, ok := f2.Result()
	require.True(t, ok, "rejection must resolve the future synchronously")
	require.ErrorIs(t, err, ErrCapacityExceeded)
	assert.NotErrorIs(t, err, ErrAcquireTimeout)
	assert.True(t, IsPoolError(err))

	assert.Equal(t, uint64(1), p.Stats().Rejected)
	m.ReleaseDial()
}

// Under concurrent submission the pool never exceeds its connection
// caps: busy plus pending slots stay within the configured maxima.
func TestConcurrentSubmitRespectsCaps(t *testing.T) {
	m := transport.NewMockConnector(transport.ProtocolHTTP1)
	m.ManualConns()

	limits := testLimits(func(l *config.Limits) {
		l.MaxPendingConnections = 2
		l.MaxHTTP1Connections = 2
	})
	p := newTestPool(t, limits, m)

	const requests = 32
	futs := make([]*Future, requests)
	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			futs[i], _ = p.Submit(testRequest())
		}(i)
	}
	wg.Wait()

	stop := make(chan struct{})
	var observer sync.WaitGroup
	observer.Add(1)
	go func() {
		defer observer.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			st := p.Stats()
			assert.LessOrEqual(t, st.PendingSlots, 2)
			assert.LessOrEqual(t, st.BusySlots+st.PendingSlots, 2)
			time.Sleep(pollTick)
		}
	}()

	// Keep completing exchanges until every request resolves
	deadline := time.Now().Add(waitFor)
	for _, f := range futs {
		for {
			if _, _, ok := f.Result(); ok {
				break
			}
			if time.Now().After(deadline) {
				t.Fatal("requests did not all resolve")
			}
			for _, c := range m.Conns() {
				c.FinishOne()
			}
			time.Sleep(pollTick)
		}
	}
	close(stop)
	observer.Wait()

	for _, c := range m.Conns() {
		assert.LessOrEqual(t, c.MaxInFlight(), 1, "HTTP/1 connection carried concurrent requests")
	}
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "dispatched", OutcomeDispatched.String())
	assert.Equal(t, "queued", OutcomeQueued.String())
	assert.Equal(t, "rejected", OutcomeRejected.String())
	assert.Equal(t, "unknown", Outcome(99).String())
}
