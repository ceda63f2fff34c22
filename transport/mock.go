package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
)

// MockConnector implements Connector for testing. Dials can be scripted
// to fail, to block until released, and to negotiate a chosen protocol.
type MockConnector struct {
	mu          sync.Mutex
	protocol    Protocol
	failFirst   int
	dials       int
	gate        chan struct{}
	manualConns bool
	conns       []*MockConn
}

// NewMockConnector creates a mock connector negotiating the given protocol
func NewMockConnector(protocol Protocol) *MockConnector {
	return &MockConnector{protocol: protocol}
}

// FailFirst makes the next n dials fail with a connect error
func (m *MockConnector) FailFirst(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failFirst = n
}

// ManualConns makes every connection handed out start in manual mode
func (m *MockConnector) ManualConns() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.manualConns = true
}

// GateDials makes each subsequent dial block until ReleaseDial is called
func (m *MockConnector) GateDials() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gate = make(chan struct{})
}

// ReleaseDial lets one gated dial proceed
func (m *MockConnector) ReleaseDial() {
	m.mu.Lock()
	gate := m.gate
	m.mu.Unlock()
	if gate != nil {
		gate <- struct{}{}
	}
}

// Connect implements Connector
func (m *MockConnector) Connect(ctx context.Context, authority string) (Conn, error) {
	m.mu.Lock()
	m.dials++
	dial := m.dials
	fail := m.failFirst > 0
	if fail {
		m.failFirst--
	}
	gate := m.gate
	manual := m.manualConns
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if fail {
		return nil, fmt.Errorf("mock connect failure %d to %s", dial, authority)
	}

	conn := &MockConn{proto: m.protocol, authority: authority, manual: manual}
	m.mu.Lock()
	m.conns = append(m.conns, conn)
	m.mu.Unlock()
	return conn, nil
}

// Dials returns the number of Connect calls observed
func (m *MockConnector) Dials() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dials
}

// Conns returns every connection handed out so far
func (m *MockConnector) Conns() []*MockConn {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MockConn, len(m.conns))
	copy(out, m.conns)
	return out
}

// MockConn is a scriptable connection for testing. In manual mode each
// Send blocks until the test finishes or fails it, which lets tests
// hold requests in flight deterministically.
type MockConn struct {
	proto     Protocol
	authority string

	mu      sync.Mutex
	manual  bool
	waiters []chan error
	sendErr error

	inFlight    int32
	maxInFlight int32
	sends       int32
	closed      int32
}

// SetManual switches the connection to manual completion mode
func (c *MockConn) SetManual(manual bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.manual = manual
}

// SetSendError makes every subsequent Send fail with err
func (c *MockConn) SetSendError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// FinishOne completes the oldest blocked Send successfully
func (c *MockConn) FinishOne() bool {
	return c.releaseOne(nil)
}

// FailOne completes the oldest blocked Send with err
func (c *MockConn) FailOne(err error) bool {
	return c.releaseOne(err)
}

func (c *MockConn) releaseOne(err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.waiters) == 0 {
		return false
	}
	w := c.waiters[0]
	c.waiters = c.waiters[1:]
	w <- err
	return true
}

// Protocol implements Conn
func (c *MockConn) Protocol() Protocol {
	return c.proto
}

// Send implements Conn
func (c *MockConn) Send(ctx context.Context, req *Request) (*Response, error) {
	if atomic.LoadInt32(&c.closed) == 1 {
		return nil, net.ErrClosed
	}
	atomic.AddInt32(&c.sends, 1)
	n := atomic.AddInt32(&c.inFlight, 1)
	for {
		max := atomic.LoadInt32(&c.maxInFlight)
		if n <= max || atomic.CompareAndSwapInt32(&c.maxInFlight, max, n) {
			break
		}
	}
	defer atomic.AddInt32(&c.inFlight, -1)

	c.mu.Lock()
	manual := c.manual
	sendErr := c.sendErr
	c.mu.Unlock()

	if manual {
		release := make(chan error, 1)
		c.mu.Lock()
		if atomic.LoadInt32(&c.closed) == 1 {
			c.mu.Unlock()
			return nil, net.ErrClosed
		}
		c.waiters = append(c.waiters, release)
		c.mu.Unlock()

		select {
		case err := <-release:
			if err != nil {
				return nil, err
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	} else if sendErr != nil {
		return nil, sendErr
	}

	return &Response{Status: 200, Body: req.Body}, nil
}

// Close implements Conn. Idempotent. Blocked Sends fail as they would
// on a real torn-down socket.
func (c *MockConn) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.mu.Unlock()
	for _, w := range waiters {
		w <- net.ErrClosed
	}
	return nil
}

// Closed reports whether Close has been called
func (c *MockConn) Closed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

// InFlight returns the number of Sends currently blocked or running
func (c *MockConn) InFlight() int {
	return int(atomic.LoadInt32(&c.inFlight))
}

// MaxInFlight returns the high-water mark of concurrent Sends
func (c *MockConn) MaxInFlight() int {
	return int(atomic.LoadInt32(&c.maxInFlight))
}

// Sends returns the total number of Send calls
func (c *MockConn) Sends() int {
	return int(atomic.LoadInt32(&c.sends))
}
