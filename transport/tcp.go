package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"
)

// TCPConnector establishes plain-TCP HTTP/1.1 connections. It is the
// reference Connector for the demo daemon and integration tests; real
// deployments supply their own negotiating transport.
type TCPConnector struct {
	timeout time.Duration
}

// NewTCPConnector creates a new TCP connector
func NewTCPConnector(timeout time.Duration) *TCPConnector {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TCPConnector{timeout: timeout}
}

// Connect dials the authority over TCP
func (c *TCPConnector) Connect(ctx context.Context, authority string) (Conn, error) {
	// Use the context deadline if available, otherwise the connector timeout
	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return nil, context.DeadlineExceeded
		}
	}

	conn, err := net.DialTimeout("tcp", authority, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", authority, err)
	}

	return &tcpConn{conn: conn, authority: authority, reader: bufio.NewReader(conn)}, nil
}

// tcpConn is a serial HTTP/1.1 connection over TCP. The pool dispatches
// at most one exchange at a time on a non-multiplexed connection, so
// Send needs no lock of its own; Close may race a Send and uses an
// atomic flag plus the socket close to interrupt it.
type tcpConn struct {
	conn      net.Conn
	authority string
	reader    *bufio.Reader
	closed    int32
}

func (tc *tcpConn) Protocol() Protocol {
	return ProtocolHTTP1
}

func (tc *tcpConn) Send(ctx context.Context, req *Request) (*Response, error) {
	if atomic.LoadInt32(&tc.closed) == 1 {
		return nil, net.ErrClosed
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := tc.conn.SetDeadline(deadline); err != nil {
			return nil, err
		}
		defer tc.conn.SetDeadline(time.Time{})
	}

	httpReq, err := http.NewRequest(req.Method, "http://"+tc.authority+req.Path, bytes.NewReader(req.Body))
	if err != nil {
		return nil, err
	}
	for k, vals := range req.Header {
		for _, v := range vals {
			httpReq.Header.Add(k, v)
		}
	}

	if err := httpReq.Write(tc.conn); err != nil {
		return nil, wrapSendErr(err)
	}

	httpResp, err := http.ReadResponse(tc.reader, httpReq)
	if err != nil {
		return nil, wrapSendErr(err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, wrapSendErr(err)
	}

	return &Response{
		Status: httpResp.StatusCode,
		Header: httpResp.Header,
		Body:   body,
	}, nil
}

// wrapSendErr maps deadline errors onto context.DeadlineExceeded so the
// pool classifies them as read timeouts.
func wrapSendErr(err error) error {
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}

func (tc *tcpConn) Close() error {
	if !atomic.CompareAndSwapInt32(&tc.closed, 0, 1) {
		return nil
	}
	return tc.conn.Close()
}
