package pool

import (
	"errors"
	"fmt"
)

// PoolError wraps failures surfaced through a request's completion
// handle, carrying the operation and scope they occurred under.
type PoolError struct {
	Op    string
	Scope Scope
	Err   error
}

func (e *PoolError) Error() string {
	return fmt.Sprintf("pool %s: %s during %s: %v", e.Scope, errClass(e.Err), e.Op, e.Err)
}

func (e *PoolError) Unwrap() error {
	return e.Err
}

// IsPoolError checks if an error originated in the pool
func IsPoolError(err error) bool {
	var target *PoolError
	return errors.As(err, &target)
}

// Error taxonomy. Callers distinguish failure classes with errors.Is.
var (
	// ErrCapacityExceeded means the pending queue was full; the request
	// was rejected synchronously and never queued.
	ErrCapacityExceeded = errors.New("pending request capacity exceeded")

	// ErrAcquireTimeout means the request waited in the queue past its
	// configured deadline.
	ErrAcquireTimeout = errors.New("timed out waiting for a connection")

	// ErrConnectFailed means the transport handshake for the connection
	// this request triggered did not succeed.
	ErrConnectFailed = errors.New("connection establishment failed")

	// ErrProtocolError means the exchange failed mid-flight with a
	// protocol-class error (reset, malformed frame).
	ErrProtocolError = errors.New("protocol error")

	// ErrReadTimeout means the in-flight exchange exceeded the
	// configured read timeout.
	ErrReadTimeout = errors.New("read timeout")

	// ErrPoolClosed means the pool was shut down while the request was
	// queued or before it could be admitted.
	ErrPoolClosed = errors.New("connection pool is closed")
)

func errClass(err error) string {
	switch {
	case errors.Is(err, ErrCapacityExceeded):
		return "capacity-exceeded"
	case errors.Is(err, ErrAcquireTimeout):
		return "acquire-timeout"
	case errors.Is(err, ErrConnectFailed):
		return "connect-failed"
	case errors.Is(err, ErrProtocolError):
		return "protocol-error"
	case errors.Is(err, ErrReadTimeout):
		return "read-timeout"
	case errors.Is(err, ErrPoolClosed):
		return "closed"
	default:
		return "error"
	}
}
