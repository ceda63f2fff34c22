// Package transport defines the collaborator interfaces the connection
// pool dispatches work against. The pool never speaks a wire protocol
// itself; it consumes an established Conn whose codec lives behind
// these interfaces.
package transport

import (
	"context"
	"errors"
	"net/http"
)

// Protocol is the negotiated protocol version of a connection.
type Protocol int

const (
	// ProtocolHTTP1 is a serial, one-request-at-a-time connection.
	ProtocolHTTP1 Protocol = iota + 1
	// ProtocolHTTP2 multiplexes concurrent streams on one connection.
	ProtocolHTTP2
	// ProtocolHTTP3 is treated as a member of the HTTP/2 family for
	// pooling purposes: multiplexed, counted under the HTTP/2 caps.
	ProtocolHTTP3
)

// Multiplexed reports whether the protocol carries concurrent streams.
func (p Protocol) Multiplexed() bool {
	return p == ProtocolHTTP2 || p == ProtocolHTTP3
}

// String returns the protocol name
func (p Protocol) String() string {
	switch p {
	case ProtocolHTTP1:
		return "http/1.1"
	case ProtocolHTTP2:
		return "http/2"
	case ProtocolHTTP3:
		return "http/3"
	default:
		return "unknown"
	}
}

// Request is a dispatchable exchange. The pool treats it as opaque.
type Request struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// Response is the result of a completed exchange.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// ErrProtocolViolation marks transport errors in the protocol-error
// class (malformed frame, forced reset). The pool drains a connection
// whose Send fails with an error wrapping this sentinel.
var ErrProtocolViolation = errors.New("transport: protocol violation")

// IsProtocolViolation checks whether an error is in the protocol-error class.
func IsProtocolViolation(err error) bool {
	return errors.Is(err, ErrProtocolViolation)
}

// Conn is one established connection to an authority.
type Conn interface {
	// Protocol returns the version negotiated during the handshake.
	Protocol() Protocol
	// Send performs one exchange. Safe for concurrent use on
	// multiplexed protocols; the pool serializes HTTP/1 access.
	Send(ctx context.Context, req *Request) (*Response, error)
	// Close tears the connection down. Idempotent.
	Close() error
}

// Connector establishes connections. Implementations perform the
// underlying handshake and protocol negotiation.
type Connector interface {
	Connect(ctx context.Context, authority string) (Conn, error)
}

// ConnectorFunc adapts a function to the Connector interface.
type ConnectorFunc func(ctx context.Context, authority string) (Conn, error)

// Connect implements Connector
func (f ConnectorFunc) Connect(ctx context.Context, authority string) (Conn, error) {
	return f(ctx, authority)
}
