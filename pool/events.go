package pool

import (
	"github.com/tresler/httpool/transport"
)

// Lifecycle notifications flow to the owning pool as messages on its
// event channel rather than reentrant callbacks, so every mutation of
// the slot set and queue happens on the pool's own terms.

type eventKind int

const (
	// eventEstablished: the transport handshake for a pending slot
	// succeeded; conn carries the negotiated connection.
	eventEstablished eventKind = iota
	// eventEstablishFailed: the handshake failed; err carries the cause.
	eventEstablishFailed
	// eventExchangeDone: one in-flight exchange finished, successfully
	// or not. The request's future is already resolved by the sender.
	eventExchangeDone
)

type event struct {
	kind eventKind
	slot *slot
	conn transport.Conn
	err  error

	// exchange outcome flags
	drainSlot  bool
	forceClose bool
}
