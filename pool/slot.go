package pool

import (
	"fmt"
	"time"

	"github.com/tresler/httpool/transport"
)

// SlotState is the lifecycle state of a connection slot.
type SlotState int

const (
	// StatePending: establishment in progress, reserving a capacity unit.
	StatePending SlotState = iota
	// StateIdle: established, no in-flight requests.
	StateIdle
	// StateBusy: established with at least one in-flight request.
	StateBusy
	// StateDraining: accepts no new requests; in-flight ones finish.
	StateDraining
	// StateClosed: retired and removed from the slot set.
	StateClosed
)

// String returns the state name
func (s SlotState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// slot is one physical connection owned by its authority pool. All
// fields are guarded by the pool mutex; nothing outside the pool
// mutates a slot.
type slot struct {
	id           string
	state        SlotState
	proto        transport.Protocol
	conn         transport.Conn
	createdAt    time.Time
	lastActivity time.Time
	inFlight     int
	// streamCap is 1 for HTTP/1 and the configured per-connection
	// request cap for multiplexed protocols.
	streamCap int
	// trigger is the queued request whose admission opened this
	// connection; it alone receives an establishment failure.
	trigger *pendingRequest
}

func newSlot(seq uint64, trigger *pendingRequest) *slot {
	now := time.Now()
	return &slot{
		id:           fmt.Sprintf("slot-%d", seq),
		state:        StatePending,
		createdAt:    now,
		lastActivity: now,
		trigger:      trigger,
	}
}

// usable reports whether a new request may be dispatched on this slot.
func (s *slot) usable() bool {
	switch s.state {
	case StateIdle:
		return true
	case StateBusy:
		return s.proto.Multiplexed() && s.inFlight < s.streamCap
	default:
		return false
	}
}

// established reports whether the slot holds a live connection.
func (s *slot) established() bool {
	return s.state == StateIdle || s.state == StateBusy || s.state == StateDraining
}

// acquire reserves one in-flight unit on an established slot.
func (s *slot) acquire(now time.Time) {
	s.inFlight++
	s.state = StateBusy
	s.lastActivity = now
}

// release returns one in-flight unit. The caller handles the
// draining-to-closed transition when the count reaches zero.
func (s *slot) release(now time.Time) {
	if s.inFlight > 0 {
		s.inFlight--
	}
	s.lastActivity = now
	if s.state == StateBusy && s.inFlight == 0 {
		s.state = StateIdle
	}
}

// idleExpired reports whether an idle slot has outlived the idle timeout.
func (s *slot) idleExpired(timeout time.Duration, now time.Time) bool {
	return timeout > 0 && s.state == StateIdle && now.Sub(s.lastActivity) > timeout
}

// ttlExpired reports whether the slot has outlived its connect TTL.
func (s *slot) ttlExpired(ttl time.Duration, now time.Time) bool {
	return ttl > 0 && s.established() && now.Sub(s.createdAt) > ttl
}
