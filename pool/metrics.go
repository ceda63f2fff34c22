package pool

import (
	"sync/atomic"

	"github.com/tresler/httpool/transport"
)

// stats holds the pool's atomic counters.
type stats struct {
	Submitted       uint64
	Dispatched      uint64
	Queued          uint64
	Rejected        uint64
	AcquireTimeouts uint64
	Connects        uint64
	ConnectFailures uint64
	ReadTimeouts    uint64
	ProtocolErrors  uint64
	Drains          uint64
	ClosedSlots     uint64
}

func (s *stats) inc(field *uint64) {
	atomic.AddUint64(field, 1)
}

// Stats is a point-in-time snapshot of one pool's counters and gauges.
type Stats struct {
	Scope     string `json:"scope"`
	Protocol  string `json:"protocol"`
	QueueLen  int    `json:"queue_len"`
	SlotTotal int    `json:"slot_total"`

	// Slots by state
	PendingSlots  int `json:"pending_slots"`
	IdleSlots     int `json:"idle_slots"`
	BusySlots     int `json:"busy_slots"`
	DrainingSlots int `json:"draining_slots"`
	InFlight      int `json:"in_flight"`

	// Counters
	Submitted       uint64 `json:"submitted"`
	Dispatched      uint64 `json:"dispatched"`
	Queued          uint64 `json:"queued"`
	Rejected        uint64 `json:"rejected"`
	AcquireTimeouts uint64 `json:"acquire_timeouts"`
	Connects        uint64 `json:"connects"`
	ConnectFailures uint64 `json:"connect_failures"`
	ReadTimeouts    uint64 `json:"read_timeouts"`
	ProtocolErrors  uint64 `json:"protocol_errors"`
	Drains          uint64 `json:"drains"`
	ClosedSlots     uint64 `json:"closed_slots"`
}

// Stats returns a snapshot of the pool's counters and current gauges.
func (p *AuthorityPool) Stats() Stats {
	snap := Stats{
		Scope:           p.scope.String(),
		Submitted:       atomic.LoadUint64(&p.stats.Submitted),
		Dispatched:      atomic.LoadUint64(&p.stats.Dispatched),
		Queued:          atomic.LoadUint64(&p.stats.Queued),
		Rejected:        atomic.LoadUint64(&p.stats.Rejected),
		AcquireTimeouts: atomic.LoadUint64(&p.stats.AcquireTimeouts),
		Connects:        atomic.LoadUint64(&p.stats.Connects),
		ConnectFailures: atomic.LoadUint64(&p.stats.ConnectFailures),
		ReadTimeouts:    atomic.LoadUint64(&p.stats.ReadTimeouts),
		ProtocolErrors:  atomic.LoadUint64(&p.stats.ProtocolErrors),
		Drains:          atomic.LoadUint64(&p.stats.Drains),
		ClosedSlots:     atomic.LoadUint64(&p.stats.ClosedSlots),
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	snap.QueueLen = p.queue.len()
	snap.SlotTotal = len(p.slots)
	switch p.family {
	case familyHTTP1:
		snap.Protocol = transport.ProtocolHTTP1.String()
	case familyHTTP2:
		snap.Protocol = transport.ProtocolHTTP2.String()
	default:
		snap.Protocol = "undetermined"
	}
	for _, s := range p.slots {
		snap.InFlight += s.inFlight
		switch s.state {
		case StatePending:
			snap.PendingSlots++
		case StateIdle:
			snap.IdleSlots++
		case StateBusy:
			snap.BusySlots++
		case StateDraining:
			snap.DrainingSlots++
		}
	}
	return snap
}
