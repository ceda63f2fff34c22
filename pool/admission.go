package pool

// Outcome is the admission result of a submitted request.
type Outcome int

const (
	// OutcomeDispatched: the request went straight onto a usable slot.
	OutcomeDispatched Outcome = iota
	// OutcomeQueued: the request waits in the pending queue, possibly
	// having triggered a new connection.
	OutcomeQueued
	// OutcomeRejected: no capacity; the future already holds the error.
	OutcomeRejected
)

// String returns the outcome name
func (o Outcome) String() string {
	switch o {
	case OutcomeDispatched:
		return "dispatched"
	case OutcomeQueued:
		return "queued"
	case OutcomeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// bestSlotLocked selects the usable slot with the fewest in-flight
// requests, balancing load across multiplexed connections. Returns nil
// when no slot can take the request.
func (p *AuthorityPool) bestSlotLocked() *slot {
	var best *slot
	for _, s := range p.slots {
		if !s.usable() {
			continue
		}
		if best == nil || s.inFlight < best.inFlight {
			best = s
		}
	}
	return best
}

// canOpenLocked applies the new-connection permission rule for a given
// queued demand (requests that would wait on the new connection).
//
// The check and the PENDING reservation in openLocked both run under
// the pool mutex, so concurrent admissions cannot both claim the last
// capacity unit.
func (p *AuthorityPool) canOpenLocked(demand int) bool {
	pending := p.pendingConnsLocked()

	if pending >= p.limits.MaxPendingConnections {
		return false
	}
	// Never provision more connections than there are requests to serve.
	if pending >= demand {
		return false
	}

	active := p.activeConnsLocked()
	switch p.family {
	case familyHTTP1:
		if p.limits.MaxHTTP1Connections > 0 && pending+active >= p.limits.MaxHTTP1Connections {
			return false
		}
	case familyHTTP2:
		if pending+active >= p.limits.MaxHTTP2Connections {
			return false
		}
	default:
		// Protocol undetermined: both caps bind until the first
		// connection negotiates a version.
		if p.limits.MaxHTTP1Connections > 0 && pending+active >= p.limits.MaxHTTP1Connections {
			return false
		}
		if pending+active >= p.limits.MaxHTTP2Connections {
			return false
		}
	}
	return true
}

// pendingConnsLocked counts slots still in the handshake.
func (p *AuthorityPool) pendingConnsLocked() int {
	n := 0
	for _, s := range p.slots {
		if s.state == StatePending {
			n++
		}
	}
	return n
}

// activeConnsLocked counts established slots that still accept work.
// Draining slots are on the way out and do not hold capacity.
func (p *AuthorityPool) activeConnsLocked() int {
	n := 0
	for _, s := range p.slots {
		if s.state == StateIdle || s.state == StateBusy {
			n++
		}
	}
	return n
}
