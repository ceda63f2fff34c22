package pool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tresler/httpool/transport"
)

// establish performs the transport handshake for a pending slot and
// reports the result to the event loop. Runs in its own goroutine; it
// never touches pool state directly.
func (p *AuthorityPool) establish(s *slot) {
	if p.limiter != nil {
		if err := p.limiter.Wait(context.Background()); err != nil {
			p.post(event{kind: eventEstablishFailed, slot: s, err: err})
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.limits.ConnectTimeout)
	defer cancel()

	conn, err := p.connector.Connect(ctx, p.scope.Authority)
	if err != nil {
		p.post(event{kind: eventEstablishFailed, slot: s, err: err})
		return
	}
	if !p.post(event{kind: eventEstablished, slot: s, conn: conn}) {
		// Event loop gone; nobody will adopt the connection.
		conn.Close()
	}
}

// exchange runs one dispatched request to completion and reports the
// slot outcome. The future is resolved here, before the event is
// posted, so a caller never waits on pool accounting.
func (p *AuthorityPool) exchange(s *slot, pr *pendingRequest) {
	ctx := context.Background()
	if p.limits.ReadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.limits.ReadTimeout)
		defer cancel()
	}

	resp, err := s.conn.Send(ctx, pr.req)

	ev := event{kind: eventExchangeDone, slot: s}
	switch {
	case err == nil:
		pr.future.complete(resp, nil)

	case transport.IsProtocolViolation(err):
		p.stats.inc(&p.stats.ProtocolErrors)
		pr.future.complete(nil, &PoolError{
			Op:    "send",
			Scope: p.scope,
			Err:   fmt.Errorf("%w: %w", ErrProtocolError, err),
		})
		// Protocol-class failures evict the connection immediately.
		ev.drainSlot, ev.forceClose = true, true

	case errors.Is(err, context.DeadlineExceeded):
		p.stats.inc(&p.stats.ReadTimeouts)
		pr.future.complete(nil, &PoolError{
			Op:    "send",
			Scope: p.scope,
			Err:   fmt.Errorf("%w after %v", ErrReadTimeout, p.limits.ReadTimeout),
		})
		ev.drainSlot = p.limits.DrainsOnReadTimeout()

	default:
		pr.future.complete(nil, &PoolError{Op: "send", Scope: p.scope, Err: err})
		ev.drainSlot, ev.forceClose = true, true
	}
	p.post(ev)
}

// handle applies one lifecycle event under the pool lock.
func (p *AuthorityPool) handle(ev event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev.kind {
	case eventEstablished:
		p.handleEstablishedLocked(ev.slot, ev.conn)
	case eventEstablishFailed:
		p.handleEstablishFailedLocked(ev.slot, ev.err)
	case eventExchangeDone:
		p.handleExchangeDoneLocked(ev)
	}
}

func (p *AuthorityPool) handleEstablishedLocked(s *slot, conn transport.Conn) {
	if p.closed || s.state != StatePending {
		// Shutdown or force-close won the race; the slot is already
		// retired and the fresh connection has no home.
		conn.Close()
		return
	}

	proto := conn.Protocol()
	family := familyOf(proto)

	if p.family == familyUndetermined {
		p.family = family
	} else if p.family != family {
		conn.Close()
		p.failEstablishmentLocked(s, fmt.Errorf("negotiated %s against a %s pool", proto, p.familyNameLocked()))
		return
	}

	streamCap := 1
	if proto.Multiplexed() {
		streamCap = p.limits.MaxRequestsPerHTTP2Connection
		if streamCap <= 0 {
			conn.Close()
			p.failEstablishmentLocked(s, errors.New("max-concurrent-requests-per-http2-connection not configured"))
			return
		}
	}

	now := time.Now()
	s.conn = conn
	s.proto = proto
	s.streamCap = streamCap
	s.state = StateIdle
	s.lastActivity = now
	if s.trigger != nil {
		s.trigger.triggered = false
		s.trigger = nil
	}
	p.stats.inc(&p.stats.Connects)
	p.log.Debug("connection established", "slot_id", s.id, "protocol", proto.String())

	p.pumpLocked(now)
}

func (p *AuthorityPool) handleEstablishFailedLocked(s *slot, err error) {
	if s.state == StateClosed {
		return
	}
	p.failEstablishmentLocked(s, err)
}

// failEstablishmentLocked retires a slot that never came up. The error
// reaches exactly the request that triggered the connection, if it is
// still waiting; everyone else stays queued for re-evaluation.
func (p *AuthorityPool) failEstablishmentLocked(s *slot, cause error) {
	p.stats.inc(&p.stats.ConnectFailures)
	s.state = StateClosed
	p.removeSlotLocked(s)

	if trigger := s.trigger; trigger != nil && trigger.queued {
		p.queue.remove(trigger)
		trigger.future.complete(nil, &PoolError{
			Op:    "connect",
			Scope: p.scope,
			Err:   fmt.Errorf("%w: %w", ErrConnectFailed, cause),
		})
	}
	s.trigger = nil
	p.log.Warn("connection establishment failed", "slot_id", s.id, "error", cause.Error())

	// One failure does not poison the pool: remaining demand may open
	// a fresh connection right away.
	p.pumpLocked(time.Now())
}

func (p *AuthorityPool) handleExchangeDoneLocked(ev event) {
	s := ev.slot
	now := time.Now()
	s.release(now)

	if ev.drainSlot {
		p.drainLocked(s, ev.forceClose, "exchange error")
	}
	if s.state == StateDraining && s.inFlight == 0 {
		p.closeSlotLocked(s)
	}
	if !p.closed {
		p.pumpLocked(now)
	}
	p.maybeDrainedLocked()
}

// drainLocked moves a slot out of service. With force set the
// underlying connection closes immediately, failing its in-flight
// exchanges; otherwise they finish and the slot closes at zero
// in-flight.
func (p *AuthorityPool) drainLocked(s *slot, force bool, reason string) {
	if s.state == StateClosed {
		return
	}
	if s.state != StateDraining {
		s.state = StateDraining
		p.stats.inc(&p.stats.Drains)
		p.log.Debug("draining connection", "slot_id", s.id, "reason", reason, "in_flight", s.inFlight)
	}
	if force && s.conn != nil {
		s.conn.Close()
	}
	if s.inFlight == 0 {
		p.closeSlotLocked(s)
	}
}

// closeSlotLocked retires a slot and removes it from the slot set.
// Closing an already-closed slot is a no-op.
func (p *AuthorityPool) closeSlotLocked(s *slot) {
	if s.state == StateClosed {
		return
	}
	if s.conn != nil {
		s.conn.Close()
	}
	s.state = StateClosed
	p.stats.inc(&p.stats.ClosedSlots)
	p.removeSlotLocked(s)
	p.maybeDrainedLocked()
}

// maintain sweeps slots for idle-timeout and connect-TTL expiry.
func (p *AuthorityPool) maintain(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	for _, s := range append([]*slot(nil), p.slots...) {
		switch {
		case s.idleExpired(p.limits.IdleTimeout, now):
			p.drainLocked(s, false, "idle timeout")
		case s.ttlExpired(p.limits.ConnectTTL, now) && s.state != StateDraining:
			p.drainLocked(s, false, "connect ttl")
		}
	}
}

// maintenanceInterval derives the sweep period from the configured
// timeouts. Zero disables the sweep.
func (p *AuthorityPool) maintenanceInterval() time.Duration {
	shortest := time.Duration(0)
	for _, d := range []time.Duration{p.limits.IdleTimeout, p.limits.ConnectTTL} {
		if d > 0 && (shortest == 0 || d < shortest) {
			shortest = d
		}
	}
	if shortest == 0 {
		return 0
	}
	interval := shortest / 4
	if interval < 5*time.Millisecond {
		interval = 5 * time.Millisecond
	}
	if interval > time.Second {
		interval = time.Second
	}
	return interval
}

func (p *AuthorityPool) familyNameLocked() string {
	switch p.family {
	case familyHTTP1:
		return transport.ProtocolHTTP1.String()
	case familyHTTP2:
		return transport.ProtocolHTTP2.String()
	default:
		return "undetermined"
	}
}
