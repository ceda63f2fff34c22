package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tresler/httpool/config"
	"github.com/tresler/httpool/logger"
	"github.com/tresler/httpool/transport"
)

// protoFamily is the pool-wide protocol decision. It starts
// undetermined, is fixed by the first negotiated connection, and resets
// once the pool has no slots left.
type protoFamily int

const (
	familyUndetermined protoFamily = iota
	familyHTTP1
	familyHTTP2 // includes HTTP/3
)

func familyOf(proto transport.Protocol) protoFamily {
	if proto.Multiplexed() {
		return familyHTTP2
	}
	return familyHTTP1
}

// AuthorityPool owns the connection slots and pending-request queue for
// one (service, authority) scope. All slot and queue mutation is
// serialized by the pool mutex; lifecycle events arrive on the event
// channel and are applied by the pool's own goroutine.
type AuthorityPool struct {
	scope     Scope
	limits    config.Limits
	connector transport.Connector
	limiter   *rate.Limiter
	log       *slog.Logger

	mu      sync.Mutex
	slots   []*slot
	queue   pendingQueue
	family  protoFamily
	closed  bool
	slotSeq uint64

	events      chan event
	stopped     chan struct{}
	drained     chan struct{}
	drainedOnce sync.Once

	stats stats
}

func newAuthorityPool(scope Scope, limits config.Limits, connector transport.Connector) *AuthorityPool {
	p := &AuthorityPool{
		scope:     scope,
		limits:    limits,
		connector: connector,
		log:       logger.With(logger.Component("pool"), logger.Scope(scope.String())),
		events:    make(chan event, 64),
		stopped:   make(chan struct{}),
		drained:   make(chan struct{}),
	}
	if limits.DialRate > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(limits.DialRate), limits.DialBurst)
	}
	go p.run()
	return p
}

// Scope returns the pool's partition key.
func (p *AuthorityPool) Scope() Scope {
	return p.scope
}

// Submit asks the admission controller what to do with one request and
// does it. It never blocks on I/O: the returned future resolves later
// with a response or a typed failure. The outcome reports whether the
// request was dispatched onto an existing connection, queued (possibly
// triggering a new connection), or rejected for capacity.
func (p *AuthorityPool) Submit(req *transport.Request) (*Future, Outcome) {
	fut := newFuture()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.inc(&p.stats.Submitted)

	if p.closed {
		fut.complete(nil, &PoolError{Op: "submit", Scope: p.scope, Err: ErrPoolClosed})
		return fut, OutcomeRejected
	}

	now := time.Now()
	pr := &pendingRequest{req: req, future: fut, enqueuedAt: now}

	// 1. A usable slot takes the request immediately.
	if s := p.bestSlotLocked(); s != nil {
		p.dispatchLocked(s, pr, now)
		return fut, OutcomeDispatched
	}

	// 2. Open a new connection if permitted. The request queues until
	// the slot is established; it is never bound to a pending one.
	if p.canOpenLocked(p.queue.len() + 1) {
		p.enqueueLocked(pr)
		p.openLocked(pr)
		return fut, OutcomeQueued
	}

	// 3. Queue if there is room.
	if p.limits.MaxPendingAcquires == 0 || p.queue.len() < p.limits.MaxPendingAcquires {
		p.enqueueLocked(pr)
		return fut, OutcomeQueued
	}

	// 4. Reject.
	p.stats.inc(&p.stats.Rejected)
	fut.complete(nil, &PoolError{Op: "submit", Scope: p.scope, Err: ErrCapacityExceeded})
	return fut, OutcomeRejected
}

func (p *AuthorityPool) dispatchLocked(s *slot, pr *pendingRequest, now time.Time) {
	s.acquire(now)
	p.stats.inc(&p.stats.Dispatched)
	go p.exchange(s, pr)
}

func (p *AuthorityPool) enqueueLocked(pr *pendingRequest) {
	p.queue.push(pr)
	p.stats.inc(&p.stats.Queued)
	if p.limits.AcquireTimeout > 0 {
		pr.timer = time.AfterFunc(p.limits.AcquireTimeout, func() { p.expire(pr) })
	}
}

// openLocked reserves a PENDING slot and starts establishment. The
// reservation happens here, atomically with the admission check.
func (p *AuthorityPool) openLocked(trigger *pendingRequest) {
	p.slotSeq++
	s := newSlot(p.slotSeq, trigger)
	if trigger != nil {
		trigger.triggered = true
	}
	p.slots = append(p.slots, s)
	p.log.Debug("opening connection", "slot_id", s.id, "pending_conns", p.pendingConnsLocked())
	go p.establish(s)
}

// expire removes a pending request whose acquire deadline passed. The
// queued flag guarantees exactly-once completion against concurrent
// dispatch or shutdown.
func (p *AuthorityPool) expire(pr *pendingRequest) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !pr.queued {
		return
	}
	p.queue.remove(pr)
	p.stats.inc(&p.stats.AcquireTimeouts)
	pr.future.complete(nil, &PoolError{
		Op:    "acquire",
		Scope: p.scope,
		Err:   fmt.Errorf("%w after %v", ErrAcquireTimeout, p.limits.AcquireTimeout),
	})
	p.log.Debug("pending request timed out", "queue_len", p.queue.len())
}

// pumpLocked re-evaluates the pending queue: dispatch FIFO heads onto
// usable slots, then top up connections for the demand still waiting.
func (p *AuthorityPool) pumpLocked(now time.Time) {
	for p.queue.len() > 0 {
		s := p.bestSlotLocked()
		if s == nil {
			break
		}
		pr := p.queue.pop()
		p.dispatchLocked(s, pr, now)
	}

	for p.queue.len() > 0 && p.canOpenLocked(p.queue.len()) {
		pr := p.queue.untriggered()
		if pr == nil {
			break
		}
		p.openLocked(pr)
	}
}

// post delivers a lifecycle event to the pool's event loop. Returns
// false once the loop has stopped; the caller then owns any cleanup.
func (p *AuthorityPool) post(ev event) bool {
	select {
	case p.events <- ev:
		return true
	case <-p.stopped:
		return false
	}
}

func (p *AuthorityPool) run() {
	defer close(p.stopped)

	var tick <-chan time.Time
	if interval := p.maintenanceInterval(); interval > 0 {
		t := time.NewTicker(interval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case ev := <-p.events:
			p.handle(ev)
		case <-tick:
			p.maintain(time.Now())
		case <-p.drained:
			return
		}
	}
}

// shutdown closes the pool: pending requests fail with a cancellation
// error, idle slots close, busy slots drain.
func (p *AuthorityPool) shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true

	for _, pr := range p.queue.drain() {
		pr.future.complete(nil, &PoolError{Op: "shutdown", Scope: p.scope, Err: ErrPoolClosed})
	}

	for _, s := range append([]*slot(nil), p.slots...) {
		if s.state == StatePending || s.inFlight == 0 {
			p.closeSlotLocked(s)
		} else {
			p.drainLocked(s, false, "shutdown")
		}
	}
	p.maybeDrainedLocked()
	p.log.Info("pool shut down", "slots_draining", len(p.slots))
}

// awaitDrain blocks until every slot has closed, or force-closes the
// remainder when the context expires.
func (p *AuthorityPool) awaitDrain(ctx context.Context) error {
	select {
	case <-p.drained:
		return nil
	case <-ctx.Done():
		p.forceClose()
		return fmt.Errorf("pool %s force-closed: %w", p.scope, ctx.Err())
	}
}

// forceClose tears down every remaining slot immediately.
func (p *AuthorityPool) forceClose() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, s := range append([]*slot(nil), p.slots...) {
		p.closeSlotLocked(s)
	}
	p.maybeDrainedLocked()
}

func (p *AuthorityPool) maybeDrainedLocked() {
	if p.closed && len(p.slots) == 0 {
		p.drainedOnce.Do(func() { close(p.drained) })
	}
}

func (p *AuthorityPool) removeSlotLocked(s *slot) {
	for i, other := range p.slots {
		if other == s {
			p.slots = append(p.slots[:i], p.slots[i+1:]...)
			break
		}
	}
	if len(p.slots) == 0 {
		// The version decision holds only while connections exist.
		p.family = familyUndetermined
	}
}
