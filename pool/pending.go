package pool

import (
	"time"

	"github.com/tresler/httpool/transport"
)

// pendingRequest is one queued dispatch request. The pool owns it while
// queued; it leaves the queue exactly once, by dispatch, deadline
// expiry, establishment failure, or shutdown.
type pendingRequest struct {
	req        *transport.Request
	future     *Future
	enqueuedAt time.Time
	timer      *time.Timer
	queued     bool
	// triggered marks that this request's admission already opened a
	// connection; re-evaluation does not open another on its behalf.
	triggered bool
}

// pendingQueue is a FIFO of pending requests. Guarded by the pool mutex.
type pendingQueue struct {
	entries []*pendingRequest
}

func (q *pendingQueue) len() int {
	return len(q.entries)
}

func (q *pendingQueue) push(pr *pendingRequest) {
	pr.queued = true
	q.entries = append(q.entries, pr)
}

// pop removes and returns the FIFO head.
func (q *pendingQueue) pop() *pendingRequest {
	if len(q.entries) == 0 {
		return nil
	}
	pr := q.entries[0]
	q.entries = q.entries[1:]
	q.leave(pr)
	return pr
}

// remove takes one entry out of the middle of the queue, preserving the
// order of the rest. Reports whether the entry was present.
func (q *pendingQueue) remove(pr *pendingRequest) bool {
	for i, e := range q.entries {
		if e == pr {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			q.leave(pr)
			return true
		}
	}
	return false
}

// drain empties the queue and returns the former entries in order.
func (q *pendingQueue) drain() []*pendingRequest {
	out := q.entries
	q.entries = nil
	for _, pr := range out {
		q.leave(pr)
	}
	return out
}

// untriggered returns the first entry that has not yet caused a
// connection to be opened.
func (q *pendingQueue) untriggered() *pendingRequest {
	for _, pr := range q.entries {
		if !pr.triggered {
			return pr
		}
	}
	return nil
}

func (q *pendingQueue) leave(pr *pendingRequest) {
	pr.queued = false
	if pr.timer != nil {
		pr.timer.Stop()
		pr.timer = nil
	}
}
