package engine

import (
	"sync"

	"github.com/roach88/collate/internal/ledger"
	"github.com/roach88/collate/internal/reconcile"
	"github.com/roach88/collate/internal/session"
)

// job is one candidate pair waiting for reconciliation. Everything a worker
// needs is copied in; workers never touch the ledger.
type job struct {
	seq   uint64
	input reconcile.Input
	pair  session.Pair

	a, b           ledger.Handle
	chA, chB       ledger.ChannelID
	epochA, epochB uint64
}

// jobQueue is an unbounded FIFO of reconcile jobs.
//
// Ingest must never block on reconciliation, so Enqueue only appends. Workers
// dequeue with TryDequeue and park on Wait when the queue is empty.
//
// The signal channel has a buffer of one and coalesces wake-ups; a successful
// dequeue that leaves work behind re-signals so that parked workers keep
// draining.
type jobQueue struct {
	mu     sync.Mutex
	jobs   []job
	closed bool
	signal chan struct{}
}

func newJobQueue() *jobQueue {
	return &jobQueue{
		jobs:   make([]job, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds j to the back of the queue. It returns false once the queue is
// closed.
func (q *jobQueue) Enqueue(j job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.jobs = append(q.jobs, j)
	q.notify()
	return true
}

// TryDequeue removes the front job without blocking.
func (q *jobQueue) TryDequeue() (job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return job{}, false
	}
	j := q.jobs[0]
	q.jobs[0] = job{}
	if len(q.jobs) == 1 {
		q.jobs = q.jobs[:0]
	} else {
		q.jobs = q.jobs[1:]
		if !q.closed {
			q.notify()
		}
	}
	return j, true
}

// notify must be called with mu held and the queue open.
func (q *jobQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Wait returns a channel that fires when jobs may be available. It is closed
// by Close, so waiters never hang on a finished queue.
func (q *jobQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued jobs.
func (q *jobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Drained reports whether the queue is closed and empty.
func (q *jobQueue) Drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.jobs) == 0
}

// Close stops accepting jobs. Jobs already queued are still handed out.
func (q *jobQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
