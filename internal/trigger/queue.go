package trigger

import (
	"sync"

	"github.com/roach88/membersync/internal/ir"
)

// Job asks for one entity to be synced in one direction.
type Job struct {
	Direction ir.Direction
	EntityKey string
}

func (j Job) key() string {
	return string(j.Direction) + "|" + j.EntityKey
}

// jobQueue is a bounded FIFO of jobs that coalesces duplicates: a job
// already waiting is not queued twice. A job that is being processed can
// be queued again, so a change captured mid-run is never lost.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the worker loop.
type jobQueue struct {
	mu      sync.Mutex
	jobs    []Job
	waiting map[string]struct{}
	limit   int
	closed  bool
	signal  chan struct{} // buffered, size 1
}

func newJobQueue(limit int) *jobQueue {
	return &jobQueue{
		jobs:    make([]Job, 0, 64),
		waiting: make(map[string]struct{}),
		limit:   limit,
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue adds j unless it is already waiting. It returns false when the
// queue is closed or full; coalesced duplicates report true.
func (q *jobQueue) Enqueue(j Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if _, ok := q.waiting[j.key()]; ok {
		return true
	}
	if q.limit > 0 && len(q.jobs) >= q.limit {
		return false
	}

	q.jobs = append(q.jobs, j)
	q.waiting[j.key()] = struct{}{}

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front job without blocking.
func (q *jobQueue) TryDequeue() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return Job{}, false
	}
	j := q.jobs[0]
	delete(q.waiting, j.key())

	if len(q.jobs) == 1 {
		q.jobs = q.jobs[:0]
	} else {
		q.jobs = q.jobs[1:]
	}
	return j, true
}

// Wait returns a channel that signals when jobs may be available. It is
// closed by Close.
func (q *jobQueue) Wait() <-chan struct{} {
	return q.signal
}

func (q *jobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Close stops further enqueues and wakes all waiters.
func (q *jobQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
