package engine

import (
	"sync"

	"github.com/roach88/lineage/internal/ir"
)

// SubmissionType distinguishes local writes from sync batches.
type SubmissionType int

const (
	// SubmitCreate asks the engine to produce a new local event.
	SubmitCreate SubmissionType = iota + 1
	// SubmitIngest delivers a batch of events received from a peer.
	SubmitIngest
)

// String returns the submission type name used in logs.
func (t SubmissionType) String() string {
	switch t {
	case SubmitCreate:
		return "create"
	case SubmitIngest:
		return "ingest"
	default:
		return "unknown"
	}
}

// Submission is one unit of work for the Run loop.
type Submission struct {
	Type SubmissionType

	// Session correlates log lines. Run generates one when empty.
	Session string

	// Entity and Payload are used by SubmitCreate.
	Entity  ir.EntityID
	Payload []byte

	// Events is used by SubmitIngest.
	Events []ir.Event

	// Reply, when non-nil, receives exactly one Result. It should be
	// buffered; Run gives up on delivery when its context ends.
	Reply chan<- Result
}

// Result is the outcome of a processed Submission.
type Result struct {
	// Created is set for SubmitCreate.
	Created ir.Event

	// Outcomes is set for SubmitIngest, one per distinct event.
	Outcomes []Outcome

	Err error
}

// submissionQueue is an unbounded FIFO of submissions.
//
// Producers may enqueue from any goroutine; the Run loop is the only
// consumer. A one-slot signal channel lets Run wait in a select alongside
// ctx.Done().
type submissionQueue struct {
	mu     sync.Mutex
	items  []Submission
	closed bool
	signal chan struct{}
}

func newSubmissionQueue() *submissionQueue {
	return &submissionQueue{
		items:  make([]Submission, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends s. Returns false once the queue is closed.
func (q *submissionQueue) Enqueue(s Submission) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, s)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue pops the front submission without blocking.
func (q *submissionQueue) TryDequeue() (Submission, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Submission{}, false
	}
	s := q.items[0]
	// Clear the slot so the backing array does not pin event payloads.
	q.items[0] = Submission{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return s, true
}

// Wait returns a channel that fires when submissions may be available.
// It is closed by Close.
func (q *submissionQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued submissions.
func (q *submissionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops further enqueues and wakes the consumer.
func (q *submissionQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// IsClosed reports whether Close has been called.
func (q *submissionQueue) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
