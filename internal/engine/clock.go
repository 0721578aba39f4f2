package engine

import "sync/atomic"

// Clock is the local ingest sequence. Every committed event is stamped with
// the next value, giving a stable replay order for this replica.
//
// The sequence is replica-local and never crosses the wire: causal order
// between replicas comes only from precursors, and wall time is never used.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock that resumes after start, typically the
// backend's MaxSeq.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next advances the clock and returns the new value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last value handed out.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
