// Package queue holds the in-memory set of pending operations awaiting
// execution, ordered for draining by priority rank and enqueue time.
package queue

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Queue is the in-memory ordered collection of pending operations.
// All mutation is serialized behind a single mutex; persistence is the
// caller's responsibility (see internal/store).
type Queue struct {
	mu      sync.Mutex
	ops     []*Operation
	maxSize int
	seq     uint64
}

// New creates a queue. maxSize <= 0 means a default cap of 1000.
func New(maxSize int) *Queue {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &Queue{
		ops:     make([]*Operation, 0, 16),
		maxSize: maxSize,
	}
}

// Enqueue appends an operation and returns its assigned ID. An ID already
// set by the caller is preserved; otherwise a fresh one is assigned.
func (q *Queue) Enqueue(op Operation) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	if op.ID == "" {
		op.ID = uuid.New().String()
	}
	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = time.Now().UTC()
	}
	q.seq++
	op.seq = q.seq

	if len(q.ops) >= q.maxSize {
		q.evictForSpace()
	}

	q.ops = append(q.ops, &op)
	return op.ID
}

// Remove deletes the operation with the given id. Removing an absent id is
// a no-op; the boolean reports whether anything was removed.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, op := range q.ops {
		if op.ID == id {
			q.ops = append(q.ops[:i], q.ops[i+1:]...)
			return true
		}
	}
	return false
}

// Get returns a copy of the operation with the given id.
func (q *Queue) Get(id string) (Operation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, op := range q.ops {
		if op.ID == id {
			return *op, true
		}
	}
	return Operation{}, false
}

// UpdateRetry sets the retry count for id in place. A missing id is a
// silent no-op: the operation completed or was evicted concurrently.
func (q *Queue) UpdateRetry(id string, retryCount int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, op := range q.ops {
		if op.ID == id {
			op.RetryCount = retryCount
			return
		}
	}
}

// SnapshotOrderedForDrain returns a stable-sorted copy ordered by ascending
// priority rank, then EnqueuedAt, then insertion order. Urgent operations
// drain before routine ones even when enqueued later; within a priority,
// FIFO avoids starvation.
func (q *Queue) SnapshotOrderedForDrain() []Operation {
	q.mu.Lock()
	out := make([]Operation, len(q.ops))
	for i, op := range q.ops {
		out[i] = *op
	}
	q.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority.Rank() != out[j].Priority.Rank() {
			return out[i].Priority.Rank() < out[j].Priority.Rank()
		}
		if !out[i].EnqueuedAt.Equal(out[j].EnqueuedAt) {
			return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// Snapshot returns a copy of all pending operations in insertion order.
func (q *Queue) Snapshot() []Operation {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Operation, len(q.ops))
	for i, op := range q.ops {
		out[i] = *op
	}
	return out
}

// ReplaceAll swaps the queue contents for a persisted set, reassigning
// insertion order from the slice order. Used when loading from the store
// at startup.
func (q *Queue) ReplaceAll(ops []Operation) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.ops = make([]*Operation, 0, len(ops))
	for i := range ops {
		op := ops[i]
		q.seq++
		op.seq = q.seq
		q.ops = append(q.ops, &op)
	}
}

// Len returns the number of pending operations.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// evictForSpace drops the oldest operation of the lowest priority present.
// Must be called with the lock held.
func (q *Queue) evictForSpace() {
	if len(q.ops) == 0 {
		return
	}
	victim := 0
	for i, op := range q.ops {
		if op.Priority.Rank() > q.ops[victim].Priority.Rank() {
			victim = i
		}
	}
	q.ops = append(q.ops[:victim], q.ops[victim+1:]...)
}
