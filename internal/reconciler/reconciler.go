// Package reconciler drains the pending-operation queue through the
// executor when connectivity returns, applying the retry/evict policy.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/carebridge/carebridge/internal/connectivity"
	"github.com/carebridge/carebridge/internal/queue"
	"github.com/carebridge/carebridge/internal/store"
)

// State of the reconciler.
type State string

const (
	StateIdle     State = "idle"
	StateDraining State = "draining"
)

// EventType tags reconciler events.
type EventType string

const (
	EventEnqueued       EventType = "enqueued"
	EventCompleted      EventType = "completed"
	EventRetryScheduled EventType = "retry_scheduled"
	EventEvicted        EventType = "evicted" // informational, not an error
	EventDrainStarted   EventType = "drain_started"
	EventDrainFinished  EventType = "drain_finished"
)

// Event describes one reconciler outcome.
type Event struct {
	Type      EventType       `json:"type"`
	Operation queue.Operation `json:"operation,omitempty"`
	Error     string          `json:"error,omitempty"`
	At        time.Time       `json:"at"`
}

// ErrDrainInProgress is returned by Retry while a drain pass or another
// manual retry is running.
var ErrDrainInProgress = errors.New("reconciler: drain in progress")

// Executor performs a single attempt of one operation.
type Executor interface {
	Execute(ctx context.Context, op queue.Operation) error
}

// Stats counts reconciler outcomes since start.
type Stats struct {
	Drains    int64 `json:"drains"`
	Completed int64 `json:"completed"`
	Retried   int64 `json:"retried"`
	Evicted   int64 `json:"evicted"`
}

// Reconciler is the Idle/Draining state machine. Draining is strictly
// one-at-a-time across the process and executes operations sequentially so
// a server recovering from an outage is not overwhelmed.
type Reconciler struct {
	queue  *queue.Queue
	store  store.Store
	exec   Executor
	logger *slog.Logger

	mu       sync.Mutex
	draining bool
	busy     bool
	subs     []func(Event)
	stats    Stats
}

// New creates a reconciler over the queue, store and executor.
func New(q *queue.Queue, st store.Store, exec Executor, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		queue:  q,
		store:  st,
		exec:   exec,
		logger: logger.With("component", "reconciler"),
	}
}

// State returns Idle or Draining.
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.draining {
		return StateDraining
	}
	return StateIdle
}

// Stats returns outcome counters.
func (r *Reconciler) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Subscribe registers fn for reconciler events. Callbacks run on the
// draining goroutine and must not block.
func (r *Reconciler) Subscribe(fn func(Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, fn)
}

// NotifyEnqueued publishes an enqueued event to subscribers. The queue
// itself has no event stream; the enqueue path calls this after the
// operation is persisted.
func (r *Reconciler) NotifyEnqueued(op queue.Operation) {
	r.emit(Event{Type: EventEnqueued, Operation: op, At: time.Now().UTC()})
}

// HandleTransition is the connectivity callback: a BecameOnline transition
// with a non-empty queue starts a drain on a fresh goroutine.
func (r *Reconciler) HandleTransition(ctx context.Context, ev connectivity.Event) {
	if ev.Direction != connectivity.BecameOnline {
		return
	}
	if r.queue.Len() == 0 {
		return
	}
	go func() {
		if err := r.Drain(ctx); err != nil {
			r.logger.Warn("drain after reconnect failed", "error", err)
		}
	}()
}

// Drain executes the priority-ordered snapshot sequentially. A second
// Drain while one is running is a no-op, as is a Drain while a manual
// Retry is executing. Failed operations are retried on a later pass,
// never within the same one.
func (r *Reconciler) Drain(ctx context.Context) error {
	r.mu.Lock()
	if r.busy {
		r.mu.Unlock()
		return nil
	}
	r.busy = true
	r.draining = true
	r.stats.Drains++
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.busy = false
		r.draining = false
		r.mu.Unlock()
		r.emit(Event{Type: EventDrainFinished, At: time.Now().UTC()})
	}()

	snapshot := r.queue.SnapshotOrderedForDrain()
	r.logger.Info("drain started", "pending", len(snapshot))
	r.emit(Event{Type: EventDrainStarted, At: time.Now().UTC()})

	for _, op := range snapshot {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// The operation may have completed or been removed since the
		// snapshot was taken.
		current, ok := r.queue.Get(op.ID)
		if !ok {
			continue
		}

		err := r.exec.Execute(ctx, current)
		r.applyOutcome(ctx, current, err)
	}

	r.logger.Info("drain finished", "remaining", r.queue.Len())
	return nil
}

// Retry executes the single named operation once, outside a drain pass,
// following the same success/failure/evict rules. It holds the same
// exclusion as a drain for the duration of the attempt, so operations
// are never executed concurrently.
func (r *Reconciler) Retry(ctx context.Context, id string) error {
	r.mu.Lock()
	if r.busy {
		r.mu.Unlock()
		return ErrDrainInProgress
	}
	r.busy = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.busy = false
		r.mu.Unlock()
	}()

	op, ok := r.queue.Get(id)
	if !ok {
		return fmt.Errorf("reconciler: operation %s not found", id)
	}

	err := r.exec.Execute(ctx, op)
	r.applyOutcome(ctx, op, err)
	return nil
}

// applyOutcome updates queue and store for one attempt's result. Transport
// failures are expected and drive the retry/evict policy; they are never
// surfaced to the enqueuing caller.
func (r *Reconciler) applyOutcome(ctx context.Context, op queue.Operation, execErr error) {
	now := time.Now().UTC()

	switch {
	case execErr == nil:
		r.queue.Remove(op.ID)
		r.persist(ctx)
		r.count(func(s *Stats) { s.Completed++ })
		r.logger.Debug("operation completed", "id", op.ID, "kind", op.Kind)
		r.emit(Event{Type: EventCompleted, Operation: op, At: now})

	case op.RetryCount+1 > op.MaxRetries:
		r.queue.Remove(op.ID)
		r.persist(ctx)
		r.count(func(s *Stats) { s.Evicted++ })
		r.logger.Warn("operation evicted",
			"id", op.ID,
			"kind", op.Kind,
			"retries", op.RetryCount,
			"max_retries", op.MaxRetries,
			"error", execErr)
		r.emit(Event{Type: EventEvicted, Operation: op, Error: execErr.Error(), At: now})

	default:
		op.RetryCount++
		r.queue.UpdateRetry(op.ID, op.RetryCount)
		r.persist(ctx)
		r.count(func(s *Stats) { s.Retried++ })
		r.logger.Debug("operation retry scheduled",
			"id", op.ID,
			"retry_count", op.RetryCount,
			"max_retries", op.MaxRetries,
			"error", execErr)
		r.emit(Event{Type: EventRetryScheduled, Operation: op, Error: execErr.Error(), At: now})
	}
}

// persist writes the queue through to the store. Write failures are logged
// and never halt a drain: the in-memory queue stays authoritative until
// the next successful save.
func (r *Reconciler) persist(ctx context.Context) {
	if err := r.store.SaveAll(ctx, r.queue.Snapshot()); err != nil {
		r.logger.Warn("persist pending operations failed", "error", err)
	}
}

func (r *Reconciler) count(f func(*Stats)) {
	r.mu.Lock()
	f(&r.stats)
	r.mu.Unlock()
}

func (r *Reconciler) emit(ev Event) {
	r.mu.Lock()
	subs := make([]func(Event), len(r.subs))
	copy(subs, r.subs)
	r.mu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}
