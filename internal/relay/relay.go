// Package relay wires the offline-operation queue together: store, queue,
// connectivity monitor, executor and reconciler behind one manager the UI
// layer talks to.
//
// Enqueue is fire-and-forget: transport failures never reach the caller,
// they drive the reconciler's retry/evict policy instead.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/carebridge/carebridge/internal/connectivity"
	"github.com/carebridge/carebridge/internal/queue"
	"github.com/carebridge/carebridge/internal/reconciler"
	"github.com/carebridge/carebridge/internal/store"
)

// Options collects the manager's collaborators.
type Options struct {
	Queue    *queue.Queue
	Store    store.Store
	Monitor  *connectivity.Monitor
	Executor reconciler.Executor
	Logger   *slog.Logger

	// DefaultMaxRetries is the retry budget the API layer applies when a
	// request omits the field. Enqueue itself takes MaxRetries as given:
	// zero means a single attempt.
	DefaultMaxRetries int
}

// Manager is the facade over the queue core.
type Manager struct {
	queue   *queue.Queue
	store   store.Store
	monitor *connectivity.Monitor
	rec     *reconciler.Reconciler
	logger  *slog.Logger

	defaultMaxRetries int
}

// New creates a manager; it does not start anything yet.
func New(opts Options) (*Manager, error) {
	if opts.Queue == nil || opts.Store == nil || opts.Monitor == nil || opts.Executor == nil {
		return nil, fmt.Errorf("relay: queue, store, monitor and executor are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "relay")

	m := &Manager{
		queue:             opts.Queue,
		store:             opts.Store,
		monitor:           opts.Monitor,
		rec:               reconciler.New(opts.Queue, opts.Store, opts.Executor, logger),
		logger:            logger,
		defaultMaxRetries: opts.DefaultMaxRetries,
	}
	return m, nil
}

// Start loads the persisted set, hooks the reconciler to connectivity
// transitions and starts the monitor. Storage read errors are swallowed:
// a corrupt or unavailable store means no pending operations, not a crash.
func (m *Manager) Start(ctx context.Context) error {
	ops, err := m.store.LoadAll(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrStorageRead) {
			return fmt.Errorf("load pending operations: %w", err)
		}
		m.logger.Warn("pending operations unreadable, starting empty", "error", err)
		ops = nil
	}
	m.queue.ReplaceAll(ops)
	m.logger.Info("pending operations loaded", "count", len(ops))

	m.monitor.Subscribe(func(ev connectivity.Event) {
		m.rec.HandleTransition(ctx, ev)
	})

	return m.monitor.Start(ctx)
}

// Stop halts the connectivity monitor and closes the store.
func (m *Manager) Stop() error {
	if err := m.monitor.Stop(); err != nil {
		m.logger.Warn("stop monitor", "error", err)
	}
	return m.store.Close()
}

// Enqueue validates and queues an operation, writes it through to the
// store and returns the assigned id. When the device is online the
// reconciler is nudged so the operation does not wait for the next
// transition.
func (m *Manager) Enqueue(ctx context.Context, op queue.Operation) (string, error) {
	if err := op.Validate(); err != nil {
		return "", fmt.Errorf("relay: %w", err)
	}

	id := m.queue.Enqueue(op)
	m.persist(ctx)
	m.logger.Debug("operation enqueued", "id", id, "kind", op.Kind, "priority", op.Priority)

	if queued, ok := m.queue.Get(id); ok {
		m.rec.NotifyEnqueued(queued)
	}

	if m.monitor.Connected() {
		go func() {
			if err := m.rec.Drain(ctx); err != nil {
				m.logger.Warn("drain after enqueue failed", "error", err)
			}
		}()
	}
	return id, nil
}

// DefaultMaxRetries returns the configured retry budget for operations
// enqueued without an explicit one. MaxRetries on the operation itself is
// always honored, including an explicit zero.
func (m *Manager) DefaultMaxRetries() int {
	return m.defaultMaxRetries
}

// Remove deletes a pending operation. Removing an absent id is a no-op.
// An in-flight attempt is not cancelled; removal only prevents future
// attempts.
func (m *Manager) Remove(ctx context.Context, id string) {
	if m.queue.Remove(id) {
		m.persist(ctx)
		m.logger.Debug("operation removed", "id", id)
	}
}

// Retry executes the single named operation once, following the normal
// success/failure/evict rules.
func (m *Manager) Retry(ctx context.Context, id string) error {
	return m.rec.Retry(ctx, id)
}

// Drain triggers a full drain pass; used by the drain scheduler.
func (m *Manager) Drain(ctx context.Context) error {
	return m.rec.Drain(ctx)
}

// Pending returns the current pending set in drain order.
func (m *Manager) Pending() []queue.Operation {
	return m.queue.SnapshotOrderedForDrain()
}

// HasPending reports whether any operation is waiting.
func (m *Manager) HasPending() bool {
	return m.queue.Len() > 0
}

// Connected reports the current connectivity boolean.
func (m *Manager) Connected() bool {
	return m.monitor.Connected()
}

// InternetReachable returns the tri-state reachability.
func (m *Manager) InternetReachable() connectivity.Reachability {
	return m.monitor.InternetReachable()
}

// State returns the reconciler state.
func (m *Manager) State() reconciler.State {
	return m.rec.State()
}

// Stats returns reconciler outcome counters.
func (m *Manager) Stats() reconciler.Stats {
	return m.rec.Stats()
}

// Subscribe registers fn for reconciler events (completions, retries,
// evictions, drain lifecycle).
func (m *Manager) Subscribe(fn func(reconciler.Event)) {
	m.rec.Subscribe(fn)
}

func (m *Manager) persist(ctx context.Context) {
	if err := m.store.SaveAll(ctx, m.queue.Snapshot()); err != nil {
		// Queue stays authoritative; the write is retried on the next
		// mutation.
		m.logger.Warn("persist pending operations failed", "error", err)
	}
}
