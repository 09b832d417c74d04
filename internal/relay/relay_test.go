package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/carebridge/carebridge/internal/connectivity"
	"github.com/carebridge/carebridge/internal/queue"
	"github.com/carebridge/carebridge/internal/reconciler"
	"github.com/carebridge/carebridge/internal/store"
)

type fakeSource struct {
	push func(bool, connectivity.Reachability)
}

func (f *fakeSource) Start(_ context.Context, push func(bool, connectivity.Reachability)) error {
	f.push = push
	return nil
}
func (f *fakeSource) Stop() error { return nil }

type okExecutor struct {
	mu       sync.Mutex
	executed []string
}

func (e *okExecutor) Execute(_ context.Context, op queue.Operation) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.executed = append(e.executed, op.ID)
	return nil
}

func (e *okExecutor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.executed)
}

func newManager(t *testing.T, src connectivity.Source) (*Manager, store.Store, *okExecutor) {
	t.Helper()
	kv, err := store.NewFileKV(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileKV: %v", err)
	}
	st := store.NewKV(kv, slog.Default())
	exec := &okExecutor{}

	m, err := New(Options{
		Queue:             queue.New(0),
		Store:             st,
		Monitor:           connectivity.NewMonitor(src, slog.Default()),
		Executor:          exec,
		Logger:            slog.Default(),
		DefaultMaxRetries: 3,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m, st, exec
}

func TestManager_EnqueuePersists(t *testing.T) {
	m, st, _ := newManager(t, &fakeSource{})
	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	id, err := m.Enqueue(ctx, queue.Operation{Kind: queue.KindDataSync, Priority: queue.PriorityHigh, MaxRetries: 2})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if id == "" {
		t.Fatal("expected assigned id")
	}

	loaded, err := st.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(loaded) != 1 || loaded[0].ID != id {
		t.Errorf("expected persisted operation %s, got %+v", id, loaded)
	}
	if loaded[0].MaxRetries != 2 {
		t.Errorf("expected max retries preserved, got %d", loaded[0].MaxRetries)
	}
}

// failingExecutor fails every attempt.
type failingExecutor struct {
	mu       sync.Mutex
	attempts int
}

func (e *failingExecutor) Execute(context.Context, queue.Operation) error {
	e.mu.Lock()
	e.attempts++
	e.mu.Unlock()
	return errors.New("simulated transport failure")
}

func (e *failingExecutor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attempts
}

func TestManager_ExplicitZeroMaxRetries(t *testing.T) {
	kv, err := store.NewFileKV(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileKV: %v", err)
	}
	exec := &failingExecutor{}
	m, err := New(Options{
		Queue:             queue.New(0),
		Store:             store.NewKV(kv, slog.Default()),
		Monitor:           connectivity.NewMonitor(&fakeSource{}, slog.Default()),
		Executor:          exec,
		DefaultMaxRetries: 3,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if m.DefaultMaxRetries() != 3 {
		t.Fatalf("expected default budget 3, got %d", m.DefaultMaxRetries())
	}

	// The configured default must not override an explicit zero: the
	// operation gets exactly one attempt, then eviction.
	if _, err := m.Enqueue(ctx, queue.Operation{Kind: queue.KindDataSync, Priority: queue.PriorityMedium, MaxRetries: 0}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	pending := m.Pending()
	if len(pending) != 1 || pending[0].MaxRetries != 0 {
		t.Fatalf("expected pending operation with zero retry budget, got %+v", pending)
	}

	if err := m.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if m.HasPending() {
		t.Error("expected eviction after one failed attempt")
	}
	if exec.count() != 1 {
		t.Errorf("expected exactly 1 attempt, got %d", exec.count())
	}
}

func TestManager_EnqueueInvalid(t *testing.T) {
	m, _, _ := newManager(t, &fakeSource{})

	_, err := m.Enqueue(context.Background(), queue.Operation{Kind: "bogus", Priority: queue.PriorityLow})
	if err == nil {
		t.Error("expected validation error")
	}
}

func TestManager_StartLoadsPersistedSet(t *testing.T) {
	dir := t.TempDir()
	kv, err := store.NewFileKV(dir)
	if err != nil {
		t.Fatalf("NewFileKV: %v", err)
	}
	st := store.NewKV(kv, slog.Default())
	ctx := context.Background()

	seed := []queue.Operation{
		{ID: "a", Kind: queue.KindDataSync, Priority: queue.PriorityLow, EnqueuedAt: time.Now(), MaxRetries: 1},
		{ID: "b", Kind: queue.KindDataSync, Priority: queue.PriorityHigh, EnqueuedAt: time.Now(), MaxRetries: 1},
	}
	if err := st.SaveAll(ctx, seed); err != nil {
		t.Fatalf("SaveAll: %v", err)
	}

	m, err := New(Options{
		Queue:    queue.New(0),
		Store:    st,
		Monitor:  connectivity.NewMonitor(&fakeSource{}, slog.Default()),
		Executor: &okExecutor{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if !m.HasPending() {
		t.Fatal("expected pending operations after load")
	}
	pending := m.Pending()
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(pending))
	}
	// Drain order: high before low.
	if pending[0].ID != "b" {
		t.Errorf("expected high-priority operation first, got %s", pending[0].ID)
	}
}

func TestManager_CorruptStoreStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	kv, err := store.NewFileKV(dir)
	if err != nil {
		t.Fatalf("NewFileKV: %v", err)
	}
	ctx := context.Background()
	if err := kv.Set(ctx, store.OperationsKey, []byte("garbage")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	m, err := New(Options{
		Queue:    queue.New(0),
		Store:    store.NewKV(kv, slog.Default()),
		Monitor:  connectivity.NewMonitor(&fakeSource{}, slog.Default()),
		Executor: &okExecutor{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Availability over loss-detection: corrupt payload means empty set.
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start should swallow read errors, got: %v", err)
	}
	if m.HasPending() {
		t.Error("expected empty queue after corrupt load")
	}
}

func TestManager_ReconnectDrains(t *testing.T) {
	src := &fakeSource{}
	m, st, exec := newManager(t, src)
	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Device offline: enqueue 3 operations.
	for i := 0; i < 3; i++ {
		if _, err := m.Enqueue(ctx, queue.Operation{Kind: queue.KindDataSync, Priority: queue.PriorityMedium}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	if exec.count() != 0 {
		t.Fatal("operations must not execute while offline")
	}

	// Device comes online: reconciler drains.
	src.push(true, connectivity.ReachabilityReachable)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !m.HasPending() {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if m.HasPending() {
		t.Fatal("expected queue drained after reconnect")
	}

	loaded, err := st.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(loaded) != 0 {
		t.Errorf("expected empty store after drain, got %d", len(loaded))
	}
	if exec.count() != 3 {
		t.Errorf("expected 3 executions, got %d", exec.count())
	}
}

func TestManager_EnqueueEmitsEvent(t *testing.T) {
	m, _, _ := newManager(t, &fakeSource{})
	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var mu sync.Mutex
	var events []reconciler.Event
	m.Subscribe(func(ev reconciler.Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	id, err := m.Enqueue(ctx, queue.Operation{Kind: queue.KindDataSync, Priority: queue.PriorityMedium})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 || events[0].Type != reconciler.EventEnqueued {
		t.Fatalf("expected one enqueued event, got %+v", events)
	}
	if events[0].Operation.ID != id {
		t.Errorf("expected event for %s, got %s", id, events[0].Operation.ID)
	}
}

func TestManager_RemoveIdempotent(t *testing.T) {
	m, st, _ := newManager(t, &fakeSource{})
	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	id, _ := m.Enqueue(ctx, queue.Operation{Kind: queue.KindDataSync, Priority: queue.PriorityLow})
	m.Remove(ctx, id)
	m.Remove(ctx, id) // second remove is a no-op

	if m.HasPending() {
		t.Error("expected empty queue")
	}
	loaded, _ := st.LoadAll(ctx)
	if len(loaded) != 0 {
		t.Errorf("expected empty store, got %d", len(loaded))
	}
}
