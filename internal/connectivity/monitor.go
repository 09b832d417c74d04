// Package connectivity observes whether the device can reach the network
// and notifies subscribers on each transition.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Reachability is the tri-state "can we reach the internet" signal.
type Reachability int

const (
	ReachabilityUnknown Reachability = iota
	ReachabilityReachable
	ReachabilityUnreachable
)

func (r Reachability) String() string {
	switch r {
	case ReachabilityReachable:
		return "reachable"
	case ReachabilityUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// Direction tags a connectivity transition.
type Direction string

const (
	BecameOnline  Direction = "became_online"
	BecameOffline Direction = "became_offline"
)

// Event is emitted exactly once per actual transition of the connected
// boolean. Flapping produces one event per flap; there is no debouncing.
type Event struct {
	Direction Direction
	Reachable Reachability
	At        time.Time
}

// Source pushes raw connectivity samples into the monitor.
type Source interface {
	// Start begins observing and pushes every sample through push.
	Start(ctx context.Context, push func(connected bool, reachable Reachability)) error
	Stop() error
}

// Monitor folds raw source samples into a connected boolean and emits a
// transition event to all subscribers, synchronously, whenever the value
// changes. The initial state is offline/unknown, so the first online
// sample emits BecameOnline.
type Monitor struct {
	source Source
	logger *slog.Logger

	// emitMu serializes whole samples (state update plus fanout) so
	// subscribers see transitions in the order they happened, even when
	// sources push from multiple goroutines.
	emitMu sync.Mutex

	mu        sync.Mutex
	connected bool
	reachable Reachability
	subs      []func(Event)
	started   bool
}

// NewMonitor creates a monitor over the given source.
func NewMonitor(source Source, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		source:    source,
		logger:    logger.With("component", "connectivity"),
		reachable: ReachabilityUnknown,
	}
}

// Start begins observing the underlying source.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	return m.source.Start(ctx, m.Observe)
}

// Stop stops the underlying source.
func (m *Monitor) Stop() error {
	return m.source.Stop()
}

// Connected returns the current connected boolean.
func (m *Monitor) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// InternetReachable returns the current tri-state reachability.
func (m *Monitor) InternetReachable() Reachability {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reachable
}

// Subscribe registers fn to be called synchronously on each transition.
func (m *Monitor) Subscribe(fn func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// Observe ingests one sample. Exported so sources (and tests) can push
// samples directly. Samples are serialized: a subscriber that is still
// handling one transition delays delivery of the next, it never sees
// them reordered.
func (m *Monitor) Observe(connected bool, reachable Reachability) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.mu.Lock()
	prev := m.connected
	m.connected = connected
	m.reachable = reachable
	changed := prev != connected
	subs := make([]func(Event), len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	if !changed {
		return
	}

	dir := BecameOffline
	if connected {
		dir = BecameOnline
	}
	ev := Event{Direction: dir, Reachable: reachable, At: time.Now().UTC()}
	m.logger.Info("connectivity transition", "direction", dir, "reachable", reachable.String())

	for _, fn := range subs {
		fn(ev)
	}
}
