package connectivity

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// fakeSource pushes whatever samples the test feeds it.
type fakeSource struct {
	push func(bool, Reachability)
}

func (f *fakeSource) Start(_ context.Context, push func(bool, Reachability)) error {
	f.push = push
	return nil
}

func (f *fakeSource) Stop() error { return nil }

func TestMonitor_OneEventPerTransition(t *testing.T) {
	src := &fakeSource{}
	m := NewMonitor(src, slog.Default())

	var mu sync.Mutex
	var events []Event
	m.Subscribe(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// offline -> online -> online (no-op) -> offline -> online
	src.push(true, ReachabilityReachable)
	src.push(true, ReachabilityReachable)
	src.push(false, ReachabilityUnreachable)
	src.push(true, ReachabilityReachable)

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 3 {
		t.Fatalf("expected 3 transitions, got %d", len(events))
	}
	want := []Direction{BecameOnline, BecameOffline, BecameOnline}
	for i, dir := range want {
		if events[i].Direction != dir {
			t.Errorf("event %d: expected %s, got %s", i, dir, events[i].Direction)
		}
	}
}

func TestMonitor_ConcurrentSamplesStayOrdered(t *testing.T) {
	m := NewMonitor(&fakeSource{}, slog.Default())

	var mu sync.Mutex
	var events []Event
	m.Subscribe(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	// Hammer the monitor from two goroutines, the way a broker client
	// fires connect and connection-lost callbacks concurrently.
	var wg sync.WaitGroup
	for g := 0; g < 2; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				m.Observe(true, ReachabilityReachable)
				m.Observe(false, ReachabilityUnknown)
			}
		}()
	}
	wg.Wait()

	// The connected boolean only ever flips, so delivered transitions
	// must strictly alternate direction.
	mu.Lock()
	defer mu.Unlock()
	if len(events) == 0 {
		t.Fatal("expected transitions delivered")
	}
	for i := 1; i < len(events); i++ {
		if events[i].Direction == events[i-1].Direction {
			t.Fatalf("events %d and %d have the same direction %s", i-1, i, events[i].Direction)
		}
	}
}

func TestMonitor_InitialStateOffline(t *testing.T) {
	m := NewMonitor(&fakeSource{}, slog.Default())

	if m.Connected() {
		t.Error("expected monitor to start offline")
	}
	if m.InternetReachable() != ReachabilityUnknown {
		t.Errorf("expected unknown reachability, got %s", m.InternetReachable())
	}
}

func TestMonitor_StateTracksSamples(t *testing.T) {
	src := &fakeSource{}
	m := NewMonitor(src, slog.Default())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	src.push(true, ReachabilityReachable)
	if !m.Connected() || m.InternetReachable() != ReachabilityReachable {
		t.Error("expected online/reachable after sample")
	}

	src.push(false, ReachabilityUnreachable)
	if m.Connected() {
		t.Error("expected offline after sample")
	}
}

func TestProbeSource_SamplesEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	src := NewProbeSource(server.URL, time.Hour, slog.Default())
	defer src.Stop()

	sampleCh := make(chan bool, 1)
	err := src.Start(context.Background(), func(connected bool, _ Reachability) {
		select {
		case sampleCh <- connected:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case connected := <-sampleCh:
		if !connected {
			t.Error("expected connected sample from healthy endpoint")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for probe sample")
	}
}

func TestProbeSource_FailureIsUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // probe hits a dead endpoint

	src := NewProbeSource(server.URL, time.Hour, slog.Default())
	defer src.Stop()

	type sample struct {
		connected bool
		reachable Reachability
	}
	sampleCh := make(chan sample, 1)
	err := src.Start(context.Background(), func(connected bool, reachable Reachability) {
		select {
		case sampleCh <- sample{connected, reachable}:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case s := <-sampleCh:
		if s.connected {
			t.Error("expected disconnected sample from dead endpoint")
		}
		if s.reachable != ReachabilityUnreachable {
			t.Errorf("expected unreachable, got %s", s.reachable)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for probe sample")
	}
}
