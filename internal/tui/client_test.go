package tui

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/carebridge/carebridge/internal/queue"
)

func TestClient_PendingAndStatus(t *testing.T) {
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		switch r.URL.Path {
		case "/api/operations":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"operations": []queue.Operation{
					{ID: "op-1", Kind: queue.KindAPICall, Priority: queue.PriorityHigh, EnqueuedAt: time.Now()},
				},
				"count": 1,
			})
		case "/api/status":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"version": "0.1.0",
				"pending": 1,
				"state":   "idle",
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "tok123")

	ops, err := c.Pending()
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(ops) != 1 || ops[0].ID != "op-1" {
		t.Errorf("unexpected ops %+v", ops)
	}
	if gotAuth != "Bearer tok123" {
		t.Errorf("expected bearer token sent, got %q", gotAuth)
	}

	st, err := c.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.State != "idle" || st.Pending != 1 {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestClient_Actions(t *testing.T) {
	var calls []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "")
	if err := c.Retry("op-9"); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if err := c.Remove("op-9"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := c.Drain(); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	want := []string{
		"POST /api/operations/op-9/retry",
		"DELETE /api/operations/op-9",
		"POST /api/drain",
	}
	if len(calls) != len(want) {
		t.Fatalf("expected %d calls, got %v", len(want), calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d: expected %q, got %q", i, want[i], calls[i])
		}
	}
}

func TestClient_ErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"nope"}`, http.StatusNotFound)
	}))
	defer ts.Close()

	c := NewClient(ts.URL, "")
	if err := c.Retry("missing"); err == nil {
		t.Error("expected error for 404 response")
	}
}
