package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// Priority orders operations for draining. Lower rank drains first.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank returns the drain ordering rank (critical < high < medium < low).
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		// Unknown priorities drain last
		return 4
	}
}

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Kind tags the variant of a pending operation.
type Kind string

const (
	KindAPICall    Kind = "api_call"
	KindDataSync   Kind = "data_sync"
	KindFileUpload Kind = "file_upload"
	KindCustom     Kind = "custom"
)

// APICallPayload describes an HTTP request to replay through the transport.
type APICallPayload struct {
	Method  string            `json:"method"`
	Target  string            `json:"target"` // absolute URL or path resolved against the transport base
	Body    json.RawMessage   `json:"body,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Operation is a unit of deferred work that could not complete while offline.
type Operation struct {
	ID         string            `json:"id"`
	Kind       Kind              `json:"kind"`
	Priority   Priority          `json:"priority"`
	APICall    *APICallPayload   `json:"api_call,omitempty"`
	Payload    json.RawMessage   `json:"payload,omitempty"`    // data_sync / file_upload payloads, opaque to the queue
	Capability string            `json:"capability,omitempty"` // registry key for custom operations
	Metadata   map[string]string `json:"metadata,omitempty"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
	RetryCount int               `json:"retry_count"`
	MaxRetries int               `json:"max_retries"`

	// seq breaks EnqueuedAt ties in insertion order. Not persisted; reassigned
	// when a stored set is loaded back.
	seq uint64
}

// Validate checks the operation is well-formed enough to enqueue.
func (o *Operation) Validate() error {
	if !o.Priority.Valid() {
		return fmt.Errorf("invalid priority %q", o.Priority)
	}
	if o.MaxRetries < 0 {
		return fmt.Errorf("maxRetries must be non-negative, got %d", o.MaxRetries)
	}
	switch o.Kind {
	case KindAPICall:
		if o.APICall == nil {
			return fmt.Errorf("api_call operation requires a payload")
		}
		if o.APICall.Method == "" || o.APICall.Target == "" {
			return fmt.Errorf("api_call operation requires method and target")
		}
	case KindDataSync, KindFileUpload:
		// Payload is opaque; handlers decide what they need.
	case KindCustom:
		if o.Capability == "" {
			return fmt.Errorf("custom operation requires a capability name")
		}
	default:
		return fmt.Errorf("unknown operation kind %q", o.Kind)
	}
	return nil
}
