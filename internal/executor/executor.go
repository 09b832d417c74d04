// Package executor dispatches one pending operation per call to its
// transport or handler. Retry policy lives in the reconciler, never here.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/carebridge/carebridge/internal/queue"
)

var (
	// ErrTransportFailure wraps transport errors and non-2xx responses.
	ErrTransportFailure = errors.New("executor: transport failure")
	// ErrUnhandledKind is returned when no handler is registered for a
	// data_sync/file_upload operation or a custom capability.
	ErrUnhandledKind = errors.New("executor: unhandled operation kind")
)

// Handler executes a non-apiCall operation.
type Handler func(ctx context.Context, op queue.Operation) error

// Executor performs at most one attempt per Execute call.
type Executor struct {
	transport Transport
	logger    *slog.Logger

	mu           sync.RWMutex
	handlers     map[queue.Kind]Handler
	capabilities map[string]Handler
}

// New creates an executor over the given transport.
func New(transport Transport, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		transport:    transport,
		logger:       logger.With("component", "executor"),
		handlers:     make(map[queue.Kind]Handler),
		capabilities: make(map[string]Handler),
	}
}

// RegisterHandler installs the handler for data_sync or file_upload
// operations.
func (e *Executor) RegisterHandler(kind queue.Kind, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[kind] = h
}

// RegisterCapability installs the function behind a custom operation name.
// Operations reference capabilities by name so no executable code is ever
// serialized into the store.
func (e *Executor) RegisterCapability(name string, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.capabilities[name] = h
}

// Execute dispatches op once and reports the outcome. nil means success.
func (e *Executor) Execute(ctx context.Context, op queue.Operation) error {
	switch op.Kind {
	case queue.KindAPICall:
		return e.executeAPICall(ctx, op)
	case queue.KindDataSync, queue.KindFileUpload:
		e.mu.RLock()
		h, ok := e.handlers[op.Kind]
		e.mu.RUnlock()
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnhandledKind, op.Kind)
		}
		return runHandler(ctx, h, op)
	case queue.KindCustom:
		e.mu.RLock()
		h, ok := e.capabilities[op.Capability]
		e.mu.RUnlock()
		if !ok {
			return fmt.Errorf("%w: capability %q", ErrUnhandledKind, op.Capability)
		}
		return runHandler(ctx, h, op)
	default:
		return fmt.Errorf("%w: %s", ErrUnhandledKind, op.Kind)
	}
}

func (e *Executor) executeAPICall(ctx context.Context, op queue.Operation) error {
	if op.APICall == nil {
		return fmt.Errorf("%w: api_call operation %s has no payload", ErrUnhandledKind, op.ID)
	}

	status, err := e.transport.Request(ctx, op.APICall.Method, op.APICall.Target, op.APICall.Body, op.APICall.Headers)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransportFailure, err)
	}
	if status < 200 || status > 299 {
		return fmt.Errorf("%w: http %d", ErrTransportFailure, status)
	}
	return nil
}

// runHandler converts a handler panic into a failure so one bad custom
// function cannot take down a drain pass.
func runHandler(ctx context.Context, h Handler, op queue.Operation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, op)
}
