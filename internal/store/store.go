// Package store persists the pending-operation set. All mutation goes
// through whole-set rewrites under one well-known key; per-operation CRUD
// is deliberately absent and callers serialize concurrent mutation.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/carebridge/carebridge/internal/queue"
)

var (
	// ErrStorageRead signals the persisted set could not be loaded. Callers
	// treat the result as empty rather than fail.
	ErrStorageRead = errors.New("store: read failed")
	// ErrStorageWrite signals the persisted set could not be written. The
	// in-memory queue stays authoritative and the write is retried on the
	// next mutation.
	ErrStorageWrite = errors.New("store: write failed")
)

// OperationsKey is the well-known key the pending set lives under.
const OperationsKey = "pending_operations"

// Store persists the full pending-operation set.
type Store interface {
	LoadAll(ctx context.Context) ([]queue.Operation, error)
	SaveAll(ctx context.Context, ops []queue.Operation) error
	Close() error
}

// KV is the key-value surface a Store is built on.
type KV interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// kvStore serializes the operation set as JSON under OperationsKey.
type kvStore struct {
	kv     KV
	logger *slog.Logger
}

// NewKV wraps a key-value backend as an operation Store.
func NewKV(kv KV, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &kvStore{kv: kv, logger: logger.With("component", "store")}
}

func (s *kvStore) LoadAll(ctx context.Context) ([]queue.Operation, error) {
	data, ok, err := s.kv.Get(ctx, OperationsKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageRead, err)
	}
	if !ok || len(data) == 0 {
		return nil, nil
	}

	var ops []queue.Operation
	if err := json.Unmarshal(data, &ops); err != nil {
		return nil, fmt.Errorf("%w: corrupt payload: %v", ErrStorageRead, err)
	}
	return ops, nil
}

func (s *kvStore) SaveAll(ctx context.Context, ops []queue.Operation) error {
	if len(ops) == 0 {
		if err := s.kv.Delete(ctx, OperationsKey); err != nil {
			return fmt.Errorf("%w: %v", ErrStorageWrite, err)
		}
		return nil
	}

	data, err := json.Marshal(ops)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}
	if err := s.kv.Set(ctx, OperationsKey, data); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}
	return nil
}

func (s *kvStore) Close() error {
	return s.kv.Close()
}
