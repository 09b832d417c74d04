// Package api exposes the operation queue over HTTP for bedside clients
// and the operator TUI.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/carebridge/carebridge/internal/queue"
	"github.com/carebridge/carebridge/internal/reconciler"
	"github.com/carebridge/carebridge/internal/relay"
	"github.com/carebridge/carebridge/internal/security"
)

// Server is the HTTP API server.
type Server struct {
	port       int
	manager    *relay.Manager
	logger     *slog.Logger
	httpServer *http.Server
	jwtSecret  []byte
	events     *EventHub
	startedAt  time.Time
}

// NewServer creates a new API server. A nil jwtSecret disables
// authentication (dev mode).
func NewServer(port int, manager *relay.Manager, jwtSecret []byte, logger *slog.Logger) *Server {
	s := &Server{
		port:      port,
		manager:   manager,
		logger:    logger.With("component", "api"),
		jwtSecret: jwtSecret,
		events:    NewEventHub(logger),
	}
	manager.Subscribe(s.events.Publish)
	return s
}

// Start starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.startedAt = time.Now()
	s.logger.Info("API server starting", "port", s.port)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down API server")
		s.events.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Handler returns the routed handler without binding a listener.
// /api/events is mounted outside the auth middleware: WebSocket clients
// cannot set headers, so the handler validates a ?token= param itself.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/operations", s.handleOperations)
	mux.HandleFunc("/api/operations/", s.handleOperationDetail)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/connectivity", s.handleConnectivity)
	mux.HandleFunc("/api/drain", s.handleDrain)
	auth := security.AuthMiddleware(s.jwtSecret)

	root := http.NewServeMux()
	root.HandleFunc("/api/events", s.handleEvents)
	root.Handle("/", auth(mux))
	return s.corsMiddleware(s.loggingMiddleware(root))
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// EnqueueRequest is the POST /api/operations body. MaxRetries is a
// pointer so an omitted field (take the configured default) is
// distinguishable from an explicit zero (single attempt, no retries).
type EnqueueRequest struct {
	Kind       queue.Kind            `json:"kind"`
	Priority   queue.Priority        `json:"priority"`
	APICall    *queue.APICallPayload `json:"apiCall,omitempty"`
	Payload    json.RawMessage       `json:"payload,omitempty"`
	Capability string                `json:"capability,omitempty"`
	Metadata   map[string]string     `json:"metadata,omitempty"`
	MaxRetries *int                  `json:"maxRetries,omitempty"`
}

// handleOperations lists the pending set or enqueues a new operation.
func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		pending := s.manager.Pending()
		s.respondJSON(w, map[string]interface{}{
			"operations": pending,
			"count":      len(pending),
		})

	case http.MethodPost:
		if err := security.RequireWriter(r); err != nil {
			http.Error(w, `{"error":"writer role required"}`, http.StatusForbidden)
			return
		}
		var req EnqueueRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		op := queue.Operation{
			Kind:       req.Kind,
			Priority:   req.Priority,
			APICall:    req.APICall,
			Payload:    req.Payload,
			Capability: req.Capability,
			Metadata:   req.Metadata,
			MaxRetries: s.manager.DefaultMaxRetries(),
		}
		if req.MaxRetries != nil {
			op.MaxRetries = *req.MaxRetries
		}
		id, err := s.manager.Enqueue(r.Context(), op)
		if err != nil {
			http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), http.StatusBadRequest)
			return
		}
		s.respondStatusJSON(w, http.StatusAccepted, map[string]string{"id": id})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleOperationDetail handles /api/operations/{id} and
// /api/operations/{id}/retry.
func (s *Server) handleOperationDetail(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/operations/")
	parts := strings.Split(path, "/")

	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "operation id required", http.StatusBadRequest)
		return
	}
	id := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodDelete:
		if err := security.RequireWriter(r); err != nil {
			http.Error(w, `{"error":"writer role required"}`, http.StatusForbidden)
			return
		}
		s.manager.Remove(r.Context(), id)
		s.respondJSON(w, map[string]string{"id": id, "status": "removed"})

	case action == "retry" && r.Method == http.MethodPost:
		if err := security.RequireWriter(r); err != nil {
			http.Error(w, `{"error":"writer role required"}`, http.StatusForbidden)
			return
		}
		if err := s.manager.Retry(r.Context(), id); err != nil {
			status := http.StatusNotFound
			if errors.Is(err, reconciler.ErrDrainInProgress) {
				status = http.StatusConflict
			}
			http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), status)
			return
		}
		s.respondJSON(w, map[string]string{"id": id, "status": "retried"})

	default:
		http.Error(w, "invalid action or method", http.StatusBadRequest)
	}
}

// handleStatus returns daemon status and reconciler counters.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := s.manager.Stats()
	s.respondJSON(w, map[string]interface{}{
		"version":   "0.1.0",
		"uptime":    time.Since(s.startedAt).Seconds(),
		"pending":   len(s.manager.Pending()),
		"state":     string(s.manager.State()),
		"connected": s.manager.Connected(),
		"stats": map[string]int64{
			"drains":    stats.Drains,
			"completed": stats.Completed,
			"retried":   stats.Retried,
			"evicted":   stats.Evicted,
		},
	})
}

// handleConnectivity returns the monitor's view of the network.
func (s *Server) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.respondJSON(w, map[string]interface{}{
		"connected":         s.manager.Connected(),
		"internetReachable": s.manager.InternetReachable().String(),
	})
}

// handleDrain triggers a manual drain pass.
func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := security.RequireWriter(r); err != nil {
		http.Error(w, `{"error":"writer role required"}`, http.StatusForbidden)
		return
	}

	if err := s.manager.Drain(r.Context()); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), http.StatusInternalServerError)
		return
	}
	s.respondJSON(w, map[string]string{"status": "drained"})
}

// respondJSON writes a 200 JSON response
func (s *Server) respondJSON(w http.ResponseWriter, data interface{}) {
	s.respondStatusJSON(w, http.StatusOK, data)
}

// respondStatusJSON writes a JSON response with the given status. The
// Content-Type header must be set before the status is written.
func (s *Server) respondStatusJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON", "error", err)
	}
}
