package executor

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Transport issues a single HTTP request on behalf of an api_call
// operation. Timeouts are the transport's responsibility; the caller never
// retries inside one dispatch.
type Transport interface {
	Request(ctx context.Context, method, target string, body []byte, headers map[string]string) (status int, err error)
}

// HTTPTransport resolves relative targets against a base URL and attaches
// bearer auth and an idempotency key to every replayed request.
type HTTPTransport struct {
	baseURL   string
	authToken string
	client    *http.Client
	logger    *slog.Logger
}

// NewHTTPTransport creates a transport. timeout <= 0 defaults to 30s.
func NewHTTPTransport(baseURL, authToken string, timeout time.Duration, logger *slog.Logger) *HTTPTransport {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPTransport{
		baseURL:   strings.TrimRight(baseURL, "/"),
		authToken: authToken,
		client:    &http.Client{Timeout: timeout},
		logger:    logger.With("component", "transport"),
	}
}

func (t *HTTPTransport) resolve(target string) string {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return target
	}
	if !strings.HasPrefix(target, "/") {
		target = "/" + target
	}
	return t.baseURL + target
}

// Request performs one attempt. Any non-2xx status is reported back as the
// status with a nil error; connection-level failures return an error.
func (t *HTTPTransport) Request(ctx context.Context, method, target string, body []byte, headers map[string]string) (int, error) {
	url := t.resolve(target)

	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if t.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+t.authToken)
	}
	// A replayed operation may reach the server more than once across
	// drains; the key lets the backend deduplicate.
	req.Header.Set("Idempotency-Key", IdempotencyKey(method, url, body))

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	t.logger.Debug("request dispatched", "method", method, "url", url, "status", resp.StatusCode)
	return resp.StatusCode, nil
}

// IdempotencyKey derives a stable key for a request from its method, URL
// and body.
func IdempotencyKey(method, url string, body []byte) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(url))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
