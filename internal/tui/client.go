// Package tui is the operator terminal for a running carebridged daemon:
// it polls the HTTP API and renders the pending queue, connectivity and
// drain counters.
package tui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/carebridge/carebridge/internal/queue"
)

// Client is a thin HTTP client for the daemon API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client for the daemon at baseURL. token may be
// empty when the daemon runs in dev mode.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Status mirrors the /api/status response.
type Status struct {
	Version   string `json:"version"`
	Pending   int    `json:"pending"`
	State     string `json:"state"`
	Connected bool   `json:"connected"`
	Stats     struct {
		Drains    int64 `json:"drains"`
		Completed int64 `json:"completed"`
		Retried   int64 `json:"retried"`
		Evicted   int64 `json:"evicted"`
	} `json:"stats"`
}

// Connectivity mirrors the /api/connectivity response.
type Connectivity struct {
	Connected         bool   `json:"connected"`
	InternetReachable string `json:"internetReachable"`
}

// Pending returns the queue in drain order.
func (c *Client) Pending() ([]queue.Operation, error) {
	var out struct {
		Operations []queue.Operation `json:"operations"`
	}
	if err := c.get("/api/operations", &out); err != nil {
		return nil, err
	}
	return out.Operations, nil
}

// Status returns daemon status and counters.
func (c *Client) Status() (*Status, error) {
	var st Status
	if err := c.get("/api/status", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Connectivity returns the monitor's view of the network.
func (c *Client) Connectivity() (*Connectivity, error) {
	var conn Connectivity
	if err := c.get("/api/connectivity", &conn); err != nil {
		return nil, err
	}
	return &conn, nil
}

// Retry asks the daemon to attempt one operation immediately.
func (c *Client) Retry(id string) error {
	return c.post("/api/operations/"+id+"/retry", nil)
}

// Remove deletes a pending operation.
func (c *Client) Remove(id string) error {
	req, err := http.NewRequest(http.MethodDelete, c.baseURL+"/api/operations/"+id, nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// Drain triggers a full drain pass.
func (c *Client) Drain() error {
	return c.post("/api/drain", nil)
}

func (c *Client) get(path string, out interface{}) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(path string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("daemon returned %d", resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
