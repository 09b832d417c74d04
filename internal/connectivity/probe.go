package connectivity

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// ProbeSource samples connectivity by issuing a periodic HTTP request to a
// reachability endpoint.
type ProbeSource struct {
	url      string
	interval time.Duration
	client   *http.Client
	logger   *slog.Logger

	mu     sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewProbeSource creates a probe against url every interval. interval <= 0
// defaults to 15 seconds.
func NewProbeSource(url string, interval time.Duration, logger *slog.Logger) *ProbeSource {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProbeSource{
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger.With("source", "probe"),
	}
}

// Start probes immediately, then on every tick, until ctx is done or Stop
// is called.
func (p *ProbeSource) Start(ctx context.Context, push func(bool, Reachability)) error {
	p.mu.Lock()
	if p.stopCh != nil {
		p.mu.Unlock()
		return nil
	}
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	go func() {
		defer close(doneCh)

		p.sample(ctx, push)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				p.sample(ctx, push)
			}
		}
	}()

	return nil
}

// Stop halts probing and waits for the loop to exit.
func (p *ProbeSource) Stop() error {
	p.mu.Lock()
	stopCh, doneCh := p.stopCh, p.doneCh
	p.stopCh, p.doneCh = nil, nil
	p.mu.Unlock()

	if stopCh == nil {
		return nil
	}
	close(stopCh)
	<-doneCh
	return nil
}

func (p *ProbeSource) sample(ctx context.Context, push func(bool, Reachability)) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		p.logger.Error("build probe request", "error", err)
		push(false, ReachabilityUnknown)
		return
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("probe failed", "error", err)
		push(false, ReachabilityUnreachable)
		return
	}
	resp.Body.Close()

	if resp.StatusCode >= 500 {
		// Endpoint answered but is unhealthy: the link is up, the
		// backend may not be usable yet.
		push(true, ReachabilityUnknown)
		return
	}
	push(true, ReachabilityReachable)
}
