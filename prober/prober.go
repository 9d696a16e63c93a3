// Package prober issues periodic outbound requests through the instrumented
// HTTP client, so client-side metrics stay populated for every configured
// target. Scheduling uses gocron; probes run concurrently with the serving
// path and never affect it.
package prober

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/giygas/httpmetrics/config"
	"github.com/giygas/httpmetrics/logging"
	"github.com/giygas/httpmetrics/metrics"
	"github.com/giygas/httpmetrics/trace"
)

// Prober periodically fetches the configured targets.
type Prober struct {
	scheduler *gocron.Scheduler
	client    *http.Client
	targets   []string
	interval  time.Duration
}

// NewProber creates a prober whose requests are recorded against store
// under the configured client name. Probe connections resolve host names
// through a caching trace.Resolver, so the DNS cache hit/miss counters are
// populated alongside the request metrics.
func NewProber(cfg *config.Config, store *metrics.ClientMetrics) *Prober {
	resolver := trace.NewResolver(store, cfg.ClientName, 0, nil)
	client := &http.Client{
		Transport: trace.NewTransport(&http.Transport{
			DialContext: resolver.DialContext(nil),
		}, store, cfg.ClientName),
		Timeout: 10 * time.Second,
	}

	return &Prober{
		scheduler: gocron.NewScheduler(time.Local),
		client:    client,
		targets:   cfg.ProbeTargets,
		interval:  time.Duration(cfg.ProbeIntervalSeconds) * time.Second,
	}
}

// Client exposes the instrumented client, mainly for tests.
func (p *Prober) Client() *http.Client {
	return p.client
}

// Start schedules the probe loop. It is a no-op when no targets are
// configured.
func (p *Prober) Start() error {
	if len(p.targets) == 0 {
		logging.Info("No probe targets configured, prober disabled")
		return nil
	}

	_, err := p.scheduler.Every(p.interval).Do(p.ProbeAll)
	if err != nil {
		logging.Error("Failed to schedule probes", "error", err)
		return fmt.Errorf("failed to schedule probes: %w", err)
	}

	p.scheduler.StartAsync()
	logging.Info("Prober started", "targets", len(p.targets), "interval", p.interval.String())
	return nil
}

// Stop stops the scheduler.
func (p *Prober) Stop() {
	p.scheduler.Stop()
}

// ProbeAll fetches every target once. Failures are logged; the transport
// has already recorded them.
func (p *Prober) ProbeAll() {
	for _, target := range p.targets {
		if err := p.probe(target); err != nil {
			logging.Warn("Probe failed", "target", target, "error", err)
		}
	}
}

func (p *Prober) probe(target string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("building probe request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("probing %s: %w", target, err)
	}
	defer resp.Body.Close()

	// Drain so the connection returns to the pool and received bytes are
	// counted.
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return fmt.Errorf("draining probe response: %w", err)
	}

	logging.Debug("Probe completed", "target", target, "status", resp.StatusCode)
	return nil
}
