// Package monitor periodically probes the health endpoint of every neighbor
// a node knows (parent, children and master) and keeps the latest status of
// each.
//
// A neighbor starts "unknown", becomes "healthy" on the first successful
// probe and "unhealthy" after MaxFailures consecutive failures. Status is
// informational: routing never consults it, so requests to an unhealthy
// neighbor still go out and fail on their own.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/dreamware/thingdir/internal/cluster"
	"github.com/dreamware/thingdir/internal/metrics"
)

// Neighbor health states.
const (
	StatusUnknown   = "unknown"
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// Defaults used when Config leaves a field zero.
const (
	DefaultInterval    = 10 * time.Second
	DefaultTimeout     = 2 * time.Second
	DefaultMaxFailures = 3
)

// NeighborHealth is the last known state of one neighbor.
type NeighborHealth struct {
	Name             string    `json:"name"`
	Role             string    `json:"role"`
	URL              string    `json:"url"`
	Status           string    `json:"status"`
	LastCheck        time.Time `json:"last_check"`
	LastHealthy      time.Time `json:"last_healthy,omitzero"`
	ConsecutiveFails int       `json:"consecutive_fails"`
	LastError        string    `json:"last_error,omitempty"`
}

// Config wires a Monitor.
type Config struct {
	Topology    *cluster.Topology
	Interval    time.Duration
	Timeout     time.Duration
	MaxFailures int
	Logger      *slog.Logger
	Metrics     *metrics.Metrics

	// Check replaces the HTTP probe; tests use it.
	Check func(ctx context.Context, n cluster.Neighbor) error
}

// Monitor tracks neighbor health.
// Thread-safe: every method except OnUnhealthy may be called concurrently.
type Monitor struct {
	neighbors   []cluster.Neighbor                                  // Probed on every round
	interval    time.Duration                                       // Time between rounds
	maxFailures int                                                 // Failures before "unhealthy"
	check       func(ctx context.Context, n cluster.Neighbor) error // Probe function
	onUnhealthy func(n cluster.Neighbor)                            // Fired on the unhealthy transition
	httpClient  *http.Client                                        // Client for the default probe
	logger      *slog.Logger
	metrics     *metrics.Metrics

	mu     sync.RWMutex               // Protects health
	health map[string]*NeighborHealth // Current state per neighbor name

	cancel context.CancelFunc // Stops the probe loop
	wg     sync.WaitGroup     // Waits for the probe loop on Stop
}

// New creates a monitor for every neighbor in cfg.Topology.
// Every neighbor starts "unknown"; nothing is probed until Start or CheckAll.
//
// Parameters:
//   - cfg: Topology is required; zero Interval, Timeout and MaxFailures
//     fall back to DefaultInterval, DefaultTimeout and DefaultMaxFailures
//
// Returns:
//   - *Monitor: Monitor ready to start
//
// Example:
//
//	mon := monitor.New(monitor.Config{Topology: topo, Logger: logger, Metrics: met})
//	mon.Start(ctx)
//	defer mon.Stop()
func New(cfg Config) *Monitor {
	m := &Monitor{
		neighbors:   cfg.Topology.Neighbors(),
		interval:    cfg.Interval,
		maxFailures: cfg.MaxFailures,
		check:       cfg.Check,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		health:      make(map[string]*NeighborHealth),
	}
	if m.interval <= 0 {
		m.interval = DefaultInterval
	}
	if m.maxFailures <= 0 {
		m.maxFailures = DefaultMaxFailures
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	m.httpClient = &http.Client{Timeout: timeout}
	if m.check == nil {
		m.check = m.probe
	}
	now := time.Now()
	for _, n := range m.neighbors {
		m.health[n.Name] = &NeighborHealth{
			Name: n.Name, Role: string(n.Role), URL: n.URL,
			Status: StatusUnknown, LastCheck: now,
		}
	}
	return m
}

// OnUnhealthy registers a callback fired (in its own goroutine) when a
// neighbor turns unhealthy. Call it before Start.
//
// Parameters:
//   - fn: Receives the neighbor that just crossed MaxFailures
//
// Example:
//
//	mon.OnUnhealthy(func(n cluster.Neighbor) {
//	    if n.Role == cluster.RoleParent {
//	        logger.Warn("parent unreachable", slog.String("parent", n.Name))
//	    }
//	})
func (m *Monitor) OnUnhealthy(fn func(n cluster.Neighbor)) {
	m.onUnhealthy = fn
}

// Start probes all neighbors immediately and then every interval until ctx
// is cancelled or Stop is called. It returns at once; the loop runs in its
// own goroutine.
//
// Parameters:
//   - ctx: Ends the loop when cancelled
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.logger.Info("neighbor monitor started",
			slog.Int("neighbors", len(m.neighbors)),
			slog.Duration("interval", m.interval))
		m.CheckAll(ctx)
		for {
			select {
			case <-ticker.C:
				m.CheckAll(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the probe loop and waits for it.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// CheckAll probes every neighbor once, in parallel.
func (m *Monitor) CheckAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, n := range m.neighbors {
		wg.Add(1)
		go func(n cluster.Neighbor) {
			defer wg.Done()
			m.checkNeighbor(ctx, n)
		}(n)
	}
	wg.Wait()
}

func (m *Monitor) checkNeighbor(ctx context.Context, n cluster.Neighbor) {
	err := m.check(ctx, n)

	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.health[n.Name]
	h.LastCheck = time.Now()

	if err != nil {
		h.ConsecutiveFails++
		h.LastError = err.Error()
		m.logger.Debug("neighbor probe failed",
			slog.String("neighbor", n.Name),
			slog.Int("attempt", h.ConsecutiveFails),
			slog.String("error", err.Error()))
		if h.ConsecutiveFails >= m.maxFailures && h.Status != StatusUnhealthy {
			h.Status = StatusUnhealthy
			m.metrics.SetNeighborUp(n.Name, string(n.Role), false)
			m.logger.Warn("neighbor unhealthy",
				slog.String("neighbor", n.Name),
				slog.String("role", string(n.Role)),
				slog.Int("failures", h.ConsecutiveFails))
			if m.onUnhealthy != nil {
				go m.onUnhealthy(n)
			}
		}
		return
	}

	if h.Status == StatusUnhealthy {
		m.logger.Info("neighbor recovered", slog.String("neighbor", n.Name))
	}
	h.Status = StatusHealthy
	h.ConsecutiveFails = 0
	h.LastError = ""
	h.LastHealthy = h.LastCheck
	m.metrics.SetNeighborUp(n.Name, string(n.Role), true)
}

func (m *Monitor) probe(ctx context.Context, n cluster.Neighbor) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cluster.JoinURL(n.URL, "/health"), nil)
	if err != nil {
		return err
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// Snapshot returns a copy of every neighbor's state, keyed by name.
func (m *Monitor) Snapshot() map[string]NeighborHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]NeighborHealth, len(m.health))
	for name, h := range m.health {
		out[name] = *h
	}
	return out
}
