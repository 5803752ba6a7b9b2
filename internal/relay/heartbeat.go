package relay

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cordona/hookrelay/internal/monitoring"
	"github.com/cordona/hookrelay/internal/registry"
)

const heartbeatComment = "heartbeat"

// HeartbeatConfig tunes the probe loop.
type HeartbeatConfig struct {
	// Interval between cycle starts.
	Interval time.Duration
	// Jitter spreads probes uniformly over [0, Interval) instead of
	// bursting them all at the tick boundary.
	Jitter bool
	// MaxFailures is the consecutive-failure threshold for eviction.
	MaxFailures int
	// ProbeConcurrency caps simultaneous in-flight probes.
	ProbeConcurrency int
}

// CycleSummary is the externally visible outcome of one heartbeat cycle.
type CycleSummary struct {
	Probed       int
	Successes    int
	Failures     int
	StaleRemoved int
	Duration     time.Duration
}

type cycleResult struct {
	mu        sync.Mutex
	successes int
	failures  int
	stale     []string
}

func (c *cycleResult) recordSuccess() {
	c.mu.Lock()
	c.successes++
	c.mu.Unlock()
}

func (c *cycleResult) recordFailure() {
	c.mu.Lock()
	c.failures++
	c.mu.Unlock()
}

func (c *cycleResult) addStale(connectionID string) {
	c.mu.Lock()
	c.stale = append(c.stale, connectionID)
	c.mu.Unlock()
}

// Heartbeat periodically probes every live connection to detect silent death
// (browser closed, network dropped, NAT timeout) before real events need
// delivery. The scheduler itself is stateless across runs; all persistent
// state lives in the health values inside the registry.
type Heartbeat struct {
	cfg     HeartbeatConfig
	reg     *registry.Registry
	manager *Manager
	logger  zerolog.Logger
}

// NewHeartbeat constructs the scheduler. It does not start probing until Run
// is called.
func NewHeartbeat(cfg HeartbeatConfig, reg *registry.Registry, manager *Manager, logger zerolog.Logger) *Heartbeat {
	return &Heartbeat{cfg: cfg, reg: reg, manager: manager, logger: logger}
}

// Run drives probe cycles on a fixed period until the context is cancelled.
// An in-flight cycle finishes its snapshot before Run returns; cancellation
// skips pending jitter sleeps so shutdown is not delayed by a full interval.
func (h *Heartbeat) Run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	h.logger.Info().
		Dur("interval", h.cfg.Interval).
		Bool("jitter", h.cfg.Jitter).
		Int("max_failures", h.cfg.MaxFailures).
		Int("probe_concurrency", h.cfg.ProbeConcurrency).
		Msg("Heartbeat scheduler started")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Msg("Heartbeat scheduler stopped")
			return
		case <-ticker.C:
			h.RunCycle(ctx)
		}
	}
}

// RunCycle executes one full probe sweep: snapshot every connection, probe
// each with bounded concurrency, update health, then batch-remove the
// connections that crossed the failure threshold.
func (h *Heartbeat) RunCycle(ctx context.Context) CycleSummary {
	start := time.Now()
	snapshot := h.reg.AllConnections()
	if len(snapshot) == 0 {
		return CycleSummary{}
	}

	h.logger.Debug().
		Int("connections", len(snapshot)).
		Msg("Starting heartbeat delivery")

	result := &cycleResult{}
	g := new(errgroup.Group)
	if h.cfg.ProbeConcurrency > 0 {
		g.SetLimit(h.cfg.ProbeConcurrency)
	}
	for _, snap := range snapshot {
		g.Go(func() error {
			h.probe(ctx, snap, result)
			return nil
		})
	}
	_ = g.Wait()

	removed := 0
	if len(result.stale) > 0 {
		removed = h.manager.CleanupStale(result.stale)
	}

	summary := CycleSummary{
		Probed:       len(snapshot),
		Successes:    result.successes,
		Failures:     result.failures,
		StaleRemoved: removed,
		Duration:     time.Since(start),
	}
	monitoring.ObserveHeartbeatCycle(summary.Duration)

	h.logger.Debug().
		Int("successful", summary.Successes).
		Int("failed", summary.Failures).
		Int("stale_removed", summary.StaleRemoved).
		Dur("cycle_duration", summary.Duration).
		Msg("Heartbeat cycle completed")

	return summary
}

// probe sends one liveness frame and folds the outcome into the connection's
// health. An individual probe failure only accumulates health state; crossing
// the threshold is what triggers removal, and that happens once per cycle in
// the batched cleanup.
func (h *Heartbeat) probe(ctx context.Context, snap registry.Snapshot, result *cycleResult) {
	if delay := h.jitterDelay(); delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}

	start := time.Now()
	err := snap.Transport.SendComment(heartbeatComment)
	elapsed := time.Since(start)
	monitoring.ObserveHeartbeatProbe(elapsed)

	connectionID := snap.Record.ConnectionID
	if err == nil {
		result.recordSuccess()
		monitoring.RecordHeartbeat("success")
		h.reg.UpdateHealth(connectionID, snap.Record.Health.Reset())
		h.logger.Trace().
			Str("connection_id", connectionID).
			Dur("delivery_time", elapsed).
			Msg("Heartbeat delivered")
		return
	}

	result.recordFailure()
	monitoring.RecordHeartbeat("failure")
	updated := snap.Record.Health.RecordFailure(time.Now())
	h.reg.UpdateHealth(connectionID, updated)

	h.logger.Warn().
		Err(err).
		Str("connection_id", connectionID).
		Int("consecutive_failures", updated.ConsecutiveFailures).
		Msg("Heartbeat failed for connection")

	if updated.IsUnhealthy(h.cfg.MaxFailures) {
		result.addStale(connectionID)
		h.logger.Info().
			Str("connection_id", connectionID).
			Int("consecutive_failures", updated.ConsecutiveFailures).
			Msg("Connection marked stale")
	}
}

// jitterDelay draws a uniform per-probe delay in [0, Interval) when jitter is
// enabled. The delay is deliberately bounded by the whole interval, matching
// the configured probe cadence; a probe landing in the next cycle's window is
// accepted.
func (h *Heartbeat) jitterDelay() time.Duration {
	if !h.cfg.Jitter || h.cfg.Interval <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(h.cfg.Interval)))
}
