// Package health tracks per-provider availability. Two states per
// provider, Healthy and Unhealthy; the only Unhealthy -> Healthy
// transition is a successful call or probe. There is no time-based
// auto-recovery.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"marketgateway/internal/marketdata"
	"marketgateway/internal/observ"
)

// DefaultFailureThreshold is the consecutive-failure count that flips a
// provider to Unhealthy when no threshold is configured.
const DefaultFailureThreshold = 5

// Probe is a provider liveness check.
type Probe func(ctx context.Context) error

// Status is a read-only snapshot of one provider's health.
type Status struct {
	Provider            marketdata.ProviderType `json:"provider"`
	Healthy             bool                    `json:"healthy"`
	ConsecutiveFailures int                     `json:"consecutive_failures"`
	LastChecked         time.Time               `json:"last_checked"`
	AvgResponseMs       float64                 `json:"avg_response_ms"`
}

type record struct {
	healthy             bool
	consecutiveFailures int
	lastChecked         time.Time
	avgResponseMs       float64
	probed              bool // true once any success/failure recorded
}

// Monitor owns all provider health state. Mutation happens only through
// RecordSuccess/RecordFailure/Check; everything else is read-only.
type Monitor struct {
	mu           sync.RWMutex
	records      map[marketdata.ProviderType]*record
	probes       map[marketdata.ProviderType]Probe
	threshold    int
	probeTimeout time.Duration
	logger       zerolog.Logger

	// periodic check scheduler
	schedMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewMonitor(failureThreshold int, logger zerolog.Logger) *Monitor {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	return &Monitor{
		records:      map[marketdata.ProviderType]*record{},
		probes:       map[marketdata.ProviderType]Probe{},
		threshold:    failureThreshold,
		probeTimeout: 15 * time.Second,
		logger:       logger.With().Str("component", "health").Logger(),
	}
}

// RegisterProbe attaches an active liveness check used by Check and the
// periodic scheduler.
func (m *Monitor) RegisterProbe(p marketdata.ProviderType, probe Probe) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes[p] = probe
	m.getLocked(p) // materialize the record so SnapshotAll lists it
}

// getLocked lazily creates a record; providers start optimistic.
func (m *Monitor) getLocked(p marketdata.ProviderType) *record {
	r, ok := m.records[p]
	if !ok {
		r = &record{healthy: true}
		m.records[p] = r
	}
	return r
}

// RecordSuccess resets the failure streak and flips the provider
// healthy. The response-time average is an exponential moving average.
func (m *Monitor) RecordSuccess(p marketdata.ProviderType, responseTime time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.getLocked(p)
	wasHealthy := r.healthy
	r.consecutiveFailures = 0
	r.healthy = true
	r.probed = true
	r.lastChecked = time.Now()

	ms := float64(responseTime.Milliseconds())
	if r.avgResponseMs == 0 {
		r.avgResponseMs = ms
	} else {
		const alpha = 0.1
		r.avgResponseMs = r.avgResponseMs*(1-alpha) + ms*alpha
	}

	observ.IncCounter("provider_health_success_total", map[string]string{"provider": string(p)})
	observ.SetGauge("provider_healthy", 1, map[string]string{"provider": string(p)})
	observ.RecordDuration("provider_response", responseTime, map[string]string{"provider": string(p)})

	if !wasHealthy {
		m.logger.Info().Str("provider", string(p)).Msg("provider recovered")
	}
}

// RecordFailure increments the failure streak; the provider flips
// Unhealthy once the streak reaches the threshold.
func (m *Monitor) RecordFailure(p marketdata.ProviderType) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.getLocked(p)
	r.consecutiveFailures++
	r.probed = true
	r.lastChecked = time.Now()

	observ.IncCounter("provider_health_failure_total", map[string]string{"provider": string(p)})

	if r.healthy && r.consecutiveFailures >= m.threshold {
		r.healthy = false
		observ.SetGauge("provider_healthy", 0, map[string]string{"provider": string(p)})
		m.logger.Warn().
			Str("provider", string(p)).
			Int("consecutive_failures", r.consecutiveFailures).
			Int("threshold", m.threshold).
			Msg("provider marked unhealthy")
	}
}

// IsHealthy reports the current flag. Providers with no recorded
// traffic are optimistically healthy.
func (m *Monitor) IsHealthy(p marketdata.ProviderType) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[p]
	if !ok {
		return true
	}
	return r.healthy
}

// Snapshot returns a copy of one provider's health record.
func (m *Monitor) Snapshot(p marketdata.ProviderType) Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[p]
	if !ok {
		return Status{Provider: p, Healthy: true}
	}
	return Status{
		Provider:            p,
		Healthy:             r.healthy,
		ConsecutiveFailures: r.consecutiveFailures,
		LastChecked:         r.lastChecked,
		AvgResponseMs:       r.avgResponseMs,
	}
}

// SnapshotAll returns copies for every known provider.
func (m *Monitor) SnapshotAll() map[marketdata.ProviderType]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[marketdata.ProviderType]Status, len(m.records))
	for p := range m.records {
		r := m.records[p]
		out[p] = Status{
			Provider:            p,
			Healthy:             r.healthy,
			ConsecutiveFailures: r.consecutiveFailures,
			LastChecked:         r.lastChecked,
			AvgResponseMs:       r.avgResponseMs,
		}
	}
	return out
}

// Check actively probes one provider and records the outcome. This is
// the recovery path when no organic traffic is flowing. The probe runs
// under its own deadline: a probe that hangs until that deadline is a
// failure. Only cancellation of the caller's ctx skips recording.
func (m *Monitor) Check(ctx context.Context, p marketdata.ProviderType) error {
	m.mu.RLock()
	probe, ok := m.probes[p]
	timeout := m.probeTimeout
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := probe(probeCtx)
	if ctx.Err() != nil {
		// the caller went away mid-probe, the outcome proves nothing
		return ctx.Err()
	}
	if err != nil {
		m.RecordFailure(p)
		return err
	}
	m.RecordSuccess(p, time.Since(start))
	return nil
}

// StartPeriodicChecks launches the background probe loop. Idempotent:
// a second Start while running is a no-op.
func (m *Monitor) StartPeriodicChecks(interval time.Duration) {
	if interval <= 0 {
		interval = 60 * time.Second
	}

	m.schedMu.Lock()
	defer m.schedMu.Unlock()
	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.checkAll(ctx)
			}
		}
	}(m.done)

	m.logger.Info().Dur("interval", interval).Msg("periodic health checks started")
}

// StopPeriodicChecks cancels the loop and waits for the in-flight probe
// pass to finish. Safe to call from any goroutine, and when not started.
func (m *Monitor) StopPeriodicChecks() {
	m.schedMu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.schedMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	m.logger.Info().Msg("periodic health checks stopped")
}

func (m *Monitor) checkAll(ctx context.Context) {
	m.mu.RLock()
	providers := make([]marketdata.ProviderType, 0, len(m.probes))
	for p := range m.probes {
		providers = append(providers, p)
	}
	m.mu.RUnlock()

	for _, p := range providers {
		if err := m.Check(ctx, p); err != nil {
			m.logger.Debug().Str("provider", string(p)).Err(err).Msg("health probe failed")
		}
	}
}
