package service

import (
	"time"

	"marketgateway/internal/cost"
	"marketgateway/internal/health"
	"marketgateway/internal/marketdata"
	"marketgateway/internal/ratelimit"
	"marketgateway/internal/strategy"
	"marketgateway/internal/usage"
)

// ProviderStatus bundles the read-only snapshots for one provider.
type ProviderStatus struct {
	Health    health.Status    `json:"health"`
	RateLimit ratelimit.Status `json:"rate_limit"`
	Cost      cost.Metrics     `json:"cost"`
	Usage     usage.Stats      `json:"usage"`
}

// GatewayStatus is the poll-friendly overall snapshot.
type GatewayStatus struct {
	Providers      map[marketdata.ProviderType]ProviderStatus `json:"providers"`
	ActiveProvider marketdata.ProviderType                    `json:"active_provider"`
	Strategy       string                                     `json:"strategy"`
	OverallHealthy bool                                       `json:"overall_healthy"`
	Timestamp      time.Time                                  `json:"timestamp"`
}

// Status assembles per-provider snapshots. Safe to poll frequently; it
// reads state, never mutates it.
func (s *DataService) Status() GatewayStatus {
	healthAll := s.monitor.SnapshotAll()

	providers := make(map[marketdata.ProviderType]ProviderStatus, len(healthAll))
	for p, h := range healthAll {
		providers[p] = ProviderStatus{
			Health:    h,
			RateLimit: s.limits.For(p).Status(),
			Cost:      s.costs.Metrics(p),
			Usage:     s.usage.Snapshot(p),
		}
	}

	active := s.selector.Select(strategy.SelectionContext{Operation: strategy.OpQuote})

	return GatewayStatus{
		Providers:      providers,
		ActiveProvider: active.Name(),
		Strategy:       s.selector.Name(),
		OverallHealthy: s.monitor.IsHealthy(active.Name()),
		Timestamp:      time.Now().UTC(),
	}
}

// HealthSnapshot exposes one provider's health record.
func (s *DataService) HealthSnapshot(p marketdata.ProviderType) health.Status {
	return s.monitor.Snapshot(p)
}

// CostMetrics exposes one provider's spend snapshot.
func (s *DataService) CostMetrics(p marketdata.ProviderType) cost.Metrics {
	return s.costs.Metrics(p)
}

// AllCostMetrics snapshots spend for every tracked provider.
func (s *DataService) AllCostMetrics() map[marketdata.ProviderType]cost.Metrics {
	return s.costs.AllMetrics()
}

// UsageStats exposes one provider's raw request counters.
func (s *DataService) UsageStats(p marketdata.ProviderType) usage.Stats {
	return s.usage.Snapshot(p)
}

// RateLimitStatus exposes one provider's window snapshot.
func (s *DataService) RateLimitStatus(p marketdata.ProviderType) ratelimit.Status {
	return s.limits.For(p).Status()
}

// ResetCostTracking zeroes one provider's cost counters.
func (s *DataService) ResetCostTracking(p marketdata.ProviderType) {
	s.costs.Reset(p)
}

// ResetAllCostTracking zeroes every provider's cost counters.
func (s *DataService) ResetAllCostTracking() {
	s.costs.ResetAll()
}

// ResetUsage zeroes the raw request counters.
func (s *DataService) ResetUsage(p marketdata.ProviderType) {
	s.usage.Reset(p)
}

// ResetAllUsage zeroes every provider's raw request counters.
func (s *DataService) ResetAllUsage() {
	s.usage.ResetAll()
}
