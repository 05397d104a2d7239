// Package cost meters vendor API spend. Cost parameters come from
// configuration; the tracker only counts calls and derives money
// figures lazily. Accumulation is monotonic except through the explicit
// Reset operations.
package cost

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"marketgateway/internal/marketdata"
	"marketgateway/internal/observ"
)

// Params is one provider's static cost table entry. A zero Threshold
// means "no limit": the threshold is never exceeded.
type Params struct {
	CostPerCall         decimal.Decimal
	MonthlySubscription decimal.Decimal
	Threshold           decimal.Decimal
}

// ParamsFromFloats converts config floats into decimal params.
func ParamsFromFloats(costPerCall, monthlySubscription, threshold float64) Params {
	return Params{
		CostPerCall:         decimal.NewFromFloat(costPerCall),
		MonthlySubscription: decimal.NewFromFloat(monthlySubscription),
		Threshold:           decimal.NewFromFloat(threshold),
	}
}

// Metrics is the derived per-provider snapshot.
type Metrics struct {
	Provider            marketdata.ProviderType `json:"provider"`
	TotalCalls          int64                   `json:"total_calls"`
	CostPerCall         decimal.Decimal         `json:"cost_per_call"`
	MonthlySubscription decimal.Decimal         `json:"monthly_subscription"`
	TotalCost           decimal.Decimal         `json:"total_cost"`
	Threshold           decimal.Decimal         `json:"threshold"`
	ThresholdPct        float64                 `json:"threshold_pct"`
	ThresholdExceeded   bool                    `json:"threshold_exceeded"`
	TrackingSince       time.Time               `json:"tracking_since"`
	LastUpdated         time.Time               `json:"last_updated"`
}

type entry struct {
	calls         int64
	trackingSince time.Time
	lastUpdated   time.Time
	warned        bool
}

// Tracker owns all per-provider call counters.
type Tracker struct {
	mu         sync.Mutex
	entries    map[marketdata.ProviderType]*entry
	params     func(marketdata.ProviderType) Params
	warningPct float64
	logger     zerolog.Logger
}

func NewTracker(params func(marketdata.ProviderType) Params, warningPct float64, logger zerolog.Logger) *Tracker {
	if warningPct <= 0 {
		warningPct = 80
	}
	return &Tracker{
		entries:    map[marketdata.ProviderType]*entry{},
		params:     params,
		warningPct: warningPct,
		logger:     logger.With().Str("component", "cost").Logger(),
	}
}

func (t *Tracker) getLocked(p marketdata.ProviderType) *entry {
	e, ok := t.entries[p]
	if !ok {
		e = &entry{trackingSince: time.Now()}
		t.entries[p] = e
	}
	return e
}

// RecordCall counts one billable vendor call.
func (t *Tracker) RecordCall(p marketdata.ProviderType) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.getLocked(p)
	e.calls++
	e.lastUpdated = time.Now()

	observ.IncCounter("provider_api_calls_total", map[string]string{"provider": string(p)})

	m := t.metricsLocked(p, e)
	cost, _ := m.TotalCost.Float64()
	observ.SetGauge("provider_cost_estimate", cost, map[string]string{"provider": string(p)})

	if !e.warned && m.Threshold.IsPositive() && m.ThresholdPct >= t.warningPct {
		e.warned = true
		t.logger.Warn().
			Str("provider", string(p)).
			Str("total_cost", m.TotalCost.StringFixed(4)).
			Str("threshold", m.Threshold.StringFixed(2)).
			Float64("threshold_pct", m.ThresholdPct).
			Msg("cost threshold warning")
	}
}

func (t *Tracker) metricsLocked(p marketdata.ProviderType, e *entry) Metrics {
	params := t.params(p)
	total := params.CostPerCall.Mul(decimal.NewFromInt(e.calls)).Add(params.MonthlySubscription)

	pct := 0.0
	exceeded := false
	if params.Threshold.IsPositive() {
		pct, _ = total.Div(params.Threshold).Mul(decimal.NewFromInt(100)).Float64()
		exceeded = total.GreaterThan(params.Threshold)
	}

	return Metrics{
		Provider:            p,
		TotalCalls:          e.calls,
		CostPerCall:         params.CostPerCall,
		MonthlySubscription: params.MonthlySubscription,
		TotalCost:           total,
		Threshold:           params.Threshold,
		ThresholdPct:        pct,
		ThresholdExceeded:   exceeded,
		TrackingSince:       e.trackingSince,
		LastUpdated:         e.lastUpdated,
	}
}

// Metrics returns the derived snapshot for one provider.
func (t *Tracker) Metrics(p marketdata.ProviderType) Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.metricsLocked(p, t.getLocked(p))
}

// AllMetrics snapshots every tracked provider.
func (t *Tracker) AllMetrics() map[marketdata.ProviderType]Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[marketdata.ProviderType]Metrics, len(t.entries))
	for p, e := range t.entries {
		out[p] = t.metricsLocked(p, e)
	}
	return out
}

// ThresholdExceeded reports whether the provider's spend has crossed
// its configured ceiling. Threshold 0 never exceeds.
func (t *Tracker) ThresholdExceeded(p marketdata.ProviderType) bool {
	return t.Metrics(p).ThresholdExceeded
}

// ThresholdPercentage returns spend as a percentage of the ceiling.
func (t *Tracker) ThresholdPercentage(p marketdata.ProviderType) float64 {
	return t.Metrics(p).ThresholdPct
}

// Reset zeroes one provider's counters and restarts its tracking clock.
func (t *Tracker) Reset(p marketdata.ProviderType) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[p] = &entry{trackingSince: time.Now()}
	t.logger.Info().Str("provider", string(p)).Msg("cost tracking reset")
}

// ResetAll zeroes every provider's counters.
func (t *Tracker) ResetAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	for p := range t.entries {
		t.entries[p] = &entry{trackingSince: now}
	}
	t.logger.Info().Msg("all cost tracking reset")
}
