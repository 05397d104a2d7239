package cost

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketgateway/internal/marketdata"
)

func newTestTracker(params map[marketdata.ProviderType]Params) *Tracker {
	return NewTracker(func(p marketdata.ProviderType) Params {
		return params[p]
	}, 80, zerolog.Nop())
}

func TestCostAccumulation(t *testing.T) {
	p := marketdata.ProviderAlphaVantage
	tr := newTestTracker(map[marketdata.ProviderType]Params{
		p: ParamsFromFloats(0.01, 50.0, 0),
	})

	for i := 0; i < 100; i++ {
		tr.RecordCall(p)
	}

	m := tr.Metrics(p)
	assert.Equal(t, int64(100), m.TotalCalls)
	// 100 * 0.01 + 50 subscription = 51, exact in decimal
	assert.True(t, m.TotalCost.Equal(decimal.NewFromInt(51)), "got %s", m.TotalCost)
	assert.False(t, m.ThresholdExceeded, "zero threshold never exceeds")
	assert.Zero(t, m.ThresholdPct)
}

func TestThresholdCrossing(t *testing.T) {
	p := marketdata.ProviderYahoo
	tr := newTestTracker(map[marketdata.ProviderType]Params{
		p: ParamsFromFloats(0.002, 0, 100.0),
	})

	// 50,000 calls x 0.002 = 100.000, exactly at the ceiling: not exceeded
	for i := 0; i < 50000; i++ {
		tr.RecordCall(p)
	}
	require.False(t, tr.ThresholdExceeded(p))
	assert.InDelta(t, 100.0, tr.ThresholdPercentage(p), 0.0001)

	// call 50,001 pushes spend to 100.002 > 100.0
	tr.RecordCall(p)
	assert.True(t, tr.ThresholdExceeded(p))
	assert.Greater(t, tr.ThresholdPercentage(p), 100.0)
}

func TestResetZeroesCounters(t *testing.T) {
	p := marketdata.ProviderYahoo
	tr := newTestTracker(map[marketdata.ProviderType]Params{
		p: ParamsFromFloats(1.0, 0, 10),
	})

	for i := 0; i < 20; i++ {
		tr.RecordCall(p)
	}
	require.True(t, tr.ThresholdExceeded(p))
	before := tr.Metrics(p).TrackingSince

	tr.Reset(p)

	m := tr.Metrics(p)
	assert.Zero(t, m.TotalCalls)
	assert.True(t, m.TotalCost.IsZero())
	assert.False(t, m.ThresholdExceeded)
	assert.False(t, m.TrackingSince.Before(before), "tracking clock must restart")
}

func TestResetAllZeroesEveryProvider(t *testing.T) {
	tr := newTestTracker(map[marketdata.ProviderType]Params{
		marketdata.ProviderYahoo:        ParamsFromFloats(0.5, 0, 0),
		marketdata.ProviderAlphaVantage: ParamsFromFloats(0.25, 0, 0),
	})

	tr.RecordCall(marketdata.ProviderYahoo)
	tr.RecordCall(marketdata.ProviderAlphaVantage)
	tr.RecordCall(marketdata.ProviderAlphaVantage)

	tr.ResetAll()

	for p, m := range tr.AllMetrics() {
		assert.Zero(t, m.TotalCalls, "provider %s", p)
		assert.True(t, m.TotalCost.IsZero(), "provider %s", p)
	}
}

func TestConcurrentRecordLosesNoUpdates(t *testing.T) {
	p := marketdata.ProviderYahoo
	tr := newTestTracker(map[marketdata.ProviderType]Params{
		p: ParamsFromFloats(0.001, 0, 0),
	})

	const workers = 8
	const perWorker = 500
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				tr.RecordCall(p)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(workers*perWorker), tr.Metrics(p).TotalCalls)
}

func TestSubscriptionCountsWithoutCalls(t *testing.T) {
	p := marketdata.ProviderAlphaVantage
	tr := newTestTracker(map[marketdata.ProviderType]Params{
		p: ParamsFromFloats(0.01, 99.99, 50),
	})

	m := tr.Metrics(p)
	assert.True(t, m.TotalCost.Equal(decimal.NewFromFloat(99.99)))
	assert.True(t, m.ThresholdExceeded, "subscription alone can exceed the ceiling")
}
