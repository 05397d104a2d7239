package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketgateway/internal/cache"
	"marketgateway/internal/cost"
	"marketgateway/internal/health"
	"marketgateway/internal/marketdata"
	"marketgateway/internal/ratelimit"
	"marketgateway/internal/strategy"
	"marketgateway/internal/usage"
)

// stubProvider is a scriptable adapter double. Each data method counts
// its invocations so tests can assert how often the orchestrator
// actually reached the provider.
type stubProvider struct {
	name marketdata.ProviderType

	quoteFn  func(ctx context.Context, symbol string) (*marketdata.Quote, error)
	searchFn func(ctx context.Context, query string, limit int) ([]marketdata.SymbolSearchResult, error)

	quoteCalls  atomic.Int64
	searchCalls atomic.Int64
}

func (p *stubProvider) Name() marketdata.ProviderType { return p.name }

func (p *stubProvider) GetQuote(ctx context.Context, symbol string) (*marketdata.Quote, error) {
	p.quoteCalls.Add(1)
	if p.quoteFn != nil {
		return p.quoteFn(ctx, symbol)
	}
	return &marketdata.Quote{
		Symbol: symbol, Price: 100, Timestamp: time.Now(), Source: p.name,
	}, nil
}

func (p *stubProvider) GetQuotes(ctx context.Context, symbols []string) (map[string]*marketdata.Quote, error) {
	out := make(map[string]*marketdata.Quote, len(symbols))
	for _, s := range symbols {
		q, err := p.GetQuote(ctx, s)
		if err != nil {
			return nil, err
		}
		out[s] = q
	}
	return out, nil
}

func (p *stubProvider) GetHistoricalPrices(ctx context.Context, symbol string, start, end time.Time, interval marketdata.Interval) ([]marketdata.HistoricalBar, error) {
	return []marketdata.HistoricalBar{{Symbol: symbol, Date: start, Close: 100}}, nil
}

func (p *stubProvider) GetFundamentals(ctx context.Context, symbol string) (*marketdata.Fundamentals, error) {
	return &marketdata.Fundamentals{Symbol: symbol, Source: p.name}, nil
}

func (p *stubProvider) GetCompanyProfile(ctx context.Context, symbol string) (*marketdata.CompanyProfile, error) {
	return &marketdata.CompanyProfile{Symbol: symbol, Source: p.name}, nil
}

func (p *stubProvider) SearchSymbols(ctx context.Context, query string, limit int) ([]marketdata.SymbolSearchResult, error) {
	p.searchCalls.Add(1)
	if p.searchFn != nil {
		return p.searchFn(ctx, query, limit)
	}
	return []marketdata.SymbolSearchResult{{Symbol: "AAPL", Name: "Apple Inc."}}, nil
}

func (p *stubProvider) IsHealthy(ctx context.Context) error { return nil }
func (p *stubProvider) Close() error                        { return nil }

type fixture struct {
	svc      *DataService
	primary  *stubProvider
	fallback *stubProvider
	monitor  *health.Monitor
	usage    *usage.Tracker
	costs    *cost.Tracker
	store    *cache.Memory
}

func newFixture(t *testing.T, limits ratelimit.Limits, opts Options) *fixture {
	t.Helper()

	primary := &stubProvider{name: marketdata.ProviderYahoo}
	fallback := &stubProvider{name: marketdata.ProviderAlphaVantage}

	monitor := health.NewMonitor(5, zerolog.Nop())
	costs := cost.NewTracker(func(marketdata.ProviderType) cost.Params {
		return cost.ParamsFromFloats(0.01, 0, 0)
	}, 80, zerolog.Nop())
	usageTracker := usage.NewTracker()
	registry := ratelimit.NewRegistry(func(marketdata.ProviderType) ratelimit.Limits {
		return limits
	})
	store := cache.NewMemory(1000)
	t.Cleanup(func() { store.Close() })

	ttl := TTLPolicy{
		Quote:        30 * time.Second,
		Historical:   time.Hour,
		Fundamentals: 6 * time.Hour,
		Profile:      24 * time.Hour,
		Search:       15 * time.Minute,
	}

	svc := New(
		strategy.NewFallback(primary, fallback, monitor),
		registry, monitor, costs, usageTracker, store, ttl, opts, zerolog.Nop(),
	)
	return &fixture{
		svc: svc, primary: primary, fallback: fallback,
		monitor: monitor, usage: usageTracker, costs: costs, store: store,
	}
}

func TestGetQuoteCacheHitBypassesProvider(t *testing.T) {
	f := newFixture(t, ratelimit.Limits{}, Options{})
	ctx := context.Background()

	q1, err := f.svc.GetQuote(ctx, "aapl")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", q1.Symbol)
	require.Equal(t, int64(1), f.primary.quoteCalls.Load())

	q2, err := f.svc.GetQuote(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, q1.Symbol, q2.Symbol)
	assert.Equal(t, int64(1), f.primary.quoteCalls.Load(), "second read must come from cache")

	// a hit leaves usage and cost untouched
	assert.Equal(t, int64(1), f.usage.Snapshot(marketdata.ProviderYahoo).Total)
	assert.Equal(t, int64(1), f.costs.Metrics(marketdata.ProviderYahoo).TotalCalls)
}

func TestFallbackRetryOnUnavailablePrimary(t *testing.T) {
	f := newFixture(t, ratelimit.Limits{}, Options{AutomaticFallback: true})
	f.primary.quoteFn = func(ctx context.Context, symbol string) (*marketdata.Quote, error) {
		return nil, marketdata.NewUnavailableError(marketdata.ProviderYahoo, symbol, "status 503", nil)
	}

	q, err := f.svc.GetQuote(context.Background(), "X")
	require.NoError(t, err)
	assert.Equal(t, marketdata.ProviderAlphaVantage, q.Source)

	assert.Equal(t, int64(1), f.primary.quoteCalls.Load())
	assert.Equal(t, int64(1), f.fallback.quoteCalls.Load())

	// both outcomes land in their respective records
	assert.Equal(t, 1, f.monitor.Snapshot(marketdata.ProviderYahoo).ConsecutiveFailures)
	assert.Equal(t, int64(1), f.usage.Snapshot(marketdata.ProviderYahoo).Failures)
	assert.Equal(t, int64(1), f.usage.Snapshot(marketdata.ProviderAlphaVantage).Successes)

	// only the successful call costs money
	assert.Zero(t, f.costs.Metrics(marketdata.ProviderYahoo).TotalCalls)
	assert.Equal(t, int64(1), f.costs.Metrics(marketdata.ProviderAlphaVantage).TotalCalls)
}

func TestNoFallbackForNonRetryableErrors(t *testing.T) {
	f := newFixture(t, ratelimit.Limits{}, Options{AutomaticFallback: true})
	f.primary.quoteFn = func(ctx context.Context, symbol string) (*marketdata.Quote, error) {
		return nil, marketdata.NewSymbolNotFoundError(marketdata.ProviderYahoo, symbol)
	}

	_, err := f.svc.GetQuote(context.Background(), "ZZZZ")
	require.Error(t, err)
	assert.Equal(t, marketdata.ErrSymbolNotFound, marketdata.KindOf(err))
	assert.Zero(t, f.fallback.quoteCalls.Load(), "not-found must not trigger a fallback")
}

func TestFallbackDisabledByOption(t *testing.T) {
	f := newFixture(t, ratelimit.Limits{}, Options{AutomaticFallback: false})
	f.primary.quoteFn = func(ctx context.Context, symbol string) (*marketdata.Quote, error) {
		return nil, marketdata.NewUnavailableError(marketdata.ProviderYahoo, symbol, "down", nil)
	}

	_, err := f.svc.GetQuote(context.Background(), "AAPL")
	require.Error(t, err)
	assert.Equal(t, marketdata.ErrUnavailable, marketdata.KindOf(err))
	assert.Zero(t, f.fallback.quoteCalls.Load())
}

func TestBothProvidersFailingSurfacesFallbackError(t *testing.T) {
	f := newFixture(t, ratelimit.Limits{}, Options{AutomaticFallback: true})
	f.primary.quoteFn = func(ctx context.Context, symbol string) (*marketdata.Quote, error) {
		return nil, marketdata.NewUnavailableError(marketdata.ProviderYahoo, symbol, "down", nil)
	}
	f.fallback.quoteFn = func(ctx context.Context, symbol string) (*marketdata.Quote, error) {
		return nil, marketdata.NewRateLimitError(marketdata.ProviderAlphaVantage, "25/day exceeded")
	}

	_, err := f.svc.GetQuote(context.Background(), "AAPL")
	require.Error(t, err)
	assert.Equal(t, marketdata.ErrRateLimited, marketdata.KindOf(err), "the last attempted provider's error wins")
}

func TestInvalidDateRangeNeverReachesProvider(t *testing.T) {
	f := newFixture(t, ratelimit.Limits{}, Options{AutomaticFallback: true})

	end := time.Now()
	start := end.Add(24 * time.Hour)
	_, err := f.svc.GetHistoricalPrices(context.Background(), "AAPL", start, end, marketdata.IntervalDaily)
	require.Error(t, err)
	assert.Equal(t, marketdata.ErrInvalidDateRange, marketdata.KindOf(err))
	assert.Zero(t, f.primary.quoteCalls.Load())
	assert.Zero(t, f.usage.Snapshot(marketdata.ProviderYahoo).Total)
}

func TestEmptySymbolRejected(t *testing.T) {
	f := newFixture(t, ratelimit.Limits{}, Options{})

	_, err := f.svc.GetQuote(context.Background(), "   ")
	require.Error(t, err)
	assert.Equal(t, marketdata.ErrInvalidParameter, marketdata.KindOf(err))
}

func TestFailFastQuotaRefusal(t *testing.T) {
	f := newFixture(t, ratelimit.Limits{PerMinute: 1}, Options{FailFast: true})
	ctx := context.Background()

	_, err := f.svc.GetQuote(ctx, "AAPL")
	require.NoError(t, err)

	// distinct symbol so the cache cannot satisfy it
	_, err = f.svc.GetQuote(ctx, "MSFT")
	require.Error(t, err)
	assert.Equal(t, marketdata.ErrRateLimited, marketdata.KindOf(err))

	assert.Equal(t, int64(1), f.primary.quoteCalls.Load(), "refused call must not reach the adapter")
	assert.Equal(t, int64(1), f.usage.Snapshot(marketdata.ProviderYahoo).Total, "gate refusal is not a provider outcome")
	assert.True(t, f.monitor.IsHealthy(marketdata.ProviderYahoo), "quota refusal must not damage health")
}

func TestCostEnforcementBlocksCalls(t *testing.T) {
	primary := &stubProvider{name: marketdata.ProviderYahoo}
	monitor := health.NewMonitor(5, zerolog.Nop())
	costs := cost.NewTracker(func(marketdata.ProviderType) cost.Params {
		return cost.ParamsFromFloats(1.0, 0, 0.5)
	}, 80, zerolog.Nop())
	registry := ratelimit.NewRegistry(func(marketdata.ProviderType) ratelimit.Limits { return ratelimit.Limits{} })
	store := cache.NewMemory(100)
	t.Cleanup(func() { store.Close() })

	svc := New(strategy.NewPrimary(primary), registry, monitor, costs, usage.NewTracker(),
		store, TTLPolicy{Quote: time.Minute}, Options{EnforceCostLimits: true}, zerolog.Nop())

	_, err := svc.GetQuote(context.Background(), "AAPL")
	require.NoError(t, err)
	require.True(t, costs.ThresholdExceeded(marketdata.ProviderYahoo))

	_, err = svc.GetQuote(context.Background(), "MSFT")
	require.Error(t, err)
	assert.Equal(t, marketdata.ErrRateLimited, marketdata.KindOf(err))
	assert.Equal(t, int64(1), primary.quoteCalls.Load())
}

func TestGetQuotesIsBestEffort(t *testing.T) {
	f := newFixture(t, ratelimit.Limits{}, Options{})
	f.primary.quoteFn = func(ctx context.Context, symbol string) (*marketdata.Quote, error) {
		if symbol == "BAD" {
			return nil, marketdata.NewSymbolNotFoundError(marketdata.ProviderYahoo, symbol)
		}
		return &marketdata.Quote{Symbol: symbol, Price: 50, Timestamp: time.Now(), Source: marketdata.ProviderYahoo}, nil
	}

	out, err := f.svc.GetQuotes(context.Background(), []string{"AAPL", "BAD", "MSFT"})
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Contains(t, out, "AAPL")
	assert.Contains(t, out, "MSFT")
	assert.NotContains(t, out, "BAD")
}

func TestGetQuotesAllFailing(t *testing.T) {
	f := newFixture(t, ratelimit.Limits{}, Options{})
	f.primary.quoteFn = func(ctx context.Context, symbol string) (*marketdata.Quote, error) {
		return nil, marketdata.NewSymbolNotFoundError(marketdata.ProviderYahoo, symbol)
	}

	_, err := f.svc.GetQuotes(context.Background(), []string{"A", "B"})
	require.Error(t, err)
	assert.Equal(t, marketdata.ErrSymbolNotFound, marketdata.KindOf(err))
}

func TestSearchResultsCached(t *testing.T) {
	f := newFixture(t, ratelimit.Limits{}, Options{})
	ctx := context.Background()

	_, err := f.svc.SearchSymbols(ctx, "Apple", 10)
	require.NoError(t, err)
	_, err = f.svc.SearchSymbols(ctx, "apple", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.primary.searchCalls.Load(), "query casing must not split the cache")

	_, err = f.svc.SearchSymbols(ctx, "apple", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.primary.searchCalls.Load(), "different limit is a different result set")
}

func TestInvalidateSymbolForcesRefetch(t *testing.T) {
	f := newFixture(t, ratelimit.Limits{}, Options{})
	ctx := context.Background()

	_, err := f.svc.GetQuote(ctx, "AAPL")
	require.NoError(t, err)
	require.Equal(t, int64(1), f.primary.quoteCalls.Load())

	f.svc.InvalidateSymbol(ctx, "aapl")

	_, err = f.svc.GetQuote(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.primary.quoteCalls.Load())
}

func TestWarmCacheBestEffort(t *testing.T) {
	f := newFixture(t, ratelimit.Limits{}, Options{WarmConcurrency: 2})
	f.primary.quoteFn = func(ctx context.Context, symbol string) (*marketdata.Quote, error) {
		if symbol == "BAD" {
			return nil, marketdata.NewSymbolNotFoundError(marketdata.ProviderYahoo, symbol)
		}
		return &marketdata.Quote{Symbol: symbol, Price: 10, Timestamp: time.Now(), Source: marketdata.ProviderYahoo}, nil
	}
	ctx := context.Background()

	require.NoError(t, f.svc.WarmCache(ctx, []string{"AAPL", "BAD", "MSFT"}))
	calls := f.primary.quoteCalls.Load()

	// warmed symbols serve from cache without touching the provider
	_, err := f.svc.GetQuote(ctx, "AAPL")
	require.NoError(t, err)
	_, err = f.svc.GetQuote(ctx, "MSFT")
	require.NoError(t, err)
	assert.Equal(t, calls, f.primary.quoteCalls.Load())
}

func TestStatusReportsActiveProvider(t *testing.T) {
	f := newFixture(t, ratelimit.Limits{PerMinute: 100}, Options{})

	_, err := f.svc.GetQuote(context.Background(), "AAPL")
	require.NoError(t, err)

	st := f.svc.Status()
	assert.Equal(t, marketdata.ProviderYahoo, st.ActiveProvider)
	assert.Equal(t, "fallback", st.Strategy)
	assert.True(t, st.OverallHealthy)
	require.Contains(t, st.Providers, marketdata.ProviderYahoo)

	ps := st.Providers[marketdata.ProviderYahoo]
	assert.Equal(t, int64(1), ps.Usage.Successes)
	assert.Equal(t, int64(1), ps.Cost.TotalCalls)
	assert.Equal(t, 99, ps.RateLimit.Minute.Remaining)
}

func TestStatusSwitchesActiveAfterPrimaryDegrades(t *testing.T) {
	f := newFixture(t, ratelimit.Limits{}, Options{})
	for i := 0; i < 5; i++ {
		f.monitor.RecordFailure(marketdata.ProviderYahoo)
	}

	st := f.svc.Status()
	assert.Equal(t, marketdata.ProviderAlphaVantage, st.ActiveProvider)
	assert.True(t, st.OverallHealthy, "fallback is healthy even when primary is not")
}

func TestResetSurfaces(t *testing.T) {
	f := newFixture(t, ratelimit.Limits{}, Options{})
	_, err := f.svc.GetQuote(context.Background(), "AAPL")
	require.NoError(t, err)

	f.svc.ResetAllCostTracking()
	f.svc.ResetAllUsage()

	for p, m := range f.svc.AllCostMetrics() {
		assert.Zero(t, m.TotalCalls, "provider %s", p)
		assert.True(t, m.TotalCost.IsZero(), "provider %s", p)
	}
	assert.Zero(t, f.svc.UsageStats(marketdata.ProviderYahoo).Total)
	assert.Zero(t, f.svc.CostMetrics(marketdata.ProviderYahoo).TotalCalls)
}
