// Package service is the façade the rest of the application calls for
// market data. One entry point per logical operation; each wraps cache
// lookup, provider selection, quota gating, the adapter call, fallback
// retry, and health/cost/usage recording.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"marketgateway/internal/adapters"
	"marketgateway/internal/cache"
	"marketgateway/internal/cost"
	"marketgateway/internal/health"
	"marketgateway/internal/marketdata"
	"marketgateway/internal/observ"
	"marketgateway/internal/ratelimit"
	"marketgateway/internal/strategy"
	"marketgateway/internal/usage"
)

// TTLPolicy maps data kinds to cache lifetimes. Quotes are short-lived,
// profiles long-lived; the tiers come from configuration.
type TTLPolicy struct {
	Quote        time.Duration
	Historical   time.Duration
	Fundamentals time.Duration
	Profile      time.Duration
	Search       time.Duration
}

func (p TTLPolicy) For(op strategy.Operation) time.Duration {
	switch op {
	case strategy.OpQuote:
		return p.Quote
	case strategy.OpHistorical:
		return p.Historical
	case strategy.OpFundamentals:
		return p.Fundamentals
	case strategy.OpProfile:
		return p.Profile
	case strategy.OpSearch:
		return p.Search
	default:
		return time.Minute
	}
}

// Options tunes orchestration behavior.
type Options struct {
	// FailFast makes the quota gate refuse immediately instead of
	// waiting for a window reset.
	FailFast bool
	// AutomaticFallback enables the one-shot retry against the
	// strategy's fallback after a retryable primary failure.
	AutomaticFallback bool
	// EnforceCostLimits refuses calls to providers whose spend crossed
	// the configured threshold. Off by default: cost is governance, not
	// routing correctness.
	EnforceCostLimits bool
	// WarmConcurrency bounds parallel fetches during cache warming.
	WarmConcurrency int
}

// DataService orchestrates providers behind a TTL cache.
type DataService struct {
	selector strategy.Selector
	limits   *ratelimit.Registry
	monitor  *health.Monitor
	costs    *cost.Tracker
	usage    *usage.Tracker
	store    cache.Store
	ttl      TTLPolicy
	opts     Options
	logger   zerolog.Logger
	sf       singleflight.Group
}

func New(
	selector strategy.Selector,
	limits *ratelimit.Registry,
	monitor *health.Monitor,
	costs *cost.Tracker,
	usageTracker *usage.Tracker,
	store cache.Store,
	ttl TTLPolicy,
	opts Options,
	logger zerolog.Logger,
) *DataService {
	if opts.WarmConcurrency <= 0 {
		opts.WarmConcurrency = 4
	}
	return &DataService{
		selector: selector,
		limits:   limits,
		monitor:  monitor,
		costs:    costs,
		usage:    usageTracker,
		store:    store,
		ttl:      ttl,
		opts:     opts,
		logger:   logger.With().Str("component", "dataservice").Logger(),
	}
}

// cacheKey builds the canonical key for an operation. Key construction
// is owned here, not by the store.
func cacheKey(op strategy.Operation, parts ...string) string {
	return string(op) + ":" + strings.Join(parts, ":")
}

// cacheGet is a read that degrades store errors to a miss.
func (s *DataService) cacheGet(ctx context.Context, key string, out any) bool {
	raw, ok, err := s.store.Get(ctx, key)
	if err != nil {
		s.logger.Debug().Str("key", key).Err(err).Msg("cache read failed, treating as miss")
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		s.logger.Warn().Str("key", key).Err(err).Msg("cache payload corrupt, treating as miss")
		return false
	}
	return true
}

// cacheSet is a best-effort write.
func (s *DataService) cacheSet(ctx context.Context, key string, val any, ttl time.Duration) {
	raw, err := json.Marshal(val)
	if err != nil {
		return
	}
	if err := s.store.Set(ctx, key, raw, ttl); err != nil {
		s.logger.Debug().Str("key", key).Err(err).Msg("cache write failed")
	}
}

// gate runs the provider's quota gate. A refusal is not a provider
// failure and records nothing.
func (s *DataService) gate(ctx context.Context, p marketdata.ProviderType) error {
	if s.opts.EnforceCostLimits && s.costs.ThresholdExceeded(p) {
		return marketdata.NewRateLimitError(p, "cost threshold exceeded")
	}

	limiter := s.limits.For(p)
	if s.opts.FailFast {
		if !limiter.TryAcquire() {
			return marketdata.NewRateLimitError(p, "request quota exhausted")
		}
		return nil
	}
	if err := limiter.Wait(ctx); err != nil {
		return marketdata.NewTimeoutError(p, "", err)
	}
	return nil
}

// attempt runs one gated adapter call and records the outcome exactly
// once. A call cancelled before completion records neither success nor
// failure.
func attempt[T any](ctx context.Context, s *DataService, provider adapters.Provider, call func(context.Context, adapters.Provider) (T, error)) (T, error) {
	var zero T
	p := provider.Name()

	if err := s.gate(ctx, p); err != nil {
		return zero, err
	}

	start := time.Now()
	out, err := call(ctx, provider)
	if ctx.Err() != nil && err != nil {
		// unwound by cancellation, not a provider verdict
		return zero, marketdata.NewTimeoutError(p, "", ctx.Err())
	}
	if err != nil {
		s.monitor.RecordFailure(p)
		s.usage.RecordFailure(p)
		return zero, err
	}
	s.monitor.RecordSuccess(p, time.Since(start))
	s.usage.RecordSuccess(p)
	s.costs.RecordCall(p)
	return out, nil
}

// fetch is the shared miss path: singleflight collapse, provider
// selection, one gated attempt, and at most one fallback retry for
// retryable failures.
func fetch[T any](ctx context.Context, s *DataService, selCtx strategy.SelectionContext, key string, call func(context.Context, adapters.Provider) (T, error)) (T, error) {
	var zero T

	v, err, _ := s.sf.Do(key, func() (any, error) {
		primary := s.selector.Select(selCtx)
		out, err := attempt(ctx, s, primary, call)
		if err == nil {
			return out, nil
		}

		if s.opts.AutomaticFallback && marketdata.Retryable(err) {
			if fb, ok := s.selector.Fallback(); ok && fb.Name() != primary.Name() {
				observ.IncCounter("fallback_attempts_total", map[string]string{
					"from": string(primary.Name()), "to": string(fb.Name()),
				})
				s.logger.Warn().
					Str("primary", string(primary.Name())).
					Str("fallback", string(fb.Name())).
					Str("kind", string(marketdata.KindOf(err))).
					Msg("primary failed, trying fallback")

				fbOut, fbErr := attempt(ctx, s, fb, call)
				if fbErr == nil {
					return fbOut, nil
				}
				// prefer the fallback's error, it reflects the last action
				return nil, fbErr
			}
		}
		return nil, err
	})
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}

// fetchCached wraps fetch with the cache read/write. Hits record no
// metrics or cost.
func fetchCached[T any](ctx context.Context, s *DataService, selCtx strategy.SelectionContext, key string, call func(context.Context, adapters.Provider) (T, error)) (T, error) {
	var cached T
	if !selCtx.ForceFresh && s.cacheGet(ctx, key, &cached) {
		return cached, nil
	}

	out, err := fetch(ctx, s, selCtx, key, call)
	if err != nil {
		return out, err
	}
	s.cacheSet(ctx, key, out, s.ttl.For(selCtx.Operation))
	return out, nil
}

// GetQuote returns the current quote for one symbol.
func (s *DataService) GetQuote(ctx context.Context, symbol string) (*marketdata.Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, marketdata.NewInvalidParameterError("empty symbol")
	}

	selCtx := strategy.SelectionContext{Operation: strategy.OpQuote, Symbol: symbol}
	return fetchCached(ctx, s, selCtx, cacheKey(strategy.OpQuote, symbol),
		func(ctx context.Context, p adapters.Provider) (*marketdata.Quote, error) {
			return p.GetQuote(ctx, symbol)
		})
}

// GetQuotes fetches a batch of quotes. Per-symbol failures are skipped;
// the batch fails only when nothing could be fetched.
func (s *DataService) GetQuotes(ctx context.Context, symbols []string) (map[string]*marketdata.Quote, error) {
	if len(symbols) == 0 {
		return nil, marketdata.NewInvalidParameterError("no symbols")
	}

	out := make(map[string]*marketdata.Quote, len(symbols))
	var lastErr error
	for _, sym := range symbols {
		if ctx.Err() != nil {
			return out, marketdata.NewTimeoutError("", "", ctx.Err())
		}
		q, err := s.GetQuote(ctx, sym)
		if err != nil {
			lastErr = err
			s.logger.Debug().Str("symbol", sym).Err(err).Msg("batch quote failed")
			continue
		}
		out[q.Symbol] = q
	}
	if len(out) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return out, nil
}

// GetHistoricalPrices returns OHLCV bars. The date-range precondition
// is validated here; adapters assume it holds.
func (s *DataService) GetHistoricalPrices(ctx context.Context, symbol string, start, end time.Time, interval marketdata.Interval) ([]marketdata.HistoricalBar, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, marketdata.NewInvalidParameterError("empty symbol")
	}
	if err := adapters.ValidateDateRange(start, end); err != nil {
		return nil, err
	}

	key := cacheKey(strategy.OpHistorical, symbol,
		start.UTC().Format("20060102"), end.UTC().Format("20060102"), string(interval))
	selCtx := strategy.SelectionContext{Operation: strategy.OpHistorical, Symbol: symbol}
	return fetchCached(ctx, s, selCtx, key,
		func(ctx context.Context, p adapters.Provider) ([]marketdata.HistoricalBar, error) {
			return p.GetHistoricalPrices(ctx, symbol, start, end, interval)
		})
}

// GetFundamentals returns the ratio snapshot for a symbol.
func (s *DataService) GetFundamentals(ctx context.Context, symbol string) (*marketdata.Fundamentals, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, marketdata.NewInvalidParameterError("empty symbol")
	}

	selCtx := strategy.SelectionContext{Operation: strategy.OpFundamentals, Symbol: symbol}
	return fetchCached(ctx, s, selCtx, cacheKey(strategy.OpFundamentals, symbol),
		func(ctx context.Context, p adapters.Provider) (*marketdata.Fundamentals, error) {
			return p.GetFundamentals(ctx, symbol)
		})
}

// GetCompanyProfile returns descriptive company metadata.
func (s *DataService) GetCompanyProfile(ctx context.Context, symbol string) (*marketdata.CompanyProfile, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, marketdata.NewInvalidParameterError("empty symbol")
	}

	selCtx := strategy.SelectionContext{Operation: strategy.OpProfile, Symbol: symbol}
	return fetchCached(ctx, s, selCtx, cacheKey(strategy.OpProfile, symbol),
		func(ctx context.Context, p adapters.Provider) (*marketdata.CompanyProfile, error) {
			return p.GetCompanyProfile(ctx, symbol)
		})
}

// SearchSymbols looks up symbols by free-text query.
func (s *DataService) SearchSymbols(ctx context.Context, query string, limit int) ([]marketdata.SymbolSearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, marketdata.NewInvalidParameterError("empty query")
	}
	if limit <= 0 {
		limit = 10
	}

	key := cacheKey(strategy.OpSearch, strings.ToLower(query), fmt.Sprintf("limit=%d", limit))
	selCtx := strategy.SelectionContext{Operation: strategy.OpSearch, Symbol: query}
	return fetchCached(ctx, s, selCtx, key,
		func(ctx context.Context, p adapters.Provider) ([]marketdata.SymbolSearchResult, error) {
			return p.SearchSymbols(ctx, query, limit)
		})
}

// InvalidateSymbol drops the fixed-key cached entries for a symbol.
// Historical entries carry their date range in the key and age out by
// TTL instead.
func (s *DataService) InvalidateSymbol(ctx context.Context, symbol string) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	for _, key := range []string{
		cacheKey(strategy.OpQuote, symbol),
		cacheKey(strategy.OpFundamentals, symbol),
		cacheKey(strategy.OpProfile, symbol),
	} {
		if err := s.store.Remove(ctx, key); err != nil {
			s.logger.Debug().Str("key", key).Err(err).Msg("invalidate failed")
		}
	}
}
