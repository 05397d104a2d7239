package adapters

import (
	"context"
	"strings"
	"sync"
	"time"

	"marketgateway/internal/marketdata"
)

// MockProvider serves deterministic fixture data for tests and for
// running the gateway without vendor credentials. Health, latency, and
// forced failures are controllable per instance.
type MockProvider struct {
	mu        sync.RWMutex
	quotes    map[string]*marketdata.Quote
	healthOk  bool
	latency   time.Duration
	failWith  error // when set, every data call returns this
}

func NewMockProvider() *MockProvider {
	now := time.Now()
	return &MockProvider{
		quotes: map[string]*marketdata.Quote{
			"AAPL": {
				Symbol: "AAPL", Price: 206.80, Change: 1.35, ChangePercent: 0.66,
				Volume: 12500000, Bid: 206.70, Ask: 206.90,
				DayHigh: 208.10, DayLow: 204.55, FiftyTwoHigh: 237.23, FiftyTwoLow: 164.08,
				MarketState: marketdata.MarketStateRegular,
				Timestamp:   now.Add(-30 * time.Second),
				Source:      marketdata.ProviderMock,
			},
			"NVDA": {
				Symbol: "NVDA", Price: 450.00, Change: -3.20, ChangePercent: -0.71,
				Volume: 8200000, Bid: 449.90, Ask: 450.10,
				DayHigh: 455.80, DayLow: 447.12, FiftyTwoHigh: 502.66, FiftyTwoLow: 311.47,
				MarketState: marketdata.MarketStateRegular,
				Timestamp:   now.Add(-45 * time.Second),
				Source:      marketdata.ProviderMock,
			},
			"MSFT": {
				Symbol: "MSFT", Price: 415.50, Change: 2.10, ChangePercent: 0.51,
				Volume: 9800000, Bid: 415.40, Ask: 415.60,
				DayHigh: 417.00, DayLow: 412.30, FiftyTwoHigh: 430.82, FiftyTwoLow: 309.45,
				MarketState: marketdata.MarketStateRegular,
				Timestamp:   now.Add(-20 * time.Second),
				Source:      marketdata.ProviderMock,
			},
		},
		healthOk: true,
		latency:  5 * time.Millisecond,
	}
}

func (m *MockProvider) Name() marketdata.ProviderType { return marketdata.ProviderMock }

func (m *MockProvider) simulate(ctx context.Context) error {
	m.mu.RLock()
	latency := m.latency
	failWith := m.failWith
	m.mu.RUnlock()

	if latency > 0 {
		select {
		case <-ctx.Done():
			return marketdata.NewTimeoutError(marketdata.ProviderMock, "", ctx.Err())
		case <-time.After(latency):
		}
	}
	if failWith != nil {
		return failWith
	}
	return nil
}

func (m *MockProvider) GetQuote(ctx context.Context, symbol string) (*marketdata.Quote, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, marketdata.NewInvalidParameterError("empty symbol")
	}

	m.mu.RLock()
	q, ok := m.quotes[symbol]
	m.mu.RUnlock()
	if !ok {
		return nil, marketdata.NewSymbolNotFoundError(marketdata.ProviderMock, symbol)
	}

	cp := *q
	cp.Timestamp = time.Now()
	return &cp, nil
}

func (m *MockProvider) GetQuotes(ctx context.Context, symbols []string) (map[string]*marketdata.Quote, error) {
	out := make(map[string]*marketdata.Quote, len(symbols))
	for _, s := range symbols {
		q, err := m.GetQuote(ctx, s)
		if err != nil {
			// best-effort per symbol, unknown symbols are skipped
			if marketdata.IsKind(err, marketdata.ErrSymbolNotFound) {
				continue
			}
			return nil, err
		}
		out[q.Symbol] = q
	}
	return out, nil
}

func (m *MockProvider) GetHistoricalPrices(ctx context.Context, symbol string, start, end time.Time, interval marketdata.Interval) ([]marketdata.HistoricalBar, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}
	q, err := m.GetQuote(ctx, symbol)
	if err != nil {
		return nil, err
	}

	step := 24 * time.Hour
	switch interval {
	case marketdata.IntervalWeekly:
		step = 7 * 24 * time.Hour
	case marketdata.IntervalMonthly:
		step = 30 * 24 * time.Hour
	}

	var bars []marketdata.HistoricalBar
	price := q.Price
	for d := start; !d.After(end); d = d.Add(step) {
		// deterministic walk around the fixture price
		drift := float64(d.Day()%7-3) * 0.4
		bars = append(bars, marketdata.HistoricalBar{
			Symbol: q.Symbol,
			Date:   d,
			Open:   price + drift,
			High:   price + drift + 1.2,
			Low:    price + drift - 1.1,
			Close:  price + drift + 0.3,
			Volume: 1_000_000 + int64(d.Day())*10_000,
		})
	}
	return bars, nil
}

func (m *MockProvider) GetFundamentals(ctx context.Context, symbol string) (*marketdata.Fundamentals, error) {
	q, err := m.GetQuote(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return &marketdata.Fundamentals{
		Symbol:  q.Symbol,
		PERatio: 28.4, PBRatio: 35.1, PSRatio: 7.2, EVEBITDA: 21.8,
		GrossMargin: 0.44, OperatingMargin: 0.30, NetMargin: 0.25,
		ROE: 1.47, ROA: 0.28,
		RevenueGrowth: 0.08, EarningsGrowth: 0.11,
		DividendYield: 0.0055, PayoutRatio: 0.15,
		DebtToEquity: 1.95, CurrentRatio: 0.99,
		AsOf:   time.Now(),
		Source: marketdata.ProviderMock,
	}, nil
}

func (m *MockProvider) GetCompanyProfile(ctx context.Context, symbol string) (*marketdata.CompanyProfile, error) {
	q, err := m.GetQuote(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return &marketdata.CompanyProfile{
		Symbol:      q.Symbol,
		Name:        q.Symbol + " Inc.",
		Exchange:    "NASDAQ",
		Sector:      "Technology",
		Industry:    "Consumer Electronics",
		Description: "Fixture company profile for " + q.Symbol,
		Website:     "https://example.com",
		Country:     "US",
		Employees:   150000,
		MarketCap:   q.Price * 15_000_000_000,
		Source:      marketdata.ProviderMock,
	}, nil
}

func (m *MockProvider) SearchSymbols(ctx context.Context, query string, limit int) ([]marketdata.SymbolSearchResult, error) {
	if err := m.simulate(ctx); err != nil {
		return nil, err
	}
	query = strings.ToUpper(strings.TrimSpace(query))
	if query == "" {
		return nil, marketdata.NewInvalidParameterError("empty query")
	}
	if limit <= 0 {
		limit = 10
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []marketdata.SymbolSearchResult
	for sym := range m.quotes {
		if strings.Contains(sym, query) {
			score := 0.5
			if sym == query {
				score = 1.0
			}
			out = append(out, marketdata.SymbolSearchResult{
				Symbol: sym, Name: sym + " Inc.", Exchange: "NASDAQ",
				Type: "Equity", MatchScore: score,
			})
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MockProvider) IsHealthy(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.healthOk {
		return marketdata.NewUnavailableError(marketdata.ProviderMock, "", "mock provider marked unhealthy", nil)
	}
	return nil
}

func (m *MockProvider) Close() error { return nil }

// Test controls.

func (m *MockProvider) SetHealth(healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthOk = healthy
}

func (m *MockProvider) SetLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
}

// FailWith forces every data call to return err; nil clears it.
func (m *MockProvider) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

func (m *MockProvider) AddQuote(q *marketdata.Quote) {
	if q == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[strings.ToUpper(q.Symbol)] = q
}
