package marketdata

import (
	"fmt"
	"strings"
	"time"
)

// ProviderType identifies an upstream market data vendor. It is the key
// for every per-provider map in the gateway (health, rate limits, cost).
type ProviderType string

const (
	ProviderYahoo        ProviderType = "yahoo"
	ProviderAlphaVantage ProviderType = "alphavantage"
	ProviderMock         ProviderType = "mock"
)

// ParseProviderType resolves a provider name case-insensitively.
func ParseProviderType(name string) (ProviderType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "yahoo", "yahoofinance", "yahoo_finance":
		return ProviderYahoo, nil
	case "alphavantage", "alpha_vantage":
		return ProviderAlphaVantage, nil
	case "mock":
		return ProviderMock, nil
	default:
		return "", fmt.Errorf("unsupported provider: %q", name)
	}
}

func (p ProviderType) String() string { return string(p) }

// Interval is the bar granularity for historical price requests.
type Interval string

const (
	IntervalDaily   Interval = "daily"
	IntervalWeekly  Interval = "weekly"
	IntervalMonthly Interval = "monthly"
)

// ParseInterval resolves an interval name case-insensitively.
func ParseInterval(name string) (Interval, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "daily", "1d", "day":
		return IntervalDaily, nil
	case "weekly", "1wk", "week":
		return IntervalWeekly, nil
	case "monthly", "1mo", "month":
		return IntervalMonthly, nil
	default:
		return "", fmt.Errorf("unsupported interval: %q", name)
	}
}

// MarketState mirrors the US equity session taxonomy.
type MarketState string

const (
	MarketStatePre     MarketState = "PRE"
	MarketStateRegular MarketState = "RTH"
	MarketStatePost    MarketState = "POST"
	MarketStateClosed  MarketState = "CLOSED"
	MarketStateUnknown MarketState = "UNKNOWN"
)

// Quote is the normalized real-time snapshot produced by every adapter.
type Quote struct {
	Symbol        string       `json:"symbol"`
	Price         float64      `json:"price"`
	Change        float64      `json:"change"`
	ChangePercent float64      `json:"change_percent"`
	Volume        int64        `json:"volume"`
	Bid           float64      `json:"bid"`
	Ask           float64      `json:"ask"`
	DayHigh       float64      `json:"day_high"`
	DayLow        float64      `json:"day_low"`
	FiftyTwoHigh  float64      `json:"fifty_two_week_high"`
	FiftyTwoLow   float64      `json:"fifty_two_week_low"`
	MarketState   MarketState  `json:"market_state"`
	Timestamp     time.Time    `json:"timestamp"`
	Source        ProviderType `json:"source"`
}

// ValidateQuote rejects quotes a downstream consumer must never see.
// Fail-closed: a quote with a non-positive price or inverted spread is
// dropped rather than passed through.
func ValidateQuote(q *Quote) error {
	if q == nil {
		return fmt.Errorf("quote is nil")
	}
	q.Symbol = strings.ToUpper(strings.TrimSpace(q.Symbol))
	if q.Symbol == "" {
		return fmt.Errorf("empty symbol")
	}
	if q.Price <= 0 {
		return fmt.Errorf("invalid price: %.4f", q.Price)
	}
	if q.Bid < 0 || q.Ask < 0 {
		return fmt.Errorf("negative bid/ask: bid=%.4f ask=%.4f", q.Bid, q.Ask)
	}
	if q.Bid > 0 && q.Ask > 0 && q.Ask < q.Bid {
		return fmt.Errorf("invalid spread: ask(%.4f) < bid(%.4f)", q.Ask, q.Bid)
	}
	if q.Volume < 0 {
		return fmt.Errorf("negative volume: %d", q.Volume)
	}
	if q.Timestamp.After(time.Now().Add(5 * time.Minute)) {
		return fmt.Errorf("quote timestamp too far in future: %v", q.Timestamp)
	}
	return nil
}

// HistoricalBar is a single OHLCV point.
type HistoricalBar struct {
	Symbol string    `json:"symbol"`
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Fundamentals is a vendor-agnostic ratio snapshot. Zero means unknown;
// vendors differ wildly in coverage so absence is not an error.
type Fundamentals struct {
	Symbol string `json:"symbol"`

	// Valuation
	PERatio  float64 `json:"pe_ratio"`
	PBRatio  float64 `json:"pb_ratio"`
	PSRatio  float64 `json:"ps_ratio"`
	EVEBITDA float64 `json:"ev_ebitda"`

	// Profitability
	GrossMargin     float64 `json:"gross_margin"`
	OperatingMargin float64 `json:"operating_margin"`
	NetMargin       float64 `json:"net_margin"`
	ROE             float64 `json:"roe"`
	ROA             float64 `json:"roa"`

	// Growth
	RevenueGrowth  float64 `json:"revenue_growth"`
	EarningsGrowth float64 `json:"earnings_growth"`

	// Dividend
	DividendYield float64 `json:"dividend_yield"`
	PayoutRatio   float64 `json:"payout_ratio"`

	// Balance sheet health
	DebtToEquity float64 `json:"debt_to_equity"`
	CurrentRatio float64 `json:"current_ratio"`

	AsOf   time.Time    `json:"as_of"`
	Source ProviderType `json:"source"`
}

// CompanyProfile is descriptive company metadata.
type CompanyProfile struct {
	Symbol      string       `json:"symbol"`
	Name        string       `json:"name"`
	Exchange    string       `json:"exchange"`
	Sector      string       `json:"sector"`
	Industry    string       `json:"industry"`
	Description string       `json:"description"`
	Website     string       `json:"website"`
	Country     string       `json:"country"`
	Employees   int64        `json:"employees"`
	MarketCap   float64      `json:"market_cap"`
	Source      ProviderType `json:"source"`
}

// SymbolSearchResult is one match from a symbol lookup.
type SymbolSearchResult struct {
	Symbol     string  `json:"symbol"`
	Name       string  `json:"name"`
	Exchange   string  `json:"exchange"`
	Type       string  `json:"type"`
	MatchScore float64 `json:"match_score"`
}
