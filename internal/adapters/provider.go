package adapters

import (
	"context"
	"time"

	"marketgateway/internal/marketdata"
)

// Provider is the vendor-agnostic adapter contract. Every method
// returns a *marketdata.ProviderError on failure; the orchestrator and
// health monitor depend on distinguishing the kinds.
//
// Adapters own their HTTP timeout and wire-format parsing. They do not
// consult the quota gate; rate limiting is advisory and enforced by the
// caller before the adapter is invoked.
type Provider interface {
	Name() marketdata.ProviderType

	GetQuote(ctx context.Context, symbol string) (*marketdata.Quote, error)
	GetQuotes(ctx context.Context, symbols []string) (map[string]*marketdata.Quote, error)
	GetHistoricalPrices(ctx context.Context, symbol string, start, end time.Time, interval marketdata.Interval) ([]marketdata.HistoricalBar, error)
	GetFundamentals(ctx context.Context, symbol string) (*marketdata.Fundamentals, error)
	GetCompanyProfile(ctx context.Context, symbol string) (*marketdata.CompanyProfile, error)
	SearchSymbols(ctx context.Context, query string, limit int) ([]marketdata.SymbolSearchResult, error)

	// IsHealthy performs a lightweight liveness probe.
	IsHealthy(ctx context.Context) error

	Close() error
}

// ValidateDateRange is the caller-side precondition for historical
// requests. Adapters assume it has been applied.
func ValidateDateRange(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return marketdata.NewInvalidDateRangeError("start and end are required")
	}
	if start.After(end) {
		return marketdata.NewInvalidDateRangeError("start must not be after end")
	}
	return nil
}

// maskAPIKey masks sensitive API key material for logging.
func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:4] + "***" + key[len(key)-4:]
}
