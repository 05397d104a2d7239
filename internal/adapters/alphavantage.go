package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"marketgateway/internal/marketdata"
)

// AlphaVantageConfig holds transport knobs for the Alpha Vantage adapter.
type AlphaVantageConfig struct {
	APIKey         string
	BaseURL        string
	TimeoutSeconds int
	MaxRetries     int
	BackoffBaseMs  int
	// PaceRequestsPerMinute smooths bursts; the free tier allows 5/min.
	PaceRequestsPerMinute int
}

// AlphaVantageProvider implements Provider against the Alpha Vantage
// REST API. The vendor signals throttling inside a 200 response body
// ("Note"/"Information" fields), which this adapter maps to the typed
// rate-limit error.
type AlphaVantageProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	pacer      *rate.Limiter
	maxRetries int
	backoff    time.Duration
	logger     zerolog.Logger
}

func NewAlphaVantageProvider(cfg AlphaVantageConfig, logger zerolog.Logger) (*AlphaVantageProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("alpha vantage API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.alphavantage.co"
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 10
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffBaseMs <= 0 {
		cfg.BackoffBaseMs = 1000
	}
	if cfg.PaceRequestsPerMinute <= 0 {
		cfg.PaceRequestsPerMinute = 5
	}

	logger = logger.With().Str("adapter", "alphavantage").Logger()
	logger.Info().Str("api_key", maskAPIKey(cfg.APIKey)).Msg("alpha vantage adapter configured")

	return &AlphaVantageProvider{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		pacer:      rate.NewLimiter(rate.Limit(float64(cfg.PaceRequestsPerMinute)/60), 1),
		maxRetries: cfg.MaxRetries,
		backoff:    time.Duration(cfg.BackoffBaseMs) * time.Millisecond,
		logger:     logger,
	}, nil
}

func (av *AlphaVantageProvider) Name() marketdata.ProviderType {
	return marketdata.ProviderAlphaVantage
}

func (av *AlphaVantageProvider) query(ctx context.Context, params url.Values) ([]byte, error) {
	if err := av.pacer.Wait(ctx); err != nil {
		return nil, marketdata.NewTimeoutError(marketdata.ProviderAlphaVantage, "", err)
	}
	params.Set("apikey", av.apiKey)
	u := av.baseURL + "/query?" + params.Encode()

	var lastErr error
	for attempt := 0; attempt <= av.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := av.backoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return nil, marketdata.NewTimeoutError(marketdata.ProviderAlphaVantage, "", ctx.Err())
			case <-time.After(backoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, marketdata.NewInvalidParameterError(err.Error())
		}
		resp, err := av.httpClient.Do(req)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return nil, marketdata.NewTimeoutError(marketdata.ProviderAlphaVantage, "", err)
			}
			lastErr = err
			continue
		}
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return nil, marketdata.NewUnavailableError(marketdata.ProviderAlphaVantage, "",
				fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
		}
		if err := alphaVantageBodyError(body); err != nil {
			return nil, err
		}
		return body, nil
	}
	return nil, marketdata.NewUnavailableError(marketdata.ProviderAlphaVantage, "",
		"request failed after retries", lastErr)
}

// alphaVantageBodyError detects the vendor's in-band error envelope.
func alphaVantageBodyError(body []byte) error {
	var envelope struct {
		Note         string `json:"Note"`
		Information  string `json:"Information"`
		ErrorMessage string `json:"Error Message"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil // array payloads etc. have no envelope
	}
	switch {
	case envelope.Note != "":
		return marketdata.NewRateLimitError(marketdata.ProviderAlphaVantage, envelope.Note)
	case envelope.Information != "":
		return marketdata.NewRateLimitError(marketdata.ProviderAlphaVantage, envelope.Information)
	case envelope.ErrorMessage != "":
		return marketdata.NewInvalidParameterError(envelope.ErrorMessage)
	}
	return nil
}

func avFloat(s string) float64 {
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func avInt(s string) int64 {
	n, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return n
}

func (av *AlphaVantageProvider) GetQuote(ctx context.Context, symbol string) (*marketdata.Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, marketdata.NewInvalidParameterError("empty symbol")
	}

	params := url.Values{}
	params.Set("function", "GLOBAL_QUOTE")
	params.Set("symbol", symbol)
	body, err := av.query(ctx, params)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		GlobalQuote map[string]string `json:"Global Quote"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, marketdata.NewUnavailableError(marketdata.ProviderAlphaVantage, symbol, "malformed response", err)
	}
	gq := parsed.GlobalQuote
	if len(gq) == 0 || gq["01. symbol"] == "" {
		return nil, marketdata.NewSymbolNotFoundError(marketdata.ProviderAlphaVantage, symbol)
	}

	ts := time.Now()
	if d, err := time.Parse("2006-01-02", gq["07. latest trading day"]); err == nil {
		ts = d
	}
	q := &marketdata.Quote{
		Symbol:        gq["01. symbol"],
		Price:         avFloat(gq["05. price"]),
		Change:        avFloat(gq["09. change"]),
		ChangePercent: avFloat(gq["10. change percent"]),
		Volume:        avInt(gq["06. volume"]),
		DayHigh:       avFloat(gq["03. high"]),
		DayLow:        avFloat(gq["04. low"]),
		MarketState:   marketdata.MarketStateUnknown, // not exposed by this endpoint
		Timestamp:     ts,
		Source:        marketdata.ProviderAlphaVantage,
	}
	if err := marketdata.ValidateQuote(q); err != nil {
		return nil, marketdata.NewUnavailableError(marketdata.ProviderAlphaVantage, symbol, "invalid quote payload", err)
	}
	return q, nil
}

// GetQuotes fetches sequentially; the vendor has no batch endpoint.
// Unknown symbols are skipped, transport failures abort the batch.
func (av *AlphaVantageProvider) GetQuotes(ctx context.Context, symbols []string) (map[string]*marketdata.Quote, error) {
	out := make(map[string]*marketdata.Quote, len(symbols))
	for _, s := range symbols {
		q, err := av.GetQuote(ctx, s)
		if err != nil {
			if marketdata.IsKind(err, marketdata.ErrSymbolNotFound) {
				continue
			}
			return nil, err
		}
		out[q.Symbol] = q
	}
	return out, nil
}

func avSeriesParams(interval marketdata.Interval) (function, key string) {
	switch interval {
	case marketdata.IntervalWeekly:
		return "TIME_SERIES_WEEKLY", "Weekly Time Series"
	case marketdata.IntervalMonthly:
		return "TIME_SERIES_MONTHLY", "Monthly Time Series"
	default:
		return "TIME_SERIES_DAILY", "Time Series (Daily)"
	}
}

func (av *AlphaVantageProvider) GetHistoricalPrices(ctx context.Context, symbol string, start, end time.Time, interval marketdata.Interval) ([]marketdata.HistoricalBar, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, marketdata.NewInvalidParameterError("empty symbol")
	}

	function, seriesKey := avSeriesParams(interval)
	params := url.Values{}
	params.Set("function", function)
	params.Set("symbol", symbol)
	params.Set("outputsize", "full")
	body, err := av.query(ctx, params)
	if err != nil {
		return nil, err
	}

	var parsed map[string]json.RawMessage
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, marketdata.NewUnavailableError(marketdata.ProviderAlphaVantage, symbol, "malformed response", err)
	}
	seriesRaw, ok := parsed[seriesKey]
	if !ok {
		return nil, marketdata.NewSymbolNotFoundError(marketdata.ProviderAlphaVantage, symbol)
	}
	var series map[string]map[string]string
	if err := json.Unmarshal(seriesRaw, &series); err != nil {
		return nil, marketdata.NewUnavailableError(marketdata.ProviderAlphaVantage, symbol, "malformed series", err)
	}

	bars := make([]marketdata.HistoricalBar, 0, len(series))
	for dateStr, fields := range series {
		d, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			continue
		}
		if d.Before(start) || d.After(end) {
			continue
		}
		bars = append(bars, marketdata.HistoricalBar{
			Symbol: symbol,
			Date:   d,
			Open:   avFloat(fields["1. open"]),
			High:   avFloat(fields["2. high"]),
			Low:    avFloat(fields["3. low"]),
			Close:  avFloat(fields["4. close"]),
			Volume: avInt(fields["5. volume"]),
		})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}

func (av *AlphaVantageProvider) overview(ctx context.Context, symbol string) (map[string]string, error) {
	params := url.Values{}
	params.Set("function", "OVERVIEW")
	params.Set("symbol", symbol)
	body, err := av.query(ctx, params)
	if err != nil {
		return nil, err
	}
	var parsed map[string]string
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, marketdata.NewUnavailableError(marketdata.ProviderAlphaVantage, symbol, "malformed response", err)
	}
	if len(parsed) == 0 || parsed["Symbol"] == "" {
		return nil, marketdata.NewSymbolNotFoundError(marketdata.ProviderAlphaVantage, symbol)
	}
	return parsed, nil
}

func (av *AlphaVantageProvider) GetFundamentals(ctx context.Context, symbol string) (*marketdata.Fundamentals, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, marketdata.NewInvalidParameterError("empty symbol")
	}
	ov, err := av.overview(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return &marketdata.Fundamentals{
		Symbol:          symbol,
		PERatio:         avFloat(ov["PERatio"]),
		PBRatio:         avFloat(ov["PriceToBookRatio"]),
		PSRatio:         avFloat(ov["PriceToSalesRatioTTM"]),
		EVEBITDA:        avFloat(ov["EVToEBITDA"]),
		GrossMargin:     avFloat(ov["GrossProfitTTM"]),
		OperatingMargin: avFloat(ov["OperatingMarginTTM"]),
		NetMargin:       avFloat(ov["ProfitMargin"]),
		ROE:             avFloat(ov["ReturnOnEquityTTM"]),
		ROA:             avFloat(ov["ReturnOnAssetsTTM"]),
		RevenueGrowth:   avFloat(ov["QuarterlyRevenueGrowthYOY"]),
		EarningsGrowth:  avFloat(ov["QuarterlyEarningsGrowthYOY"]),
		DividendYield:   avFloat(ov["DividendYield"]),
		PayoutRatio:     avFloat(ov["PayoutRatio"]),
		AsOf:            time.Now(),
		Source:          marketdata.ProviderAlphaVantage,
	}, nil
}

func (av *AlphaVantageProvider) GetCompanyProfile(ctx context.Context, symbol string) (*marketdata.CompanyProfile, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, marketdata.NewInvalidParameterError("empty symbol")
	}
	ov, err := av.overview(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return &marketdata.CompanyProfile{
		Symbol:      symbol,
		Name:        ov["Name"],
		Exchange:    ov["Exchange"],
		Sector:      ov["Sector"],
		Industry:    ov["Industry"],
		Description: ov["Description"],
		Website:     ov["OfficialSite"],
		Country:     ov["Country"],
		MarketCap:   avFloat(ov["MarketCapitalization"]),
		Source:      marketdata.ProviderAlphaVantage,
	}, nil
}

func (av *AlphaVantageProvider) SearchSymbols(ctx context.Context, query string, limit int) ([]marketdata.SymbolSearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, marketdata.NewInvalidParameterError("empty query")
	}
	if limit <= 0 {
		limit = 10
	}

	params := url.Values{}
	params.Set("function", "SYMBOL_SEARCH")
	params.Set("keywords", query)
	body, err := av.query(ctx, params)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		BestMatches []map[string]string `json:"bestMatches"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, marketdata.NewUnavailableError(marketdata.ProviderAlphaVantage, "", "malformed response", err)
	}

	out := make([]marketdata.SymbolSearchResult, 0, len(parsed.BestMatches))
	for _, m := range parsed.BestMatches {
		out = append(out, marketdata.SymbolSearchResult{
			Symbol:     m["1. symbol"],
			Name:       m["2. name"],
			Exchange:   m["4. region"],
			Type:       m["3. type"],
			MatchScore: avFloat(m["9. matchScore"]),
		})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (av *AlphaVantageProvider) IsHealthy(ctx context.Context) error {
	_, err := av.GetQuote(ctx, "AAPL")
	return err
}

func (av *AlphaVantageProvider) Close() error {
	av.httpClient.CloseIdleConnections()
	return nil
}
