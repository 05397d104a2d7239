package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"marketgateway/internal/marketdata"
)

// YahooConfig holds transport knobs for the Yahoo Finance adapter.
type YahooConfig struct {
	BaseURL        string
	TimeoutSeconds int
	MaxRetries     int
	BackoffBaseMs  int
	// PaceRequestsPerMinute smooths bursts toward the vendor. This is a
	// politeness pacer, not the quota gate; the orchestrator owns quota.
	PaceRequestsPerMinute int
}

// YahooProvider implements Provider against the public Yahoo Finance
// JSON endpoints. No API key is required.
type YahooProvider struct {
	baseURL    string
	httpClient *http.Client
	pacer      *rate.Limiter
	maxRetries int
	backoff    time.Duration
	logger     zerolog.Logger
}

func NewYahooProvider(cfg YahooConfig, logger zerolog.Logger) *YahooProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://query1.finance.yahoo.com"
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 10
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffBaseMs <= 0 {
		cfg.BackoffBaseMs = 500
	}
	if cfg.PaceRequestsPerMinute <= 0 {
		cfg.PaceRequestsPerMinute = 120
	}
	return &YahooProvider{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		pacer:      rate.NewLimiter(rate.Limit(float64(cfg.PaceRequestsPerMinute)/60), 1),
		maxRetries: cfg.MaxRetries,
		backoff:    time.Duration(cfg.BackoffBaseMs) * time.Millisecond,
		logger:     logger.With().Str("adapter", "yahoo").Logger(),
	}
}

func (y *YahooProvider) Name() marketdata.ProviderType { return marketdata.ProviderYahoo }

// doJSON issues a GET with pacing and retry on 5xx/transport errors.
func (y *YahooProvider) doJSON(ctx context.Context, u string, out any) error {
	if err := y.pacer.Wait(ctx); err != nil {
		return marketdata.NewTimeoutError(marketdata.ProviderYahoo, "", err)
	}

	var lastErr error
	for attempt := 0; attempt <= y.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := y.backoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return marketdata.NewTimeoutError(marketdata.ProviderYahoo, "", ctx.Err())
			case <-time.After(backoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return marketdata.NewInvalidParameterError(err.Error())
		}
		req.Header.Set("User-Agent", "marketgateway/1.0")

		resp, err := y.httpClient.Do(req)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return marketdata.NewTimeoutError(marketdata.ProviderYahoo, "", err)
			}
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			if err := json.Unmarshal(body, out); err != nil {
				return marketdata.NewUnavailableError(marketdata.ProviderYahoo, "", "malformed response", err)
			}
			return nil
		case resp.StatusCode == http.StatusNotFound:
			return marketdata.NewSymbolNotFoundError(marketdata.ProviderYahoo, "")
		case resp.StatusCode == http.StatusTooManyRequests:
			return marketdata.NewRateLimitError(marketdata.ProviderYahoo, "vendor returned 429")
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			continue
		default:
			return marketdata.NewUnavailableError(marketdata.ProviderYahoo, "",
				fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
		}
	}
	return marketdata.NewUnavailableError(marketdata.ProviderYahoo, "", "request failed after retries", lastErr)
}

type yahooQuoteResponse struct {
	QuoteResponse struct {
		Result []yahooQuote `json:"result"`
	} `json:"quoteResponse"`
}

type yahooQuote struct {
	Symbol                 string  `json:"symbol"`
	RegularMarketPrice     float64 `json:"regularMarketPrice"`
	RegularMarketChange    float64 `json:"regularMarketChange"`
	RegularMarketChangePct float64 `json:"regularMarketChangePercent"`
	RegularMarketVolume    int64   `json:"regularMarketVolume"`
	Bid                    float64 `json:"bid"`
	Ask                    float64 `json:"ask"`
	RegularMarketDayHigh   float64 `json:"regularMarketDayHigh"`
	RegularMarketDayLow    float64 `json:"regularMarketDayLow"`
	FiftyTwoWeekHigh       float64 `json:"fiftyTwoWeekHigh"`
	FiftyTwoWeekLow        float64 `json:"fiftyTwoWeekLow"`
	MarketState            string  `json:"marketState"`
	RegularMarketTime      int64   `json:"regularMarketTime"`
	FullExchangeName       string  `json:"fullExchangeName"`
	LongName               string  `json:"longName"`
	QuoteType              string  `json:"quoteType"`
}

func (q yahooQuote) toQuote() *marketdata.Quote {
	state := marketdata.MarketStateUnknown
	switch q.MarketState {
	case "PRE":
		state = marketdata.MarketStatePre
	case "REGULAR":
		state = marketdata.MarketStateRegular
	case "POST", "POSTPOST":
		state = marketdata.MarketStatePost
	case "CLOSED":
		state = marketdata.MarketStateClosed
	}
	ts := time.Now()
	if q.RegularMarketTime > 0 {
		ts = time.Unix(q.RegularMarketTime, 0)
	}
	return &marketdata.Quote{
		Symbol:        q.Symbol,
		Price:         q.RegularMarketPrice,
		Change:        q.RegularMarketChange,
		ChangePercent: q.RegularMarketChangePct,
		Volume:        q.RegularMarketVolume,
		Bid:           q.Bid,
		Ask:           q.Ask,
		DayHigh:       q.RegularMarketDayHigh,
		DayLow:        q.RegularMarketDayLow,
		FiftyTwoHigh:  q.FiftyTwoWeekHigh,
		FiftyTwoLow:   q.FiftyTwoWeekLow,
		MarketState:   state,
		Timestamp:     ts,
		Source:        marketdata.ProviderYahoo,
	}
}

func (y *YahooProvider) GetQuote(ctx context.Context, symbol string) (*marketdata.Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, marketdata.NewInvalidParameterError("empty symbol")
	}
	quotes, err := y.GetQuotes(ctx, []string{symbol})
	if err != nil {
		return nil, err
	}
	q, ok := quotes[symbol]
	if !ok {
		return nil, marketdata.NewSymbolNotFoundError(marketdata.ProviderYahoo, symbol)
	}
	return q, nil
}

func (y *YahooProvider) GetQuotes(ctx context.Context, symbols []string) (map[string]*marketdata.Quote, error) {
	if len(symbols) == 0 {
		return nil, marketdata.NewInvalidParameterError("no symbols")
	}
	upper := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			upper = append(upper, s)
		}
	}

	u := fmt.Sprintf("%s/v7/finance/quote?symbols=%s", y.baseURL, url.QueryEscape(strings.Join(upper, ",")))
	var body yahooQuoteResponse
	if err := y.doJSON(ctx, u, &body); err != nil {
		return nil, err
	}

	out := make(map[string]*marketdata.Quote, len(body.QuoteResponse.Result))
	for _, r := range body.QuoteResponse.Result {
		q := r.toQuote()
		if err := marketdata.ValidateQuote(q); err != nil {
			y.logger.Warn().Str("symbol", r.Symbol).Err(err).Msg("dropping invalid quote")
			continue
		}
		out[q.Symbol] = q
	}
	return out, nil
}

type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []float64 `json:"open"`
					High   []float64 `json:"high"`
					Low    []float64 `json:"low"`
					Close  []float64 `json:"close"`
					Volume []int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func yahooInterval(i marketdata.Interval) string {
	switch i {
	case marketdata.IntervalWeekly:
		return "1wk"
	case marketdata.IntervalMonthly:
		return "1mo"
	default:
		return "1d"
	}
}

func (y *YahooProvider) GetHistoricalPrices(ctx context.Context, symbol string, start, end time.Time, interval marketdata.Interval) ([]marketdata.HistoricalBar, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, marketdata.NewInvalidParameterError("empty symbol")
	}

	u := fmt.Sprintf("%s/v8/finance/chart/%s?period1=%d&period2=%d&interval=%s",
		y.baseURL, url.PathEscape(symbol), start.Unix(), end.Unix(), yahooInterval(interval))
	var body yahooChartResponse
	if err := y.doJSON(ctx, u, &body); err != nil {
		var pe *marketdata.ProviderError
		if errors.As(err, &pe) && pe.Kind == marketdata.ErrSymbolNotFound {
			pe.Symbol = symbol
		}
		return nil, err
	}
	if body.Chart.Error != nil {
		if body.Chart.Error.Code == "Not Found" {
			return nil, marketdata.NewSymbolNotFoundError(marketdata.ProviderYahoo, symbol)
		}
		return nil, marketdata.NewUnavailableError(marketdata.ProviderYahoo, symbol, body.Chart.Error.Description, nil)
	}
	if len(body.Chart.Result) == 0 {
		return nil, marketdata.NewSymbolNotFoundError(marketdata.ProviderYahoo, symbol)
	}

	res := body.Chart.Result[0]
	if len(res.Indicators.Quote) == 0 {
		return nil, marketdata.NewUnavailableError(marketdata.ProviderYahoo, symbol, "empty chart payload", nil)
	}
	q := res.Indicators.Quote[0]

	bars := make([]marketdata.HistoricalBar, 0, len(res.Timestamp))
	for i, ts := range res.Timestamp {
		if i >= len(q.Close) {
			break
		}
		bars = append(bars, marketdata.HistoricalBar{
			Symbol: symbol,
			Date:   time.Unix(ts, 0).UTC(),
			Open:   at(q.Open, i),
			High:   at(q.High, i),
			Low:    at(q.Low, i),
			Close:  at(q.Close, i),
			Volume: atI(q.Volume, i),
		})
	}
	return bars, nil
}

func at(xs []float64, i int) float64 {
	if i < len(xs) {
		return xs[i]
	}
	return 0
}

func atI(xs []int64, i int) int64 {
	if i < len(xs) {
		return xs[i]
	}
	return 0
}

type yahooSummaryResponse struct {
	QuoteSummary struct {
		Result []struct {
			SummaryDetail        map[string]yahooRaw `json:"summaryDetail"`
			DefaultKeyStatistics map[string]yahooRaw `json:"defaultKeyStatistics"`
			FinancialData        map[string]yahooRaw `json:"financialData"`
			AssetProfile         struct {
				LongBusinessSummary string `json:"longBusinessSummary"`
				Sector              string `json:"sector"`
				Industry            string `json:"industry"`
				Website             string `json:"website"`
				Country             string `json:"country"`
				FullTimeEmployees   int64  `json:"fullTimeEmployees"`
			} `json:"assetProfile"`
			Price struct {
				LongName     string   `json:"longName"`
				ExchangeName string   `json:"exchangeName"`
				MarketCap    yahooRaw `json:"marketCap"`
			} `json:"price"`
		} `json:"result"`
	} `json:"quoteSummary"`
}

// yahooRaw handles Yahoo's {"raw": 1.23, "fmt": "1.23"} number wrapper.
type yahooRaw struct {
	Raw float64 `json:"raw"`
}

func (y *YahooProvider) quoteSummary(ctx context.Context, symbol, modules string) (*yahooSummaryResponse, error) {
	u := fmt.Sprintf("%s/v10/finance/quoteSummary/%s?modules=%s",
		y.baseURL, url.PathEscape(symbol), url.QueryEscape(modules))
	var body yahooSummaryResponse
	if err := y.doJSON(ctx, u, &body); err != nil {
		return nil, err
	}
	if len(body.QuoteSummary.Result) == 0 {
		return nil, marketdata.NewSymbolNotFoundError(marketdata.ProviderYahoo, symbol)
	}
	return &body, nil
}

func (y *YahooProvider) GetFundamentals(ctx context.Context, symbol string) (*marketdata.Fundamentals, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, marketdata.NewInvalidParameterError("empty symbol")
	}
	body, err := y.quoteSummary(ctx, symbol, "summaryDetail,defaultKeyStatistics,financialData")
	if err != nil {
		return nil, err
	}
	res := body.QuoteSummary.Result[0]
	raw := func(m map[string]yahooRaw, key string) float64 { return m[key].Raw }

	return &marketdata.Fundamentals{
		Symbol:          symbol,
		PERatio:         raw(res.SummaryDetail, "trailingPE"),
		PBRatio:         raw(res.DefaultKeyStatistics, "priceToBook"),
		PSRatio:         raw(res.SummaryDetail, "priceToSalesTrailing12Months"),
		EVEBITDA:        raw(res.DefaultKeyStatistics, "enterpriseToEbitda"),
		GrossMargin:     raw(res.FinancialData, "grossMargins"),
		OperatingMargin: raw(res.FinancialData, "operatingMargins"),
		NetMargin:       raw(res.FinancialData, "profitMargins"),
		ROE:             raw(res.FinancialData, "returnOnEquity"),
		ROA:             raw(res.FinancialData, "returnOnAssets"),
		RevenueGrowth:   raw(res.FinancialData, "revenueGrowth"),
		EarningsGrowth:  raw(res.FinancialData, "earningsGrowth"),
		DividendYield:   raw(res.SummaryDetail, "dividendYield"),
		PayoutRatio:     raw(res.SummaryDetail, "payoutRatio"),
		DebtToEquity:    raw(res.FinancialData, "debtToEquity"),
		CurrentRatio:    raw(res.FinancialData, "currentRatio"),
		AsOf:            time.Now(),
		Source:          marketdata.ProviderYahoo,
	}, nil
}

func (y *YahooProvider) GetCompanyProfile(ctx context.Context, symbol string) (*marketdata.CompanyProfile, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, marketdata.NewInvalidParameterError("empty symbol")
	}
	body, err := y.quoteSummary(ctx, symbol, "assetProfile,price")
	if err != nil {
		return nil, err
	}
	res := body.QuoteSummary.Result[0]
	return &marketdata.CompanyProfile{
		Symbol:      symbol,
		Name:        res.Price.LongName,
		Exchange:    res.Price.ExchangeName,
		Sector:      res.AssetProfile.Sector,
		Industry:    res.AssetProfile.Industry,
		Description: res.AssetProfile.LongBusinessSummary,
		Website:     res.AssetProfile.Website,
		Country:     res.AssetProfile.Country,
		Employees:   res.AssetProfile.FullTimeEmployees,
		MarketCap:   res.Price.MarketCap.Raw,
		Source:      marketdata.ProviderYahoo,
	}, nil
}

type yahooSearchResponse struct {
	Quotes []struct {
		Symbol    string  `json:"symbol"`
		ShortName string  `json:"shortname"`
		LongName  string  `json:"longname"`
		Exchange  string  `json:"exchange"`
		QuoteType string  `json:"quoteType"`
		Score     float64 `json:"score"`
	} `json:"quotes"`
}

func (y *YahooProvider) SearchSymbols(ctx context.Context, query string, limit int) ([]marketdata.SymbolSearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, marketdata.NewInvalidParameterError("empty query")
	}
	if limit <= 0 {
		limit = 10
	}

	u := fmt.Sprintf("%s/v1/finance/search?q=%s&quotesCount=%d", y.baseURL, url.QueryEscape(query), limit)
	var body yahooSearchResponse
	if err := y.doJSON(ctx, u, &body); err != nil {
		return nil, err
	}

	out := make([]marketdata.SymbolSearchResult, 0, len(body.Quotes))
	for _, q := range body.Quotes {
		name := q.LongName
		if name == "" {
			name = q.ShortName
		}
		out = append(out, marketdata.SymbolSearchResult{
			Symbol:     q.Symbol,
			Name:       name,
			Exchange:   q.Exchange,
			Type:       q.QuoteType,
			MatchScore: q.Score,
		})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// IsHealthy probes with a liquid reference symbol.
func (y *YahooProvider) IsHealthy(ctx context.Context) error {
	_, err := y.GetQuote(ctx, "AAPL")
	return err
}

func (y *YahooProvider) Close() error {
	y.httpClient.CloseIdleConnections()
	return nil
}
