package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"marketgateway/internal/marketdata"
)

type Health struct {
	CheckIntervalSeconds int `yaml:"check_interval_seconds"`
	FailureThreshold     int `yaml:"failure_threshold"`
}

// Provider holds the static per-vendor table: transport knobs, rate
// windows, and cost parameters. Loaded once at startup; the only
// runtime mutation path is the trackers' explicit Reset operations.
type Provider struct {
	BaseURL        string `yaml:"base_url"`
	APIKeyEnv      string `yaml:"api_key_env"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxRetries     int    `yaml:"max_retries"`
	BackoffBaseMs  int    `yaml:"backoff_base_ms"`

	RequestsPerMinute int `yaml:"requests_per_minute"`
	RequestsPerHour   int `yaml:"requests_per_hour"`
	RequestsPerDay    int `yaml:"requests_per_day"`

	CostPerCall         float64 `yaml:"cost_per_call"`
	MonthlySubscription float64 `yaml:"monthly_subscription"`
	CostThreshold       float64 `yaml:"cost_threshold"`
}

type CostTracking struct {
	Enabled             bool    `yaml:"enabled"`
	EnforceLimits       bool    `yaml:"enforce_limits"`
	WarningThresholdPct float64 `yaml:"warning_threshold_pct"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type CacheTTL struct {
	QuoteSeconds        int `yaml:"quote_seconds"`
	HistoricalSeconds   int `yaml:"historical_seconds"`
	FundamentalsSeconds int `yaml:"fundamentals_seconds"`
	ProfileSeconds      int `yaml:"profile_seconds"`
	SearchSeconds       int `yaml:"search_seconds"`
}

type CacheWarming struct {
	Enabled    bool     `yaml:"enabled"`
	Symbols    []string `yaml:"symbols"`
	MaxSymbols int      `yaml:"max_symbols"`
}

type Cache struct {
	Backend string       `yaml:"backend"` // memory | redis
	Redis   Redis        `yaml:"redis"`
	TTL     CacheTTL     `yaml:"ttl"`
	Warming CacheWarming `yaml:"warming"`
	MaxSize int          `yaml:"max_size"`
}

type Server struct {
	ListenAddr string `yaml:"listen_addr"`
}

type Root struct {
	PrimaryProvider   string              `yaml:"primary_provider"`
	FallbackProvider  string              `yaml:"fallback_provider"`
	Strategy          string              `yaml:"strategy"` // primary | fallback
	AutomaticFallback bool                `yaml:"automatic_fallback"`
	FailFast          bool                `yaml:"fail_fast"` // rate gate: fail instead of wait
	Health            Health              `yaml:"health"`
	Providers         map[string]Provider `yaml:"providers"`
	CostTracking      CostTracking        `yaml:"cost_tracking"`
	Cache             Cache               `yaml:"cache"`
	Server            Server              `yaml:"server"`
}

// Load reads a YAML config and applies defaults. A missing file is an
// error; an empty file yields the defaults.
func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	applyDefaults(&c)
	return c, c.validate()
}

// Default returns the configuration used when no file is supplied.
func Default() Root {
	var c Root
	applyDefaults(&c)
	return c
}

func applyDefaults(c *Root) {
	if c.PrimaryProvider == "" {
		c.PrimaryProvider = "yahoo"
	}
	if c.Strategy == "" {
		c.Strategy = "fallback"
	}
	if c.Health.CheckIntervalSeconds == 0 {
		c.Health.CheckIntervalSeconds = 60
	}
	if c.Health.FailureThreshold == 0 {
		c.Health.FailureThreshold = 5
	}
	if c.CostTracking.WarningThresholdPct == 0 {
		c.CostTracking.WarningThresholdPct = 80
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = "memory"
	}
	if c.Cache.Redis.Addr == "" {
		c.Cache.Redis.Addr = "localhost:6379"
	}
	if c.Cache.TTL.QuoteSeconds == 0 {
		c.Cache.TTL.QuoteSeconds = 30
	}
	if c.Cache.TTL.HistoricalSeconds == 0 {
		c.Cache.TTL.HistoricalSeconds = 3600
	}
	if c.Cache.TTL.FundamentalsSeconds == 0 {
		c.Cache.TTL.FundamentalsSeconds = 21600
	}
	if c.Cache.TTL.ProfileSeconds == 0 {
		c.Cache.TTL.ProfileSeconds = 86400
	}
	if c.Cache.TTL.SearchSeconds == 0 {
		c.Cache.TTL.SearchSeconds = 900
	}
	if c.Cache.Warming.MaxSymbols == 0 {
		c.Cache.Warming.MaxSymbols = 50
	}
	if c.Cache.MaxSize == 0 {
		c.Cache.MaxSize = 10000
	}
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Providers == nil {
		c.Providers = map[string]Provider{}
	}
	for name, p := range c.Providers {
		if p.TimeoutSeconds == 0 {
			p.TimeoutSeconds = 10
		}
		if p.MaxRetries == 0 {
			p.MaxRetries = 3
		}
		if p.BackoffBaseMs == 0 {
			p.BackoffBaseMs = 500
		}
		c.Providers[name] = p
	}
}

func (c *Root) validate() error {
	if _, err := marketdata.ParseProviderType(c.PrimaryProvider); err != nil {
		return fmt.Errorf("primary_provider: %w", err)
	}
	if c.FallbackProvider != "" {
		if _, err := marketdata.ParseProviderType(c.FallbackProvider); err != nil {
			return fmt.Errorf("fallback_provider: %w", err)
		}
	}
	switch c.Strategy {
	case "primary", "fallback":
	default:
		return fmt.Errorf("strategy must be \"primary\" or \"fallback\", got %q", c.Strategy)
	}
	// Provider keys accept the same aliases as ParseProviderType; store
	// them under the canonical name so ProviderFor lookups resolve.
	canon := make(map[string]Provider, len(c.Providers))
	for name, p := range c.Providers {
		t, err := marketdata.ParseProviderType(name)
		if err != nil {
			return fmt.Errorf("providers: %w", err)
		}
		if _, dup := canon[string(t)]; dup {
			return fmt.Errorf("providers: duplicate entry for %q", t)
		}
		canon[string(t)] = p
	}
	c.Providers = canon
	return nil
}

// ProviderFor returns the table entry for a provider, falling back to
// zero-value defaults for unconfigured ones.
func (c *Root) ProviderFor(p marketdata.ProviderType) Provider {
	if cfg, ok := c.Providers[string(p)]; ok {
		return cfg
	}
	return Provider{TimeoutSeconds: 10, MaxRetries: 3, BackoffBaseMs: 500}
}
