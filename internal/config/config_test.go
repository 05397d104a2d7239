package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketgateway/internal/marketdata"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	c := Default()
	assert.Equal(t, "yahoo", c.PrimaryProvider)
	assert.Equal(t, "fallback", c.Strategy)
	assert.Equal(t, 5, c.Health.FailureThreshold)
	assert.Equal(t, 60, c.Health.CheckIntervalSeconds)
	assert.Equal(t, 80.0, c.CostTracking.WarningThresholdPct)
	assert.Equal(t, "memory", c.Cache.Backend)
	assert.Equal(t, 30, c.Cache.TTL.QuoteSeconds)
	assert.Equal(t, 86400, c.Cache.TTL.ProfileSeconds)
	assert.Equal(t, ":8080", c.Server.ListenAddr)
}

func TestLoadAppliesDefaultsOverPartialFile(t *testing.T) {
	path := writeConfig(t, `
primary_provider: alphavantage
fallback_provider: yahoo
strategy: fallback
automatic_fallback: true
providers:
  alphavantage:
    api_key_env: ALPHAVANTAGE_API_KEY
    requests_per_minute: 5
    requests_per_day: 25
    cost_per_call: 0.002
    cost_threshold: 100.0
cache:
  backend: redis
  redis:
    addr: cache.internal:6379
`)

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "alphavantage", c.PrimaryProvider)
	assert.True(t, c.AutomaticFallback)
	assert.Equal(t, "redis", c.Cache.Backend)
	assert.Equal(t, "cache.internal:6379", c.Cache.Redis.Addr)

	// unset fields pick up defaults
	assert.Equal(t, 5, c.Health.FailureThreshold)
	assert.Equal(t, 30, c.Cache.TTL.QuoteSeconds)

	av := c.ProviderFor(marketdata.ProviderAlphaVantage)
	assert.Equal(t, 5, av.RequestsPerMinute)
	assert.Equal(t, 25, av.RequestsPerDay)
	assert.InDelta(t, 0.002, av.CostPerCall, 0.0001)
	assert.Equal(t, 10, av.TimeoutSeconds, "per-provider transport defaults apply")
	assert.Equal(t, 3, av.MaxRetries)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsUnknownPrimary(t *testing.T) {
	path := writeConfig(t, "primary_provider: polygon\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "primary_provider")
}

func TestLoadRejectsUnknownFallback(t *testing.T) {
	path := writeConfig(t, "fallback_provider: bloomberg\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fallback_provider")
}

func TestLoadRejectsUnknownStrategy(t *testing.T) {
	path := writeConfig(t, "strategy: roundrobin\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strategy")
}

func TestLoadRejectsUnknownProviderKey(t *testing.T) {
	path := writeConfig(t, `
providers:
  polygon:
    requests_per_minute: 10
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "providers")
}

func TestLoadCanonicalizesProviderAliases(t *testing.T) {
	path := writeConfig(t, `
providers:
  yahoofinance:
    requests_per_minute: 42
`)
	c, err := Load(path)
	require.NoError(t, err)

	p := c.ProviderFor(marketdata.ProviderYahoo)
	assert.Equal(t, 42, p.RequestsPerMinute, "aliased key must resolve to the canonical provider")
	_, aliased := c.Providers["yahoofinance"]
	assert.False(t, aliased, "only canonical keys survive loading")
}

func TestLoadRejectsDuplicateProviderAliases(t *testing.T) {
	path := writeConfig(t, `
providers:
  yahoo:
    requests_per_minute: 1
  yahoofinance:
    requests_per_minute: 2
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, "primary_provider: [unclosed\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestProviderForUnconfigured(t *testing.T) {
	c := Default()
	p := c.ProviderFor(marketdata.ProviderYahoo)
	assert.Equal(t, 10, p.TimeoutSeconds)
	assert.Zero(t, p.RequestsPerMinute, "no limits unless configured")
}
