package adapters

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"marketgateway/internal/marketdata"
)

// FactoryConfig carries per-vendor transport settings. API keys are
// resolved from the environment at construction time so secrets never
// live in config files.
type FactoryConfig struct {
	Yahoo              YahooConfig
	AlphaVantage       AlphaVantageConfig
	AlphaVantageKeyEnv string
}

// Factory builds and resolves provider adapters. It is a lookup table
// from provider identity to constructor, not a conditional chain; an
// unknown identity is an explicit error, never a silent default.
type Factory struct {
	mu        sync.Mutex
	builders  map[marketdata.ProviderType]func() (Provider, error)
	instances map[marketdata.ProviderType]Provider
	logger    zerolog.Logger
}

func NewFactory(cfg FactoryConfig, logger zerolog.Logger) *Factory {
	f := &Factory{
		builders:  map[marketdata.ProviderType]func() (Provider, error){},
		instances: map[marketdata.ProviderType]Provider{},
		logger:    logger,
	}

	f.builders[marketdata.ProviderYahoo] = func() (Provider, error) {
		return NewYahooProvider(cfg.Yahoo, logger), nil
	}
	f.builders[marketdata.ProviderAlphaVantage] = func() (Provider, error) {
		avCfg := cfg.AlphaVantage
		if avCfg.APIKey == "" && cfg.AlphaVantageKeyEnv != "" {
			avCfg.APIKey = os.Getenv(cfg.AlphaVantageKeyEnv)
		}
		if avCfg.APIKey == "" {
			return nil, fmt.Errorf("alphavantage: missing API key (env %s)", cfg.AlphaVantageKeyEnv)
		}
		return NewAlphaVantageProvider(avCfg, logger)
	}
	f.builders[marketdata.ProviderMock] = func() (Provider, error) {
		return NewMockProvider(), nil
	}

	return f
}

// Create returns the live adapter for a provider type, constructing it
// on first use. Subsequent calls resolve the same instance.
func (f *Factory) Create(t marketdata.ProviderType) (Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if p, ok := f.instances[t]; ok {
		return p, nil
	}
	build, ok := f.builders[t]
	if !ok {
		return nil, fmt.Errorf("unsupported provider: %q", t)
	}
	p, err := build()
	if err != nil {
		return nil, err
	}
	f.instances[t] = p
	f.logger.Info().Str("provider", string(t)).Msg("provider adapter created")
	return p, nil
}

// CreateByName resolves a provider case-insensitively by name.
func (f *Factory) CreateByName(name string) (Provider, error) {
	t, err := marketdata.ParseProviderType(name)
	if err != nil {
		return nil, err
	}
	return f.Create(t)
}

// Available enumerates the supported provider types, sorted for
// deterministic output.
func (f *Factory) Available() []marketdata.ProviderType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]marketdata.ProviderType, 0, len(f.builders))
	for t := range f.builders {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Close closes every constructed adapter.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var firstErr error
	for t, p := range f.instances {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing %s: %w", t, err)
		}
	}
	return firstErr
}
