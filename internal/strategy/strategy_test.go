package strategy

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketgateway/internal/adapters"
	"marketgateway/internal/health"
	"marketgateway/internal/marketdata"
)

// namedProvider only needs an identity; selection never calls the data
// methods, so the embedded interface stays nil.
type namedProvider struct {
	adapters.Provider
	name marketdata.ProviderType
}

func (p namedProvider) Name() marketdata.ProviderType { return p.name }

func TestPrimarySelectorIgnoresHealth(t *testing.T) {
	primary := namedProvider{name: marketdata.ProviderYahoo}
	s := NewPrimary(primary)

	got := s.Select(SelectionContext{Operation: OpQuote, Symbol: "AAPL"})
	assert.Equal(t, marketdata.ProviderYahoo, got.Name())

	_, ok := s.Fallback()
	assert.False(t, ok)
}

func TestFallbackSelectorPrefersHealthyPrimary(t *testing.T) {
	primary := namedProvider{name: marketdata.ProviderYahoo}
	fallback := namedProvider{name: marketdata.ProviderAlphaVantage}
	m := health.NewMonitor(3, zerolog.Nop())
	s := NewFallback(primary, fallback, m)

	got := s.Select(SelectionContext{Operation: OpQuote})
	assert.Equal(t, marketdata.ProviderYahoo, got.Name())
}

func TestFallbackSelectorSwitchesWhenPrimaryUnhealthy(t *testing.T) {
	primary := namedProvider{name: marketdata.ProviderYahoo}
	fallback := namedProvider{name: marketdata.ProviderAlphaVantage}
	m := health.NewMonitor(3, zerolog.Nop())
	s := NewFallback(primary, fallback, m)

	for i := 0; i < 3; i++ {
		m.RecordFailure(marketdata.ProviderYahoo)
	}
	require.False(t, m.IsHealthy(marketdata.ProviderYahoo))

	got := s.Select(SelectionContext{Operation: OpQuote})
	assert.Equal(t, marketdata.ProviderAlphaVantage, got.Name())

	fb, ok := s.Fallback()
	require.True(t, ok)
	assert.Equal(t, marketdata.ProviderAlphaVantage, fb.Name())
}

func TestFallbackSelectorRecoversWithPrimary(t *testing.T) {
	primary := namedProvider{name: marketdata.ProviderYahoo}
	fallback := namedProvider{name: marketdata.ProviderAlphaVantage}
	m := health.NewMonitor(2, zerolog.Nop())
	s := NewFallback(primary, fallback, m)

	m.RecordFailure(marketdata.ProviderYahoo)
	m.RecordFailure(marketdata.ProviderYahoo)
	require.Equal(t, marketdata.ProviderAlphaVantage, s.Select(SelectionContext{}).Name())

	m.RecordSuccess(marketdata.ProviderYahoo, 0)
	assert.Equal(t, marketdata.ProviderYahoo, s.Select(SelectionContext{}).Name())
}

func TestFallbackSelectorWithoutFallbackConfigured(t *testing.T) {
	primary := namedProvider{name: marketdata.ProviderYahoo}
	m := health.NewMonitor(1, zerolog.Nop())
	s := NewFallback(primary, nil, m)

	m.RecordFailure(marketdata.ProviderYahoo)
	require.False(t, m.IsHealthy(marketdata.ProviderYahoo))

	// degraded primary still beats no provider at all
	got := s.Select(SelectionContext{Operation: OpQuote})
	assert.Equal(t, marketdata.ProviderYahoo, got.Name())

	_, ok := s.Fallback()
	assert.False(t, ok)
}
