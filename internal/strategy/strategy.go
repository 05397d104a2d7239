// Package strategy decides which provider serves a request. Strategies
// read health, they never mutate it.
package strategy

import (
	"marketgateway/internal/adapters"
	"marketgateway/internal/health"
)

// Operation is the logical data kind being requested.
type Operation string

const (
	OpQuote        Operation = "quote"
	OpHistorical   Operation = "historical"
	OpFundamentals Operation = "fundamentals"
	OpProfile      Operation = "profile"
	OpSearch       Operation = "search"
)

// SelectionContext is the ephemeral per-request input to a selector.
type SelectionContext struct {
	Operation  Operation
	Symbol     string
	ForceFresh bool
}

// Selector picks the provider for a request.
type Selector interface {
	// Select returns the adapter to use. Never nil: with no healthy
	// candidate the configured primary is still returned, since no
	// provider is worse than none.
	Select(ctx SelectionContext) adapters.Provider

	// Fallback exposes the configured fallback for callers that retry
	// explicitly after a primary failure.
	Fallback() (adapters.Provider, bool)

	// Name is descriptive only.
	Name() string
}

// Primary always returns the primary adapter regardless of health; the
// caller absorbs failures.
type Primary struct {
	primary adapters.Provider
}

func NewPrimary(primary adapters.Provider) *Primary {
	return &Primary{primary: primary}
}

func (s *Primary) Select(SelectionContext) adapters.Provider { return s.primary }
func (s *Primary) Fallback() (adapters.Provider, bool)       { return nil, false }
func (s *Primary) Name() string                              { return "primary" }

// Fallback returns the primary while it is healthy or unprobed, and the
// configured fallback once the primary is known-unhealthy.
type Fallback struct {
	primary  adapters.Provider
	fallback adapters.Provider // may be nil
	monitor  *health.Monitor
}

func NewFallback(primary, fallback adapters.Provider, monitor *health.Monitor) *Fallback {
	return &Fallback{primary: primary, fallback: fallback, monitor: monitor}
}

func (s *Fallback) Select(SelectionContext) adapters.Provider {
	if s.monitor.IsHealthy(s.primary.Name()) {
		return s.primary
	}
	if s.fallback != nil {
		return s.fallback
	}
	return s.primary
}

func (s *Fallback) Fallback() (adapters.Provider, bool) {
	if s.fallback == nil {
		return nil, false
	}
	return s.fallback, true
}

func (s *Fallback) Name() string { return "fallback" }
