package marketdata

import (
	"errors"
	"fmt"
)

// ErrorKind classifies provider failures. The orchestrator's routing
// decisions (fallback, retry, surface-to-caller) depend on the kind,
// never on string matching.
type ErrorKind string

const (
	ErrSymbolNotFound   ErrorKind = "symbol_not_found"
	ErrRateLimited      ErrorKind = "rate_limited"
	ErrUnavailable      ErrorKind = "unavailable"
	ErrInvalidDateRange ErrorKind = "invalid_date_range"
	ErrInvalidParameter ErrorKind = "invalid_parameter"
	ErrTimeout          ErrorKind = "timeout"
)

// ProviderError is the typed error every adapter and the orchestrator
// surface. Callers distinguish "data does not exist" from "system
// temporarily degraded" via Kind.
type ProviderError struct {
	Kind     ErrorKind
	Provider ProviderType
	Symbol   string
	Message  string
	Cause    error
}

func (e *ProviderError) Error() string {
	s := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Symbol != "" {
		s = fmt.Sprintf("%s [%s]", s, e.Symbol)
	}
	if e.Provider != "" {
		s = fmt.Sprintf("%s (provider=%s)", s, e.Provider)
	}
	if e.Cause != nil {
		s = fmt.Sprintf("%s: %v", s, e.Cause)
	}
	return s
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// KindOf extracts the error kind, or "" for untyped errors.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the failure should trigger a fallback
// attempt. Timeouts route the same as unavailability.
func Retryable(err error) bool {
	k := KindOf(err)
	return k == ErrUnavailable || k == ErrTimeout
}

func NewSymbolNotFoundError(provider ProviderType, symbol string) *ProviderError {
	return &ProviderError{Kind: ErrSymbolNotFound, Provider: provider, Symbol: symbol,
		Message: "symbol not found"}
}

func NewRateLimitError(provider ProviderType, message string) *ProviderError {
	return &ProviderError{Kind: ErrRateLimited, Provider: provider, Message: message}
}

func NewUnavailableError(provider ProviderType, symbol, message string, cause error) *ProviderError {
	return &ProviderError{Kind: ErrUnavailable, Provider: provider, Symbol: symbol,
		Message: message, Cause: cause}
}

func NewInvalidDateRangeError(message string) *ProviderError {
	return &ProviderError{Kind: ErrInvalidDateRange, Message: message}
}

func NewInvalidParameterError(message string) *ProviderError {
	return &ProviderError{Kind: ErrInvalidParameter, Message: message}
}

func NewTimeoutError(provider ProviderType, symbol string, cause error) *ProviderError {
	return &ProviderError{Kind: ErrTimeout, Provider: provider, Symbol: symbol,
		Message: "request timed out", Cause: cause}
}
