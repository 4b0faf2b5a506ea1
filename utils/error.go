package utils

import (
	"errors"
	"fmt"
)

var ErrorRecordNotFound = errors.New("record not found")

// ErrorKind classifies failures crossing an adapter boundary so callers can
// decide between degrade, retry-once, retry-with-backoff, and surface-verbatim.
type ErrorKind string

const (
	// Credentials absent: the adapter was never configured for this deployment.
	ErrorKindConfig ErrorKind = "config"
	// Credentials present but rejected by the provider.
	ErrorKindAuth ErrorKind = "auth"
	// Entity legitimately absent or deleted upstream. Never alert-worthy.
	ErrorKindNotFound ErrorKind = "not_found"
	// Rate-limited or temporarily unavailable. Retried with backoff.
	ErrorKindTransport ErrorKind = "transport"
	// Business rejection (control failed, MFA required, recipient unresolved).
	// Requires a different input, never a retry.
	ErrorKindDomain ErrorKind = "domain"
)

type ProviderError struct {
	Kind     ErrorKind
	Provider string
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func NewProviderError(kind ErrorKind, provider, message string, err error) *ProviderError {
	return &ProviderError{Kind: kind, Provider: provider, Message: message, Err: err}
}

// KindOf returns the classification of err, defaulting to transport for
// anything untyped (network-level failures bubble up as plain errors).
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ErrorKindTransport
}

func IsNotFound(err error) bool {
	return KindOf(err) == ErrorKindNotFound
}

func IsDomainError(err error) bool {
	return KindOf(err) == ErrorKindDomain
}

func ErrorPanic(err error) {
	if err != nil {
		panic(err)
	}
}
