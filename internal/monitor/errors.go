package monitor

import (
	"errors"
	"fmt"
)

// Sentinel errors for the recoverable failure classes in the polling pipeline.
// None of these are fatal; each causes the affected store to contribute zero
// products for the current cycle.
var (
	// ErrResolutionFailure indicates every configured DNS resolver was exhausted.
	ErrResolutionFailure = errors.New("dns resolution failed")

	// ErrProbeFailure indicates the resolved address did not accept a TCP connection.
	ErrProbeFailure = errors.New("reachability probe failed")

	// ErrDomainBackoff indicates the domain is inside its failure backoff window.
	ErrDomainBackoff = errors.New("domain in backoff")

	// ErrConfigMissing indicates the user has no configuration, stores, or
	// keywords yet. Treated as an idle wait, not a failure.
	ErrConfigMissing = errors.New("configuration missing")
)

// FetchError reports a non-success response from a store listing endpoint.
type FetchError struct {
	Domain string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: status %d: %v", e.Domain, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch %s: status %d", e.Domain, e.Status)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ParseError reports a malformed listing payload. Callers treat the store as
// yielding zero products for the cycle.
type ParseError struct {
	Store string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse listing %s: %v", e.Store, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
