package provider

import "errors"

var (
	// ErrAuthFailed marks a session, crumb, or token the upstream rejected.
	// The orchestrator invalidates the session and retries once per provider.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrNotAuthenticated means no successful login has occurred in this
	// process for a provider that requires one.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrNoPrice means every quote resolution path was exhausted.
	ErrNoPrice = errors.New("no price available")

	// ErrChainUnavailable means the provider rejected or could not parse a
	// single expiration's chain. Always absorbed by the aggregator.
	ErrChainUnavailable = errors.New("option chain unavailable")

	// ErrNotFound means the upstream does not know the symbol.
	ErrNotFound = errors.New("symbol not found")
)
