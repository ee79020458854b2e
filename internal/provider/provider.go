// Package provider defines the contract every upstream market-data source
// implements, plus the error taxonomy the orchestrator keys its
// retry-and-fallback decisions on.
package provider

import (
	"context"

	"optionsproxy/internal/model"
	"optionsproxy/internal/session"
)

// Adapter is the common contract over upstream market-data providers.
// Operations take the session handle acquired for this provider; adapters
// whose transport manages its own state ignore it.
type Adapter interface {
	// Name is the provider tag surfaced in AggregatedResponse.Source.
	Name() string

	// GetQuote returns the most recent market price for the symbol.
	// Resolution order within one adapter: fast-path field, then a
	// previous-close style field, then the most recent historical bar.
	// Fails with ErrNoPrice only after all paths are exhausted.
	GetQuote(ctx context.Context, sess *session.Session, symbol string) (float64, error)

	// GetExpirations returns every expiration timestamp the provider
	// currently publishes for the symbol. Empty is valid, not an error.
	GetExpirations(ctx context.Context, sess *session.Session, symbol string) ([]int64, error)

	// GetChain returns all call contracts for one expiration. Fails with
	// ErrChainUnavailable if the provider rejects that expiration.
	GetChain(ctx context.Context, sess *session.Session, symbol string, expiration int64) ([]model.OptionContract, error)
}

// ChainPreloader is implemented by adapters whose unparameterized options
// response already carries one expiration's contracts inline. The aggregator
// reuses that group instead of re-fetching it.
type ChainPreloader interface {
	GetExpirationsWithChain(ctx context.Context, sess *session.Session, symbol string) ([]int64, *model.ExpirationGroup, error)
}
