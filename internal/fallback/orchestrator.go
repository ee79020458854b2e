// Package fallback drives the provider priority list: acquire a session,
// fetch a quote with one invalidate-and-retry, then expirations, then the
// bounded chain fan-out, degrading to quote-only whenever option data is
// unavailable. Only a total failure across every provider surfaces to the
// caller.
package fallback

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"optionsproxy/internal/chain"
	"optionsproxy/internal/model"
	"optionsproxy/internal/provider"
	"optionsproxy/internal/session"
)

// Provider is one entry in the priority-ordered fallback list.
type Provider struct {
	Adapter  provider.Adapter
	Sessions *session.Manager
	Window   chain.Window
	FetchCap int
	Workers  int
}

type Orchestrator struct {
	providers []Provider
	logger    *zap.Logger

	// now is swapped in tests.
	now func() time.Time
}

func New(providers []Provider, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{providers: providers, logger: logger, now: time.Now}
}

// Fetch walks the provider list and returns the first obtainable response.
// A provider that yields a price but no options produces a degraded
// response (quote populated, empty collections) rather than falling
// through. The returned error is non-nil only when no provider produced a
// price at all.
func (o *Orchestrator) Fetch(ctx context.Context, symbol string) (*model.AggregatedResponse, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	var lastErr error
	for _, p := range o.providers {
		price, sess, err := o.quoteWithRetry(ctx, p, symbol)
		if err != nil {
			lastErr = err
			continue
		}

		exps, inline, err := o.expirations(ctx, p, sess, symbol)
		if err != nil || len(exps) == 0 {
			if err != nil {
				o.logger.Warn("options fetch failed, returning quote only",
					zap.String("provider", p.Adapter.Name()),
					zap.String("symbol", symbol),
					zap.Error(err))
			}
			return model.NewAggregatedResponse(p.Adapter.Name(), price, nil, nil), nil
		}

		filtered := chain.FilterDTE(exps, o.now(), p.Window)
		groups := chain.Aggregate(ctx, p.Adapter, sess, symbol, filtered, chain.AggregateOptions{
			Cap:     p.FetchCap,
			Workers: p.Workers,
			Inline:  inline,
		}, o.logger)

		// The separately fetched chart/quote price always wins over any
		// quote embedded in a chain response.
		return model.NewAggregatedResponse(p.Adapter.Name(), price, filtered, groups), nil
	}

	if lastErr == nil {
		lastErr = provider.ErrNoPrice
	}
	return nil, fmt.Errorf("all providers failed for %s: %w", symbol, lastErr)
}

// quoteWithRetry acquires a session and fetches the quote, invalidating the
// session and retrying exactly once on the first failure. The second
// failure advances the orchestrator to the next provider.
func (o *Orchestrator) quoteWithRetry(ctx context.Context, p Provider, symbol string) (float64, *session.Session, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		sess, err := p.Sessions.Acquire(ctx)
		if err == nil {
			price, qerr := p.Adapter.GetQuote(ctx, sess, symbol)
			if qerr == nil {
				return price, sess, nil
			}
			err = qerr
		}

		lastErr = err
		o.logger.Warn("quote attempt failed",
			zap.String("provider", p.Adapter.Name()),
			zap.String("symbol", symbol),
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		if attempt == 0 {
			p.Sessions.Invalidate()
		}
	}
	return 0, nil, fmt.Errorf("provider %s: %w", p.Adapter.Name(), lastErr)
}

func (o *Orchestrator) expirations(ctx context.Context, p Provider, sess *session.Session, symbol string) ([]int64, *model.ExpirationGroup, error) {
	if pre, ok := p.Adapter.(provider.ChainPreloader); ok {
		return pre.GetExpirationsWithChain(ctx, sess, symbol)
	}
	exps, err := p.Adapter.GetExpirations(ctx, sess, symbol)
	return exps, nil, err
}
