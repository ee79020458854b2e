// Package financego wraps the piquette/finance-go client. The library owns
// transport, cookies, and retries; this adapter is shape normalization only
// and is the last resort in the fallback order.
package financego

import (
	"context"
	"fmt"

	finance "github.com/piquette/finance-go"
	"github.com/piquette/finance-go/datetime"
	"github.com/piquette/finance-go/options"
	"github.com/piquette/finance-go/quote"
	"go.uber.org/zap"

	"optionsproxy/internal/model"
	"optionsproxy/internal/provider"
	"optionsproxy/internal/session"
)

type Adapter struct {
	logger *zap.Logger
}

// Compile-time interface verification
var _ provider.Adapter = (*Adapter)(nil)

func New(logger *zap.Logger) *Adapter {
	return &Adapter{logger: logger}
}

func (a *Adapter) Name() string { return "finance_go" }

// Handshake is a no-op; the wrapped client manages its own session state.
func (a *Adapter) Handshake(ctx context.Context) (*session.Session, error) {
	return &session.Session{}, nil
}

func (a *Adapter) GetQuote(ctx context.Context, _ *session.Session, symbol string) (float64, error) {
	q, err := quote.Get(symbol)
	if err != nil {
		return 0, fmt.Errorf("quote for %s: %w", symbol, err)
	}
	if q == nil {
		return 0, fmt.Errorf("symbol %s: %w", symbol, provider.ErrNotFound)
	}
	if p := model.SafeFloat(q.RegularMarketPrice); p > 0 {
		return p, nil
	}
	if p := model.SafeFloat(q.RegularMarketPreviousClose); p > 0 {
		return p, nil
	}
	return 0, fmt.Errorf("symbol %s: %w", symbol, provider.ErrNoPrice)
}

func (a *Adapter) GetExpirations(ctx context.Context, _ *session.Session, symbol string) ([]int64, error) {
	iter := options.GetStraddle(symbol)
	// The library exposes expiration metadata on the iterator, so the
	// nearest chain has to be drained to reach it.
	for iter.Next() {
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("straddle chain for %s: %w", symbol, err)
	}

	meta := iter.Meta()
	if meta == nil {
		return nil, nil
	}
	exps := make([]int64, 0, len(meta.AllExpirationDates))
	for _, d := range meta.AllExpirationDates {
		exps = append(exps, int64(d))
	}
	return exps, nil
}

func (a *Adapter) GetChain(ctx context.Context, _ *session.Session, symbol string, expiration int64) ([]model.OptionContract, error) {
	iter := options.GetStraddleP(&options.Params{
		UnderlyingSymbol: symbol,
		Expiration:       datetime.FromUnix(int(expiration)),
	})

	var calls []model.OptionContract
	for iter.Next() {
		s := iter.Straddle()
		if s == nil || s.Call == nil {
			continue
		}
		calls = append(calls, contractFromCall(s.Call, expiration))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: expiration %d for %s: %w", provider.ErrChainUnavailable, expiration, symbol, err)
	}
	return calls, nil
}

func contractFromCall(c *finance.Contract, expiration int64) model.OptionContract {
	exp := int64(c.Expiration)
	if exp == 0 {
		exp = expiration
	}
	return model.NormalizeContract(model.OptionContract{
		Strike:            c.Strike,
		Bid:               c.Bid,
		Ask:               c.Ask,
		Volume:            int64(c.Volume),
		OpenInterest:      int64(c.OpenInterest),
		ImpliedVolatility: c.ImpliedVolatility,
		Expiration:        exp,
	})
}
