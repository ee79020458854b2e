package chain

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"optionsproxy/internal/model"
	"optionsproxy/internal/provider"
	"optionsproxy/internal/session"
)

// AggregateOptions bounds the cost of a multi-expiration fan-out.
type AggregateOptions struct {
	// Cap limits how many expirations are fetched beyond any inline group.
	// Providers publish dozens of series; observed caps range 3-8.
	Cap int

	// Workers bounds concurrent fetches. Zero or one means sequential.
	Workers int

	// Inline is a group the provider's first reply already carried, reused
	// instead of re-fetched. It is kept even when its expiration falls
	// outside the filtered window.
	Inline *model.ExpirationGroup
}

// Aggregate fetches up to opts.Cap expirations from the filtered list and
// merges the per-expiration contract groups. A failed expiration is logged
// and omitted; the call itself never fails on per-expiration errors. An
// all-failed result is an empty slice, which callers treat as degraded but
// successful.
func Aggregate(ctx context.Context, ad provider.Adapter, sess *session.Session, symbol string, expirations []int64, opts AggregateOptions, logger *zap.Logger) []model.ExpirationGroup {
	groups := make([]model.ExpirationGroup, 0, len(expirations)+1)

	var inlineExp int64 = -1
	if opts.Inline != nil {
		inlineExp = opts.Inline.ExpirationDate
		groups = append(groups, model.NormalizeGroup(*opts.Inline))
	}

	targets := make([]int64, 0, len(expirations))
	for _, e := range expirations {
		if e == inlineExp {
			continue
		}
		if opts.Cap >= 0 && len(targets) >= opts.Cap {
			break
		}
		targets = append(targets, e)
	}

	// Results keep the slot of their requested expiration so the caller
	// sees identical ordering whether fetches ran sequentially or not.
	fetched := make([]*model.ExpirationGroup, len(targets))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)

	for i, exp := range targets {
		i, exp := i, exp
		g.Go(func() error {
			calls, err := ad.GetChain(gctx, sess, symbol, exp)
			if err != nil {
				logger.Warn("expiration fetch failed",
					zap.String("provider", ad.Name()),
					zap.String("symbol", symbol),
					zap.Int64("expiration", exp),
					zap.Error(err))
				return nil
			}
			grp := model.NormalizeGroup(model.ExpirationGroup{ExpirationDate: exp, Calls: calls})
			mu.Lock()
			fetched[i] = &grp
			mu.Unlock()
			return nil
		})
	}
	// Workers swallow their own errors; Wait only observes ctx cancellation.
	_ = g.Wait()

	for _, grp := range fetched {
		if grp != nil {
			groups = append(groups, *grp)
		}
	}
	return groups
}
