package fallback

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"optionsproxy/internal/chain"
	"optionsproxy/internal/model"
	"optionsproxy/internal/provider"
	"optionsproxy/internal/session"
)

// scriptedAdapter fails its first quoteFailures GetQuote calls, then serves
// canned data.
type scriptedAdapter struct {
	name          string
	price         float64
	expirations   []int64
	expirationErr error
	chains        map[int64][]model.OptionContract

	quoteFailures int
	quoteErr      error
	quoteCalls    int
}

func (s *scriptedAdapter) Name() string { return s.name }

func (s *scriptedAdapter) GetQuote(ctx context.Context, sess *session.Session, symbol string) (float64, error) {
	s.quoteCalls++
	if s.quoteCalls <= s.quoteFailures {
		err := s.quoteErr
		if err == nil {
			err = provider.ErrAuthFailed
		}
		return 0, fmt.Errorf("scripted failure %d: %w", s.quoteCalls, err)
	}
	return s.price, nil
}

func (s *scriptedAdapter) GetExpirations(ctx context.Context, sess *session.Session, symbol string) ([]int64, error) {
	return s.expirations, s.expirationErr
}

func (s *scriptedAdapter) GetChain(ctx context.Context, sess *session.Session, symbol string, expiration int64) ([]model.OptionContract, error) {
	calls, ok := s.chains[expiration]
	if !ok {
		return nil, provider.ErrChainUnavailable
	}
	return calls, nil
}

func countingManager() (*session.Manager, *int) {
	n := 0
	mgr := session.NewManager(func(ctx context.Context) (*session.Session, error) {
		n++
		return &session.Session{Token: fmt.Sprintf("s%d", n)}, nil
	})
	return mgr, &n
}

func entry(ad provider.Adapter, w chain.Window) Provider {
	mgr, _ := countingManager()
	return Provider{Adapter: ad, Sessions: mgr, Window: w, FetchCap: 3, Workers: 1}
}

func fixedNow() time.Time { return time.Unix(1756400000, 0) }

func inDays(d float64) int64 {
	return fixedNow().Add(time.Duration(d * 24 * float64(time.Hour))).Unix()
}

func newOrchestrator(providers ...Provider) *Orchestrator {
	o := New(providers, zap.NewNop())
	o.now = fixedNow
	return o
}

func TestFallbackAfterAuthFailures(t *testing.T) {
	bad := &scriptedAdapter{name: "broker", quoteFailures: 99}
	good := &scriptedAdapter{name: "public", price: 101.5}

	badEntry := entry(bad, chain.Window{MinDTE: 20, MaxDTE: 60})
	resp, err := newOrchestrator(badEntry, entry(good, chain.Window{MinDTE: 20, MaxDTE: 60})).
		Fetch(context.Background(), "aapl")

	require.NoError(t, err)
	assert.Equal(t, "public", resp.Source, "second provider must answer after the first exhausts its retry")
	assert.Equal(t, 2, bad.quoteCalls, "failing provider gets exactly one retry")
	assert.Equal(t, 101.5, resp.OptionChain.Result[0].Quote.RegularMarketPrice)
}

func TestRetryUsesFreshSession(t *testing.T) {
	ad := &scriptedAdapter{name: "broker", price: 50, quoteFailures: 1}
	mgr, handshakes := countingManager()
	p := Provider{Adapter: ad, Sessions: mgr, Window: chain.Window{MinDTE: 20, MaxDTE: 60}, FetchCap: 3, Workers: 1}

	resp, err := newOrchestrator(p).Fetch(context.Background(), "AAPL")

	require.NoError(t, err)
	assert.Equal(t, "broker", resp.Source)
	assert.Equal(t, 2, *handshakes, "auth failure must invalidate and re-handshake before the retry")
}

func TestDegradedOnEmptyExpirations(t *testing.T) {
	ad := &scriptedAdapter{name: "public", price: 150.0}

	resp, err := newOrchestrator(entry(ad, chain.Window{MinDTE: 20, MaxDTE: 60})).
		Fetch(context.Background(), "AAPL")

	require.NoError(t, err, "no listed options is a degraded outcome, not a failure")
	r := resp.OptionChain.Result[0]
	assert.Equal(t, 150.0, r.Quote.RegularMarketPrice)
	assert.Empty(t, r.ExpirationDates)
	assert.Empty(t, r.Options)
	assert.Equal(t, "public", resp.Source)
}

func TestDegradedOnExpirationError(t *testing.T) {
	ad := &scriptedAdapter{name: "public", price: 99.0, expirationErr: fmt.Errorf("boom")}

	resp, err := newOrchestrator(entry(ad, chain.Window{MinDTE: 20, MaxDTE: 60})).
		Fetch(context.Background(), "AAPL")

	require.NoError(t, err)
	assert.Equal(t, 99.0, resp.OptionChain.Result[0].Quote.RegularMarketPrice)
	assert.Empty(t, resp.OptionChain.Result[0].Options)
}

func TestWindowFilterScenario(t *testing.T) {
	exp25, exp45, exp70 := inDays(25), inDays(45), inDays(70)
	ad := &scriptedAdapter{
		name:        "public",
		price:       150.0,
		expirations: []int64{exp25, exp45, exp70},
		chains: map[int64][]model.OptionContract{
			exp25: {{Strike: 145, Expiration: exp25}},
			exp45: {{Strike: 150, Expiration: exp45}},
			exp70: {{Strike: 155, Expiration: exp70}},
		},
	}

	resp, err := newOrchestrator(entry(ad, chain.Window{MinDTE: 20, MaxDTE: 60})).
		Fetch(context.Background(), "AAPL")

	require.NoError(t, err)
	r := resp.OptionChain.Result[0]
	require.Equal(t, []int64{exp25, exp45}, r.ExpirationDates, "only the 25d and 45d series fall inside [20,60]")
	require.Len(t, r.Options, 2)
	assert.Equal(t, exp25, r.Options[0].ExpirationDate)
	assert.Equal(t, exp45, r.Options[1].ExpirationDate)
}

func TestExpirationDatesSubsetOfGroups(t *testing.T) {
	exp30 := inDays(30)
	ad := &scriptedAdapter{
		name:        "public",
		price:       10,
		expirations: []int64{exp30, inDays(40)},
		chains: map[int64][]model.OptionContract{
			exp30: {{Strike: 9, Expiration: exp30}},
			// the 40d fetch fails and is omitted
		},
	}

	resp, err := newOrchestrator(entry(ad, chain.Window{MinDTE: 20, MaxDTE: 60})).
		Fetch(context.Background(), "AAPL")

	require.NoError(t, err)
	r := resp.OptionChain.Result[0]
	require.Len(t, r.Options, 1, "failed expiration omitted from groups")
	assert.Len(t, r.ExpirationDates, 2, "filtered dates list is unaffected by per-expiration failures")
}

// preloadingAdapter exposes the inline-chain optimization.
type preloadingAdapter struct {
	scriptedAdapter
	inline     *model.ExpirationGroup
	chainCalls int
}

func (p *preloadingAdapter) GetExpirationsWithChain(ctx context.Context, sess *session.Session, symbol string) ([]int64, *model.ExpirationGroup, error) {
	return p.expirations, p.inline, p.expirationErr
}

func (p *preloadingAdapter) GetChain(ctx context.Context, sess *session.Session, symbol string, expiration int64) ([]model.OptionContract, error) {
	p.chainCalls++
	return p.scriptedAdapter.GetChain(ctx, sess, symbol, expiration)
}

func TestInlineChainIsReused(t *testing.T) {
	exp25, exp45 := inDays(25), inDays(45)
	ad := &preloadingAdapter{
		scriptedAdapter: scriptedAdapter{
			name:        "public",
			price:       150,
			expirations: []int64{exp25, exp45},
			chains: map[int64][]model.OptionContract{
				exp45: {{Strike: 150, Expiration: exp45}},
			},
		},
		inline: &model.ExpirationGroup{ExpirationDate: exp25, Calls: []model.OptionContract{{Strike: 145, Expiration: exp25}}},
	}

	resp, err := newOrchestrator(entry(ad, chain.Window{MinDTE: 20, MaxDTE: 60})).
		Fetch(context.Background(), "AAPL")

	require.NoError(t, err)
	require.Len(t, resp.OptionChain.Result[0].Options, 2)
	assert.Equal(t, 1, ad.chainCalls, "inline expiration must not be re-fetched")
}

func TestChartPriceOverridesChainQuote(t *testing.T) {
	exp25 := inDays(25)
	ad := &preloadingAdapter{
		scriptedAdapter: scriptedAdapter{
			name:        "public",
			price:       152.5, // separately fetched chart price
			expirations: []int64{exp25},
		},
		inline: &model.ExpirationGroup{ExpirationDate: exp25, Calls: []model.OptionContract{}},
	}

	resp, err := newOrchestrator(entry(ad, chain.Window{MinDTE: 20, MaxDTE: 60})).
		Fetch(context.Background(), "AAPL")

	require.NoError(t, err)
	assert.Equal(t, 152.5, resp.OptionChain.Result[0].Quote.RegularMarketPrice,
		"the chart price wins over anything embedded in the chain response")
}

func TestTotalFailure(t *testing.T) {
	a := &scriptedAdapter{name: "a", quoteFailures: 99}
	b := &scriptedAdapter{name: "b", quoteFailures: 99, quoteErr: provider.ErrNoPrice}

	resp, err := newOrchestrator(
		entry(a, chain.Window{MinDTE: 20, MaxDTE: 60}),
		entry(b, chain.Window{MinDTE: 20, MaxDTE: 60}),
	).Fetch(context.Background(), "AAPL")

	require.Error(t, err)
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, provider.ErrNoPrice, "the last provider error must stay inspectable")
}

func TestSymbolCaseNormalization(t *testing.T) {
	ad := &scriptedAdapter{name: "public", price: 5}
	o := newOrchestrator(entry(ad, chain.Window{MinDTE: 20, MaxDTE: 60}))

	resp, err := o.Fetch(context.Background(), "  spy ")
	require.NoError(t, err)
	assert.Equal(t, "public", resp.Source)
}
