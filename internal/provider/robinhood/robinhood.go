// Package robinhood is the credentialed broker adapter. It carries richer
// per-contract fields than the public sources (delta, real order-book
// quotes) and therefore sits first in the fallback priority when a login
// has succeeded.
package robinhood

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"optionsproxy/internal/model"
	"optionsproxy/internal/provider"
	"optionsproxy/internal/session"
)

const (
	defaultBaseURL = "https://api.robinhood.com"

	// Batch size for the options market-data endpoint.
	marketDataChunk = 40
)

type Config struct {
	BaseURL  string
	ClientID string
	Timeout  time.Duration
}

type Adapter struct {
	cfg         Config
	client      *http.Client
	logger      *zap.Logger
	deviceToken string

	mu       sync.Mutex
	creds    *Credentials
	chainIDs map[string]string // symbol -> options chain id
}

// Compile-time interface verification
var _ provider.Adapter = (*Adapter)(nil)

func New(cfg Config, logger *zap.Logger) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	return &Adapter{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:    100,
				MaxConnsPerHost: 10,
				IdleConnTimeout: 90 * time.Second,
			},
		},
		logger:      logger,
		deviceToken: uuid.NewString(),
		chainIDs:    make(map[string]string),
	}
}

func (a *Adapter) Name() string { return "robinhood" }

// HasCredentials reports whether a login has been configured this process.
func (a *Adapter) HasCredentials() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.creds != nil
}

// Handshake logs in with the stored credentials and wraps the access token
// in a session handle. Without stored credentials it fails with
// ErrNotAuthenticated, which sends the orchestrator to the next provider.
func (a *Adapter) Handshake(ctx context.Context) (*session.Session, error) {
	token, err := a.Login(ctx)
	if err != nil {
		return nil, err
	}
	return &session.Session{Token: token}, nil
}

func (a *Adapter) get(ctx context.Context, sess *session.Session, rawURL string, out any) error {
	if sess == nil || sess.Token == "" {
		return provider.ErrNotAuthenticated
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+sess.Token)
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("status %d: %w", resp.StatusCode, provider.ErrAuthFailed)
	case http.StatusNotFound:
		return provider.ErrNotFound
	default:
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// parseFloat coerces the broker's stringly-typed numerics. Absent, null,
// empty, and unparseable values all become 0; NaN is caught downstream by
// the contract normalizer.
func parseFloat(s *string) float64 {
	if s == nil || *s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(*s, 64)
	if err != nil {
		return 0
	}
	return f
}

type quoteResponse struct {
	LastTradePrice *string `json:"last_trade_price"`
	PreviousClose  *string `json:"previous_close"`
}

type historicalsResponse struct {
	Historicals []struct {
		ClosePrice *string `json:"close_price"`
	} `json:"historicals"`
}

// GetQuote resolves the last trade price, then the previous close, then the
// most recent daily historical bar.
func (a *Adapter) GetQuote(ctx context.Context, sess *session.Session, symbol string) (float64, error) {
	var q quoteResponse
	err := a.get(ctx, sess, fmt.Sprintf("%s/quotes/%s/", a.cfg.BaseURL, url.PathEscape(symbol)), &q)
	if err != nil {
		return 0, err
	}
	if p := model.SafeFloat(parseFloat(q.LastTradePrice)); p > 0 {
		return p, nil
	}
	if p := model.SafeFloat(parseFloat(q.PreviousClose)); p > 0 {
		return p, nil
	}

	var h historicalsResponse
	histURL := fmt.Sprintf("%s/marketdata/historicals/%s/?interval=day&span=week", a.cfg.BaseURL, url.PathEscape(symbol))
	if err := a.get(ctx, sess, histURL, &h); err != nil {
		a.logger.Warn("historicals fallback failed", zap.String("symbol", symbol), zap.Error(err))
		return 0, fmt.Errorf("symbol %s: %w", symbol, provider.ErrNoPrice)
	}
	for i := len(h.Historicals) - 1; i >= 0; i-- {
		if p := model.SafeFloat(parseFloat(h.Historicals[i].ClosePrice)); p > 0 {
			return p, nil
		}
	}
	return 0, fmt.Errorf("symbol %s: %w", symbol, provider.ErrNoPrice)
}

type instrumentsResponse struct {
	Results []struct {
		TradableChainID string `json:"tradable_chain_id"`
	} `json:"results"`
}

func (a *Adapter) chainID(ctx context.Context, sess *session.Session, symbol string) (string, error) {
	a.mu.Lock()
	if id, ok := a.chainIDs[symbol]; ok {
		a.mu.Unlock()
		return id, nil
	}
	a.mu.Unlock()

	var out instrumentsResponse
	u := fmt.Sprintf("%s/instruments/?symbol=%s", a.cfg.BaseURL, url.QueryEscape(symbol))
	if err := a.get(ctx, sess, u, &out); err != nil {
		return "", err
	}
	if len(out.Results) == 0 || out.Results[0].TradableChainID == "" {
		return "", fmt.Errorf("symbol %s: %w", symbol, provider.ErrNotFound)
	}

	id := out.Results[0].TradableChainID
	a.mu.Lock()
	a.chainIDs[symbol] = id
	a.mu.Unlock()
	return id, nil
}

type chainsResponse struct {
	ExpirationDates []string `json:"expiration_dates"`
}

// GetExpirations lists the chain's expiration dates as midnight-UTC
// timestamps, in the order the broker publishes them.
func (a *Adapter) GetExpirations(ctx context.Context, sess *session.Session, symbol string) ([]int64, error) {
	id, err := a.chainID(ctx, sess, symbol)
	if err != nil {
		return nil, err
	}

	var out chainsResponse
	if err := a.get(ctx, sess, fmt.Sprintf("%s/options/chains/%s/", a.cfg.BaseURL, id), &out); err != nil {
		return nil, err
	}

	exps := make([]int64, 0, len(out.ExpirationDates))
	for _, d := range out.ExpirationDates {
		ts, err := time.Parse("2006-01-02", d)
		if err != nil {
			a.logger.Warn("skipping unparseable expiration date", zap.String("date", d))
			continue
		}
		exps = append(exps, ts.Unix())
	}
	return exps, nil
}

// ContractQuote is a canonical contract plus the broker-only delta field.
type ContractQuote struct {
	model.OptionContract
	Delta float64 `json:"delta"`
}

type optionInstrumentsResponse struct {
	Next    string `json:"next"`
	Results []struct {
		URL         string  `json:"url"`
		StrikePrice *string `json:"strike_price"`
	} `json:"results"`
}

type marketDataResponse struct {
	Results []struct {
		Instrument        string  `json:"instrument"`
		BidPrice          *string `json:"bid_price"`
		AskPrice          *string `json:"ask_price"`
		Volume            float64 `json:"volume"`
		OpenInterest      float64 `json:"open_interest"`
		ImpliedVolatility *string `json:"implied_volatility"`
		Delta             *string `json:"delta"`
	} `json:"results"`
}

// GetChainWithGreeks returns every active contract of one type for one
// expiration with its market data joined in, including delta. An empty
// optionType means calls.
func (a *Adapter) GetChainWithGreeks(ctx context.Context, sess *session.Session, symbol string, expiration int64, optionType string) ([]ContractQuote, error) {
	if optionType == "" {
		optionType = "call"
	}

	id, err := a.chainID(ctx, sess, symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", provider.ErrChainUnavailable, err)
	}

	date := time.Unix(expiration, 0).UTC().Format("2006-01-02")
	strikes := make(map[string]float64)
	var urls []string

	next := fmt.Sprintf("%s/options/instruments/?chain_id=%s&expiration_dates=%s&state=active&type=%s",
		a.cfg.BaseURL, id, date, optionType)
	for next != "" {
		var page optionInstrumentsResponse
		if err := a.get(ctx, sess, next, &page); err != nil {
			return nil, fmt.Errorf("%w: %w", provider.ErrChainUnavailable, err)
		}
		for _, r := range page.Results {
			urls = append(urls, r.URL)
			strikes[r.URL] = parseFloat(r.StrikePrice)
		}
		next = page.Next
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("expiration %s for %s: %w", date, symbol, provider.ErrChainUnavailable)
	}

	contracts := make([]ContractQuote, 0, len(urls))
	for start := 0; start < len(urls); start += marketDataChunk {
		end := start + marketDataChunk
		if end > len(urls) {
			end = len(urls)
		}

		var md marketDataResponse
		u := fmt.Sprintf("%s/marketdata/options/?instruments=%s",
			a.cfg.BaseURL, url.QueryEscape(strings.Join(urls[start:end], ",")))
		if err := a.get(ctx, sess, u, &md); err != nil {
			return nil, fmt.Errorf("%w: %w", provider.ErrChainUnavailable, err)
		}

		for _, r := range md.Results {
			c := model.NormalizeContract(model.OptionContract{
				Strike:            strikes[r.Instrument],
				Bid:               parseFloat(r.BidPrice),
				Ask:               parseFloat(r.AskPrice),
				Volume:            model.SafeInt(r.Volume),
				OpenInterest:      model.SafeInt(r.OpenInterest),
				ImpliedVolatility: parseFloat(r.ImpliedVolatility),
				Expiration:        expiration,
			})
			contracts = append(contracts, ContractQuote{
				OptionContract: c,
				Delta:          model.SafeFloat(parseFloat(r.Delta)),
			})
		}
	}
	return contracts, nil
}

func (a *Adapter) GetChain(ctx context.Context, sess *session.Session, symbol string, expiration int64) ([]model.OptionContract, error) {
	quotes, err := a.GetChainWithGreeks(ctx, sess, symbol, expiration, "call")
	if err != nil {
		return nil, err
	}
	out := make([]model.OptionContract, len(quotes))
	for i, q := range quotes {
		out[i] = q.OptionContract
	}
	return out, nil
}

// FilterByDelta keeps contracts with minDelta <= |delta| <= maxDelta. It is
// additional to DTE filtering on the broker path.
func FilterByDelta(contracts []ContractQuote, minDelta, maxDelta float64) []ContractQuote {
	out := make([]ContractQuote, 0, len(contracts))
	for _, c := range contracts {
		d := math.Abs(c.Delta)
		if d >= minDelta && d <= maxDelta {
			out = append(out, c)
		}
	}
	return out
}
