// Package yahoo issues raw requests against Yahoo Finance's internal JSON
// endpoints using a cookie-and-crumb session.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"optionsproxy/internal/model"
	"optionsproxy/internal/provider"
	"optionsproxy/internal/session"
)

const (
	defaultBaseURL   = "https://query1.finance.yahoo.com"
	defaultCrumbURL  = "https://query2.finance.yahoo.com/v1/test/getcrumb"
	defaultCookieURL = "https://finance.yahoo.com/quote/AAPL"

	// Yahoo rejects non-browser user agents on the crumb endpoint.
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

	maxCrumbLen = 50
)

type Config struct {
	BaseURL    string
	CrumbURL   string
	CookieURL  string
	Timeout    time.Duration
	RatePerSec int
}

type Adapter struct {
	cfg       Config
	transport *http.Transport
	limiter   *rate.Limiter
	logger    *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.CrumbURL == "" {
		cfg.CrumbURL = defaultCrumbURL
	}
	if cfg.CookieURL == "" {
		cfg.CookieURL = defaultCookieURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}

	return &Adapter{
		cfg: cfg,
		transport: &http.Transport{
			MaxIdleConns:    100,
			MaxConnsPerHost: 10,
			IdleConnTimeout: 90 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec*2),
		logger:  logger,
	}
}

// Compile-time interface verification
var (
	_ provider.Adapter        = (*Adapter)(nil)
	_ provider.ChainPreloader = (*Adapter)(nil)
)

func (a *Adapter) Name() string { return "yahoo_direct" }

// client binds the session's cookie jar to the shared transport.
func (a *Adapter) client(sess *session.Session) *http.Client {
	c := &http.Client{Transport: a.transport, Timeout: a.cfg.Timeout}
	if sess != nil {
		c.Jar = sess.Jar
	}
	return c
}

// Handshake visits the quote page for cookies, then requests the crumb the
// cookies unlock. A failed crumb fetch yields a weaker, tokenless session;
// several endpoints tolerate the missing parameter.
func (a *Adapter) Handshake(ctx context.Context) (*session.Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}
	sess := &session.Session{Jar: jar}
	client := a.client(sess)

	if err := a.fetchCookies(ctx, client); err != nil {
		a.logger.Warn("yahoo cookie fetch failed", zap.Error(err))
	}

	crumb, err := a.fetchCrumb(ctx, client)
	if err != nil {
		a.logger.Warn("yahoo crumb fetch failed", zap.Error(err))
		return sess, nil
	}

	sess.Token = crumb
	return sess, nil
}

func (a *Adapter) fetchCookies(ctx context.Context, client *http.Client) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.CookieURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("cookie page status %d", resp.StatusCode)
	}
	return nil
}

func (a *Adapter) fetchCrumb(ctx context.Context, client *http.Client) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.CrumbURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("crumb status %d", resp.StatusCode)
	}

	crumb := strings.TrimSpace(string(body))
	if crumb == "" || len(crumb) >= maxCrumbLen {
		return "", fmt.Errorf("implausible crumb %q", crumb)
	}
	return crumb, nil
}

func (a *Adapter) get(ctx context.Context, sess *session.Session, rawURL string, out any) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := a.client(sess).Do(req)
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

// withCrumb appends the anti-forgery token when the session holds one. A
// missing token is passed through as an absent parameter, not an error.
func withCrumb(sess *session.Session, q url.Values) url.Values {
	if sess != nil && sess.Token != "" {
		q.Set("crumb", sess.Token)
	}
	return q
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				PreviousClose      float64 `json:"previousClose"`
			} `json:"meta"`
			Indicators struct {
				Quote []struct {
					Close []float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
	} `json:"chart"`
}

// GetQuote resolves the market price via the v8 chart API: the meta price,
// then the previous close, then the last historical close bar.
func (a *Adapter) GetQuote(ctx context.Context, sess *session.Session, symbol string) (float64, error) {
	q := withCrumb(sess, url.Values{"range": {"1d"}, "interval": {"1d"}})
	u := fmt.Sprintf("%s/v8/finance/chart/%s?%s", a.cfg.BaseURL, url.PathEscape(symbol), q.Encode())

	var out chartResponse
	if err := a.get(ctx, sess, u, &out); err != nil {
		return 0, err
	}
	if len(out.Chart.Result) == 0 {
		return 0, fmt.Errorf("no chart data for %s: %w", symbol, provider.ErrNotFound)
	}

	r := out.Chart.Result[0]
	if p := model.SafeFloat(r.Meta.RegularMarketPrice); p > 0 {
		return p, nil
	}
	if p := model.SafeFloat(r.Meta.PreviousClose); p > 0 {
		return p, nil
	}
	if len(r.Indicators.Quote) > 0 {
		closes := r.Indicators.Quote[0].Close
		for i := len(closes) - 1; i >= 0; i-- {
			if p := model.SafeFloat(closes[i]); p > 0 {
				return p, nil
			}
		}
	}
	return 0, fmt.Errorf("symbol %s: %w", symbol, provider.ErrNoPrice)
}

type optionsResponse struct {
	OptionChain struct {
		Result []struct {
			ExpirationDates []int64        `json:"expirationDates"`
			Options         []optionsEntry `json:"options"`
		} `json:"result"`
	} `json:"optionChain"`
}

type optionsEntry struct {
	ExpirationDate int64      `json:"expirationDate"`
	Calls          []callJSON `json:"calls"`
}

// callJSON keeps volume and open interest as floats; Yahoo omits or nulls
// them for illiquid contracts and coercion happens in one place downstream.
type callJSON struct {
	Strike            float64 `json:"strike"`
	Bid               float64 `json:"bid"`
	Ask               float64 `json:"ask"`
	Volume            float64 `json:"volume"`
	OpenInterest      float64 `json:"openInterest"`
	ImpliedVolatility float64 `json:"impliedVolatility"`
	Expiration        int64   `json:"expiration"`
}

func (c callJSON) contract() model.OptionContract {
	return model.NormalizeContract(model.OptionContract{
		Strike:            c.Strike,
		Bid:               c.Bid,
		Ask:               c.Ask,
		Volume:            model.SafeInt(c.Volume),
		OpenInterest:      model.SafeInt(c.OpenInterest),
		ImpliedVolatility: c.ImpliedVolatility,
		Expiration:        c.Expiration,
	})
}

func (a *Adapter) optionsURL(symbol string, sess *session.Session, expiration int64) string {
	q := withCrumb(sess, url.Values{})
	if expiration > 0 {
		q.Set("date", strconv.FormatInt(expiration, 10))
	}
	u := fmt.Sprintf("%s/v7/finance/options/%s", a.cfg.BaseURL, url.PathEscape(symbol))
	if enc := q.Encode(); enc != "" {
		u += "?" + enc
	}
	return u
}

// GetExpirationsWithChain returns the published expirations together with
// the inline contract group Yahoo embeds in the unparameterized response.
func (a *Adapter) GetExpirationsWithChain(ctx context.Context, sess *session.Session, symbol string) ([]int64, *model.ExpirationGroup, error) {
	var out optionsResponse
	if err := a.get(ctx, sess, a.optionsURL(symbol, sess, 0), &out); err != nil {
		return nil, nil, err
	}
	if len(out.OptionChain.Result) == 0 {
		// No listed options for the symbol. Valid, not an error.
		return nil, nil, nil
	}

	r := out.OptionChain.Result[0]

	var inline *model.ExpirationGroup
	if len(r.Options) > 0 {
		grp := groupFromEntry(r.Options[0])
		inline = &grp
	}
	return r.ExpirationDates, inline, nil
}

func (a *Adapter) GetExpirations(ctx context.Context, sess *session.Session, symbol string) ([]int64, error) {
	exps, _, err := a.GetExpirationsWithChain(ctx, sess, symbol)
	return exps, err
}

// GetChain fetches all call contracts for one expiration.
func (a *Adapter) GetChain(ctx context.Context, sess *session.Session, symbol string, expiration int64) ([]model.OptionContract, error) {
	var out optionsResponse
	if err := a.get(ctx, sess, a.optionsURL(symbol, sess, expiration), &out); err != nil {
		return nil, fmt.Errorf("%w: %w", provider.ErrChainUnavailable, err)
	}
	if len(out.OptionChain.Result) == 0 || len(out.OptionChain.Result[0].Options) == 0 {
		return nil, fmt.Errorf("expiration %d for %s: %w", expiration, symbol, provider.ErrChainUnavailable)
	}

	grp := groupFromEntry(out.OptionChain.Result[0].Options[0])
	return grp.Calls, nil
}

func groupFromEntry(e optionsEntry) model.ExpirationGroup {
	calls := make([]model.OptionContract, 0, len(e.Calls))
	for _, c := range e.Calls {
		calls = append(calls, c.contract())
	}
	return model.ExpirationGroup{ExpirationDate: e.ExpirationDate, Calls: calls}
}
