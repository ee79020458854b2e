package robinhood

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"

	"optionsproxy/internal/provider"
)

// Credentials holds a login request. MFACode is a one-time code the caller
// already has; TOTPKey is a seed the adapter derives the current code from.
type Credentials struct {
	Email    string
	Password string
	MFACode  string
	TOTPKey  string
}

// NormalizeTOTPKey strips spaces and dashes and upper-cases the seed, the
// format authenticator apps export it in.
func NormalizeTOTPKey(key string) string {
	r := strings.NewReplacer(" ", "", "-", "")
	return strings.ToUpper(r.Replace(strings.TrimSpace(key)))
}

// SetCredentials stores the credentials later handshakes re-login with.
func (a *Adapter) SetCredentials(c Credentials) {
	a.mu.Lock()
	a.creds = &c
	a.mu.Unlock()
}

// ClearCredentials forgets stored credentials; subsequent operations fail
// with ErrNotAuthenticated until the next login.
func (a *Adapter) ClearCredentials() {
	a.mu.Lock()
	a.creds = nil
	a.mu.Unlock()
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	Detail      string `json:"detail"`
	MFARequired bool   `json:"mfa_required"`
}

// Login performs the OAuth password grant and returns an access token.
// Returns ErrNotAuthenticated when no credentials are stored.
func (a *Adapter) Login(ctx context.Context) (string, error) {
	a.mu.Lock()
	creds := a.creds
	a.mu.Unlock()
	if creds == nil {
		return "", provider.ErrNotAuthenticated
	}

	form := url.Values{
		"grant_type":   {"password"},
		"scope":        {"internal"},
		"client_id":    {a.cfg.ClientID},
		"username":     {creds.Email},
		"password":     {creds.Password},
		"device_token": {a.deviceToken},
		"expires_in":   {"86400"},
	}

	switch {
	case creds.MFACode != "":
		form.Set("mfa_code", creds.MFACode)
	case creds.TOTPKey != "":
		code, err := totp.GenerateCode(NormalizeTOTPKey(creds.TOTPKey), time.Now())
		if err != nil {
			return "", fmt.Errorf("deriving one-time code: %w", err)
		}
		form.Set("mfa_code", code)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.cfg.BaseURL+"/oauth2/token/", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("creating login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("executing login: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading login response: %w", err)
	}

	var tok tokenResponse
	_ = json.Unmarshal(body, &tok)

	if resp.StatusCode != http.StatusOK || tok.AccessToken == "" {
		detail := tok.Detail
		if detail == "" && tok.MFARequired {
			detail = "mfa code required"
		}
		if detail == "" {
			detail = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return "", fmt.Errorf("login rejected (%s): %w", detail, provider.ErrAuthFailed)
	}
	return tok.AccessToken, nil
}

// Logout revokes the token best-effort. Upstream failures are logged, never
// returned; local state is always cleared.
func (a *Adapter) Logout(ctx context.Context, token string) {
	a.ClearCredentials()
	if token == "" {
		return
	}

	form := url.Values{"client_id": {a.cfg.ClientID}, "token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.cfg.BaseURL+"/oauth2/revoke_token/", strings.NewReader(form.Encode()))
	if err != nil {
		a.logger.Warn("building revoke request failed", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		a.logger.Warn("token revocation failed", zap.Error(err))
		return
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		a.logger.Warn("token revocation rejected", zap.Int("status", resp.StatusCode))
	}
}
