package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"optionsproxy/internal/chain"
	"optionsproxy/internal/model"
	"optionsproxy/internal/provider"
	"optionsproxy/internal/provider/robinhood"
	"optionsproxy/internal/session"
)

// ChainFetcher produces the aggregated chain response for a symbol, trying
// providers in priority order.
type ChainFetcher interface {
	Fetch(ctx context.Context, symbol string) (*model.AggregatedResponse, error)
}

// Broker is the credentialed adapter surface the direct broker endpoints use.
// *robinhood.Adapter satisfies it.
type Broker interface {
	Name() string
	SetCredentials(robinhood.Credentials)
	ClearCredentials()
	GetQuote(ctx context.Context, sess *session.Session, symbol string) (float64, error)
	GetExpirations(ctx context.Context, sess *session.Session, symbol string) ([]int64, error)
	GetChainWithGreeks(ctx context.Context, sess *session.Session, symbol string, expiration int64, optionType string) ([]robinhood.ContractQuote, error)
	Logout(ctx context.Context, token string)
}

type Server struct {
	fetcher        ChainFetcher
	broker         Broker
	brokerSessions *session.Manager
	brokerWindow   chain.Window
	logger         *zap.Logger
}

func NewServer(fetcher ChainFetcher, broker Broker, brokerSessions *session.Manager, brokerWindow chain.Window, logger *zap.Logger) *Server {
	return &Server{
		fetcher:        fetcher,
		broker:         broker,
		brokerSessions: brokerSessions,
		brokerWindow:   brokerWindow,
		logger:         logger,
	}
}

func (s *Server) handleAggregatedChain(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	resp, err := s.fetcher.Fetch(r.Context(), symbol)
	if err != nil {
		s.logger.Warn("chain fetch failed",
			zap.String("symbol", symbol),
			zap.Error(err),
		)
		if errors.Is(err, provider.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "symbol not found: " + symbol})
			return
		}
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// brokerEnabled reports whether the credentialed broker path is wired in.
func (s *Server) brokerEnabled(w http.ResponseWriter) bool {
	if s.brokerSessions == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "broker provider is disabled"})
		return false
	}
	return true
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	if !s.brokerEnabled(w) {
		return
	}
	symbol := normalizeSymbol(chi.URLParam(r, "symbol"))

	sess, err := s.brokerSessions.Acquire(r.Context())
	if err != nil {
		s.writeBrokerError(w, symbol, err)
		return
	}

	price, err := s.broker.GetQuote(r.Context(), sess, symbol)
	if err != nil {
		s.writeBrokerError(w, symbol, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"symbol": symbol,
		"price":  model.SafeFloat(price),
		"source": s.broker.Name(),
	})
}

type contractListResponse struct {
	Symbol    string                    `json:"symbol"`
	Count     int                       `json:"count"`
	Contracts []robinhood.ContractQuote `json:"contracts"`
}

func (s *Server) handleBrokerChain(w http.ResponseWriter, r *http.Request) {
	if !s.brokerEnabled(w) {
		return
	}
	symbol := normalizeSymbol(chi.URLParam(r, "symbol"))

	window := s.brokerWindow
	window.MinDTE = queryInt(r, "min_dte", window.MinDTE)
	window.MaxDTE = queryInt(r, "max_dte", window.MaxDTE)
	minDelta := queryFloat(r, "min_delta", 0)
	maxDelta := queryFloat(r, "max_delta", 1)
	optionType := r.URL.Query().Get("type")

	if window.MinDTE > window.MaxDTE {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "min_dte must not exceed max_dte"})
		return
	}
	if optionType != "" && optionType != "call" && optionType != "put" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "type must be call or put"})
		return
	}

	sess, err := s.brokerSessions.Acquire(r.Context())
	if err != nil {
		s.writeBrokerError(w, symbol, err)
		return
	}

	expirations, err := s.broker.GetExpirations(r.Context(), sess, symbol)
	if err != nil {
		s.writeBrokerError(w, symbol, err)
		return
	}

	targets := chain.FilterDTE(expirations, timeNow(), window)

	contracts := make([]robinhood.ContractQuote, 0)
	for _, exp := range targets {
		quotes, err := s.broker.GetChainWithGreeks(r.Context(), sess, symbol, exp, optionType)
		if err != nil {
			s.logger.Warn("expiration fetch failed",
				zap.String("symbol", symbol),
				zap.Int64("expiration", exp),
				zap.Error(err),
			)
			continue
		}
		contracts = append(contracts, robinhood.FilterByDelta(quotes, minDelta, maxDelta)...)
	}

	sort.Slice(contracts, func(i, j int) bool {
		if contracts[i].Expiration != contracts[j].Expiration {
			return contracts[i].Expiration < contracts[j].Expiration
		}
		return contracts[i].Strike < contracts[j].Strike
	})

	writeJSON(w, http.StatusOK, contractListResponse{
		Symbol:    symbol,
		Count:     len(contracts),
		Contracts: contracts,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	MFACode  string `json:"mfa_code"`
	TOTPKey  string `json:"totp_key"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.brokerEnabled(w) {
		return
	}
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid request body"})
		return
	}
	if req.Email == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "email and password are required"})
		return
	}

	s.broker.SetCredentials(robinhood.Credentials{
		Email:    req.Email,
		Password: req.Password,
		MFACode:  req.MFACode,
		TOTPKey:  req.TOTPKey,
	})
	s.brokerSessions.Invalidate()

	if _, err := s.brokerSessions.Acquire(r.Context()); err != nil {
		s.broker.ClearCredentials()
		s.logger.Warn("broker login failed",
			zap.String("email", maskEmail(req.Email)),
			zap.Error(err),
		)
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": err.Error()})
		return
	}

	s.logger.Info("broker login succeeded", zap.String("email", maskEmail(req.Email)))
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if !s.brokerEnabled(w) {
		return
	}
	if sess := s.brokerSessions.Current(); sess != nil && sess.Token != "" {
		s.broker.Logout(r.Context(), sess.Token)
	}
	s.broker.ClearCredentials()
	s.brokerSessions.Invalidate()

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	authenticated := s.brokerSessions != nil && s.brokerSessions.Current() != nil
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"authenticated": authenticated,
	})
}

// writeBrokerError maps adapter errors onto the broker endpoints' status codes.
func (s *Server) writeBrokerError(w http.ResponseWriter, symbol string, err error) {
	s.logger.Warn("broker request failed", zap.String("symbol", symbol), zap.Error(err))

	switch {
	case errors.Is(err, provider.ErrNotAuthenticated), errors.Is(err, provider.ErrAuthFailed):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
	case errors.Is(err, provider.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"encoding failure"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func queryFloat(r *http.Request, key string, fallback float64) float64 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return f
}

func maskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 1 {
		return "****"
	}
	return email[:1] + "****" + email[at:]
}
