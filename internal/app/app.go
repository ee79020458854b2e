// Package app wires the configured providers into the fallback stack shared
// by the server and the one-shot fetch command.
package app

import (
	"time"

	"go.uber.org/zap"

	"optionsproxy/internal/chain"
	"optionsproxy/internal/config"
	"optionsproxy/internal/fallback"
	"optionsproxy/internal/provider/financego"
	"optionsproxy/internal/provider/robinhood"
	"optionsproxy/internal/provider/yahoo"
	"optionsproxy/internal/session"
)

type Stack struct {
	Providers    []fallback.Provider
	Orchestrator *fallback.Orchestrator

	// Broker pieces are exposed separately for the direct broker endpoints.
	Broker         *robinhood.Adapter
	BrokerSessions *session.Manager
	BrokerWindow   chain.Window
}

// BuildStack constructs every enabled adapter with its own session manager,
// in fallback priority order: broker first, then direct HTTP, then the
// library-backed path.
func BuildStack(cfg *config.Config, logger *zap.Logger) *Stack {
	stack := &Stack{}

	if cfg.Providers.Robinhood.Enabled {
		rh := cfg.Providers.Robinhood
		adapter := robinhood.New(robinhood.Config{
			BaseURL:  rh.BaseURL,
			ClientID: rh.ClientID,
			Timeout:  time.Duration(rh.TimeoutSec) * time.Second,
		}, logger.Named("robinhood"))
		sessions := session.NewManager(adapter.Handshake)
		window := chain.Window{MinDTE: rh.MinDTE, MaxDTE: rh.MaxDTE}

		stack.Broker = adapter
		stack.BrokerSessions = sessions
		stack.BrokerWindow = window
		stack.Providers = append(stack.Providers, fallback.Provider{
			Adapter:  adapter,
			Sessions: sessions,
			Window:   window,
			FetchCap: rh.FetchCap,
			Workers:  rh.Workers,
		})
	}

	if cfg.Providers.Yahoo.Enabled {
		yh := cfg.Providers.Yahoo
		adapter := yahoo.New(yahoo.Config{
			BaseURL:    yh.BaseURL,
			CrumbURL:   yh.CrumbURL,
			CookieURL:  yh.CookieURL,
			Timeout:    time.Duration(yh.TimeoutSec) * time.Second,
			RatePerSec: yh.RatePerSec,
		}, logger.Named("yahoo"))
		stack.Providers = append(stack.Providers, fallback.Provider{
			Adapter:  adapter,
			Sessions: session.NewManager(adapter.Handshake),
			Window:   chain.Window{MinDTE: yh.MinDTE, MaxDTE: yh.MaxDTE},
			FetchCap: yh.FetchCap,
			Workers:  yh.Workers,
		})
	}

	if cfg.Providers.FinanceGo.Enabled {
		fg := cfg.Providers.FinanceGo
		adapter := financego.New(logger.Named("financego"))
		stack.Providers = append(stack.Providers, fallback.Provider{
			Adapter:  adapter,
			Sessions: session.NewManager(adapter.Handshake),
			Window:   chain.Window{MinDTE: fg.MinDTE, MaxDTE: fg.MaxDTE},
			FetchCap: fg.FetchCap,
			Workers:  fg.Workers,
		})
	}

	stack.Orchestrator = fallback.New(stack.Providers, logger)
	return stack
}
