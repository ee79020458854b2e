package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"optionsproxy/internal/app"
)

func quoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quote SYMBOL",
		Short: "Fetch the current underlying price for a symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			symbol := args[0]
			stack := app.BuildStack(cfg, logger)
			if len(stack.Providers) == 0 {
				return fmt.Errorf("no providers enabled")
			}

			// The orchestrator handles session retries and fallback; the
			// chain portion of a degraded response is simply empty.
			resp, err := stack.Orchestrator.Fetch(cmd.Context(), symbol)
			if err != nil {
				return err
			}

			logger.Debug("quote fetched", zap.String("source", resp.Source))

			price := resp.OptionChain.Result[0].Quote.RegularMarketPrice
			fmt.Printf("%s\t%.4f\t(%s)\n", symbol, price, resp.Source)
			return nil
		},
	}

	return cmd
}
