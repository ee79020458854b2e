package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"optionsproxy/internal/app"
)

func chainCmd() *cobra.Command {
	var pretty bool

	cmd := &cobra.Command{
		Use:   "chain SYMBOL",
		Short: "Fetch the aggregated option chain for a symbol",
		Long: `Fetch the aggregated option chain for a symbol, trying the configured
providers in priority order and printing the canonical JSON response.

Examples:
  # Fetch the AAPL chain
  optionsproxy-fetch chain AAPL

  # Pretty-print the output
  optionsproxy-fetch chain --pretty SPY`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			symbol := args[0]
			stack := app.BuildStack(cfg, logger)
			if len(stack.Providers) == 0 {
				return fmt.Errorf("no providers enabled")
			}

			resp, err := stack.Orchestrator.Fetch(cmd.Context(), symbol)
			if err != nil {
				return err
			}

			logger.Debug("chain fetched",
				zap.String("symbol", symbol),
				zap.String("source", resp.Source),
			)

			enc := json.NewEncoder(os.Stdout)
			if pretty {
				enc.SetIndent("", "  ")
			}
			return enc.Encode(resp)
		},
	}

	cmd.Flags().BoolVar(&pretty, "pretty", false, "indent the JSON output")
	return cmd
}
