package main

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"github.com/bud42069/AT-1000/internal/risk"
)

func newLiqPriceCmd() *cobra.Command {
	var qty, entry, collateral, mark, mmr float64
	cmd := &cobra.Command{
		Use:   "liqprice",
		Short: "Estimate the liquidation price of a perp position",
		Example: `  at1000 liqprice --qty 10 --entry 150 --collateral 300
  at1000 liqprice --qty -4 --entry 150 --collateral 120 --mark 148`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if entry <= 0 {
				return errors.New("--entry must be positive")
			}
			if mark <= 0 {
				mark = entry
			}
			est := risk.Liquidation(qty, entry, collateral, mark, mmr)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(est)
		},
	}
	f := cmd.Flags()
	f.Float64Var(&qty, "qty", 0, "signed position size, negative for shorts")
	f.Float64Var(&entry, "entry", 0, "average entry price")
	f.Float64Var(&collateral, "collateral", 0, "collateral in quote currency")
	f.Float64Var(&mark, "mark", 0, "mark price (defaults to entry)")
	f.Float64Var(&mmr, "mmr", risk.DefaultMaintenanceMargin, "maintenance margin ratio")
	return cmd
}
