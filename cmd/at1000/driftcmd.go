package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newDriftCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drift",
		Short: "Operate on the Drift gateway directly",
	}

	check := &cobra.Command{
		Use:   "check",
		Short: "Verify the delegate signer, collateral and open orders",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			client, err := signedDriftClient(ctx, cfg, log)
			if err != nil {
				return err
			}
			collateral, err := client.Collateral(ctx)
			if err != nil {
				return err
			}
			open, err := client.OpenOrders(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "signer:      %s\n", client.Signer)
			fmt.Fprintf(out, "collateral:  %.2f\n", collateral)
			fmt.Fprintf(out, "open orders: %d\n", len(open))
			for _, o := range open {
				fmt.Fprintf(out, "  uid=%d type=%s amount=%s price=%s filled=%s reduceOnly=%t\n",
					o.UserOrderID, o.OrderType, o.Amount, o.Price, o.Filled, o.ReduceOnly)
			}
			return nil
		},
	}

	cancelAll := &cobra.Command{
		Use:   "cancel-all",
		Short: "Cancel every open order in the configured market",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			client, err := driftClient(cfg)
			if err != nil {
				return err
			}
			ids, err := client.CancelAll(ctx)
			if err != nil {
				return err
			}
			log.Warn().Strs("user_order_ids", ids).Msg("cancelled all orders")
			return nil
		},
	}

	cmd.AddCommand(check, cancelAll)
	return cmd
}
