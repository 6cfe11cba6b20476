package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jogardn/agrimarket/pkg/client"
	"github.com/jogardn/agrimarket/pkg/models"
	"github.com/spf13/cobra"
)

func ordersCommand() *cobra.Command {
	var (
		apiURL string
		token  string
	)
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Inspect and advance orders through a running API",
	}
	cmd.PersistentFlags().StringVar(&apiURL, "api", "http://localhost:8080", "API base URL")
	cmd.PersistentFlags().StringVar(&token, "token", os.Getenv("AGRIMARKET_TOKEN"), "bearer token")

	newClient := func() *client.Client {
		return client.New(apiURL, newLogger("warn"), client.WithToken(token))
	}

	var buyer string
	list := &cobra.Command{
		Use:   "list",
		Short: "List orders, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			found, err := newClient().ListOrders(ctx, buyer)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tBUYER\tSTATUS\tTOTAL\tITEMS\tCREATED")
			for _, o := range found {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
					o.ID, o.BuyerID, o.Status, o.Total.StringFixed(2), len(o.Items), o.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
	list.Flags().StringVar(&buyer, "buyer", "", "only this buyer's orders")

	status := &cobra.Command{
		Use:   "status [order-id] [status]",
		Short: "Move an order to a new status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			change, err := newClient().UpdateStatus(ctx, args[0], models.OrderStatus(args[1]))
			if err != nil {
				return err
			}
			if !change.Changed {
				fmt.Fprintf(cmd.OutOrStdout(), "order %s already %s\n", change.OrderID, change.Status)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "order %s: %s -> %s\n", change.OrderID, change.Previous, change.Status)
			return nil
		},
	}

	cmd.AddCommand(list, status)
	return cmd
}
