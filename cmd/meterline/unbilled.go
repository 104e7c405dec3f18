package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/meterline/meterline/internal/domain/event"
)

// unbilledCmd lists the unbilled backlog for a customer.
func unbilledCmd() *cobra.Command {
	var customerID string
	var since string

	cmd := &cobra.Command{
		Use:   "unbilled",
		Short: "List a customer's unbilled usage",
		Long: `List every event not yet committed to an invoice, in recording order,
together with the running total. Events reserved by an in-flight
invoice generation still count as unbilled.

Examples:
  meterline unbilled --customer cust-1
  meterline unbilled --customer cust-1 --since 2026-08-01T00:00:00Z`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var sinceAt *time.Time
			if since != "" {
				t, err := time.Parse(time.RFC3339, since)
				if err != nil {
					return err
				}
				sinceAt = &t
			}

			app, err := newApp(false)
			if err != nil {
				return err
			}
			defer app.Close()

			events, err := app.metering.UnbilledEvents(cmd.Context(), customerID, sinceAt)
			if err != nil {
				return err
			}
			total, err := app.metering.UnbilledTotal(cmd.Context(), customerID, sinceAt)
			if err != nil {
				return err
			}

			return printJSON(struct {
				Events []*event.UsageEvent `json:"events"`
				Total  string              `json:"total"`
			}{Events: events, Total: total.String()})
		},
	}

	cmd.Flags().StringVarP(&customerID, "customer", "c", "", "Customer ID (required)")
	cmd.Flags().StringVar(&since, "since", "", "Only events recorded at or after this RFC3339 time")
	_ = cmd.MarkFlagRequired("customer")

	return cmd
}
