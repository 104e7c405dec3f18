package main

import (
	"github.com/spf13/cobra"

	"github.com/meterline/meterline/internal/service"
	"github.com/meterline/meterline/internal/types"
)

// subscribeCmd sets up fixed-amount recurring billing at the gateway.
func subscribeCmd() *cobra.Command {
	var email string
	var amount int64
	var interval string

	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Set up recurring billing for a customer",
		Long: `Create a fixed-amount subscription at the payment gateway. The amount
is in minor currency units (cents).

Examples:
  meterline subscribe --email billing@cust1.example --amount 4900 --interval month`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(true)
			if err != nil {
				return err
			}
			defer app.Close()

			sub, err := app.billing.SetupRecurringBilling(cmd.Context(), service.RecurringBillingRequest{
				CustomerEmail:    email,
				AmountMinorUnits: amount,
				Interval:         types.PaymentInterval(interval),
			})
			if err != nil {
				return err
			}
			return printJSON(sub)
		},
	}

	cmd.Flags().StringVarP(&email, "email", "e", "", "Customer billing email (required)")
	cmd.Flags().Int64VarP(&amount, "amount", "a", 0, "Amount per interval in minor currency units (required)")
	cmd.Flags().StringVarP(&interval, "interval", "i", "month", "Billing interval: month or year")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}
