package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/service"
)

func invoiceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoice",
		Short: "Generate and track invoices",
	}

	cmd.AddCommand(invoiceGenerateCmd())
	cmd.AddCommand(invoiceReconcileCmd())
	cmd.AddCommand(invoiceListCmd())

	return cmd
}

// invoiceGenerateCmd bills a customer's unbilled usage for a period.
func invoiceGenerateCmd() *cobra.Command {
	var customerID string
	var email string
	var from string
	var to string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate an invoice for a customer's unbilled usage",
		Long: `Aggregate the customer's unbilled usage inside the period into an
invoice at the payment gateway and mark the events billed. The period
defaults to the current calendar month. Retrying the same period is
safe: it returns the existing invoice instead of billing again.

Exit codes: 0 on success and when there is nothing to bill, 5 on a
reservation conflict (retry), 6 on a gateway failure (retry).

Examples:
  meterline invoice generate --customer cust-1 --email billing@cust1.example
  meterline invoice generate --customer cust-1 --email billing@cust1.example \
    --from 2026-07-01T00:00:00Z --to 2026-08-01T00:00:00Z`,
		RunE: func(cmd *cobra.Command, args []string) error {
			periodStart, periodEnd, err := resolvePeriod(from, to)
			if err != nil {
				return err
			}

			app, err := newApp(true)
			if err != nil {
				return err
			}
			defer app.Close()

			inv, err := app.billing.GenerateInvoice(cmd.Context(), service.GenerateInvoiceRequest{
				CustomerID:    customerID,
				CustomerEmail: email,
				PeriodStart:   periodStart,
				PeriodEnd:     periodEnd,
			})
			if ierr.IsNoUsage(err) {
				fmt.Printf("nothing to bill for %s in this period\n", customerID)
				return nil
			}
			if err != nil {
				return err
			}
			return printJSON(inv)
		},
	}

	cmd.Flags().StringVarP(&customerID, "customer", "c", "", "Customer ID (required)")
	cmd.Flags().StringVarP(&email, "email", "e", "", "Customer billing email (required)")
	cmd.Flags().StringVar(&from, "from", "", "Period start, RFC3339 (default: start of current month)")
	cmd.Flags().StringVar(&to, "to", "", "Period end, RFC3339 (default: now)")
	_ = cmd.MarkFlagRequired("customer")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

// invoiceReconcileCmd refreshes an invoice's payment status from the gateway.
func invoiceReconcileCmd() *cobra.Command {
	var invoiceID string

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile an invoice's payment status with the gateway",
		Long: `Fetch the invoice's current status from the payment gateway and update
the local record. Paid and void invoices are terminal and never change
again.

Examples:
  meterline invoice reconcile --id inv_01HV...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(true)
			if err != nil {
				return err
			}
			defer app.Close()

			inv, err := app.billing.ReconcilePaymentStatus(cmd.Context(), invoiceID)
			if err != nil {
				return err
			}
			return printJSON(inv)
		},
	}

	cmd.Flags().StringVar(&invoiceID, "id", "", "Invoice ID (required)")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}

// invoiceListCmd lists a customer's invoices, newest first.
func invoiceListCmd() *cobra.Command {
	var customerID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a customer's invoices",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(false)
			if err != nil {
				return err
			}
			defer app.Close()

			invoices, err := app.invoiceRepo.List(cmd.Context(), customerID)
			if err != nil {
				return err
			}
			return printJSON(invoices)
		},
	}

	cmd.Flags().StringVarP(&customerID, "customer", "c", "", "Customer ID (required)")
	_ = cmd.MarkFlagRequired("customer")

	return cmd
}

// resolvePeriod parses the period flags, defaulting to the current
// calendar month up to now.
func resolvePeriod(from, to string) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	periodStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	periodEnd := now

	if from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		periodStart = t.UTC()
	}
	if to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		periodEnd = t.UTC()
	}
	return periodStart, periodEnd, nil
}
