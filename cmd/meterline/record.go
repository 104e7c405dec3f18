package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/meterline/meterline/internal/service"
	"github.com/meterline/meterline/internal/types"
)

// recordCmd records one usage event in the ledger.
func recordCmd() *cobra.Command {
	var customerID string
	var serviceName string
	var quantity float64
	var unit string
	var unitPrice float64
	var meta []string

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a billable usage event",
		Long: `Record one usage event against a customer. The event is durable once
the command returns and stays unbilled until an invoice claims it.

Examples:
  meterline record --customer cust-1 --service api_calls --quantity 1000 --unit call --price 0.01
  meterline record --customer cust-1 --service storage --quantity 2.5 --unit GB --price 5.00 --meta region=eu-west-1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			metadata, err := parseMetadata(meta)
			if err != nil {
				return err
			}

			app, err := newApp(false)
			if err != nil {
				return err
			}
			defer app.Close()

			ev, err := app.metering.RecordUsage(cmd.Context(), service.RecordUsageRequest{
				CustomerID: customerID,
				Service:    serviceName,
				Quantity:   quantity,
				Unit:       unit,
				UnitPrice:  unitPrice,
				Metadata:   metadata,
			})
			if err != nil {
				return err
			}
			return printJSON(ev)
		},
	}

	cmd.Flags().StringVarP(&customerID, "customer", "c", "", "Customer ID (required)")
	cmd.Flags().StringVarP(&serviceName, "service", "s", "", "Service the usage belongs to (required)")
	cmd.Flags().Float64VarP(&quantity, "quantity", "q", 0, "Consumed quantity (required)")
	cmd.Flags().StringVarP(&unit, "unit", "u", "", "Unit of measure, e.g. call, GB (required)")
	cmd.Flags().Float64VarP(&unitPrice, "price", "p", 0, "Price per unit in major currency units (required)")
	cmd.Flags().StringArrayVarP(&meta, "meta", "m", nil, "Metadata as key=value, repeatable")
	_ = cmd.MarkFlagRequired("customer")
	_ = cmd.MarkFlagRequired("service")
	_ = cmd.MarkFlagRequired("quantity")
	_ = cmd.MarkFlagRequired("unit")
	_ = cmd.MarkFlagRequired("price")

	return cmd
}

func parseMetadata(pairs []string) (types.Metadata, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	metadata := make(types.Metadata, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid metadata %q, expected key=value", pair)
		}
		metadata[key] = value
	}
	return metadata, nil
}
