package main

import (
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/meterline/meterline/internal/service"
)

// projectCmd runs a pricing viability projection. Pure computation, no
// ledger or gateway access.
func projectCmd() *cobra.Command {
	var volume string
	var unitCost string
	var unitPrice string
	var threshold string

	cmd := &cobra.Command{
		Use:   "project",
		Short: "Project margin for a volume and price point",
		Long: `Project cost, revenue and margin for an expected usage volume at a
given per-unit cost and price, and check the margin against a minimum
threshold.

Examples:
  meterline project --volume 50000 --unit-cost 0.002 --unit-price 0.005 --threshold 50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := decimal.NewFromString(volume)
			if err != nil {
				return err
			}
			cost, err := decimal.NewFromString(unitCost)
			if err != nil {
				return err
			}
			price, err := decimal.NewFromString(unitPrice)
			if err != nil {
				return err
			}
			margin, err := decimal.NewFromString(threshold)
			if err != nil {
				return err
			}

			return printJSON(service.ProjectMargin(v, cost, price, margin))
		},
	}

	cmd.Flags().StringVar(&volume, "volume", "", "Expected unit volume (required)")
	cmd.Flags().StringVar(&unitCost, "unit-cost", "", "Cost per unit (required)")
	cmd.Flags().StringVar(&unitPrice, "unit-price", "", "Price per unit (required)")
	cmd.Flags().StringVar(&threshold, "threshold", "0", "Minimum viable margin percent")
	_ = cmd.MarkFlagRequired("volume")
	_ = cmd.MarkFlagRequired("unit-cost")
	_ = cmd.MarkFlagRequired("unit-price")

	return cmd
}
