package main

import (
	"github.com/spf13/cobra"
)

// sweepCmd releases reservations abandoned by a crashed invoice run.
func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Release stale billing reservations",
		Long: `Return events whose reservation outlived the configured staleness
window to the unbilled pool. Run this periodically, or after a crash,
so abandoned reservations do not block future invoices.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(false)
			if err != nil {
				return err
			}
			defer app.Close()

			released, err := app.billing.SweepStaleReservations(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(struct {
				EventsReleased int64 `json:"events_released"`
			}{EventsReleased: released})
		},
	}

	return cmd
}
