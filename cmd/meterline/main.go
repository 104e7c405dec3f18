// Package main implements the meterline CLI: a usage metering ledger
// with invoice generation through a payment gateway.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/meterline/meterline/internal/config"
	"github.com/meterline/meterline/internal/domain/invoice"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/gateway"
	stripegw "github.com/meterline/meterline/internal/gateway/stripe"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/repository/sqlite"
	"github.com/meterline/meterline/internal/service"
	"github.com/meterline/meterline/internal/validator"
)

var version = "0.3.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "meterline",
		Short: "Usage metering ledger and billing orchestrator",
		Long: `meterline records billable usage events in a local ledger and turns
the accumulated backlog into invoices at the payment gateway, billing
every event exactly once.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(recordCmd())
	rootCmd.AddCommand(unbilledCmd())
	rootCmd.AddCommand(invoiceCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(subscribeCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(ierr.ExitCodeFromErr(err))
	}
}

// app wires the pieces every command needs: config, logger, the ledger
// store and the services on top of it.
type app struct {
	cfg         *config.Configuration
	log         *logger.Logger
	client      *sqlite.Client
	invoiceRepo invoice.Repository
	metering    service.MeteringService
	billing     service.BillingService
}

// newApp builds the application. withGateway selects a live gateway
// client; ledger-only commands pass false so they run without gateway
// credentials.
func newApp(withGateway bool) (*app, error) {
	validator.NewValidator()

	cfg, err := config.NewConfig()
	if err != nil {
		return nil, err
	}
	log, err := logger.NewLogger(cfg)
	if err != nil {
		return nil, err
	}
	client, err := sqlite.NewClient(cfg, log)
	if err != nil {
		return nil, err
	}

	var gw gateway.Gateway
	if withGateway {
		gw, err = stripegw.NewGateway(cfg, log)
		if err != nil {
			client.Close()
			return nil, err
		}
	}

	params := service.ServiceParams{
		Logger:      log,
		Config:      cfg,
		EventRepo:   sqlite.NewEventRepository(client, log),
		InvoiceRepo: sqlite.NewInvoiceRepository(client, log),
		Gateway:     gw,
	}
	return &app{
		cfg:         cfg,
		log:         log,
		client:      client,
		invoiceRepo: params.InvoiceRepo,
		metering:    service.NewMeteringService(params),
		billing:     service.NewBillingService(params),
	}, nil
}

func (a *app) Close() {
	if err := a.client.Close(); err != nil {
		a.log.Errorw("failed to close ledger database", "error", err)
	}
	_ = a.log.Sync()
}

// printJSON writes the command result to stdout as indented JSON.
func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
