package stripe

import (
	"context"
	"time"

	"github.com/stripe/stripe-go/v82"

	"github.com/meterline/meterline/internal/gateway"
	"github.com/meterline/meterline/internal/types"
)

// CreateInvoice creates a draft invoice with one invoice item per line,
// finalizes it and sends it to the customer. Collection is by emailed
// invoice with a hosted payment page, due in dueDays days.
func (g *Gateway) CreateInvoice(ctx context.Context, customerRef string, items []gateway.LineItem, dueDays int) (*gateway.Invoice, error) {
	params := &stripe.InvoiceCreateParams{
		Customer:         stripe.String(customerRef),
		Currency:         stripe.String(g.currency),
		AutoAdvance:      stripe.Bool(false),
		CollectionMethod: stripe.String(string(stripe.InvoiceCollectionMethodSendInvoice)),
		DaysUntilDue:     stripe.Int64(int64(dueDays)),
	}
	inv, err := g.client.V1Invoices.Create(ctx, params)
	if err != nil {
		g.logger.Errorw("failed to create stripe invoice",
			"error", err,
			"customer_ref", customerRef)
		return nil, wrapErr(err)
	}

	for _, item := range items {
		itemParams := &stripe.InvoiceItemCreateParams{
			Customer:    stripe.String(customerRef),
			Invoice:     stripe.String(inv.ID),
			Currency:    stripe.String(g.currency),
			Amount:      stripe.Int64(item.AmountMinorUnits),
			Description: stripe.String(item.Description),
		}
		if _, err := g.client.V1InvoiceItems.Create(ctx, itemParams); err != nil {
			g.logger.Errorw("failed to add stripe invoice item",
				"error", err,
				"stripe_invoice_id", inv.ID,
				"description", item.Description)
			return nil, wrapErr(err)
		}
	}

	finalized, err := g.client.V1Invoices.FinalizeInvoice(ctx, inv.ID, &stripe.InvoiceFinalizeInvoiceParams{
		AutoAdvance: stripe.Bool(false),
	})
	if err != nil {
		g.logger.Errorw("failed to finalize stripe invoice",
			"error", err,
			"stripe_invoice_id", inv.ID)
		return nil, wrapErr(err)
	}

	sent, err := g.client.V1Invoices.SendInvoice(ctx, finalized.ID, &stripe.InvoiceSendInvoiceParams{})
	if err != nil {
		g.logger.Errorw("failed to send stripe invoice",
			"error", err,
			"stripe_invoice_id", finalized.ID)
		return nil, wrapErr(err)
	}

	g.logger.Infow("created stripe invoice",
		"stripe_invoice_id", sent.ID,
		"amount_due", sent.AmountDue,
		"line_items", len(items))

	result := &gateway.Invoice{
		ExternalID:          sent.ID,
		HostedURL:           sent.HostedInvoiceURL,
		AmountDueMinorUnits: sent.AmountDue,
		Status:              mapInvoiceStatus(sent.Status),
	}
	if sent.DueDate > 0 {
		due := time.Unix(sent.DueDate, 0).UTC()
		result.DueDate = &due
	}
	return result, nil
}

// GetInvoiceStatus fetches the invoice's current payment state.
func (g *Gateway) GetInvoiceStatus(ctx context.Context, externalID string) (*gateway.InvoiceStatus, error) {
	inv, err := g.client.V1Invoices.Retrieve(ctx, externalID, nil)
	if err != nil {
		g.logger.Errorw("failed to retrieve stripe invoice",
			"error", err,
			"stripe_invoice_id", externalID)
		return nil, wrapErr(err)
	}

	return &gateway.InvoiceStatus{
		ExternalID:           inv.ID,
		Status:               mapInvoiceStatus(inv.Status),
		AmountPaidMinorUnits: inv.AmountPaid,
		AmountDueMinorUnits:  inv.AmountDue,
	}, nil
}

// CreatePaymentLink returns a hosted URL for a one-time payment.
func (g *Gateway) CreatePaymentLink(ctx context.Context, description string, amountMinorUnits int64) (string, error) {
	price, err := g.client.V1Prices.Create(ctx, &stripe.PriceCreateParams{
		UnitAmount: stripe.Int64(amountMinorUnits),
		Currency:   stripe.String(g.currency),
		ProductData: &stripe.PriceCreateProductDataParams{
			Name: stripe.String(description),
		},
	})
	if err != nil {
		return "", wrapErr(err)
	}

	link, err := g.client.V1PaymentLinks.Create(ctx, &stripe.PaymentLinkCreateParams{
		LineItems: []*stripe.PaymentLinkCreateLineItemParams{
			{
				Price:    stripe.String(price.ID),
				Quantity: stripe.Int64(1),
			},
		},
	})
	if err != nil {
		return "", wrapErr(err)
	}
	return link.URL, nil
}

// mapInvoiceStatus normalizes Stripe's invoice status into the ledger's
// invoice status enum.
func mapInvoiceStatus(status stripe.InvoiceStatus) types.InvoiceStatus {
	switch status {
	case stripe.InvoiceStatusDraft:
		return types.InvoiceStatusDraft
	case stripe.InvoiceStatusOpen:
		return types.InvoiceStatusSent
	case stripe.InvoiceStatusPaid:
		return types.InvoiceStatusPaid
	case stripe.InvoiceStatusUncollectible:
		return types.InvoiceStatusFailed
	case stripe.InvoiceStatusVoid:
		return types.InvoiceStatusVoid
	default:
		return types.InvoiceStatusSent
	}
}
