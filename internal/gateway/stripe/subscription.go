package stripe

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v82"

	"github.com/meterline/meterline/internal/gateway"
	"github.com/meterline/meterline/internal/types"
)

// CreateSubscription sets up recurring billing at a fixed amount per
// interval: an ad-hoc recurring price, then a subscription left in
// default_incomplete so the customer completes the first payment.
func (g *Gateway) CreateSubscription(ctx context.Context, customerRef string, amountMinorUnits int64, interval types.PaymentInterval) (*gateway.Subscription, error) {
	price, err := g.client.V1Prices.Create(ctx, &stripe.PriceCreateParams{
		UnitAmount: stripe.Int64(amountMinorUnits),
		Currency:   stripe.String(g.currency),
		Recurring: &stripe.PriceCreateRecurringParams{
			Interval: stripe.String(string(interval)),
		},
		ProductData: &stripe.PriceCreateProductDataParams{
			Name: stripe.String(fmt.Sprintf("Metered service - %d/%s", amountMinorUnits, interval)),
		},
	})
	if err != nil {
		g.logger.Errorw("failed to create stripe recurring price",
			"error", err,
			"customer_ref", customerRef)
		return nil, wrapErr(err)
	}

	params := &stripe.SubscriptionCreateParams{
		Customer: stripe.String(customerRef),
		Items: []*stripe.SubscriptionCreateItemParams{
			{Price: stripe.String(price.ID)},
		},
		PaymentBehavior: stripe.String("default_incomplete"),
		PaymentSettings: &stripe.SubscriptionCreatePaymentSettingsParams{
			SaveDefaultPaymentMethod: stripe.String("on_subscription"),
		},
		Expand: []*string{stripe.String("latest_invoice.confirmation_secret")},
	}
	sub, err := g.client.V1Subscriptions.Create(ctx, params)
	if err != nil {
		g.logger.Errorw("failed to create stripe subscription",
			"error", err,
			"customer_ref", customerRef)
		return nil, wrapErr(err)
	}

	result := &gateway.Subscription{
		SubscriptionID: sub.ID,
		Status:         string(sub.Status),
	}
	if sub.LatestInvoice != nil && sub.LatestInvoice.ConfirmationSecret != nil {
		result.ClientSecret = sub.LatestInvoice.ConfirmationSecret.ClientSecret
	}

	g.logger.Infow("created stripe subscription",
		"customer_ref", customerRef,
		"subscription_id", sub.ID,
		"status", sub.Status)
	return result, nil
}
