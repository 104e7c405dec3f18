package stripe

import (
	"context"

	"github.com/stripe/stripe-go/v82"
)

// CreateCustomer looks up a Stripe customer by email and creates one if
// none exists, returning the Stripe customer id.
func (g *Gateway) CreateCustomer(ctx context.Context, email string) (string, error) {
	if existing, err := g.findCustomerByEmail(ctx, email); err == nil && existing != nil {
		g.logger.Debugw("reusing existing stripe customer",
			"email", email,
			"stripe_customer_id", existing.ID)
		return existing.ID, nil
	}

	params := &stripe.CustomerCreateParams{
		Email: stripe.String(email),
	}
	customer, err := g.client.V1Customers.Create(ctx, params)
	if err != nil {
		g.logger.Errorw("failed to create stripe customer",
			"error", err,
			"email", email)
		return "", wrapErr(err)
	}

	g.logger.Infow("created stripe customer",
		"email", email,
		"stripe_customer_id", customer.ID)
	return customer.ID, nil
}

func (g *Gateway) findCustomerByEmail(ctx context.Context, email string) (*stripe.Customer, error) {
	params := &stripe.CustomerSearchParams{}
	params.Query = "email:'" + email + "'"
	params.Limit = stripe.Int64(1)

	iter := g.client.V1Customers.Search(ctx, params)
	for customer, err := range iter {
		if err != nil {
			return nil, wrapErr(err)
		}
		return customer, nil
	}
	return nil, nil
}
