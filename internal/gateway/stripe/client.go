package stripe

import (
	"github.com/stripe/stripe-go/v82"

	"github.com/meterline/meterline/internal/config"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/gateway"
	"github.com/meterline/meterline/internal/logger"
)

// Gateway implements gateway.Gateway on the Stripe API. The client is
// built from explicit configuration at construction; the secret key never
// lives in package-level state.
type Gateway struct {
	client   *stripe.Client
	currency string
	logger   *logger.Logger
}

// NewGateway creates a Stripe-backed payment gateway.
func NewGateway(cfg *config.Configuration, log *logger.Logger) (*Gateway, error) {
	if cfg.Stripe.SecretKey == "" {
		return nil, ierr.NewError("stripe secret key not configured").
			WithHint("Set stripe.secretkey or METERLINE_STRIPE_SECRETKEY").
			Mark(ierr.ErrValidation)
	}

	return &Gateway{
		client:   stripe.NewClient(cfg.Stripe.SecretKey, nil),
		currency: cfg.Billing.Currency,
		logger:   log,
	}, nil
}

// permanentCodes are Stripe error codes that retrying cannot fix.
var permanentCodes = map[stripe.ErrorCode]bool{
	stripe.ErrorCodeEmailInvalid:          true,
	stripe.ErrorCodeParameterInvalidEmpty: true,
	stripe.ErrorCodeParameterMissing:      true,
	stripe.ErrorCodeParameterUnknown:      true,
	stripe.ErrorCodeResourceMissing:       true,
}

// wrapErr converts a Stripe failure into a gateway error, preserving the
// provider code and classifying permanence.
func wrapErr(err error) error {
	if stripeErr, ok := err.(*stripe.Error); ok {
		return gateway.NewError(string(stripeErr.Code), stripeErr.Msg, permanentCodes[stripeErr.Code])
	}
	return gateway.NewError("unknown", err.Error(), false)
}
