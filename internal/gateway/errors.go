package gateway

import (
	"fmt"

	ierr "github.com/meterline/meterline/internal/errors"
)

// Error carries the provider's error code alongside whether the failure
// is a permanent rejection (bad input that no retry will fix) or a
// transient one.
type Error struct {
	Code      string
	Message   string
	Permanent bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway error %s: %s", e.Code, e.Message)
}

// NewError wraps a provider failure as an ErrGateway-marked error with
// the structured Error retrievable through errors.As.
func NewError(code, message string, permanent bool) error {
	return ierr.WithError(&Error{Code: code, Message: message, Permanent: permanent}).
		WithHintf("Payment gateway rejected the request (%s)", code).
		Mark(ierr.ErrGateway)
}

// IsPermanent reports whether err is a gateway rejection that retrying
// cannot fix. Anything else, including non-gateway errors, is treated as
// retryable by callers that ask.
func IsPermanent(err error) bool {
	var gerr *Error
	if ierr.As(err, &gerr) {
		return gerr.Permanent
	}
	return false
}
