package types

// BillingState tracks the lifecycle of a usage event with respect to invoicing.
// The only legal transitions are unbilled -> reserved -> billed and
// reserved -> unbilled (release). A billed event is never mutated again;
// corrections are modeled as new compensating events.
type BillingState string

const (
	// BillingStateUnbilled is the initial state of every recorded event.
	BillingStateUnbilled BillingState = "unbilled"
	// BillingStateReserved marks an event claimed by an in-flight invoice
	// generation. Externally it still counts as not-yet-billed, but it is
	// exclusive to one reservation token.
	BillingStateReserved BillingState = "reserved"
	// BillingStateBilled marks an event committed to an invoice.
	BillingStateBilled BillingState = "billed"
)

func (s BillingState) String() string {
	return string(s)
}

func (s BillingState) Validate() bool {
	switch s {
	case BillingStateUnbilled, BillingStateReserved, BillingStateBilled:
		return true
	}
	return false
}

// PaymentInterval is the recurrence interval for subscription billing.
type PaymentInterval string

const (
	PaymentIntervalMonth PaymentInterval = "month"
	PaymentIntervalYear  PaymentInterval = "year"
)

func (i PaymentInterval) Validate() bool {
	return i == PaymentIntervalMonth || i == PaymentIntervalYear
}
