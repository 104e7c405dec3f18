package event

import (
	"context"
	"time"
)

// Repository defines the interface for usage event persistence.
//
// Reserve, Commit and Release implement the concurrency control boundary
// for invoice generation: Reserve atomically claims a set of unbilled
// events for one token, Commit transitions a claim to billed, and Release
// returns a claim to unbilled. All three must be atomic with respect to
// concurrent calls over overlapping event sets.
type Repository interface {
	// Insert durably records an event, assigning ID and CreatedAt.
	// The write is committed before Insert returns.
	Insert(ctx context.Context, ev *UsageEvent) error

	// Get retrieves a single event by ID.
	Get(ctx context.Context, id int64) (*UsageEvent, error)

	// ListUnbilled returns the customer's events that are not yet billed
	// (unbilled or reserved both count as not billed for readers), ordered
	// by (created_at, id). If since is non-nil, only events created at or
	// after it are returned. The result is a fresh slice on every call and
	// is safe to re-enumerate.
	ListUnbilled(ctx context.Context, customerID string, since *time.Time) ([]*UsageEvent, error)

	// Reserve atomically claims the given events for token. It fails with
	// ErrConflict unless every id is currently unbilled.
	Reserve(ctx context.Context, ids []int64, token string, now time.Time) error

	// Commit transitions the token's reserved events to billed and
	// associates invoiceRef. Calling it again with the same token is a
	// no-op, not an error.
	Commit(ctx context.Context, token string, invoiceRef string) error

	// Release returns the token's reserved events to unbilled. Releasing
	// a token with no live reservation is a no-op.
	Release(ctx context.Context, token string) error

	// ReleaseStale releases every reservation taken before cutoff and
	// returns how many events it touched. Used by the crash-recovery
	// sweep: a reservation that old means an orchestrator died mid-billing.
	ReleaseStale(ctx context.Context, cutoff time.Time) (int64, error)
}
