package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/meterline/meterline/internal/domain/event"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/types"
)

type eventRepository struct {
	client *Client
	logger *logger.Logger
}

// NewEventRepository returns the sqlite-backed event.Repository.
func NewEventRepository(client *Client, log *logger.Logger) event.Repository {
	return &eventRepository{client: client, logger: log}
}

// eventRow is the persisted shape of a usage event. Decimals are stored
// as text to keep them exact.
type eventRow struct {
	ID            int64          `db:"id"`
	CustomerID    string         `db:"customer_id"`
	Service       string         `db:"service"`
	Quantity      string         `db:"quantity"`
	Unit          string         `db:"unit"`
	UnitPrice     string         `db:"unit_price"`
	Metadata      sql.NullString `db:"metadata"`
	CreatedAt     time.Time      `db:"created_at"`
	BillingState  string         `db:"billing_state"`
	ReservationID sql.NullString `db:"reservation_id"`
	ReservedAt    sql.NullTime   `db:"reserved_at"`
	InvoiceRef    sql.NullString `db:"invoice_ref"`
}

func (r *eventRow) toDomain() (*event.UsageEvent, error) {
	quantity, err := decimal.NewFromString(r.Quantity)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Stored quantity is not a valid decimal").
			Mark(ierr.ErrDatabase)
	}
	unitPrice, err := decimal.NewFromString(r.UnitPrice)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Stored unit price is not a valid decimal").
			Mark(ierr.ErrDatabase)
	}

	ev := &event.UsageEvent{
		ID:           r.ID,
		CustomerID:   r.CustomerID,
		Service:      r.Service,
		Quantity:     quantity,
		Unit:         r.Unit,
		UnitPrice:    unitPrice,
		CreatedAt:    r.CreatedAt.UTC(),
		BillingState: types.BillingState(r.BillingState),
	}
	if r.Metadata.Valid && r.Metadata.String != "" {
		if err := json.Unmarshal([]byte(r.Metadata.String), &ev.Metadata); err != nil {
			return nil, ierr.WithError(err).
				WithHint("Stored event metadata is not valid JSON").
				Mark(ierr.ErrDatabase)
		}
	}
	if r.ReservationID.Valid {
		ev.ReservationID = &r.ReservationID.String
	}
	if r.ReservedAt.Valid {
		t := r.ReservedAt.Time.UTC()
		ev.ReservedAt = &t
	}
	if r.InvoiceRef.Valid {
		ev.InvoiceRef = &r.InvoiceRef.String
	}
	return ev, nil
}

func (r *eventRepository) Insert(ctx context.Context, ev *event.UsageEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	var metadata sql.NullString
	if len(ev.Metadata) > 0 {
		raw, err := json.Marshal(ev.Metadata)
		if err != nil {
			return ierr.WithError(err).
				WithHint("Event metadata is not serializable").
				Mark(ierr.ErrValidation)
		}
		metadata = sql.NullString{String: string(raw), Valid: true}
	}

	createdAt := time.Now().UTC()
	res, err := r.client.DB().ExecContext(ctx, `
		INSERT INTO usage_events
			(customer_id, service, quantity, unit, unit_price, metadata, created_at, billing_state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.CustomerID, ev.Service, ev.Quantity.String(), ev.Unit,
		ev.UnitPrice.String(), metadata, createdAt, string(types.BillingStateUnbilled),
	)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to record usage event").
			Mark(ierr.ErrDatabase)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to read assigned event id").
			Mark(ierr.ErrDatabase)
	}

	ev.ID = id
	ev.CreatedAt = createdAt
	ev.BillingState = types.BillingStateUnbilled
	return nil
}

func (r *eventRepository) Get(ctx context.Context, id int64) (*event.UsageEvent, error) {
	var row eventRow
	err := r.client.DB().GetContext(ctx, &row,
		`SELECT * FROM usage_events WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, ierr.NewError("usage event not found").
			WithHintf("No usage event with id %d", id).
			Mark(ierr.ErrNotFound)
	}
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to load usage event").
			Mark(ierr.ErrDatabase)
	}
	return row.toDomain()
}

// ListUnbilled returns every event not yet committed as billed. Reserved
// events are included: to external readers a reservation still counts as
// unbilled, it is only exclusive against other reservations.
func (r *eventRepository) ListUnbilled(ctx context.Context, customerID string, since *time.Time) ([]*event.UsageEvent, error) {
	query := `
		SELECT * FROM usage_events
		WHERE customer_id = ? AND billing_state != ?`
	args := []any{customerID, string(types.BillingStateBilled)}
	if since != nil {
		query += ` AND created_at >= ?`
		args = append(args, since.UTC())
	}
	query += ` ORDER BY created_at, id`

	var rows []eventRow
	if err := r.client.DB().SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list unbilled usage events").
			Mark(ierr.ErrDatabase)
	}

	events := make([]*event.UsageEvent, 0, len(rows))
	for i := range rows {
		ev, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// Reserve is a single transactional test-and-set over the billing state
// column: the claim succeeds only if every requested event is still
// unbilled, so two concurrent invoice generations can never double-claim
// an event.
func (r *eventRepository) Reserve(ctx context.Context, ids []int64, token string, now time.Time) error {
	if len(ids) == 0 {
		return ierr.NewError("no event ids to reserve").
			WithHint("Reservation requires at least one event").
			Mark(ierr.ErrValidation)
	}

	tx, err := r.client.DB().BeginTxx(ctx, nil)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to begin reservation transaction").
			Mark(ierr.ErrDatabase)
	}
	defer tx.Rollback()

	query, args, err := sqlx.In(`
		UPDATE usage_events
		SET billing_state = ?, reservation_id = ?, reserved_at = ?
		WHERE id IN (?) AND billing_state = ?`,
		string(types.BillingStateReserved), token, now.UTC(), ids,
		string(types.BillingStateUnbilled),
	)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to build reservation query").
			Mark(ierr.ErrDatabase)
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to reserve usage events").
			Mark(ierr.ErrDatabase)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to verify reservation").
			Mark(ierr.ErrDatabase)
	}
	if affected != int64(len(ids)) {
		// some event was already reserved or billed; roll everything back
		return ierr.NewError("events already reserved or billed").
			WithHint("Another invoice generation claimed part of this event set, retry with a fresh read").
			WithReportableDetails(map[string]any{
				"requested": len(ids),
				"claimed":   affected,
			}).
			Mark(ierr.ErrConflict)
	}

	if err := tx.Commit(); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to commit reservation").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

// Commit transitions the token's reserved events to billed. Billed rows
// keep their reservation id, which is what makes a second Commit with the
// same token recognizable as a no-op.
func (r *eventRepository) Commit(ctx context.Context, token string, invoiceRef string) error {
	tx, err := r.client.DB().BeginTxx(ctx, nil)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to begin commit transaction").
			Mark(ierr.ErrDatabase)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE usage_events
		SET billing_state = ?, invoice_ref = ?, reserved_at = NULL
		WHERE reservation_id = ? AND billing_state = ?`,
		string(types.BillingStateBilled), invoiceRef, token,
		string(types.BillingStateReserved),
	)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to commit billing state").
			Mark(ierr.ErrDatabase)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to verify billing commit").
			Mark(ierr.ErrDatabase)
	}
	if affected == 0 {
		var billed int64
		err := tx.GetContext(ctx, &billed, `
			SELECT COUNT(*) FROM usage_events
			WHERE reservation_id = ? AND billing_state = ?`,
			token, string(types.BillingStateBilled))
		if err != nil {
			return ierr.WithError(err).
				WithHint("Failed to check for a prior commit").
				Mark(ierr.ErrDatabase)
		}
		if billed == 0 {
			return ierr.NewError("no reservation for token").
				WithHint("The reservation was released or never taken").
				Mark(ierr.ErrNotFound)
		}
		// already committed with this token; idempotent no-op
		return nil
	}

	if err := tx.Commit(); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to commit billing transaction").
			Mark(ierr.ErrDatabase)
	}

	r.logger.Infow("committed billing reservation",
		"reservation_id", token,
		"invoice_ref", invoiceRef,
		"events", affected)
	return nil
}

func (r *eventRepository) Release(ctx context.Context, token string) error {
	_, err := r.client.DB().ExecContext(ctx, `
		UPDATE usage_events
		SET billing_state = ?, reservation_id = NULL, reserved_at = NULL
		WHERE reservation_id = ? AND billing_state = ?`,
		string(types.BillingStateUnbilled), token,
		string(types.BillingStateReserved),
	)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to release reservation").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *eventRepository) ReleaseStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.client.DB().ExecContext(ctx, `
		UPDATE usage_events
		SET billing_state = ?, reservation_id = NULL, reserved_at = NULL
		WHERE billing_state = ? AND reserved_at < ?`,
		string(types.BillingStateUnbilled),
		string(types.BillingStateReserved), cutoff.UTC(),
	)
	if err != nil {
		return 0, ierr.WithError(err).
			WithHint("Failed to sweep stale reservations").
			Mark(ierr.ErrDatabase)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, ierr.WithError(err).
			WithHint("Failed to count swept reservations").
			Mark(ierr.ErrDatabase)
	}
	if affected > 0 {
		r.logger.Warnw("released stale reservations",
			"events", affected,
			"cutoff", cutoff)
	}
	return affected, nil
}
