package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meterline/meterline/internal/domain/invoice"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/types"
)

type invoiceRepository struct {
	client *Client
	logger *logger.Logger
}

// NewInvoiceRepository returns the sqlite-backed invoice.Repository.
func NewInvoiceRepository(client *Client, log *logger.Logger) invoice.Repository {
	return &invoiceRepository{client: client, logger: log}
}

type invoiceRow struct {
	ID               string         `db:"id"`
	CustomerID       string         `db:"customer_id"`
	PeriodStart      time.Time      `db:"period_start"`
	PeriodEnd        time.Time      `db:"period_end"`
	ExternalRef      sql.NullString `db:"external_ref"`
	HostedURL        sql.NullString `db:"hosted_url"`
	Currency         string         `db:"currency"`
	AmountMinorUnits int64          `db:"amount_minor_units"`
	Status           string         `db:"status"`
	IdempotencyKey   sql.NullString `db:"idempotency_key"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
	PaidAt           sql.NullTime   `db:"paid_at"`
}

type lineItemRow struct {
	InvoiceID        string `db:"invoice_id"`
	Position         int    `db:"position"`
	Service          string `db:"service"`
	Quantity         string `db:"quantity"`
	Unit             string `db:"unit"`
	UnitPrice        string `db:"unit_price"`
	AmountMinorUnits int64  `db:"amount_minor_units"`
}

func (r *invoiceRow) toDomain() *invoice.Invoice {
	inv := &invoice.Invoice{
		ID:               r.ID,
		CustomerID:       r.CustomerID,
		PeriodStart:      r.PeriodStart.UTC(),
		PeriodEnd:        r.PeriodEnd.UTC(),
		Currency:         r.Currency,
		AmountMinorUnits: r.AmountMinorUnits,
		Status:           types.InvoiceStatus(r.Status),
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
	}
	if r.ExternalRef.Valid {
		inv.ExternalRef = &r.ExternalRef.String
	}
	if r.HostedURL.Valid {
		inv.HostedURL = &r.HostedURL.String
	}
	if r.IdempotencyKey.Valid {
		inv.IdempotencyKey = &r.IdempotencyKey.String
	}
	if r.PaidAt.Valid {
		t := r.PaidAt.Time.UTC()
		inv.PaidAt = &t
	}
	return inv
}

func (r *lineItemRow) toDomain() (*invoice.LineItem, error) {
	quantity, err := decimal.NewFromString(r.Quantity)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Stored line item quantity is not a valid decimal").
			Mark(ierr.ErrDatabase)
	}
	unitPrice, err := decimal.NewFromString(r.UnitPrice)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Stored line item unit price is not a valid decimal").
			Mark(ierr.ErrDatabase)
	}
	return &invoice.LineItem{
		InvoiceID:        r.InvoiceID,
		Position:         r.Position,
		Service:          r.Service,
		Quantity:         quantity,
		Unit:             r.Unit,
		UnitPrice:        unitPrice,
		AmountMinorUnits: r.AmountMinorUnits,
	}, nil
}

func (r *invoiceRepository) Create(ctx context.Context, inv *invoice.Invoice) error {
	if err := inv.Validate(); err != nil {
		return err
	}
	if inv.ID == "" {
		inv.ID = types.GenerateUUIDWithPrefix(types.UUID_PREFIX_INVOICE)
	}

	now := time.Now().UTC()
	inv.CreatedAt = now
	inv.UpdatedAt = now

	tx, err := r.client.DB().BeginTxx(ctx, nil)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to begin invoice transaction").
			Mark(ierr.ErrDatabase)
	}
	defer tx.Rollback()

	var externalRef, hostedURL, idempotencyKey sql.NullString
	if inv.ExternalRef != nil {
		externalRef = sql.NullString{String: *inv.ExternalRef, Valid: true}
	}
	if inv.HostedURL != nil {
		hostedURL = sql.NullString{String: *inv.HostedURL, Valid: true}
	}
	if inv.IdempotencyKey != nil {
		idempotencyKey = sql.NullString{String: *inv.IdempotencyKey, Valid: true}
	}
	var paidAt sql.NullTime
	if inv.PaidAt != nil {
		paidAt = sql.NullTime{Time: inv.PaidAt.UTC(), Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO invoices
			(id, customer_id, period_start, period_end, external_ref, hosted_url,
			 currency, amount_minor_units, status, idempotency_key,
			 created_at, updated_at, paid_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.CustomerID, inv.PeriodStart.UTC(), inv.PeriodEnd.UTC(),
		externalRef, hostedURL, inv.Currency, inv.AmountMinorUnits,
		string(inv.Status), idempotencyKey, now, now, paidAt,
	)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to create invoice record").
			Mark(ierr.ErrDatabase)
	}

	for i, item := range inv.LineItems {
		item.InvoiceID = inv.ID
		item.Position = i
		_, err = tx.ExecContext(ctx, `
			INSERT INTO invoice_line_items
				(invoice_id, position, service, quantity, unit, unit_price, amount_minor_units)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			inv.ID, i, item.Service, item.Quantity.String(), item.Unit,
			item.UnitPrice.String(), item.AmountMinorUnits,
		)
		if err != nil {
			return ierr.WithError(err).
				WithHint("Failed to create invoice line item").
				Mark(ierr.ErrDatabase)
		}
	}

	if err := tx.Commit(); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to commit invoice record").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *invoiceRepository) Get(ctx context.Context, id string) (*invoice.Invoice, error) {
	return r.getBy(ctx, `id = ?`, id)
}

func (r *invoiceRepository) GetByExternalRef(ctx context.Context, externalRef string) (*invoice.Invoice, error) {
	return r.getBy(ctx, `external_ref = ?`, externalRef)
}

func (r *invoiceRepository) GetByIdempotencyKey(ctx context.Context, key string) (*invoice.Invoice, error) {
	return r.getBy(ctx, `idempotency_key = ?`, key)
}

func (r *invoiceRepository) getBy(ctx context.Context, where string, arg any) (*invoice.Invoice, error) {
	var row invoiceRow
	err := r.client.DB().GetContext(ctx, &row,
		`SELECT * FROM invoices WHERE `+where, arg)
	if err == sql.ErrNoRows {
		return nil, ierr.NewError("invoice not found").
			WithHint("No invoice matches the given identifier").
			Mark(ierr.ErrNotFound)
	}
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to load invoice").
			Mark(ierr.ErrDatabase)
	}

	inv := row.toDomain()
	if err := r.loadLineItems(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

func (r *invoiceRepository) loadLineItems(ctx context.Context, inv *invoice.Invoice) error {
	var rows []lineItemRow
	err := r.client.DB().SelectContext(ctx, &rows, `
		SELECT * FROM invoice_line_items
		WHERE invoice_id = ? ORDER BY position`, inv.ID)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to load invoice line items").
			Mark(ierr.ErrDatabase)
	}
	inv.LineItems = make([]*invoice.LineItem, 0, len(rows))
	for i := range rows {
		item, err := rows[i].toDomain()
		if err != nil {
			return err
		}
		inv.LineItems = append(inv.LineItems, item)
	}
	return nil
}

func (r *invoiceRepository) List(ctx context.Context, customerID string) ([]*invoice.Invoice, error) {
	var rows []invoiceRow
	err := r.client.DB().SelectContext(ctx, &rows, `
		SELECT * FROM invoices
		WHERE customer_id = ? ORDER BY created_at DESC, id DESC`, customerID)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list invoices").
			Mark(ierr.ErrDatabase)
	}

	invoices := make([]*invoice.Invoice, 0, len(rows))
	for i := range rows {
		inv := rows[i].toDomain()
		if err := r.loadLineItems(ctx, inv); err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, nil
}

// UpdateStatus transitions the invoice status inside one transaction so
// the terminal-state check and the write cannot race.
func (r *invoiceRepository) UpdateStatus(ctx context.Context, id string, status types.InvoiceStatus, paidAt *time.Time) error {
	if !status.Validate() {
		return ierr.NewError("invalid invoice status").
			WithHintf("Unknown invoice status %q", status).
			Mark(ierr.ErrValidation)
	}

	tx, err := r.client.DB().BeginTxx(ctx, nil)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to begin status transaction").
			Mark(ierr.ErrDatabase)
	}
	defer tx.Rollback()

	var current string
	err = tx.GetContext(ctx, &current,
		`SELECT status FROM invoices WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return ierr.NewError("invoice not found").
			WithHintf("No invoice with id %s", id).
			Mark(ierr.ErrNotFound)
	}
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to load invoice status").
			Mark(ierr.ErrDatabase)
	}

	if types.InvoiceStatus(current).IsTerminal() {
		// no-op when re-asserting the terminal status, error otherwise
		if types.InvoiceStatus(current) == status {
			return nil
		}
		return ierr.NewError("invoice status is terminal").
			WithHintf("Cannot transition invoice from %s to %s", current, status).
			Mark(ierr.ErrValidation)
	}

	var paidAtCol sql.NullTime
	if paidAt != nil {
		paidAtCol = sql.NullTime{Time: paidAt.UTC(), Valid: true}
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE invoices SET status = ?, paid_at = ?, updated_at = ?
		WHERE id = ?`,
		string(status), paidAtCol, time.Now().UTC(), id,
	)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update invoice status").
			Mark(ierr.ErrDatabase)
	}

	if err := tx.Commit(); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to commit status update").
			Mark(ierr.ErrDatabase)
	}

	r.logger.Infow("updated invoice status",
		"invoice_id", id,
		"from", current,
		"to", status)
	return nil
}
