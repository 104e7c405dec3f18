package sqlite

// migrations are applied in order at open. Statements are idempotent so
// reopening an existing database is safe.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS usage_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_id TEXT NOT NULL,
		service TEXT NOT NULL,
		quantity TEXT NOT NULL,
		unit TEXT NOT NULL,
		unit_price TEXT NOT NULL,
		metadata TEXT,
		created_at TIMESTAMP NOT NULL,
		billing_state TEXT NOT NULL DEFAULT 'unbilled',
		reservation_id TEXT,
		reserved_at TIMESTAMP,
		invoice_ref TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_events_customer_state
		ON usage_events (customer_id, billing_state, created_at, id)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_events_reservation
		ON usage_events (reservation_id)
		WHERE reservation_id IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		period_start TIMESTAMP NOT NULL,
		period_end TIMESTAMP NOT NULL,
		external_ref TEXT,
		hosted_url TEXT,
		currency TEXT NOT NULL,
		amount_minor_units INTEGER NOT NULL,
		status TEXT NOT NULL,
		idempotency_key TEXT UNIQUE,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		paid_at TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_invoices_customer
		ON invoices (customer_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_invoices_external_ref
		ON invoices (external_ref)
		WHERE external_ref IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS invoice_line_items (
		invoice_id TEXT NOT NULL REFERENCES invoices (id),
		position INTEGER NOT NULL,
		service TEXT NOT NULL,
		quantity TEXT NOT NULL,
		unit TEXT NOT NULL,
		unit_price TEXT NOT NULL,
		amount_minor_units INTEGER NOT NULL,
		PRIMARY KEY (invoice_id, position)
	)`,
}
