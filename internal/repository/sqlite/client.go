package sqlite

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/meterline/meterline/internal/config"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/logger"
)

// Client wraps the sqlite handle shared by the ledger repositories.
type Client struct {
	db     *sqlx.DB
	logger *logger.Logger
}

// NewClient opens (or creates) the ledger database and applies migrations.
// The connection runs in WAL mode with synchronous=FULL so an acknowledged
// write survives a crash: recordEvent must be durable on return.
func NewClient(cfg *config.Configuration, log *logger.Logger) (*Client, error) {
	dsn := fmt.Sprintf(
		"file:%s?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000&_foreign_keys=on&_loc=UTC",
		cfg.SQLite.Path,
	)

	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Unable to open the ledger database").
			WithReportableDetails(map[string]any{
				"path": cfg.SQLite.Path,
			}).
			Mark(ierr.ErrDatabase)
	}

	// sqlite serializes writers; a single connection avoids SQLITE_BUSY
	// churn between concurrent producers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Ledger database is not reachable").
			Mark(ierr.ErrDatabase)
	}

	client := &Client{db: db, logger: log}
	if err := client.migrate(); err != nil {
		return nil, err
	}

	log.Debugw("opened ledger database", "path", cfg.SQLite.Path)
	return client, nil
}

// DB exposes the underlying handle to the repositories in this package.
func (c *Client) DB() *sqlx.DB {
	return c.db
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) migrate() error {
	for _, stmt := range migrations {
		if _, err := c.db.Exec(stmt); err != nil {
			return ierr.WithError(err).
				WithHint("Failed to apply ledger schema migration").
				Mark(ierr.ErrDatabase)
		}
	}
	return nil
}
