// Package directory provides the recipient-directory read API: a
// Postgres implementation backed by the platform's user tables, and an
// in-memory implementation for tests and local development.
package directory

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/tokopoints/campaigner/internal/audience"
)

// PostgresDirectory reads recipients from the platform database. It is
// read-only: the engine never mutates directory data.
type PostgresDirectory struct {
	db *sql.DB
}

// OpenPostgres connects to the directory database.
func OpenPostgres(dsn string) (*PostgresDirectory, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open directory database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping directory database: %w", err)
	}
	return &PostgresDirectory{db: db}, nil
}

// NewPostgresDirectory wraps an existing connection pool.
func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// Close closes the connection pool.
func (d *PostgresDirectory) Close() error { return d.db.Close() }

const recipientColumns = `
	id, name, phone, opt_in, valid_whatsapp,
	organization_type, state,
	current_points, system_collected, manual_collected,
	migration_points, total_redeemed, transaction_count,
	last_activity_at, has_scanned, has_logged_in
`

// CountAll returns the total recipient count.
func (d *PostgresDirectory) CountAll(ctx context.Context) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM recipients`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count recipients: %w", err)
	}
	return n, nil
}

// ListAll returns every recipient in creation order, which keeps
// resolution (and its preview) deterministic.
func (d *PostgresDirectory) ListAll(ctx context.Context) ([]audience.Recipient, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+recipientColumns+` FROM recipients ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()

	return scanRecipients(rows)
}

// GetByIDs returns the recipients with the given IDs in request order.
// Unknown IDs are skipped.
func (d *PostgresDirectory) GetByIDs(ctx context.Context, ids []string) ([]audience.Recipient, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+recipientColumns+` FROM recipients WHERE id = ANY($1)`,
		pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("get recipients by id: %w", err)
	}
	defer rows.Close()

	found, err := scanRecipients(rows)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]audience.Recipient, len(found))
	for _, r := range found {
		byID[r.ID] = r
	}
	out := make([]audience.Recipient, 0, len(found))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func scanRecipients(rows *sql.Rows) ([]audience.Recipient, error) {
	var out []audience.Recipient
	for rows.Next() {
		var r audience.Recipient
		var name, phone, orgType, state sql.NullString
		var lastActivity sql.NullTime

		err := rows.Scan(
			&r.ID, &name, &phone, &r.OptIn, &r.ValidWhatsApp,
			&orgType, &state,
			&r.CurrentPoints, &r.SystemCollected, &r.ManualCollected,
			&r.MigrationPoints, &r.TotalRedeemed, &r.TransactionCount,
			&lastActivity, &r.HasScanned, &r.HasLoggedIn,
		)
		if err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}

		r.Name = name.String
		r.Phone = phone.String
		r.OrgType = orgType.String
		r.State = state.String
		if lastActivity.Valid {
			t := lastActivity.Time
			r.LastActivityAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
