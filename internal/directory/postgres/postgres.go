// Package postgres reads recipient endpoints from the recipient_endpoints
// table.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lupppig/notifysender/internal/directory"
	"github.com/lupppig/notifysender/internal/domain"
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type Directory struct {
	db Querier
}

func New(db Querier) *Directory {
	return &Directory{db: db}
}

func (d *Directory) Lookup(ctx context.Context, recipientID string) ([]domain.RecipientEndpoint, error) {
	query := `
		SELECT channel, address, enabled
		FROM recipient_endpoints
		WHERE recipient_id = $1
		ORDER BY channel, address
	`

	rows, err := d.db.Query(ctx, query, recipientID)
	if err != nil {
		return nil, classify(fmt.Errorf("lookup recipient %s: %w", recipientID, err))
	}

	eps, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.RecipientEndpoint, error) {
		var ep domain.RecipientEndpoint
		err := row.Scan(&ep.Channel, &ep.Address, &ep.Enabled)
		return ep, err
	})
	if err != nil {
		return nil, classify(fmt.Errorf("scan endpoints of %s: %w", recipientID, err))
	}
	return eps, nil
}

// classify marks connection-level failures as directory.ErrUnavailable.
// Server errors outside the connection classes are left as per-recipient
// failures.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if unavailableClass(pgErr.Code) {
			return directory.Unavailable(err)
		}
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return directory.Unavailable(err)
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) || isConnError(err) {
		return directory.Unavailable(err)
	}
	return err
}

func unavailableClass(code string) bool {
	// 08 connection exception, 53 insufficient resources, 57 operator intervention.
	for _, class := range []string{"08", "53", "57"} {
		if strings.HasPrefix(code, class) {
			return true
		}
	}
	return false
}

func isConnError(err error) bool {
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr)
}

var _ directory.Directory = (*Directory)(nil)
