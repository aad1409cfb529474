package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/stockledger/internal/repository"
	"github.com/utafrali/stockledger/pkg/database"
	apperrors "github.com/utafrali/stockledger/pkg/errors"
)

// Repository implements repository.Store on PostgreSQL. Outside WithinTx it
// runs each statement on the pool; inside, on the transaction.
type Repository struct {
	db database.DBTX
}

var _ repository.Store = (*Repository)(nil)

// NewRepository creates a PostgreSQL-backed ledger store.
func NewRepository(db database.DBTX) *Repository {
	return &Repository{db: db}
}

// WithinTx runs fn in a transaction. Row locks taken with FOR UPDATE inside
// fn are held until commit or rollback.
func (r *Repository) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	return database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		return fn(&Repository{db: tx})
	})
}

// notFound maps pgx.ErrNoRows to ErrNotFound and returns other errors as is.
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.ErrNotFound
	}
	return err
}

// countAll runs a COUNT(*) query. Paged lists read their total from
// count(*) OVER(), which yields no row past the last page; callers fall
// back to this when a page comes back empty.
func (r *Repository) countAll(ctx context.Context, op, sql string, args ...any) (_ int, err error) {
	ctx, end := database.TraceQuery(ctx, op, sql)
	defer func() { end(err) }()

	var total int
	if err = r.db.QueryRow(ctx, sql, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return total, nil
}
