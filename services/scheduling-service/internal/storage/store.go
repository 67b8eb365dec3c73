// Package storage is the Postgres persistence of the scheduling service.
// The appointments_no_overlap exclusion constraint is the final authority on
// double booking; its violation surfaces as apperr.ErrConflict.
package storage

import (
	"context"
	"embed"
	"errors"

	"github.com/brokerdesk/crm/libs/db"
	"github.com/brokerdesk/crm/services/scheduling-service/internal/apperr"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies the embedded schema.
func Migrate(ctx context.Context, pool *db.Pool) ([]string, error) {
	return db.Migrate(ctx, pool, migrations, "migrations")
}

type Store struct {
	pool *db.Pool
}

func NewStore(pool *db.Pool) *Store {
	return &Store{pool: pool}
}

// IsConflict reports an exclusion (23P01) or unique (23505) violation.
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "23P01" || pgErr.Code == "23505")
}

func IsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// mapErr translates driver errors into the service taxonomy.
func mapErr(err error, notFound string) error {
	switch {
	case err == nil:
		return nil
	case IsNotFound(err):
		return apperr.NotFound(notFound)
	case IsConflict(err):
		return apperr.Conflict("time slot is no longer available", err)
	}
	return err
}

// validID keeps malformed ids from reaching a uuid column as a driver error.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
