package repository

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mri-screening-server/internal/domain"
)

// PostgreSQL SQLSTATE codes the repositories translate
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// storageError classifies a driver error into one of the domain error kinds.
func storageError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%s: %w", op, domain.ErrConflict)
		case pgForeignKeyViolation:
			return fmt.Errorf("%s: %w", op, domain.NewValidationError("", "referenced user does not exist", nil))
		case pgCheckViolation:
			return fmt.Errorf("%s: %w", op, domain.NewValidationError("", pgErr.Message, nil))
		}
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStorageUnavailable, err)
}
