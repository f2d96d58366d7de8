package data

import (
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

// Shared sentinel errors for data-layer repositories.
var (
	// ErrBulkJobNotFound is returned when a bulk job record is absent.
	ErrBulkJobNotFound = errors.New("bulk job not found")

	// ErrDuplicateRecipient is returned when a conditional recipient insert
	// hits an existing (workspace, job, user) row.
	ErrDuplicateRecipient = errors.New("recipient already ingested")

	// ErrTaskNotFound is returned when a task record is absent.
	ErrTaskNotFound = errors.New("task not found")
)

// isUniqueViolation reports whether err is a Postgres unique constraint
// violation, the signal a conditional insert lost to an existing row.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
