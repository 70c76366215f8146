package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
)

// VersionMismatchError is returned when a conditional task update lost to a
// concurrent writer. Current is the row as it is now.
type VersionMismatchError struct {
	Current Task
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("task %s version mismatch (current %d)", e.Current.ID, e.Current.Version)
}

// BatchMismatchError is returned when a bulk statement touched a different
// number of rows than requested. The transaction has been rolled back.
type BatchMismatchError struct {
	Requested int
	Matched   int
}

func (e *BatchMismatchError) Error() string {
	return fmt.Sprintf("batch matched %d of %d tasks", e.Matched, e.Requested)
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
