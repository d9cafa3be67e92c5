package repository

import (
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned when no row matches the id (and owner) predicate
	ErrNotFound = errors.New("record not found")
	// ErrInvalidTransition is returned when a lifecycle operation is not valid for the job's current status
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrJobProcessing is returned when deleting a job that is currently being driven
	ErrJobProcessing = errors.New("job is processing")
	// ErrDuplicateRecord maps unique violations
	ErrDuplicateRecord = errors.New("duplicate record")
)

const pqUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}
