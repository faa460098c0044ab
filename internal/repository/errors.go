package repository

import (
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrStaleWrite is returned when a compare-and-swap update matched no row
	// because another writer changed the record first.
	ErrStaleWrite = errors.New("stale write")
	// ErrDuplicatePayment is returned when a transaction with the same
	// idempotency key already exists for the enrollment.
	ErrDuplicatePayment = errors.New("duplicate payment")
	// ErrDuplicateKey is returned for other unique constraint violations.
	ErrDuplicateKey = errors.New("duplicate key")
)

const pqUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}
