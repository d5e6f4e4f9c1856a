package repo

import (
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateEmail is returned when an account with the email already exists.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrConflict is returned when a compare-and-set lost against a concurrent
	// writer or the row is no longer in the expected state.
	ErrConflict = errors.New("state conflict")
	// ErrLimitExceeded is returned when a counted budget is already used up.
	ErrLimitExceeded = errors.New("limit exceeded")
)

const pqUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}
