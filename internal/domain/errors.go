package domain

import "github.com/pkg/errors"

// Refresh and persistence failures.
var (
	ErrNoSourcesAvailable = errors.New("no rate sources available")
	ErrPersistence        = errors.New("persistence failed")
)

// Valuation failures.
var (
	ErrUnknownCurrency = errors.New("unknown currency")
	ErrEmptyCache      = errors.New("rate cache is empty")
	ErrStaleRate       = errors.New("rate is stale")
)

// Ledger failures.
var (
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrInvalidCurrency      = errors.New("invalid currency")
)

// PersistenceError failed storage step. Matches ErrPersistence with errors.Is.
type PersistenceError struct {
	Op  string
	Err error
}

// NewPersistenceError wraps err as a failure of the storage step op.
func NewPersistenceError(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}

func (e *PersistenceError) Error() string {
	return ErrPersistence.Error() + ": " + e.Op + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Is reports ErrPersistence as a match.
func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}
