package ledger

import (
	"errors"
	"fmt"
)

// Errors returned by the ledger. Callers match them with errors.Is; the
// wrapped message carries the detail.
var (
	ErrNotFound    = errors.New("not found")
	ErrForbidden   = errors.New("forbidden")
	ErrRateLimited = errors.New("already submitted for this date")
	ErrValidation  = errors.New("invalid input")
	ErrInternal    = errors.New("internal storage error")
)

// internal wraps a storage failure so it matches ErrInternal while keeping the cause.
func internal(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{ErrNotFound, ErrForbidden, ErrRateLimited, ErrValidation, ErrInternal} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %s: %w", ErrInternal, op, err)
}
