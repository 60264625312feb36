package dispatch

import (
	"errors"
	"fmt"
)

// Delivery failure classes. Sinks classify every failure as one of these;
// only transient failures are retried.
var (
	ErrTransient = errors.New("dispatch: transient delivery failure")
	ErrPermanent = errors.New("dispatch: permanent delivery failure")
)

// Transient marks an error as retryable (timeouts, 5xx-equivalent).
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// Permanent marks an error as non-retryable (validation, 4xx-equivalent).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}
