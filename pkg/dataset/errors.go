package dataset

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a dataset id does not exist.
	ErrNotFound = errors.New("dataset not found")

	// ErrAlreadySyncing is returned when a resync is requested while another
	// sync for the same dataset is in flight. Callers should treat it as
	// "try later" rather than a hard failure.
	ErrAlreadySyncing = errors.New("dataset sync already in progress")

	// ErrConflict is reserved for future multi-writer scenarios. Nothing
	// returns it today.
	ErrConflict = errors.New("conflicting write")
)

// ValidationError reports caller-supplied input that fails validation.
// It is rejected synchronously and must not be retried unchanged.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validationf builds a ValidationError for the given field.
func Validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
