package gate

import (
	"errors"
	"fmt"

	"github.com/epochapi/epochapi/internal/model"
)

// Rejection reasons. Anything else returned by Gate.Admit is an internal error.
var (
	ErrMissingCredential = errors.New("missing API key")
	ErrInvalidCredential = errors.New("invalid API key")
	ErrQuotaExceeded     = errors.New("quota exceeded")
)

// QuotaExceededError carries the limit that was hit.
// It matches ErrQuotaExceeded with errors.Is.
type QuotaExceededError struct {
	Limit int64
	Usage model.UsageSnapshot
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("monthly limit of %d calls exceeded", e.Limit)
}

// Is reports whether target is ErrQuotaExceeded.
func (e *QuotaExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// IsRejection reports whether err is one of the client-facing rejection reasons.
func IsRejection(err error) bool {
	return errors.Is(err, ErrMissingCredential) ||
		errors.Is(err, ErrInvalidCredential) ||
		errors.Is(err, ErrQuotaExceeded)
}
