package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/VariantEffect/mavedb-api-sub004/internal/domain"
)

// NonRetryableError marks a handler failure that must fail the job run
// terminally, regardless of remaining retry budget.
type NonRetryableError struct {
	Err      error
	Category domain.FailureCategory
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error { return e.Err }

// NonRetryable wraps err so the job fails without retrying.
func NonRetryable(err error, category domain.FailureCategory) error {
	if category == "" {
		category = domain.FailureUnknown
	}
	return &NonRetryableError{Err: err, Category: category}
}

// classify maps a handler error to a failure category and whether another
// attempt could plausibly succeed. Validation and data errors are permanent;
// infrastructure errors are worth retrying.
func classify(err error) (domain.FailureCategory, bool) {
	var nr *NonRetryableError
	if errors.As(err, &nr) {
		return nr.Category, false
	}
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return domain.FailureValidationError, false
	}
	var mp *domain.MissingParameterError
	if errors.As(err, &mp) {
		return domain.FailureValidationError, false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.FailureTimeout, true
	}
	return domain.FailureSystemError, true
}
