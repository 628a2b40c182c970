package helpers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fare-observer/src/logger"
)

// -----------------------------------------------------------------------------
// Custom Error Types
// -----------------------------------------------------------------------------

type FareError struct {
	Message string
	Cause   error
}

func (e *FareError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *FareError) Unwrap() error {
	return e.Cause
}

type ConfigurationError struct{ FareError }
type DatabaseError struct{ FareError }
type ValidationError struct{ FareError }
type NotFoundError struct{ FareError }

// SchemaMismatchError: a model's locked feature order does not match the builder schema.
type SchemaMismatchError struct{ FareError }

// DataOrderingError: a partition cannot be totally ordered.
type DataOrderingError struct {
	FareError
	Partition string
}

// InsufficientDataError: not enough history for a valid split.
type InsufficientDataError struct {
	FareError
	Rows     int
	Required int
}

// LeakageDetectedError is soft: the run still produces a record but the gate must reject.
type LeakageDetectedError struct {
	FareError
	PermutationR2 float64
	Threshold     float64
}

// NumericGuardViolation: a prediction is not a finite number.
type NumericGuardViolation struct {
	FareError
	Value float64
}

// ConcurrentCommitConflict: the deployed pointer moved between gate decision and commit.
type ConcurrentCommitConflict struct {
	FareError
	Expected string
	Actual   string
}

// -----------------------------------------------------------------------------
// Constructors
// -----------------------------------------------------------------------------

func NewDataOrderingError(partition string, format string, args ...interface{}) error {
	return &DataOrderingError{
		FareError: FareError{Message: fmt.Sprintf("partition %s: %s", partition, fmt.Sprintf(format, args...))},
		Partition: partition,
	}
}

func NewInsufficientDataError(rows, required int, format string, args ...interface{}) error {
	return &InsufficientDataError{
		FareError: FareError{Message: fmt.Sprintf(format, args...)},
		Rows:      rows,
		Required:  required,
	}
}

func NewLeakageDetectedError(permR2, threshold float64) error {
	return &LeakageDetectedError{
		FareError:     FareError{Message: fmt.Sprintf("permutation r2 %.4f exceeds %.4f", permR2, threshold)},
		PermutationR2: permR2,
		Threshold:     threshold,
	}
}

func NewNumericGuardViolation(value float64) error {
	return &NumericGuardViolation{
		FareError: FareError{Message: fmt.Sprintf("prediction is not finite: %v", value)},
		Value:     value,
	}
}

func NewConcurrentCommitConflict(expected, actual string) error {
	return &ConcurrentCommitConflict{
		FareError: FareError{Message: fmt.Sprintf("deployed version moved from %q to %q", expected, actual)},
		Expected:  expected,
		Actual:    actual,
	}
}

func NewSchemaMismatchError(format string, args ...interface{}) error {
	return &SchemaMismatchError{FareError{Message: fmt.Sprintf(format, args...)}}
}

func NewValidationError(format string, args ...interface{}) error {
	return &ValidationError{FareError{Message: fmt.Sprintf(format, args...)}}
}

func NewNotFoundError(format string, args ...interface{}) error {
	return &NotFoundError{FareError{Message: fmt.Sprintf(format, args...)}}
}

func NewConfigurationError(format string, args ...interface{}) error {
	return &ConfigurationError{FareError{Message: fmt.Sprintf(format, args...)}}
}

func NewDatabaseError(operation string, cause error) error {
	return &DatabaseError{FareError{Message: operation + " failed", Cause: cause}}
}

// -----------------------------------------------------------------------------
// Classification
// -----------------------------------------------------------------------------

func IsCommitConflict(err error) bool {
	var target *ConcurrentCommitConflict
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsInsufficientData(err error) bool {
	var target *InsufficientDataError
	return errors.As(err, &target)
}

func IsSchemaMismatch(err error) bool {
	var target *SchemaMismatchError
	return errors.As(err, &target)
}

func IsNumericGuard(err error) bool {
	var target *NumericGuardViolation
	return errors.As(err, &target)
}

func IsValidation(err error) bool {
	var v *ValidationError
	var o *DataOrderingError
	var s *SchemaMismatchError
	return errors.As(err, &v) || errors.As(err, &o) || errors.As(err, &s)
}

// -----------------------------------------------------------------------------
// Retry Logic
// -----------------------------------------------------------------------------

// RetryWithBackoff runs fn up to maxRetries times with exponential backoff.
// Errors rejected by retryable are returned immediately.
func RetryWithBackoff(ctx context.Context, log *logger.Logger, operation string, maxRetries int, baseDelay time.Duration, retryable func(error) bool, fn func(attempt int) error) error {
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt == maxRetries-1 {
			break
		}

		delay := baseDelay * time.Duration(1<<attempt)
		if log != nil {
			log.Warning("%s failed (attempt %d/%d): %v. Retrying in %v", operation, attempt+1, maxRetries, err, delay)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return &FareError{Message: fmt.Sprintf("%s failed after %d attempts", operation, maxRetries), Cause: lastErr}
}
