package errors

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Common error types that can be used across the application
var (
	ErrNotFound      = new(ErrCodeNotFound, "resource not found")
	ErrAlreadyExists = new(ErrCodeAlreadyExists, "resource already exists")
	ErrValidation    = new(ErrCodeValidation, "validation error")
	ErrConflict      = new(ErrCodeConflict, "reservation conflict")
	ErrNoUsage       = new(ErrCodeNoUsage, "no unbilled usage")
	ErrGateway       = new(ErrCodeGateway, "payment gateway error")
	ErrIntegrity     = new(ErrCodeIntegrity, "data integrity violation")
	ErrDatabase      = new(ErrCodeDatabase, "database error")
	ErrSystem        = new(ErrCodeSystemError, "system error")

	// maps errors to process exit codes for the operational commands
	exitCodeMap = map[error]int{
		ErrValidation:    2,
		ErrNotFound:      3,
		ErrAlreadyExists: 4,
		ErrConflict:      5,
		ErrNoUsage:       0,
		ErrGateway:       6,
		ErrIntegrity:     7,
		ErrDatabase:      8,
		ErrSystem:        9,
	}
)

const (
	ErrCodeSystemError   = "system_error"
	ErrCodeNotFound      = "not_found"
	ErrCodeAlreadyExists = "already_exists"
	ErrCodeValidation    = "validation_error"
	ErrCodeConflict      = "conflict_error"
	ErrCodeNoUsage       = "no_usage"
	ErrCodeGateway       = "gateway_error"
	ErrCodeIntegrity     = "integrity_error"
	ErrCodeDatabase      = "database_error"
)

// InternalError represents a domain error
type InternalError struct {
	Code    string // Machine-readable error code
	Message string // Human-readable error message
	Op      string // Logical operation name
	Err     error  // Underlying error
}

func (e *InternalError) Error() string {
	if e.Err == nil {
		return e.DisplayError()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Err.Error())
}

func (e *InternalError) DisplayError() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// Is implements error matching for wrapped errors
func (e *InternalError) Is(target error) bool {
	if target == nil {
		return false
	}

	t, ok := target.(*InternalError)
	if !ok {
		return errors.Is(e.Err, target)
	}

	return e.Code == t.Code
}

// new creates a new InternalError
func new(code string, message string) *InternalError {
	return &InternalError{
		Code:    code,
		Message: message,
	}
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if an error is an already exists error
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsConflict checks if an error is a reservation conflict error
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsNoUsage checks if an error is the normal nothing-to-bill outcome
func IsNoUsage(err error) bool {
	return errors.Is(err, ErrNoUsage)
}

// IsGateway checks if an error is a payment gateway error
func IsGateway(err error) bool {
	return errors.Is(err, ErrGateway)
}

// IsIntegrity checks if an error is a data integrity violation
func IsIntegrity(err error) bool {
	return errors.Is(err, ErrIntegrity)
}

// ExitCodeFromErr maps an error to a process exit code. NoUsage is a
// normal outcome and maps to 0.
func ExitCodeFromErr(err error) int {
	if err == nil {
		return 0
	}
	for e, code := range exitCodeMap {
		if errors.Is(err, e) {
			return code
		}
	}
	return 1
}
