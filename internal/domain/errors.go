package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return errors.Is(err, ErrConcurrencyConflict)
}

var (
	// ErrValidation is the root of all bad-input rejections.
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientFunds is matched by *InsufficientFundsError.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientInventory is matched by *InsufficientInventoryError.
	ErrInsufficientInventory = errors.New("insufficient inventory")

	// ErrConcurrencyConflict is returned when another operation holds the listing or
	// the stored version moved underneath us.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrServiceUnavailable is returned when a balance or inventory boundary can't be reached.
	ErrServiceUnavailable = errors.New("external service unavailable")

	// ErrInvariantViolation halts the operation. Needs manual reconciliation.
	ErrInvariantViolation = errors.New("stored invariant violated")

	ErrInvalidOperation    = errors.New("invalid operation")
	ErrNotFound            = errors.New("not found")
	ErrIdempotencyConflict = errors.New("idempotency conflict")

	// ErrSettlementPending marks a committed trade whose settlement will be retried.
	ErrSettlementPending = errors.New("settlement pending")
)

// ValidationError reports bad input such as a bid at or below the current highest bid.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return "validation [" + e.Field + "]: " + e.Reason
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// InsufficientFundsError is a business rejection from the balance ledger.
type InsufficientFundsError struct {
	UserID    string
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: user %s requested %s, available %s",
		e.UserID, e.Requested, e.Available)
}

func (e *InsufficientFundsError) Is(target error) bool { return target == ErrInsufficientFunds }

// InsufficientInventoryError is a business rejection from the credit inventory.
type InsufficientInventoryError struct {
	CreditID  string
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("insufficient inventory: credit %s requested %s, available %s",
		e.CreditID, e.Requested, e.Available)
}

func (e *InsufficientInventoryError) Is(target error) bool {
	return target == ErrInsufficientInventory
}

// ServiceError represents a failed call to an external boundary (balance, inventory, broker).
type ServiceError struct {
	Service   string // "balance", "inventory", "lock", ...
	Op        string // Operation that failed (e.g., "reserve", "deduct")
	Err       error  // Underlying error
	Retriable bool
}

func (e *ServiceError) Error() string {
	return e.Service + "." + e.Op + ": " + e.Err.Error()
}

func (e *ServiceError) IsRetriable() bool {
	return e.Retriable
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool { return target == ErrServiceUnavailable }

// NewServiceError creates a new retriable service error
func NewServiceError(service, op string, err error) *ServiceError {
	return &ServiceError{Service: service, Op: op, Err: err, Retriable: true}
}

// InvariantViolationError is raised when stored state breaks a ledger invariant.
// It is never retriable.
type InvariantViolationError struct {
	Entity string
	ID     string
	Detail string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violation on %s %s: %s", e.Entity, e.ID, e.Detail)
}

func (e *InvariantViolationError) Is(target error) bool { return target == ErrInvariantViolation }

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// RejectionReason maps an error to the short reason code reported to bidders.
func RejectionReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSettlementPending):
		return "settlement_pending"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInsufficientInventory):
		return "insufficient_inventory"
	case errors.Is(err, ErrConcurrencyConflict):
		return "concurrency_conflict"
	case errors.Is(err, ErrServiceUnavailable):
		return "service_unavailable"
	case errors.Is(err, ErrInvalidOperation):
		return "invalid_operation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvariantViolation):
		return "invariant_violation"
	default:
		return "internal_error"
	}
}
