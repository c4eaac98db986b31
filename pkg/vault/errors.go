package vault

import (
	"errors"
	"fmt"
	"time"
)

// Domain-level error values returned by the engine.
var (
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientReserve  = errors.New("insufficient reserve fund")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidMemberID      = errors.New("invalid member id")
	ErrInvalidEntryType     = errors.New("invalid entry type")
	ErrInvalidDestination   = errors.New("invalid transfer destination")
	ErrInvalidServiceConfig = errors.New("invalid service config")
	ErrUnknownMember        = errors.New("unknown member")
	ErrUnknownEntry         = errors.New("unknown ledger entry")
	ErrUnknownLoan          = errors.New("unknown loan")
	ErrEntryNotReviewable   = errors.New("entry not pending review")
	ErrLoanNotOpen          = errors.New("loan not open")
	ErrLoanNotFunded        = errors.New("loan not in funded state")
	ErrNotBorrower          = errors.New("caller is not the borrower")
	ErrSelfFunding          = errors.New("borrower cannot fund own loan")
	ErrNoReferrer           = errors.New("member has no referrer")
	ErrAlreadyCredited      = errors.New("referral commission already credited")
	ErrAlreadyPosted        = errors.New("accrual already posted for day")
	ErrSystemFrozen         = errors.New("system frozen")
	ErrMaintenanceMode      = errors.New("maintenance mode")
	ErrRateLimited          = errors.New("rate limited")
	ErrFundsNotAged         = errors.New("funds not aged")
	ErrExceedsMaxLoan       = errors.New("exceeds maximum loan amount")
)

// FundsNotAgedError reports how long the caller must wait before the
// aging rule is satisfied.
type FundsNotAgedError struct {
	Remaining time.Duration
}

func (err FundsNotAgedError) Error() string {
	return fmt.Sprintf("funds not aged: %s remaining", err.Remaining)
}

func (FundsNotAgedError) Unwrap() error {
	return ErrFundsNotAged
}

// ExceedsMaxLoanError reports the maximum principal currently allowed.
type ExceedsMaxLoanError struct {
	Max Centavos
}

func (err ExceedsMaxLoanError) Error() string {
	return fmt.Sprintf("exceeds maximum loan amount: max %d centavos", err.Max.Int64())
}

func (ExceedsMaxLoanError) Unwrap() error {
	return ErrExceedsMaxLoan
}

// RateLimitedError reports when the caller may retry.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (err RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", err.RetryAfter)
}

func (RateLimitedError) Unwrap() error {
	return ErrRateLimited
}

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
