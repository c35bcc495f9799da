package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidInput covers non-positive amounts and malformed PINs or passwords.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInsufficientFunds occurs when the account balance cannot cover a debit.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrAccountLocked indicates the account is locked out.
	ErrAccountLocked = errors.New("account locked")

	// ErrAccountNotFound indicates no account matches the identifier.
	ErrAccountNotFound = errors.New("account not found")

	// ErrSessionInvalid indicates an expired, terminated or unknown session.
	ErrSessionInvalid = errors.New("session invalid")

	// ErrFraudBlocked indicates the fraud detector refused the operation.
	ErrFraudBlocked = errors.New("blocked by fraud detection")

	// ErrPersistenceUnavailable indicates the datastore timed out or is unreachable.
	ErrPersistenceUnavailable = errors.New("persistence unavailable")

	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidPIN         = errors.New("invalid PIN")
	ErrBillNotFound       = errors.New("bill not found")
	ErrLoanNotFound       = errors.New("loan not found")
	ErrAlertNotFound      = errors.New("fraud alert not found")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidState       = errors.New("invalid state transition")
	ErrDuplicate          = errors.New("duplicate record")

	// ErrConcurrentUpdate means a balance changed between read and commit.
	ErrConcurrentUpdate = errors.New("account changed concurrently")
)

// LockedError carries the lock reason and expiry.
type LockedError struct {
	Reason   string
	LockedAt time.Time
	Until    time.Time
}

func (e *LockedError) Error() string {
	if e.Until.IsZero() {
		return fmt.Sprintf("account locked: %s", e.Reason)
	}
	return fmt.Sprintf("account locked: %s (until %s)", e.Reason, e.Until.UTC().Format(time.RFC3339))
}

// Is makes errors.Is(err, ErrAccountLocked) match.
func (e *LockedError) Is(target error) bool { return target == ErrAccountLocked }

// FraudBlockedError carries the detector's reason.
type FraudBlockedError struct {
	Reason    string
	AlertType AlertType
}

func (e *FraudBlockedError) Error() string {
	return fmt.Sprintf("blocked by fraud detection: %s", e.Reason)
}

// Is makes errors.Is(err, ErrFraudBlocked) match.
func (e *FraudBlockedError) Is(target error) bool { return target == ErrFraudBlocked }

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Problem string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Problem)
}

// Is makes errors.Is(err, ErrInvalidInput) match.
func (e *ValidationError) Is(target error) bool { return target == ErrInvalidInput }

// Invalid builds a ValidationError.
func Invalid(field, problem string) error {
	return &ValidationError{Field: field, Problem: problem}
}
