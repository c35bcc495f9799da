package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role distinguishes cardholders from bank staff.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// CounterKind selects one of the independent failed-attempt counters.
type CounterKind string

const (
	CounterPassword CounterKind = "password"
	CounterPIN      CounterKind = "pin"
)

// Lock reasons recorded on the account and in the audit trail.
const (
	LockReasonPassword = "too many failed password attempts"
	LockReasonPIN      = "too many failed PIN attempts"
)

// Account is a cardholder account. Balance is only mutated by the ledger
// engine and lock state only by the session manager (or an admin unlock).
type Account struct {
	ID                  string
	Username            string
	AccountNumber       string
	Balance             decimal.Decimal
	PasswordHash        []byte
	PINHash             []byte
	Role                Role
	Locked              bool
	LockReason          string
	LockedAt            *time.Time
	FailedPasswordCount int
	FailedPINCount      int
	CreditScore         int
	MustChangePassword  bool
	PasswordChangedAt   *time.Time
	LastLogin           *time.Time
	CreatedAt           time.Time
}

// FailedCount returns the counter value for kind.
func (a Account) FailedCount(kind CounterKind) int {
	if kind == CounterPIN {
		return a.FailedPINCount
	}
	return a.FailedPasswordCount
}

// LockedUntil reports when a lock taken at LockedAt expires for the given duration.
func (a Account) LockedUntil(d time.Duration) time.Time {
	if a.LockedAt == nil {
		return time.Time{}
	}
	return a.LockedAt.Add(d)
}

// IsAdmin reports whether the account carries the admin role.
func (a Account) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// BalanceUpdate sets an account balance to an absolute value. When Prior is
// set the write only lands if the stored balance still equals it.
type BalanceUpdate struct {
	AccountID  string
	NewBalance decimal.Decimal
	Prior      *decimal.Decimal
}
