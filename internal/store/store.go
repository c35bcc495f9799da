// Package store is the persistence collaborator of the engine. Every call is
// synchronous and atomic on its own; callers serialise multi-step sequences.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/teller/internal/domain"
)

// AccountStore persists accounts, balances, lock state and failed-attempt counters.
type AccountStore interface {
	CreateAccount(ctx context.Context, account domain.Account) error
	GetAccount(ctx context.Context, id string) (domain.Account, error)
	// GetAccountByIdentifier matches a username or an account number.
	GetAccountByIdentifier(ctx context.Context, identifier string) (domain.Account, error)
	UpdateBalance(ctx context.Context, id string, newBalance decimal.Decimal) error
	// UpdateBalances applies every update or none of them.
	UpdateBalances(ctx context.Context, updates ...domain.BalanceUpdate) error
	LockAccount(ctx context.Context, id, reason string, at time.Time) error
	// UnlockAccount clears lock state and resets every failed counter.
	UnlockAccount(ctx context.Context, id string) error
	// IncrementFailedCounter returns the counter value after the increment.
	IncrementFailedCounter(ctx context.Context, id string, kind domain.CounterKind) (int, error)
	ResetFailedCounter(ctx context.Context, id string, kind domain.CounterKind) error
	ResetFailedCounters(ctx context.Context, id string) error
	UpdatePIN(ctx context.Context, id string, pinHash []byte) error
	// UpdatePassword replaces the hash, clears must-change and stamps changedAt.
	UpdatePassword(ctx context.Context, id string, passwordHash []byte, changedAt time.Time) error
	StampLastLogin(ctx context.Context, id string, at time.Time) error
}

// TransactionStore is the append-only transaction journal.
type TransactionStore interface {
	AppendTransaction(ctx context.Context, tx domain.Transaction) error
	// RecentTransactions returns transactions created at or after since, newest first.
	RecentTransactions(ctx context.Context, accountID string, since time.Time) ([]domain.Transaction, error)
	// LastTransactions returns up to limit transactions, newest first.
	LastTransactions(ctx context.Context, accountID string, limit int) ([]domain.Transaction, error)
}

// AuditStore is the append-only audit trail.
type AuditStore interface {
	AppendAuditEntry(ctx context.Context, entry domain.AuditEntry) error
	ListAuditEntries(ctx context.Context, accountID string, limit int) ([]domain.AuditEntry, error)
}

// AlertStore persists fraud alerts.
type AlertStore interface {
	AppendFraudAlert(ctx context.Context, alert domain.FraudAlert) error
	GetFraudAlert(ctx context.Context, id string) (domain.FraudAlert, error)
	// ListFraudAlerts lists alerts newest first; an empty accountID lists every account.
	ListFraudAlerts(ctx context.Context, accountID string, unresolvedOnly bool) ([]domain.FraudAlert, error)
	ResolveFraudAlert(ctx context.Context, id, resolvedBy string, at time.Time) error
}

// LoanStore persists loans and their payments.
type LoanStore interface {
	CreateLoan(ctx context.Context, loan domain.Loan) error
	GetLoan(ctx context.Context, id string) (domain.Loan, error)
	ListLoans(ctx context.Context, accountID string) ([]domain.Loan, error)
	// UpdateLoan writes loan only while the stored status is still from and
	// returns ErrInvalidState otherwise.
	UpdateLoan(ctx context.Context, loan domain.Loan, from domain.LoanStatus) error
	AppendLoanPayment(ctx context.Context, payment domain.LoanPayment) error
	ListLoanPayments(ctx context.Context, loanID string) ([]domain.LoanPayment, error)
}

// BillStore persists payees.
type BillStore interface {
	CreateBill(ctx context.Context, bill domain.Bill) error
	GetBill(ctx context.Context, id string) (domain.Bill, error)
}

// Batch is one ledger commit. Loan and LoanPayment are optional; Loan is
// written only while its stored status is LoanFrom.
type Batch struct {
	Balances     []domain.BalanceUpdate
	Transactions []domain.Transaction
	Loan         *domain.Loan
	LoanFrom     domain.LoanStatus
	LoanPayment  *domain.LoanPayment
}

// Committer applies a Batch atomically: every part lands or none does. A
// balance whose Prior no longer matches fails the batch with
// ErrConcurrentUpdate.
type Committer interface {
	Commit(ctx context.Context, b Batch) error
}

// Store aggregates every record operation the engine needs.
type Store interface {
	Committer
	AccountStore
	TransactionStore
	AuditStore
	AlertStore
	LoanStore
	BillStore
	Ping(ctx context.Context) error
}
