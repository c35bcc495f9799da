package store

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/teller/internal/domain"
	"github.com/congo-pay/teller/internal/metrics"
)

// DefaultTimeout bounds every persistence call made through Guarded.
const DefaultTimeout = 3 * time.Second

// Guarded decorates a Store with a per-call deadline, latency metrics and
// error classification. Timeouts and lost connections surface as
// domain.ErrPersistenceUnavailable; domain errors pass through unchanged.
type Guarded struct {
	inner   Store
	timeout time.Duration
}

// NewGuarded wraps inner. A non-positive timeout selects DefaultTimeout.
func NewGuarded(inner Store, timeout time.Duration) *Guarded {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Guarded{inner: inner, timeout: timeout}
}

func call[T any](g *Guarded, ctx context.Context, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	v, err := fn(cctx)
	metrics.StoreOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err == nil {
		return v, nil
	}
	if ctx.Err() != nil {
		// Caller cancelled; not a datastore fault.
		return v, err
	}
	if Unavailable(err) || cctx.Err() != nil {
		metrics.StoreUnavailableTotal.WithLabelValues(op).Inc()
		return v, errors.Join(domain.ErrPersistenceUnavailable, err)
	}
	return v, err
}

func exec(g *Guarded, ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := call(g, ctx, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Unavailable reports whether err means the datastore could not be reached
// or did not answer in time.
func Unavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrPersistenceUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if pgconn.Timeout(err) {
		return true
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func (g *Guarded) Ping(ctx context.Context) error {
	return exec(g, ctx, "ping", g.inner.Ping)
}

func (g *Guarded) CreateAccount(ctx context.Context, account domain.Account) error {
	return exec(g, ctx, "create_account", func(ctx context.Context) error {
		return g.inner.CreateAccount(ctx, account)
	})
}

func (g *Guarded) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	return call(g, ctx, "get_account", func(ctx context.Context) (domain.Account, error) {
		return g.inner.GetAccount(ctx, id)
	})
}

func (g *Guarded) GetAccountByIdentifier(ctx context.Context, identifier string) (domain.Account, error) {
	return call(g, ctx, "get_account_by_identifier", func(ctx context.Context) (domain.Account, error) {
		return g.inner.GetAccountByIdentifier(ctx, identifier)
	})
}

func (g *Guarded) UpdateBalance(ctx context.Context, id string, newBalance decimal.Decimal) error {
	return exec(g, ctx, "update_balance", func(ctx context.Context) error {
		return g.inner.UpdateBalance(ctx, id, newBalance)
	})
}

func (g *Guarded) UpdateBalances(ctx context.Context, updates ...domain.BalanceUpdate) error {
	return exec(g, ctx, "update_balances", func(ctx context.Context) error {
		return g.inner.UpdateBalances(ctx, updates...)
	})
}

func (g *Guarded) Commit(ctx context.Context, b Batch) error {
	return exec(g, ctx, "commit", func(ctx context.Context) error {
		return g.inner.Commit(ctx, b)
	})
}

func (g *Guarded) LockAccount(ctx context.Context, id, reason string, at time.Time) error {
	return exec(g, ctx, "lock_account", func(ctx context.Context) error {
		return g.inner.LockAccount(ctx, id, reason, at)
	})
}

func (g *Guarded) UnlockAccount(ctx context.Context, id string) error {
	return exec(g, ctx, "unlock_account", func(ctx context.Context) error {
		return g.inner.UnlockAccount(ctx, id)
	})
}

func (g *Guarded) IncrementFailedCounter(ctx context.Context, id string, kind domain.CounterKind) (int, error) {
	return call(g, ctx, "increment_failed_counter", func(ctx context.Context) (int, error) {
		return g.inner.IncrementFailedCounter(ctx, id, kind)
	})
}

func (g *Guarded) ResetFailedCounter(ctx context.Context, id string, kind domain.CounterKind) error {
	return exec(g, ctx, "reset_failed_counter", func(ctx context.Context) error {
		return g.inner.ResetFailedCounter(ctx, id, kind)
	})
}

func (g *Guarded) ResetFailedCounters(ctx context.Context, id string) error {
	return exec(g, ctx, "reset_failed_counters", func(ctx context.Context) error {
		return g.inner.ResetFailedCounters(ctx, id)
	})
}

func (g *Guarded) UpdatePIN(ctx context.Context, id string, pinHash []byte) error {
	return exec(g, ctx, "update_pin", func(ctx context.Context) error {
		return g.inner.UpdatePIN(ctx, id, pinHash)
	})
}

func (g *Guarded) UpdatePassword(ctx context.Context, id string, passwordHash []byte, changedAt time.Time) error {
	return exec(g, ctx, "update_password", func(ctx context.Context) error {
		return g.inner.UpdatePassword(ctx, id, passwordHash, changedAt)
	})
}

func (g *Guarded) StampLastLogin(ctx context.Context, id string, at time.Time) error {
	return exec(g, ctx, "stamp_last_login", func(ctx context.Context) error {
		return g.inner.StampLastLogin(ctx, id, at)
	})
}

func (g *Guarded) AppendTransaction(ctx context.Context, tx domain.Transaction) error {
	return exec(g, ctx, "append_transaction", func(ctx context.Context) error {
		return g.inner.AppendTransaction(ctx, tx)
	})
}

func (g *Guarded) RecentTransactions(ctx context.Context, accountID string, since time.Time) ([]domain.Transaction, error) {
	return call(g, ctx, "recent_transactions", func(ctx context.Context) ([]domain.Transaction, error) {
		return g.inner.RecentTransactions(ctx, accountID, since)
	})
}

func (g *Guarded) LastTransactions(ctx context.Context, accountID string, limit int) ([]domain.Transaction, error) {
	return call(g, ctx, "last_transactions", func(ctx context.Context) ([]domain.Transaction, error) {
		return g.inner.LastTransactions(ctx, accountID, limit)
	})
}

func (g *Guarded) AppendAuditEntry(ctx context.Context, entry domain.AuditEntry) error {
	return exec(g, ctx, "append_audit_entry", func(ctx context.Context) error {
		return g.inner.AppendAuditEntry(ctx, entry)
	})
}

func (g *Guarded) ListAuditEntries(ctx context.Context, accountID string, limit int) ([]domain.AuditEntry, error) {
	return call(g, ctx, "list_audit_entries", func(ctx context.Context) ([]domain.AuditEntry, error) {
		return g.inner.ListAuditEntries(ctx, accountID, limit)
	})
}

func (g *Guarded) AppendFraudAlert(ctx context.Context, alert domain.FraudAlert) error {
	return exec(g, ctx, "append_fraud_alert", func(ctx context.Context) error {
		return g.inner.AppendFraudAlert(ctx, alert)
	})
}

func (g *Guarded) GetFraudAlert(ctx context.Context, id string) (domain.FraudAlert, error) {
	return call(g, ctx, "get_fraud_alert", func(ctx context.Context) (domain.FraudAlert, error) {
		return g.inner.GetFraudAlert(ctx, id)
	})
}

func (g *Guarded) ListFraudAlerts(ctx context.Context, accountID string, unresolvedOnly bool) ([]domain.FraudAlert, error) {
	return call(g, ctx, "list_fraud_alerts", func(ctx context.Context) ([]domain.FraudAlert, error) {
		return g.inner.ListFraudAlerts(ctx, accountID, unresolvedOnly)
	})
}

func (g *Guarded) ResolveFraudAlert(ctx context.Context, id, resolvedBy string, at time.Time) error {
	return exec(g, ctx, "resolve_fraud_alert", func(ctx context.Context) error {
		return g.inner.ResolveFraudAlert(ctx, id, resolvedBy, at)
	})
}

func (g *Guarded) CreateLoan(ctx context.Context, loan domain.Loan) error {
	return exec(g, ctx, "create_loan", func(ctx context.Context) error {
		return g.inner.CreateLoan(ctx, loan)
	})
}

func (g *Guarded) GetLoan(ctx context.Context, id string) (domain.Loan, error) {
	return call(g, ctx, "get_loan", func(ctx context.Context) (domain.Loan, error) {
		return g.inner.GetLoan(ctx, id)
	})
}

func (g *Guarded) ListLoans(ctx context.Context, accountID string) ([]domain.Loan, error) {
	return call(g, ctx, "list_loans", func(ctx context.Context) ([]domain.Loan, error) {
		return g.inner.ListLoans(ctx, accountID)
	})
}

func (g *Guarded) UpdateLoan(ctx context.Context, loan domain.Loan, from domain.LoanStatus) error {
	return exec(g, ctx, "update_loan", func(ctx context.Context) error {
		return g.inner.UpdateLoan(ctx, loan, from)
	})
}

func (g *Guarded) AppendLoanPayment(ctx context.Context, payment domain.LoanPayment) error {
	return exec(g, ctx, "append_loan_payment", func(ctx context.Context) error {
		return g.inner.AppendLoanPayment(ctx, payment)
	})
}

func (g *Guarded) ListLoanPayments(ctx context.Context, loanID string) ([]domain.LoanPayment, error) {
	return call(g, ctx, "list_loan_payments", func(ctx context.Context) ([]domain.LoanPayment, error) {
		return g.inner.ListLoanPayments(ctx, loanID)
	})
}

func (g *Guarded) CreateBill(ctx context.Context, bill domain.Bill) error {
	return exec(g, ctx, "create_bill", func(ctx context.Context) error {
		return g.inner.CreateBill(ctx, bill)
	})
}

func (g *Guarded) GetBill(ctx context.Context, id string) (domain.Bill, error) {
	return call(g, ctx, "get_bill", func(ctx context.Context) (domain.Bill, error) {
		return g.inner.GetBill(ctx, id)
	})
}
