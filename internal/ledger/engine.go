// Package ledger executes balance-changing operations under a valid session
// with per-account serialisation, fraud screening and an audit trail.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/teller/internal/audit"
	"github.com/congo-pay/teller/internal/domain"
	"github.com/congo-pay/teller/internal/fraud"
	"github.com/congo-pay/teller/internal/logging"
	"github.com/congo-pay/teller/internal/metrics"
	"github.com/congo-pay/teller/internal/retry"
	"github.com/congo-pay/teller/internal/session"
	"github.com/congo-pay/teller/internal/store"
	"github.com/congo-pay/teller/internal/syncutil"
)

// persistAttempts is the first try plus one retry for unavailable storage.
const persistAttempts = 2

// Screening selects how a posting treats a suspicious fraud verdict.
type Screening int

const (
	ScreenNone Screening = iota
	// ScreenFlag records the alert and lets the posting proceed.
	ScreenFlag
	// ScreenBlock records the posting as FAILED and rejects it.
	ScreenBlock
)

// Caller identifies the session a request arrives on.
type Caller struct {
	SessionID   string
	Fingerprint string
}

// Draft is the mutable part of a posting while it is being prepared. Loan
// is committed only while the stored loan is still in status LoanFrom.
type Draft struct {
	TransactionID string
	Amount        decimal.Decimal
	Loan          *domain.Loan
	LoanFrom      domain.LoanStatus
	LoanPayment   *domain.LoanPayment
}

// Posting describes one single-account balance change.
type Posting struct {
	Type        domain.TransactionType
	Amount      decimal.Decimal
	Credit      bool
	Screening   Screening
	Description string
	// Prepare runs under the account lock against the fresh account. It may
	// reject the posting, lower the amount or attach loan state to commit.
	Prepare func(ctx context.Context, acct domain.Account, d *Draft) error
}

// Receipt is the outcome of a committed posting.
type Receipt struct {
	Transaction domain.Transaction `json:"transaction"`
	Balance     decimal.Decimal    `json:"balance"`
	Flagged     bool               `json:"flagged"`
	FlagReason  string             `json:"flag_reason,omitempty"`
}

// Engine is the only writer of account balances.
type Engine struct {
	store      store.Store
	sessions   *session.Manager
	detector   *fraud.Detector
	locks      *syncutil.AccountLocks
	audit      *audit.Logger
	logger     *slog.Logger
	now        func() time.Time
	retryDelay time.Duration
}

// NewEngine wires an Engine. locks must be shared with every other writer
// that serialises on accounts.
func NewEngine(st store.Store, sessions *session.Manager, detector *fraud.Detector, locks *syncutil.AccountLocks, auditLog *audit.Logger, logger *slog.Logger) *Engine {
	return &Engine{
		store:      st,
		sessions:   sessions,
		detector:   detector,
		locks:      locks,
		audit:      auditLog,
		logger:     logger,
		now:        time.Now,
		retryDelay: 50 * time.Millisecond,
	}
}

// WithClock overrides the time source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Post applies p to the caller's own account.
func (e *Engine) Post(ctx context.Context, c Caller, p Posting) (Receipt, error) {
	lease, err := e.sessions.Begin(ctx, c.SessionID, c.Fingerprint)
	if err != nil {
		return Receipt{}, err
	}
	defer lease.Release()
	return e.apply(ctx, lease.Account.ID, p)
}

// PostFor applies p to accountID on behalf of an admitted session. Only the
// owner or an administrator may post to an account.
func (e *Engine) PostFor(ctx context.Context, lease *session.Lease, accountID string, p Posting) (Receipt, error) {
	if lease.Account.ID != accountID && !lease.Account.IsAdmin() {
		return Receipt{}, domain.ErrForbidden
	}
	return e.apply(ctx, accountID, p)
}

// WithAccount runs fn while holding the posting lock of accountID, so fn
// never interleaves with a balance change on that account.
func (e *Engine) WithAccount(ctx context.Context, accountID string, fn func(ctx context.Context) error) error {
	unlock, err := e.locks.Lock(ctx, accountID)
	if err != nil {
		return err
	}
	defer unlock()
	return fn(ctx)
}

func (e *Engine) apply(ctx context.Context, accountID string, p Posting) (Receipt, error) {
	if err := domain.ValidateAmount(p.Amount); err != nil {
		return Receipt{}, err
	}

	unlock, err := e.locks.Lock(ctx, accountID)
	if err != nil {
		return Receipt{}, err
	}
	defer unlock()

	acct, err := e.loadAccount(ctx, accountID)
	if err != nil {
		return Receipt{}, err
	}
	if acct.Locked {
		return Receipt{}, &domain.LockedError{Reason: acct.LockReason}
	}

	d := Draft{TransactionID: uuid.NewString(), Amount: p.Amount}
	if p.Prepare != nil {
		if err := p.Prepare(ctx, acct, &d); err != nil {
			e.recordFailed(ctx, acct.ID, p, d.Amount, err.Error())
			return Receipt{}, err
		}
		if err := domain.ValidateAmount(d.Amount); err != nil {
			return Receipt{}, err
		}
	}

	var receipt Receipt
	if p.Screening != ScreenNone {
		verdict, err := e.detector.Evaluate(ctx, acct.ID, p.Type, d.Amount)
		switch {
		case err != nil && p.Screening == ScreenBlock:
			e.recordFailed(ctx, acct.ID, p, d.Amount, "fraud screening unavailable")
			return Receipt{}, fmt.Errorf("fraud screening: %w", err)
		case err != nil:
			logging.FromContext(ctx, e.logger).Warn("fraud screening failed", "account_id", acct.ID, "type", p.Type, "error", err)
		case verdict.Suspicious && p.Screening == ScreenBlock:
			metrics.FraudBlocksTotal.WithLabelValues(string(p.Type)).Inc()
			logging.FromContext(ctx, e.logger).Warn("posting blocked by fraud detection", "account_id", acct.ID, "type", p.Type, "reason", verdict.Reason)
			e.recordFailed(ctx, acct.ID, p, d.Amount, verdict.Reason)
			return Receipt{}, verdict.Err()
		case verdict.Suspicious:
			receipt.Flagged, receipt.FlagReason = true, verdict.Reason
		}
	}

	balance := acct.Balance.Add(d.Amount)
	if !p.Credit {
		if acct.Balance.LessThan(d.Amount) {
			e.recordFailed(ctx, acct.ID, p, d.Amount, domain.ErrInsufficientFunds.Error())
			return Receipt{}, domain.ErrInsufficientFunds
		}
		balance = acct.Balance.Sub(d.Amount)
	}

	tx := domain.Transaction{
		ID:          d.TransactionID,
		AccountID:   acct.ID,
		Type:        p.Type,
		Amount:      d.Amount,
		Status:      domain.StatusSuccess,
		Description: p.Description,
		CreatedAt:   e.now().UTC(),
	}
	batch := store.Batch{
		Balances:     []domain.BalanceUpdate{{AccountID: acct.ID, NewBalance: balance, Prior: &acct.Balance}},
		Transactions: []domain.Transaction{tx},
		Loan:         d.Loan,
		LoanFrom:     d.LoanFrom,
		LoanPayment:  d.LoanPayment,
	}
	if err := e.persist(ctx, func(ctx context.Context) error { return e.store.Commit(ctx, batch) }); err != nil {
		e.recordFailed(ctx, acct.ID, p, d.Amount, err.Error())
		return Receipt{}, err
	}

	metrics.TransactionsTotal.WithLabelValues(string(p.Type), string(domain.StatusSuccess)).Inc()
	detail := fmt.Sprintf("%s %s, balance %s", p.Type, d.Amount.StringFixed(2), balance.StringFixed(2))
	if receipt.Flagged {
		detail += ", flagged: " + receipt.FlagReason
	}
	e.audit.Append(ctx, acct.ID, auditAction(p.Type), detail)

	receipt.Transaction = tx
	receipt.Balance = balance
	return receipt, nil
}

func (e *Engine) loadAccount(ctx context.Context, id string) (domain.Account, error) {
	var acct domain.Account
	err := e.persist(ctx, func(ctx context.Context) error {
		var err error
		acct, err = e.store.GetAccount(ctx, id)
		return err
	})
	return acct, err
}

// persist retries once when storage is unavailable. Any other error is final.
func (e *Engine) persist(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, persistAttempts, e.retryDelay, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && !errors.Is(err, domain.ErrPersistenceUnavailable) {
			return retry.Permanent(err)
		}
		return err
	})
}

// recordFailed journals an attempted posting that did not commit. The
// record is best effort; its own failure is logged and counted.
func (e *Engine) recordFailed(ctx context.Context, accountID string, p Posting, amount decimal.Decimal, reason string) {
	metrics.TransactionsTotal.WithLabelValues(string(p.Type), string(domain.StatusFailed)).Inc()
	tx := domain.Transaction{
		ID:          uuid.NewString(),
		AccountID:   accountID,
		Type:        p.Type,
		Amount:      amount,
		Status:      domain.StatusFailed,
		Description: reason,
		CreatedAt:   e.now().UTC(),
	}
	wctx := context.WithoutCancel(ctx)
	if err := e.persist(wctx, func(ctx context.Context) error { return e.store.AppendTransaction(ctx, tx) }); err != nil {
		logging.FromContext(ctx, e.logger).Error("record failed transaction", "account_id", accountID, "type", p.Type, "error", err)
	}
	e.audit.Append(ctx, accountID, auditAction(p.Type), fmt.Sprintf("FAILED %s %s: %s", p.Type, amount.StringFixed(2), reason))
}

func auditAction(t domain.TransactionType) string {
	switch t {
	case domain.TxWithdrawal:
		return domain.ActionWithdrawal
	case domain.TxDeposit:
		return domain.ActionDeposit
	case domain.TxTransfer:
		return domain.ActionTransfer
	case domain.TxBillPayment:
		return domain.ActionBillPayment
	case domain.TxBalanceInquiry:
		return domain.ActionBalanceInquiry
	case domain.TxPINChange:
		return domain.ActionPINChange
	case domain.TxLoanPayment:
		return domain.ActionLoanPayment
	case domain.TxLoanDisbursement:
		return domain.ActionLoanDisbursed
	}
	return string(t)
}
