// Package loan prices, approves, disburses and collects amortizing loans.
package loan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/teller/internal/audit"
	"github.com/congo-pay/teller/internal/domain"
	"github.com/congo-pay/teller/internal/fraud"
	"github.com/congo-pay/teller/internal/ledger"
	"github.com/congo-pay/teller/internal/logging"
	"github.com/congo-pay/teller/internal/session"
	"github.com/congo-pay/teller/internal/store"
)

// MaxTermMonths caps the loan term.
const MaxTermMonths = 360

// Application is a cardholder's loan request.
type Application struct {
	Type       domain.LoanType
	Principal  decimal.Decimal
	TermMonths int
	Purpose    string
	Collateral string
}

// PaymentResult is a committed repayment.
type PaymentResult struct {
	Loan    domain.Loan        `json:"loan"`
	Payment domain.LoanPayment `json:"payment"`
	Balance decimal.Decimal    `json:"balance"`
}

// Engine runs the loan lifecycle. Money moves only through the ledger.
type Engine struct {
	store    store.Store
	sessions *session.Manager
	ledger   *ledger.Engine
	detector *fraud.Detector
	audit    *audit.Logger
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine wires an Engine.
func NewEngine(st store.Store, sessions *session.Manager, ledgerEngine *ledger.Engine, detector *fraud.Detector, auditLog *audit.Logger, logger *slog.Logger) *Engine {
	return &Engine{
		store:    st,
		sessions: sessions,
		ledger:   ledgerEngine,
		detector: detector,
		audit:    auditLog,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the time source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Apply prices a new loan and records it as PENDING. Large principals
// raise an alert but are never refused here.
func (e *Engine) Apply(ctx context.Context, c ledger.Caller, app Application) (domain.Loan, error) {
	lease, err := e.sessions.Begin(ctx, c.SessionID, c.Fingerprint)
	if err != nil {
		return domain.Loan{}, err
	}
	defer lease.Release()
	acct := lease.Account

	if !app.Type.Valid() {
		return domain.Loan{}, domain.Invalid("type", "unknown loan type")
	}
	if err := domain.ValidateAmount(app.Principal); err != nil {
		return domain.Loan{}, err
	}
	if app.TermMonths < 1 || app.TermMonths > MaxTermMonths {
		return domain.Loan{}, domain.Invalid("term_months", fmt.Sprintf("must be between 1 and %d", MaxTermMonths))
	}

	rate := InterestRate(app.Type, acct.CreditScore)
	payment := MonthlyPayment(app.Principal, rate, app.TermMonths)
	total := payment.Mul(decimal.NewFromInt(int64(app.TermMonths)))
	l := domain.Loan{
		ID:               uuid.NewString(),
		AccountID:        acct.ID,
		Type:             app.Type,
		Principal:        app.Principal,
		InterestRate:     rate,
		TermMonths:       app.TermMonths,
		MonthlyPayment:   payment,
		TotalAmount:      total,
		RemainingBalance: total,
		Status:           domain.LoanPending,
		Purpose:          app.Purpose,
		Collateral:       app.Collateral,
		AppliedAt:        e.now().UTC(),
	}
	if err := e.store.CreateLoan(ctx, l); err != nil {
		return domain.Loan{}, fmt.Errorf("create loan: %w", err)
	}

	if _, err := e.detector.ScreenLoan(ctx, acct.ID, l.Principal); err != nil {
		logging.FromContext(ctx, e.logger).Warn("loan screening failed", "loan_id", l.ID, "error", err)
	}
	e.audit.Append(ctx, acct.ID, domain.ActionLoanApplied, fmt.Sprintf("loan %s: %s %s over %d months at %s%%",
		l.ID, l.Type, l.Principal.StringFixed(2), l.TermMonths, l.InterestRate.String()))
	return l, nil
}

// Approve moves a PENDING loan to APPROVED. Administrators only.
func (e *Engine) Approve(ctx context.Context, c ledger.Caller, loanID string) (domain.Loan, error) {
	return e.decide(ctx, c, loanID, domain.LoanApproved, domain.ActionLoanApproved)
}

// Reject moves a PENDING loan to REJECTED. Administrators only.
func (e *Engine) Reject(ctx context.Context, c ledger.Caller, loanID string) (domain.Loan, error) {
	return e.decide(ctx, c, loanID, domain.LoanRejected, domain.ActionLoanRejected)
}

func (e *Engine) decide(ctx context.Context, c ledger.Caller, loanID string, to domain.LoanStatus, action string) (domain.Loan, error) {
	lease, err := e.admin(ctx, c)
	if err != nil {
		return domain.Loan{}, err
	}
	defer lease.Release()

	l, err := e.store.GetLoan(ctx, loanID)
	if err != nil {
		return domain.Loan{}, err
	}
	// Decisions share the borrower's posting lock with Disburse, and the
	// write is conditional on the loan still being PENDING.
	err = e.ledger.WithAccount(ctx, l.AccountID, func(ctx context.Context) error {
		fresh, err := e.store.GetLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if fresh.Status != domain.LoanPending {
			return fmt.Errorf("%w: loan is %s", domain.ErrInvalidState, fresh.Status)
		}
		fresh.Status = to
		if to == domain.LoanApproved {
			at := e.now().UTC()
			fresh.ApprovedAt = &at
		}
		if err := e.store.UpdateLoan(ctx, fresh, domain.LoanPending); err != nil {
			return fmt.Errorf("update loan: %w", err)
		}
		l = fresh
		return nil
	})
	if err != nil {
		return domain.Loan{}, err
	}
	e.audit.Append(ctx, l.AccountID, action, fmt.Sprintf("loan %s by %s", l.ID, lease.Account.ID))
	return l, nil
}

// Disburse credits the principal of an APPROVED loan to the borrower and
// activates it. Administrators only.
func (e *Engine) Disburse(ctx context.Context, c ledger.Caller, loanID string) (domain.Loan, error) {
	lease, err := e.admin(ctx, c)
	if err != nil {
		return domain.Loan{}, err
	}
	defer lease.Release()

	l, err := e.store.GetLoan(ctx, loanID)
	if err != nil {
		return domain.Loan{}, err
	}
	var activated domain.Loan
	_, err = e.ledger.PostFor(ctx, lease, l.AccountID, ledger.Posting{
		Type:        domain.TxLoanDisbursement,
		Amount:      l.Principal,
		Credit:      true,
		Description: "loan " + l.ID,
		Prepare: func(ctx context.Context, _ domain.Account, d *ledger.Draft) error {
			fresh, err := e.store.GetLoan(ctx, loanID)
			if err != nil {
				return err
			}
			if fresh.Status != domain.LoanApproved {
				return fmt.Errorf("%w: loan is %s", domain.ErrInvalidState, fresh.Status)
			}
			now := e.now().UTC()
			next := now.AddDate(0, 1, 0)
			fresh.Status = domain.LoanActive
			fresh.DisbursedAt = &now
			fresh.NextPaymentDate = &next
			d.Amount = fresh.Principal
			d.Loan = &fresh
			d.LoanFrom = domain.LoanApproved
			activated = fresh
			return nil
		},
	})
	if err != nil {
		return domain.Loan{}, err
	}
	return activated, nil
}

// MakePayment repays an ACTIVE loan from the borrower's balance. The amount
// is clamped to the remaining balance; reaching zero completes the loan.
func (e *Engine) MakePayment(ctx context.Context, c ledger.Caller, loanID string, amount decimal.Decimal) (PaymentResult, error) {
	var res PaymentResult
	receipt, err := e.ledger.Post(ctx, c, ledger.Posting{
		Type:        domain.TxLoanPayment,
		Amount:      amount,
		Description: "loan " + loanID,
		Prepare: func(ctx context.Context, acct domain.Account, d *ledger.Draft) error {
			l, err := e.store.GetLoan(ctx, loanID)
			if err != nil {
				return err
			}
			if l.AccountID != acct.ID {
				return domain.ErrLoanNotFound
			}
			if l.Status != domain.LoanActive {
				return fmt.Errorf("%w: loan is %s", domain.ErrInvalidState, l.Status)
			}
			history, err := e.store.ListLoanPayments(ctx, l.ID)
			if err != nil {
				return err
			}
			outstanding := l.Principal
			for _, p := range history {
				outstanding = outstanding.Sub(p.PrincipalPortion)
			}
			paid, payment := e.settle(l, outstanding, amount, acct.ID, d.TransactionID)
			d.Amount = payment.Amount
			d.Loan = &paid
			d.LoanFrom = domain.LoanActive
			d.LoanPayment = &payment
			res.Loan, res.Payment = paid, payment
			return nil
		},
	})
	if err != nil {
		return PaymentResult{}, err
	}
	res.Balance = receipt.Balance
	return res, nil
}

// settle applies a repayment to l and returns the updated loan and the
// payment record. A month of interest on the outstanding principal is
// covered first; the rest of the payment retires principal.
func (e *Engine) settle(l domain.Loan, outstanding, amount decimal.Decimal, accountID, txID string) (domain.Loan, domain.LoanPayment) {
	now := e.now().UTC()
	paid := decimal.Min(amount, l.RemainingBalance)
	interest := decimal.Max(outstanding, decimal.Zero).Mul(monthlyRate(l.InterestRate)).Round(2)
	interest = decimal.Min(interest, paid)

	l.RemainingBalance = l.RemainingBalance.Sub(paid)
	if l.RemainingBalance.IsZero() {
		l.Status = domain.LoanCompleted
		l.CompletedAt = &now
		l.NextPaymentDate = nil
	} else if l.NextPaymentDate != nil {
		next := l.NextPaymentDate.AddDate(0, 1, 0)
		l.NextPaymentDate = &next
	}
	return l, domain.LoanPayment{
		ID:               uuid.NewString(),
		LoanID:           l.ID,
		AccountID:        accountID,
		Amount:           paid,
		PrincipalPortion: paid.Sub(interest),
		InterestPortion:  interest,
		RemainingBalance: l.RemainingBalance,
		TransactionID:    txID,
		PaidAt:           now,
	}
}

// List returns the caller's loans, or every loan for an administrator
// passing an empty accountID.
func (e *Engine) List(ctx context.Context, c ledger.Caller, accountID string) ([]domain.Loan, error) {
	lease, err := e.sessions.Begin(ctx, c.SessionID, c.Fingerprint)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	if !lease.Account.IsAdmin() {
		if accountID != "" && accountID != lease.Account.ID {
			return nil, domain.ErrForbidden
		}
		accountID = lease.Account.ID
	}
	return e.store.ListLoans(ctx, accountID)
}

// Payments lists the repayments of a loan the caller may see.
func (e *Engine) Payments(ctx context.Context, c ledger.Caller, loanID string) ([]domain.LoanPayment, error) {
	lease, l, err := e.visible(ctx, c, loanID)
	if err != nil {
		return nil, err
	}
	defer lease.Release()
	return e.store.ListLoanPayments(ctx, l.ID)
}

// Schedule returns the amortization table of a loan the caller may see.
func (e *Engine) Schedule(ctx context.Context, c ledger.Caller, loanID string) ([]Installment, error) {
	lease, l, err := e.visible(ctx, c, loanID)
	if err != nil {
		return nil, err
	}
	defer lease.Release()
	return Amortize(l.Principal, l.InterestRate, l.TermMonths), nil
}

func (e *Engine) visible(ctx context.Context, c ledger.Caller, loanID string) (*session.Lease, domain.Loan, error) {
	lease, err := e.sessions.Begin(ctx, c.SessionID, c.Fingerprint)
	if err != nil {
		return nil, domain.Loan{}, err
	}
	l, err := e.store.GetLoan(ctx, loanID)
	if err == nil && l.AccountID != lease.Account.ID && !lease.Account.IsAdmin() {
		err = domain.ErrLoanNotFound
	}
	if err != nil {
		lease.Release()
		return nil, domain.Loan{}, err
	}
	return lease, l, nil
}

func (e *Engine) admin(ctx context.Context, c ledger.Caller) (*session.Lease, error) {
	lease, err := e.sessions.Begin(ctx, c.SessionID, c.Fingerprint)
	if err != nil {
		return nil, err
	}
	if !lease.Account.IsAdmin() {
		lease.Release()
		return nil, domain.ErrForbidden
	}
	return lease, nil
}

