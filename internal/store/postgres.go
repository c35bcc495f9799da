package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/teller/internal/domain"
)

const (
	pgUniqueViolation = "23505"
	pgCheckViolation  = "23514"
)

// Postgres persists every record in PostgreSQL through a pgx pool.
type Postgres struct {
	db *pgxpool.Pool
}

// NewPostgres constructs a Postgres-backed Store.
func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.Ping(ctx)
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

const accountColumns = `id, username, account_number, balance, password_hash, pin_hash, role,
        locked, lock_reason, locked_at, failed_password_count, failed_pin_count, credit_score,
        must_change_password, password_changed_at, last_login, created_at`

func scanAccount(row pgx.Row) (domain.Account, error) {
	var a domain.Account
	var role string
	err := row.Scan(&a.ID, &a.Username, &a.AccountNumber, &a.Balance, &a.PasswordHash, &a.PINHash, &role,
		&a.Locked, &a.LockReason, &a.LockedAt, &a.FailedPasswordCount, &a.FailedPINCount, &a.CreditScore,
		&a.MustChangePassword, &a.PasswordChangedAt, &a.LastLogin, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Account{}, domain.ErrAccountNotFound
		}
		return domain.Account{}, err
	}
	a.Role = domain.Role(role)
	return a, nil
}

func (p *Postgres) CreateAccount(ctx context.Context, a domain.Account) error {
	_, err := p.db.Exec(ctx, `INSERT INTO accounts (`+accountColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		a.ID, a.Username, a.AccountNumber, a.Balance, a.PasswordHash, a.PINHash, string(a.Role),
		a.Locked, a.LockReason, a.LockedAt, a.FailedPasswordCount, a.FailedPINCount, a.CreditScore,
		a.MustChangePassword, a.PasswordChangedAt, a.LastLogin, a.CreatedAt)
	if pgCode(err) == pgUniqueViolation {
		return domain.ErrDuplicate
	}
	return err
}

func (p *Postgres) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	return scanAccount(p.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
}

func (p *Postgres) GetAccountByIdentifier(ctx context.Context, identifier string) (domain.Account, error) {
	return scanAccount(p.db.QueryRow(ctx, `SELECT `+accountColumns+`
        FROM accounts WHERE username = $1 OR account_number = $1 LIMIT 1`, identifier))
}

func (p *Postgres) UpdateBalance(ctx context.Context, id string, newBalance decimal.Decimal) error {
	return p.UpdateBalances(ctx, domain.BalanceUpdate{AccountID: id, NewBalance: newBalance})
}

func (p *Postgres) UpdateBalances(ctx context.Context, updates ...domain.BalanceUpdate) error {
	return p.Commit(ctx, Batch{Balances: updates})
}

// execer is satisfied by both the pool and an open transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Commit locks the affected account rows in id order, then writes balances,
// journal rows and loan state inside one transaction.
func (p *Postgres) Commit(ctx context.Context, b Batch) error {
	ordered := append([]domain.BalanceUpdate(nil), b.Balances...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].AccountID < ordered[j].AccountID })

	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	for _, u := range ordered {
		var current decimal.Decimal
		if err := tx.QueryRow(ctx, `SELECT balance FROM accounts WHERE id = $1 FOR UPDATE`, u.AccountID).Scan(&current); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrAccountNotFound
			}
			return err
		}
		if u.Prior != nil && !current.Equal(*u.Prior) {
			return domain.ErrConcurrentUpdate
		}
	}
	for _, u := range ordered {
		if _, err := tx.Exec(ctx, `UPDATE accounts SET balance = $2 WHERE id = $1`, u.AccountID, u.NewBalance); err != nil {
			if pgCode(err) == pgCheckViolation {
				return domain.ErrInsufficientFunds
			}
			return err
		}
	}
	for _, t := range b.Transactions {
		if err := insertTransaction(ctx, tx, t); err != nil {
			return err
		}
	}
	if b.Loan != nil {
		if err := updateLoan(ctx, tx, *b.Loan, b.LoanFrom); err != nil {
			return err
		}
	}
	if b.LoanPayment != nil {
		if err := insertLoanPayment(ctx, tx, *b.LoanPayment); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (p *Postgres) execAccount(ctx context.Context, query string, args ...any) error {
	tag, err := p.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

func (p *Postgres) LockAccount(ctx context.Context, id, reason string, at time.Time) error {
	return p.execAccount(ctx, `UPDATE accounts SET locked = TRUE, lock_reason = $2, locked_at = $3 WHERE id = $1`, id, reason, at)
}

func (p *Postgres) UnlockAccount(ctx context.Context, id string) error {
	return p.execAccount(ctx, `UPDATE accounts SET locked = FALSE, lock_reason = '', locked_at = NULL,
        failed_password_count = 0, failed_pin_count = 0 WHERE id = $1`, id)
}

func counterColumn(kind domain.CounterKind) string {
	if kind == domain.CounterPIN {
		return "failed_pin_count"
	}
	return "failed_password_count"
}

func (p *Postgres) IncrementFailedCounter(ctx context.Context, id string, kind domain.CounterKind) (int, error) {
	col := counterColumn(kind)
	var n int
	err := p.db.QueryRow(ctx, fmt.Sprintf(`UPDATE accounts SET %[1]s = %[1]s + 1 WHERE id = $1 RETURNING %[1]s`, col), id).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrAccountNotFound
	}
	return n, err
}

func (p *Postgres) ResetFailedCounter(ctx context.Context, id string, kind domain.CounterKind) error {
	return p.execAccount(ctx, fmt.Sprintf(`UPDATE accounts SET %s = 0 WHERE id = $1`, counterColumn(kind)), id)
}

func (p *Postgres) ResetFailedCounters(ctx context.Context, id string) error {
	return p.execAccount(ctx, `UPDATE accounts SET failed_password_count = 0, failed_pin_count = 0 WHERE id = $1`, id)
}

func (p *Postgres) UpdatePIN(ctx context.Context, id string, pinHash []byte) error {
	return p.execAccount(ctx, `UPDATE accounts SET pin_hash = $2 WHERE id = $1`, id, pinHash)
}

func (p *Postgres) UpdatePassword(ctx context.Context, id string, passwordHash []byte, changedAt time.Time) error {
	return p.execAccount(ctx, `UPDATE accounts SET password_hash = $2, must_change_password = FALSE,
        password_changed_at = $3 WHERE id = $1`, id, passwordHash, changedAt)
}

func (p *Postgres) StampLastLogin(ctx context.Context, id string, at time.Time) error {
	return p.execAccount(ctx, `UPDATE accounts SET last_login = $2 WHERE id = $1`, id, at)
}

const transactionColumns = `id, account_id, type, amount, counterpart_account, direction, reference, status, description, created_at`

func (p *Postgres) AppendTransaction(ctx context.Context, t domain.Transaction) error {
	return insertTransaction(ctx, p.db, t)
}

func insertTransaction(ctx context.Context, db execer, t domain.Transaction) error {
	_, err := db.Exec(ctx, `INSERT INTO transactions (`+transactionColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.AccountID, string(t.Type), t.Amount, t.CounterpartAccount, t.Direction, t.Reference,
		string(t.Status), t.Description, t.CreatedAt)
	return err
}

func (p *Postgres) RecentTransactions(ctx context.Context, accountID string, since time.Time) ([]domain.Transaction, error) {
	return p.queryTransactions(ctx, `SELECT `+transactionColumns+` FROM transactions
        WHERE account_id = $1 AND created_at >= $2 ORDER BY created_at DESC`, accountID, since)
}

func (p *Postgres) LastTransactions(ctx context.Context, accountID string, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		return p.queryTransactions(ctx, `SELECT `+transactionColumns+` FROM transactions
            WHERE account_id = $1 ORDER BY created_at DESC`, accountID)
	}
	return p.queryTransactions(ctx, `SELECT `+transactionColumns+` FROM transactions
        WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2`, accountID, limit)
}

func (p *Postgres) queryTransactions(ctx context.Context, query string, args ...any) ([]domain.Transaction, error) {
	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		var typ, status string
		if err := rows.Scan(&t.ID, &t.AccountID, &typ, &t.Amount, &t.CounterpartAccount, &t.Direction,
			&t.Reference, &status, &t.Description, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Type = domain.TransactionType(typ)
		t.Status = domain.TransactionStatus(status)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *Postgres) AppendAuditEntry(ctx context.Context, e domain.AuditEntry) error {
	_, err := p.db.Exec(ctx, `INSERT INTO audit_log (id, account_id, action, detail, created_at)
        VALUES ($1, $2, $3, $4, $5)`, e.ID, e.AccountID, e.Action, e.Detail, e.CreatedAt)
	return err
}

func (p *Postgres) ListAuditEntries(ctx context.Context, accountID string, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.Query(ctx, `SELECT id, account_id, action, detail, created_at FROM audit_log
        WHERE ($1 = '' OR account_id = $1) ORDER BY created_at DESC LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Action, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const alertColumns = `id, account_id, type, severity, description, resolved, resolved_by, resolved_at, created_at`

func scanAlert(row pgx.Row) (domain.FraudAlert, error) {
	var a domain.FraudAlert
	var typ, severity string
	if err := row.Scan(&a.ID, &a.AccountID, &typ, &severity, &a.Description, &a.Resolved,
		&a.ResolvedBy, &a.ResolvedAt, &a.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.FraudAlert{}, domain.ErrAlertNotFound
		}
		return domain.FraudAlert{}, err
	}
	a.Type = domain.AlertType(typ)
	a.Severity = domain.Severity(severity)
	return a, nil
}

func (p *Postgres) AppendFraudAlert(ctx context.Context, a domain.FraudAlert) error {
	_, err := p.db.Exec(ctx, `INSERT INTO fraud_alerts (`+alertColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.AccountID, string(a.Type), string(a.Severity), a.Description, a.Resolved,
		a.ResolvedBy, a.ResolvedAt, a.CreatedAt)
	return err
}

func (p *Postgres) GetFraudAlert(ctx context.Context, id string) (domain.FraudAlert, error) {
	return scanAlert(p.db.QueryRow(ctx, `SELECT `+alertColumns+` FROM fraud_alerts WHERE id = $1`, id))
}

func (p *Postgres) ListFraudAlerts(ctx context.Context, accountID string, unresolvedOnly bool) ([]domain.FraudAlert, error) {
	rows, err := p.db.Query(ctx, `SELECT `+alertColumns+` FROM fraud_alerts
        WHERE ($1 = '' OR account_id = $1) AND (NOT $2 OR NOT resolved)
        ORDER BY created_at DESC`, accountID, unresolvedOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.FraudAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *Postgres) ResolveFraudAlert(ctx context.Context, id, resolvedBy string, at time.Time) error {
	tag, err := p.db.Exec(ctx, `UPDATE fraud_alerts SET resolved = TRUE, resolved_by = $2, resolved_at = $3
        WHERE id = $1`, id, resolvedBy, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlertNotFound
	}
	return nil
}

const loanColumns = `id, account_id, type, principal, interest_rate, term_months, monthly_payment,
        total_amount, remaining_balance, status, purpose, collateral, applied_at, approved_at,
        disbursed_at, next_payment_date, completed_at`

func scanLoan(row pgx.Row) (domain.Loan, error) {
	var l domain.Loan
	var typ, status string
	if err := row.Scan(&l.ID, &l.AccountID, &typ, &l.Principal, &l.InterestRate, &l.TermMonths,
		&l.MonthlyPayment, &l.TotalAmount, &l.RemainingBalance, &status, &l.Purpose, &l.Collateral,
		&l.AppliedAt, &l.ApprovedAt, &l.DisbursedAt, &l.NextPaymentDate, &l.CompletedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Loan{}, domain.ErrLoanNotFound
		}
		return domain.Loan{}, err
	}
	l.Type = domain.LoanType(typ)
	l.Status = domain.LoanStatus(status)
	return l, nil
}

func (p *Postgres) CreateLoan(ctx context.Context, l domain.Loan) error {
	_, err := p.db.Exec(ctx, `INSERT INTO loans (`+loanColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		l.ID, l.AccountID, string(l.Type), l.Principal, l.InterestRate, l.TermMonths, l.MonthlyPayment,
		l.TotalAmount, l.RemainingBalance, string(l.Status), l.Purpose, l.Collateral, l.AppliedAt,
		l.ApprovedAt, l.DisbursedAt, l.NextPaymentDate, l.CompletedAt)
	if pgCode(err) == pgUniqueViolation {
		return domain.ErrDuplicate
	}
	return err
}

func (p *Postgres) GetLoan(ctx context.Context, id string) (domain.Loan, error) {
	return scanLoan(p.db.QueryRow(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = $1`, id))
}

func (p *Postgres) ListLoans(ctx context.Context, accountID string) ([]domain.Loan, error) {
	rows, err := p.db.Query(ctx, `SELECT `+loanColumns+` FROM loans
        WHERE ($1 = '' OR account_id = $1) ORDER BY applied_at DESC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Loan
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateLoan(ctx context.Context, l domain.Loan, from domain.LoanStatus) error {
	return updateLoan(ctx, p.db, l, from)
}

// updateLoan is a compare-and-set on the loan status.
func updateLoan(ctx context.Context, db execer, l domain.Loan, from domain.LoanStatus) error {
	tag, err := db.Exec(ctx, `UPDATE loans SET interest_rate = $2, monthly_payment = $3, total_amount = $4,
        remaining_balance = $5, status = $6, approved_at = $7, disbursed_at = $8, next_payment_date = $9,
        completed_at = $10 WHERE id = $1 AND status = $11`,
		l.ID, l.InterestRate, l.MonthlyPayment, l.TotalAmount, l.RemainingBalance, string(l.Status),
		l.ApprovedAt, l.DisbursedAt, l.NextPaymentDate, l.CompletedAt, string(from))
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var status string
	if err := db.QueryRow(ctx, `SELECT status FROM loans WHERE id = $1`, l.ID).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrLoanNotFound
		}
		return err
	}
	return fmt.Errorf("%w: loan is %s", domain.ErrInvalidState, status)
}

func (p *Postgres) AppendLoanPayment(ctx context.Context, lp domain.LoanPayment) error {
	return insertLoanPayment(ctx, p.db, lp)
}

func insertLoanPayment(ctx context.Context, db execer, lp domain.LoanPayment) error {
	_, err := db.Exec(ctx, `INSERT INTO loan_payments (id, loan_id, account_id, amount, principal_portion,
        interest_portion, remaining_balance, transaction_id, paid_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		lp.ID, lp.LoanID, lp.AccountID, lp.Amount, lp.PrincipalPortion, lp.InterestPortion,
		lp.RemainingBalance, lp.TransactionID, lp.PaidAt)
	return err
}

func (p *Postgres) ListLoanPayments(ctx context.Context, loanID string) ([]domain.LoanPayment, error) {
	rows, err := p.db.Query(ctx, `SELECT id, loan_id, account_id, amount, principal_portion, interest_portion,
        remaining_balance, transaction_id, paid_at FROM loan_payments WHERE loan_id = $1 ORDER BY paid_at`, loanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.LoanPayment
	for rows.Next() {
		var lp domain.LoanPayment
		if err := rows.Scan(&lp.ID, &lp.LoanID, &lp.AccountID, &lp.Amount, &lp.PrincipalPortion,
			&lp.InterestPortion, &lp.RemainingBalance, &lp.TransactionID, &lp.PaidAt); err != nil {
			return nil, err
		}
		out = append(out, lp)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateBill(ctx context.Context, b domain.Bill) error {
	_, err := p.db.Exec(ctx, `INSERT INTO bills (id, payee, reference, created_at) VALUES ($1, $2, $3, $4)`,
		b.ID, b.Payee, b.Reference, b.CreatedAt)
	if pgCode(err) == pgUniqueViolation {
		return domain.ErrDuplicate
	}
	return err
}

func (p *Postgres) GetBill(ctx context.Context, id string) (domain.Bill, error) {
	var b domain.Bill
	err := p.db.QueryRow(ctx, `SELECT id, payee, reference, created_at FROM bills WHERE id = $1`, id).
		Scan(&b.ID, &b.Payee, &b.Reference, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Bill{}, domain.ErrBillNotFound
	}
	return b, err
}
