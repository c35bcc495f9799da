package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/teller/internal/domain"
)

// Memory is a concurrency-safe in-memory Store for development and tests.
// Every collection is owned by the instance; there is no package state.
type Memory struct {
	mu           sync.RWMutex
	accounts     map[string]domain.Account
	transactions map[string][]domain.Transaction
	audit        []domain.AuditEntry
	alerts       []domain.FraudAlert
	loans        map[string]domain.Loan
	payments     map[string][]domain.LoanPayment
	bills        map[string]domain.Bill
}

// NewMemory builds an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		accounts:     make(map[string]domain.Account),
		transactions: make(map[string][]domain.Transaction),
		loans:        make(map[string]domain.Loan),
		payments:     make(map[string][]domain.LoanPayment),
		bills:        make(map[string]domain.Bill),
	}
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) CreateAccount(_ context.Context, account domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.accounts[account.ID]; exists {
		return domain.ErrDuplicate
	}
	for _, a := range m.accounts {
		if a.Username == account.Username || a.AccountNumber == account.AccountNumber {
			return domain.ErrDuplicate
		}
	}
	m.accounts[account.ID] = account
	return nil
}

func (m *Memory) GetAccount(_ context.Context, id string) (domain.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	if !ok {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	return a, nil
}

func (m *Memory) GetAccountByIdentifier(_ context.Context, identifier string) (domain.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.accounts {
		if a.Username == identifier || a.AccountNumber == identifier {
			return a, nil
		}
	}
	return domain.Account{}, domain.ErrAccountNotFound
}

func (m *Memory) UpdateBalance(ctx context.Context, id string, newBalance decimal.Decimal) error {
	return m.UpdateBalances(ctx, domain.BalanceUpdate{AccountID: id, NewBalance: newBalance})
}

func (m *Memory) UpdateBalances(ctx context.Context, updates ...domain.BalanceUpdate) error {
	return m.Commit(ctx, Batch{Balances: updates})
}

func (m *Memory) Commit(_ context.Context, b Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range b.Balances {
		a, ok := m.accounts[u.AccountID]
		if !ok {
			return domain.ErrAccountNotFound
		}
		if u.Prior != nil && !a.Balance.Equal(*u.Prior) {
			return domain.ErrConcurrentUpdate
		}
		if u.NewBalance.IsNegative() {
			return domain.ErrInsufficientFunds
		}
	}
	if b.Loan != nil {
		if err := m.checkLoan(b.Loan.ID, b.LoanFrom); err != nil {
			return err
		}
	}

	for _, u := range b.Balances {
		a := m.accounts[u.AccountID]
		a.Balance = u.NewBalance
		m.accounts[u.AccountID] = a
	}
	for _, tx := range b.Transactions {
		m.transactions[tx.AccountID] = append(m.transactions[tx.AccountID], tx)
	}
	if b.Loan != nil {
		m.loans[b.Loan.ID] = *b.Loan
	}
	if b.LoanPayment != nil {
		m.payments[b.LoanPayment.LoanID] = append(m.payments[b.LoanPayment.LoanID], *b.LoanPayment)
	}
	return nil
}

func (m *Memory) mutate(id string, fn func(a *domain.Account)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return domain.ErrAccountNotFound
	}
	fn(&a)
	m.accounts[id] = a
	return nil
}

func (m *Memory) LockAccount(_ context.Context, id, reason string, at time.Time) error {
	return m.mutate(id, func(a *domain.Account) {
		a.Locked = true
		a.LockReason = reason
		a.LockedAt = &at
	})
}

func (m *Memory) UnlockAccount(_ context.Context, id string) error {
	return m.mutate(id, func(a *domain.Account) {
		a.Locked = false
		a.LockReason = ""
		a.LockedAt = nil
		a.FailedPasswordCount = 0
		a.FailedPINCount = 0
	})
}

func (m *Memory) IncrementFailedCounter(_ context.Context, id string, kind domain.CounterKind) (int, error) {
	var count int
	err := m.mutate(id, func(a *domain.Account) {
		if kind == domain.CounterPIN {
			a.FailedPINCount++
			count = a.FailedPINCount
			return
		}
		a.FailedPasswordCount++
		count = a.FailedPasswordCount
	})
	return count, err
}

func (m *Memory) ResetFailedCounter(_ context.Context, id string, kind domain.CounterKind) error {
	return m.mutate(id, func(a *domain.Account) {
		if kind == domain.CounterPIN {
			a.FailedPINCount = 0
			return
		}
		a.FailedPasswordCount = 0
	})
}

func (m *Memory) ResetFailedCounters(_ context.Context, id string) error {
	return m.mutate(id, func(a *domain.Account) {
		a.FailedPasswordCount = 0
		a.FailedPINCount = 0
	})
}

func (m *Memory) UpdatePIN(_ context.Context, id string, pinHash []byte) error {
	return m.mutate(id, func(a *domain.Account) { a.PINHash = pinHash })
}

func (m *Memory) UpdatePassword(_ context.Context, id string, passwordHash []byte, changedAt time.Time) error {
	return m.mutate(id, func(a *domain.Account) {
		a.PasswordHash = passwordHash
		a.MustChangePassword = false
		a.PasswordChangedAt = &changedAt
	})
}

func (m *Memory) StampLastLogin(_ context.Context, id string, at time.Time) error {
	return m.mutate(id, func(a *domain.Account) { a.LastLogin = &at })
}

func (m *Memory) AppendTransaction(_ context.Context, tx domain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions[tx.AccountID] = append(m.transactions[tx.AccountID], tx)
	return nil
}

func (m *Memory) RecentTransactions(_ context.Context, accountID string, since time.Time) ([]domain.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Transaction
	for _, tx := range m.transactions[accountID] {
		if !tx.CreatedAt.Before(since) {
			out = append(out, tx)
		}
	}
	sortTransactions(out)
	return out, nil
}

func (m *Memory) LastTransactions(_ context.Context, accountID string, limit int) ([]domain.Transaction, error) {
	m.mu.RLock()
	all := append([]domain.Transaction(nil), m.transactions[accountID]...)
	m.mu.RUnlock()
	sortTransactions(all)
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func sortTransactions(txs []domain.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool { return txs[i].CreatedAt.After(txs[j].CreatedAt) })
}

func (m *Memory) AppendAuditEntry(_ context.Context, entry domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, entry)
	return nil
}

func (m *Memory) ListAuditEntries(_ context.Context, accountID string, limit int) ([]domain.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.AuditEntry
	for i := len(m.audit) - 1; i >= 0; i-- {
		if accountID != "" && m.audit[i].AccountID != accountID {
			continue
		}
		out = append(out, m.audit[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) AppendFraudAlert(_ context.Context, alert domain.FraudAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, alert)
	return nil
}

func (m *Memory) GetFraudAlert(_ context.Context, id string) (domain.FraudAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.alerts {
		if a.ID == id {
			return a, nil
		}
	}
	return domain.FraudAlert{}, domain.ErrAlertNotFound
}

func (m *Memory) ListFraudAlerts(_ context.Context, accountID string, unresolvedOnly bool) ([]domain.FraudAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.FraudAlert
	for i := len(m.alerts) - 1; i >= 0; i-- {
		a := m.alerts[i]
		if accountID != "" && a.AccountID != accountID {
			continue
		}
		if unresolvedOnly && a.Resolved {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (m *Memory) ResolveFraudAlert(_ context.Context, id, resolvedBy string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.alerts {
		if m.alerts[i].ID == id {
			m.alerts[i].Resolved = true
			m.alerts[i].ResolvedBy = resolvedBy
			m.alerts[i].ResolvedAt = &at
			return nil
		}
	}
	return domain.ErrAlertNotFound
}

func (m *Memory) CreateLoan(_ context.Context, loan domain.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.loans[loan.ID]; exists {
		return domain.ErrDuplicate
	}
	m.loans[loan.ID] = loan
	return nil
}

func (m *Memory) GetLoan(_ context.Context, id string) (domain.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.loans[id]
	if !ok {
		return domain.Loan{}, domain.ErrLoanNotFound
	}
	return l, nil
}

func (m *Memory) ListLoans(_ context.Context, accountID string) ([]domain.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Loan
	for _, l := range m.loans {
		if accountID == "" || l.AccountID == accountID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AppliedAt.After(out[j].AppliedAt) })
	return out, nil
}

func (m *Memory) UpdateLoan(_ context.Context, loan domain.Loan, from domain.LoanStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkLoan(loan.ID, from); err != nil {
		return err
	}
	m.loans[loan.ID] = loan
	return nil
}

// checkLoan requires the loan to exist in status from. Callers hold mu.
func (m *Memory) checkLoan(id string, from domain.LoanStatus) error {
	l, ok := m.loans[id]
	if !ok {
		return domain.ErrLoanNotFound
	}
	if l.Status != from {
		return fmt.Errorf("%w: loan is %s", domain.ErrInvalidState, l.Status)
	}
	return nil
}

func (m *Memory) AppendLoanPayment(_ context.Context, payment domain.LoanPayment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[payment.LoanID] = append(m.payments[payment.LoanID], payment)
	return nil
}

func (m *Memory) ListLoanPayments(_ context.Context, loanID string) ([]domain.LoanPayment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.LoanPayment(nil), m.payments[loanID]...), nil
}

func (m *Memory) CreateBill(_ context.Context, bill domain.Bill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.bills[bill.ID]; exists {
		return domain.ErrDuplicate
	}
	m.bills[bill.ID] = bill
	return nil
}

func (m *Memory) GetBill(_ context.Context, id string) (domain.Bill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bills[id]
	if !ok {
		return domain.Bill{}, domain.ErrBillNotFound
	}
	return b, nil
}
