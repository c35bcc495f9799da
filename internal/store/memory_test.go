package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/teller/internal/domain"
)

func seed(t *testing.T, m *Memory, id, username string, balance int64) {
	t.Helper()
	require.NoError(t, m.CreateAccount(context.Background(), domain.Account{
		ID:            id,
		Username:      username,
		AccountNumber: "ACC-" + id,
		Balance:       decimal.NewFromInt(balance),
		Role:          domain.RoleUser,
		CreatedAt:     time.Now(),
	}))
}

func TestMemory_CreateAccountRejectsDuplicates(t *testing.T) {
	m := NewMemory()
	seed(t, m, "a", "alice", 0)

	err := m.CreateAccount(context.Background(), domain.Account{ID: "b", Username: "alice", AccountNumber: "ACC-b"})
	require.ErrorIs(t, err, domain.ErrDuplicate)
}

func TestMemory_GetAccountByIdentifier(t *testing.T) {
	m := NewMemory()
	seed(t, m, "a", "alice", 0)
	ctx := context.Background()

	byName, err := m.GetAccountByIdentifier(ctx, "alice")
	require.NoError(t, err)
	byNumber, err := m.GetAccountByIdentifier(ctx, "ACC-a")
	require.NoError(t, err)
	assert.Equal(t, byName.ID, byNumber.ID)

	_, err = m.GetAccountByIdentifier(ctx, "bob")
	require.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestMemory_UpdateBalancesIsAllOrNothing(t *testing.T) {
	m := NewMemory()
	seed(t, m, "a", "alice", 100)
	ctx := context.Background()

	err := m.UpdateBalances(ctx,
		domain.BalanceUpdate{AccountID: "a", NewBalance: decimal.NewFromInt(50)},
		domain.BalanceUpdate{AccountID: "missing", NewBalance: decimal.NewFromInt(50)},
	)
	require.ErrorIs(t, err, domain.ErrAccountNotFound)

	a, err := m.GetAccount(ctx, "a")
	require.NoError(t, err)
	assert.True(t, a.Balance.Equal(decimal.NewFromInt(100)), "balance changed to %s", a.Balance)
}

func TestMemory_CountersAndLock(t *testing.T) {
	m := NewMemory()
	seed(t, m, "a", "alice", 0)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		n, err := m.IncrementFailedCounter(ctx, "a", domain.CounterPassword)
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}
	n, err := m.IncrementFailedCounter(ctx, "a", domain.CounterPIN)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, m.LockAccount(ctx, "a", domain.LockReasonPassword, time.Now()))
	a, _ := m.GetAccount(ctx, "a")
	assert.True(t, a.Locked)
	assert.Equal(t, 3, a.FailedPasswordCount)

	require.NoError(t, m.UnlockAccount(ctx, "a"))
	a, _ = m.GetAccount(ctx, "a")
	assert.False(t, a.Locked)
	assert.Nil(t, a.LockedAt)
	assert.Zero(t, a.FailedPasswordCount)
	assert.Zero(t, a.FailedPINCount)
}

func TestMemory_RecentTransactionsWindow(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now()

	for i, age := range []time.Duration{time.Minute, 5 * time.Minute, 20 * time.Minute} {
		require.NoError(t, m.AppendTransaction(ctx, domain.Transaction{
			ID:        string(rune('x' + i)),
			AccountID: "a",
			Type:      domain.TxWithdrawal,
			Amount:    decimal.NewFromInt(10),
			Status:    domain.StatusSuccess,
			CreatedAt: now.Add(-age),
		}))
	}

	recent, err := m.RecentTransactions(ctx, "a", now.Add(-10*time.Minute))
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.True(t, recent[0].CreatedAt.After(recent[1].CreatedAt))

	last, err := m.LastTransactions(ctx, "a", 1)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, recent[0].ID, last[0].ID)
}

func TestMemory_ResolveFraudAlert(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.AppendFraudAlert(ctx, domain.FraudAlert{ID: "f1", AccountID: "a", Type: domain.AlertSuspiciousAmount}))
	require.NoError(t, m.AppendFraudAlert(ctx, domain.FraudAlert{ID: "f2", AccountID: "b", Type: domain.AlertUnusualPattern}))

	require.NoError(t, m.ResolveFraudAlert(ctx, "f1", "admin", time.Now()))
	require.ErrorIs(t, m.ResolveFraudAlert(ctx, "nope", "admin", time.Now()), domain.ErrAlertNotFound)

	open, err := m.ListFraudAlerts(ctx, "", true)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "f2", open[0].ID)
}

func TestGuarded_TimeoutBecomesUnavailable(t *testing.T) {
	mem := NewMemory()
	seed(t, mem, "a", "alice", 10)
	faulty := NewFaulty(mem)
	faulty.StallNext("UpdateBalance", 1, time.Second)
	g := NewGuarded(faulty, 20*time.Millisecond)

	err := g.UpdateBalance(context.Background(), "a", decimal.NewFromInt(5))
	require.ErrorIs(t, err, domain.ErrPersistenceUnavailable)

	require.NoError(t, g.UpdateBalance(context.Background(), "a", decimal.NewFromInt(5)))
}

func TestGuarded_DomainErrorsPassThrough(t *testing.T) {
	g := NewGuarded(NewMemory(), time.Second)

	_, err := g.GetAccount(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrAccountNotFound)
	assert.False(t, errors.Is(err, domain.ErrPersistenceUnavailable))
}

func TestMemory_CommitRejectsStalePriorBalance(t *testing.T) {
	m := NewMemory()
	seed(t, m, "a", "alice", 100)
	seed(t, m, "b", "bob", 0)
	ctx := context.Background()

	stale := decimal.NewFromInt(90)
	current := decimal.NewFromInt(100)
	err := m.Commit(ctx, Batch{Balances: []domain.BalanceUpdate{
		{AccountID: "a", NewBalance: decimal.NewFromInt(40), Prior: &stale},
		{AccountID: "b", NewBalance: decimal.NewFromInt(60)},
	}})
	require.ErrorIs(t, err, domain.ErrConcurrentUpdate)
	b, err := m.GetAccount(ctx, "b")
	require.NoError(t, err)
	assert.True(t, b.Balance.IsZero())

	require.NoError(t, m.Commit(ctx, Batch{Balances: []domain.BalanceUpdate{
		{AccountID: "a", NewBalance: decimal.NewFromInt(40), Prior: &current},
	}}))
	a, err := m.GetAccount(ctx, "a")
	require.NoError(t, err)
	assert.True(t, a.Balance.Equal(decimal.NewFromInt(40)))
}

func TestMemory_LoanUpdatesAreConditionalOnStatus(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	l := domain.Loan{ID: "l1", AccountID: "a", Status: domain.LoanPending}
	require.NoError(t, m.CreateLoan(ctx, l))

	l.Status = domain.LoanApproved
	require.NoError(t, m.UpdateLoan(ctx, l, domain.LoanPending))

	l.Status = domain.LoanRejected
	err := m.UpdateLoan(ctx, l, domain.LoanPending)
	require.ErrorIs(t, err, domain.ErrInvalidState)

	err = m.Commit(ctx, Batch{Loan: &domain.Loan{ID: "l1", Status: domain.LoanActive}, LoanFrom: domain.LoanPending})
	require.ErrorIs(t, err, domain.ErrInvalidState)

	stored, err := m.GetLoan(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, domain.LoanApproved, stored.Status)

	err = m.UpdateLoan(ctx, domain.Loan{ID: "missing"}, domain.LoanPending)
	require.ErrorIs(t, err, domain.ErrLoanNotFound)
}
