package store

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/teller/internal/domain"
	"github.com/congo-pay/teller/migrations"
)

// openTestPostgres migrates and connects to TEST_DATABASE_URL, skipping when unset.
func openTestPostgres(t *testing.T) *Postgres {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := sql.Open("postgres", url)
	require.NoError(t, err)
	defer db.Close()
	goose.SetBaseFS(migrations.FS)
	require.NoError(t, goose.SetDialect("postgres"))
	require.NoError(t, goose.Up(db, "."))

	pool, err := pgxpool.New(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return NewPostgres(pool)
}

func TestPostgres_AccountLifecycle(t *testing.T) {
	p := openTestPostgres(t)
	ctx := context.Background()

	id := uuid.NewString()
	other := uuid.NewString()
	now := time.Now().UTC().Truncate(time.Microsecond)
	for _, acctID := range []string{id, other} {
		require.NoError(t, p.CreateAccount(ctx, domain.Account{
			ID:            acctID,
			Username:      "user-" + acctID,
			AccountNumber: "ACC-" + acctID,
			Balance:       decimal.NewFromInt(100),
			PasswordHash:  []byte("x"),
			PINHash:       []byte("y"),
			Role:          domain.RoleUser,
			CreatedAt:     now,
		}))
	}

	n, err := p.IncrementFailedCounter(ctx, id, domain.CounterPIN)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, p.UpdateBalances(ctx,
		domain.BalanceUpdate{AccountID: id, NewBalance: decimal.NewFromInt(40)},
		domain.BalanceUpdate{AccountID: other, NewBalance: decimal.NewFromInt(160)},
	))
	err = p.UpdateBalance(ctx, id, decimal.NewFromInt(-1))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	a, err := p.GetAccountByIdentifier(ctx, "ACC-"+id)
	require.NoError(t, err)
	assert.True(t, a.Balance.Equal(decimal.NewFromInt(40)))
	assert.Equal(t, 1, a.FailedPINCount)

	stale := decimal.NewFromInt(100)
	err = p.Commit(ctx, Batch{Balances: []domain.BalanceUpdate{{AccountID: id, NewBalance: decimal.NewFromInt(30), Prior: &stale}}})
	require.ErrorIs(t, err, domain.ErrConcurrentUpdate)
	current := decimal.NewFromInt(40)
	require.NoError(t, p.Commit(ctx, Batch{Balances: []domain.BalanceUpdate{{AccountID: id, NewBalance: decimal.NewFromInt(30), Prior: &current}}}))

	_, err = p.GetAccount(ctx, uuid.NewString())
	require.ErrorIs(t, err, domain.ErrAccountNotFound)
}
