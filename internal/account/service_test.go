package account

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/congo-pay/teller/internal/audit"
	"github.com/congo-pay/teller/internal/domain"
	"github.com/congo-pay/teller/internal/ledger"
	"github.com/congo-pay/teller/internal/logging"
	"github.com/congo-pay/teller/internal/session"
	"github.com/congo-pay/teller/internal/store"
)

const password = "Secr3t!pass"

type fixture struct {
	svc      *Service
	sessions *session.Manager
	mem      *store.Memory
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{mem: store.NewMemory(), now: time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }
	logger := logging.Discard()
	auditLog := audit.New(f.mem, logger)
	f.sessions = session.NewManager(f.mem, session.NewMemoryStore(), auditLog, logger, session.DefaultPolicy()).WithClock(clock)
	f.svc = NewService(f.mem, f.sessions, auditLog, logger).WithClock(clock).WithHashCost(bcrypt.MinCost)
	return f
}

func (f *fixture) login(t *testing.T, username string) ledger.Caller {
	t.Helper()
	s, err := f.sessions.Authenticate(context.Background(), username, password, session.Device{})
	require.NoError(t, err)
	return ledger.Caller{SessionID: s.ID}
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.Register(ctx, Registration{Username: "alice", Password: password, PIN: "1234", InitialDeposit: decimal.NewFromInt(250)})
	require.NoError(t, err)
	assert.Len(t, p.AccountNumber, accountNumberDigits)
	assert.NotEqual(t, byte('0'), p.AccountNumber[0])
	assert.Equal(t, domain.RoleUser, p.Role)
	assert.False(t, p.MustChangePassword)
	assert.Equal(t, "250.00", p.Balance.StringFixed(2))

	acct, err := f.mem.GetAccountByIdentifier(ctx, p.AccountNumber)
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword(acct.PasswordHash, []byte(password)))
	assert.NoError(t, bcrypt.CompareHashAndPassword(acct.PINHash, []byte("1234")))
	assert.True(t, acct.Balance.Equal(decimal.NewFromInt(250)))

	txs, err := f.mem.LastTransactions(ctx, acct.ID, 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, domain.TxDeposit, txs[0].Type)

	entries, err := f.mem.ListAuditEntries(ctx, acct.ID, 0)
	require.NoError(t, err)
	var actions []string
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	assert.ElementsMatch(t, []string{domain.ActionAccountCreated, domain.ActionDeposit}, actions)
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		reg  Registration
		want error
	}{
		{"missing username", Registration{Password: password, PIN: "1234"}, domain.ErrInvalidInput},
		{"weak password", Registration{Username: "a", Password: "short", PIN: "1234"}, domain.ErrInvalidInput},
		{"bad pin", Registration{Username: "a", Password: password, PIN: "12a4"}, domain.ErrInvalidInput},
		{"negative deposit", Registration{Username: "a", Password: password, PIN: "1234", InitialDeposit: decimal.NewFromInt(-1)}, domain.ErrInvalidInput},
		{"self-service admin", Registration{Username: "a", Password: password, PIN: "1234", Role: domain.RoleAdmin}, domain.ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Register(ctx, tt.reg)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRegisterRejectsTakenUsername(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, Registration{Username: "alice", Password: password, PIN: "1234"})
	require.NoError(t, err)
	_, err = f.svc.Register(ctx, Registration{Username: "alice", Password: password, PIN: "4321"})
	assert.ErrorIs(t, err, domain.ErrDuplicate)
}

func TestRegisterRetriesAccountNumberCollisions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	numbers := []string{"1000000001", "1000000001", "1000000002"}
	f.svc.nextNumber = func() (string, error) {
		n := numbers[0]
		numbers = numbers[1:]
		return n, nil
	}

	a, err := f.svc.Register(ctx, Registration{Username: "alice", Password: password, PIN: "1234"})
	require.NoError(t, err)
	b, err := f.svc.Register(ctx, Registration{Username: "bob", Password: password, PIN: "1234"})
	require.NoError(t, err)
	assert.Equal(t, "1000000001", a.AccountNumber)
	assert.Equal(t, "1000000002", b.AccountNumber)
}

func TestAdminCreateAndUnlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pw, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, f.mem.CreateAccount(ctx, domain.Account{
		ID: "root", Username: "root", AccountNumber: "9999999999", PasswordHash: pw, Role: domain.RoleAdmin, CreatedAt: f.now,
	}))
	admin := f.login(t, "root")

	p, err := f.svc.Create(ctx, admin, Registration{Username: "teller", Password: password, PIN: "1234"})
	require.NoError(t, err)
	assert.True(t, p.MustChangePassword)
	assert.Equal(t, domain.RoleUser, p.Role)

	user := f.login(t, "teller")
	_, err = f.svc.Create(ctx, user, Registration{Username: "eve", Password: password, PIN: "1234"})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	for i := 0; i < session.DefaultPolicy().MaxPasswordAttempts; i++ {
		_, err = f.sessions.Authenticate(ctx, "teller", fmt.Sprintf("wrong-%d", i), session.Device{})
		require.Error(t, err)
	}
	_, err = f.sessions.Authenticate(ctx, "teller", password, session.Device{})
	require.ErrorIs(t, err, domain.ErrAccountLocked)

	require.NoError(t, f.svc.Unlock(ctx, admin, p.ID))
	acct, err := f.mem.GetAccount(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, acct.Locked)
	assert.Zero(t, acct.FailedPasswordCount)

	prof, err := f.svc.Profile(ctx, f.login(t, "teller"))
	require.NoError(t, err)
	assert.Equal(t, "teller", prof.Username)
}
