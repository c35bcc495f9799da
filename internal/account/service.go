// Package account handles onboarding, profiles and the admin unlock surface.
package account

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/congo-pay/teller/internal/audit"
	"github.com/congo-pay/teller/internal/domain"
	"github.com/congo-pay/teller/internal/ledger"
	"github.com/congo-pay/teller/internal/logging"
	"github.com/congo-pay/teller/internal/metrics"
	"github.com/congo-pay/teller/internal/session"
	"github.com/congo-pay/teller/internal/store"
)

const (
	accountNumberDigits = 10
	numberAttempts      = 5
)

// Registration is the input to account creation.
type Registration struct {
	Username       string
	Password       string
	PIN            string
	Role           domain.Role
	InitialDeposit decimal.Decimal
}

// Profile is the public view of an account.
type Profile struct {
	ID                 string          `json:"id"`
	Username           string          `json:"username"`
	AccountNumber      string          `json:"account_number"`
	Balance            decimal.Decimal `json:"balance"`
	Role               domain.Role     `json:"role"`
	CreditScore        int             `json:"credit_score,omitempty"`
	MustChangePassword bool            `json:"must_change_password"`
	LastLogin          *time.Time      `json:"last_login,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}

// ProfileOf strips credentials and lock internals from a.
func ProfileOf(a domain.Account) Profile {
	return Profile{
		ID:                 a.ID,
		Username:           a.Username,
		AccountNumber:      a.AccountNumber,
		Balance:            a.Balance,
		Role:               a.Role,
		CreditScore:        a.CreditScore,
		MustChangePassword: a.MustChangePassword,
		LastLogin:          a.LastLogin,
		CreatedAt:          a.CreatedAt,
	}
}

// Service manages the account lifecycle outside the ledger.
type Service struct {
	store      store.Store
	sessions   *session.Manager
	audit      *audit.Logger
	logger     *slog.Logger
	now        func() time.Time
	hashCost   int
	nextNumber func() (string, error)
}

// NewService creates an account service.
func NewService(st store.Store, sessions *session.Manager, auditLog *audit.Logger, logger *slog.Logger) *Service {
	return &Service{
		store:      st,
		sessions:   sessions,
		audit:      auditLog,
		logger:     logger,
		now:        time.Now,
		hashCost:   bcrypt.DefaultCost,
		nextNumber: randomAccountNumber,
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithHashCost sets the bcrypt cost for new credentials.
func (s *Service) WithHashCost(cost int) *Service {
	s.hashCost = cost
	return s
}

// Register is self-service onboarding. It always opens a USER account.
func (s *Service) Register(ctx context.Context, reg Registration) (Profile, error) {
	if reg.Role != "" && reg.Role != domain.RoleUser {
		return Profile{}, domain.ErrForbidden
	}
	reg.Role = domain.RoleUser
	acct, err := s.open(ctx, reg, false, "self-service")
	if err != nil {
		return Profile{}, err
	}
	return ProfileOf(acct), nil
}

// Create opens an account on behalf of an administrator. The holder must
// change the password at first use.
func (s *Service) Create(ctx context.Context, c ledger.Caller, reg Registration) (Profile, error) {
	lease, err := s.sessions.Begin(ctx, c.SessionID, c.Fingerprint)
	if err != nil {
		return Profile{}, err
	}
	defer lease.Release()
	if !lease.Account.IsAdmin() {
		return Profile{}, domain.ErrForbidden
	}
	if reg.Role == "" {
		reg.Role = domain.RoleUser
	}
	if reg.Role != domain.RoleUser && reg.Role != domain.RoleAdmin {
		return Profile{}, domain.Invalid("role", "must be USER or ADMIN")
	}
	acct, err := s.open(ctx, reg, true, "by "+lease.Account.ID)
	if err != nil {
		return Profile{}, err
	}
	return ProfileOf(acct), nil
}

func (s *Service) open(ctx context.Context, reg Registration, mustChange bool, origin string) (domain.Account, error) {
	reg.Username = strings.TrimSpace(reg.Username)
	if reg.Username == "" {
		return domain.Account{}, domain.Invalid("username", "is required")
	}
	if err := domain.ValidatePassword(reg.Password); err != nil {
		return domain.Account{}, err
	}
	if err := domain.ValidatePIN(reg.PIN); err != nil {
		return domain.Account{}, err
	}
	if reg.InitialDeposit.IsNegative() || !reg.InitialDeposit.Equal(reg.InitialDeposit.Round(2)) {
		return domain.Account{}, domain.Invalid("initial_deposit", "must be a non-negative amount with at most two decimal places")
	}

	pw, err := bcrypt.GenerateFromPassword([]byte(reg.Password), s.hashCost)
	if err != nil {
		return domain.Account{}, fmt.Errorf("hash password: %w", err)
	}
	pin, err := bcrypt.GenerateFromPassword([]byte(reg.PIN), s.hashCost)
	if err != nil {
		return domain.Account{}, fmt.Errorf("hash pin: %w", err)
	}

	now := s.now().UTC()
	acct := domain.Account{
		ID:                 uuid.NewString(),
		Username:           reg.Username,
		Balance:            decimal.Zero,
		PasswordHash:       pw,
		PINHash:            pin,
		Role:               reg.Role,
		MustChangePassword: mustChange,
		CreatedAt:          now,
	}
	if err := s.insert(ctx, &acct); err != nil {
		return domain.Account{}, err
	}
	s.audit.Append(ctx, acct.ID, domain.ActionAccountCreated, fmt.Sprintf("%s account %s opened %s", acct.Role, acct.AccountNumber, origin))

	if reg.InitialDeposit.IsPositive() {
		tx := domain.Transaction{
			ID:          uuid.NewString(),
			AccountID:   acct.ID,
			Type:        domain.TxDeposit,
			Amount:      reg.InitialDeposit,
			Status:      domain.StatusSuccess,
			Description: "opening deposit",
			CreatedAt:   now,
		}
		err := s.store.Commit(ctx, store.Batch{
			Balances:     []domain.BalanceUpdate{{AccountID: acct.ID, NewBalance: reg.InitialDeposit}},
			Transactions: []domain.Transaction{tx},
		})
		if err != nil {
			return domain.Account{}, fmt.Errorf("opening deposit: %w", err)
		}
		metrics.TransactionsTotal.WithLabelValues(string(domain.TxDeposit), string(domain.StatusSuccess)).Inc()
		s.audit.Append(ctx, acct.ID, domain.ActionDeposit, "opening deposit "+reg.InitialDeposit.StringFixed(2))
		acct.Balance = reg.InitialDeposit
	}

	logging.FromContext(ctx, s.logger).Info("account opened", "account_id", acct.ID, "role", acct.Role)
	return acct, nil
}

// insert draws account numbers until one is free. A duplicate username is
// reported as such rather than retried.
func (s *Service) insert(ctx context.Context, acct *domain.Account) error {
	if _, err := s.store.GetAccountByIdentifier(ctx, acct.Username); err == nil {
		return fmt.Errorf("%w: username %q is taken", domain.ErrDuplicate, acct.Username)
	} else if !errors.Is(err, domain.ErrAccountNotFound) {
		return err
	}
	for i := 0; i < numberAttempts; i++ {
		number, err := s.nextNumber()
		if err != nil {
			return fmt.Errorf("account number: %w", err)
		}
		acct.AccountNumber = number
		err = s.store.CreateAccount(ctx, *acct)
		if !errors.Is(err, domain.ErrDuplicate) {
			return err
		}
	}
	return fmt.Errorf("%w: no free account number after %d attempts", domain.ErrDuplicate, numberAttempts)
}

// Profile returns the caller's own account view.
func (s *Service) Profile(ctx context.Context, c ledger.Caller) (Profile, error) {
	lease, err := s.sessions.Begin(ctx, c.SessionID, c.Fingerprint)
	if err != nil {
		return Profile{}, err
	}
	defer lease.Release()
	return ProfileOf(lease.Account), nil
}

// Unlock clears the lock and every failed counter on accountID. The caller
// must be an administrator.
func (s *Service) Unlock(ctx context.Context, c ledger.Caller, accountID string) error {
	lease, err := s.sessions.Begin(ctx, c.SessionID, c.Fingerprint)
	if err != nil {
		return err
	}
	defer lease.Release()
	return s.sessions.Unlock(ctx, lease.Account, accountID)
}

func randomAccountNumber() (string, error) {
	var b strings.Builder
	for i := 0; i < accountNumberDigits; i++ {
		d, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		if i == 0 && d.Int64() == 0 {
			d = big.NewInt(1)
		}
		b.WriteString(d.String())
	}
	return b.String(), nil
}
