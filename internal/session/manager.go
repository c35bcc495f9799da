// Package session authenticates cardholders, enforces lockout and
// second-factor policy, and guards every session-scoped operation.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/congo-pay/teller/internal/audit"
	"github.com/congo-pay/teller/internal/domain"
	"github.com/congo-pay/teller/internal/logging"
	"github.com/congo-pay/teller/internal/metrics"
	"github.com/congo-pay/teller/internal/store"
)

// Policy holds the lockout and session thresholds.
type Policy struct {
	SessionTTL           time.Duration
	LockoutDuration      time.Duration
	MaxPasswordAttempts  int
	MaxPINAttempts       int
	PINLockRequiresAdmin bool
	RequireSecondFactor  bool
}

// DefaultPolicy returns the production defaults.
func DefaultPolicy() Policy {
	return Policy{
		SessionTTL:          30 * time.Minute,
		LockoutDuration:     15 * time.Minute,
		MaxPasswordAttempts: 5,
		MaxPINAttempts:      3,
	}
}

// Observer is told when sessions begin and end.
type Observer interface {
	SessionStarted(s domain.Session)
	SessionEnded(sessionID string)
}

// FailureReporter is told when a failed-attempt threshold locks an account.
type FailureReporter interface {
	ReportRepeatedFailures(ctx context.Context, accountID string, kind domain.CounterKind, attempts int)
}

// LoginScorer rates a successful login. The score is advisory.
type LoginScorer interface {
	ScoreLogin(ctx context.Context, accountID, fingerprint, platform string) (float64, error)
}

// Device identifies the terminal presenting credentials.
type Device struct {
	Fingerprint string
	Platform    string
}

// Manager is the session authority.
type Manager struct {
	accounts store.AccountStore
	sessions Store
	audit    *audit.Logger
	logger   *slog.Logger
	policy   Policy
	now      func() time.Time

	observers []Observer
	failures  FailureReporter
	scorer    LoginScorer

	guardsMu sync.Mutex
	guards   map[string]*sessionGuard
}

// NewManager wires a Manager.
func NewManager(accounts store.AccountStore, sessions Store, auditLog *audit.Logger, logger *slog.Logger, policy Policy) *Manager {
	return &Manager{
		accounts: accounts,
		sessions: sessions,
		audit:    auditLog,
		logger:   logger,
		policy:   policy,
		now:      time.Now,
		guards:   make(map[string]*sessionGuard),
	}
}

// WithClock overrides the time source.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Observe registers an observer of session lifecycle events.
func (m *Manager) Observe(o Observer) {
	m.observers = append(m.observers, o)
}

// ReportFailuresTo sets the receiver of lockout events.
func (m *Manager) ReportFailuresTo(r FailureReporter) {
	m.failures = r
}

// ScoreLoginsWith sets the login risk scorer.
func (m *Manager) ScoreLoginsWith(s LoginScorer) {
	m.scorer = s
}

// Policy returns the active policy.
func (m *Manager) Policy() Policy { return m.policy }

// Authenticate checks identifier and password and opens a session.
func (m *Manager) Authenticate(ctx context.Context, identifier, password string, device Device) (domain.Session, error) {
	log := logging.FromContext(ctx, m.logger)

	acct, err := m.accounts.GetAccountByIdentifier(ctx, identifier)
	if errors.Is(err, domain.ErrAccountNotFound) {
		metrics.AuthFailuresTotal.WithLabelValues(string(domain.CounterPassword)).Inc()
		m.audit.Append(ctx, "", domain.ActionLoginFailed, "unknown identifier")
		return domain.Session{}, domain.ErrInvalidCredentials
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("load account: %w", err)
	}

	if acct, err = m.admit(ctx, acct); err != nil {
		return domain.Session{}, err
	}

	if bcrypt.CompareHashAndPassword(acct.PasswordHash, []byte(password)) != nil {
		if err := m.recordFailure(ctx, acct, domain.CounterPassword); err != nil {
			return domain.Session{}, err
		}
		return domain.Session{}, domain.ErrInvalidCredentials
	}

	if err := m.accounts.ResetFailedCounter(ctx, acct.ID, domain.CounterPassword); err != nil {
		return domain.Session{}, fmt.Errorf("reset password counter: %w", err)
	}
	now := m.now().UTC()
	if err := m.accounts.StampLastLogin(ctx, acct.ID, now); err != nil {
		return domain.Session{}, fmt.Errorf("stamp last login: %w", err)
	}

	s := domain.Session{
		ID:                   uuid.NewString(),
		AccountID:            acct.ID,
		Fingerprint:          device.Fingerprint,
		SecondFactorVerified: !m.policy.RequireSecondFactor,
		Active:               true,
		CreatedAt:            now,
	}
	if m.scorer != nil && device.Fingerprint != "" {
		score, err := m.scorer.ScoreLogin(ctx, acct.ID, device.Fingerprint, device.Platform)
		if err != nil {
			log.Warn("login risk scoring failed", "account_id", acct.ID, "error", err)
		}
		s.RiskScore = score
	}
	if err := m.sessions.Create(ctx, s, m.policy.SessionTTL); err != nil {
		return domain.Session{}, fmt.Errorf("create session: %w", err)
	}

	metrics.ActiveSessions.Inc()
	m.audit.Append(ctx, acct.ID, domain.ActionLoginSuccess, fmt.Sprintf("session %s", s.ID))
	for _, o := range m.observers {
		o.SessionStarted(s)
	}
	return s, nil
}

// VerifySecondFactor checks the PIN for an open session.
func (m *Manager) VerifySecondFactor(ctx context.Context, sessionID, pin string) error {
	s, status, err := m.sessions.Validate(ctx, sessionID, m.now(), m.policy.SessionTTL)
	if err != nil {
		return fmt.Errorf("validate session: %w", err)
	}
	if status != StatusValid {
		m.settle(ctx, s, status)
		return domain.ErrSessionInvalid
	}

	acct, err := m.accounts.GetAccount(ctx, s.AccountID)
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}
	if acct, err = m.admit(ctx, acct); err != nil {
		return err
	}
	if err := m.CheckPIN(ctx, acct, pin); err != nil {
		return err
	}
	if err := m.sessions.MarkSecondFactor(ctx, sessionID); err != nil {
		return fmt.Errorf("mark second factor: %w", err)
	}
	m.audit.Append(ctx, acct.ID, domain.ActionPINVerified, fmt.Sprintf("session %s", sessionID))
	return nil
}

// CheckPIN compares pin against the account's PIN, counting a mismatch
// toward the PIN lockout threshold.
func (m *Manager) CheckPIN(ctx context.Context, acct domain.Account, pin string) error {
	if bcrypt.CompareHashAndPassword(acct.PINHash, []byte(pin)) != nil {
		if err := m.recordFailure(ctx, acct, domain.CounterPIN); err != nil {
			return err
		}
		return domain.ErrInvalidPIN
	}
	if acct.FailedPINCount > 0 {
		if err := m.accounts.ResetFailedCounter(ctx, acct.ID, domain.CounterPIN); err != nil {
			return fmt.Errorf("reset pin counter: %w", err)
		}
	}
	return nil
}

// CheckPassword compares password against the account's password, counting
// a mismatch toward the password lockout threshold.
func (m *Manager) CheckPassword(ctx context.Context, acct domain.Account, password string) error {
	if bcrypt.CompareHashAndPassword(acct.PasswordHash, []byte(password)) != nil {
		if err := m.recordFailure(ctx, acct, domain.CounterPassword); err != nil {
			return err
		}
		return domain.ErrInvalidCredentials
	}
	return nil
}

// Validate reports whether the session is usable. Crossing the TTL
// invalidates the session as a side effect.
func (m *Manager) Validate(ctx context.Context, sessionID string) (bool, error) {
	s, status, err := m.sessions.Validate(ctx, sessionID, m.now(), m.policy.SessionTTL)
	if err != nil {
		return false, fmt.Errorf("validate session: %w", err)
	}
	m.settle(ctx, s, status)
	return status == StatusValid, nil
}

// Terminate ends the session. Ending an unknown or inactive session is a
// no-op. It waits for in-flight operations on the session to finish.
func (m *Manager) Terminate(ctx context.Context, sessionID string) error {
	return m.terminate(ctx, sessionID, domain.ActionLogout, "logout")
}

// RecordRisk stores the latest advisory risk score on the session.
func (m *Manager) RecordRisk(ctx context.Context, sessionID string, score float64) error {
	return m.sessions.SetRiskScore(ctx, sessionID, score)
}

// Unlock clears a lock and every failed counter. Only administrators may call it.
func (m *Manager) Unlock(ctx context.Context, actor domain.Account, accountID string) error {
	if !actor.IsAdmin() {
		return domain.ErrForbidden
	}
	if _, err := m.accounts.GetAccount(ctx, accountID); err != nil {
		return err
	}
	if err := m.accounts.UnlockAccount(ctx, accountID); err != nil {
		return fmt.Errorf("unlock account: %w", err)
	}
	m.audit.Append(ctx, accountID, domain.ActionAccountUnlocked, fmt.Sprintf("unlocked by %s", actor.ID))
	return nil
}

// Lease is an admitted session. The session cannot be terminated until
// the lease is released.
type Lease struct {
	Session domain.Session
	Account domain.Account
	release func()
	once    sync.Once
}

// Release ends the lease. It is safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(l.release)
}

// Begin admits one operation on the session. The session must be active,
// inside its TTL, past the second factor when policy requires it, and
// owned by an unlocked account. A fingerprint that differs from the one
// bound at login terminates the session.
func (m *Manager) Begin(ctx context.Context, sessionID, fingerprint string) (*Lease, error) {
	g := m.acquire(sessionID)
	g.RLock()
	done := func() {
		g.RUnlock()
		m.put(sessionID, g)
	}

	s, status, err := m.sessions.Validate(ctx, sessionID, m.now(), m.policy.SessionTTL)
	if err != nil {
		done()
		return nil, fmt.Errorf("validate session: %w", err)
	}
	if status != StatusValid {
		done()
		m.settle(ctx, s, status)
		return nil, domain.ErrSessionInvalid
	}

	if s.Fingerprint != "" && fingerprint != s.Fingerprint {
		done()
		logging.FromContext(ctx, m.logger).Warn("session fingerprint mismatch", "session_id", sessionID, "account_id", s.AccountID)
		if err := m.terminate(ctx, sessionID, domain.ActionSessionTamper, "device fingerprint mismatch"); err != nil {
			return nil, err
		}
		return nil, domain.ErrSessionInvalid
	}
	if !s.SecondFactorVerified {
		done()
		return nil, fmt.Errorf("%w: second factor not verified", domain.ErrSessionInvalid)
	}

	acct, err := m.accounts.GetAccount(ctx, s.AccountID)
	if err != nil {
		done()
		return nil, fmt.Errorf("load account: %w", err)
	}
	if acct.Locked {
		done()
		return nil, m.lockedError(acct)
	}
	return &Lease{Session: s, Account: acct, release: done}, nil
}

func (m *Manager) terminate(ctx context.Context, sessionID, action, detail string) error {
	g := m.acquire(sessionID)
	g.Lock()
	s, wasActive, err := m.sessions.Terminate(ctx, sessionID, m.now().UTC())
	g.Unlock()
	m.put(sessionID, g)
	if err != nil {
		return fmt.Errorf("terminate session: %w", err)
	}
	if !wasActive {
		return nil
	}
	m.ended(ctx, s, action, detail)
	return nil
}

// settle performs the side effects of a validity check that expired the session.
func (m *Manager) settle(ctx context.Context, s domain.Session, status Status) {
	if status == StatusExpired {
		m.ended(ctx, s, domain.ActionSessionExpired, "session ttl elapsed")
	}
}

func (m *Manager) ended(ctx context.Context, s domain.Session, action, detail string) {
	metrics.ActiveSessions.Dec()
	m.audit.Append(ctx, s.AccountID, action, fmt.Sprintf("session %s: %s", s.ID, detail))
	for _, o := range m.observers {
		o.SessionEnded(s.ID)
	}
}

// admit applies a due auto-unlock and rejects accounts that remain locked.
func (m *Manager) admit(ctx context.Context, acct domain.Account) (domain.Account, error) {
	if !acct.Locked {
		return acct, nil
	}
	if !m.unlockDue(acct) {
		return acct, m.lockedError(acct)
	}
	if err := m.accounts.UnlockAccount(ctx, acct.ID); err != nil {
		return acct, fmt.Errorf("auto unlock: %w", err)
	}
	m.audit.Append(ctx, acct.ID, domain.ActionAutoUnlocked, fmt.Sprintf("lockout elapsed (%s)", acct.LockReason))
	logging.FromContext(ctx, m.logger).Info("account auto-unlocked", "account_id", acct.ID)

	acct.Locked = false
	acct.LockReason = ""
	acct.LockedAt = nil
	acct.FailedPasswordCount = 0
	acct.FailedPINCount = 0
	return acct, nil
}

func (m *Manager) unlockDue(acct domain.Account) bool {
	if acct.LockedAt == nil {
		return false
	}
	if m.policy.PINLockRequiresAdmin && acct.LockReason == domain.LockReasonPIN {
		return false
	}
	return !m.now().Before(acct.LockedUntil(m.policy.LockoutDuration))
}

func (m *Manager) lockedError(acct domain.Account) *domain.LockedError {
	e := &domain.LockedError{Reason: acct.LockReason}
	if acct.LockedAt != nil {
		e.LockedAt = *acct.LockedAt
		if !(m.policy.PINLockRequiresAdmin && acct.LockReason == domain.LockReasonPIN) {
			e.Until = acct.LockedUntil(m.policy.LockoutDuration)
		}
	}
	return e
}

// recordFailure counts one failed attempt and locks the account when the
// threshold is reached. The locking attempt returns the LockedError.
func (m *Manager) recordFailure(ctx context.Context, acct domain.Account, kind domain.CounterKind) error {
	metrics.AuthFailuresTotal.WithLabelValues(string(kind)).Inc()

	n, err := m.accounts.IncrementFailedCounter(ctx, acct.ID, kind)
	if err != nil {
		return fmt.Errorf("increment %s counter: %w", kind, err)
	}
	action, limit, reason := domain.ActionLoginFailed, m.policy.MaxPasswordAttempts, domain.LockReasonPassword
	if kind == domain.CounterPIN {
		action, limit, reason = domain.ActionPINFailed, m.policy.MaxPINAttempts, domain.LockReasonPIN
	}
	m.audit.Append(ctx, acct.ID, action, fmt.Sprintf("attempt %d of %d", n, limit))
	if n < limit {
		return nil
	}

	at := m.now().UTC()
	if err := m.accounts.LockAccount(ctx, acct.ID, reason, at); err != nil {
		return fmt.Errorf("lock account: %w", err)
	}
	metrics.AccountLocksTotal.WithLabelValues(string(kind)).Inc()
	m.audit.Append(ctx, acct.ID, domain.ActionAccountLocked, reason)
	logging.FromContext(ctx, m.logger).Warn("account locked", "account_id", acct.ID, "reason", reason, "attempts", n)
	if m.failures != nil {
		m.failures.ReportRepeatedFailures(ctx, acct.ID, kind, n)
	}

	acct.Locked, acct.LockReason, acct.LockedAt = true, reason, &at
	return m.lockedError(acct)
}

// sessionGuard serialises termination against in-flight leases. It stays
// in the map only while someone holds it.
type sessionGuard struct {
	sync.RWMutex
	refs int
}

// acquire returns the guard of sessionID, pinned until put.
func (m *Manager) acquire(sessionID string) *sessionGuard {
	m.guardsMu.Lock()
	defer m.guardsMu.Unlock()
	g, ok := m.guards[sessionID]
	if !ok {
		g = &sessionGuard{}
		m.guards[sessionID] = g
	}
	g.refs++
	return g
}

func (m *Manager) put(sessionID string, g *sessionGuard) {
	m.guardsMu.Lock()
	defer m.guardsMu.Unlock()
	g.refs--
	if g.refs == 0 {
		delete(m.guards, sessionID)
	}
}
