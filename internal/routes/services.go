package routes

import (
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/teller/internal/account"
	"github.com/congo-pay/teller/internal/audit"
	"github.com/congo-pay/teller/internal/config"
	"github.com/congo-pay/teller/internal/fraud"
	"github.com/congo-pay/teller/internal/ledger"
	"github.com/congo-pay/teller/internal/loan"
	"github.com/congo-pay/teller/internal/notification"
	"github.com/congo-pay/teller/internal/risk"
	"github.com/congo-pay/teller/internal/session"
	"github.com/congo-pay/teller/internal/store"
	"github.com/congo-pay/teller/internal/syncutil"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Services is the wired core. Watcher must be stopped on shutdown.
type Services struct {
	Store    store.Store
	Sessions *session.Manager
	Detector *fraud.Detector
	Watcher  *fraud.Watcher
	Ledger   *ledger.Engine
	Loans    *loan.Engine
	Accounts *account.Service
}

// Build wires the core services. Without Postgres or Redis it falls back to
// in-memory stores, which is only allowed in development.
func Build(d Deps) (*Services, error) {
	if !d.Cfg.IsDevelopment() {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	var backend store.Store = store.NewMemory()
	if d.DB != nil {
		backend = store.NewPostgres(d.DB)
	}
	st := store.NewGuarded(backend, d.Cfg.PersistenceTimeout)

	var (
		sessionStore session.Store = session.NewMemoryStore()
		signals      risk.Store    = risk.NewMemoryStore()
	)
	if d.Cache != nil {
		sessionStore = session.NewRedisStore(d.Cache)
		signals = risk.NewRedisStore(d.Cache)
	}

	auditLog := audit.New(st, d.Logger)
	sec := d.Cfg.Security

	policy := fraud.DefaultPolicy()
	policy.LargeWithdrawal = sec.LargeWithdrawalThreshold
	policy.LargeLoan = sec.LargeLoanThreshold
	detector := fraud.NewDetector(st, risk.NewAssessor(signals), auditLog, d.Logger, policy).
		NotifyWith(notification.NewLoggerNotifier(d.Logger))
	watcher := fraud.NewWatcher(detector, sec.RiskMonitorInterval, d.Logger)

	sessions := session.NewManager(st, sessionStore, auditLog, d.Logger, session.Policy{
		SessionTTL:           sec.SessionTTL,
		LockoutDuration:      sec.LockoutDuration,
		MaxPasswordAttempts:  sec.MaxPasswordAttempts,
		MaxPINAttempts:       sec.MaxPINAttempts,
		PINLockRequiresAdmin: sec.PINLockRequiresAdmin,
		RequireSecondFactor:  sec.RequireSecondFactor,
	})
	sessions.Observe(watcher)
	sessions.ReportFailuresTo(detector)
	sessions.ScoreLoginsWith(detector)

	ledgerEngine := ledger.NewEngine(st, sessions, detector, syncutil.NewAccountLocks(), auditLog, d.Logger)

	return &Services{
		Store:    st,
		Sessions: sessions,
		Detector: detector,
		Watcher:  watcher,
		Ledger:   ledgerEngine,
		Loans:    loan.NewEngine(st, sessions, ledgerEngine, detector, auditLog, d.Logger),
		Accounts: account.NewService(st, sessions, auditLog, d.Logger),
	}, nil
}
