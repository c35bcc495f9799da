package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DevelopmentDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Address())
	assert.Equal(t, 3*time.Second, cfg.PersistenceTimeout)
	assert.Equal(t, 30*time.Minute, cfg.Security.SessionTTL)
	assert.Equal(t, 15*time.Minute, cfg.Security.LockoutDuration)
	assert.Equal(t, 5, cfg.Security.MaxPasswordAttempts)
	assert.Equal(t, 3, cfg.Security.MaxPINAttempts)
	assert.False(t, cfg.Security.PINLockRequiresAdmin)
	assert.True(t, cfg.Security.RequireSecondFactor)
	assert.True(t, cfg.Security.LargeWithdrawalThreshold.Equal(decimal.NewFromInt(50000)))
	assert.True(t, cfg.Security.LargeLoanThreshold.Equal(decimal.NewFromInt(500000)))
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("PORT", ":9090")
	t.Setenv("SHUTDOWN_TIMEOUT_SECONDS", "4")
	t.Setenv("SESSION_TTL", "10m")
	t.Setenv("MAX_PIN_ATTEMPTS", "5")
	t.Setenv("PIN_LOCK_REQUIRES_ADMIN", "true")
	t.Setenv("LARGE_WITHDRAWAL_THRESHOLD", "1000.50")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Address())
	assert.Equal(t, 4*time.Second, cfg.ShutdownPeriod)
	assert.Equal(t, 10*time.Minute, cfg.Security.SessionTTL)
	assert.Equal(t, 5, cfg.Security.MaxPINAttempts)
	assert.True(t, cfg.Security.PINLockRequiresAdmin)
	assert.Equal(t, "1000.5", cfg.Security.LargeWithdrawalThreshold.String())
}

func TestLoad_ProductionRequiresBackends(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoad_RejectsMalformedValues(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("LOCKOUT_DURATION", "fifteen")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LOCKOUT_DURATION")
}
