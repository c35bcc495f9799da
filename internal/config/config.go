package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	defaultAppName         = "Teller"
	defaultAppEnv          = "development"
	defaultPort            = "8080"
	defaultLogLevel        = "info"
	defaultShutdownDelay   = 10 * time.Second
	defaultIdempotencyTTL  = 24 * time.Hour
	idemTTLSecondsEnvVar   = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar       = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"
)

// Security captures lockout, session and fraud thresholds.
type Security struct {
	SessionTTL               time.Duration
	LockoutDuration          time.Duration
	MaxPasswordAttempts      int
	MaxPINAttempts           int
	PINLockRequiresAdmin     bool
	RequireSecondFactor      bool
	LargeWithdrawalThreshold decimal.Decimal
	LargeLoanThreshold       decimal.Decimal
	RiskMonitorInterval      time.Duration
	LoginRateLimitPerMinute  int64
}

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName            string
	AppEnv             string
	Port               string
	LogLevel           string
	DatabaseURL        string
	RedisURL           string
	ShutdownPeriod     time.Duration
	IdempotencyTTL     time.Duration
	PersistenceTimeout time.Duration
	Security           Security
}

// Load reads configuration values from the environment, after merging a
// .env file when one exists, and populates a Config instance.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		AppName:  getEnv("APP_NAME", defaultAppName),
		AppEnv:   strings.ToLower(getEnv("APP_ENV", defaultAppEnv)),
		Port:     getEnv("PORT", defaultPort),
		LogLevel: strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
	}

	var err error
	if cfg.ShutdownPeriod, err = secondsOrDuration(shutdownSecondsEnvVar, shutdownDurationEnvVar, defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = secondsOrDuration(idemTTLSecondsEnvVar, idemTTLDurEnvVar, defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.PersistenceTimeout, err = getDuration("PERSISTENCE_TIMEOUT", 3*time.Second); err != nil {
		return Config{}, err
	}

	sec := &cfg.Security
	if sec.SessionTTL, err = getDuration("SESSION_TTL", 30*time.Minute); err != nil {
		return Config{}, err
	}
	if sec.LockoutDuration, err = getDuration("LOCKOUT_DURATION", 15*time.Minute); err != nil {
		return Config{}, err
	}
	if sec.RiskMonitorInterval, err = getDuration("RISK_MONITOR_INTERVAL", 30*time.Second); err != nil {
		return Config{}, err
	}
	if sec.MaxPasswordAttempts, err = getInt("MAX_PASSWORD_ATTEMPTS", 5); err != nil {
		return Config{}, err
	}
	if sec.MaxPINAttempts, err = getInt("MAX_PIN_ATTEMPTS", 3); err != nil {
		return Config{}, err
	}
	limit, err := getInt("LOGIN_RATE_LIMIT_PER_MIN", 5)
	if err != nil {
		return Config{}, err
	}
	sec.LoginRateLimitPerMinute = int64(limit)
	if sec.PINLockRequiresAdmin, err = getBool("PIN_LOCK_REQUIRES_ADMIN", false); err != nil {
		return Config{}, err
	}
	if sec.RequireSecondFactor, err = getBool("REQUIRE_SECOND_FACTOR", true); err != nil {
		return Config{}, err
	}
	if sec.LargeWithdrawalThreshold, err = getDecimal("LARGE_WITHDRAWAL_THRESHOLD", "50000"); err != nil {
		return Config{}, err
	}
	if sec.LargeLoanThreshold, err = getDecimal("LARGE_LOAN_THRESHOLD", "500000"); err != nil {
		return Config{}, err
	}

	if sec.MaxPasswordAttempts < 1 || sec.MaxPINAttempts < 1 {
		return Config{}, fmt.Errorf("attempt limits must be at least 1")
	}

	if !cfg.IsDevelopment() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set")
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set")
		}
	}

	return cfg, nil
}

// IsDevelopment reports whether in-memory fallbacks are acceptable.
func (c Config) IsDevelopment() bool {
	switch c.AppEnv {
	case "development", "dev", "local", "test":
		return true
	}
	return false
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func secondsOrDuration(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	return getDuration(durationKey, fallback)
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getDecimal(key, fallback string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(getEnv(key, fallback))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
