package middleware

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/teller/internal/domain"
	"github.com/congo-pay/teller/internal/logging"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{domain.Invalid("amount", "must be greater than zero"), fiber.StatusBadRequest},
		{domain.ErrInsufficientFunds, fiber.StatusPaymentRequired},
		{&domain.LockedError{Reason: domain.LockReasonPassword}, fiber.StatusLocked},
		{fmt.Errorf("begin: %w", domain.ErrSessionInvalid), fiber.StatusUnauthorized},
		{domain.ErrInvalidPIN, fiber.StatusUnauthorized},
		{&domain.FraudBlockedError{Reason: "velocity"}, fiber.StatusForbidden},
		{domain.ErrForbidden, fiber.StatusForbidden},
		{domain.ErrAccountNotFound, fiber.StatusNotFound},
		{domain.ErrLoanNotFound, fiber.StatusNotFound},
		{fmt.Errorf("%w: loan is ACTIVE", domain.ErrInvalidState), fiber.StatusConflict},
		{fmt.Errorf("commit: %w", domain.ErrConcurrentUpdate), fiber.StatusConflict},
		{fmt.Errorf("commit: %w", domain.ErrPersistenceUnavailable), fiber.StatusServiceUnavailable},
		{fiber.NewError(fiber.StatusTooManyRequests, "slow down"), fiber.StatusTooManyRequests},
		{io.ErrUnexpectedEOF, fiber.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got, _ := StatusFor(tt.err); got != tt.status {
			t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.status)
		}
	}
}

func TestErrorHandlerRendersLockExpiry(t *testing.T) {
	until := time.Date(2024, 7, 1, 12, 15, 0, 0, time.UTC)
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(logging.Discard())})
	app.Get("/locked", func(c *fiber.Ctx) error {
		return &domain.LockedError{Reason: domain.LockReasonPIN, Until: until}
	})
	app.Get("/boom", func(c *fiber.Ctx) error {
		return io.ErrUnexpectedEOF
	})

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/locked", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusLocked {
		t.Fatalf("expected %d got %d", fiber.StatusLocked, resp.StatusCode)
	}
	var body errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Code != "account_locked" || body.LockedUntil == nil || !body.LockedUntil.Equal(until) {
		t.Fatalf("unexpected body %+v", body)
	}

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/boom", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusInternalServerError || strings.Contains(string(raw), "unexpected EOF") {
		t.Fatalf("internal detail leaked: %d %s", resp.StatusCode, raw)
	}
}

func TestSessionAuth(t *testing.T) {
	app := fiber.New()
	app.Use(SessionAuth())
	app.Get("/me", func(c *fiber.Ctx) error {
		id, fp := Session(c)
		return c.SendString(id + "|" + fp)
	})

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/me", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("expected %d got %d", fiber.StatusUnauthorized, resp.StatusCode)
	}

	req := httptest.NewRequest(fiber.MethodGet, "/me", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer sess-1")
	req.Header.Set(FingerprintHeader, "fp-1")
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "sess-1|fp-1" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestLoginRateLimitPerIdentifier(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	app := fiber.New()
	app.Post("/login", LoginRateLimit(cache, 2, logging.Discard()), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	login := func(identifier string) int {
		req := httptest.NewRequest(fiber.MethodPost, "/login", strings.NewReader(`{"identifier":"`+identifier+`"}`))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		return resp.StatusCode
	}

	for i := 0; i < 2; i++ {
		if got := login("alice"); got != fiber.StatusOK {
			t.Fatalf("attempt %d: expected 200 got %d", i+1, got)
		}
	}
	if got := login("alice"); got != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d", got)
	}
	if got := login("bob"); got != fiber.StatusOK {
		t.Fatalf("other identifier limited: %d", got)
	}

	mr.FastForward(time.Minute)
	if got := login("alice"); got != fiber.StatusOK {
		t.Fatalf("limit did not reset: %d", got)
	}
}
