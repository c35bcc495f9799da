package middleware

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/teller/internal/logging"
)

type idemApp struct {
	app   *fiber.App
	calls int
	fail  bool
}

func newIdemApp(t *testing.T) *idemApp {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	a := &idemApp{app: fiber.New()}
	a.app.Post("/deposit", SessionAuth(), Idempotency(cache, time.Minute, logging.Discard()), func(c *fiber.Ctx) error {
		a.calls++
		if a.fail {
			return fiber.NewError(fiber.StatusServiceUnavailable, "store down")
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"receipt": a.calls})
	})
	return a
}

func (a *idemApp) post(t *testing.T, session, key string) (int, string, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/deposit", strings.NewReader(`{"amount":"10"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+session)
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}
	resp, err := a.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(body), resp.Header.Get(ReplayedHeader)
}

func TestIdempotencyRequiresHeader(t *testing.T) {
	a := newIdemApp(t)
	if status, _, _ := a.post(t, "s1", ""); status != fiber.StatusBadRequest {
		t.Fatalf("expected %d got %d", fiber.StatusBadRequest, status)
	}
	if a.calls != 0 {
		t.Fatalf("handler ran %d times without a key", a.calls)
	}
}

func TestIdempotencyReplaysRecordedResponse(t *testing.T) {
	a := newIdemApp(t)

	status, first, replayed := a.post(t, "s1", "dep-1")
	if status != fiber.StatusOK || replayed != "" {
		t.Fatalf("first call: status %d replayed %q", status, replayed)
	}
	status, second, replayed := a.post(t, "s1", "dep-1")
	if status != fiber.StatusOK || replayed != "true" {
		t.Fatalf("second call: status %d replayed %q", status, replayed)
	}
	if first != second {
		t.Fatalf("replayed body %s differs from %s", second, first)
	}
	if a.calls != 1 {
		t.Fatalf("handler ran %d times, want 1", a.calls)
	}
}

func TestIdempotencyKeysAreScopedPerSession(t *testing.T) {
	a := newIdemApp(t)
	a.post(t, "s1", "dep-1")
	if _, _, replayed := a.post(t, "s2", "dep-1"); replayed != "" {
		t.Fatal("another session must not see the first session's response")
	}
	if a.calls != 2 {
		t.Fatalf("handler ran %d times, want 2", a.calls)
	}
}

func TestIdempotencyReleasesKeyOnFailure(t *testing.T) {
	a := newIdemApp(t)
	a.fail = true
	if status, _, _ := a.post(t, "s1", "dep-1"); status != fiber.StatusServiceUnavailable {
		t.Fatalf("expected %d got %d", fiber.StatusServiceUnavailable, status)
	}
	a.fail = false
	status, _, replayed := a.post(t, "s1", "dep-1")
	if status != fiber.StatusOK || replayed != "" {
		t.Fatalf("retry after failure: status %d replayed %q", status, replayed)
	}
	if a.calls != 2 {
		t.Fatalf("handler ran %d times, want 2", a.calls)
	}
}
