package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/teller/internal/logging"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	// ReplayedHeader marks a response served from the idempotency cache.
	ReplayedHeader = "Idempotent-Replayed"

	replayPrefix  = "teller:idem:"
	pendingMarker = "pending"
	replayTimeout = 2 * time.Second
)

var errReplayPending = errors.New("request with this key is still running")

type replayedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// replayStore keeps one reservation or recorded response per session and key.
type replayStore struct {
	cache *redis.Client
	ttl   time.Duration
}

func (r replayStore) key(sessionID, key string) string {
	return replayPrefix + sessionID + ":" + key
}

// lookup returns the recorded response, nil when the key is unused, or
// errReplayPending while the first request is still in flight.
func (r replayStore) lookup(ctx context.Context, k string) (*replayedResponse, error) {
	raw, err := r.cache.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if string(raw) == pendingMarker {
		return nil, errReplayPending
	}
	var resp replayedResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (r replayStore) reserve(ctx context.Context, k string) (bool, error) {
	return r.cache.SetNX(ctx, k, pendingMarker, r.ttl).Result()
}

func (r replayStore) record(ctx context.Context, k string, resp replayedResponse) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return r.cache.Set(ctx, k, payload, r.ttl).Err()
}

func (r replayStore) release(k string) {
	ctx, cancel := context.WithTimeout(context.Background(), replayTimeout)
	defer cancel()
	r.cache.Del(ctx, k)
}

// Idempotency replays the recorded response of a money-moving request that
// repeats its Idempotency-Key. Keys are scoped to the bearer session so two
// terminals cannot collide. Failed requests release the key so the client
// may retry. It is a no-op without Redis.
func Idempotency(cache *redis.Client, ttl time.Duration, logger *slog.Logger) fiber.Handler {
	store := replayStore{cache: cache, ttl: ttl}
	return func(c *fiber.Ctx) error {
		if cache == nil || c.Method() != fiber.MethodPost {
			return c.Next()
		}
		key := c.Get(idempotencyKeyHeader)
		if key == "" {
			return fiber.NewError(fiber.StatusBadRequest, "missing Idempotency-Key header")
		}
		log := logging.FromContext(c.UserContext(), logger)
		sessionID, _ := Session(c)
		k := store.key(sessionID, key)

		ctx, cancel := context.WithTimeout(c.UserContext(), replayTimeout)
		defer cancel()

		recorded, err := store.lookup(ctx, k)
		switch {
		case errors.Is(err, errReplayPending):
			return fiber.NewError(fiber.StatusConflict, errReplayPending.Error())
		case err != nil:
			log.Error("idempotency lookup failed", "key", key, "error", err)
			return fiber.NewError(fiber.StatusServiceUnavailable, "idempotency store unavailable")
		case recorded != nil:
			c.Set(ReplayedHeader, "true")
			if recorded.ContentType != "" {
				c.Set(fiber.HeaderContentType, recorded.ContentType)
			}
			return c.Status(recorded.Status).Send(recorded.Body)
		}

		reserved, err := store.reserve(ctx, k)
		if err != nil {
			log.Error("idempotency reservation failed", "key", key, "error", err)
			return fiber.NewError(fiber.StatusServiceUnavailable, "idempotency store unavailable")
		}
		if !reserved {
			return fiber.NewError(fiber.StatusConflict, errReplayPending.Error())
		}

		if err := c.Next(); err != nil {
			store.release(k)
			return err
		}

		resp := replayedResponse{
			Status:      c.Response().StatusCode(),
			ContentType: string(c.Response().Header.ContentType()),
			Body:        append([]byte(nil), c.Response().Body()...),
		}
		recordCtx, recordCancel := context.WithTimeout(context.Background(), replayTimeout)
		defer recordCancel()
		if err := store.record(recordCtx, k, resp); err != nil {
			// The reservation stays so a retry cannot run the operation twice.
			log.Error("idempotency record failed", "key", key, "error", err)
		}
		return nil
	}
}
