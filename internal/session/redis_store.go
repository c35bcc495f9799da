package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/teller/internal/domain"
)

const (
	sessionPrefix = "session:v1:"
	// retention keeps ended sessions readable for a while after the TTL.
	retention = 24 * time.Hour
)

// validateScript returns {status, field, value, ...}. Status codes: 0 unknown,
// 1 inactive, 2 expired by this call, 3 valid. Times are unix milliseconds.
var validateScript = redis.NewScript(`
local key = KEYS[1]
if redis.call('EXISTS', key) == 0 then
  return {0}
end
local code = 3
if redis.call('HGET', key, 'active') ~= '1' then
  code = 1
else
  local created = tonumber(redis.call('HGET', key, 'created_at'))
  if tonumber(ARGV[1]) - created >= tonumber(ARGV[2]) then
    redis.call('HSET', key, 'active', '0', 'ended_at', ARGV[1])
    code = 2
  end
end
local data = redis.call('HGETALL', key)
table.insert(data, 1, code)
return data
`)

// terminateScript returns {wasActive, field, value, ...} or {-1} when unknown.
var terminateScript = redis.NewScript(`
local key = KEYS[1]
if redis.call('EXISTS', key) == 0 then
  return {-1}
end
local was = 0
if redis.call('HGET', key, 'active') == '1' then
  redis.call('HSET', key, 'active', '0', 'ended_at', ARGV[1])
  was = 1
end
local data = redis.call('HGETALL', key)
table.insert(data, 1, was)
return data
`)

// setIfExistsScript sets one field on an existing session.
var setIfExistsScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
return 1
`)

// RedisStore shares sessions between API replicas.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func sessionKey(id string) string { return sessionPrefix + id }

func (r *RedisStore) Create(ctx context.Context, s domain.Session, ttl time.Duration) error {
	key := sessionKey(s.ID)
	created, err := r.client.HSetNX(ctx, key, "account_id", s.AccountID).Result()
	if err != nil {
		return err
	}
	if !created {
		return domain.ErrDuplicate
	}
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key,
		"fingerprint", s.Fingerprint,
		"second_factor", boolField(s.SecondFactorVerified),
		"risk", strconv.FormatFloat(s.RiskScore, 'f', -1, 64),
		"active", boolField(s.Active),
		"created_at", strconv.FormatInt(s.CreatedAt.UnixMilli(), 10),
	)
	pipe.PExpire(ctx, key, ttl+retention)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStore) Validate(ctx context.Context, id string, now time.Time, ttl time.Duration) (domain.Session, Status, error) {
	res, err := validateScript.Run(ctx, r.client, []string{sessionKey(id)}, now.UnixMilli(), ttl.Milliseconds()).Slice()
	if err != nil {
		return domain.Session{}, StatusUnknown, err
	}
	code, _ := res[0].(int64)
	if code == 0 {
		return domain.Session{}, StatusUnknown, nil
	}
	s, err := decodeSession(id, res[1:])
	if err != nil {
		return domain.Session{}, StatusUnknown, err
	}
	return s, Status(code), nil
}

func (r *RedisStore) Terminate(ctx context.Context, id string, at time.Time) (domain.Session, bool, error) {
	res, err := terminateScript.Run(ctx, r.client, []string{sessionKey(id)}, at.UnixMilli()).Slice()
	if err != nil {
		return domain.Session{}, false, err
	}
	code, _ := res[0].(int64)
	if code < 0 {
		return domain.Session{}, false, nil
	}
	s, err := decodeSession(id, res[1:])
	if err != nil {
		return domain.Session{}, false, err
	}
	return s, code == 1, nil
}

func (r *RedisStore) MarkSecondFactor(ctx context.Context, id string) error {
	return r.setField(ctx, id, "second_factor", "1")
}

func (r *RedisStore) SetRiskScore(ctx context.Context, id string, score float64) error {
	return r.setField(ctx, id, "risk", strconv.FormatFloat(score, 'f', -1, 64))
}

func (r *RedisStore) setField(ctx context.Context, id, field, value string) error {
	n, err := setIfExistsScript.Run(ctx, r.client, []string{sessionKey(id)}, field, value).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrSessionInvalid
	}
	return nil
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func decodeSession(id string, pairs []any) (domain.Session, error) {
	if len(pairs)%2 != 0 {
		return domain.Session{}, fmt.Errorf("session %s: malformed hash", id)
	}
	s := domain.Session{ID: id}
	for i := 0; i < len(pairs); i += 2 {
		field, _ := pairs[i].(string)
		value, _ := pairs[i+1].(string)
		switch field {
		case "account_id":
			s.AccountID = value
		case "fingerprint":
			s.Fingerprint = value
		case "second_factor":
			s.SecondFactorVerified = value == "1"
		case "active":
			s.Active = value == "1"
		case "risk":
			s.RiskScore, _ = strconv.ParseFloat(value, 64)
		case "created_at":
			ms, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return domain.Session{}, fmt.Errorf("session %s: created_at: %w", id, err)
			}
			s.CreatedAt = time.UnixMilli(ms).UTC()
		case "ended_at":
			ms, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return domain.Session{}, fmt.Errorf("session %s: ended_at: %w", id, err)
			}
			ended := time.UnixMilli(ms).UTC()
			s.EndedAt = &ended
		}
	}
	return s, nil
}
