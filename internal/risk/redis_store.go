package risk

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
)

const redisPrefix = "risk:v1:"

// RedisStore keeps risk signals in Redis so every API replica scores
// against the same history.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func devicesKey(accountID string) string { return redisPrefix + "devices:" + accountID }
func patternsKey(accountID string) string { return redisPrefix + "patterns:" + accountID }
func geoKey(accountID string) string { return redisPrefix + "geo:" + accountID }
func windowsKey(accountID string) string { return redisPrefix + "windows:" + accountID }
func stateKey(accountID string) string { return redisPrefix + "state:" + accountID }

func (r *RedisStore) GetDevice(ctx context.Context, accountID, hash string) (DeviceFingerprint, bool, error) {
	raw, err := r.client.HGet(ctx, devicesKey(accountID), hash).Bytes()
	if errors.Is(err, redis.Nil) {
		return DeviceFingerprint{}, false, nil
	}
	if err != nil {
		return DeviceFingerprint{}, false, err
	}
	var d DeviceFingerprint
	if err := json.Unmarshal(raw, &d); err != nil {
		return DeviceFingerprint{}, false, err
	}
	return d, true, nil
}

func (r *RedisStore) SaveDevice(ctx context.Context, device DeviceFingerprint) error {
	payload, err := json.Marshal(device)
	if err != nil {
		return err
	}
	return r.client.HSet(ctx, devicesKey(device.AccountID), device.Hash, payload).Err()
}

func (r *RedisStore) AppendPattern(ctx context.Context, pattern BehavioralPattern) error {
	payload, err := json.Marshal(pattern)
	if err != nil {
		return err
	}
	key := patternsKey(pattern.AccountID)
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, maxPatterns-1)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStore) Patterns(ctx context.Context, accountID string, limit int) ([]BehavioralPattern, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	raws, err := r.client.LRange(ctx, patternsKey(accountID), 0, stop).Result()
	if err != nil {
		return nil, err
	}
	return decodeAll[BehavioralPattern](raws)
}

func (r *RedisStore) AddGeoRule(ctx context.Context, rule GeoRule) error {
	return r.rpushJSON(ctx, geoKey(rule.AccountID), rule)
}

func (r *RedisStore) GeoRules(ctx context.Context, accountID string) ([]GeoRule, error) {
	raws, err := r.client.LRange(ctx, geoKey(accountID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	return decodeAll[GeoRule](raws)
}

func (r *RedisStore) AddTimeRule(ctx context.Context, rule TimeRule) error {
	return r.rpushJSON(ctx, windowsKey(rule.AccountID), rule)
}

func (r *RedisStore) TimeRules(ctx context.Context, accountID string) ([]TimeRule, error) {
	raws, err := r.client.LRange(ctx, windowsKey(accountID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	return decodeAll[TimeRule](raws)
}

func (r *RedisStore) SaveState(ctx context.Context, state State) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, stateKey(state.AccountID), payload, 0).Err()
}

func (r *RedisStore) GetState(ctx context.Context, accountID string) (State, bool, error) {
	raw, err := r.client.Get(ctx, stateKey(accountID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, err
	}
	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		return State{}, false, err
	}
	return s, true, nil
}

func (r *RedisStore) rpushJSON(ctx context.Context, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.client.RPush(ctx, key, payload).Err()
}

func decodeAll[T any](raws []string) ([]T, error) {
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		var v T
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
