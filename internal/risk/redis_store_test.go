package risk

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client)
}

func TestRedisStore_Devices(t *testing.T) {
	s := newRedisStore(t)
	ctx := context.Background()

	_, found, err := s.GetDevice(ctx, "acct", "h1")
	require.NoError(t, err)
	assert.False(t, found)

	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveDevice(ctx, DeviceFingerprint{AccountID: "acct", Hash: "h1", FirstSeen: first, UseCount: 2}))

	d, found, err := s.GetDevice(ctx, "acct", "h1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 2, d.UseCount)
	assert.True(t, d.FirstSeen.Equal(first))
}

func TestRedisStore_PatternsNewestFirstAndBounded(t *testing.T) {
	s := newRedisStore(t)
	ctx := context.Background()

	for i := 0; i < maxPatterns+5; i++ {
		require.NoError(t, s.AppendPattern(ctx, BehavioralPattern{AccountID: "acct", Signal: float64(i)}))
	}

	all, err := s.Patterns(ctx, "acct", 0)
	require.NoError(t, err)
	assert.Len(t, all, maxPatterns)

	top, err := s.Patterns(ctx, "acct", 3)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, float64(maxPatterns+4), top[0].Signal)
}

func TestRedisStore_RulesAndState(t *testing.T) {
	s := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddGeoRule(ctx, GeoRule{ID: "g", AccountID: "acct", Name: "home", RadiusKm: 5}))
	require.NoError(t, s.AddTimeRule(ctx, TimeRule{ID: "t", AccountID: "acct", Days: []time.Weekday{time.Monday}, StartHour: 9, EndHour: 17}))
	require.NoError(t, s.SaveState(ctx, State{AccountID: "acct", Score: 0.4, Threats: []string{"NEW_DEVICE"}}))

	geo, err := s.GeoRules(ctx, "acct")
	require.NoError(t, err)
	require.Len(t, geo, 1)
	assert.Equal(t, "home", geo[0].Name)

	windows, err := s.TimeRules(ctx, "acct")
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Equal(t, []time.Weekday{time.Monday}, windows[0].Days)

	st, found, err := s.GetState(ctx, "acct")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 0.4, st.Score)

	_, found, err = s.GetState(ctx, "other")
	require.NoError(t, err)
	assert.False(t, found)
}
