package session

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/teller/internal/domain"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  NewRedisStore(client),
	}
}

func TestStores_Lifecycle(t *testing.T) {
	created := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	ttl := 30 * time.Minute

	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := domain.Session{ID: "s1", AccountID: "alice", Fingerprint: "fp", Active: true, CreatedAt: created}
			require.NoError(t, st.Create(ctx, s, ttl))
			require.ErrorIs(t, st.Create(ctx, s, ttl), domain.ErrDuplicate)

			got, status, err := st.Validate(ctx, "s1", created.Add(time.Minute), ttl)
			require.NoError(t, err)
			assert.Equal(t, StatusValid, status)
			assert.Equal(t, "alice", got.AccountID)
			assert.Equal(t, "fp", got.Fingerprint)
			assert.False(t, got.SecondFactorVerified)

			require.NoError(t, st.MarkSecondFactor(ctx, "s1"))
			require.NoError(t, st.SetRiskScore(ctx, "s1", 0.4))
			require.ErrorIs(t, st.MarkSecondFactor(ctx, "missing"), domain.ErrSessionInvalid)

			got, status, err = st.Validate(ctx, "s1", created.Add(ttl), ttl)
			require.NoError(t, err)
			assert.Equal(t, StatusExpired, status)
			assert.True(t, got.SecondFactorVerified)
			assert.InDelta(t, 0.4, got.RiskScore, 1e-9)
			require.NotNil(t, got.EndedAt)

			_, status, err = st.Validate(ctx, "s1", created.Add(time.Minute), ttl)
			require.NoError(t, err)
			assert.Equal(t, StatusInactive, status)

			_, wasActive, err := st.Terminate(ctx, "s1", created.Add(ttl))
			require.NoError(t, err)
			assert.False(t, wasActive)

			_, status, err = st.Validate(ctx, "missing", created, ttl)
			require.NoError(t, err)
			assert.Equal(t, StatusUnknown, status)
		})
	}
}

func TestStores_TerminateOnce(t *testing.T) {
	created := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, st.Create(ctx, domain.Session{ID: "s2", AccountID: "bob", Active: true, CreatedAt: created}, time.Hour))

			got, wasActive, err := st.Terminate(ctx, "s2", created.Add(time.Minute))
			require.NoError(t, err)
			assert.True(t, wasActive)
			assert.Equal(t, "bob", got.AccountID)

			_, wasActive, err = st.Terminate(ctx, "s2", created.Add(2*time.Minute))
			require.NoError(t, err)
			assert.False(t, wasActive)

			_, wasActive, err = st.Terminate(ctx, "missing", created)
			require.NoError(t, err)
			assert.False(t, wasActive)
		})
	}
}
