package fraud

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/teller/internal/domain"
	"github.com/congo-pay/teller/internal/risk"
)

func TestAddGeoRule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.mem.CreateAccount(ctx, domain.Account{ID: "acct", Username: "alice", AccountNumber: "4000000001"}))

	admin := domain.Account{ID: "root", Role: domain.RoleAdmin}
	user := domain.Account{ID: "acct", Role: domain.RoleUser}
	kinshasa := risk.GeoRule{AccountID: "acct", Name: "kinshasa", Latitude: -4.3217, Longitude: 15.3125, RadiusKm: 25}

	_, err := f.detector.AddGeoRule(ctx, user, kinshasa)
	require.ErrorIs(t, err, domain.ErrForbidden)

	bad := kinshasa
	bad.RadiusKm = 0
	_, err = f.detector.AddGeoRule(ctx, admin, bad)
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	ghost := kinshasa
	ghost.AccountID = "ghost"
	_, err = f.detector.AddGeoRule(ctx, admin, ghost)
	require.ErrorIs(t, err, domain.ErrAccountNotFound)

	rule, err := f.detector.AddGeoRule(ctx, admin, kinshasa)
	require.NoError(t, err)
	assert.NotEmpty(t, rule.ID)
	assert.Equal(t, base, rule.CreatedAt)

	inside, err := f.detector.DetectRealTimeThreats(ctx, "acct", ActionWithdrawal, ThreatContext{
		Location: &risk.Location{Latitude: -4.33, Longitude: 15.30},
	})
	require.NoError(t, err)
	assert.Empty(t, inside.Threats)

	outside, err := f.detector.DetectRealTimeThreats(ctx, "acct", ActionWithdrawal, ThreatContext{
		Location: &risk.Location{Latitude: -11.66, Longitude: 27.48},
	})
	require.NoError(t, err)
	require.Len(t, outside.Threats, 1)
	assert.Equal(t, ThreatGeoFence, outside.Threats[0].Type)

	entries, err := f.mem.ListAuditEntries(ctx, "acct", 0)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, domain.ActionRiskRuleAdded, entries[0].Action)
}

func TestAddTimeRuleValidatesWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.mem.CreateAccount(ctx, domain.Account{ID: "acct", Username: "alice", AccountNumber: "4000000001"}))
	admin := domain.Account{ID: "root", Role: domain.RoleAdmin}

	for name, rule := range map[string]risk.TimeRule{
		"empty window":  {AccountID: "acct", StartHour: 9, EndHour: 9},
		"hour too late": {AccountID: "acct", StartHour: 24, EndHour: 2},
		"bad weekday":   {AccountID: "acct", StartHour: 8, EndHour: 18, Days: []time.Weekday{7}},
	} {
		_, err := f.detector.AddTimeRule(ctx, admin, rule)
		assert.ErrorIs(t, err, domain.ErrInvalidInput, name)
	}

	_, err := f.detector.AddTimeRule(ctx, admin, risk.TimeRule{
		AccountID: "acct",
		Days:      []time.Weekday{time.Monday, time.Tuesday},
		StartHour: 8,
		EndHour:   18,
	})
	require.NoError(t, err)

	// base is a Monday at 10:00.
	r, err := f.detector.DetectRealTimeThreats(ctx, "acct", ActionLogin, ThreatContext{})
	require.NoError(t, err)
	assert.Empty(t, r.Threats)

	r, err = f.detector.DetectRealTimeThreats(ctx, "acct", ActionLogin, ThreatContext{At: base.Add(10 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, r.Threats, 1)
	assert.Equal(t, ThreatTimeWindow, r.Threats[0].Type)
}
