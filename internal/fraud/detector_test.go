package fraud

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/teller/internal/audit"
	"github.com/congo-pay/teller/internal/domain"
	"github.com/congo-pay/teller/internal/logging"
	"github.com/congo-pay/teller/internal/notification"
	"github.com/congo-pay/teller/internal/risk"
	"github.com/congo-pay/teller/internal/store"
)

var base = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

type fixture struct {
	detector *Detector
	mem      *store.Memory
	signals  *risk.MemoryStore
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{mem: store.NewMemory(), signals: risk.NewMemoryStore(), now: base}
	clock := func() time.Time { return f.now }
	assessor := risk.NewAssessor(f.signals).WithClock(clock)
	f.detector = NewDetector(f.mem, assessor, audit.New(f.mem, logging.Discard()), logging.Discard(), DefaultPolicy()).WithClock(clock)
	return f
}

func (f *fixture) record(t *testing.T, age time.Duration, txType domain.TransactionType, amount int64, status domain.TransactionStatus) {
	t.Helper()
	require.NoError(t, f.mem.AppendTransaction(context.Background(), domain.Transaction{
		ID:        uuid.NewString(),
		AccountID: "acct",
		Type:      txType,
		Amount:    decimal.NewFromInt(amount),
		Status:    status,
		CreatedAt: f.now.Add(-age),
	}))
}

func TestEvaluate_VelocityFlagsSixthOperation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		f.record(t, time.Duration(i)*time.Minute, domain.TxDeposit, 100, domain.StatusSuccess)
	}
	v, err := f.detector.Evaluate(ctx, "acct", domain.TxWithdrawal, decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.False(t, v.Suspicious, "fifth operation is within the limit")

	f.record(t, 30*time.Second, domain.TxWithdrawal, 100, domain.StatusSuccess)
	f.record(t, time.Hour, domain.TxDeposit, 100, domain.StatusSuccess)
	f.record(t, 0, domain.TxBalanceInquiry, 0, domain.StatusSuccess)

	v, err = f.detector.Evaluate(ctx, "acct", domain.TxWithdrawal, decimal.NewFromInt(100))
	require.NoError(t, err)
	require.True(t, v.Suspicious)
	assert.Equal(t, domain.AlertUnusualPattern, v.AlertType)
	assert.Equal(t, domain.SeverityHigh, v.Severity)

	alerts, err := f.mem.ListFraudAlerts(ctx, "acct", true)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.AlertUnusualPattern, alerts[0].Type)

	var blocked *domain.FraudBlockedError
	require.ErrorAs(t, v.Err(), &blocked)
	assert.ErrorIs(t, v.Err(), domain.ErrFraudBlocked)
}

func TestEvaluate_LargeWithdrawalOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v, err := f.detector.Evaluate(ctx, "acct", domain.TxWithdrawal, decimal.NewFromInt(60000))
	require.NoError(t, err)
	require.True(t, v.Suspicious)
	assert.Equal(t, domain.AlertSuspiciousAmount, v.AlertType)
	assert.Equal(t, domain.SeverityMedium, v.Severity)

	v, err = f.detector.Evaluate(ctx, "acct", domain.TxDeposit, decimal.NewFromInt(60000))
	require.NoError(t, err)
	assert.False(t, v.Suspicious, "threshold applies to withdrawals")

	v, err = f.detector.Evaluate(ctx, "acct", domain.TxWithdrawal, decimal.NewFromInt(50000))
	require.NoError(t, err)
	assert.False(t, v.Suspicious, "threshold is exclusive")
}

func TestEvaluate_RelativeDeviation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		f.record(t, time.Duration(i+1)*time.Hour, domain.TxWithdrawal, 100, domain.StatusSuccess)
	}
	f.record(t, 5*time.Hour, domain.TxWithdrawal, 100000, domain.StatusFailed)

	v, err := f.detector.Evaluate(ctx, "acct", domain.TxTransfer, decimal.NewFromInt(500))
	require.NoError(t, err)
	assert.False(t, v.Suspicious, "exactly five times the mean is allowed")

	v, err = f.detector.Evaluate(ctx, "acct", domain.TxTransfer, decimal.NewFromInt(501))
	require.NoError(t, err)
	require.True(t, v.Suspicious)
	assert.Equal(t, domain.AlertUnusualPattern, v.AlertType)
	assert.Equal(t, domain.SeverityMedium, v.Severity)
}

func TestScreenLoanNeverBlocksButAlerts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v, err := f.detector.ScreenLoan(ctx, "acct", decimal.NewFromInt(600000))
	require.NoError(t, err)
	assert.True(t, v.Suspicious)
	assert.Equal(t, domain.AlertLargeLoanRequest, v.AlertType)

	v, err = f.detector.ScreenLoan(ctx, "acct", decimal.NewFromInt(500000))
	require.NoError(t, err)
	assert.False(t, v.Suspicious)
}

func TestDetectRealTimeThreats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("login from new device", func(t *testing.T) {
		r, err := f.detector.DetectRealTimeThreats(ctx, "acct", ActionLogin, ThreatContext{Fingerprint: "dev-1", Platform: "linux"})
		require.NoError(t, err)
		assert.InDelta(t, 0.52, r.RiskScore, 1e-9)
		require.Len(t, r.Threats, 2)
		assert.Equal(t, ThreatUntrustedDevice, r.Threats[0].Type)
		assert.Equal(t, ThreatNewPlatform, r.Threats[1].Type)
		assert.Contains(t, r.Recommendations, "Require additional verification")

		st, found, err := f.signals.GetState(ctx, "acct")
		require.NoError(t, err)
		require.True(t, found)
		assert.InDelta(t, 0.52, st.Score, 1e-9)
	})

	t.Run("trusted device scores zero", func(t *testing.T) {
		f.now = f.now.Add(8 * 24 * time.Hour)
		r, err := f.detector.DetectRealTimeThreats(ctx, "acct", ActionLogin, ThreatContext{Fingerprint: "dev-1", Platform: "linux"})
		require.NoError(t, err)
		assert.Zero(t, r.RiskScore)
		assert.Empty(t, r.Threats)
	})

	t.Run("score is clamped", func(t *testing.T) {
		require.NoError(t, f.signals.AddGeoRule(ctx, risk.GeoRule{AccountID: "acct", Name: "home", Latitude: 0, Longitude: 0, RadiusKm: 1}))
		require.NoError(t, f.signals.AddTimeRule(ctx, risk.TimeRule{AccountID: "acct", StartHour: 0, EndHour: 1}))
		r, err := f.detector.DetectRealTimeThreats(ctx, "acct", ActionWithdrawal, ThreatContext{
			Fingerprint: "dev-2",
			Amount:      decimal.NewFromInt(70000),
			Location:    &risk.Location{Latitude: 40, Longitude: 40},
		})
		require.NoError(t, err)
		assert.Equal(t, 1.0, r.RiskScore)
		assert.Contains(t, r.Recommendations, "Require manual review before completing sensitive operations")
	})
}

func TestResolveAlertRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v, err := f.detector.Evaluate(ctx, "acct", domain.TxWithdrawal, decimal.NewFromInt(90000))
	require.NoError(t, err)
	require.Len(t, v.Alerts, 1)
	alertID := v.Alerts[0].ID

	user := domain.Account{ID: "acct", Role: domain.RoleUser}
	admin := domain.Account{ID: "root", Role: domain.RoleAdmin}

	_, err = f.detector.ResolveAlert(ctx, user, alertID)
	require.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.detector.ListAlerts(ctx, user, "someone-else", false)
	require.ErrorIs(t, err, domain.ErrForbidden)

	resolved, err := f.detector.ResolveAlert(ctx, admin, alertID)
	require.NoError(t, err)
	assert.True(t, resolved.Resolved)
	assert.Equal(t, "root", resolved.ResolvedBy)

	open, err := f.detector.ListAlerts(ctx, admin, "", true)
	require.NoError(t, err)
	assert.Empty(t, open)

	entries, err := f.mem.ListAuditEntries(ctx, "acct", 0)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, domain.ActionFraudAlertResolve, entries[0].Action)
}

func TestAlertsAreForwardedToNotifier(t *testing.T) {
	f := newFixture(t)
	var desk notification.Recorder
	f.detector.NotifyWith(&desk)

	f.detector.ReportRepeatedFailures(context.Background(), "acct", domain.CounterPassword, 5)

	msgs := desk.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, notification.KindFraudAlert, msgs[0].Kind)
	assert.Equal(t, "acct", msgs[0].AccountID)
	assert.Equal(t, string(domain.SeverityHigh), msgs[0].Severity)
	assert.Contains(t, msgs[0].Body, string(domain.AlertMultipleAttempts))
}
