// Package fraud screens transactions, raises fraud alerts and scores
// sessions in real time.
package fraud

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/teller/internal/audit"
	"github.com/congo-pay/teller/internal/domain"
	"github.com/congo-pay/teller/internal/logging"
	"github.com/congo-pay/teller/internal/metrics"
	"github.com/congo-pay/teller/internal/notification"
	"github.com/congo-pay/teller/internal/risk"
	"github.com/congo-pay/teller/internal/store"
)

// Records is the persistence the detector reads history from and writes alerts to.
type Records interface {
	store.AccountStore
	store.TransactionStore
	store.AlertStore
}

// Policy holds the detector thresholds.
type Policy struct {
	LargeWithdrawal   decimal.Decimal
	LargeLoan         decimal.Decimal
	VelocityWindow    time.Duration
	VelocityLimit     int
	DeviationLookback int
	DeviationFactor   decimal.Decimal
}

// DefaultPolicy returns the production thresholds.
func DefaultPolicy() Policy {
	return Policy{
		LargeWithdrawal:   decimal.NewFromInt(50000),
		LargeLoan:         decimal.NewFromInt(500000),
		VelocityWindow:    10 * time.Minute,
		VelocityLimit:     5,
		DeviationLookback: 10,
		DeviationFactor:   decimal.NewFromInt(5),
	}
}

// Verdict is the outcome of screening one operation.
type Verdict struct {
	Suspicious bool
	Reason     string
	AlertType  domain.AlertType
	Severity   domain.Severity
	Alerts     []domain.FraudAlert
}

// Err converts a suspicious verdict into the blocking error.
func (v Verdict) Err() error {
	if !v.Suspicious {
		return nil
	}
	return &domain.FraudBlockedError{Reason: v.Reason, AlertType: v.AlertType}
}

type finding struct {
	alertType domain.AlertType
	severity  domain.Severity
	reason    string
}

// Detector is the single decision point for fraud screening.
type Detector struct {
	records  Records
	assessor *risk.Assessor
	audit    *audit.Logger
	logger   *slog.Logger
	policy   Policy
	now      func() time.Time
	notifier notification.Notifier
}

// NewDetector wires a Detector.
func NewDetector(records Records, assessor *risk.Assessor, auditLog *audit.Logger, logger *slog.Logger, policy Policy) *Detector {
	return &Detector{
		records:  records,
		assessor: assessor,
		audit:    auditLog,
		logger:   logger,
		policy:   policy,
		now:      time.Now,
	}
}

// WithClock overrides the time source.
func (d *Detector) WithClock(now func() time.Time) *Detector {
	d.now = now
	return d
}

// NotifyWith forwards every persisted alert to n.
func (d *Detector) NotifyWith(n notification.Notifier) *Detector {
	d.notifier = n
	return d
}

// Evaluate runs the velocity, absolute-threshold and relative-deviation
// heuristics. Every finding is persisted as an alert; whether a suspicious
// verdict blocks is the caller's policy.
func (d *Detector) Evaluate(ctx context.Context, accountID string, txType domain.TransactionType, amount decimal.Decimal) (Verdict, error) {
	var findings []finding

	f, err := d.velocity(ctx, accountID)
	if err != nil {
		return Verdict{}, fmt.Errorf("velocity check: %w", err)
	}
	findings = append(findings, f...)

	if txType == domain.TxWithdrawal && amount.GreaterThan(d.policy.LargeWithdrawal) {
		findings = append(findings, finding{
			alertType: domain.AlertSuspiciousAmount,
			severity:  domain.SeverityMedium,
			reason:    fmt.Sprintf("withdrawal of %s exceeds the %s threshold", amount.StringFixed(2), d.policy.LargeWithdrawal.StringFixed(2)),
		})
	}

	f, err = d.deviation(ctx, accountID, amount)
	if err != nil {
		return Verdict{}, fmt.Errorf("deviation check: %w", err)
	}
	findings = append(findings, f...)

	return d.conclude(ctx, accountID, findings)
}

// ScreenLoan flags principals above the large-loan threshold. Loan
// requests are never blocked by this check.
func (d *Detector) ScreenLoan(ctx context.Context, accountID string, principal decimal.Decimal) (Verdict, error) {
	if !principal.GreaterThan(d.policy.LargeLoan) {
		return Verdict{}, nil
	}
	return d.conclude(ctx, accountID, []finding{{
		alertType: domain.AlertLargeLoanRequest,
		severity:  domain.SeverityMedium,
		reason:    fmt.Sprintf("loan principal %s exceeds the %s threshold", principal.StringFixed(2), d.policy.LargeLoan.StringFixed(2)),
	}})
}

// ReportRepeatedFailures records a MULTIPLE_ATTEMPTS alert when an account
// is locked by a failed-attempt threshold.
func (d *Detector) ReportRepeatedFailures(ctx context.Context, accountID string, kind domain.CounterKind, attempts int) {
	_, err := d.conclude(ctx, accountID, []finding{{
		alertType: domain.AlertMultipleAttempts,
		severity:  domain.SeverityHigh,
		reason:    fmt.Sprintf("%d consecutive failed %s attempts", attempts, kind),
	}})
	if err != nil {
		logging.FromContext(ctx, d.logger).Error("record lockout alert failed", "account_id", accountID, "error", err)
	}
}

func (d *Detector) notify(ctx context.Context, alert domain.FraudAlert) {
	if d.notifier == nil {
		return
	}
	err := d.notifier.Send(ctx, notification.Message{
		Kind:      notification.KindFraudAlert,
		AccountID: alert.AccountID,
		Severity:  string(alert.Severity),
		Body:      fmt.Sprintf("%s: %s", alert.Type, alert.Description),
	})
	if err != nil {
		logging.FromContext(ctx, d.logger).Warn("fraud alert notification failed", "alert_id", alert.ID, "error", err)
	}
}

func monetary(t domain.TransactionType) bool {
	return t != domain.TxBalanceInquiry && t != domain.TxPINChange
}

// velocity counts the candidate itself: more than VelocityLimit operations
// in the window, including this one, is suspicious.
func (d *Detector) velocity(ctx context.Context, accountID string) ([]finding, error) {
	recent, err := d.records.RecentTransactions(ctx, accountID, d.now().Add(-d.policy.VelocityWindow))
	if err != nil {
		return nil, err
	}
	count := 1
	for _, tx := range recent {
		if monetary(tx.Type) {
			count++
		}
	}
	if count <= d.policy.VelocityLimit {
		return nil, nil
	}
	return []finding{{
		alertType: domain.AlertUnusualPattern,
		severity:  domain.SeverityHigh,
		reason:    fmt.Sprintf("%d transactions within %s", count, d.policy.VelocityWindow),
	}}, nil
}

func (d *Detector) deviation(ctx context.Context, accountID string, amount decimal.Decimal) ([]finding, error) {
	history, err := d.records.LastTransactions(ctx, accountID, d.policy.DeviationLookback*5)
	if err != nil {
		return nil, err
	}
	var sum decimal.Decimal
	n := 0
	for _, tx := range history {
		if tx.Status != domain.StatusSuccess || !tx.Amount.IsPositive() || !monetary(tx.Type) {
			continue
		}
		sum = sum.Add(tx.Amount)
		n++
		if n == d.policy.DeviationLookback {
			break
		}
	}
	if n == 0 {
		return nil, nil
	}
	mean := sum.Div(decimal.NewFromInt(int64(n)))
	if !amount.GreaterThan(mean.Mul(d.policy.DeviationFactor)) {
		return nil, nil
	}
	return []finding{{
		alertType: domain.AlertUnusualPattern,
		severity:  domain.SeverityMedium,
		reason:    fmt.Sprintf("amount %s is more than %s times the recent average %s", amount.StringFixed(2), d.policy.DeviationFactor, mean.StringFixed(2)),
	}}, nil
}

func (d *Detector) conclude(ctx context.Context, accountID string, findings []finding) (Verdict, error) {
	if len(findings) == 0 {
		return Verdict{}, nil
	}
	now := d.now().UTC()
	v := Verdict{Suspicious: true}
	reasons := make([]string, 0, len(findings))
	for _, f := range findings {
		alert := domain.FraudAlert{
			ID:          uuid.NewString(),
			AccountID:   accountID,
			Type:        f.alertType,
			Severity:    f.severity,
			Description: f.reason,
			CreatedAt:   now,
		}
		if err := d.records.AppendFraudAlert(ctx, alert); err != nil {
			return Verdict{}, fmt.Errorf("append fraud alert: %w", err)
		}
		metrics.FraudAlertsTotal.WithLabelValues(string(f.alertType), string(f.severity)).Inc()
		d.audit.Append(ctx, accountID, domain.ActionFraudAlert, fmt.Sprintf("%s/%s: %s", f.alertType, f.severity, f.reason))
		d.notify(ctx, alert)

		v.Alerts = append(v.Alerts, alert)
		reasons = append(reasons, f.reason)
		if f.severity.Rank() > v.Severity.Rank() {
			v.Severity = f.severity
			v.AlertType = f.alertType
		}
	}
	v.Reason = strings.Join(reasons, "; ")
	logging.FromContext(ctx, d.logger).Warn("fraud heuristics flagged operation",
		"account_id", accountID,
		"alert_type", v.AlertType,
		"severity", v.Severity,
		"reason", v.Reason,
	)
	return v, nil
}
