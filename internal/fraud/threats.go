package fraud

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/teller/internal/domain"
	"github.com/congo-pay/teller/internal/logging"
	"github.com/congo-pay/teller/internal/risk"
)

// Actions scored by DetectRealTimeThreats.
const (
	ActionLogin      = "login"
	ActionWithdrawal = "withdrawal"
)

// Threat codes.
const (
	ThreatUntrustedDevice = "UNTRUSTED_DEVICE"
	ThreatNewPlatform     = "NEW_PLATFORM"
	ThreatBehavior        = "BEHAVIOR_ANOMALY"
	ThreatLargeWithdrawal = "LARGE_WITHDRAWAL"
	ThreatGeoFence        = "GEO_FENCE_VIOLATION"
	ThreatTimeWindow      = "TIME_RESTRICTION"
	ThreatOpenAlerts      = "OPEN_FRAUD_ALERTS"
)

const (
	weightDevice      = 0.4
	weightNewPlatform = 0.2
	weightBehavior    = 0.3
	weightLarge       = 0.3
	weightGeo         = 0.3
	weightTime        = 0.2
	weightOpenAlert   = 0.1
)

// ThreatContext carries the optional signals of the current request.
type ThreatContext struct {
	Fingerprint    string
	Platform       string
	BehaviorSample *float64
	Location       *risk.Location
	Amount         decimal.Decimal
	At             time.Time
}

// Threat is one contributing signal.
type Threat struct {
	Type     string          `json:"type"`
	Severity domain.Severity `json:"severity"`
	Detail   string          `json:"detail"`
	Weight   float64         `json:"weight"`
}

// ThreatReport is the advisory composite verdict. RiskScore is in [0, 1].
type ThreatReport struct {
	Threats         []Threat `json:"threats"`
	RiskScore       float64  `json:"risk_score"`
	Recommendations []string `json:"recommendations"`
}

// DetectRealTimeThreats aggregates device trust, behaviour drift and
// action-specific heuristics into a bounded score. It never blocks; the
// score and recommendations are advisory and the latest score is stored
// as the account's risk state.
func (d *Detector) DetectRealTimeThreats(ctx context.Context, accountID, action string, tc ThreatContext) (ThreatReport, error) {
	if tc.At.IsZero() {
		tc.At = d.now()
	}
	var report ThreatReport
	add := func(t Threat) {
		report.Threats = append(report.Threats, t)
		report.RiskScore += t.Weight
	}

	if tc.Fingerprint != "" {
		device, err := d.assessor.ValidateDevice(ctx, accountID, tc.Fingerprint, tc.Platform)
		if err != nil {
			return ThreatReport{}, fmt.Errorf("validate device: %w", err)
		}
		if !device.Trusted {
			add(Threat{
				Type:     ThreatUntrustedDevice,
				Severity: severityFor(device.Risk),
				Detail:   fmt.Sprintf("device risk %.1f", device.Risk),
				Weight:   device.Risk * weightDevice,
			})
		}
		if action == ActionLogin && !device.Known {
			add(Threat{
				Type:     ThreatNewPlatform,
				Severity: domain.SeverityMedium,
				Detail:   "login from a device never seen for this account",
				Weight:   weightNewPlatform,
			})
		}
	}

	if tc.BehaviorSample != nil {
		b, err := d.assessor.AnalyzeBehavior(ctx, accountID, *tc.BehaviorSample)
		if err != nil {
			return ThreatReport{}, fmt.Errorf("analyze behavior: %w", err)
		}
		if b.Anomalous {
			add(behaviorThreat(b))
		}
	}

	if action == ActionWithdrawal && tc.Amount.GreaterThan(d.policy.LargeWithdrawal) {
		add(Threat{
			Type:     ThreatLargeWithdrawal,
			Severity: domain.SeverityHigh,
			Detail:   fmt.Sprintf("withdrawal of %s", tc.Amount.StringFixed(2)),
			Weight:   weightLarge,
		})
	}

	if tc.Location != nil {
		geo, err := d.assessor.CheckLocation(ctx, accountID, *tc.Location)
		if err != nil {
			return ThreatReport{}, fmt.Errorf("check location: %w", err)
		}
		if !geo.Allowed {
			add(Threat{Type: ThreatGeoFence, Severity: domain.SeverityHigh, Detail: geo.Reason, Weight: weightGeo})
		}
	}

	window, err := d.assessor.CheckTime(ctx, accountID, tc.At)
	if err != nil {
		return ThreatReport{}, fmt.Errorf("check time window: %w", err)
	}
	if !window.Allowed {
		add(Threat{Type: ThreatTimeWindow, Severity: domain.SeverityMedium, Detail: window.Reason, Weight: weightTime})
	}

	report.RiskScore = clamp01(report.RiskScore)
	report.Recommendations = recommend(report)

	d.saveState(ctx, accountID, report)
	return report, nil
}

// ScoreLogin rates a login from the given device.
func (d *Detector) ScoreLogin(ctx context.Context, accountID, fingerprint, platform string) (float64, error) {
	report, err := d.DetectRealTimeThreats(ctx, accountID, ActionLogin, ThreatContext{Fingerprint: fingerprint, Platform: platform})
	return report.RiskScore, err
}

func behaviorThreat(b risk.BehaviorAssessment) Threat {
	return Threat{
		Type:     ThreatBehavior,
		Severity: severityFor(b.Confidence),
		Detail:   fmt.Sprintf("%.0f%% deviation from baseline %.1f", b.Deviation*100, b.Baseline),
		Weight:   b.Confidence * weightBehavior,
	}
}

func (d *Detector) saveState(ctx context.Context, accountID string, report ThreatReport) {
	codes := make([]string, 0, len(report.Threats))
	for _, t := range report.Threats {
		codes = append(codes, t.Type)
	}
	err := d.assessor.Store().SaveState(ctx, risk.State{
		AccountID: accountID,
		Score:     report.RiskScore,
		Threats:   codes,
		UpdatedAt: d.now().UTC(),
	})
	if err != nil {
		logging.FromContext(ctx, d.logger).Warn("save risk state failed", "account_id", accountID, "error", err)
	}
}

func severityFor(score float64) domain.Severity {
	switch {
	case score >= 0.7:
		return domain.SeverityHigh
	case score >= 0.4:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func recommend(r ThreatReport) []string {
	var out []string
	switch {
	case r.RiskScore >= 0.7:
		out = append(out, "Require manual review before completing sensitive operations")
	case r.RiskScore >= 0.4:
		out = append(out, "Require additional verification")
	}
	for _, t := range r.Threats {
		switch t.Type {
		case ThreatUntrustedDevice, ThreatNewPlatform:
			out = append(out, "Confirm the device with the cardholder")
		case ThreatBehavior:
			out = append(out, "Challenge the user with a second factor")
		case ThreatLargeWithdrawal:
			out = append(out, "Verify the withdrawal amount with the cardholder")
		case ThreatGeoFence:
			out = append(out, "Confirm the current location")
		case ThreatTimeWindow:
			out = append(out, "Defer the operation to an allowed time window")
		}
	}
	return dedupe(out)
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
