package risk

import (
	"context"
	"fmt"
	"math"
	"time"
)

const (
	trustAge     = 7 * 24 * time.Hour
	longTrustAge = 30 * 24 * time.Hour

	riskNewDevice     = 0.8
	riskRecentDevice  = 0.5
	riskTrustedDevice = 0.3
	riskLongTrusted   = 0.2

	minPatterns      = 5
	patternWindow    = 20
	anomalyDeviation = 0.5
	earthRadiusKm    = 6371.0
)

// DeviceAssessment is the trust verdict for one fingerprint.
type DeviceAssessment struct {
	Hash      string    `json:"hash"`
	Known     bool      `json:"known"`
	Trusted   bool      `json:"trusted"`
	Risk      float64   `json:"risk"`
	FirstSeen time.Time `json:"first_seen"`
}

// BehaviorAssessment compares a sample against the rolling average.
type BehaviorAssessment struct {
	Sufficient bool    `json:"sufficient"`
	Anomalous  bool    `json:"anomalous"`
	Deviation  float64 `json:"deviation"`
	Confidence float64 `json:"confidence"`
	Baseline   float64 `json:"baseline"`
}

// GeoDecision is the geo-fence verdict.
type GeoDecision struct {
	Allowed     bool    `json:"allowed"`
	NearestZone string  `json:"nearest_zone,omitempty"`
	DistanceKm  float64 `json:"distance_km"`
	Reason      string  `json:"reason,omitempty"`
}

// TimeDecision is the time-window verdict.
type TimeDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Assessor judges risk signals held in a Store.
type Assessor struct {
	store Store
	now   func() time.Time
}

// NewAssessor builds an Assessor over store.
func NewAssessor(store Store) *Assessor {
	return &Assessor{store: store, now: time.Now}
}

// WithClock overrides the time source.
func (a *Assessor) WithClock(now func() time.Time) *Assessor {
	a.now = now
	return a
}

// Store exposes the underlying signal store for rule administration.
func (a *Assessor) Store() Store { return a.store }

// ValidateDevice scores a fingerprint and records the sighting. Trust is
// earned only once the first sighting is older than seven days.
func (a *Assessor) ValidateDevice(ctx context.Context, accountID, hash, platform string) (DeviceAssessment, error) {
	now := a.now()
	device, known, err := a.store.GetDevice(ctx, accountID, hash)
	if err != nil {
		return DeviceAssessment{}, err
	}

	if !known {
		device = DeviceFingerprint{
			AccountID: accountID,
			Hash:      hash,
			Platform:  platform,
			FirstSeen: now,
		}
	}
	device.UseCount++
	device.LastSeen = now

	risk, trusted := deviceRisk(known, now.Sub(device.FirstSeen))
	device.Trusted = trusted
	if err := a.store.SaveDevice(ctx, device); err != nil {
		return DeviceAssessment{}, err
	}

	return DeviceAssessment{
		Hash:      hash,
		Known:     known,
		Trusted:   trusted,
		Risk:      risk,
		FirstSeen: device.FirstSeen,
	}, nil
}

func deviceRisk(known bool, age time.Duration) (float64, bool) {
	switch {
	case !known:
		return riskNewDevice, false
	case age > longTrustAge:
		return riskLongTrusted, true
	case age > trustAge:
		return riskTrustedDevice, true
	default:
		return riskRecentDevice, false
	}
}

// AnalyzeBehavior judges sample against the rolling average of recent
// samples, then records it. Fewer than five prior samples yields an
// insufficient, non-anomalous verdict.
func (a *Assessor) AnalyzeBehavior(ctx context.Context, accountID string, sample float64) (BehaviorAssessment, error) {
	history, err := a.store.Patterns(ctx, accountID, patternWindow)
	if err != nil {
		return BehaviorAssessment{}, err
	}

	verdict := judgeBehavior(history, sample)

	if err := a.store.AppendPattern(ctx, BehavioralPattern{
		AccountID:  accountID,
		Signal:     sample,
		RecordedAt: a.now(),
	}); err != nil {
		return BehaviorAssessment{}, err
	}
	return verdict, nil
}

// LastBehavior re-judges the most recent sample against the samples before it
// without recording anything.
func (a *Assessor) LastBehavior(ctx context.Context, accountID string) (BehaviorAssessment, error) {
	history, err := a.store.Patterns(ctx, accountID, patternWindow+1)
	if err != nil || len(history) == 0 {
		return BehaviorAssessment{}, err
	}
	return judgeBehavior(history[1:], history[0].Signal), nil
}

func judgeBehavior(history []BehavioralPattern, sample float64) BehaviorAssessment {
	if len(history) < minPatterns {
		return BehaviorAssessment{}
	}
	var sum float64
	for _, p := range history {
		sum += p.Signal
	}
	avg := sum / float64(len(history))
	if avg == 0 {
		return BehaviorAssessment{Sufficient: true}
	}
	deviation := math.Abs(sample-avg) / avg
	return BehaviorAssessment{
		Sufficient: true,
		Anomalous:  deviation > anomalyDeviation,
		Deviation:  deviation,
		Confidence: math.Min(deviation, 1),
		Baseline:   avg,
	}
}

// CheckLocation allows loc when it lies within the radius of the nearest
// configured zone. Accounts without zones are unrestricted.
func (a *Assessor) CheckLocation(ctx context.Context, accountID string, loc Location) (GeoDecision, error) {
	rules, err := a.store.GeoRules(ctx, accountID)
	if err != nil {
		return GeoDecision{}, err
	}
	return nearestZone(rules, loc), nil
}

func nearestZone(rules []GeoRule, loc Location) GeoDecision {
	if len(rules) == 0 {
		return GeoDecision{Allowed: true}
	}
	var nearest GeoRule
	best := math.Inf(1)
	for _, r := range rules {
		d := Haversine(loc, Location{Latitude: r.Latitude, Longitude: r.Longitude})
		if d < best {
			best, nearest = d, r
		}
	}
	decision := GeoDecision{NearestZone: nearest.Name, DistanceKm: best}
	if best <= nearest.RadiusKm {
		decision.Allowed = true
		return decision
	}
	decision.Reason = fmt.Sprintf("%.1f km outside zone %q (radius %.1f km)", best-nearest.RadiusKm, nearest.Name, nearest.RadiusKm)
	return decision
}

// Haversine returns the great-circle distance between a and b in kilometres.
func Haversine(a, b Location) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// CheckTime allows at when its weekday and hour fall inside any configured
// window. Accounts without windows are unrestricted.
func (a *Assessor) CheckTime(ctx context.Context, accountID string, at time.Time) (TimeDecision, error) {
	rules, err := a.store.TimeRules(ctx, accountID)
	if err != nil {
		return TimeDecision{}, err
	}
	return inWindow(rules, at), nil
}

func inWindow(rules []TimeRule, at time.Time) TimeDecision {
	if len(rules) == 0 {
		return TimeDecision{Allowed: true}
	}
	for _, r := range rules {
		if r.covers(at) {
			return TimeDecision{Allowed: true}
		}
	}
	return TimeDecision{Reason: fmt.Sprintf("%s %02d:00 is outside every allowed window", at.Weekday(), at.Hour())}
}

func (r TimeRule) covers(at time.Time) bool {
	if len(r.Days) > 0 {
		found := false
		for _, d := range r.Days {
			if d == at.Weekday() {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	h := at.Hour()
	if r.StartHour <= r.EndHour {
		return h >= r.StartHour && h < r.EndHour
	}
	return h >= r.StartHour || h < r.EndHour
}
