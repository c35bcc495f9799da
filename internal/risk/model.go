// Package risk holds per-account risk signals (devices, behaviour samples,
// geo-fences, time windows, scores) and the math that judges them.
package risk

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// DeviceInfo is what a terminal reports about itself.
type DeviceInfo struct {
	UserAgent        string `json:"user_agent"`
	Platform         string `json:"platform"`
	Language         string `json:"language"`
	ScreenResolution string `json:"screen_resolution"`
	Timezone         string `json:"timezone"`
}

// Fingerprint is the SHA256 hex digest of the reported attributes. Raw
// attributes are never stored.
func (d DeviceInfo) Fingerprint() string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		d.UserAgent, d.Platform, d.Language, d.ScreenResolution, d.Timezone,
	}, "|")))
	return hex.EncodeToString(sum[:])
}

// DeviceFingerprint is a device previously seen for an account.
type DeviceFingerprint struct {
	AccountID string    `json:"account_id"`
	Hash      string    `json:"hash"`
	Platform  string    `json:"platform"`
	Trusted   bool      `json:"trusted"`
	UseCount  int       `json:"use_count"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// BehavioralPattern is one sample of a behaviour signal, e.g. keystroke cadence in ms.
type BehavioralPattern struct {
	AccountID  string    `json:"account_id"`
	Signal     float64   `json:"signal"`
	RecordedAt time.Time `json:"recorded_at"`
}

// GeoRule is an allowed zone.
type GeoRule struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	Name      string    `json:"name"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	RadiusKm  float64   `json:"radius_km"`
	CreatedAt time.Time `json:"created_at"`
}

// TimeRule is an allowed weekly window. StartHour is inclusive, EndHour
// exclusive; a window with StartHour > EndHour wraps past midnight. No
// days means every day.
type TimeRule struct {
	ID        string         `json:"id"`
	AccountID string         `json:"account_id"`
	Days      []time.Weekday `json:"days"`
	StartHour int            `json:"start_hour"`
	EndHour   int            `json:"end_hour"`
	CreatedAt time.Time      `json:"created_at"`
}

// State is the latest composite score for an account.
type State struct {
	AccountID string    `json:"account_id"`
	Score     float64   `json:"score"`
	Threats   []string  `json:"threats"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Location is a coordinate pair in degrees.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}
