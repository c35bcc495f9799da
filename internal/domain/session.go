package domain

import "time"

// Session is an authenticated terminal session.
type Session struct {
	ID                   string
	AccountID            string
	Fingerprint          string
	SecondFactorVerified bool
	RiskScore            float64
	Active               bool
	CreatedAt            time.Time
	EndedAt              *time.Time
}

// ExpiredAt reports whether the session is past ttl at now.
func (s Session) ExpiredAt(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.CreatedAt) >= ttl
}
