package domain

import "time"

// AlertType classifies a fraud alert.
type AlertType string

const (
	AlertSuspiciousAmount AlertType = "SUSPICIOUS_AMOUNT"
	AlertMultipleAttempts AlertType = "MULTIPLE_ATTEMPTS"
	AlertUnusualPattern   AlertType = "UNUSUAL_PATTERN"
	AlertLargeLoanRequest AlertType = "LARGE_LOAN_REQUEST"
)

// Severity of a fraud alert.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Rank orders severities so policy thresholds can be compared.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// FraudAlert is raised by the fraud detector and resolved by an administrator.
type FraudAlert struct {
	ID          string     `json:"id"`
	AccountID   string     `json:"account_id"`
	Type        AlertType  `json:"type"`
	Severity    Severity   `json:"severity"`
	Description string     `json:"description"`
	Resolved    bool       `json:"resolved"`
	ResolvedBy  string     `json:"resolved_by"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
