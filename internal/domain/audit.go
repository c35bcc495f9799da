package domain

import "time"

// Audit action codes.
const (
	ActionLoginSuccess      = "LOGIN_SUCCESS"
	ActionLoginFailed       = "LOGIN_FAILED"
	ActionAccountLocked     = "ACCOUNT_LOCKED"
	ActionAccountUnlocked   = "ACCOUNT_UNLOCKED"
	ActionAutoUnlocked      = "ACCOUNT_AUTO_UNLOCKED"
	ActionPINVerified       = "PIN_VERIFIED"
	ActionPINFailed         = "PIN_FAILED"
	ActionLogout            = "LOGOUT"
	ActionSessionExpired    = "SESSION_EXPIRED"
	ActionSessionTamper     = "SESSION_TAMPER"
	ActionWithdrawal        = "WITHDRAWAL"
	ActionDeposit           = "DEPOSIT"
	ActionTransfer          = "TRANSFER"
	ActionBillPayment       = "BILL_PAYMENT"
	ActionBalanceInquiry    = "BALANCE_INQUIRY"
	ActionPINChange         = "PIN_CHANGE"
	ActionPasswordChange    = "PASSWORD_CHANGE"
	ActionLoanApplied       = "LOAN_APPLIED"
	ActionLoanApproved      = "LOAN_APPROVED"
	ActionLoanRejected      = "LOAN_REJECTED"
	ActionLoanDisbursed     = "LOAN_DISBURSEMENT"
	ActionLoanPayment       = "LOAN_PAYMENT"
	ActionFraudAlert        = "FRAUD_ALERT"
	ActionFraudAlertResolve = "FRAUD_ALERT_RESOLVED"
	ActionAccountCreated    = "ACCOUNT_CREATED"
	ActionBillCreated       = "BILL_CREATED"
	ActionRiskRuleAdded     = "RISK_RULE_ADDED"
)

// AuditEntry is an append-only audit record. AccountID is empty for
// events not tied to a known account (e.g. login with an unknown identifier).
type AuditEntry struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id,omitempty"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}
