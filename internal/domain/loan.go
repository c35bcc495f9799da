package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LoanType drives the interest-rate surcharge.
type LoanType string

const (
	LoanPersonal  LoanType = "PERSONAL"
	LoanBusiness  LoanType = "BUSINESS"
	LoanEmergency LoanType = "EMERGENCY"
	LoanEducation LoanType = "EDUCATION"
)

// Valid reports whether t is a known loan type.
func (t LoanType) Valid() bool {
	switch t {
	case LoanPersonal, LoanBusiness, LoanEmergency, LoanEducation:
		return true
	}
	return false
}

// LoanStatus is the loan lifecycle state.
type LoanStatus string

const (
	LoanPending   LoanStatus = "PENDING"
	LoanApproved  LoanStatus = "APPROVED"
	LoanActive    LoanStatus = "ACTIVE"
	LoanCompleted LoanStatus = "COMPLETED"
	LoanDefaulted LoanStatus = "DEFAULTED"
	LoanRejected  LoanStatus = "REJECTED"
)

// Loan is an amortizing loan. RemainingBalance only decreases and the loan
// is frozen once COMPLETED.
type Loan struct {
	ID               string          `json:"id"`
	AccountID        string          `json:"account_id"`
	Type             LoanType        `json:"type"`
	Principal        decimal.Decimal `json:"principal"`
	InterestRate     decimal.Decimal `json:"interest_rate"` // annual percent, e.g. 10 for 10%
	TermMonths       int             `json:"term_months"`
	MonthlyPayment   decimal.Decimal `json:"monthly_payment"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
	Status           LoanStatus      `json:"status"`
	Purpose          string          `json:"purpose"`
	Collateral       string          `json:"collateral"`
	AppliedAt        time.Time       `json:"applied_at"`
	ApprovedAt       *time.Time      `json:"approved_at,omitempty"`
	DisbursedAt      *time.Time      `json:"disbursed_at,omitempty"`
	NextPaymentDate  *time.Time      `json:"next_payment_date,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
}

// LoanPayment splits a repayment into interest and principal portions.
type LoanPayment struct {
	ID               string          `json:"id"`
	LoanID           string          `json:"loan_id"`
	AccountID        string          `json:"account_id"`
	Amount           decimal.Decimal `json:"amount"`
	PrincipalPortion decimal.Decimal `json:"principal_portion"`
	InterestPortion  decimal.Decimal `json:"interest_portion"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
	TransactionID    string          `json:"transaction_id"`
	PaidAt           time.Time       `json:"paid_at"`
}
