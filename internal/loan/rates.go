package loan

import (
	"github.com/shopspring/decimal"

	"github.com/congo-pay/teller/internal/domain"
)

var (
	baseRate = decimal.NewFromInt(10)
	minRate  = decimal.NewFromInt(5)
	maxRate  = decimal.NewFromInt(20)
)

// compoundPlaces bounds intermediate precision while compounding.
const compoundPlaces = 20

// InterestRate derives the annual percentage rate from the loan type and
// credit score. A zero credit score means no score on file.
func InterestRate(t domain.LoanType, creditScore int) decimal.Decimal {
	rate := baseRate
	switch t {
	case domain.LoanBusiness:
		rate = rate.Add(decimal.NewFromInt(2))
	case domain.LoanEmergency:
		rate = rate.Add(decimal.NewFromInt(5))
	case domain.LoanEducation:
		rate = rate.Add(decimal.NewFromInt(1))
	}

	switch {
	case creditScore == 0:
	case creditScore > 750:
		rate = rate.Sub(decimal.NewFromInt(2))
	case creditScore > 650:
		rate = rate.Sub(decimal.NewFromInt(1))
	case creditScore < 550:
		rate = rate.Add(decimal.NewFromInt(5))
	}

	if rate.LessThan(minRate) {
		return minRate
	}
	if rate.GreaterThan(maxRate) {
		return maxRate
	}
	return rate
}

// monthlyRate converts an annual percentage into a per-month fraction.
func monthlyRate(annualPercent decimal.Decimal) decimal.Decimal {
	return annualPercent.Div(decimal.NewFromInt(1200))
}

// MonthlyPayment is the fixed amortizing installment
// principal * r / (1 - (1+r)^-n), rounded to cents.
func MonthlyPayment(principal, annualPercent decimal.Decimal, months int) decimal.Decimal {
	r := monthlyRate(annualPercent)
	n := decimal.NewFromInt(int64(months))
	if r.IsZero() {
		return principal.DivRound(n, 2)
	}
	growth := decimal.NewFromInt(1)
	step := r.Add(decimal.NewFromInt(1))
	for i := 0; i < months; i++ {
		growth = growth.Mul(step).Round(compoundPlaces)
	}
	// r / (1 - growth^-1) == r * growth / (growth - 1)
	return principal.Mul(r).Mul(growth).DivRound(growth.Sub(decimal.NewFromInt(1)), 2)
}

// Installment is one row of an amortization table.
type Installment struct {
	Period    int             `json:"period"`
	Payment   decimal.Decimal `json:"payment"`
	Interest  decimal.Decimal `json:"interest"`
	Principal decimal.Decimal `json:"principal"`
	Remaining decimal.Decimal `json:"remaining"`
}

// Amortize builds the full schedule. The last installment absorbs rounding
// so the principal is retired exactly.
func Amortize(principal, annualPercent decimal.Decimal, months int) []Installment {
	r := monthlyRate(annualPercent)
	payment := MonthlyPayment(principal, annualPercent, months)
	remaining := principal
	out := make([]Installment, 0, months)
	for period := 1; period <= months; period++ {
		interest := remaining.Mul(r).Round(2)
		portion := payment.Sub(interest)
		if period == months || portion.GreaterThan(remaining) {
			portion = remaining
		}
		remaining = remaining.Sub(portion)
		out = append(out, Installment{
			Period:    period,
			Payment:   portion.Add(interest),
			Interest:  interest,
			Principal: portion,
			Remaining: remaining,
		})
	}
	return out
}
