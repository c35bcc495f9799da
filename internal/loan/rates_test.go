package loan

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/congo-pay/teller/internal/domain"
)

func TestInterestRate(t *testing.T) {
	tests := []struct {
		name  string
		typ   domain.LoanType
		score int
		want  int64
	}{
		{"personal without score", domain.LoanPersonal, 0, 10},
		{"business surcharge", domain.LoanBusiness, 0, 12},
		{"education surcharge", domain.LoanEducation, 0, 11},
		{"excellent score", domain.LoanPersonal, 800, 8},
		{"good score", domain.LoanPersonal, 700, 9},
		{"fair score unchanged", domain.LoanPersonal, 600, 10},
		{"poor score", domain.LoanPersonal, 500, 15},
		{"emergency with poor score hits the cap", domain.LoanEmergency, 400, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, InterestRate(tt.typ, tt.score).Equal(decimal.NewFromInt(tt.want)), "got %s", InterestRate(tt.typ, tt.score))
		})
	}
}

func TestMonthlyPayment(t *testing.T) {
	p := MonthlyPayment(decimal.NewFromInt(100000), decimal.NewFromInt(10), 12)
	assert.Equal(t, "8791.59", p.StringFixed(2))

	p = MonthlyPayment(decimal.NewFromInt(1200), decimal.Zero, 12)
	assert.Equal(t, "100.00", p.StringFixed(2))
}

func TestAmortizeRetiresPrincipal(t *testing.T) {
	principal := decimal.NewFromInt(100000)
	rows := Amortize(principal, decimal.NewFromInt(10), 12)
	assert.Len(t, rows, 12)

	paid := decimal.Zero
	for _, r := range rows {
		paid = paid.Add(r.Principal)
		assert.True(t, r.Payment.Equal(r.Principal.Add(r.Interest)))
	}
	assert.True(t, paid.Equal(principal))
	assert.True(t, rows[len(rows)-1].Remaining.IsZero())
	assert.Equal(t, "833.33", rows[0].Interest.StringFixed(2))
}
