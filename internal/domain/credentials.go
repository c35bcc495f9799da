package domain

import (
	"unicode"

	"github.com/shopspring/decimal"
)

// MinPasswordLength is the shortest password the policy accepts.
const MinPasswordLength = 8

// ValidatePIN requires exactly four ASCII digits.
func ValidatePIN(pin string) error {
	if len(pin) != 4 {
		return Invalid("pin", "must be exactly 4 digits")
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return Invalid("pin", "must be numeric")
		}
	}
	return nil
}

// ValidatePassword enforces length plus upper, lower, digit and special characters.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return Invalid("password", "must be at least 8 characters")
	}
	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}
	switch {
	case !upper:
		return Invalid("password", "must contain an uppercase letter")
	case !lower:
		return Invalid("password", "must contain a lowercase letter")
	case !digit:
		return Invalid("password", "must contain a digit")
	case !special:
		return Invalid("password", "must contain a special character")
	}
	return nil
}

// ValidateAmount requires a strictly positive amount with at most two decimals.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return Invalid("amount", "must be greater than zero")
	}
	if !amount.Equal(amount.Round(2)) {
		return Invalid("amount", "must have at most two decimal places")
	}
	return nil
}
