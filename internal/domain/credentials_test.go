package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestValidatePIN(t *testing.T) {
	tests := []struct {
		pin string
		ok  bool
	}{
		{"1234", true},
		{"0000", true},
		{"123", false},
		{"12345", false},
		{"12a4", false},
		{"", false},
	}
	for _, tt := range tests {
		err := ValidatePIN(tt.pin)
		if (err == nil) != tt.ok {
			t.Errorf("ValidatePIN(%q) = %v, want ok=%v", tt.pin, err, tt.ok)
		}
		if err != nil && !errors.Is(err, ErrInvalidInput) {
			t.Errorf("ValidatePIN(%q) error %v is not ErrInvalidInput", tt.pin, err)
		}
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		password string
		ok       bool
	}{
		{"Str0ng!Pass", true},
		{"short1!", false},
		{"alllower1!", false},
		{"ALLUPPER1!", false},
		{"NoDigits!!", false},
		{"NoSpecial12", false},
	}
	for _, tt := range tests {
		if err := ValidatePassword(tt.password); (err == nil) != tt.ok {
			t.Errorf("ValidatePassword(%q) = %v, want ok=%v", tt.password, err, tt.ok)
		}
	}
}

func TestValidateAmount(t *testing.T) {
	if err := ValidateAmount(decimal.NewFromInt(10)); err != nil {
		t.Fatalf("expected valid amount, got %v", err)
	}
	if err := ValidateAmount(decimal.Zero); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for zero, got %v", err)
	}
	if err := ValidateAmount(decimal.NewFromInt(-5)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for negative, got %v", err)
	}
	if err := ValidateAmount(decimal.RequireFromString("1.005")); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for sub-cent precision, got %v", err)
	}
}

func TestTypedErrorsMatchSentinels(t *testing.T) {
	if !errors.Is(&LockedError{Reason: LockReasonPassword}, ErrAccountLocked) {
		t.Fatal("LockedError should match ErrAccountLocked")
	}
	if !errors.Is(&FraudBlockedError{Reason: "velocity"}, ErrFraudBlocked) {
		t.Fatal("FraudBlockedError should match ErrFraudBlocked")
	}
	var le *LockedError
	wrapped := errors.Join(errors.New("context"), &LockedError{Reason: LockReasonPIN})
	if !errors.As(wrapped, &le) || le.Reason != LockReasonPIN {
		t.Fatalf("expected LockedError via errors.As, got %v", wrapped)
	}
}
