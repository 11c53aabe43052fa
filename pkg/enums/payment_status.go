package enums

import (
	"fmt"
	"strings"
)

// PaymentStatus tracks the lifecycle of a provider payment.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusAuthorized PaymentStatus = "authorized"
	PaymentStatusPaid       PaymentStatus = "paid"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

var validPaymentStatuses = []PaymentStatus{
	PaymentStatusPending,
	PaymentStatusAuthorized,
	PaymentStatusPaid,
	PaymentStatusFailed,
	PaymentStatusRefunded,
}

// String implements fmt.Stringer.
func (p PaymentStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentStatus.
func (p PaymentStatus) IsValid() bool {
	for _, candidate := range validPaymentStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePaymentStatus converts raw input into a PaymentStatus.
func ParsePaymentStatus(value string) (PaymentStatus, error) {
	for _, candidate := range validPaymentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment status %q", value)
}

// MapProviderPaymentStatus translates provider vocabulary into a canonical
// status. ok is false for unknown words, which leave the payment unchanged.
func MapProviderPaymentStatus(raw string) (status PaymentStatus, ok bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "paid", "captured", "success", "succeeded":
		return PaymentStatusPaid, true
	case "failed", "declined":
		return PaymentStatusFailed, true
	case "authorized":
		return PaymentStatusAuthorized, true
	}
	return "", false
}
