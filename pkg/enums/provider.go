package enums

import (
	"fmt"
	"strings"
)

// PaymentProvider names an inbound payment event source.
type PaymentProvider string

const (
	PaymentProviderKorapay PaymentProvider = "korapay"
	// PaymentProviderGeneric accepts the canonical event shape directly.
	PaymentProviderGeneric PaymentProvider = "generic"
)

var validPaymentProviders = []PaymentProvider{
	PaymentProviderKorapay,
	PaymentProviderGeneric,
}

// String implements fmt.Stringer.
func (p PaymentProvider) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentProvider.
func (p PaymentProvider) IsValid() bool {
	for _, candidate := range validPaymentProviders {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePaymentProvider converts a path segment into a PaymentProvider.
func ParsePaymentProvider(value string) (PaymentProvider, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validPaymentProviders {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment provider %q", value)
}

// FulfillmentProvider names a fulfillment strategy.
type FulfillmentProvider string

const (
	FulfillmentProviderCJ     FulfillmentProvider = "cjdropship"
	FulfillmentProviderManual FulfillmentProvider = "manual"
)

var validFulfillmentProviders = []FulfillmentProvider{
	FulfillmentProviderCJ,
	FulfillmentProviderManual,
}

// String implements fmt.Stringer.
func (p FulfillmentProvider) String() string {
	return string(p)
}

// IsValid reports whether the value is a known FulfillmentProvider.
func (p FulfillmentProvider) IsValid() bool {
	for _, candidate := range validFulfillmentProviders {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParseFulfillmentProvider converts raw input into a FulfillmentProvider.
func ParseFulfillmentProvider(value string) (FulfillmentProvider, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validFulfillmentProviders {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid fulfillment provider %q", value)
}
