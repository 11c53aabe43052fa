package fulfillment

import (
	"encoding/json"
	"strings"

	"github.com/go-playground/validator/v10"

	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
)

var addressValidator = validator.New()

// ShippingAddress is the address checkout stores on the order.
type ShippingAddress struct {
	Name        string `json:"name" validate:"required"`
	Phone       string `json:"phone,omitempty"`
	Line1       string `json:"line1" validate:"required"`
	Line2       string `json:"line2,omitempty"`
	City        string `json:"city,omitempty"`
	Province    string `json:"province,omitempty"`
	PostalCode  string `json:"postal_code,omitempty"`
	Country     string `json:"country,omitempty"`
	CountryCode string `json:"country_code" validate:"required,len=2"`
}

// Street joins both address lines.
func (a ShippingAddress) Street() string {
	return strings.TrimSpace(strings.Join([]string{a.Line1, a.Line2}, " "))
}

// ParseShippingAddress decodes and validates the stored address.
func ParseShippingAddress(raw []byte) (ShippingAddress, error) {
	var addr ShippingAddress
	if len(raw) == 0 {
		return addr, pkgerrors.New(pkgerrors.CodeValidation, "order has no shipping address")
	}
	if err := json.Unmarshal(raw, &addr); err != nil {
		return addr, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode shipping address")
	}
	addr.CountryCode = strings.ToUpper(strings.TrimSpace(addr.CountryCode))
	if err := addressValidator.Struct(addr); err != nil {
		return addr, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid shipping address")
	}
	return addr, nil
}
