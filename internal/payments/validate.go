package payments

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/orderflow-backend/internal/normalize"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
)

func validate(event normalize.PaymentEvent) error {
	missing := []string{}
	if strings.TrimSpace(event.OrderNumber) == "" {
		missing = append(missing, "order_number")
	}
	if event.Amount == nil {
		missing = append(missing, "amount")
	}
	if strings.TrimSpace(event.Currency) == "" {
		missing = append(missing, "currency")
	}
	if strings.TrimSpace(event.ProviderReference) == "" && strings.TrimSpace(event.IdempotencyKey) == "" {
		missing = append(missing, "reference")
	}
	if len(missing) == 0 {
		return nil
	}
	details := map[string]any{"missing_or_invalid": missing}
	if event.AmountRaw != "" && event.Amount == nil {
		details["amount"] = event.AmountRaw
	}
	return pkgerrors.New(pkgerrors.CodeMalformedEvent, "payment event is missing required fields").WithDetails(details)
}

// CheckAmount enforces the financial invariant: a positive amount in the
// order currency within AmountTolerance of the grand total. Partial and
// cross-currency payments are rejected.
func CheckAmount(order *models.Order, amount decimal.Decimal, currency string) error {
	details := map[string]any{
		"order_number": order.Number,
		"expected":     order.GrandTotal.StringFixed(2),
		"expected_ccy": order.Currency,
		"received":     amount.String(),
		"received_ccy": currency,
	}
	if !amount.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeAmountMismatch, "payment amount must be positive").WithDetails(details)
	}
	if !strings.EqualFold(strings.TrimSpace(currency), strings.TrimSpace(order.Currency)) {
		return pkgerrors.New(pkgerrors.CodeAmountMismatch, "payment currency does not match order").WithDetails(details)
	}
	if amount.Sub(order.GrandTotal).Abs().GreaterThan(AmountTolerance) {
		return pkgerrors.New(pkgerrors.CodeAmountMismatch, "payment amount does not match order total").WithDetails(details)
	}
	return nil
}
