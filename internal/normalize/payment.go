// Package normalize turns provider-specific webhook bodies into the canonical
// events the reconciliation services consume. Nothing downstream of this
// package reads raw provider JSON.
package normalize

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
)

// ErrUnsupportedEvent marks provider events that carry no payment state, such
// as Korapay refund notifications. Handlers acknowledge and drop them.
var ErrUnsupportedEvent = errors.New("event type not handled")

// PaymentEvent is the canonical payment notification.
type PaymentEvent struct {
	Provider          enums.PaymentProvider
	EventID           string
	OrderNumber       string
	ProviderReference string
	// Amount is nil when the provider omitted it or sent something non-numeric.
	Amount         *decimal.Decimal
	AmountRaw      string
	Currency       string
	Status         string
	IdempotencyKey string
	Raw            json.RawMessage
}

// Payment normalizes body according to the provider that delivered it.
func Payment(provider enums.PaymentProvider, body []byte) (PaymentEvent, error) {
	switch provider {
	case enums.PaymentProviderKorapay:
		return Korapay(body)
	case enums.PaymentProviderGeneric:
		return Generic(body)
	}
	return PaymentEvent{}, pkgerrors.New(pkgerrors.CodeValidation, "unsupported payment provider")
}

// parseAmount accepts JSON numbers and numeric strings.
func parseAmount(raw json.RawMessage) (*decimal.Decimal, string) {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return nil, ""
	}
	var quoted string
	if err := json.Unmarshal(raw, &quoted); err == nil {
		text = strings.TrimSpace(quoted)
	}
	amount, err := decimal.NewFromString(text)
	if err != nil {
		return nil, text
	}
	return &amount, text
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func malformed(err error, message string) error {
	return pkgerrors.Wrap(pkgerrors.CodeMalformedEvent, err, message)
}
