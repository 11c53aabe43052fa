package normalize

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	"github.com/angelmondragon/orderflow-backend/pkg/korapay"
)

// Korapay normalizes a charge.* webhook. The order number is taken from the
// charge metadata and falls back to the merchant reference it was created with.
func Korapay(body []byte) (PaymentEvent, error) {
	event, err := korapay.DecodeWebhook(body)
	if err != nil {
		return PaymentEvent{}, malformed(err, "decode korapay webhook")
	}
	if !strings.HasPrefix(event.Event, "charge.") {
		return PaymentEvent{}, fmt.Errorf("korapay %q: %w", event.Event, ErrUnsupportedEvent)
	}
	charge, err := event.Charge()
	if err != nil {
		return PaymentEvent{}, malformed(err, "decode korapay charge")
	}
	providerRef := firstNonEmpty(charge.PaymentReference, charge.Reference)
	eventID := ""
	if providerRef != "" {
		eventID = fmt.Sprintf("korapay:%s:%s", event.Event, providerRef)
	}
	normalized := KorapayCharge(charge, eventID)
	normalized.Raw = json.RawMessage(body)
	return normalized, nil
}

// KorapayCharge normalizes a charge fetched from the verify endpoint or
// embedded in a webhook.
func KorapayCharge(charge korapay.Charge, eventID string) PaymentEvent {
	amount, amountRaw := parseAmount(charge.Amount)
	orderNumber := ""
	if charge.Metadata != nil {
		orderNumber = charge.Metadata["order_number"]
	}
	providerRef := firstNonEmpty(charge.PaymentReference, charge.Reference)
	raw, _ := json.Marshal(charge)
	return PaymentEvent{
		Provider:          enums.PaymentProviderKorapay,
		EventID:           eventID,
		OrderNumber:       firstNonEmpty(orderNumber, charge.Reference),
		ProviderReference: providerRef,
		Amount:            amount,
		AmountRaw:         amountRaw,
		Currency:          firstNonEmpty(charge.Currency),
		Status:            firstNonEmpty(charge.Status),
		IdempotencyKey:    firstNonEmpty(charge.Reference, providerRef),
		Raw:               raw,
	}
}

// VerifyEventID is the ledger key for a pulled charge state; each distinct
// status observed for a reference is processed once.
func VerifyEventID(reference, status string) string {
	return fmt.Sprintf("verify:%s:%s", strings.TrimSpace(reference), strings.ToLower(strings.TrimSpace(status)))
}
