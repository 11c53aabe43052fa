package normalize

import (
	"encoding/json"

	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// GenericPayload is the provider-neutral payment shape accepted on
// /webhooks/payments/generic.
type GenericPayload struct {
	EventID           string          `json:"event_id"`
	TransactionID     string          `json:"transaction_id"`
	Reference         string          `json:"reference"`
	ProviderReference string          `json:"provider_reference"`
	OrderNumber       string          `json:"order_number"`
	Amount            json.RawMessage `json:"amount"`
	Currency          string          `json:"currency"`
	Status            string          `json:"status"`
	IdempotencyKey    string          `json:"idempotency_key"`
}

// Generic normalizes the canonical shape. The event id falls back to the
// transaction id and then the reference.
func Generic(body []byte) (PaymentEvent, error) {
	var payload GenericPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return PaymentEvent{}, malformed(err, "decode payment payload")
	}
	amount, amountRaw := parseAmount(payload.Amount)
	eventID := firstNonEmpty(payload.EventID, payload.TransactionID, payload.Reference)
	return PaymentEvent{
		Provider:          enums.PaymentProviderGeneric,
		EventID:           eventID,
		OrderNumber:       firstNonEmpty(payload.OrderNumber),
		ProviderReference: firstNonEmpty(payload.ProviderReference, payload.TransactionID, payload.Reference, eventID),
		Amount:            amount,
		AmountRaw:         amountRaw,
		Currency:          firstNonEmpty(payload.Currency),
		Status:            firstNonEmpty(payload.Status),
		IdempotencyKey:    firstNonEmpty(payload.IdempotencyKey, eventID),
		Raw:               json.RawMessage(body),
	}, nil
}
