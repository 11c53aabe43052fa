package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PayloadEnvelope is the stable payload structure stored in outbox_events.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Source     string          `json:"source,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// DecodeEnvelope parses a published message body and its event id.
func DecodeEnvelope(body []byte) (PayloadEnvelope, uuid.UUID, error) {
	var envelope PayloadEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return PayloadEnvelope{}, uuid.Nil, fmt.Errorf("decode envelope: %w", err)
	}
	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		return PayloadEnvelope{}, uuid.Nil, fmt.Errorf("invalid event id %q: %w", envelope.EventID, err)
	}
	return envelope, eventID, nil
}
