// Package ledger records every inbound payment event by its provider event id
// so the same event never drives two payment transitions.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
)

// Record is the outcome of RecordIfNew.
type Record struct {
	// IsNew is true when this call created the ledger row.
	IsNew bool
	// Duplicate is true when an earlier delivery already finished processing;
	// callers must skip every side effect.
	Duplicate bool
	Entry     *models.PaymentWebhook
}

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &Service{repo: repo, now: time.Now}, nil
}

// RecordIfNew inserts the ledger row or, when it already exists, bumps its
// attempt counter. A row left failed by an earlier delivery is returned with
// Duplicate=false so the redelivery can be processed.
func (s *Service) RecordIfNew(ctx context.Context, tx *gorm.DB, provider enums.PaymentProvider, eventID string, payload json.RawMessage) (Record, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return Record{}, pkgerrors.New(pkgerrors.CodeMalformedEvent, "event id is required")
	}
	repo := s.repo.WithTx(tx)

	entry := &models.PaymentWebhook{
		Provider:        provider,
		ExternalEventID: eventID,
		Payload:         normalizePayload(payload),
		Attempts:        1,
		Status:          enums.WebhookStatusReceived,
	}
	inserted, err := repo.InsertIfAbsent(ctx, entry)
	if err != nil {
		return Record{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert payment webhook")
	}
	if inserted {
		return Record{IsNew: true, Entry: entry}, nil
	}

	if err := repo.IncrementAttempts(ctx, eventID); err != nil {
		return Record{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "increment webhook attempts")
	}
	existing, err := repo.FindByExternalID(ctx, eventID)
	if err != nil {
		return Record{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment webhook")
	}
	if existing == nil {
		return Record{}, pkgerrors.New(pkgerrors.CodeConflict, "payment webhook vanished after conflict")
	}
	return Record{Entry: existing, Duplicate: existing.ProcessedAt != nil}, nil
}

// MarkProcessed closes the entry and links the payment it resolved to.
func (s *Service) MarkProcessed(ctx context.Context, tx *gorm.DB, entryID uuid.UUID, paymentID *uuid.UUID) error {
	now := s.now().UTC()
	return s.update(ctx, tx, entryID, Outcome{
		Status:      enums.WebhookStatusProcessed,
		PaymentID:   paymentID,
		ProcessedAt: &now,
	})
}

// MarkRejected closes the entry for an event that can never succeed.
func (s *Service) MarkRejected(ctx context.Context, tx *gorm.DB, entryID uuid.UUID, cause error) error {
	now := s.now().UTC()
	return s.update(ctx, tx, entryID, Outcome{
		Status:      enums.WebhookStatusRejected,
		LastError:   truncated(cause),
		ProcessedAt: &now,
	})
}

// MarkFailed keeps the entry open so a later delivery is processed again.
func (s *Service) MarkFailed(ctx context.Context, tx *gorm.DB, entryID uuid.UUID, cause error) error {
	return s.update(ctx, tx, entryID, Outcome{
		Status:    enums.WebhookStatusFailed,
		LastError: truncated(cause),
	})
}

func (s *Service) update(ctx context.Context, tx *gorm.DB, entryID uuid.UUID, outcome Outcome) error {
	if err := s.repo.WithTx(tx).UpdateOutcome(ctx, entryID, outcome); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment webhook")
	}
	return nil
}

func truncated(err error) *string {
	if err == nil {
		return nil
	}
	msg := pkgerrors.Truncate(err)
	return &msg
}

func normalizePayload(payload json.RawMessage) json.RawMessage {
	if len(payload) == 0 || !json.Valid(payload) {
		return json.RawMessage(`{}`)
	}
	return payload
}
