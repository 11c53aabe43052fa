package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/db/dbtest"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	conn := dbtest.Open(t)
	svc, err := NewService(NewRepository(conn))
	require.NoError(t, err)
	return svc, conn
}

func TestRecordIfNewInsertsOnce(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	payload := json.RawMessage(`{"event_id":"evt_1"}`)

	first, err := svc.RecordIfNew(ctx, conn, enums.PaymentProviderGeneric, "evt_1", payload)
	require.NoError(t, err)
	require.True(t, first.IsNew)
	require.False(t, first.Duplicate)

	require.NoError(t, svc.MarkProcessed(ctx, conn, first.Entry.ID, nil))

	second, err := svc.RecordIfNew(ctx, conn, enums.PaymentProviderGeneric, "evt_1", payload)
	require.NoError(t, err)
	require.False(t, second.IsNew)
	require.True(t, second.Duplicate)
	require.Equal(t, first.Entry.ID, second.Entry.ID)
	require.Equal(t, 2, second.Entry.Attempts)

	var count int64
	require.NoError(t, conn.Model(&models.PaymentWebhook{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestFailedEntryIsReprocessable(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()

	rec, err := svc.RecordIfNew(ctx, conn, enums.PaymentProviderKorapay, "evt_2", nil)
	require.NoError(t, err)
	require.NoError(t, svc.MarkFailed(ctx, conn, rec.Entry.ID, errors.New(strings.Repeat("x", 900))))

	again, err := svc.RecordIfNew(ctx, conn, enums.PaymentProviderKorapay, "evt_2", nil)
	require.NoError(t, err)
	require.False(t, again.IsNew)
	require.False(t, again.Duplicate)
	require.Equal(t, enums.WebhookStatusFailed, again.Entry.Status)
	require.NotNil(t, again.Entry.LastError)
	require.Len(t, *again.Entry.LastError, pkgerrors.MaxStoredErrorLength)
	require.Nil(t, again.Entry.ProcessedAt)
}

func TestRejectedEntryIsTerminal(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()

	rec, err := svc.RecordIfNew(ctx, conn, enums.PaymentProviderGeneric, "evt_bad", json.RawMessage(`{"amount":"abc"}`))
	require.NoError(t, err)
	require.NoError(t, svc.MarkRejected(ctx, conn, rec.Entry.ID, pkgerrors.New(pkgerrors.CodeMalformedEvent, "amount is not numeric")))

	again, err := svc.RecordIfNew(ctx, conn, enums.PaymentProviderGeneric, "evt_bad", nil)
	require.NoError(t, err)
	require.True(t, again.Duplicate)
	require.Equal(t, enums.WebhookStatusRejected, again.Entry.Status)
}

func TestRolledBackInsertLeavesNoTrace(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	boom := errors.New("order lookup failed")

	err := conn.Transaction(func(tx *gorm.DB) error {
		rec, err := svc.RecordIfNew(ctx, tx, enums.PaymentProviderGeneric, "evt_3", nil)
		require.NoError(t, err)
		require.True(t, rec.IsNew)
		return boom
	})
	require.ErrorIs(t, err, boom)

	rec, err := svc.RecordIfNew(ctx, conn, enums.PaymentProviderGeneric, "evt_3", nil)
	require.NoError(t, err)
	require.True(t, rec.IsNew)
}

func TestRecordIfNewRequiresEventID(t *testing.T) {
	svc, conn := newTestService(t)
	_, err := svc.RecordIfNew(context.Background(), conn, enums.PaymentProviderGeneric, "  ", nil)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeMalformedEvent))
}
