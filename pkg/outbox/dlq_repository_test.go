package outbox

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/orderflow-backend/pkg/db/dbtest"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
)

func dlqEntry(reason enums.OutboxDLQErrorReason, msg string) models.OutboxDLQ {
	return models.OutboxDLQ{
		EventID:       uuid.New(),
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       []byte(`{"version":1,"data":{}}`),
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  3,
	}
}

func TestDLQInsertTruncatesMessage(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewDLQRepository()

	long := strings.Repeat("x", pkgerrors.MaxStoredErrorLength+200)
	require.NoError(t, repo.InsertTx(conn, dlqEntry(enums.OutboxDLQReasonMaxAttempts, long)))

	var rows []models.OutboxDLQ
	require.NoError(t, conn.Find(&rows).Error)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].ErrorMessage)
	assert.Len(t, *rows[0].ErrorMessage, pkgerrors.MaxStoredErrorLength)
	assert.Equal(t, enums.OutboxDLQReasonMaxAttempts, rows[0].ErrorReason)
}

func TestDLQInsertRejectsUnknownReason(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewDLQRepository()

	assert.Error(t, repo.InsertTx(conn, dlqEntry("gave_up", "boom")))
	assert.Error(t, repo.InsertTx(nil, dlqEntry(enums.OutboxDLQReasonUnroutable, "boom")))

	var count int64
	require.NoError(t, conn.Model(&models.OutboxDLQ{}).Count(&count).Error)
	assert.Zero(t, count)
}
