package outbox

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
)

// DLQRepository stores outbox rows the publisher gave up on, with the
// payload intact for manual replay. It only writes inside the caller's
// transaction, so it holds no connection of its own.
type DLQRepository struct{}

func NewDLQRepository() *DLQRepository {
	return &DLQRepository{}
}

// InsertTx writes entry inside the publisher's batch transaction so the
// dead letter and the terminal mark on the source row commit together.
func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if !entry.ErrorReason.IsValid() {
		return fmt.Errorf("invalid dlq reason %q", entry.ErrorReason)
	}
	if entry.ErrorMessage != nil {
		msg := pkgerrors.TruncateMessage(*entry.ErrorMessage)
		entry.ErrorMessage = &msg
	}
	return tx.Create(&entry).Error
}
