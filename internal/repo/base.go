package repo

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/orderflow-backend/pkg/db"
)

// Base is embedded by the order, payment, fulfillment and shipment
// repositories.
type Base struct {
	db *gorm.DB
}

func NewBase(db *gorm.DB) Base {
	return Base{db: db}
}

// Bind returns a Base on tx, or b unchanged when tx is nil.
func (b Base) Bind(tx *gorm.DB) Base {
	if tx == nil {
		return b
	}
	return Base{db: tx}
}

// DB returns the connection bound to ctx when one is given.
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return b.db
	}
	return b.db.WithContext(ctx)
}

// Locked is DB with SELECT ... FOR UPDATE on postgres.
func (b Base) Locked(ctx context.Context) *gorm.DB {
	return dbpkg.ForUpdate(b.DB(ctx))
}

// UpdateByID applies a partial column update to the row of model's table
// with the given id. An empty update is a no-op.
func (b Base) UpdateByID(ctx context.Context, model any, id uuid.UUID, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	return b.DB(ctx).Model(model).Where("id = ?", id).Updates(updates).Error
}
