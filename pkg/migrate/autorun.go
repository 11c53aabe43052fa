package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/db"
	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

// MaybeRunDev migrates on startup in dev when ORDERFLOW_AUTO_MIGRATE is set.
// SQLite is shaped with gorm AutoMigrate; the SQL files are Postgres-only.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	if cfg.FeatureFlags.UseSQLite {
		return AutoMigrateSQLite(ctx, logg, client)
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}
	migrator, err := New(sqlDB, Migrations())
	if err != nil {
		return err
	}
	applied, err := migrator.Up(ctx)
	if err != nil {
		return err
	}
	logg.Info(logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "applied": applied}), "dev migrations applied")
	return nil
}

// AutoMigrateSQLite creates every model table on a SQLite database.
func AutoMigrateSQLite(ctx context.Context, logg *logger.Logger, client *db.Client) error {
	if err := client.DB().WithContext(ctx).AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("sqlite auto-migrate: %w", err)
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "driver", "sqlite"), "sqlite schema migrated")
	}
	return nil
}
