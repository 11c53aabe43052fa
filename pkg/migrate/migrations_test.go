package migrate_test

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/orderflow-backend/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	require.NoError(t, err)
	require.Len(t, matches, 1, "expected exactly one %s migration", suffix)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	return string(data)
}

func TestMigrationsDirIsValid(t *testing.T) {
	require.NoError(t, migrate.ValidateDir("migrations"))
}

func TestPaymentsMigrationEnforcesIdempotencyKeys(t *testing.T) {
	content := readMigration(t, "create_payments")
	for _, check := range []string{
		"CONSTRAINT payments_provider_reference_key UNIQUE (provider, provider_reference)",
		"CONSTRAINT payment_webhooks_external_event_id_key UNIQUE (external_event_id)",
		"FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE CASCADE",
	} {
		require.Contains(t, content, check)
	}
}

func TestFulfillmentMigrationEnforcesOneJobPerItem(t *testing.T) {
	content := readMigration(t, "create_fulfillment_and_shipments")
	for _, check := range []string{
		"CONSTRAINT fulfillment_jobs_order_item_id_key UNIQUE (order_item_id)",
		"CONSTRAINT fulfillment_attempts_job_number_key UNIQUE (fulfillment_job_id, attempt_number)",
		"CONSTRAINT shipments_item_tracking_key UNIQUE (order_item_id, tracking_number)",
	} {
		require.Contains(t, content, check)
	}
}

func TestEveryMigrationHasDownSection(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	for _, path := range matches {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		down := strings.SplitN(string(data), "-- +goose Down", 2)
		require.Len(t, down, 2, path)
		require.Contains(t, down[1], "DROP TABLE", path)
	}
}

func TestEmbeddedMigrationsMatchDirectory(t *testing.T) {
	require.NoError(t, migrate.Validate(migrate.Migrations()))

	embedded, err := fs.Glob(migrate.Migrations(), "*.sql")
	require.NoError(t, err)
	onDisk, err := filepath.Glob(filepath.Join("migrations", "*.sql"))
	require.NoError(t, err)
	require.Len(t, embedded, len(onDisk))
}

func TestCreateSQLMigrationSanitizesName(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 4, 2, 10, 30, 0, 0, time.UTC)
	path, err := migrate.CreateSQLMigration(dir, "Add Refund Columns!", now)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "20260402103000_add_refund_columns.sql"), path)
	require.NoError(t, migrate.ValidateDir(dir))

	_, err = migrate.CreateSQLMigration(dir, "!!!", now)
	require.Error(t, err)
}

func TestCreateSQLMigrationNeverGoesBackwards(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 4, 2, 10, 30, 0, 0, time.UTC)
	_, err := migrate.CreateSQLMigration(dir, "first", now)
	require.NoError(t, err)

	path, err := migrate.CreateSQLMigration(dir, "second", now.Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, "20260402103001_second.sql", filepath.Base(path))
	require.NoError(t, migrate.ValidateDir(dir))
}

func TestValidateRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20260101000000_ok.sql"), []byte("-- +goose Down\n-- +goose Up\n"), 0o644))
	require.ErrorContains(t, migrate.ValidateDir(dir), "Down before Up")

	dir = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "orders.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644))
	require.ErrorContains(t, migrate.ValidateDir(dir), "invalid migration filename")
}
