package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/db"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
	"github.com/angelmondragon/orderflow-backend/pkg/migrate"
)

func main() {
	cmd := flag.String("cmd", "up", "migration command: up|down|status|version|create|validate")
	dir := flag.String("dir", "", "migrations directory; empty uses the migrations built into this binary")
	name := flag.String("name", "", "migration name (for create)")
	version := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "migrate"})
	ctx := logg.WithField(context.Background(), "cmd", *cmd)

	// create and validate work on files only.
	switch *cmd {
	case "create":
		if *name == "" {
			fail("missing -name for create")
		}
		target := *dir
		if target == "" {
			target = migrate.DefaultDir
		}
		path, err := migrate.CreateSQLMigration(target, *name, time.Now())
		if err != nil {
			fail("create migration: %v", err)
		}
		fmt.Println("created migration:", path)
		return
	case "validate":
		if err := migrate.Validate(migrate.Source(*dir)); err != nil {
			fail("migration validation failed: %v", err)
		}
		fmt.Println("migration validation passed")
		return
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)
	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Environment: cfg.App.Env,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      logger.ParseFormat(cfg.App.LogFormat),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "dir": *dir})

	dbClient, err := db.New(ctx, cfg.DB, logg, db.WithSQLite(cfg.FeatureFlags.UseSQLite))
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	if cfg.FeatureFlags.UseSQLite {
		if *cmd != "up" {
			fail("-cmd=%s is not supported on sqlite; only up (auto-migrate) is", *cmd)
		}
		requireResource(ctx, logg, "sqlite schema", migrate.AutoMigrateSQLite(ctx, logg, dbClient))
		return
	}

	sqlDB, err := dbClient.DB().DB()
	requireResource(ctx, logg, "sql database", err)
	migrator, err := migrate.New(sqlDB, migrate.Source(*dir))
	requireResource(ctx, logg, "migrator", err)

	switch *cmd {
	case "up":
		applied, err := migrator.Up(ctx)
		if err != nil {
			fail("%v", err)
		}
		fmt.Printf("applied %d migration(s) %v\n", len(applied), applied)
	case "down":
		rolledBack, err := migrator.Down(ctx)
		if err != nil {
			fail("%v", err)
		}
		fmt.Println("rolled back", rolledBack)
	case "status":
		states, err := migrator.Status(ctx)
		if err != nil {
			fail("%v", err)
		}
		for _, s := range states {
			state := "pending"
			if s.Applied {
				state = "applied"
			}
			fmt.Printf("%-8s %d %s\n", state, s.Version, s.Path)
		}
	case "version":
		if *version == "" {
			fail("missing -version for version command")
		}
		if err := migrator.To(ctx, *version); err != nil {
			fail("%v", err)
		}
		fmt.Println("schema at version", *version)
	default:
		fail("unknown -cmd value: %s", *cmd)
	}
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
