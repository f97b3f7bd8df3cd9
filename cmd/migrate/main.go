package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"go.uber.org/zap"

	"github.com/davidleathers/betting-risk-engine/internal/infrastructure/config"
	"github.com/davidleathers/betting-risk-engine/internal/infrastructure/database"
	"github.com/davidleathers/betting-risk-engine/internal/infrastructure/telemetry"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to configuration file")
		action     = flag.String("action", "up", "Migration action: up, down, version, force")
		steps      = flag.Int("steps", 0, "Number of migrations to apply or roll back (0 = all)")
		version    = flag.Int("version", -1, "Version to force (force action only)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	m, err := database.OpenMigrator(cfg.Database.URL)
	if err != nil {
		logger.Fatal("failed to open migrator", zap.Error(err))
	}
	defer m.Close()

	v, dirty, err := apply(m, *action, *steps, *version)
	if err != nil {
		logger.Fatal("migration failed", zap.String("action", *action), zap.Error(err))
	}
	logger.Info("migration complete",
		zap.String("action", *action),
		zap.Uint("version", v),
		zap.Bool("dirty", dirty))
}

// apply runs one action and reports the resulting schema version. A database
// with no applied migrations reports version 0.
func apply(m *migrate.Migrate, action string, steps, force int) (uint, bool, error) {
	var err error
	switch action {
	case "up":
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
	case "down":
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
	case "force":
		if force < 0 {
			return 0, false, errors.New("force requires -version")
		}
		err = m.Force(force)
	case "version":
	default:
		return 0, false, fmt.Errorf("unknown action %q", action)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, false, err
	}

	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}
