package migration

import (
	"github.com/railzwaylabs/revshare/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(Run),
)

// AutoModule brings sqlite and auto-migrated databases up to date when a
// long-running command starts. Postgres schemas still go through `migrate`.
var AutoModule = fx.Module("migrations.auto",
	fx.Invoke(RunAuto),
)

func RunAuto(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
	if cfg.Database.Driver != config.DriverSQLite && !cfg.Database.AutoMigrate {
		return nil
	}
	log.Named("migration").Info("auto migrating schema", zap.String("driver", cfg.Database.Driver))
	return AutoMigrate(conn)
}

// Run migrates the configured database with the strategy its driver needs.
func Run(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
	log = log.Named("migration")
	if cfg.Database.Driver == config.DriverSQLite || cfg.Database.AutoMigrate {
		log.Info("auto migrating schema", zap.String("driver", cfg.Database.Driver))
		return AutoMigrate(conn)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	if err := RunMigrations(sqlDB); err != nil {
		return err
	}
	version, _ := LatestMigrationVersion()
	log.Info("migrations applied", zap.Uint("version", version))
	return nil
}
