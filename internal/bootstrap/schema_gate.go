package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/railzwaylabs/revshare/internal/config"
	"github.com/railzwaylabs/revshare/internal/migration"
	"gorm.io/gorm"
)

var (
	ErrSchemaInactive         = errors.New("schema_inactive")
	ErrSchemaVersionMismatch  = errors.New("schema_version_mismatch")
	ErrSchemaChecksumMismatch = errors.New("schema_checksum_mismatch")
)

type SchemaGate interface {
	MustBeActive(ctx context.Context) error
}

type schemaGate struct {
	db               *gorm.DB
	disabled         bool
	expectedVersion  string
	expectedChecksum string
}

// NewSchemaGate checks the schema recorded by golang-migrate against the
// migrations embedded in this binary. Auto-migrated databases carry no
// recorded state, so the gate is open for them.
func NewSchemaGate(db *gorm.DB, cfg config.Config) (SchemaGate, error) {
	if db == nil {
		return nil, errors.New("schema gate requires database handle")
	}
	if cfg.Database.Driver == config.DriverSQLite || cfg.Database.AutoMigrate {
		return &schemaGate{db: db, disabled: true}, nil
	}

	latestVersion, err := migration.LatestMigrationVersion()
	if err != nil {
		return nil, err
	}
	expectedChecksum, err := migration.MigrationsChecksum()
	if err != nil {
		return nil, err
	}

	return &schemaGate{
		db:               db,
		expectedVersion:  fmt.Sprintf("%d", latestVersion),
		expectedChecksum: expectedChecksum,
	}, nil
}

func (g *schemaGate) MustBeActive(ctx context.Context) error {
	if g.disabled {
		return nil
	}

	state, err := loadSchemaState(ctx, g.db)
	if err != nil {
		return err
	}

	if state.Status != StatusActive {
		return fmt.Errorf("%w: status=%s", ErrSchemaInactive, state.Status)
	}

	if state.SchemaVersion != g.expectedVersion {
		return fmt.Errorf("%w: state=%s expected=%s", ErrSchemaVersionMismatch, state.SchemaVersion, g.expectedVersion)
	}

	if state.Checksum != nil && strings.TrimSpace(*state.Checksum) != "" {
		if g.expectedChecksum == "" || *state.Checksum != g.expectedChecksum {
			return fmt.Errorf("%w: state=%s expected=%s", ErrSchemaChecksumMismatch, *state.Checksum, g.expectedChecksum)
		}
	}

	return nil
}
