package bootstrap

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

const schemaStateTable = "schema_bootstrap_state"

const StatusActive = "active"

var ErrSchemaStateNotFound = errors.New("schema_state_not_found")

// SchemaState is the single row written by the migrate command.
type SchemaState struct {
	ID            bool       `gorm:"column:id"`
	Status        string     `gorm:"column:status"`
	SchemaVersion string     `gorm:"column:schema_version"`
	Checksum      *string    `gorm:"column:checksum"`
	ActivatedAt   *time.Time `gorm:"column:activated_at"`
	CreatedAt     time.Time  `gorm:"column:created_at"`
}

func loadSchemaState(ctx context.Context, db *gorm.DB) (*SchemaState, error) {
	if db == nil {
		return nil, errors.New("schema state requires database handle")
	}
	var state SchemaState
	result := db.WithContext(ctx).Table(schemaStateTable).
		Select("id, status, schema_version, checksum, activated_at, created_at").
		Where("id = TRUE").
		Limit(1).
		Scan(&state)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrSchemaStateNotFound
	}

	state.Status = strings.ToLower(strings.TrimSpace(state.Status))
	state.SchemaVersion = strings.TrimSpace(state.SchemaVersion)
	if state.Checksum != nil {
		trimmed := strings.TrimSpace(*state.Checksum)
		state.Checksum = &trimmed
	}
	return &state, nil
}
