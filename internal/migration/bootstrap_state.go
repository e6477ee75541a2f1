package migration

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const bootstrapStatusActive = "active"

// recordSchemaState stores the applied version and checksum so operators can
// tell which migration set a database was built from.
func recordSchemaState(ctx context.Context, db *sql.DB, version uint, checksum string) error {
	now := time.Now().UTC()
	_, err := db.ExecContext(ctx, `
		INSERT INTO schema_bootstrap_state (id, status, schema_version, checksum, activated_at, created_at)
		VALUES (TRUE, $1, $2, $3, $4, $4)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
		    schema_version = EXCLUDED.schema_version,
		    checksum = EXCLUDED.checksum,
		    activated_at = EXCLUDED.activated_at
	`, bootstrapStatusActive, fmt.Sprintf("%d", version), checksum, now)
	if err != nil {
		return fmt.Errorf("record schema state: %w", err)
	}
	return nil
}
