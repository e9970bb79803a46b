package sessionpg

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS session_entries (
    namespace TEXT NOT NULL,
    entry_key TEXT NOT NULL,
    value TEXT NOT NULL,
    updated_at_unix BIGINT NOT NULL,
    PRIMARY KEY (namespace, entry_key)
);
`

// EnsureSchema creates the session_entries table if it does not exist. The layout
// matches the GORM-backed store so either can read the other's rows.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("sessionpg.schema: %w", err)
	}
	return nil
}
