package sessionpg

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tyemirov/animalplace/internal/apiclient"
)

const (
	keyAccessToken  = "accessToken"
	keyRefreshToken = "refreshToken"
	keyUser         = "user"

	defaultNamespace = "default"
)

const upsertEntrySQL = `
INSERT INTO session_entries (namespace, entry_key, value, updated_at_unix)
VALUES ($1, $2, $3, $4)
ON CONFLICT (namespace, entry_key)
DO UPDATE SET value = EXCLUDED.value, updated_at_unix = EXCLUDED.updated_at_unix
`

// PostgresSessionStore persists dashboard credentials in PostgreSQL through pgx.
type PostgresSessionStore struct {
	pool      *pgxpool.Pool
	namespace string
	now       func() time.Time
}

// NewPostgresSessionStore constructs a store scoped to namespace ("default" when empty).
func NewPostgresSessionStore(pool *pgxpool.Pool, namespace string) *PostgresSessionStore {
	if strings.TrimSpace(namespace) == "" {
		namespace = defaultNamespace
	}
	return &PostgresSessionStore{pool: pool, namespace: namespace, now: time.Now}
}

// Open builds a pool, ensures the schema, and returns a ready store.
func Open(ctx context.Context, databaseURL string, namespace string) (*PostgresSessionStore, error) {
	pool, err := BuildPool(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return NewPostgresSessionStore(pool, namespace), nil
}

// Close releases the pool.
func (store *PostgresSessionStore) Close() {
	store.pool.Close()
}

// Load reads every session key for the namespace.
func (store *PostgresSessionStore) Load(ctx context.Context) (apiclient.Credentials, error) {
	rows, err := store.pool.Query(ctx, `
SELECT entry_key, value
FROM session_entries
WHERE namespace = $1
`, store.namespace)
	if err != nil {
		return apiclient.Credentials{}, fmt.Errorf("sessionpg.load: %w", err)
	}
	defer rows.Close()

	var credentials apiclient.Credentials
	for rows.Next() {
		var entryKey, value string
		if scanErr := rows.Scan(&entryKey, &value); scanErr != nil {
			return apiclient.Credentials{}, fmt.Errorf("sessionpg.load.scan: %w", scanErr)
		}
		switch entryKey {
		case keyAccessToken:
			credentials.AccessToken = value
		case keyRefreshToken:
			credentials.RefreshToken = value
		case keyUser:
			if value == "" {
				continue
			}
			if decodeErr := json.Unmarshal([]byte(value), &credentials.User); decodeErr != nil {
				return apiclient.Credentials{}, fmt.Errorf("sessionpg.load.user: %w", decodeErr)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return apiclient.Credentials{}, fmt.Errorf("sessionpg.load: %w", err)
	}
	return credentials, nil
}

// Save upserts all session keys in one transaction.
func (store *PostgresSessionStore) Save(ctx context.Context, credentials apiclient.Credentials) error {
	encodedUser, err := json.Marshal(credentials.User)
	if err != nil {
		return fmt.Errorf("sessionpg.save.user: %w", err)
	}
	updatedAt := store.now().UTC().Unix()
	return pgx.BeginFunc(ctx, store.pool, func(transaction pgx.Tx) error {
		batch := &pgx.Batch{}
		batch.Queue(upsertEntrySQL, store.namespace, keyAccessToken, credentials.AccessToken, updatedAt)
		batch.Queue(upsertEntrySQL, store.namespace, keyRefreshToken, credentials.RefreshToken, updatedAt)
		batch.Queue(upsertEntrySQL, store.namespace, keyUser, string(encodedUser), updatedAt)
		if err := transaction.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("sessionpg.save: %w", err)
		}
		return nil
	})
}

// Clear removes every session key for the namespace.
func (store *PostgresSessionStore) Clear(ctx context.Context) error {
	if _, err := store.pool.Exec(ctx, `DELETE FROM session_entries WHERE namespace = $1`, store.namespace); err != nil {
		return fmt.Errorf("sessionpg.clear: %w", err)
	}
	return nil
}

var _ apiclient.SessionRepository = (*PostgresSessionStore)(nil)
