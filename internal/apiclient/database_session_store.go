package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const (
	sessionKeyAccessToken  = "accessToken"
	sessionKeyRefreshToken = "refreshToken"
	sessionKeyUser         = "user"

	defaultSessionNamespace = "default"
)

var (
	// ErrUnsupportedDialect indicates that no GORM dialector is available for the scheme.
	ErrUnsupportedDialect = errors.New("session_store.unsupported_dialect")

	errEmptyDatabaseURL    = errors.New("session_store.empty_database_url")
	errSQLiteEmptyPath     = errors.New("session_store.sqlite.empty_path")
	errSQLiteInvalidURL    = errors.New("session_store.sqlite.invalid_url")
	errUnsupportedNoScheme = errors.New("session_store.unsupported_no_scheme")
)

var sessionKeys = []string{sessionKeyAccessToken, sessionKeyRefreshToken, sessionKeyUser}

// DatabaseSessionStore persists session credentials as key-value rows using GORM.
type DatabaseSessionStore struct {
	db          *gorm.DB
	driverLabel string
	namespace   string
}

type sessionEntryRecord struct {
	Namespace     string `gorm:"column:namespace;primaryKey"`
	EntryKey      string `gorm:"column:entry_key;primaryKey"`
	Value         string `gorm:"column:value;not null"`
	UpdatedAtUnix int64  `gorm:"column:updated_at_unix;not null"`
}

func (sessionEntryRecord) TableName() string {
	return "session_entries"
}

// NewDatabaseSessionStore constructs a GORM-backed store. An empty namespace selects "default".
func NewDatabaseSessionStore(ctx context.Context, databaseURL string, namespace string) (*DatabaseSessionStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("session_store.open: %w", errEmptyDatabaseURL)
	}
	dialector, driverLabel, err := resolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("session_store.open.%s: %w", driverLabel, openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&sessionEntryRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("session_store.migrate.%s: %w", driverLabel, migrateErr)
	}
	if strings.TrimSpace(namespace) == "" {
		namespace = defaultSessionNamespace
	}
	return &DatabaseSessionStore{
		db:          gormDB,
		driverLabel: driverLabel,
		namespace:   namespace,
	}, nil
}

// Driver exposes the selected database driver label.
func (store *DatabaseSessionStore) Driver() string {
	return store.driverLabel
}

// Load reads every session key for the namespace.
func (store *DatabaseSessionStore) Load(ctx context.Context) (Credentials, error) {
	var records []sessionEntryRecord
	err := store.db.WithContext(ctx).
		Where("namespace = ? AND entry_key IN ?", store.namespace, sessionKeys).
		Find(&records).Error
	if err != nil {
		return Credentials{}, fmt.Errorf("session_store.load.%s: %w", store.driverLabel, err)
	}
	var credentials Credentials
	for _, record := range records {
		switch record.EntryKey {
		case sessionKeyAccessToken:
			credentials.AccessToken = record.Value
		case sessionKeyRefreshToken:
			credentials.RefreshToken = record.Value
		case sessionKeyUser:
			if record.Value == "" {
				continue
			}
			if decodeErr := json.Unmarshal([]byte(record.Value), &credentials.User); decodeErr != nil {
				return Credentials{}, fmt.Errorf("session_store.load.%s.user: %w", store.driverLabel, decodeErr)
			}
		}
	}
	return credentials, nil
}

// Save upserts all session keys in one transaction.
func (store *DatabaseSessionStore) Save(ctx context.Context, credentials Credentials) error {
	encodedUser, encodeErr := json.Marshal(credentials.User)
	if encodeErr != nil {
		return fmt.Errorf("session_store.save.%s.user: %w", store.driverLabel, encodeErr)
	}
	nowUnix := time.Now().UTC().Unix()
	records := []sessionEntryRecord{
		{Namespace: store.namespace, EntryKey: sessionKeyAccessToken, Value: credentials.AccessToken, UpdatedAtUnix: nowUnix},
		{Namespace: store.namespace, EntryKey: sessionKeyRefreshToken, Value: credentials.RefreshToken, UpdatedAtUnix: nowUnix},
		{Namespace: store.namespace, EntryKey: sessionKeyUser, Value: string(encodedUser), UpdatedAtUnix: nowUnix},
	}
	err := store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "namespace"}, {Name: "entry_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at_unix"}),
		}).Create(&records).Error
	})
	if err != nil {
		return fmt.Errorf("session_store.save.%s: %w", store.driverLabel, err)
	}
	return nil
}

// Clear deletes every session key for the namespace in one statement.
func (store *DatabaseSessionStore) Clear(ctx context.Context) error {
	err := store.db.WithContext(ctx).
		Where("namespace = ? AND entry_key IN ?", store.namespace, sessionKeys).
		Delete(&sessionEntryRecord{}).Error
	if err != nil {
		return fmt.Errorf("session_store.clear.%s: %w", store.driverLabel, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (store *DatabaseSessionStore) Close() error {
	sqlDB, err := store.db.DB()
	if err != nil {
		return fmt.Errorf("session_store.close.%s: %w", store.driverLabel, err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("session_store.close.%s: %w", store.driverLabel, err)
	}
	return nil
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("session_store.parse_url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("session_store.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("session_store.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("session_store.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedDialect)
	}
}

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	if parsed == nil {
		return "", errSQLiteInvalidURL
	}
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		if parsed.Path != "" {
			if !strings.HasPrefix(parsed.Path, "/") {
				builder.WriteString("/")
			}
			builder.WriteString(parsed.Path)
		}
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	if parsed.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(parsed.RawQuery)
	}
	return builder.String(), nil
}
