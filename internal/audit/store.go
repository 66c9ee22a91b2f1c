// internal/audit/store.go
package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Record is one audit entry: what happened, when, and the raw details.
type Record struct {
	ID        uint `gorm:"primarykey"`
	CreatedAt time.Time
	Type      string `gorm:"index"`
	Details   datatypes.JSON
}

// Store is the database-backed audit sink.
type Store struct {
	db  *gorm.DB
	log zerolog.Logger
}

// NewSqliteStore opens a SQLite-backed store. An empty path uses a shared
// in-memory database.
func NewSqliteStore(path string, log zerolog.Logger) (*Store, error) {
	dsn := path
	if dsn == "" {
		dsn = "file::memory:?cache=shared"
		log.Info().Msg("Using in-memory SQLite audit store")
	} else {
		log.Info().Str("path", path).Msg("Using SQLite audit store")
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite audit store: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = MEMORY;",
		"PRAGMA synchronous = OFF;",
		"PRAGMA temp_store = MEMORY;",
	}
	for _, p := range pragmas {
		if err := db.Exec(p).Error; err != nil {
			return nil, fmt.Errorf("set sqlite pragma: %w", err)
		}
	}

	return newStore(db, log)
}

// NewPostgresStore opens a Postgres-backed store, falling back to SQLite
// when the connection fails, the way every other write path in this system
// degrades rather than dies.
func NewPostgresStore(dsn, fallbackSqlitePath string, log zerolog.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err == nil {
		if sqlDB, derr := db.DB(); derr == nil {
			err = sqlDB.Ping()
		} else {
			err = derr
		}
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to connect to Postgres audit store, falling back to SQLite")
		return NewSqliteStore(fallbackSqlitePath, log)
	}

	log.Info().Msg("Connected to Postgres audit store")
	return newStore(db, log)
}

func newStore(db *gorm.DB, log zerolog.Logger) (*Store, error) {
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("migrate audit schema: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

// Append writes one record. Failures are logged and swallowed: the audit
// trail is a side channel, never allowed to fail or stall a mutation.
func (s *Store) Append(recordType string, details any) {
	raw, err := json.Marshal(details)
	if err != nil {
		s.log.Warn().Err(err).Str("type", recordType).Msg("Audit details marshal failed")
		raw = []byte("{}")
	}
	rec := Record{Type: recordType, Details: datatypes.JSON(raw)}
	if err := s.db.Create(&rec).Error; err != nil {
		s.log.Warn().Err(err).Str("type", recordType).Msg("Audit append failed")
	}
}

// Tail returns the n most recent records in chronological order.
func (s *Store) Tail(n int) ([]Record, error) {
	var recs []Record
	if err := s.db.Order("id desc").Limit(n).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("query audit tail: %w", err)
	}
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
	return recs, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
