// Package store persists nodes, rooms, users, sessions and activities
// through gorm, on an embedded SQLite file or a PostgreSQL server.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/orchestra-mcp/nexus/config"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// Store wraps the gorm handle shared by all repositories.
type Store struct {
	db      *gorm.DB
	dialect string
	logger  zerolog.Logger
}

// Open connects to PostgreSQL when cfg.URL is set, otherwise to the SQLite
// file at cfg.SQLitePath, and migrates the schema.
func Open(cfg config.DatabaseConfig, log zerolog.Logger) (*Store, error) {
	log = log.With().Str("component", "store").Logger()

	gormCfg := &gorm.Config{
		Logger: logger.New(gormWriter{log}, logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	}

	var (
		db      *gorm.DB
		err     error
		dialect string
	)
	if cfg.URL != "" {
		dialect = DialectPostgres
		db, err = gorm.Open(postgres.Open(cfg.URL), gormCfg)
	} else {
		dialect = DialectSQLite
		db, err = gorm.Open(sqlite.Open(cfg.SQLitePath), gormCfg)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}

	if dialect == DialectSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("sqlite handle: %w", err)
		}
		// One writer at a time; also keeps ":memory:" on a single database.
		sqlDB.SetMaxOpenConns(1)
		if err := db.Exec("PRAGMA journal_mode = WAL").Error; err != nil {
			log.Warn().Err(err).Msg("enable WAL")
		}
	}

	s := &Store{db: db, dialect: dialect, logger: log}
	if err := s.Migrate(context.Background()); err != nil {
		return nil, err
	}
	log.Info().Str("dialect", dialect).Msg("database initialized")
	return s, nil
}

// New wraps an existing gorm handle. The schema is not migrated.
func New(db *gorm.DB, dialect string, log zerolog.Logger) *Store {
	return &Store{db: db, dialect: dialect, logger: log}
}

// Migrate creates or updates all tables.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(allModels...); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Dialect reports "sqlite" or "postgres".
func (s *Store) Dialect() string { return s.dialect }

// DB exposes the gorm handle for tests and tooling.
func (s *Store) DB() *gorm.DB { return s.db }

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// gormWriter routes gorm's logger through zerolog.
type gormWriter struct {
	log zerolog.Logger
}

func (w gormWriter) Printf(format string, args ...any) {
	w.log.Warn().Msgf(format, args...)
}
