package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

type DB struct {
	db             *sql.DB
	logger         *zap.Logger
	eventListeners map[EventKind][]EventListener
}

// Option configures a DB.
type Option func(*DB)

// WithLogger sets the logger used for migrations and event listener errors.
func WithLogger(logger *zap.Logger) Option {
	return func(db *DB) {
		if logger != nil {
			db.logger = logger
		}
	}
}

func NewSQLiteDB(path string, opts ...Option) (*DB, error) {
	sqlDB, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serializes writers anyway, and a single connection keeps
	// ":memory:" databases from splitting across the pool.
	sqlDB.SetMaxOpenConns(1)
	return New(sqlDB, opts...), nil
}

// New wraps an already opened *sql.DB.
func New(sqlDB *sql.DB, opts ...Option) *DB {
	db := &DB{
		db:             sqlDB,
		logger:         zap.NewNop(),
		eventListeners: make(map[EventKind][]EventListener),
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

func (db *DB) Migrate() error {
	_, err := db.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrations []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		migrations = append(migrations, entry.Name())
	}
	sort.Strings(migrations)

	for _, migration := range migrations {
		version := strings.TrimSuffix(migration, ".sql")
		if err := db.applyMigration(migration, version); err != nil {
			return err
		}
	}

	return nil
}

func (db *DB) applyMigration(file, version string) error {
	var applied bool
	if err := db.db.QueryRow(`
		SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = ?)
	`, version).Scan(&applied); err != nil {
		return fmt.Errorf("failed to check if migration has been applied: %w", err)
	}
	if applied {
		return nil
	}

	content, err := migrationsFS.ReadFile("migrations/" + file)
	if err != nil {
		return fmt.Errorf("failed to read migration file: %w", err)
	}

	tx, err := db.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if _, err := tx.Exec(string(content)); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to apply migration %s: %w", version, err)
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to mark migration as applied: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	db.logger.Info("migration applied", zap.String("version", version))
	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}
