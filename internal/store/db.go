package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/matheus3301/chatsync/internal/store/migrations"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// ErrDirty is returned by Migrate when an earlier migration was interrupted.
var ErrDirty = errors.New("cache schema is dirty")

// DB wraps a SQLite database connection for the offline message cache.
type DB struct {
	*sql.DB
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{db}, nil
}

// OpenCache opens the cache at path and brings its schema up to date. The
// cache only holds what the server can send again, so a cache left dirty by
// an interrupted migration is deleted and rebuilt.
func OpenCache(path string, logger *zap.Logger) (*DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, result, err := openMigrated(path)
	if errors.Is(err, ErrDirty) {
		logger.Warn("rebuilding offline cache", zap.String("path", path), zap.Error(err))
		if err := removeCache(path); err != nil {
			return nil, err
		}
		db, result, err = openMigrated(path)
	}
	if err != nil {
		return nil, err
	}
	logger.Info("offline cache ready",
		zap.String("path", path),
		zap.Uint("schema_version", result.Version),
		zap.Bool("migrated", result.Changed),
	)
	return db, nil
}

func openMigrated(path string) (*DB, *MigrateResult, error) {
	db, err := Open(path)
	if err != nil {
		return nil, nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return db, result, nil
}

// removeCache deletes the database file and its WAL companions.
func removeCache(path string) error {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove cache: %w", err)
		}
	}
	return nil
}

// MigrateResult describes a schema migration run.
type MigrateResult struct {
	Version uint
	Changed bool
}

// Migrate applies the pending schema migrations.
func (db *DB) Migrate() (*MigrateResult, error) {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance: %w", err)
	}

	changed := true
	switch err := m.Up(); {
	case errors.Is(err, migrate.ErrNoChange):
		changed = false
	case err != nil:
		var dirty migrate.ErrDirty
		if errors.As(err, &dirty) {
			return nil, fmt.Errorf("%w at version %d", ErrDirty, dirty.Version)
		}
		return nil, fmt.Errorf("migration up: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return nil, fmt.Errorf("migration version: %w", err)
	}
	if dirty {
		return nil, fmt.Errorf("%w at version %d", ErrDirty, version)
	}
	return &MigrateResult{Version: version, Changed: changed}, nil
}
