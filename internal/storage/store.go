package storage

import (
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/budapestdude/chess-calendar/internal/model"
)

// Store owns the SQLite handle for the calendar database. It is opened once
// at process start, injected into everything that needs it and closed at
// shutdown. No package-level database state exists.
type Store struct {
	db   *gorm.DB
	path string
}

// Options control how the store opens its database file.
type Options struct {
	Path        string
	LogSQL      bool          // echo every statement through the gorm logger
	BusyTimeout time.Duration // engine-side wait before a lock error surfaces
}

// Open opens the calendar database, creating the file and migrating the
// schema when needed.
func Open(opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("storage: database path is empty")
	}
	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)",
		opts.Path, busy.Milliseconds())

	level := gormlogger.Warn
	if opts.LogSQL {
		level = gormlogger.Info
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(level),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", opts.Path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("storage: unwrap sql.DB: %w", err)
	}
	if isMemoryPath(opts.Path) {
		// Every pool connection to :memory: sees its own empty database.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(4)
		sqlDB.SetMaxIdleConns(2)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	if err := db.AutoMigrate(&model.Event{}, &model.ImportReport{}); err != nil {
		return nil, fmt.Errorf("storage: migrate schema: %w", err)
	}
	return &Store{db: db, path: opts.Path}, nil
}

// DB exposes the underlying gorm handle.
func (s *Store) DB() *gorm.DB { return s.db }

// Path returns the database file path the store was opened with.
func (s *Store) Path() string { return s.path }

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func isMemoryPath(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory") ||
		strings.HasPrefix(path, "file::memory:")
}

// VerifySnapshot opens path on a throwaway connection and runs the engine's
// quick integrity check. Used before a snapshot is trusted for restore.
func VerifySnapshot(path string) error {
	// Opening a missing path would create an empty database that passes
	// the check, so require the file up front.
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("storage: snapshot %s: %w", path, err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("storage: open snapshot %s: %w", path, err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("storage: check snapshot %s: %w", path, err)
	}
	if result != "ok" {
		return fmt.Errorf("storage: snapshot %s failed integrity check: %s", path, result)
	}
	return nil
}
