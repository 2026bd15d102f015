package db

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

// newTestDB creates a new in-memory SQLite database for testing.
// It runs migrations and returns the DB instance.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewSQLiteDB(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

// newMockDB wraps a sqlmock connection for failure-path tests.
func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	return New(sqlDB), mock
}

func testVisit(id, url string, at time.Time) Visit {
	return Visit{VisitID: id, URL: url, URLKey: url, VisitAt: at}
}

func testVersion(id, url string, at time.Time, html string) PageVersion {
	return PageVersion{
		VersionID:   id,
		URL:         url,
		URLKey:      url,
		Title:       "Title " + id,
		CapturedAt:  at,
		Hash:        "hash-" + id,
		ContentType: ContentTypeHTML,
		HTML:        html,
	}
}

// TestNewSQLiteDB tests database creation.
func TestNewSQLiteDB(t *testing.T) {
	t.Run("in-memory database", func(t *testing.T) {
		db, err := NewSQLiteDB(":memory:")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		defer db.Close()

		if db.db == nil {
			t.Error("expected db.db to be non-nil")
		}
		if db.eventListeners == nil {
			t.Error("expected eventListeners to be initialized")
		}
		if db.logger == nil {
			t.Error("expected a default logger")
		}
	})

	t.Run("file database", func(t *testing.T) {
		tmpFile, err := os.CreateTemp("", "pagetrail-test-*.db")
		if err != nil {
			t.Fatalf("failed to create temp file: %v", err)
		}
		tmpFile.Close()
		defer os.Remove(tmpFile.Name())

		db, err := NewSQLiteDB(tmpFile.Name())
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		defer db.Close()

		if err := db.Migrate(); err != nil {
			t.Fatalf("expected migrations to apply, got %v", err)
		}
	})
}

// TestMigrate tests the migration system.
func TestMigrate(t *testing.T) {
	t.Run("applies migrations successfully", func(t *testing.T) {
		db, err := NewSQLiteDB(":memory:")
		if err != nil {
			t.Fatalf("failed to create database: %v", err)
		}
		defer db.Close()

		if err := db.Migrate(); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		var count int
		if err := db.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
			t.Fatalf("failed to query schema_migrations: %v", err)
		}
		if count != 3 {
			t.Errorf("expected 3 recorded migrations, got %d", count)
		}
	})

	t.Run("migrations are idempotent", func(t *testing.T) {
		db, err := NewSQLiteDB(":memory:")
		if err != nil {
			t.Fatalf("failed to create database: %v", err)
		}
		defer db.Close()

		if err := db.Migrate(); err != nil {
			t.Fatalf("first migration failed: %v", err)
		}
		if err := db.Migrate(); err != nil {
			t.Fatalf("second migration failed: %v", err)
		}

		if err := db.AppendVisit(testVisit("v", "https://example.com", time.Now())); err != nil {
			t.Fatalf("failed to insert into visits: %v", err)
		}
	})
}

// TestClose tests database close functionality.
func TestClose(t *testing.T) {
	db, err := NewSQLiteDB(":memory:")
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}

	if err := db.Close(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if _, err := db.db.Exec("SELECT 1"); err == nil {
		t.Error("expected error after close, got nil")
	}
}

// TestStorageFailures tests that driver errors are wrapped and surfaced.
func TestStorageFailures(t *testing.T) {
	driverErr := errors.New("disk I/O error")

	t.Run("append visit", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec("INSERT INTO visits").WillReturnError(driverErr)

		err := db.AppendVisit(testVisit("a", "https://example.com/", time.Now()))
		if !errors.Is(err, driverErr) {
			t.Errorf("expected wrapped driver error, got %v", err)
		}
	})

	t.Run("purge visits", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec("DELETE FROM visits").WillReturnError(driverErr)

		if _, err := db.PurgeVisitsOlderThan(time.Now()); !errors.Is(err, driverErr) {
			t.Errorf("expected wrapped driver error, got %v", err)
		}
	})

	t.Run("latest version", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery("SELECT version_id").WillReturnError(driverErr)

		if _, _, err := db.LatestVersion("https://example.com/"); !errors.Is(err, driverErr) {
			t.Errorf("expected wrapped driver error, got %v", err)
		}
	})

	t.Run("save settings rolls back", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO settings").WillReturnError(driverErr)
		mock.ExpectRollback()

		if _, err := db.SaveSettings(DefaultSettings()); !errors.Is(err, driverErr) {
			t.Errorf("expected wrapped driver error, got %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
}
