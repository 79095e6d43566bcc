// Package storagetest opens migrated sqlite repositories for tests.
package storagetest

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/m3rciful/keyshop/core/database"
	"github.com/m3rciful/keyshop/internal/domain"
	"github.com/m3rciful/keyshop/internal/storage"
	"github.com/m3rciful/keyshop/migrations"
)

// Open returns a repository over a fresh sqlite file with all migrations applied.
func Open(tb testing.TB) *storage.Repository {
	tb.Helper()
	cfg := database.Config{Driver: database.DriverSQLite, Path: filepath.Join(tb.TempDir(), "shop.db")}
	if err := cfg.Normalize(); err != nil {
		tb.Fatalf("normalize: %v", err)
	}
	if err := database.RunMigrations(cfg, migrations.FS); err != nil {
		tb.Fatalf("migrate: %v", err)
	}
	db, err := database.Connect(cfg)
	if err != nil {
		tb.Fatalf("connect: %v", err)
	}
	tb.Cleanup(func() { _ = db.Close() })
	return storage.New(db)
}

// User reads a stored user back. It returns domain.ErrNotFound for unknown ids.
func User(repo *storage.Repository, telegramID int64) (domain.User, error) {
	var u domain.User
	db := repo.DB()
	err := db.GetContext(context.Background(), &u,
		db.Rebind(`SELECT telegram_id, username, created_at FROM users WHERE telegram_id = ?`), telegramID)
	if errors.Is(err, sql.ErrNoRows) {
		return u, domain.ErrNotFound
	}
	return u, err
}
