// Package storetest opens throwaway databases for package tests.
package storetest

import (
	"path/filepath"
	"testing"

	"gorm.io/gorm"

	"github.com/alphabot-ai/trickbook/internal/logger"
	"github.com/alphabot-ai/trickbook/internal/store"
)

// Open returns a migrated SQLite database in a temp dir, closed on cleanup.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "trickbook-test.db")
	db, err := store.Open("sqlite://"+path, logger.Nop())
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		store.Close(db)
	})
	return db
}
