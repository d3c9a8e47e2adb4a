package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/xxxsen/lectio/internal/config"
	"github.com/xxxsen/lectio/internal/db"
)

var corpusTables = []string{
	"corpus_commits", "languages", "source_docs", "text_works", "text_segments", "tokens",
	"lexemes", "grammar_topics", "tombstones", "index_records", "embedding_cache",
}

// OpenTestDB opens a migrated, emptied postgres database. Tests using it are
// skipped unless TEST_DB_HOST is set.
func OpenTestDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	host := os.Getenv("TEST_DB_HOST")
	if host == "" {
		t.Skip("TEST_DB_HOST not set, skipping postgres test")
	}
	conn, err := db.Open(config.DatabaseConfig{
		Host:     host,
		Port:     5432,
		User:     "lectio",
		Password: "lectio_pass",
		DBName:   "lectio_test",
		SSLMode:  "disable",
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.ApplyMigrations(context.Background(), conn); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	for _, table := range corpusTables {
		if _, err := conn.Exec("TRUNCATE TABLE " + table + " RESTART IDENTITY"); err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}
	return conn, func() {
		_ = conn.Close()
	}
}
