package main

import (
	"testing"

	"github.com/pressly/goose/v3"
)

func TestCollectMigrations_SequentialVersions(t *testing.T) {
	migrations, err := goose.CollectMigrations(repoMigrationsDir(t), 0, goose.MaxVersion)
	if err != nil {
		t.Fatalf("expected migrations to parse, got error: %v", err)
	}
	if len(migrations) < 3 {
		t.Fatalf("expected at least 3 migrations, got %d", len(migrations))
	}
	for i, m := range migrations {
		if want := int64(i + 1); m.Version != want {
			t.Fatalf("migration %s: version %d, want %d", m.Source, m.Version, want)
		}
	}
}
