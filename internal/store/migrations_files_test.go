package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMigrationsDirectoryPairsUpAndDown(t *testing.T) {
	migrations, err := LoadMigrations(filepath.Join("..", "..", "db", "migrations"))
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("no migrations discovered")
	}
	for i, m := range migrations {
		if i > 0 && migrations[i-1].Version >= m.Version {
			t.Fatalf("migrations out of order: %s before %s", migrations[i-1].Version, m.Version)
		}
		if !strings.HasSuffix(m.UpPath, ".up.sql") || !strings.HasSuffix(m.DownPath, ".down.sql") {
			t.Fatalf("unexpected paths for %s: %s, %s", m.Version, m.UpPath, m.DownPath)
		}
	}
}

func TestLoadMigrationsRejectsUnpairedFiles(t *testing.T) {
	tests := []struct {
		name  string
		files []string
		err   string
	}{
		{name: "missing down", files: []string{"0001_init.up.sql"}, err: "needs both up and down"},
		{name: "missing up", files: []string{"0001_init.down.sql"}, err: "needs both up and down"},
		{name: "duplicate up", files: []string{"0001_init.up.sql", "0001_other.up.sql", "0001_init.down.sql"}, err: "duplicate up"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			for _, name := range tc.files {
				if err := os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644); err != nil {
					t.Fatalf("write %s: %v", name, err)
				}
			}
			_, err := LoadMigrations(dir)
			if err == nil || !strings.Contains(err.Error(), tc.err) {
				t.Fatalf("expected error containing %q, got %v", tc.err, err)
			}
		})
	}
}

func TestLoadMigrationsOrdersByVersionAndIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"0002_tasks.up.sql", "0002_tasks.down.sql",
		"0001_init.up.sql", "0001_init.down.sql",
		"README.md", "notes.sql",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	migrations, err := LoadMigrations(dir)
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	if len(migrations) != 2 || migrations[0].Version != "0001" || migrations[1].Name != "tasks" {
		t.Fatalf("unexpected migrations: %+v", migrations)
	}
}
