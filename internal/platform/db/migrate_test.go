package db

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeMigrations(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("failed to write test file %s: %v", name, err)
		}
	}
	return dir
}

func TestLoadMigrations(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"002_appointments.sql": "CREATE TABLE appointment (id UUID PRIMARY KEY);",
		"001_directory.sql":    "CREATE TABLE staff (id UUID PRIMARY KEY);",
		"010_activity.sql":     "CREATE TABLE activity_log (id UUID PRIMARY KEY);",
	})

	migrations, err := NewMigrator(nil, dir).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}

	wantVersions := []int{1, 2, 10}
	for i, v := range wantVersions {
		if migrations[i].Version != v {
			t.Errorf("migration %d: expected version %d, got %d", i, v, migrations[i].Version)
		}
	}
	if migrations[0].Name != "001_directory.sql" {
		t.Errorf("expected name 001_directory.sql, got %s", migrations[0].Name)
	}
	if migrations[0].SQL != "CREATE TABLE staff (id UUID PRIMARY KEY);" {
		t.Errorf("unexpected SQL content: %s", migrations[0].SQL)
	}
}

func TestLoadMigrations_SkipsInvalidFilenames(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"001_ok.sql":       "SELECT 1;",
		"readme.md":        "docs",
		"nounderscore.sql": "SELECT 2;",
		"abc_bad.sql":      "SELECT 3;",
	})

	migrations, err := NewMigrator(nil, dir).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 1 {
		t.Fatalf("expected 1 migration, got %d", len(migrations))
	}
}

func TestLoadMigrations_EmptyDir(t *testing.T) {
	migrations, err := NewMigrator(nil, t.TempDir()).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 0 {
		t.Errorf("expected 0 migrations from empty dir, got %d", len(migrations))
	}
}

func TestLoadMigrations_NonExistentDir(t *testing.T) {
	_, err := NewMigrator(nil, "/nonexistent/path/that/does/not/exist").LoadMigrations()
	if err == nil {
		t.Error("expected error for non-existent directory")
	}
}

func TestPending(t *testing.T) {
	migrations := []Migration{
		{Version: 1, Name: "001_directory.sql"},
		{Version: 2, Name: "002_appointments.sql"},
		{Version: 3, Name: "003_activity.sql"},
	}
	applied := map[int]time.Time{1: time.Now()}

	pending := Pending(migrations, applied)
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(pending))
	}
	if pending[0].Version != 2 || pending[1].Version != 3 {
		t.Errorf("unexpected pending versions: %d, %d", pending[0].Version, pending[1].Version)
	}
}

func TestRepositoryMigrationsLoad(t *testing.T) {
	migrations, err := NewMigrator(nil, "../../../migrations").LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("expected repository migrations to be present")
	}
	for i := 1; i < len(migrations); i++ {
		if migrations[i].Version == migrations[i-1].Version {
			t.Errorf("duplicate migration version %d", migrations[i].Version)
		}
	}
}
