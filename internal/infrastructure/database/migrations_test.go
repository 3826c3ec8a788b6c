package database

import (
	"context"
	"testing"
	"testing/fstest"
)

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"20260101_000000_devices.up.sql":   {Data: []byte("CREATE TABLE test_devices (sid TEXT PRIMARY KEY);")},
		"20260101_000000_devices.down.sql": {Data: []byte("DROP TABLE test_devices;")},
		"20260102_000000_names.up.sql":     {Data: []byte("ALTER TABLE test_devices ADD COLUMN name TEXT;")},
		"README.md":                        {Data: []byte("not a migration")},
	}
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var count int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&count)
	if err != nil {
		t.Fatalf("sqlite_master query: %v", err)
	}
	return count == 1
}

func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	fsys := testMigrations()

	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "test_devices") {
		t.Fatal("table test_devices not created")
	}

	applied, pending, err := db.GetMigrationStatus(ctx, fsys)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 0 {
		t.Errorf("applied=%d pending=%d, want 2/0", len(applied), len(pending))
	}

	// Idempotent.
	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrateStopsAtFailure(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	fsys := testMigrations()
	fsys["20260103_000000_broken.up.sql"] = &fstest.MapFile{Data: []byte("CREATE TABLE (")}
	fsys["20260104_000000_later.up.sql"] = &fstest.MapFile{Data: []byte("CREATE TABLE later (id INTEGER);")}

	if err := db.Migrate(ctx, fsys); err == nil {
		t.Fatal("Migrate() expected error for broken migration")
	}

	applied, pending, err := db.GetMigrationStatus(ctx, fsys)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 2 {
		t.Errorf("applied = %d, want 2", len(applied))
	}
	if len(pending) != 2 || pending[0].Name != "broken" {
		t.Errorf("pending = %+v, want broken then later", pending)
	}
	if tableExists(t, db, "later") {
		t.Error("migration after the failure was applied")
	}
}

func TestMigrateDown(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	fsys := fstest.MapFS{
		"20260101_000000_devices.up.sql":   {Data: []byte("CREATE TABLE test_devices (sid TEXT PRIMARY KEY);")},
		"20260101_000000_devices.down.sql": {Data: []byte("DROP TABLE test_devices;")},
	}
	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	if err := db.MigrateDown(ctx, fsys); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if tableExists(t, db, "test_devices") {
		t.Error("table still exists after MigrateDown()")
	}

	// Nothing left to roll back.
	if err := db.MigrateDown(ctx, fsys); err != nil {
		t.Errorf("MigrateDown() on empty history error = %v", err)
	}
}

func TestMigrateDownWithoutDownSQL(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	fsys := testMigrations()

	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx, fsys); err == nil {
		t.Error("MigrateDown() expected error for migration without down SQL")
	}
}

func TestLoadMigrations(t *testing.T) {
	fsys := testMigrations()
	fsys["20260105_000000_orphan.down.sql"] = &fstest.MapFile{Data: []byte("DROP TABLE x;")}

	migrations, err := LoadMigrations(fsys)
	if err != nil {
		t.Fatalf("LoadMigrations() error = %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("len = %d, want 2 (orphan down ignored)", len(migrations))
	}
	if migrations[0].Version != "20260101_000000" || migrations[0].DownSQL == "" {
		t.Errorf("first = %+v", migrations[0])
	}
	if migrations[1].Name != "names" {
		t.Errorf("second name = %q, want names", migrations[1].Name)
	}

	if got, err := LoadMigrations(nil); got != nil || err != nil {
		t.Errorf("LoadMigrations(nil) = %v, %v", got, err)
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		name    string
		version string
		desc    string
		isUp    bool
		ok      bool
	}{
		{"20260301_120000_accessories.up.sql", "20260301_120000", "accessories", true, true},
		{"20260301_120000_accessories.down.sql", "20260301_120000", "accessories", false, true},
		{"20260301_120000_two_words.up.sql", "20260301_120000", "two_words", true, true},
		{"20260301_120000.up.sql", "20260301_120000", "20260301_120000", true, true},
		{"20260301.up.sql", "", "", false, false},
		{"20260301_120000_accessories.sql", "", "", false, false},
		{"notes.txt", "", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, desc, isUp, ok := parseMigrationFilename(tt.name)
			if version != tt.version || desc != tt.desc || isUp != tt.isUp || ok != tt.ok {
				t.Errorf("parseMigrationFilename(%q) = %q, %q, %v, %v; want %q, %q, %v, %v",
					tt.name, version, desc, isUp, ok, tt.version, tt.desc, tt.isUp, tt.ok)
			}
		})
	}
}
