// Package database opens the bridge's SQLite file and applies its schema.
//
// Two tables live there: accessories, the cache that lets a restart rebuild
// the device registry before the first gateway report, and audit_logs, the
// trail of accessory commands and evictions.
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are YYYYMMDD_HHMMSS_name.up.sql files with an optional matching
// .down.sql. Each runs in its own transaction and is recorded in
// schema_migrations. Schema changes are additive only.
package database
