// Package database owns the console's SQLite connection and schema
// migrations.
//
// The handle embeds *sql.DB so repositories use the standard query API;
// this package adds WAL-mode setup, a single-writer connection pool, 0600
// file permissions and embedded migration support.
//
// Migrations are additive-only: new columns are nullable or carry a
// default, and nothing is dropped or renamed outside a major release.
// Each change ships as a YYYYMMDD_HHMMSS_description.up.sql / .down.sql
// pair compiled into the binary through MigrationsFS.
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
