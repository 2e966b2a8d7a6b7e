// Package database provides SQLite connectivity for the UniBus controller.
//
// The controller has no EEPROM: the registration mapping (which state slot
// belongs to sensor index K of type T), the controller identity and the
// state history all live in one SQLite file managed here.
//
// This package manages:
//   - Opening the database with WAL mode and a busy timeout
//   - Embedded, versioned schema migrations
//   - Transaction helpers and health checks
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
