// Package database provides SQLite connectivity for PI Monitor Core.
//
// The database holds the small amount of state that must survive a restart:
// the quick-event preset list and the recording history. Device state itself
// is never persisted; it is rebuilt from the device status sockets.
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
