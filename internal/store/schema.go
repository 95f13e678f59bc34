package store

import (
	"database/sql"

	"powermon/internal/errors"
	"powermon/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS devices (
	       id                 TEXT PRIMARY KEY,
	       name               TEXT NOT NULL,
	       shutdown_threshold REAL NOT NULL DEFAULT 3.0,
	       target_wh          REAL
	   );
	   CREATE TABLE IF NOT EXISTS power_meters (
	       id           TEXT PRIMARY KEY,
	       device_id    TEXT NOT NULL,
	       type         TEXT NOT NULL,
	       voltage      REAL NOT NULL DEFAULT 0.0,
	       current_draw REAL NOT NULL DEFAULT 0.0,
	       capacity_wh  REAL NOT NULL DEFAULT 0.0,
	       charge_pct   REAL NOT NULL DEFAULT 100.0,
	       name         TEXT,
	       FOREIGN KEY (device_id) REFERENCES devices(id)
	   );
	   CREATE TABLE IF NOT EXISTS power_readings (
	       id           TEXT PRIMARY KEY,
	       meter_id     TEXT NOT NULL,
	       voltage      REAL NOT NULL,
	       current_draw REAL NOT NULL,
	       wattage      REAL NOT NULL,
	       charge_pct   REAL NOT NULL,
	       timestamp    TEXT NOT NULL,
	       FOREIGN KEY (meter_id) REFERENCES power_meters(id)
	   );
	   CREATE TABLE IF NOT EXISTS power_events (
	       id        TEXT PRIMARY KEY,
	       device_id TEXT NOT NULL,
	       type      TEXT NOT NULL,
	       value     REAL NOT NULL DEFAULT 0.0,
	       timestamp TEXT NOT NULL,
	       note      TEXT,
	       FOREIGN KEY (device_id) REFERENCES devices(id)
	   );
	   CREATE INDEX IF NOT EXISTS idx_readings_meter ON power_readings(meter_id, timestamp);
	   CREATE INDEX IF NOT EXISTS idx_events_device ON power_events(device_id, timestamp);`
)

// InitSchema creates a new database schema with the current version
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Msg("Creating database schema...")

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	// Track transaction state
	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil {
				if !errors.Is(err, sql.ErrTxDone) {
					log.Debug().Err(err).Msg("Failed to rollback transaction")
				}
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			SQL   string
		}{
			Error: err.Error(),
			SQL:   createTablesSQL,
		})
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "record_version",
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().
		Int("version", SchemaVersion).
		Msg("Schema initialized successfully")

	return nil
}

// GetSchemaVersion returns the current schema version
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Error string
		}{
			Phase: "get_version",
			Error: err.Error(),
		})
	}

	return version, nil
}

// TableExists checks if a table exists
func TableExists(db *sql.DB, tableName string) (bool, error) {
	errFactory := errors.New()
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}
	return exists, nil
}
