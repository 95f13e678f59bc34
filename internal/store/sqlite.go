package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/mattn/go-sqlite3"

	"powermon/internal/errors"
	"powermon/internal/logger"
	"powermon/internal/power"
)

// Timestamps are stored as fixed-width UTC text so lexicographic order
// matches chronological order in range queries.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func isForeignKeyViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return false
}

const (
	upsertDeviceSQL = `
    INSERT INTO devices (id, name, shutdown_threshold, target_wh)
    VALUES (?, ?, ?, ?)
    ON CONFLICT(id) DO UPDATE SET
        name               = excluded.name,
        shutdown_threshold = excluded.shutdown_threshold,
        target_wh          = excluded.target_wh`

	selectDeviceSQL = `
    SELECT id, name, shutdown_threshold, target_wh FROM devices WHERE id = ?`

	insertMeterSQL = `
    INSERT INTO power_meters (id, device_id, type, voltage, current_draw, capacity_wh, charge_pct, name)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	selectMeterSQL = `
    SELECT id, device_id, type, voltage, current_draw, capacity_wh, charge_pct, name FROM power_meters`

	insertReadingSQL = `
    INSERT INTO power_readings (id, meter_id, voltage, current_draw, wattage, charge_pct, timestamp)
    VALUES (?, ?, ?, ?, ?, ?, ?)`

	updateMeterLiveSQL = `
    UPDATE power_meters SET voltage = ?, current_draw = ?, charge_pct = ? WHERE id = ?`

	insertEventSQL = `
    INSERT INTO power_events (id, device_id, type, value, timestamp, note)
    VALUES (?, ?, ?, ?, ?, ?)`
)

type repository struct {
	db      *sql.DB
	log     logger.Logger
	cfg     Config
	mu      sync.Mutex
	devices *lru.Cache
}

// New opens (or creates) the database at cfg.DBPath and validates its
// schema. Writes are serialized through the repository so concurrent
// readings for the same meter never interleave their live-field updates.
func New(cfg Config, log logger.Logger) (Store, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Ensure the directory exists
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	// Open database with specific pragmas for durability and integrity
	dsn := cfg.DBPath + "?_journal=WAL&_foreign_keys=on&_busy_timeout=5000&_auto_vacuum=2"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}

	// Validate if schema is current, with backup if needed
	if err := ValidateAndUpdateSchema(db, cfg.DBPath, log); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "schema_version",
			Error: err.Error(),
		})
	}

	// Cache size zero disables the device cache
	var devices *lru.Cache
	if cfg.DeviceCacheSize > 0 {
		devices, err = lru.New(cfg.DeviceCacheSize)
		if err != nil {
			db.Close()
			return nil, errFactory.Wrap(ErrStorageInit, err)
		}
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Int("device_cache", cfg.DeviceCacheSize).
		Msg("Power store initialized")

	return &repository{
		db:      db,
		log:     log,
		cfg:     cfg,
		devices: devices,
	}, nil
}

func (r *repository) UpsertDevice(ctx context.Context, device power.Device) error {
	errFactory := errors.New()

	r.mu.Lock()
	defer r.mu.Unlock()

	var target sql.NullFloat64
	if device.TargetWh != nil {
		target = sql.NullFloat64{Float64: *device.TargetWh, Valid: true}
	}

	if _, err := r.db.ExecContext(ctx, upsertDeviceSQL,
		device.ID, device.Name, device.ShutdownThreshold, target); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	if r.devices != nil {
		r.devices.Add(device.ID, device)
	}

	return nil
}

func (r *repository) GetDevice(ctx context.Context, id string) (power.Device, error) {
	errFactory := errors.New()

	if r.devices != nil {
		if cached, ok := r.devices.Get(id); ok {
			if device, ok := cached.(power.Device); ok {
				return device, nil
			}
		}
	}

	var (
		device power.Device
		target sql.NullFloat64
	)
	err := r.db.QueryRowContext(ctx, selectDeviceSQL, id).
		Scan(&device.ID, &device.Name, &device.ShutdownThreshold, &target)
	if errors.Is(err, sql.ErrNoRows) {
		return power.Device{}, errFactory.WithMessage(errors.ErrNotFound, "device not found: "+id)
	}
	if err != nil {
		return power.Device{}, errFactory.Wrap(ErrQueryFailed, err)
	}
	if target.Valid {
		device.TargetWh = &target.Float64
	}

	if r.devices != nil {
		r.devices.Add(id, device)
	}

	return device, nil
}

func (r *repository) InsertMeter(ctx context.Context, meter power.Meter) error {
	errFactory := errors.New()

	r.mu.Lock()
	defer r.mu.Unlock()

	var name sql.NullString
	if meter.Name != "" {
		name = sql.NullString{String: meter.Name, Valid: true}
	}

	if _, err := r.db.ExecContext(ctx, insertMeterSQL,
		meter.ID, meter.DeviceID, string(meter.Type),
		meter.Voltage, meter.CurrentDraw, meter.CapacityWh, meter.ChargePct, name); err != nil {
		if isForeignKeyViolation(err) {
			return errFactory.WithMessage(errors.ErrNotFound, "device not found: "+meter.DeviceID)
		}
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	return nil
}

func scanMeter(scan func(dest ...any) error) (power.Meter, error) {
	var (
		meter     power.Meter
		meterType string
		name      sql.NullString
	)
	if err := scan(&meter.ID, &meter.DeviceID, &meterType,
		&meter.Voltage, &meter.CurrentDraw, &meter.CapacityWh, &meter.ChargePct, &name); err != nil {
		return power.Meter{}, err
	}
	meter.Type = power.MeterType(meterType)
	meter.Name = name.String

	return meter, nil
}

func (r *repository) GetMeter(ctx context.Context, id string) (power.Meter, error) {
	errFactory := errors.New()

	row := r.db.QueryRowContext(ctx, selectMeterSQL+" WHERE id = ?", id)
	meter, err := scanMeter(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return power.Meter{}, errFactory.WithMessage(errors.ErrNotFound, "meter not found: "+id)
	}
	if err != nil {
		return power.Meter{}, errFactory.Wrap(ErrQueryFailed, err)
	}

	return meter, nil
}

// ListMeters returns meters ordered by insertion. Runtime estimation
// picks the first battery meter, so this order is part of the contract.
func (r *repository) ListMeters(ctx context.Context, deviceID string) ([]power.Meter, error) {
	errFactory := errors.New()

	query := selectMeterSQL
	args := []any{}
	if deviceID != "" {
		query += " WHERE device_id = ?"
		args = append(args, deviceID)
	}
	query += " ORDER BY rowid"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errFactory.Wrap(ErrQueryFailed, err)
	}
	defer rows.Close()

	var meters []power.Meter
	for rows.Next() {
		meter, err := scanMeter(rows.Scan)
		if err != nil {
			return nil, errFactory.Wrap(ErrScanFailed, err)
		}
		meters = append(meters, meter)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrQueryFailed, err)
	}

	return meters, nil
}

func (r *repository) RecordReading(ctx context.Context, reading power.Reading) error {
	errFactory := errors.New()

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	// Track transaction state
	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil {
				if !errors.Is(err, sql.ErrTxDone) {
					r.log.Debug().Err(err).Msg("Failed to rollback reading")
				}
			}
		}
	}()

	if _, err := tx.ExecContext(ctx, insertReadingSQL,
		reading.ID, reading.MeterID, reading.Voltage, reading.CurrentDraw,
		reading.Wattage, reading.ChargePct, formatTime(reading.Timestamp)); err != nil {
		if isForeignKeyViolation(err) {
			return errFactory.WithMessage(errors.ErrNotFound, "meter not found: "+reading.MeterID)
		}
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	if _, err := tx.ExecContext(ctx, updateMeterLiveSQL,
		reading.Voltage, reading.CurrentDraw, reading.ChargePct, reading.MeterID); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	committed = true

	return nil
}

func (r *repository) ListReadingsSince(ctx context.Context, meterID string, since time.Time) ([]power.Reading, error) {
	errFactory := errors.New()

	rows, err := r.db.QueryContext(ctx, `
        SELECT id, meter_id, voltage, current_draw, wattage, charge_pct, timestamp
        FROM power_readings
        WHERE meter_id = ? AND timestamp >= ?
        ORDER BY timestamp, rowid
    `, meterID, formatTime(since))
	if err != nil {
		return nil, errFactory.Wrap(ErrQueryFailed, err)
	}
	defer rows.Close()

	var readings []power.Reading
	for rows.Next() {
		var (
			reading power.Reading
			ts      string
		)
		if err := rows.Scan(&reading.ID, &reading.MeterID, &reading.Voltage,
			&reading.CurrentDraw, &reading.Wattage, &reading.ChargePct, &ts); err != nil {
			return nil, errFactory.Wrap(ErrScanFailed, err)
		}
		if reading.Timestamp, err = parseTime(ts); err != nil {
			return nil, errFactory.Wrap(ErrScanFailed, err)
		}
		readings = append(readings, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrQueryFailed, err)
	}

	return readings, nil
}

func (r *repository) AppendEvent(ctx context.Context, event power.Event) error {
	errFactory := errors.New()

	r.mu.Lock()
	defer r.mu.Unlock()

	var note sql.NullString
	if event.Note != nil {
		note = sql.NullString{String: *event.Note, Valid: true}
	}

	if _, err := r.db.ExecContext(ctx, insertEventSQL,
		event.ID, event.DeviceID, string(event.Type),
		event.Value, formatTime(event.Timestamp), note); err != nil {
		if isForeignKeyViolation(err) {
			return errFactory.WithMessage(errors.ErrNotFound, "device not found: "+event.DeviceID)
		}
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	return nil
}

func (r *repository) ListEvents(ctx context.Context, deviceID string, limit int) ([]power.Event, error) {
	errFactory := errors.New()

	rows, err := r.db.QueryContext(ctx, `
        SELECT id, device_id, type, value, timestamp, note
        FROM power_events
        WHERE device_id = ?
        ORDER BY timestamp DESC, rowid DESC
        LIMIT ?
    `, deviceID, limit)
	if err != nil {
		return nil, errFactory.Wrap(ErrQueryFailed, err)
	}
	defer rows.Close()

	var events []power.Event
	for rows.Next() {
		var (
			event     power.Event
			eventType string
			ts        string
			note      sql.NullString
		)
		if err := rows.Scan(&event.ID, &event.DeviceID, &eventType,
			&event.Value, &ts, &note); err != nil {
			return nil, errFactory.Wrap(ErrScanFailed, err)
		}
		event.Type = power.EventType(eventType)
		if event.Timestamp, err = parseTime(ts); err != nil {
			return nil, errFactory.Wrap(ErrScanFailed, err)
		}
		if note.Valid {
			event.Note = &note.String
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrQueryFailed, err)
	}

	return events, nil
}

func (r *repository) Close() error {
	// Checkpoint WAL and cleanup on close
	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "checkpoint_wal",
			Error: err.Error(),
		})
	}

	if err := r.db.Close(); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "close_database",
			Error: err.Error(),
		})
	}

	r.log.Info().Msg("Power store closed gracefully")

	return nil
}
