package store

import (
	"context"
	"time"

	"powermon/internal/power"
)

// Store is the durable gateway over device, meter, reading, and event
// records. Every write either fully commits or fully rolls back, and
// referential integrity is enforced at write time: a meter needs its
// device, a reading its meter, an event its device.
type Store interface {
	// UpsertDevice inserts the device or overwrites its name, threshold,
	// and target when the id already exists.
	UpsertDevice(ctx context.Context, device power.Device) error
	// GetDevice returns the device or a not_found error
	GetDevice(ctx context.Context, id string) (power.Device, error)

	// InsertMeter persists a new meter; fails with not_found when the
	// referenced device is absent.
	InsertMeter(ctx context.Context, meter power.Meter) error
	// GetMeter returns the meter or a not_found error
	GetMeter(ctx context.Context, id string) (power.Meter, error)
	// ListMeters returns meters in creation order, filtered to one
	// device when deviceID is non-empty.
	ListMeters(ctx context.Context, deviceID string) ([]power.Meter, error)

	// RecordReading appends the reading and overwrites the meter's live
	// voltage, current draw, and charge in the same transaction.
	RecordReading(ctx context.Context, reading power.Reading) error
	// ListReadingsSince returns the meter's readings with timestamp at or
	// after since, ascending.
	ListReadingsSince(ctx context.Context, meterID string, since time.Time) ([]power.Reading, error)

	// AppendEvent persists an event; fails with not_found when the
	// referenced device is absent.
	AppendEvent(ctx context.Context, event power.Event) error
	// ListEvents returns the device's most recent events, newest first,
	// at most limit.
	ListEvents(ctx context.Context, deviceID string, limit int) ([]power.Event, error)

	Close() error
}
