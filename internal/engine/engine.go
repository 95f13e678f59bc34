// Package engine ingests raw power samples: it derives wattage, clamps
// charge, persists the reading, refreshes the meter's live fields, and
// raises threshold events for battery meters.
package engine

import (
	"context"

	"github.com/google/uuid"

	"powermon/internal/clock"
	"powermon/internal/logger"
	"powermon/internal/power"
	"powermon/internal/store"
)

const defaultEventLimit = 50

type Engine struct {
	store store.Store
	log   logger.Logger
	clock clock.Clock
}

func New(s store.Store, log logger.Logger, clk clock.Clock) *Engine {
	return &Engine{
		store: s,
		log:   log,
		clock: clk,
	}
}

// RegisterDevice creates or overwrites a device record. Re-registering
// an id is an upsert, last write wins.
func (e *Engine) RegisterDevice(ctx context.Context, id, name string, shutdownThreshold float64, targetWh *float64) (power.Device, error) {
	device := power.Device{
		ID:                id,
		Name:              name,
		ShutdownThreshold: shutdownThreshold,
		TargetWh:          targetWh,
	}
	if err := e.store.UpsertDevice(ctx, device); err != nil {
		return power.Device{}, err
	}

	e.log.Debug().Str("device", id).Msg("Device registered")

	return e.store.GetDevice(ctx, id)
}

// AddMeter attaches a new meter to an existing device. A new meter
// starts fully charged with no load until its first reading arrives.
func (e *Engine) AddMeter(ctx context.Context, deviceID, meterType string, capacityWh float64, name string) (power.Meter, error) {
	parsed, err := power.ParseMeterType(meterType)
	if err != nil {
		return power.Meter{}, err
	}

	if _, err := e.store.GetDevice(ctx, deviceID); err != nil {
		return power.Meter{}, err
	}

	meter := power.Meter{
		ID:         uuid.NewString(),
		DeviceID:   deviceID,
		Type:       parsed,
		CapacityWh: capacityWh,
		ChargePct:  power.MaxChargePct,
		Name:       name,
	}
	if err := e.store.InsertMeter(ctx, meter); err != nil {
		return power.Meter{}, err
	}

	e.log.Debug().
		Str("meter", meter.ID).
		Str("device", deviceID).
		Str("type", string(parsed)).
		Msg("Meter added")

	return e.store.GetMeter(ctx, meter.ID)
}

// LogPower records one telemetry sample for a meter. When the sample
// carries no charge value the meter's stored charge is reused. Battery
// meters raise at most one event per call: low_battery at or below the
// critical threshold, otherwise discharge at or below the low threshold.
// The reading is durable before the event is attempted.
func (e *Engine) LogPower(ctx context.Context, meterID string, voltage, currentDraw float64, chargePct *float64) (power.Reading, error) {
	meter, err := e.store.GetMeter(ctx, meterID)
	if err != nil {
		return power.Reading{}, err
	}

	pct := meter.ChargePct
	if chargePct != nil {
		pct = *chargePct
	}
	pct = power.ClampCharge(pct)

	reading := power.Reading{
		ID:          uuid.NewString(),
		MeterID:     meterID,
		Voltage:     voltage,
		CurrentDraw: currentDraw,
		Wattage:     power.Wattage(voltage, currentDraw),
		ChargePct:   pct,
		Timestamp:   e.clock.Now().UTC(),
	}
	if err := e.store.RecordReading(ctx, reading); err != nil {
		return power.Reading{}, err
	}

	e.log.Debug().
		Str("meter", meterID).
		Float64("wattage", reading.Wattage).
		Float64("charge_pct", pct).
		Msg("Reading recorded")

	if meter.Type == power.MeterBattery {
		switch {
		case pct <= power.CriticalBatteryThreshold:
			if _, err := e.appendEvent(ctx, meter.DeviceID, power.EventLowBattery, pct, nil); err != nil {
				return power.Reading{}, err
			}
		case pct <= power.LowBatteryThreshold:
			if _, err := e.appendEvent(ctx, meter.DeviceID, power.EventDischarge, pct, nil); err != nil {
				return power.Reading{}, err
			}
		}
	}

	return reading, nil
}

// CalculateWattage returns the meter's instantaneous power from its live
// voltage and current draw
func (e *Engine) CalculateWattage(ctx context.Context, meterID string) (float64, error) {
	meter, err := e.store.GetMeter(ctx, meterID)
	if err != nil {
		return 0, err
	}

	return meter.Wattage(), nil
}

// TriggerEvent raises a manual event for a device
func (e *Engine) TriggerEvent(ctx context.Context, deviceID, eventType string, value float64, note string) (power.Event, error) {
	parsed, err := power.ParseEventType(eventType)
	if err != nil {
		return power.Event{}, err
	}

	if _, err := e.store.GetDevice(ctx, deviceID); err != nil {
		return power.Event{}, err
	}

	var notePtr *string
	if note != "" {
		notePtr = &note
	}

	return e.appendEvent(ctx, deviceID, parsed, value, notePtr)
}

func (e *Engine) appendEvent(ctx context.Context, deviceID string, eventType power.EventType, value float64, note *string) (power.Event, error) {
	event := power.Event{
		ID:        uuid.NewString(),
		DeviceID:  deviceID,
		Type:      eventType,
		Value:     value,
		Timestamp: e.clock.Now().UTC(),
		Note:      note,
	}
	if err := e.store.AppendEvent(ctx, event); err != nil {
		return power.Event{}, err
	}

	e.log.Info().
		Str("device", deviceID).
		Str("type", string(eventType)).
		Float64("value", value).
		Msg("Power event raised")

	return event, nil
}

// GetEvents returns the device's most recent events, newest first. A
// non-positive limit falls back to the default of 50.
func (e *Engine) GetEvents(ctx context.Context, deviceID string, limit int) ([]power.Event, error) {
	if limit <= 0 {
		limit = defaultEventLimit
	}

	return e.store.ListEvents(ctx, deviceID, limit)
}

func (e *Engine) GetDevice(ctx context.Context, id string) (power.Device, error) {
	return e.store.GetDevice(ctx, id)
}

func (e *Engine) GetMeter(ctx context.Context, id string) (power.Meter, error) {
	return e.store.GetMeter(ctx, id)
}

func (e *Engine) ListMeters(ctx context.Context, deviceID string) ([]power.Meter, error) {
	return e.store.ListMeters(ctx, deviceID)
}
