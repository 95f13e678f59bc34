// Package power defines the telemetry domain records and their derived
// attributes: instantaneous wattage, charge clamping, and battery state
// classification.
package power

import (
	"fmt"
	"time"

	"powermon/internal/errors"
)

// MeterType identifies the kind of power source a meter samples
type MeterType string

const (
	MeterMain    MeterType = "main"
	MeterBattery MeterType = "battery"
	MeterSolar   MeterType = "solar"
	MeterUPS     MeterType = "ups"
)

// ParseMeterType maps a label to a MeterType
func ParseMeterType(s string) (MeterType, error) {
	errFactory := errors.New()

	switch t := MeterType(s); t {
	case MeterMain, MeterBattery, MeterSolar, MeterUPS:
		return t, nil
	default:
		return "", errFactory.WithData(errors.ErrInvalidEnum, fmt.Sprintf("unknown meter type %q", s))
	}
}

// EventType identifies a discrete power occurrence
type EventType string

const (
	EventChargeStart EventType = "charge_start"
	EventDischarge   EventType = "discharge"
	EventLowBattery  EventType = "low_battery"
	EventShutdown    EventType = "shutdown"
	EventRestore     EventType = "restore"
)

// ParseEventType maps a label to an EventType
func ParseEventType(s string) (EventType, error) {
	errFactory := errors.New()

	switch t := EventType(s); t {
	case EventChargeStart, EventDischarge, EventLowBattery, EventShutdown, EventRestore:
		return t, nil
	default:
		return "", errFactory.WithData(errors.ErrInvalidEnum, fmt.Sprintf("unknown event type %q", s))
	}
}

// State classifies a meter's operating condition from its charge level
type State string

const (
	StateNormal   State = "normal"
	StateLow      State = "low"
	StateCritical State = "critical"
	StateCharging State = "charging"
	StateUnknown  State = "unknown"
)

// Device is an edge node owning one or more meters. Registration is an
// upsert: re-registering an id overwrites name, threshold, and target.
type Device struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	ShutdownThreshold float64  `json:"shutdown_threshold"`
	TargetWh          *float64 `json:"target_wh"`
}

// Meter is a voltage/current/charge source attached to a device. Voltage,
// current draw, and charge are live fields overwritten by each new reading.
type Meter struct {
	ID          string    `json:"id"`
	DeviceID    string    `json:"device_id"`
	Type        MeterType `json:"type"`
	Voltage     float64   `json:"voltage"`
	CurrentDraw float64   `json:"current_draw"`
	CapacityWh  float64   `json:"capacity_wh"`
	ChargePct   float64   `json:"charge_pct"`
	Name        string    `json:"name,omitempty"`
}

// Reading is one immutable timestamped telemetry sample
type Reading struct {
	ID          string    `json:"id"`
	MeterID     string    `json:"meter_id"`
	Voltage     float64   `json:"voltage"`
	CurrentDraw float64   `json:"current_draw"`
	Wattage     float64   `json:"wattage"`
	ChargePct   float64   `json:"charge_pct"`
	Timestamp   time.Time `json:"timestamp"`
}

// Event is one immutable power occurrence, raised manually or by the
// engine's threshold rules
type Event struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"device_id"`
	Type      EventType `json:"type"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	Note      *string   `json:"note"`
}
