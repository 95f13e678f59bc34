// Package report answers the read-side questions: runtime estimation,
// multi-device budget checks, history windows, and report assembly.
// All aggregates are computed here; rendering them is the caller's job.
package report

import (
	"context"
	"math"
	"time"

	"powermon/internal/clock"
	"powermon/internal/logger"
	"powermon/internal/power"
	"powermon/internal/store"
)

const (
	defaultHistoryHours = 24
	defaultReportDays   = 7

	reportEventFetch = 200
	reportEventEmbed = 20
)

type Reporter struct {
	store store.Store
	log   logger.Logger
	clock clock.Clock
}

func New(s store.Store, log logger.Logger, clk clock.Clock) *Reporter {
	return &Reporter{
		store: s,
		log:   log,
		clock: clk,
	}
}

func round2(x float64) float64 { return math.Round(x*100) / 100 }
func round4(x float64) float64 { return math.Round(x*1e4) / 1e4 }

// EstimateRuntime projects hours of battery left for a device. It takes
// the first battery meter under load in meter creation order; remaining
// energy is capacity scaled by charge. The second return is false when
// no estimate is available: no battery meter drawing current, or the
// selected meter's wattage is not positive.
func (r *Reporter) EstimateRuntime(ctx context.Context, deviceID string) (float64, bool, error) {
	meters, err := r.store.ListMeters(ctx, deviceID)
	if err != nil {
		return 0, false, err
	}

	for _, m := range meters {
		if m.Type != power.MeterBattery || m.CurrentDraw <= 0 {
			continue
		}

		wattage := m.Wattage()
		if wattage <= 0 {
			return 0, false, nil
		}
		remainingWh := m.CapacityWh * (m.ChargePct / 100.0)

		return round2(remainingWh / wattage), true, nil
	}

	return 0, false, nil
}

// BudgetResult summarizes one device's draw and charge posture
type BudgetResult struct {
	TotalWattage          float64       `json:"total_wattage"`
	BatteryCount          int           `json:"battery_count"`
	SolarCount            int           `json:"solar_count"`
	AvgChargePct          *float64      `json:"avg_charge_pct"`
	EstimatedRuntimeHours *float64      `json:"estimated_runtime_hours"`
	States                []power.State `json:"states"`
}

// BudgetEntry carries either a device's budget result or the error that
// kept it out of the batch
type BudgetEntry struct {
	*BudgetResult
	Err string `json:"error,omitempty"`
}

// PowerBudgetCheck resolves each device independently. A failure for one
// id becomes that entry's error descriptor; the batch never aborts.
func (r *Reporter) PowerBudgetCheck(ctx context.Context, deviceIDs []string) map[string]BudgetEntry {
	results := make(map[string]BudgetEntry, len(deviceIDs))

	for _, deviceID := range deviceIDs {
		result, err := r.deviceBudget(ctx, deviceID)
		if err != nil {
			r.log.Warn().Str("device", deviceID).Err(err).Msg("Budget check failed for device")
			results[deviceID] = BudgetEntry{Err: err.Error()}
			continue
		}
		results[deviceID] = BudgetEntry{BudgetResult: result}
	}

	return results
}

func (r *Reporter) deviceBudget(ctx context.Context, deviceID string) (*BudgetResult, error) {
	if _, err := r.store.GetDevice(ctx, deviceID); err != nil {
		return nil, err
	}

	meters, err := r.store.ListMeters(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	result := &BudgetResult{States: make([]power.State, 0, len(meters))}

	var total, chargeSum float64
	for _, m := range meters {
		total += m.Wattage()
		switch m.Type {
		case power.MeterBattery:
			result.BatteryCount++
			chargeSum += m.ChargePct
		case power.MeterSolar:
			result.SolarCount++
		}
		result.States = append(result.States, m.State())
	}
	result.TotalWattage = round4(total)

	if result.BatteryCount > 0 {
		avg := round2(chargeSum / float64(result.BatteryCount))
		result.AvgChargePct = &avg
	}

	hours, ok, err := r.EstimateRuntime(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if ok {
		result.EstimatedRuntimeHours = &hours
	}

	return result, nil
}

// GetHistory returns the meter's readings from the trailing window,
// oldest first. A non-positive hours falls back to 24.
func (r *Reporter) GetHistory(ctx context.Context, meterID string, hours int) ([]power.Reading, error) {
	if hours <= 0 {
		hours = defaultHistoryHours
	}

	since := r.clock.Now().UTC().Add(-time.Duration(hours) * time.Hour)

	return r.store.ListReadingsSince(ctx, meterID, since)
}

// MeterReport aggregates one meter's readings over the report window.
// Meters without readings carry only their zero count.
type MeterReport struct {
	MeterID      string          `json:"meter_id"`
	Type         power.MeterType `json:"type"`
	CurrentState power.State     `json:"current_state,omitempty"`
	AvgWattage   *float64        `json:"avg_wattage,omitempty"`
	MaxWattage   *float64        `json:"max_wattage,omitempty"`
	MinChargePct *float64        `json:"min_charge_pct,omitempty"`
	ReadingCount int             `json:"reading_count"`
}

// Report is the per-device export: meter aggregates over the window,
// the total recent event count, and the newest events embedded.
type Report struct {
	DeviceID    string        `json:"device_id"`
	PeriodDays  int           `json:"period_days"`
	GeneratedAt time.Time     `json:"generated_at"`
	Meters      []MeterReport `json:"meters"`
	EventCount  int           `json:"event_count"`
	Events      []power.Event `json:"events"`
}

// ExportReport aggregates per-meter statistics over the trailing days
// window plus the device's recent events. Fails with not_found when the
// device is absent. A non-positive days falls back to 7.
func (r *Reporter) ExportReport(ctx context.Context, deviceID string, days int) (*Report, error) {
	if days <= 0 {
		days = defaultReportDays
	}

	if _, err := r.store.GetDevice(ctx, deviceID); err != nil {
		return nil, err
	}

	meters, err := r.store.ListMeters(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	rpt := &Report{
		DeviceID:    deviceID,
		PeriodDays:  days,
		GeneratedAt: r.clock.Now().UTC(),
		Meters:      make([]MeterReport, 0, len(meters)),
	}

	for _, m := range meters {
		readings, err := r.GetHistory(ctx, m.ID, days*24)
		if err != nil {
			return nil, err
		}

		entry := MeterReport{
			MeterID:      m.ID,
			Type:         m.Type,
			ReadingCount: len(readings),
		}
		if len(readings) > 0 {
			var wattageSum float64
			maxWattage := readings[0].Wattage
			minCharge := readings[0].ChargePct
			for _, reading := range readings {
				wattageSum += reading.Wattage
				maxWattage = math.Max(maxWattage, reading.Wattage)
				minCharge = math.Min(minCharge, reading.ChargePct)
			}
			avg := round4(wattageSum / float64(len(readings)))
			entry.CurrentState = m.State()
			entry.AvgWattage = &avg
			entry.MaxWattage = &maxWattage
			entry.MinChargePct = &minCharge
		}
		rpt.Meters = append(rpt.Meters, entry)
	}

	events, err := r.store.ListEvents(ctx, deviceID, reportEventFetch)
	if err != nil {
		return nil, err
	}
	rpt.EventCount = len(events)
	if len(events) > reportEventEmbed {
		events = events[:reportEventEmbed]
	}
	if events == nil {
		events = []power.Event{}
	}
	rpt.Events = events

	r.log.Debug().
		Str("device", deviceID).
		Int("meters", len(rpt.Meters)).
		Int("events", rpt.EventCount).
		Msg("Report assembled")

	return rpt, nil
}
