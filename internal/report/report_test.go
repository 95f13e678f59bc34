package report_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"powermon/internal/clock"
	"powermon/internal/engine"
	"powermon/internal/errors"
	"powermon/internal/logger"
	"powermon/internal/power"
	"powermon/internal/report"
	"powermon/internal/store"
)

func newTestReporter(t *testing.T) (*report.Reporter, *engine.Engine, *clock.FakeClock) {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "report_test")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	require.NoError(t, logger.Init("error", false))

	s, err := store.New(store.Config{
		DBPath:          filepath.Join(tempDir, "power.db"),
		DeviceCacheSize: 8,
	}, logger.Default())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	fakeClock := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	return report.New(s, logger.Default(), fakeClock),
		engine.New(s, logger.Default(), fakeClock),
		fakeClock
}

func logReading(t *testing.T, e *engine.Engine, meterID string, voltage, current, charge float64) {
	t.Helper()
	_, err := e.LogPower(context.Background(), meterID, voltage, current, &charge)
	require.NoError(t, err)
}

func TestEstimateRuntime(t *testing.T) {
	ctx := context.Background()
	r, e, _ := newTestReporter(t)

	_, err := e.RegisterDevice(ctx, "dev-001", "node", 3.0, nil)
	require.NoError(t, err)
	meter, err := e.AddMeter(ctx, "dev-001", "battery", 50.0, "")
	require.NoError(t, err)

	logReading(t, e, meter.ID, 12.0, 2.0, 80.0)

	hours, ok, err := r.EstimateRuntime(ctx, "dev-001")
	require.NoError(t, err)
	require.True(t, ok)
	// 50Wh * 80% = 40Wh remaining at 24W
	assert.InDelta(t, 1.67, hours, 1e-9)
}

func TestEstimateRuntimeNoEstimate(t *testing.T) {
	ctx := context.Background()
	r, e, _ := newTestReporter(t)

	_, err := e.RegisterDevice(ctx, "dev-001", "node", 3.0, nil)
	require.NoError(t, err)

	// No meters at all
	_, ok, err := r.EstimateRuntime(ctx, "dev-001")
	require.NoError(t, err)
	assert.False(t, ok)

	// Battery meter with no draw
	battery, err := e.AddMeter(ctx, "dev-001", "battery", 50.0, "")
	require.NoError(t, err)
	_, ok, err = r.EstimateRuntime(ctx, "dev-001")
	require.NoError(t, err)
	assert.False(t, ok)

	// Draw present but zero voltage means zero wattage
	logReading(t, e, battery.ID, 0.0, 2.0, 80.0)
	_, ok, err = r.EstimateRuntime(ctx, "dev-001")
	require.NoError(t, err)
	assert.False(t, ok)

	// Solar meters never contribute an estimate
	solar, err := e.AddMeter(ctx, "dev-001", "solar", 0, "")
	require.NoError(t, err)
	logReading(t, e, solar.ID, 18.0, 0.5, 100.0)
	_, ok, err = r.EstimateRuntime(ctx, "dev-001")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEstimateRuntimeUsesFirstBatteryMeter(t *testing.T) {
	ctx := context.Background()
	r, e, _ := newTestReporter(t)

	_, err := e.RegisterDevice(ctx, "dev-001", "node", 3.0, nil)
	require.NoError(t, err)

	first, err := e.AddMeter(ctx, "dev-001", "battery", 50.0, "")
	require.NoError(t, err)
	second, err := e.AddMeter(ctx, "dev-001", "battery", 100.0, "")
	require.NoError(t, err)

	logReading(t, e, first.ID, 12.0, 2.0, 80.0)  // 40Wh at 24W
	logReading(t, e, second.ID, 12.0, 1.0, 50.0) // 50Wh at 12W

	hours, ok, err := r.EstimateRuntime(ctx, "dev-001")
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 1.67, hours, 1e-9)
}

func TestPowerBudgetCheck(t *testing.T) {
	ctx := context.Background()
	r, e, _ := newTestReporter(t)

	_, err := e.RegisterDevice(ctx, "dev-001", "node", 3.0, nil)
	require.NoError(t, err)
	battery, err := e.AddMeter(ctx, "dev-001", "battery", 50.0, "")
	require.NoError(t, err)
	solar, err := e.AddMeter(ctx, "dev-001", "solar", 0, "")
	require.NoError(t, err)

	logReading(t, e, battery.ID, 12.0, 2.0, 80.0)
	logReading(t, e, solar.ID, 18.0, 0.5, 100.0)

	results := r.PowerBudgetCheck(ctx, []string{"dev-001", "ghost"})
	require.Len(t, results, 2)

	entry := results["dev-001"]
	require.NotNil(t, entry.BudgetResult)
	assert.Empty(t, entry.Err)
	assert.InDelta(t, 33.0, entry.TotalWattage, 1e-9)
	assert.Equal(t, 1, entry.BatteryCount)
	assert.Equal(t, 1, entry.SolarCount)
	require.NotNil(t, entry.AvgChargePct)
	assert.InDelta(t, 80.0, *entry.AvgChargePct, 1e-9)
	require.NotNil(t, entry.EstimatedRuntimeHours)
	assert.InDelta(t, 1.67, *entry.EstimatedRuntimeHours, 1e-9)
	assert.Equal(t, []power.State{power.StateNormal, power.StateCharging}, entry.States)

	ghost := results["ghost"]
	assert.Nil(t, ghost.BudgetResult)
	assert.NotEmpty(t, ghost.Err)
}

func TestPowerBudgetCheckNoBatteries(t *testing.T) {
	ctx := context.Background()
	r, e, _ := newTestReporter(t)

	_, err := e.RegisterDevice(ctx, "dev-001", "node", 3.0, nil)
	require.NoError(t, err)
	main, err := e.AddMeter(ctx, "dev-001", "main", 0, "")
	require.NoError(t, err)
	logReading(t, e, main.ID, 230.0, 0.1, 100.0)

	results := r.PowerBudgetCheck(ctx, []string{"dev-001"})
	entry := results["dev-001"]
	require.NotNil(t, entry.BudgetResult)
	assert.Nil(t, entry.AvgChargePct)
	assert.Nil(t, entry.EstimatedRuntimeHours)
	assert.InDelta(t, 23.0, entry.TotalWattage, 1e-9)
}

func TestBudgetEntryJSONShape(t *testing.T) {
	avg := 80.0
	okEntry := report.BudgetEntry{BudgetResult: &report.BudgetResult{
		TotalWattage: 33.0,
		BatteryCount: 1,
		AvgChargePct: &avg,
		States:       []power.State{power.StateNormal},
	}}
	raw, err := json.Marshal(okEntry)
	require.NoError(t, err)

	var asMap map[string]any
	require.NoError(t, json.Unmarshal(raw, &asMap))
	assert.Contains(t, asMap, "total_wattage")
	assert.Contains(t, asMap, "states")
	assert.NotContains(t, asMap, "error")

	errEntry := report.BudgetEntry{Err: "device not found: ghost"}
	raw, err = json.Marshal(errEntry)
	require.NoError(t, err)

	asMap = nil
	require.NoError(t, json.Unmarshal(raw, &asMap))
	assert.Equal(t, map[string]any{"error": "device not found: ghost"}, asMap)
}

func TestGetHistoryWindow(t *testing.T) {
	ctx := context.Background()
	r, e, fakeClock := newTestReporter(t)

	_, err := e.RegisterDevice(ctx, "dev-001", "node", 3.0, nil)
	require.NoError(t, err)
	meter, err := e.AddMeter(ctx, "dev-001", "main", 0, "")
	require.NoError(t, err)

	logReading(t, e, meter.ID, 12.0, 1.0, 100.0) // falls out of the window
	fakeClock.Advance(30 * time.Hour)
	logReading(t, e, meter.ID, 12.0, 2.0, 90.0)
	fakeClock.Advance(time.Hour)
	logReading(t, e, meter.ID, 12.0, 3.0, 85.0)

	readings, err := r.GetHistory(ctx, meter.ID, 24)
	require.NoError(t, err)
	require.Len(t, readings, 2)
	assert.InDelta(t, 24.0, readings[0].Wattage, 1e-9)
	assert.InDelta(t, 36.0, readings[1].Wattage, 1e-9)
	assert.True(t, readings[0].Timestamp.Before(readings[1].Timestamp))

	// Zero hours falls back to the 24h default
	byDefault, err := r.GetHistory(ctx, meter.ID, 0)
	require.NoError(t, err)
	assert.Len(t, byDefault, 2)

	wide, err := r.GetHistory(ctx, meter.ID, 48)
	require.NoError(t, err)
	assert.Len(t, wide, 3)
}

func TestExportReport(t *testing.T) {
	ctx := context.Background()
	r, e, fakeClock := newTestReporter(t)

	_, err := e.RegisterDevice(ctx, "dev-001", "node", 3.0, nil)
	require.NoError(t, err)
	active, err := e.AddMeter(ctx, "dev-001", "battery", 50.0, "")
	require.NoError(t, err)
	idle, err := e.AddMeter(ctx, "dev-001", "ups", 20.0, "")
	require.NoError(t, err)

	logReading(t, e, active.ID, 12.0, 1.0, 90.0)
	fakeClock.Advance(time.Hour)
	logReading(t, e, active.ID, 12.0, 2.0, 85.0)
	fakeClock.Advance(time.Hour)
	logReading(t, e, active.ID, 12.0, 3.0, 95.0)

	_, err = e.TriggerEvent(ctx, "dev-001", "charge_start", 85.0, "")
	require.NoError(t, err)

	rpt, err := r.ExportReport(ctx, "dev-001", 7)
	require.NoError(t, err)
	assert.Equal(t, "dev-001", rpt.DeviceID)
	assert.Equal(t, 7, rpt.PeriodDays)
	assert.True(t, rpt.GeneratedAt.Equal(fakeClock.Now()))
	require.Len(t, rpt.Meters, 2)

	withData := rpt.Meters[0]
	assert.Equal(t, active.ID, withData.MeterID)
	assert.Equal(t, power.MeterBattery, withData.Type)
	assert.Equal(t, 3, withData.ReadingCount)
	assert.Equal(t, power.StateCharging, withData.CurrentState)
	require.NotNil(t, withData.AvgWattage)
	assert.InDelta(t, 24.0, *withData.AvgWattage, 1e-9)
	require.NotNil(t, withData.MaxWattage)
	assert.InDelta(t, 36.0, *withData.MaxWattage, 1e-9)
	require.NotNil(t, withData.MinChargePct)
	assert.InDelta(t, 85.0, *withData.MinChargePct, 1e-9)

	empty := rpt.Meters[1]
	assert.Equal(t, idle.ID, empty.MeterID)
	assert.Equal(t, 0, empty.ReadingCount)
	assert.Empty(t, empty.CurrentState)
	assert.Nil(t, empty.AvgWattage)
	assert.Nil(t, empty.MaxWattage)
	assert.Nil(t, empty.MinChargePct)

	assert.Equal(t, 1, rpt.EventCount)
	require.Len(t, rpt.Events, 1)
	assert.Equal(t, power.EventChargeStart, rpt.Events[0].Type)
}

func TestExportReportZeroMeterJSONShape(t *testing.T) {
	entry := report.MeterReport{MeterID: "mtr-1", Type: power.MeterUPS}
	raw, err := json.Marshal(entry)
	require.NoError(t, err)

	var asMap map[string]any
	require.NoError(t, json.Unmarshal(raw, &asMap))
	assert.Equal(t, map[string]any{
		"meter_id":      "mtr-1",
		"type":          "ups",
		"reading_count": float64(0),
	}, asMap)
}

func TestExportReportNotFound(t *testing.T) {
	ctx := context.Background()
	r, _, _ := newTestReporter(t)

	_, err := r.ExportReport(ctx, "ghost", 7)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestExportReportEmbedsAtMostTwenty(t *testing.T) {
	ctx := context.Background()
	r, e, fakeClock := newTestReporter(t)

	_, err := e.RegisterDevice(ctx, "dev-001", "node", 3.0, nil)
	require.NoError(t, err)

	for i := 0; i < 25; i++ {
		_, err := e.TriggerEvent(ctx, "dev-001", "discharge", float64(i), "")
		require.NoError(t, err)
		fakeClock.Advance(time.Minute)
	}

	rpt, err := r.ExportReport(ctx, "dev-001", 7)
	require.NoError(t, err)
	assert.Equal(t, 25, rpt.EventCount)
	assert.Len(t, rpt.Events, 20)
	// Newest first
	assert.InDelta(t, 24.0, rpt.Events[0].Value, 1e-9)
}

func TestRenderHistoryChart(t *testing.T) {
	ctx := context.Background()
	r, e, fakeClock := newTestReporter(t)

	_, err := e.RegisterDevice(ctx, "dev-001", "node", 3.0, nil)
	require.NoError(t, err)
	meter, err := e.AddMeter(ctx, "dev-001", "battery", 50.0, "")
	require.NoError(t, err)

	var buf bytes.Buffer
	err = r.RenderHistoryChart(ctx, meter.ID, 24, &buf)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, report.ErrInsufficientReadings))

	for _, charge := range []float64{90.0, 70.0, 80.0} {
		logReading(t, e, meter.ID, 12.0, 2.0, charge)
		fakeClock.Advance(time.Hour)
	}

	buf.Reset()
	require.NoError(t, r.RenderHistoryChart(ctx, meter.ID, 24, &buf))
	require.Greater(t, buf.Len(), 4)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, buf.Bytes()[:4])
}
