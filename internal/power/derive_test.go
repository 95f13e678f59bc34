package power_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"powermon/internal/errors"
	"powermon/internal/power"
)

func TestWattage(t *testing.T) {
	tests := []struct {
		name    string
		voltage float64
		current float64
		want    float64
	}{
		{"typical load", 12.0, 2.0, 24.0},
		{"fractional rounding", 3.3333, 2.0001, 6.6669},
		{"zero current", 230.0, 0.0, 0.0},
		{"negative current", 12.0, -0.5, -6.0},
		{"sub-milliwatt", 0.001, 0.01, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, power.Wattage(tt.voltage, tt.current), 1e-9)
		})
	}
}

func TestClampCharge(t *testing.T) {
	tests := []struct {
		name string
		pct  float64
		want float64
	}{
		{"in range", 42.5, 42.5},
		{"above max", 150.0, 100.0},
		{"below min", -10.0, 0.0},
		{"at max", 100.0, 100.0},
		{"at min", 0.0, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, power.ClampCharge(tt.pct), 1e-9)
		})
	}
}

func TestMeterState(t *testing.T) {
	tests := []struct {
		name      string
		meterType power.MeterType
		chargePct float64
		want      power.State
	}{
		{"normal mid charge", power.MeterBattery, 80.0, power.StateNormal},
		{"low", power.MeterBattery, 15.0, power.StateLow},
		{"critical", power.MeterBattery, 4.0, power.StateCritical},
		{"charging near full", power.MeterBattery, 97.0, power.StateCharging},
		{"low boundary", power.MeterBattery, 20.0, power.StateLow},
		{"critical boundary", power.MeterBattery, 5.0, power.StateCritical},
		{"charging boundary", power.MeterBattery, 95.0, power.StateCharging},
		{"solar always charging", power.MeterSolar, 1.0, power.StateCharging},
		{"main meter classified by charge", power.MeterMain, 50.0, power.StateNormal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := power.Meter{Type: tt.meterType, ChargePct: tt.chargePct}
			assert.Equal(t, tt.want, m.State())
		})
	}
}

func TestMeterWattage(t *testing.T) {
	m := power.Meter{Voltage: 12.6, CurrentDraw: 1.5}
	assert.InDelta(t, 18.9, m.Wattage(), 1e-9)
}

func TestParseMeterType(t *testing.T) {
	for _, label := range []string{"main", "battery", "solar", "ups"} {
		mt, err := power.ParseMeterType(label)
		require.NoError(t, err)
		assert.Equal(t, power.MeterType(label), mt)
	}

	_, err := power.ParseMeterType("fusion")
	require.Error(t, err)
	assert.True(t, errors.IsInvalidEnum(err))
}

func TestParseEventType(t *testing.T) {
	for _, label := range []string{"charge_start", "discharge", "low_battery", "shutdown", "restore"} {
		et, err := power.ParseEventType(label)
		require.NoError(t, err)
		assert.Equal(t, power.EventType(label), et)
	}

	_, err := power.ParseEventType("explosion")
	require.Error(t, err)
	assert.True(t, errors.IsInvalidEnum(err))
}
