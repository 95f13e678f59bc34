package power

import "math"

// Battery thresholds in percent
const (
	CriticalBatteryThreshold = 5.0
	LowBatteryThreshold      = 20.0
	ChargingThreshold        = 95.0

	MinChargePct = 0.0
	MaxChargePct = 100.0
)

// Wattage computes instantaneous power, rounded to 4 decimal places
func Wattage(voltage, currentDraw float64) float64 {
	return math.Round(voltage*currentDraw*1e4) / 1e4
}

// ClampCharge bounds a charge percentage to [0, 100]. Out-of-range
// samples are clamped, never rejected.
func ClampCharge(pct float64) float64 {
	return math.Max(MinChargePct, math.Min(MaxChargePct, pct))
}

// Wattage returns the meter's instantaneous power from its live fields
func (m Meter) Wattage() float64 {
	return Wattage(m.Voltage, m.CurrentDraw)
}

// State classifies the meter, first match wins: solar meters always
// read as charging, then critical, low, charging by charge level,
// otherwise normal.
func (m Meter) State() State {
	switch {
	case m.Type == MeterSolar:
		return StateCharging
	case m.ChargePct <= CriticalBatteryThreshold:
		return StateCritical
	case m.ChargePct <= LowBatteryThreshold:
		return StateLow
	case m.ChargePct >= ChargingThreshold:
		return StateCharging
	default:
		return StateNormal
	}
}
