package protocol

import (
	"math"

	"github.com/G1-H25/jenlib/src/inter"
)

// TemperatureFromCelsius converts degrees to hundredths, rounding and saturating to int16.
func TemperatureFromCelsius(c float64) int16 {
	if math.IsNaN(c) {
		return 0
	}
	v := math.Round(c * 100)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// HumidityFromPercent converts percent to hundredths, rounding and saturating to 0..10000.
func HumidityFromPercent(pct float64) uint16 {
	if math.IsNaN(pct) || pct <= 0 {
		return 0
	}
	v := math.Round(pct * 100)
	if v > float64(inter.MaxHumidity) {
		return inter.MaxHumidity
	}
	return uint16(v)
}

// NewReading builds a reading from physical values.
func NewReading(sender inter.DeviceID, session inter.SessionID, offsetMs uint32, celsius, percent float64) inter.ReadingMsg {
	return inter.ReadingMsg{
		SenderID:    sender,
		SessionID:   session,
		OffsetMs:    offsetMs,
		Temperature: TemperatureFromCelsius(celsius),
		Humidity:    HumidityFromPercent(percent),
	}
}
