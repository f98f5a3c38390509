package scaling

import "math"

// Scalers hold the per device calibration used to convert voltage and current registers into physical units.
// They are read from the device once per session and never change afterwards.
type Scalers struct {
	Voltage float64
	Current float64
}

// ScalerFromWords combines the high and low calibration registers into a scaler.
//
// The device stores the scaler as whole.fraction, the low word being the fraction in units of 1/65536,
// e.g. high=78 and low=934 give 78 + 934/65536 = 78.01425.
func ScalerFromWords(high, low uint16) float64 {
	return float64(high) + float64(low)/65536.0
}

// Convert scales the raw register value into the physical value for `unit`.
//
// The result has full floating point precision, use Round for presentation. Zero scalers (a miscalibrated device)
// produce zero for voltages, currents and powers rather than an error.
func Convert(raw int64, unit Unit, scalers Scalers) float64 {
	val := float64(raw)

	switch unit {
	case Volt:
		return val * scalers.Voltage / (1 << 15)
	case Amp:
		return val * scalers.Current / (1 << 15)
	case Watt:
		return val * scalers.Voltage * scalers.Current / (1 << 17)
	case AmpHour:
		return val / 10.0
	default:
		// kWh, degrees and raw state values are transmitted unscaled
		return val
	}
}

// Round rounds `val` to the given number of decimal places, half away from zero.
func Round(val float64, places int) float64 {
	pow := math.Pow(10, float64(places))
	return math.Round(val*pow) / pow
}
