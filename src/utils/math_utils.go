package utils

import "math"

// RoundFloat rounds a float64 to a specified number of decimal places.
func RoundFloat(val float64, precision uint) float64 {
	ratio := math.Pow(10, float64(precision))
	return math.Round(val*ratio) / ratio
}

// RoundLiters rounds a volume for display. Internal computation stays
// unrounded; only API responses use this.
func RoundLiters(val float64) float64 {
	return RoundFloat(val, 2)
}
