package repo

import "math"

// PriceMode selects how a bulk price update transforms every kiosk price.
type PriceMode string

const (
	PriceFixed      PriceMode = "fixed"
	PricePercentage PriceMode = "percentage"
	PriceAdd        PriceMode = "add"
	PriceSubtract   PriceMode = "subtract"
)

// ApplyPriceChange computes the new price for a single device. Results never go below zero.
func ApplyPriceChange(mode PriceMode, price int64, value float64) (int64, error) {
	var next float64
	switch mode {
	case PriceFixed:
		next = value
	case PricePercentage:
		next = math.Round(float64(price) * (1 + value/100))
	case PriceAdd:
		next = float64(price) + value
	case PriceSubtract:
		next = float64(price) - value
	default:
		return 0, invalid("unknown price mode " + string(mode))
	}
	if math.IsNaN(next) || math.IsInf(next, 0) {
		return 0, invalid("price value is not a number")
	}
	if next < 0 {
		next = 0
	}
	return int64(math.Round(next)), nil
}
