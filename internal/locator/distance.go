package locator

import (
	"math"
	"strconv"
)

const earthRadiusKm = 6371

// DistanceKm returns the great-circle distance between two points in kilometres, rounded to one decimal.
func DistanceKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return math.Round(earthRadiusKm*c*10) / 10
}

// DirectionsURL returns a Google Maps deep link that routes to the given point.
func DirectionsURL(lat, lng float64) string {
	return "https://www.google.com/maps/dir/?api=1&destination=" +
		strconv.FormatFloat(lat, 'f', -1, 64) + "," + strconv.FormatFloat(lng, 'f', -1, 64)
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
