package geo

import (
	"errors"
	"math"
)

const earthRadiusKm = 6371.0

// ErrNonFinite is returned when a coordinate is NaN or infinite.
var ErrNonFinite = errors.New("coordinate is not a finite number")

// DistanceKm computes the great-circle distance between two points using
// the haversine formula, rounded to two decimal places.
func DistanceKm(lat1, lng1, lat2, lng2 float64) (float64, error) {
	for _, v := range [...]float64{lat1, lng1, lat2, lng2} {
		if !finite(v) {
			return 0, ErrNonFinite
		}
	}
	toRad := func(deg float64) float64 { return deg * math.Pi / 180.0 }
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return math.Round(earthRadiusKm*c*100) / 100, nil
}

// Round6 rounds a coordinate to six decimal places, half up. Coordinates
// are stored at this precision so equality checks downstream are not
// defeated by float noise.
func Round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// ValidCoord reports whether lat/lng are finite and inside the usual
// WGS84 bounds.
func ValidCoord(lat, lng float64) bool {
	if !finite(lat) || !finite(lng) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
