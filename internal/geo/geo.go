// Package geo provides great-circle distance and the delivery ETA
// heuristics. The estimates are simple linear models, documented as an
// approximation rather than a routing-engine guarantee.
package geo

import (
	"math"
	"time"
)

// earthRadiusKm is the mean Earth radius used by the Haversine formula.
const earthRadiusKm = 6371.0

// Distance returns the Haversine great-circle distance in kilometers.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// Bearing returns the initial bearing from the first point to the
// second, in degrees from north [0, 360).
func Bearing(lat1, lon1, lat2, lon2 float64) float64 {
	dLon := toRadians(lon2 - lon1)
	y := math.Sin(dLon) * math.Cos(toRadians(lat2))
	x := math.Cos(toRadians(lat1))*math.Sin(toRadians(lat2)) -
		math.Sin(toRadians(lat1))*math.Cos(toRadians(lat2))*math.Cos(dLon)
	deg := math.Mod(toDegrees(math.Atan2(y, x))+360, 360)
	return deg
}

// DeliveryEstimateMinutes converts a restaurant-to-customer distance
// into a delivery estimate: 5 minutes per km plus a 10 minute base,
// rounded up.
func DeliveryEstimateMinutes(distanceKm float64) int {
	return int(math.Ceil(distanceKm*5)) + 10
}

// ArrivalEstimate projects a courier's arrival from the current
// position: 2 minutes per remaining km, rounded up.
func ArrivalEstimate(now time.Time, distanceKm float64) time.Time {
	minutes := int(math.Ceil(distanceKm * 2))
	return now.Add(time.Duration(minutes) * time.Minute)
}

func toRadians(deg float64) float64 { return deg * math.Pi / 180 }
func toDegrees(rad float64) float64 { return rad * 180 / math.Pi }
