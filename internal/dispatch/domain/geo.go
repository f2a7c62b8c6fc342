package domain

import "math"

// EarthRadiusMiles matches the statute-mile radius used to convert search
// radii to angular distance.
const EarthRadiusMiles = 3963.2

// DistanceMiles returns the great-circle distance between two points using
// the haversine formula.
func DistanceMiles(a, b GeoPoint) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dlat := toRadians(b.Lat - a.Lat)
	dlon := toRadians(b.Lng - a.Lng)

	sinDlat := math.Sin(dlat / 2)
	sinDlon := math.Sin(dlon / 2)
	h := sinDlat*sinDlat + math.Cos(lat1)*math.Cos(lat2)*sinDlon*sinDlon
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMiles * c
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
