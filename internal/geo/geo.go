package geo

import "math"

// EarthRadiusM is the mean Earth radius used for great-circle distances.
const EarthRadiusM = 6371000.0

// Coordinate is a WGS84 position in degrees.
type Coordinate struct {
	LatDeg float64 `json:"lat_deg" yaml:"lat_deg"`
	LonDeg float64 `json:"lon_deg" yaml:"lon_deg"`
}

// DistanceMeters returns the haversine great-circle distance between a and b.
//
// Inputs are not range-checked.
func DistanceMeters(a, b Coordinate) float64 {
	lat1 := toRad(a.LatDeg)
	lat2 := toRad(b.LatDeg)
	dLat := toRad(b.LatDeg - a.LatDeg)
	dLon := toRad(b.LonDeg - a.LonDeg)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	// Rounding can push h marginally above 1 for near-antipodal points.
	if h > 1 {
		h = 1
	}
	return 2 * EarthRadiusM * math.Asin(math.Sqrt(h))
}

// InGeofence reports whether distanceM lies within radiusM (inclusive).
func InGeofence(distanceM, radiusM float64) bool {
	return distanceM <= radiusM
}

// Offset returns the point reached by moving northM metres north and eastM
// metres east of c, using a local flat-earth approximation.
func Offset(c Coordinate, northM, eastM float64) Coordinate {
	dLat := northM / EarthRadiusM * 180 / math.Pi
	dLon := eastM / (EarthRadiusM * math.Cos(toRad(c.LatDeg))) * 180 / math.Pi
	return Coordinate{LatDeg: c.LatDeg + dLat, LonDeg: c.LonDeg + dLon}
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
