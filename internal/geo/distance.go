package geo

import "math"

const earthRadiusMeters = 6371000.0

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

// boundingBox returns the lat/lng box enclosing a circle of radius meters.
// ok is false when the box crosses a pole or the antimeridian.
func boundingBox(lat, lng, radius float64) (minLat, maxLat, minLng, maxLng float64, ok bool) {
	d := radius / earthRadiusMeters
	dLat := d * 180 / math.Pi
	minLat, maxLat = lat-dLat, lat+dLat
	if minLat < -90 || maxLat > 90 {
		return 0, 0, 0, 0, false
	}
	// widest longitude reached by the circle, at the tangent meridians
	x := math.Sin(d) / math.Cos(lat*math.Pi/180)
	if x >= 1 {
		return 0, 0, 0, 0, false
	}
	dLng := math.Asin(x) * 180 / math.Pi
	minLng, maxLng = lng-dLng, lng+dLng
	if minLng < -180 || maxLng > 180 {
		return 0, 0, 0, 0, false
	}
	return minLat, maxLat, minLng, maxLng, true
}

// ValidCoordinate reports whether lat/lng are finite WGS-84 values.
func ValidCoordinate(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}
