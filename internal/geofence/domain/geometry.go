package geofence

import "math"

const (
	// EarthRadiusMeters is the mean Earth radius used for great-circle distance.
	EarthRadiusMeters = 6371000.0
	// MetersPerDegree is the planar degree-to-meter factor used for polygon area.
	// It is only accurate near the equator and for small regions; stored analytics
	// depend on it, so it is applied unchanged in both axes.
	MetersPerDegree = 111320.0

	boundaryEpsilon = 1e-12
)

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// Valid reports whether the coordinate lies within [-90,90] x [-180,180].
func (p Point) Valid() bool {
	if math.IsNaN(p.Latitude) || math.IsNaN(p.Longitude) {
		return false
	}
	return p.Latitude >= -90 && p.Latitude <= 90 &&
		p.Longitude >= -180 && p.Longitude <= 180
}

// BoundingBox is an axis-aligned box in degrees.
type BoundingBox struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLng float64 `json:"max_lng"`
}

// Contains reports whether p lies inside or on the box.
func (b BoundingBox) Contains(p Point) bool {
	return p.Latitude >= b.MinLat && p.Latitude <= b.MaxLat &&
		p.Longitude >= b.MinLng && p.Longitude <= b.MaxLng
}

// DistanceMeters returns the haversine great-circle distance between two points.
func DistanceMeters(a, b Point) float64 {
	if a == b {
		return 0
	}
	lat1 := toRadians(a.Latitude)
	lat2 := toRadians(b.Latitude)
	dLat := lat2 - lat1
	dLng := toRadians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return EarthRadiusMeters * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// CircleContains reports whether point lies within radiusMeters of center.
// A point exactly on the radius is inside.
func CircleContains(center Point, radiusMeters float64, point Point) bool {
	if radiusMeters <= 0 {
		return false
	}
	return DistanceMeters(center, point) <= radiusMeters
}

// PolygonContains runs a ray-casting parity test. Points on an edge or vertex
// are outside.
func PolygonContains(vertices []Point, point Point) bool {
	if len(vertices) < 3 {
		return false
	}
	if !PolygonBoundingBox(vertices).Contains(point) {
		return false
	}

	n := len(vertices)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		if onSegment(point, vertices[j], vertices[i]) {
			return false
		}
	}

	x, y := point.Longitude, point.Latitude
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := vertices[i].Longitude, vertices[i].Latitude
		xj, yj := vertices[j].Longitude, vertices[j].Latitude
		if (yi > y) != (yj > y) {
			// yi != yj here, so the division is safe.
			crossX := (xj-xi)*(y-yi)/(yj-yi) + xi
			if x < crossX {
				inside = !inside
			}
		}
	}
	return inside
}

// PolygonCentroid returns the arithmetic mean of the vertices. It is a visual
// center for display, not the area-weighted centroid.
func PolygonCentroid(vertices []Point) Point {
	if len(vertices) == 0 {
		return Point{}
	}
	var sumLat, sumLng float64
	for _, v := range vertices {
		sumLat += v.Latitude
		sumLng += v.Longitude
	}
	n := float64(len(vertices))
	return Point{Latitude: sumLat / n, Longitude: sumLng / n}
}

// PolygonAreaM2 applies the shoelace formula to raw degrees and scales both
// axes by MetersPerDegree. The result is approximate.
func PolygonAreaM2(vertices []Point) float64 {
	if len(vertices) < 3 {
		return 0
	}
	var sum float64
	n := len(vertices)
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += vertices[i].Longitude*vertices[j].Latitude - vertices[j].Longitude*vertices[i].Latitude
	}
	return math.Abs(sum) / 2 * MetersPerDegree * MetersPerDegree
}

// CircleAreaM2 returns pi*r^2.
func CircleAreaM2(radiusMeters float64) float64 {
	if radiusMeters <= 0 {
		return 0
	}
	return math.Pi * radiusMeters * radiusMeters
}

// PolygonBoundingBox returns the extent of the vertices.
func PolygonBoundingBox(vertices []Point) BoundingBox {
	if len(vertices) == 0 {
		return BoundingBox{}
	}
	box := BoundingBox{
		MinLat: vertices[0].Latitude,
		MaxLat: vertices[0].Latitude,
		MinLng: vertices[0].Longitude,
		MaxLng: vertices[0].Longitude,
	}
	for _, v := range vertices[1:] {
		box.MinLat = math.Min(box.MinLat, v.Latitude)
		box.MaxLat = math.Max(box.MaxLat, v.Latitude)
		box.MinLng = math.Min(box.MinLng, v.Longitude)
		box.MaxLng = math.Max(box.MaxLng, v.Longitude)
	}
	return box
}

// CircleBoundingBox approximates the extent of a circle with the planar factor.
func CircleBoundingBox(center Point, radiusMeters float64) BoundingBox {
	dLat := radiusMeters / MetersPerDegree
	dLng := dLat
	if c := math.Cos(toRadians(center.Latitude)); c > boundaryEpsilon {
		dLng = dLat / c
	}
	return BoundingBox{
		MinLat: center.Latitude - dLat,
		MaxLat: center.Latitude + dLat,
		MinLng: center.Longitude - dLng,
		MaxLng: center.Longitude + dLng,
	}
}

func onSegment(p, a, b Point) bool {
	cross := (b.Longitude-a.Longitude)*(p.Latitude-a.Latitude) - (b.Latitude-a.Latitude)*(p.Longitude-a.Longitude)
	if math.Abs(cross) > boundaryEpsilon {
		return false
	}
	return p.Longitude >= math.Min(a.Longitude, b.Longitude)-boundaryEpsilon &&
		p.Longitude <= math.Max(a.Longitude, b.Longitude)+boundaryEpsilon &&
		p.Latitude >= math.Min(a.Latitude, b.Latitude)-boundaryEpsilon &&
		p.Latitude <= math.Max(a.Latitude, b.Latitude)+boundaryEpsilon
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
