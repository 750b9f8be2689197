package geofence

import "fmt"

// ShapeKind tags the geometry variant of a geofence.
type ShapeKind string

const (
	ShapeCircle  ShapeKind = "circle"
	ShapePolygon ShapeKind = "polygon"
)

// Valid returns true when the kind is supported.
func (k ShapeKind) Valid() bool {
	switch k {
	case ShapeCircle, ShapePolygon:
		return true
	default:
		return false
	}
}

// Shape is either a circle (Center, RadiusMeters) or a polygon (Vertices).
// Fields of the other variant are ignored.
type Shape struct {
	Kind         ShapeKind `json:"kind"`
	Center       Point     `json:"center"`
	RadiusMeters float64   `json:"radius_meters,omitempty"`
	Vertices     []Point   `json:"vertices,omitempty"`
}

// NewCircle builds a circle shape.
func NewCircle(center Point, radiusMeters float64) Shape {
	return Shape{Kind: ShapeCircle, Center: center, RadiusMeters: radiusMeters}
}

// NewPolygon builds a polygon shape. A closing vertex equal to the first one is dropped.
func NewPolygon(vertices []Point) Shape {
	points := append([]Point(nil), vertices...)
	if n := len(points); n > 1 && points[0] == points[n-1] {
		points = points[:n-1]
	}
	return Shape{Kind: ShapePolygon, Vertices: points}
}

// Validate enforces radius > 0 and at least three distinct, non-collinear vertices.
func (s Shape) Validate() error {
	switch s.Kind {
	case ShapeCircle:
		if !s.Center.Valid() {
			return fmt.Errorf("%w: circle center out of range", ErrInvalidGeometry)
		}
		if !(s.RadiusMeters > 0) {
			return fmt.Errorf("%w: circle radius must be positive", ErrInvalidGeometry)
		}
		return nil
	case ShapePolygon:
		distinct := make(map[Point]struct{}, len(s.Vertices))
		for i, v := range s.Vertices {
			if !v.Valid() {
				return fmt.Errorf("%w: vertex %d out of range", ErrInvalidGeometry, i)
			}
			distinct[v] = struct{}{}
		}
		if len(distinct) < 3 {
			return fmt.Errorf("%w: polygon needs at least 3 distinct vertices", ErrInvalidGeometry)
		}
		if PolygonAreaM2(s.Vertices) == 0 {
			return fmt.Errorf("%w: polygon vertices are collinear", ErrInvalidGeometry)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown shape kind %q", ErrInvalidGeometry, s.Kind)
	}
}

// Contains reports whether p lies inside the shape.
func (s Shape) Contains(p Point) bool {
	switch s.Kind {
	case ShapeCircle:
		return CircleContains(s.Center, s.RadiusMeters, p)
	case ShapePolygon:
		return PolygonContains(s.Vertices, p)
	default:
		return false
	}
}

// AreaM2 returns the approximate area in square meters.
func (s Shape) AreaM2() float64 {
	switch s.Kind {
	case ShapeCircle:
		return CircleAreaM2(s.RadiusMeters)
	case ShapePolygon:
		return PolygonAreaM2(s.Vertices)
	default:
		return 0
	}
}

// DisplayCenter returns the circle center or the polygon vertex mean.
func (s Shape) DisplayCenter() Point {
	if s.Kind == ShapePolygon {
		return PolygonCentroid(s.Vertices)
	}
	return s.Center
}

// BoundingBox returns the extent of the shape.
func (s Shape) BoundingBox() BoundingBox {
	if s.Kind == ShapePolygon {
		return PolygonBoundingBox(s.Vertices)
	}
	return CircleBoundingBox(s.Center, s.RadiusMeters)
}
