// Package focusmap keeps a slide in focus while the stage travels.
//
// In-focus heights are recorded at a few stage positions; between them the
// focal plane is interpolated over a Delaunay triangulation.
package focusmap

import (
	"errors"
	"math"
	"sync"

	"github.com/fogleman/delaunay"

	"github.com/nsfm/noskop/coord"
)

// Map collects focus points and answers focal heights.
type Map struct {
	mx     sync.RWMutex
	points []coord.Point

	// focal plane, nil until 3 usable points are recorded
	plane    []coord.Triangle
	min, max coord.Point
}

func New() *Map {
	return &Map{}
}

// Record adds p to the map, replacing any point with the same XY. The
// surface is rebuilt once there are at least 3 points; if the points are
// degenerate (e.g. collinear) the previous surface is kept and the error
// returned.
func (m *Map) Record(p coord.Point) error {
	m.mx.Lock()
	defer m.mx.Unlock()

	replaced := false
	for i, old := range m.points {
		if old.X == p.X && old.Y == p.Y {
			m.points[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		m.points = append(m.points, p)
	}
	if len(m.points) < 3 {
		return nil
	}

	plane, err := triangulate(m.points)
	if err != nil {
		return err
	}
	m.plane = plane
	m.min, m.max = bounds(m.points)
	return nil
}

// triangulate spans the focal plane over the XY projection of points.
func triangulate(points []coord.Point) ([]coord.Triangle, error) {
	flat := make([]delaunay.Point, len(points))
	for i, p := range points {
		flat[i] = delaunay.Point{X: p.X, Y: p.Y}
	}
	tri, err := delaunay.Triangulate(flat)
	if err != nil {
		return nil, err
	}
	if len(tri.Triangles) == 0 {
		return nil, errors.New("focus points do not span a plane")
	}

	// indices refer to the input order
	plane := make([]coord.Triangle, 0, len(tri.Triangles)/3)
	for i := 0; i+2 < len(tri.Triangles); i += 3 {
		plane = append(plane, coord.Triangle{
			A: points[tri.Triangles[i]],
			B: points[tri.Triangles[i+1]],
			C: points[tri.Triangles[i+2]],
		})
	}
	return plane, nil
}

// bounds returns the XY box around points, padded by coord.Epsilon.
func bounds(points []coord.Point) (min, max coord.Point) {
	min = coord.Point{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(-1)}
	max = coord.Point{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(1)}
	for _, p := range points {
		min.X = math.Min(min.X, p.X-coord.Epsilon)
		min.Y = math.Min(min.Y, p.Y-coord.Epsilon)
		max.X = math.Max(max.X, p.X+coord.Epsilon)
		max.Y = math.Max(max.Y, p.Y+coord.Epsilon)
	}
	return min, max
}

// OffsetZ returns the focal height at x,y if it lies within the recorded area.
func (m *Map) OffsetZ(x, y float64) (bool, float64) {
	m.mx.RLock()
	defer m.mx.RUnlock()

	if m.plane == nil || !(coord.Point{X: x, Y: y}).Within(m.min, m.max) {
		return false, 0
	}
	for _, t := range m.plane {
		if t.ContainsXY(x, y) {
			return true, t.Z(x, y)
		}
	}
	return false, 0
}

// Correction is the Z travel needed to stay in focus moving from one XY to
// another. It is zero unless both ends lie on the surface.
func (m *Map) Correction(from, to coord.Point) float64 {
	ok, a := m.OffsetZ(from.X, from.Y)
	if !ok {
		return 0
	}
	ok, b := m.OffsetZ(to.X, to.Y)
	if !ok {
		return 0
	}
	return b - a
}

// Points returns a copy of the recorded points.
func (m *Map) Points() []coord.Point {
	m.mx.RLock()
	defer m.mx.RUnlock()
	return append([]coord.Point(nil), m.points...)
}

// Clear forgets every point.
func (m *Map) Clear() {
	m.mx.Lock()
	defer m.mx.Unlock()
	m.points = nil
	m.plane = nil
}
