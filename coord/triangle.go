package coord

import (
	"math"
)

const (
	// Epsilon is the max error when checking containment.
	Epsilon   = 0.001
	epsilonSq = Epsilon * Epsilon
)

type Triangle struct{ A, B, C Point }

// ContainsXY returns true if the 2D projection of the triangle
// has the point x,y, within Epsilon of an edge.
func (t Triangle) ContainsXY(x, y float64) bool {
	p := Point{X: x, Y: y}
	if !t.boundsXY(p) {
		return false
	}
	if side(t.A, t.B, p) >= 0 && side(t.B, t.C, p) >= 0 && side(t.C, t.A, p) >= 0 {
		return true
	}
	if side(t.A, t.B, p) <= 0 && side(t.B, t.C, p) <= 0 && side(t.C, t.A, p) <= 0 {
		return true
	}

	return segmentDistanceSq(t.A, t.B, p) <= epsilonSq ||
		segmentDistanceSq(t.B, t.C, p) <= epsilonSq ||
		segmentDistanceSq(t.C, t.A, p) <= epsilonSq
}

// Z will give the Z-coordinate on the plane defined by the triangle
// where it intersects x,y.
func (t Triangle) Z(x, y float64) float64 {
	n := t.C.Sub(t.A).Cross(t.B.Sub(t.A))
	d := n.Dot(t.C)

	return (d - n.X*x - n.Y*y) / n.Z
}

func (t Triangle) boundsXY(p Point) bool {
	xMin := math.Min(t.A.X, math.Min(t.B.X, t.C.X)) - Epsilon
	xMax := math.Max(t.A.X, math.Max(t.B.X, t.C.X)) + Epsilon
	yMin := math.Min(t.A.Y, math.Min(t.B.Y, t.C.Y)) - Epsilon
	yMax := math.Max(t.A.Y, math.Max(t.B.Y, t.C.Y)) + Epsilon

	return p.X >= xMin && p.X <= xMax && p.Y >= yMin && p.Y <= yMax
}

// side is positive when p is left of the edge a->b.
func side(a, b, p Point) float64 {
	return (b.Y-a.Y)*(p.X-a.X) + (a.X-b.X)*(p.Y-a.Y)
}

// adapted from https://totologic.blogspot.com/2014/01/accurate-point-in-triangle-test.html
func segmentDistanceSq(a, b, p Point) float64 {
	lenSq := (b.X-a.X)*(b.X-a.X) + (b.Y-a.Y)*(b.Y-a.Y)
	dot := ((p.X-a.X)*(b.X-a.X) + (p.Y-a.Y)*(b.Y-a.Y)) / lenSq
	switch {
	case dot < 0:
		return (p.X-a.X)*(p.X-a.X) + (p.Y-a.Y)*(p.Y-a.Y)
	case dot <= 1:
		apSq := (a.X-p.X)*(a.X-p.X) + (a.Y-p.Y)*(a.Y-p.Y)
		return apSq - dot*dot*lenSq
	}
	return (p.X-b.X)*(p.X-b.X) + (p.Y-b.Y)*(p.Y-b.Y)
}
