package coord

import "math"

// Set is a relative move on every machine axis, in millimeters.
//
// E drives the objective turret rather than an extruder.
type Set struct{ X, Y, Z, E float64 }

func (s Set) Add(o Set) Set {
	s.X += o.X
	s.Y += o.Y
	s.Z += o.Z
	s.E += o.E
	return s
}

func (s Set) Mul(val float64) Set {
	s.X *= val
	s.Y *= val
	s.Z *= val
	s.E *= val
	return s
}

// Point drops the E axis.
func (s Set) Point() Point {
	return Point{X: s.X, Y: s.Y, Z: s.Z}
}

// Clamp limits every axis to [-limit, limit].
func (s Set) Clamp(limit float64) Set {
	s.X = clamp(s.X, -limit, limit)
	s.Y = clamp(s.Y, -limit, limit)
	s.Z = clamp(s.Z, -limit, limit)
	s.E = clamp(s.E, -limit, limit)
	return s
}

// Aggregate is the sum of the absolute travel on all axes.
func (s Set) Aggregate() float64 {
	return math.Abs(s.X) + math.Abs(s.Y) + math.Abs(s.Z) + math.Abs(s.E)
}

// Distance is the straight line length of the X, Y and Z components.
func (s Set) Distance() float64 {
	return Distance(s.X, s.Y, s.Z)
}

// Distance returns the euclidean length of a vector with any number of components.
func Distance(v ...float64) float64 {
	var sum float64
	for _, c := range v {
		sum += c * c
	}
	return math.Sqrt(sum)
}

// Lerp interpolates linearly from a to b by t.
func Lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

func clamp(v, min, max float64) float64 {
	return math.Max(min, math.Min(max, v))
}
