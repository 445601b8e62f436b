package geometry

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrUnderConstrained signals degenerate ray geometry: fewer than two rays,
// or rays so close to parallel that no point is pinned in space.
var ErrUnderConstrained = errors.New("under-constrained geometry")

// Ray is a half-line in world space. Dir is always unit length.
type Ray struct {
	Origin r3.Vec // Origin is the point the ray starts from
	Dir    r3.Vec // Dir is the unit direction of sight
}

// NewRay builds a ray from an origin and a direction of any length.
// The direction is normalized; zero or non-finite inputs are rejected.
func NewRay(origin, dir r3.Vec) (Ray, error) {
	if !IsFinite(origin) {
		return Ray{}, fmt.Errorf("non-finite ray origin")
	}

	unit, ok := Unit(dir)
	if !ok {
		return Ray{}, fmt.Errorf("non-normalizable ray direction")
	}

	return Ray{Origin: origin, Dir: unit}, nil
}

// At returns the point at parameter t along the ray.
func (r Ray) At(t float64) r3.Vec {
	return r3.Add(r.Origin, r3.Scale(t, r.Dir))
}

// Distance returns the perpendicular distance from p to the ray's line.
func (r Ray) Distance(p r3.Vec) float64 {
	w := r3.Sub(p, r.Origin)
	along := r3.Scale(r3.Dot(w, r.Dir), r.Dir)

	return r3.Norm(r3.Sub(w, along))
}
