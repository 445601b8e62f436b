package geometry

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

const (
	// zeroTol is the squared-norm threshold below which a vector counts as zero.
	zeroTol = 1e-12
)

// IsFinite reports whether all components of v are finite numbers.
func IsFinite(v r3.Vec) bool {
	return isFinite(v.X) && isFinite(v.Y) && isFinite(v.Z)
}

// isFinite reports whether f is neither NaN nor infinite.
func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Unit returns the unit vector colinear to v.
// Returns false when v is the zero vector or has non-finite components.
func Unit(v r3.Vec) (r3.Vec, bool) {
	if !IsFinite(v) {
		return r3.Vec{}, false
	}

	n := r3.Norm(v)
	if n*n < zeroTol {
		return r3.Vec{}, false
	}

	return r3.Scale(1/n, v), true
}

// FromArray converts a wire-form [x, y, z] array to a vector.
func FromArray(a [3]float64) r3.Vec {
	return r3.Vec{X: a[0], Y: a[1], Z: a[2]}
}

// ToArray converts a vector to its wire form.
func ToArray(v r3.Vec) [3]float64 {
	return [3]float64{v.X, v.Y, v.Z}
}
