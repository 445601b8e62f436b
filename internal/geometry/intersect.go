package geometry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

const (
	// maxCondition rejects normal-equation systems too ill-conditioned to
	// pin a point (near-parallel ray bundles).
	maxCondition = 1e12
)

// IntersectRays finds the point minimizing the sum of squared perpendicular
// distances to all rays. For each unit direction d the projector (I - d*dT)
// is accumulated into a 3x3 system matrix A and (I - d*dT)*origin into the
// right-hand side b; the point is the solution of A*x = b.
// Fewer than two rays, or rays parallel or coincident, fail with
// ErrUnderConstrained rather than returning a garbage point.
func IntersectRays(rays []Ray) (r3.Vec, error) {
	if len(rays) < 2 {
		return r3.Vec{}, fmt.Errorf("%d rays: %w", len(rays), ErrUnderConstrained)
	}

	a := mat.NewSymDense(3, nil)
	b := mat.NewVecDense(3, nil)

	for _, ray := range rays {
		accumulate(a, b, ray)
	}

	// A is positive definite exactly when the directions span more than a
	// single line; a failed or ill-conditioned factorization means the
	// bundle cannot pin a point.
	var chol mat.Cholesky
	if !chol.Factorize(a) {
		return r3.Vec{}, fmt.Errorf("parallel rays: %w", ErrUnderConstrained)
	}

	if chol.Cond() > maxCondition {
		return r3.Vec{}, fmt.Errorf("near-parallel rays: %w", ErrUnderConstrained)
	}

	var x mat.VecDense
	if err := chol.SolveVecTo(&x, b); err != nil {
		return r3.Vec{}, fmt.Errorf("solve normal equations: %w", ErrUnderConstrained)
	}

	p := r3.Vec{X: x.AtVec(0), Y: x.AtVec(1), Z: x.AtVec(2)}
	if !IsFinite(p) {
		return r3.Vec{}, fmt.Errorf("non-finite solution: %w", ErrUnderConstrained)
	}

	return p, nil
}

// accumulate adds one ray's projector and projected origin to the system.
func accumulate(a *mat.SymDense, b *mat.VecDense, ray Ray) {
	d := ray.Dir
	p := [3][3]float64{
		{1 - d.X*d.X, -d.X * d.Y, -d.X * d.Z},
		{-d.Y * d.X, 1 - d.Y*d.Y, -d.Y * d.Z},
		{-d.Z * d.X, -d.Z * d.Y, 1 - d.Z*d.Z},
	}
	o := [3]float64{ray.Origin.X, ray.Origin.Y, ray.Origin.Z}

	for i := 0; i < 3; i++ {
		for j := i; j < 3; j++ {
			a.SetSym(i, j, a.At(i, j)+p[i][j])
		}

		var rhs float64
		for j := 0; j < 3; j++ {
			rhs += p[i][j] * o[j]
		}
		b.SetVec(i, b.AtVec(i)+rhs)
	}
}

// Residual returns the root-mean-square perpendicular distance from p to
// the rays. Zero rays yield zero.
func Residual(p r3.Vec, rays []Ray) float64 {
	if len(rays) == 0 {
		return 0
	}

	var sum float64
	for _, ray := range rays {
		d := ray.Distance(p)
		sum += d * d
	}

	return math.Sqrt(sum / float64(len(rays)))
}
