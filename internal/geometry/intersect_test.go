package geometry

import (
	"errors"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

// mustRay builds a ray or fails the test.
func mustRay(t *testing.T, origin, dir r3.Vec) Ray {
	t.Helper()

	ray, err := NewRay(origin, dir)
	if err != nil {
		t.Fatalf("NewRay(%v, %v) failed: %v", origin, dir, err)
	}

	return ray
}

// raysToward builds one ray per origin, each pointing at the target.
func raysToward(t *testing.T, target r3.Vec, origins ...r3.Vec) []Ray {
	t.Helper()

	rays := make([]Ray, len(origins))
	for i, o := range origins {
		rays[i] = mustRay(t, o, r3.Sub(target, o))
	}

	return rays
}

func TestIntersectTwoRays(t *testing.T) {
	// Two rays whose lines genuinely cross at (10, 0, 0).
	rays := []Ray{
		mustRay(t, r3.Vec{}, r3.Vec{X: 1}),
		mustRay(t, r3.Vec{X: 10, Y: 10}, r3.Vec{Y: -1}),
	}

	p, err := IntersectRays(rays)
	if err != nil {
		t.Fatalf("IntersectRays failed: %v", err)
	}

	vecNear(t, p, r3.Vec{X: 10}, 1e-9)

	if res := Residual(p, rays); !near(res, 0, 1e-9) {
		t.Errorf("expected zero residual for crossing rays, got %g", res)
	}
}

func TestIntersectSkewRays(t *testing.T) {
	// Skew rays 2 units apart: the solution is the midpoint of the common
	// perpendicular, with RMS residual 1.
	rays := []Ray{
		mustRay(t, r3.Vec{}, r3.Vec{X: 1}),
		mustRay(t, r3.Vec{Y: 5, Z: 2}, r3.Vec{Y: 1}),
	}

	p, err := IntersectRays(rays)
	if err != nil {
		t.Fatalf("IntersectRays failed: %v", err)
	}

	vecNear(t, p, r3.Vec{Z: 1}, 1e-9)

	if res := Residual(p, rays); !near(res, 1, 1e-9) {
		t.Errorf("expected residual 1, got %g", res)
	}
}

func TestIntersectTetrahedron(t *testing.T) {
	// Four non-coplanar observers sighting a known point: the system is
	// fully determined and the residual collapses to zero.
	target := r3.Vec{X: 10, Y: 20, Z: 30}
	rays := raysToward(t, target,
		r3.Vec{},
		r3.Vec{X: 100},
		r3.Vec{Y: 100},
		r3.Vec{Z: 100},
	)

	p, err := IntersectRays(rays)
	if err != nil {
		t.Fatalf("IntersectRays failed: %v", err)
	}

	vecNear(t, p, target, 1e-6)

	if res := Residual(p, rays); !near(res, 0, 1e-6) {
		t.Errorf("expected near-zero residual, got %g", res)
	}
}

func TestIntersectNoisyRays(t *testing.T) {
	// Perturbed origins: the solve must still land near the target and the
	// residual must reflect the disagreement.
	target := r3.Vec{X: 5, Y: 5, Z: 5}
	rays := raysToward(t, target,
		r3.Vec{X: 0.3},
		r3.Vec{X: 100, Y: -0.2},
		r3.Vec{Y: 100, Z: 0.4},
		r3.Vec{Z: 100, X: -0.1},
	)

	p, err := IntersectRays(rays)
	if err != nil {
		t.Fatalf("IntersectRays failed: %v", err)
	}

	vecNear(t, p, target, 1)

	if res := Residual(p, rays); res <= 0 {
		t.Errorf("expected positive residual for noisy rays, got %g", res)
	}
}

func TestIntersectUnderConstrained(t *testing.T) {
	base := mustRay(t, r3.Vec{}, r3.Vec{Z: 1})

	tests := []struct {
		name string
		rays []Ray
	}{
		{"empty", nil},
		{"single", []Ray{base}},
		{"coincident", []Ray{base, base}},
		{"parallel", []Ray{
			base,
			mustRay(t, r3.Vec{X: 1}, r3.Vec{Z: 1}),
			mustRay(t, r3.Vec{Y: 3}, r3.Vec{Z: 1}),
		}},
	}

	for _, tt := range tests {
		_, err := IntersectRays(tt.rays)
		if !errors.Is(err, ErrUnderConstrained) {
			t.Errorf("%s: expected ErrUnderConstrained, got %v", tt.name, err)
		}
	}
}

func TestResidualEmpty(t *testing.T) {
	if res := Residual(r3.Vec{X: 1}, nil); res != 0 {
		t.Errorf("expected 0 for no rays, got %g", res)
	}
}
