package consensus

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"parallax/internal/geometry"
)

// Sighting is a fully resolved bearing: a ray from a known observer
// position toward the target. Position resolution is the coordinator's
// job; the triangulator never guesses origins.
type Sighting struct {
	ObserverID string       // ObserverID identifies the witness
	Ray        geometry.Ray // Ray runs from the observer toward the target
}

// Triangulation is the geometric outcome of one solve.
type Triangulation struct {
	Position r3.Vec  // Position is the best-fit point
	Residual float64 // Residual is the RMS perpendicular distance to the rays
	Method   string  // Method names the solve used
}

// Triangulate reconstructs the best-fit target position from the sightings
// by least-squares ray intersection and reports the RMS residual.
// Fewer than two sightings or degenerate ray geometry fail with
// geometry.ErrUnderConstrained.
func Triangulate(sightings []Sighting) (Triangulation, error) {
	if len(sightings) < 2 {
		return Triangulation{}, fmt.Errorf("%d sightings: %w", len(sightings), geometry.ErrUnderConstrained)
	}

	rays := make([]geometry.Ray, len(sightings))
	for i, s := range sightings {
		rays[i] = s.Ray
	}

	pos, err := geometry.IntersectRays(rays)
	if err != nil {
		return Triangulation{}, fmt.Errorf("triangulate %d rays: %w", len(rays), err)
	}

	method := MethodLeastSquares
	if len(rays) == 2 {
		method = MethodRayPair
	}

	return Triangulation{
		Position: pos,
		Residual: geometry.Residual(pos, rays),
		Method:   method,
	}, nil
}
