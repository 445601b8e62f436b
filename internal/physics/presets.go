package physics

import "gonum.org/v1/gonum/spatial/r3"

// EarthMoon returns a closed two-body Earth-Moon system in the barycentric
// frame: the Earth's velocity cancels the Moon's momentum, so the net
// momentum starts at zero and must stay there.
func EarthMoon() []Body {
	const (
		earthMass = 5.972e24 // kg
		moonMass  = 7.342e22 // kg
		moonOrbit = 3.844e8  // m, mean Earth-Moon distance
		moonSpeed = 1022.0   // m/s, mean orbital speed
	)

	earthSpeed := moonSpeed * moonMass / earthMass

	return []Body{
		{
			ID:       "earth",
			Mass:     earthMass,
			Velocity: r3.Vec{Y: -earthSpeed},
		},
		{
			ID:       "moon",
			Mass:     moonMass,
			Position: r3.Vec{X: moonOrbit},
			Velocity: r3.Vec{Y: moonSpeed},
		},
	}
}
