package core

import (
	"math"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/handover-simulator/model"
)

// PositionFunc returns an ECEF position (kilometres) at the given
// simulation time. Satellites and users are both represented this way so
// the visibility layer never cares how motion is produced.
type PositionFunc func(simTime time.Time) Vec3

// NewSatellitePositionFunc builds a position function for the satellite's
// declared motion source. TLE satellites use SGP4; analytic satellites use
// an idealised circular orbit. Unknown sources pin the satellite at the
// sub-zero point, which keeps degenerate scenarios harmless.
func NewSatellitePositionFunc(sat *model.Satellite, epoch time.Time) PositionFunc {
	switch sat.MotionSource {
	case model.MotionSourceTLE:
		return newSGP4PositionFunc(sat.TLELine1, sat.TLELine2)
	case model.MotionSourceAnalytic:
		return newCircularOrbitFunc(sat, epoch)
	default:
		return func(time.Time) Vec3 { return Vec3{X: EarthRadiusKm} }
	}
}

// newSGP4PositionFunc propagates a TLE with SGP4 and converts ECI to ECEF.
// go-satellite works in kilometres throughout.
func newSGP4PositionFunc(line1, line2 string) PositionFunc {
	sat := satellite.TLEToSat(line1, line2, satellite.GravityWGS72)
	return func(simTime time.Time) Vec3 {
		year, month, day := simTime.Date()
		hour, min, sec := simTime.Clock()

		posECI, _ := satellite.Propagate(sat, year, int(month), day, hour, min, sec)
		jd := satellite.JDay(year, int(month), day, hour, min, sec)
		gmst := satellite.ThetaG_JD(jd)
		posECEF := satellite.ECIToECEF(posECI, gmst)

		return Vec3{X: posECEF.X, Y: posECEF.Y, Z: posECEF.Z}
	}
}

// newCircularOrbitFunc models an idealised circular orbit from altitude,
// inclination, RAAN, and phase. Period follows from Kepler's third law.
// Earth rotation is deliberately ignored for the analytic model; it exists
// for synthetic constellations where repeatable geometry matters more than
// fidelity.
func newCircularOrbitFunc(sat *model.Satellite, epoch time.Time) PositionFunc {
	const muKm3PerS2 = 398600.4418

	r := EarthRadiusKm + sat.AltitudeKm
	period := 2 * math.Pi * math.Sqrt(r*r*r/muKm3PerS2) // seconds

	inc := sat.InclinationDeg * math.Pi / 180.0
	raan := sat.RAANDeg * math.Pi / 180.0
	phase0 := sat.PhaseDeg * math.Pi / 180.0

	return func(simTime time.Time) Vec3 {
		theta := phase0 + 2*math.Pi*simTime.Sub(epoch).Seconds()/period

		// Position in the orbital plane, then rotate by inclination and RAAN.
		xo := r * math.Cos(theta)
		yo := r * math.Sin(theta)

		x1 := xo
		y1 := yo * math.Cos(inc)
		z1 := yo * math.Sin(inc)

		return Vec3{
			X: x1*math.Cos(raan) - y1*math.Sin(raan),
			Y: x1*math.Sin(raan) + y1*math.Cos(raan),
			Z: z1,
		}
	}
}

// NewUserPositionFunc builds a position function for a ground user. Static
// users stay put; users with a velocity drift linearly in latitude and
// longitude from the epoch.
func NewUserPositionFunc(user *model.GroundUser, epoch time.Time) PositionFunc {
	pos := user.Position
	vel := user.Velocity
	if vel.LatDegPerHour == 0 && vel.LonDegPerHour == 0 {
		fixed := GeodeticToECEF(pos.LatDeg, pos.LonDeg, pos.AltM)
		return func(time.Time) Vec3 { return fixed }
	}
	return func(simTime time.Time) Vec3 {
		hours := simTime.Sub(epoch).Hours()
		return GeodeticToECEF(
			pos.LatDeg+vel.LatDegPerHour*hours,
			pos.LonDeg+vel.LonDegPerHour*hours,
			pos.AltM,
		)
	}
}
