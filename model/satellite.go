package model

// MotionSource indicates how a satellite's motion is determined.
type MotionSource int

const (
	MotionSourceUnknown  MotionSource = iota
	MotionSourceTLE                   // SGP4 propagation from two-line elements
	MotionSourceAnalytic              // idealised circular orbit
)

// Satellite represents one spacecraft in the serving constellation.
// Orbital parameters are immutable after construction; the position is
// derived from the motion model at query time, never stored per tick.
type Satellite struct {
	ID   string
	Name string

	MotionSource MotionSource

	// TLE lines, used when MotionSource == MotionSourceTLE.
	TLELine1 string
	TLELine2 string

	// Circular-orbit elements, used when MotionSource == MotionSourceAnalytic.
	AltitudeKm     float64
	InclinationDeg float64
	RAANDeg        float64
	PhaseDeg       float64
}
