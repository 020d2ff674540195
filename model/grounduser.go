package model

// Geodetic is a ground position in degrees/metres.
type Geodetic struct {
	LatDeg float64
	LonDeg float64
	AltM   float64
}

// GroundVelocity is a simple constant-velocity mobility description,
// expressed as degrees of latitude/longitude drift per hour.
type GroundVelocity struct {
	LatDegPerHour float64
	LonDegPerHour float64
}

// SessionKey is the key material a user holds for its serving link.
// It is replaced wholesale on a successful handover and cleared on failure.
type SessionKey struct {
	Algorithm   string
	Fingerprint string
}

// GroundUser is one terminal served by the constellation.
//
// ServingSatelliteID is a lookup reference into the constellation store,
// not ownership: the empty string means the user is in outage. Protocol
// state itself lives in the user's state machine, not here.
type GroundUser struct {
	ID       string
	Position Geodetic
	Velocity GroundVelocity

	ServingSatelliteID string
	Key                *SessionKey
}
