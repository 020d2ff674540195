package model

import "time"

// VisibilityWindow is the predicted interval during which a user has
// line-of-sight to a satellite. Windows are values: a fresh prediction
// supersedes an older one, nothing is mutated in place.
type VisibilityWindow struct {
	SatelliteID string
	UserID      string

	Start time.Time
	// End is the predicted visibility-loss instant. The true loss time lies
	// within Margin of End.
	End    time.Time
	Margin time.Duration
}

// Remaining returns the predicted visible duration left at t, or zero if
// the window has already closed.
func (w VisibilityWindow) Remaining(t time.Time) time.Duration {
	if !t.Before(w.End) {
		return 0
	}
	return w.End.Sub(t)
}
