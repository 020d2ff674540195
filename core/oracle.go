package core

import (
	"context"
	"errors"
	"time"

	"github.com/signalsfoundry/handover-simulator/internal/logging"
	"github.com/signalsfoundry/handover-simulator/model"
)

// Sentinel errors for the visibility layer. Both are recoverable at the
// protocol layer; they surface as outcome records, never as aborts.
var (
	// ErrNotVisible reports that the pair has no line of sight at the
	// queried instant.
	ErrNotVisible = errors.New("satellite not visible from user position")
	// ErrNoCandidate reports that no satellite qualifies as a handover
	// candidate at the queried instant.
	ErrNoCandidate = errors.New("no candidate satellite")
)

// ConstellationView is the read-only slice of the constellation store the
// oracle needs. Satellite IDs must come back sorted so candidate selection
// is deterministic.
type ConstellationView interface {
	SatelliteIDs() []string
	SatellitePosition(id string, simTime time.Time) (Vec3, bool)
	UserPosition(id string, simTime time.Time) (Vec3, bool)
}

// Oracle predicts visibility windows and selects handover candidates from
// orbital geometry. It is owned by a single simulation run and is only
// called from the event-dispatch goroutine, so its prediction cache is
// unlocked by design of the concurrency model.
type Oracle struct {
	view ConstellationView
	log  logging.Logger

	// MinElevationDeg is the minimum elevation angle for a usable link.
	MinElevationDeg float64
	// SampleStep is the coarse sampling interval when scanning for the
	// visibility end. It also bounds how far ahead NextCandidate will look
	// for a satellite about to rise.
	SampleStep time.Duration
	// Horizon caps the forward scan; windows still open at the horizon are
	// reported as ending there.
	Horizon time.Duration
	// BisectTol is the bisection tolerance for the visibility-loss instant
	// and doubles as the confidence margin on reported windows.
	BisectTol time.Duration

	// lastEnd holds, per (satellite, user), the floor below which a later
	// prediction is never allowed to fall: previous end minus margin.
	lastEnd map[pairKey]time.Time
}

type pairKey struct {
	satID  string
	userID string
}

// NewOracle constructs an oracle over the given constellation view with
// the layer's defaults.
func NewOracle(view ConstellationView, log logging.Logger) *Oracle {
	if log == nil {
		log = logging.Noop()
	}
	return &Oracle{
		view:            view,
		log:             log,
		MinElevationDeg: 10.0,
		SampleStep:      5 * time.Second,
		Horizon:         2 * time.Hour,
		BisectTol:       100 * time.Millisecond,
		lastEnd:         make(map[pairKey]time.Time),
	}
}

// Visible reports whether the satellite is usable from the user's position
// at simTime: line of sight unobstructed by the Earth and elevation at or
// above the configured minimum.
func (o *Oracle) Visible(satID, userID string, simTime time.Time) bool {
	satPos, ok := o.view.SatellitePosition(satID, simTime)
	if !ok {
		return false
	}
	userPos, ok := o.view.UserPosition(userID, simTime)
	if !ok {
		return false
	}
	if !hasLineOfSight(userPos, satPos) {
		return false
	}
	return ElevationDegrees(userPos, satPos) >= o.MinElevationDeg
}

// Window predicts the remaining visibility window for (satID, userID)
// starting at from. It returns ErrNotVisible when the pair is not visible
// at from.
//
// Predictions are monotonic: for the same pair, a later call never yields
// an end earlier than a previously reported end minus its margin. A raw
// prediction that would violate this is clamped to the floor and logged,
// so lead time can never silently shrink below what was promised.
func (o *Oracle) Window(satID, userID string, from time.Time) (model.VisibilityWindow, error) {
	if !o.Visible(satID, userID, from) {
		return model.VisibilityWindow{}, ErrNotVisible
	}

	end := o.scanForEnd(satID, userID, from)

	key := pairKey{satID: satID, userID: userID}
	if floor, ok := o.lastEnd[key]; ok && end.Before(floor) {
		o.log.Warn(context.Background(), "visibility prediction shrank below promised floor; clamping",
			logging.String("satellite", satID),
			logging.String("user", userID),
			logging.String("raw_end", end.Format(time.RFC3339Nano)),
			logging.String("floor", floor.Format(time.RFC3339Nano)),
		)
		end = floor
	}
	o.lastEnd[key] = end.Add(-o.BisectTol)

	return model.VisibilityWindow{
		SatelliteID: satID,
		UserID:      userID,
		Start:       from,
		End:         end,
		Margin:      o.BisectTol,
	}, nil
}

// scanForEnd walks forward in SampleStep increments until visibility drops,
// then bisects the straddle down to BisectTol.
func (o *Oracle) scanForEnd(satID, userID string, from time.Time) time.Time {
	horizon := from.Add(o.Horizon)
	lastVisible := from

	for t := from.Add(o.SampleStep); !t.After(horizon); t = t.Add(o.SampleStep) {
		if !o.Visible(satID, userID, t) {
			return o.bisectLoss(satID, userID, lastVisible, t)
		}
		lastVisible = t
	}
	// Still visible at the horizon; report the horizon as the end rather
	// than pretending to know more.
	return horizon
}

func (o *Oracle) bisectLoss(satID, userID string, visibleAt, invisibleAt time.Time) time.Time {
	lo, hi := visibleAt, invisibleAt
	for hi.Sub(lo) > o.BisectTol {
		mid := lo.Add(hi.Sub(lo) / 2)
		if o.Visible(satID, userID, mid) {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo
}

// NextCandidate selects the handover target for the user at from: among
// satellites visible now (or rising within one sample step), the one with
// the longest remaining visibility wins; equal ends tie-break to the lower
// satellite ID. IDs in exclude are skipped. Returns ErrNoCandidate when
// nothing qualifies.
func (o *Oracle) NextCandidate(userID string, from time.Time, exclude map[string]bool) (string, model.VisibilityWindow, error) {
	var (
		bestID     string
		bestWindow model.VisibilityWindow
		found      bool
	)

	for _, satID := range o.view.SatelliteIDs() {
		if exclude[satID] {
			continue
		}
		w, err := o.Window(satID, userID, from)
		if errors.Is(err, ErrNotVisible) {
			// Soon-visible satellites within one sample step still qualify;
			// the baseline user sits in outage that long anyway and the
			// proactive user exchanged keys ahead of time.
			rise := from.Add(o.SampleStep)
			w, err = o.Window(satID, userID, rise)
			if err != nil {
				continue
			}
		} else if err != nil {
			continue
		}

		// Sorted iteration means the first satellite seen for a given end
		// time is the lowest ID, so strict inequality preserves the
		// tie-break.
		if !found || w.End.After(bestWindow.End) {
			bestID = satID
			bestWindow = w
			found = true
		}
	}

	if !found {
		return "", model.VisibilityWindow{}, ErrNoCandidate
	}
	return bestID, bestWindow, nil
}
