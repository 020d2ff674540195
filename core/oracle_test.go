package core

import (
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/signalsfoundry/handover-simulator/internal/logging"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// scriptedView serves position functions directly, bypassing orbital
// mechanics so the tests control visibility exactly.
type scriptedView struct {
	sats  map[string]PositionFunc
	users map[string]PositionFunc
}

func (v *scriptedView) SatelliteIDs() []string {
	ids := make([]string, 0, len(v.sats))
	for id := range v.sats {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (v *scriptedView) SatellitePosition(id string, simTime time.Time) (Vec3, bool) {
	f, ok := v.sats[id]
	if !ok {
		return Vec3{}, false
	}
	return f(simTime), true
}

func (v *scriptedView) UserPosition(id string, simTime time.Time) (Vec3, bool) {
	f, ok := v.users[id]
	if !ok {
		return Vec3{}, false
	}
	return f(simTime), true
}

func fixed(p Vec3) PositionFunc {
	return func(time.Time) Vec3 { return p }
}

var (
	surfacePoint = Vec3{X: EarthRadiusKm, Y: 0, Z: 0}
	overhead     = Vec3{X: EarthRadiusKm + 550, Y: 0, Z: 0}
	antipodal    = Vec3{X: -(EarthRadiusKm + 550), Y: 0, Z: 0}
)

// settingSat is overhead until cutoff, then jumps behind the Earth.
func settingSat(cutoff time.Time) PositionFunc {
	return func(t time.Time) Vec3 {
		if t.Before(cutoff) {
			return overhead
		}
		return antipodal
	}
}

func newTestOracle(view *scriptedView) *Oracle {
	return NewOracle(view, logging.Noop())
}

func TestOracle_Visible(t *testing.T) {
	view := &scriptedView{
		sats: map[string]PositionFunc{
			"sat-up":  fixed(overhead),
			"sat-far": fixed(antipodal),
		},
		users: map[string]PositionFunc{"u1": fixed(surfacePoint)},
	}
	o := newTestOracle(view)

	if !o.Visible("sat-up", "u1", epoch) {
		t.Error("zenith satellite should be visible")
	}
	if o.Visible("sat-far", "u1", epoch) {
		t.Error("antipodal satellite should be blocked by the Earth")
	}
	if o.Visible("sat-up", "nobody", epoch) {
		t.Error("unknown user should never see anything")
	}
	if o.Visible("ghost", "u1", epoch) {
		t.Error("unknown satellite should never be visible")
	}
}

func TestOracle_WindowEndsAtVisibilityLoss(t *testing.T) {
	cutoff := epoch.Add(100 * time.Second)
	view := &scriptedView{
		sats:  map[string]PositionFunc{"sat-a": settingSat(cutoff)},
		users: map[string]PositionFunc{"u1": fixed(surfacePoint)},
	}
	o := newTestOracle(view)

	w, err := o.Window("sat-a", "u1", epoch)
	if err != nil {
		t.Fatalf("Window: %v", err)
	}
	if !w.Start.Equal(epoch) {
		t.Errorf("Start = %s, want the query time", w.Start)
	}
	// Bisection lands within BisectTol below the true loss instant.
	if w.End.After(cutoff) || w.End.Before(cutoff.Add(-time.Second)) {
		t.Errorf("End = %s, want within 1s below %s", w.End, cutoff)
	}
	if w.Margin != o.BisectTol {
		t.Errorf("Margin = %s, want BisectTol %s", w.Margin, o.BisectTol)
	}
}

func TestOracle_WindowNotVisible(t *testing.T) {
	view := &scriptedView{
		sats:  map[string]PositionFunc{"sat-a": fixed(antipodal)},
		users: map[string]PositionFunc{"u1": fixed(surfacePoint)},
	}
	o := newTestOracle(view)

	_, err := o.Window("sat-a", "u1", epoch)
	if !errors.Is(err, ErrNotVisible) {
		t.Fatalf("err = %v, want ErrNotVisible", err)
	}
}

func TestOracle_WindowStillOpenAtHorizon(t *testing.T) {
	view := &scriptedView{
		sats:  map[string]PositionFunc{"sat-a": fixed(overhead)},
		users: map[string]PositionFunc{"u1": fixed(surfacePoint)},
	}
	o := newTestOracle(view)
	o.Horizon = 10 * time.Minute

	w, err := o.Window("sat-a", "u1", epoch)
	if err != nil {
		t.Fatalf("Window: %v", err)
	}
	if !w.End.Equal(epoch.Add(10 * time.Minute)) {
		t.Errorf("End = %s, want the horizon %s", w.End, epoch.Add(10*time.Minute))
	}
}

func TestOracle_PredictionsNeverShrinkBelowPromise(t *testing.T) {
	// A mutable cutoff simulates a prediction that would shrink between
	// calls, which the oracle must clamp to its earlier promise.
	cutoff := epoch.Add(100 * time.Second)
	view := &scriptedView{
		sats: map[string]PositionFunc{"sat-a": func(t time.Time) Vec3 {
			if t.Before(cutoff) {
				return overhead
			}
			return antipodal
		}},
		users: map[string]PositionFunc{"u1": fixed(surfacePoint)},
	}
	o := newTestOracle(view)

	first, err := o.Window("sat-a", "u1", epoch)
	if err != nil {
		t.Fatalf("first Window: %v", err)
	}

	cutoff = epoch.Add(50 * time.Second)
	second, err := o.Window("sat-a", "u1", epoch)
	if err != nil {
		t.Fatalf("second Window: %v", err)
	}

	floor := first.End.Add(-o.BisectTol)
	if second.End.Before(floor) {
		t.Errorf("second End = %s fell below the promised floor %s", second.End, floor)
	}
}

func TestOracle_NextCandidatePrefersLongestWindow(t *testing.T) {
	view := &scriptedView{
		sats: map[string]PositionFunc{
			"sat-short": settingSat(epoch.Add(60 * time.Second)),
			"sat-long":  settingSat(epoch.Add(600 * time.Second)),
		},
		users: map[string]PositionFunc{"u1": fixed(surfacePoint)},
	}
	o := newTestOracle(view)

	id, w, err := o.NextCandidate("u1", epoch, nil)
	if err != nil {
		t.Fatalf("NextCandidate: %v", err)
	}
	if id != "sat-long" {
		t.Errorf("candidate = %q, want sat-long", id)
	}
	if w.End.Before(epoch.Add(590 * time.Second)) {
		t.Errorf("window end = %s, want near 600s", w.End)
	}
}

func TestOracle_NextCandidateTieBreaksToLowerID(t *testing.T) {
	// Both stay visible through the horizon, so their reported ends are
	// identical.
	view := &scriptedView{
		sats: map[string]PositionFunc{
			"sat-b": fixed(overhead),
			"sat-a": fixed(overhead),
		},
		users: map[string]PositionFunc{"u1": fixed(surfacePoint)},
	}
	o := newTestOracle(view)
	o.Horizon = time.Minute

	id, _, err := o.NextCandidate("u1", epoch, nil)
	if err != nil {
		t.Fatalf("NextCandidate: %v", err)
	}
	if id != "sat-a" {
		t.Errorf("candidate = %q, want the lexicographically lower sat-a", id)
	}
}

func TestOracle_NextCandidateHonoursExclusions(t *testing.T) {
	view := &scriptedView{
		sats: map[string]PositionFunc{
			"sat-a": fixed(overhead),
			"sat-b": fixed(overhead),
		},
		users: map[string]PositionFunc{"u1": fixed(surfacePoint)},
	}
	o := newTestOracle(view)
	o.Horizon = time.Minute

	id, _, err := o.NextCandidate("u1", epoch, map[string]bool{"sat-a": true})
	if err != nil {
		t.Fatalf("NextCandidate: %v", err)
	}
	if id != "sat-b" {
		t.Errorf("candidate = %q, want sat-b with sat-a excluded", id)
	}

	_, _, err = o.NextCandidate("u1", epoch, map[string]bool{"sat-a": true, "sat-b": true})
	if !errors.Is(err, ErrNoCandidate) {
		t.Fatalf("err = %v, want ErrNoCandidate with everything excluded", err)
	}
}

func TestOracle_NextCandidateAcceptsSoonVisibleSatellite(t *testing.T) {
	rise := epoch.Add(5 * time.Second) // exactly one sample step out
	view := &scriptedView{
		sats: map[string]PositionFunc{"sat-a": func(t time.Time) Vec3 {
			if t.Before(rise) {
				return antipodal
			}
			return overhead
		}},
		users: map[string]PositionFunc{"u1": fixed(surfacePoint)},
	}
	o := newTestOracle(view)
	o.Horizon = time.Minute

	id, _, err := o.NextCandidate("u1", epoch, nil)
	if err != nil {
		t.Fatalf("NextCandidate: %v", err)
	}
	if id != "sat-a" {
		t.Errorf("candidate = %q, want the soon-visible sat-a", id)
	}
}

func TestOracle_ZeroAltitudeUserGetsCandidate(t *testing.T) {
	// A user with no altitude sits exactly on the Earth sphere; the
	// surface point itself must not count as an obstruction.
	ground := GeodeticToECEF(0, 0, 0)
	sat := GeodeticToECEF(0, 0, 550_000)
	view := &scriptedView{
		sats:  map[string]PositionFunc{"sat-a": fixed(sat)},
		users: map[string]PositionFunc{"u1": fixed(ground)},
	}
	o := newTestOracle(view)
	o.Horizon = time.Minute

	if !o.Visible("sat-a", "u1", epoch) {
		t.Fatal("zenith satellite should be visible from a zero-altitude user")
	}
	id, _, err := o.NextCandidate("u1", epoch, nil)
	if err != nil {
		t.Fatalf("NextCandidate: %v", err)
	}
	if id != "sat-a" {
		t.Errorf("candidate = %q, want sat-a", id)
	}
}

func TestOracle_NextCandidateNone(t *testing.T) {
	view := &scriptedView{
		sats:  map[string]PositionFunc{"sat-a": fixed(antipodal)},
		users: map[string]PositionFunc{"u1": fixed(surfacePoint)},
	}
	o := newTestOracle(view)

	_, _, err := o.NextCandidate("u1", epoch, nil)
	if !errors.Is(err, ErrNoCandidate) {
		t.Fatalf("err = %v, want ErrNoCandidate", err)
	}
}
