package kb

import (
	"testing"
	"time"

	"github.com/signalsfoundry/handover-simulator/core"
	"github.com/signalsfoundry/handover-simulator/model"
)

func staticPos(p core.Vec3) core.PositionFunc {
	return func(time.Time) core.Vec3 { return p }
}

func TestStore_AddAndLookup(t *testing.T) {
	s := NewStore()

	sat := &model.Satellite{ID: "sat-1", Name: "LEO-1"}
	if err := s.AddSatellite(sat, staticPos(core.Vec3{X: 7000})); err != nil {
		t.Fatalf("AddSatellite: %v", err)
	}
	u := &model.GroundUser{ID: "u1"}
	if err := s.AddUser(u, staticPos(core.Vec3{X: core.EarthRadiusKm})); err != nil {
		t.Fatalf("AddUser: %v", err)
	}

	if got, ok := s.Satellite("sat-1"); !ok || got.Name != "LEO-1" {
		t.Errorf("Satellite lookup = %+v, %v", got, ok)
	}
	if _, ok := s.Satellite("nope"); ok {
		t.Error("unknown satellite lookup should miss")
	}
	if got, ok := s.User("u1"); !ok || got.ID != "u1" {
		t.Errorf("User lookup = %+v, %v", got, ok)
	}

	pos, ok := s.SatellitePosition("sat-1", time.Now())
	if !ok || pos.X != 7000 {
		t.Errorf("SatellitePosition = %+v, %v", pos, ok)
	}
	if _, ok := s.UserPosition("ghost", time.Now()); ok {
		t.Error("unknown user position should miss")
	}
}

func TestStore_RejectsDuplicatesAndNils(t *testing.T) {
	s := NewStore()
	sat := &model.Satellite{ID: "sat-1"}

	if err := s.AddSatellite(sat, staticPos(core.Vec3{})); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if err := s.AddSatellite(sat, staticPos(core.Vec3{})); err == nil {
		t.Error("duplicate satellite must be rejected")
	}
	if err := s.AddSatellite(&model.Satellite{}, staticPos(core.Vec3{})); err == nil {
		t.Error("empty satellite ID must be rejected")
	}
	if err := s.AddSatellite(&model.Satellite{ID: "sat-2"}, nil); err == nil {
		t.Error("nil position function must be rejected")
	}

	u := &model.GroundUser{ID: "u1"}
	if err := s.AddUser(u, staticPos(core.Vec3{})); err != nil {
		t.Fatalf("first user add: %v", err)
	}
	if err := s.AddUser(u, staticPos(core.Vec3{})); err == nil {
		t.Error("duplicate user must be rejected")
	}
}

func TestStore_IDsComeBackSorted(t *testing.T) {
	s := NewStore()
	for _, id := range []string{"sat-c", "sat-a", "sat-b"} {
		if err := s.AddSatellite(&model.Satellite{ID: id}, staticPos(core.Vec3{})); err != nil {
			t.Fatalf("AddSatellite(%s): %v", id, err)
		}
	}
	for _, id := range []string{"u2", "u1"} {
		if err := s.AddUser(&model.GroundUser{ID: id}, staticPos(core.Vec3{})); err != nil {
			t.Fatalf("AddUser(%s): %v", id, err)
		}
	}

	wantSats := []string{"sat-a", "sat-b", "sat-c"}
	gotSats := s.SatelliteIDs()
	for i := range wantSats {
		if gotSats[i] != wantSats[i] {
			t.Fatalf("SatelliteIDs = %v, want %v", gotSats, wantSats)
		}
	}
	wantUsers := []string{"u1", "u2"}
	gotUsers := s.UserIDs()
	for i := range wantUsers {
		if gotUsers[i] != wantUsers[i] {
			t.Fatalf("UserIDs = %v, want %v", gotUsers, wantUsers)
		}
	}
}

func TestStore_AttachDetachLifecycle(t *testing.T) {
	s := NewStore()
	if err := s.AddSatellite(&model.Satellite{ID: "sat-1"}, staticPos(core.Vec3{})); err != nil {
		t.Fatal(err)
	}
	if err := s.AddUser(&model.GroundUser{ID: "u1"}, staticPos(core.Vec3{})); err != nil {
		t.Fatal(err)
	}

	key := &model.SessionKey{Algorithm: "ML-KEM-768", Fingerprint: "abc"}
	if err := s.Attach("u1", "sat-1", key); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	u, _ := s.User("u1")
	if u.ServingSatelliteID != "sat-1" || u.Key != key {
		t.Errorf("after attach: serving=%q key=%+v", u.ServingSatelliteID, u.Key)
	}

	if err := s.Detach("u1"); err != nil {
		t.Fatalf("Detach: %v", err)
	}
	u, _ = s.User("u1")
	if u.ServingSatelliteID != "" || u.Key != nil {
		t.Errorf("after detach: serving=%q key=%+v", u.ServingSatelliteID, u.Key)
	}

	if err := s.Attach("ghost", "sat-1", key); err == nil {
		t.Error("attaching an unknown user must fail")
	}
	if err := s.Attach("u1", "ghost", key); err == nil {
		t.Error("attaching to an unknown satellite must fail")
	}
	if err := s.Detach("ghost"); err == nil {
		t.Error("detaching an unknown user must fail")
	}
}

func TestStore_SubscribersSeeEvents(t *testing.T) {
	s := NewStore()
	var events []Event
	s.Subscribe(func(ev Event) { events = append(events, ev) })

	if err := s.AddSatellite(&model.Satellite{ID: "sat-1"}, staticPos(core.Vec3{})); err != nil {
		t.Fatal(err)
	}
	if err := s.AddUser(&model.GroundUser{ID: "u1"}, staticPos(core.Vec3{})); err != nil {
		t.Fatal(err)
	}
	if err := s.Attach("u1", "sat-1", nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Detach("u1"); err != nil {
		t.Fatal(err)
	}

	want := []Event{
		{Type: EventSatelliteAdded, SatelliteID: "sat-1"},
		{Type: EventUserAdded, UserID: "u1"},
		{Type: EventUserAttached, UserID: "u1", SatelliteID: "sat-1"},
		{Type: EventUserDetached, UserID: "u1", SatelliteID: "sat-1"},
	}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(events), len(want), events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, events[i], want[i])
		}
	}
}
