package kb

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/handover-simulator/core"
	"github.com/signalsfoundry/handover-simulator/model"
)

// EventType indicates what kind of change happened in the store.
type EventType int

const (
	EventSatelliteAdded EventType = iota
	EventUserAdded
	EventUserAttached
	EventUserDetached
)

// Event is emitted to subscribers when the constellation changes.
type Event struct {
	Type        EventType
	SatelliteID string
	UserID      string
}

// Store is an in-memory, thread-safe registry of satellites and ground
// users together with their position functions. Within one simulation run
// all mutation happens from the single event-dispatch goroutine; the lock
// exists so independent runs and metrics readers stay safe.
type Store struct {
	mu sync.RWMutex

	sats    map[string]*model.Satellite
	satPos  map[string]core.PositionFunc
	satIDs  []string // sorted, for deterministic iteration
	users   map[string]*model.GroundUser
	userPos map[string]core.PositionFunc
	userIDs []string

	subs []func(Event)
}

// NewStore constructs an empty constellation store.
func NewStore() *Store {
	return &Store{
		sats:    make(map[string]*model.Satellite),
		satPos:  make(map[string]core.PositionFunc),
		users:   make(map[string]*model.GroundUser),
		userPos: make(map[string]core.PositionFunc),
	}
}

// AddSatellite registers a satellite and its position function. It returns
// an error if the ID already exists or the position function is nil.
func (s *Store) AddSatellite(sat *model.Satellite, pos core.PositionFunc) error {
	if sat == nil || sat.ID == "" {
		return fmt.Errorf("satellite must have an ID")
	}
	if pos == nil {
		return fmt.Errorf("satellite %q has no position function", sat.ID)
	}

	s.mu.Lock()
	if _, exists := s.sats[sat.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("satellite with ID %q already exists", sat.ID)
	}
	s.sats[sat.ID] = sat
	s.satPos[sat.ID] = pos
	s.satIDs = insertSorted(s.satIDs, sat.ID)
	s.mu.Unlock()

	s.emit(Event{Type: EventSatelliteAdded, SatelliteID: sat.ID})
	return nil
}

// AddUser registers a ground user and its position function.
func (s *Store) AddUser(u *model.GroundUser, pos core.PositionFunc) error {
	if u == nil || u.ID == "" {
		return fmt.Errorf("user must have an ID")
	}
	if pos == nil {
		return fmt.Errorf("user %q has no position function", u.ID)
	}

	s.mu.Lock()
	if _, exists := s.users[u.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("user with ID %q already exists", u.ID)
	}
	s.users[u.ID] = u
	s.userPos[u.ID] = pos
	s.userIDs = insertSorted(s.userIDs, u.ID)
	s.mu.Unlock()

	s.emit(Event{Type: EventUserAdded, UserID: u.ID})
	return nil
}

// Satellite returns the satellite with the given ID, if present.
func (s *Store) Satellite(id string) (*model.Satellite, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sat, ok := s.sats[id]
	return sat, ok
}

// User returns the user with the given ID, if present.
func (s *Store) User(id string) (*model.GroundUser, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok
}

// SatelliteIDs returns all satellite IDs in sorted order.
func (s *Store) SatelliteIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.satIDs...)
}

// UserIDs returns all user IDs in sorted order.
func (s *Store) UserIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.userIDs...)
}

// SatellitePosition evaluates a satellite's position at simTime.
func (s *Store) SatellitePosition(id string, simTime time.Time) (core.Vec3, bool) {
	s.mu.RLock()
	pos, ok := s.satPos[id]
	s.mu.RUnlock()
	if !ok {
		return core.Vec3{}, false
	}
	return pos(simTime), true
}

// UserPosition evaluates a user's position at simTime.
func (s *Store) UserPosition(id string, simTime time.Time) (core.Vec3, bool) {
	s.mu.RLock()
	pos, ok := s.userPos[id]
	s.mu.RUnlock()
	if !ok {
		return core.Vec3{}, false
	}
	return pos(simTime), true
}

// Attach records that the user is now served by the given satellite and
// holds the given session key.
func (s *Store) Attach(userID, satelliteID string, key *model.SessionKey) error {
	s.mu.Lock()
	u, ok := s.users[userID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("unknown user %q", userID)
	}
	if _, ok := s.sats[satelliteID]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("unknown satellite %q", satelliteID)
	}
	u.ServingSatelliteID = satelliteID
	u.Key = key
	s.mu.Unlock()

	s.emit(Event{Type: EventUserAttached, UserID: userID, SatelliteID: satelliteID})
	return nil
}

// Detach clears the user's serving satellite and key material.
func (s *Store) Detach(userID string) error {
	s.mu.Lock()
	u, ok := s.users[userID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("unknown user %q", userID)
	}
	prev := u.ServingSatelliteID
	u.ServingSatelliteID = ""
	u.Key = nil
	s.mu.Unlock()

	s.emit(Event{Type: EventUserDetached, UserID: userID, SatelliteID: prev})
	return nil
}

// Subscribe registers a callback invoked on every store event. Subscribers
// must be registered before the simulation starts.
func (s *Store) Subscribe(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

func (s *Store) emit(ev Event) {
	s.mu.RLock()
	subs := append([]func(Event){}, s.subs...)
	s.mu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}

func insertSorted(ids []string, id string) []string {
	idx := sort.SearchStrings(ids, id)
	ids = append(ids, "")
	copy(ids[idx+1:], ids[idx:])
	ids[idx] = id
	return ids
}
