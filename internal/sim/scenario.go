package sim

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"

	"github.com/signalsfoundry/handover-simulator/core"
	"github.com/signalsfoundry/handover-simulator/internal/config"
	"github.com/signalsfoundry/handover-simulator/kb"
	"github.com/signalsfoundry/handover-simulator/model"
)

// Scenario summarises what was loaded into the store, mainly for logging
// from main().
type Scenario struct {
	SatelliteIDs []string
	UserIDs      []string
}

// internal JSON shapes, unexported so the file format can evolve.
type scenarioJSON struct {
	Satellites []satelliteJSON `json:"satellites"`
	Users      []userJSON      `json:"users"`
}

type satelliteJSON struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// TLE takes precedence when both are present.
	TLELine1 string `json:"tle_line1"`
	TLELine2 string `json:"tle_line2"`

	AltitudeKm     float64 `json:"altitude_km"`
	InclinationDeg float64 `json:"inclination_deg"`
	RAANDeg        float64 `json:"raan_deg"`
	PhaseDeg       float64 `json:"phase_deg"`
}

type userJSON struct {
	ID            string  `json:"id"`
	LatDeg        float64 `json:"lat_deg"`
	LonDeg        float64 `json:"lon_deg"`
	AltM          float64 `json:"alt_m"`
	LatDegPerHour float64 `json:"lat_deg_per_hour"`
	LonDegPerHour float64 `json:"lon_deg_per_hour"`
}

// LoadScenario reads a JSON scenario from r and populates the store.
// Satellites carrying TLE lines propagate via SGP4; the rest use the
// analytic circular-orbit model. If the scenario defines fewer users than
// cfg.NumUsers, the remainder is generated deterministically from the run
// seed; extra scenario users beyond cfg.NumUsers are kept as-is.
func LoadScenario(store *kb.Store, r io.Reader, cfg config.Run) (*Scenario, error) {
	var payload scenarioJSON
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	if len(payload.Satellites) == 0 {
		return nil, fmt.Errorf("scenario defines no satellites")
	}

	result := &Scenario{}
	for _, js := range payload.Satellites {
		if js.ID == "" {
			return nil, fmt.Errorf("scenario satellite with empty id")
		}
		sat := &model.Satellite{
			ID:             js.ID,
			Name:           js.Name,
			TLELine1:       js.TLELine1,
			TLELine2:       js.TLELine2,
			AltitudeKm:     js.AltitudeKm,
			InclinationDeg: js.InclinationDeg,
			RAANDeg:        js.RAANDeg,
			PhaseDeg:       js.PhaseDeg,
		}
		if js.TLELine1 != "" && js.TLELine2 != "" {
			sat.MotionSource = model.MotionSourceTLE
		} else {
			sat.MotionSource = model.MotionSourceAnalytic
			if sat.AltitudeKm <= 0 {
				return nil, fmt.Errorf("satellite %s: needs TLE lines or altitude_km > 0", js.ID)
			}
		}
		if err := store.AddSatellite(sat, core.NewSatellitePositionFunc(sat, cfg.StartTime)); err != nil {
			return nil, fmt.Errorf("add satellite %s: %w", js.ID, err)
		}
		result.SatelliteIDs = append(result.SatelliteIDs, js.ID)
	}

	for _, ju := range payload.Users {
		if ju.ID == "" {
			return nil, fmt.Errorf("scenario user with empty id")
		}
		u := &model.GroundUser{
			ID:       ju.ID,
			Position: model.Geodetic{LatDeg: ju.LatDeg, LonDeg: ju.LonDeg, AltM: ju.AltM},
			Velocity: model.GroundVelocity{
				LatDegPerHour: ju.LatDegPerHour,
				LonDegPerHour: ju.LonDegPerHour,
			},
		}
		if err := store.AddUser(u, core.NewUserPositionFunc(u, cfg.StartTime)); err != nil {
			return nil, fmt.Errorf("add user %s: %w", ju.ID, err)
		}
		result.UserIDs = append(result.UserIDs, ju.ID)
	}

	extra, err := generateUsers(store, cfg, len(payload.Users))
	if err != nil {
		return nil, err
	}
	result.UserIDs = append(result.UserIDs, extra...)
	return result, nil
}

// LoadScenarioFile is LoadScenario over a file path.
func LoadScenarioFile(store *kb.Store, path string, cfg config.Run) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scenario %q: %w", path, err)
	}
	defer f.Close()
	sc, err := LoadScenario(store, f, cfg)
	if err != nil {
		return nil, fmt.Errorf("scenario %q: %w", path, err)
	}
	return sc, nil
}

// DefaultScenario populates the store with a synthetic polar constellation
// and seeded users. It is what runs when no scenario file is given: three
// planes of four satellites at 550 km, inclined 80 degrees, which gives
// mid-latitude users regular visibility gaps to hand over across.
func DefaultScenario(store *kb.Store, cfg config.Run) (*Scenario, error) {
	const (
		planes   = 3
		perPlane = 4
	)
	result := &Scenario{}
	for p := 0; p < planes; p++ {
		for s := 0; s < perPlane; s++ {
			id := fmt.Sprintf("sat-%d-%d", p+1, s+1)
			sat := &model.Satellite{
				ID:             id,
				Name:           id,
				MotionSource:   model.MotionSourceAnalytic,
				AltitudeKm:     550,
				InclinationDeg: 80,
				RAANDeg:        float64(p) * 360.0 / planes,
				PhaseDeg:       float64(s) * 360.0 / perPlane,
			}
			if err := store.AddSatellite(sat, core.NewSatellitePositionFunc(sat, cfg.StartTime)); err != nil {
				return nil, fmt.Errorf("add satellite %s: %w", id, err)
			}
			result.SatelliteIDs = append(result.SatelliteIDs, id)
		}
	}

	users, err := generateUsers(store, cfg, 0)
	if err != nil {
		return nil, err
	}
	result.UserIDs = users
	return result, nil
}

// generateUsers tops the store up to cfg.NumUsers with seeded synthetic
// users. Positions draw from a dedicated rand stream keyed off the run
// seed, so the same seed always yields the same population regardless of
// how the exchanger consumes its own stream.
func generateUsers(store *kb.Store, cfg config.Run, existing int) ([]string, error) {
	if existing >= cfg.NumUsers {
		return nil, nil
	}
	rng := rand.New(rand.NewSource(cfg.RandomSeed ^ 0x75736572)) // "user"

	var ids []string
	for i := existing; i < cfg.NumUsers; i++ {
		id := fmt.Sprintf("user-%03d", i+1)
		// Clamp latitudes toward the mid-band; polar users see a different
		// visibility regime than the comparison is about.
		lat := math.Asin(rng.Float64()*2-1) * 180 / math.Pi * 0.7
		lon := rng.Float64()*360 - 180
		u := &model.GroundUser{
			ID:       id,
			Position: model.Geodetic{LatDeg: lat, LonDeg: lon},
		}
		if err := store.AddUser(u, core.NewUserPositionFunc(u, cfg.StartTime)); err != nil {
			return nil, fmt.Errorf("add user %s: %w", id, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// BuildStore assembles a populated store for the run: from the configured
// scenario file when one is set, otherwise from the default synthetic
// constellation.
func BuildStore(cfg config.Run) (*kb.Store, *Scenario, error) {
	store := kb.NewStore()
	if cfg.ScenarioPath != "" {
		sc, err := LoadScenarioFile(store, cfg.ScenarioPath, cfg)
		if err != nil {
			return nil, nil, err
		}
		return store, sc, nil
	}
	sc, err := DefaultScenario(store, cfg)
	if err != nil {
		return nil, nil, err
	}
	return store, sc, nil
}
