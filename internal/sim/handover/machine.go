// Package handover contains the per-user protocol state machines evaluated
// by the simulator: the reactive baseline and the proactive SAT-PQH
// variant. Machines consume scheduler events, query the geometry oracle
// and the key-exchange capability, and emit one outcome record per
// completed or failed handover attempt.
package handover

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/handover-simulator/core"
	"github.com/signalsfoundry/handover-simulator/internal/kem"
	"github.com/signalsfoundry/handover-simulator/internal/logging"
	"github.com/signalsfoundry/handover-simulator/internal/sim/sched"
	"github.com/signalsfoundry/handover-simulator/model"
)

// State is the protocol state of one user.
type State int

const (
	StateDetached State = iota
	StateAttached
	StateProactiveExchange // SAT-PQH only
	StateKeyReady          // SAT-PQH only
	StateSwitching
	StateOutage
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDetached:
		return "detached"
	case StateAttached:
		return "attached"
	case StateProactiveExchange:
		return "proactive-exchange"
	case StateKeyReady:
		return "key-ready"
	case StateSwitching:
		return "switching"
	case StateOutage:
		return "outage"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// LeadTimePolicy selects how the proactive lead-time margin is chosen.
type LeadTimePolicy string

const (
	// LeadTimeFixed uses the configured margin as-is.
	LeadTimeFixed LeadTimePolicy = "fixed"
	// LeadTimeAdaptive grows the margin to a safety factor times the
	// running mean of observed exchange durations, floored at the
	// configured margin.
	LeadTimeAdaptive LeadTimePolicy = "adaptive"
)

// ReselectPolicy selects what happens when a better candidate appears
// while a proactive exchange is in flight.
type ReselectPolicy string

const (
	// ReselectStick keeps the candidate the exchange was started for.
	ReselectStick ReselectPolicy = "stick"
	// ReselectRecheck re-queries the oracle at switch time and discards
	// the in-flight key when the pick has changed, falling back to a
	// reactive exchange for this instance.
	ReselectRecheck ReselectPolicy = "recheck"
)

// Config carries the per-machine protocol knobs.
type Config struct {
	Algorithm      string
	LeadTimeMargin time.Duration
	SwitchDelay    time.Duration
	RetryInterval  time.Duration

	LeadTimePolicy LeadTimePolicy
	ReselectPolicy ReselectPolicy
	// AdaptiveSafety scales the observed mean exchange duration under
	// LeadTimeAdaptive. Values below 1 make no sense; 1.5 is the default.
	AdaptiveSafety float64
}

func (c Config) withDefaults() Config {
	if c.LeadTimePolicy == "" {
		c.LeadTimePolicy = LeadTimeFixed
	}
	if c.ReselectPolicy == "" {
		c.ReselectPolicy = ReselectStick
	}
	if c.AdaptiveSafety < 1 {
		c.AdaptiveSafety = 1.5
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 30 * time.Second
	}
	return c
}

// Geometry is the oracle surface the machines consume. *core.Oracle
// satisfies it; tests substitute scripted geometries.
type Geometry interface {
	Window(satID, userID string, from time.Time) (model.VisibilityWindow, error)
	NextCandidate(userID string, from time.Time, exclude map[string]bool) (string, model.VisibilityWindow, error)
}

// Attacher is the mutation surface of the constellation store.
type Attacher interface {
	Attach(userID, satelliteID string, key *model.SessionKey) error
	Detach(userID string) error
}

// OutcomeSink observes terminal transitions.
type OutcomeSink interface {
	Observe(rec model.OutcomeRecord)
}

// Env bundles the collaborators shared by every machine in a run.
type Env struct {
	Geometry  Geometry
	Exchanger kem.Exchanger
	Sched     *sched.Scheduler
	Store     Attacher
	Sink      OutcomeSink
	Log       logging.Logger
}

// Machine is one protocol variant driving one user. The set of variants is
// closed: Baseline and SATPQH.
type Machine interface {
	Protocol() model.Protocol
	UserID() string
	// Step consumes one dispatched event. Events from a superseded
	// handover-context generation are no-ops.
	Step(ev sched.Event) error
	// Flush accounts for an attempt still in flight when the run ends, so
	// no user finishes with a silently missing record.
	Flush(now time.Time)
}

// attempt is the transient per-handover context. It exists from the
// instant a handover is initiated (lead-time trigger or loss detection)
// until the user is attached again or the attempt fails.
type attempt struct {
	initiatedAt time.Time
	deadline    time.Time

	candidateID string
	candidateW  model.VisibilityWindow
	exchange    kem.Exchange
	keyReady    bool
	proactive   bool
	marginShort bool

	// exclude holds the previous serving satellite plus candidates that
	// already failed during this attempt.
	exclude          map[string]bool
	exchangeFailures int
}

// base carries the state shared by both variants.
type base struct {
	env      Env
	cfg      Config
	protocol model.Protocol
	userID   string

	state     State
	gen       uint64
	pending   []string // event IDs outstanding for the current generation
	servingID string
	window    model.VisibilityWindow
	att       *attempt

	inOutage    bool
	outageSince time.Time

	// observedExchanges feeds the adaptive lead-time policy.
	observedExchanges []time.Duration
}

func newBase(env Env, cfg Config, protocol model.Protocol, userID string) base {
	if env.Log == nil {
		env.Log = logging.Noop()
	}
	return base{
		env:      env,
		cfg:      cfg.withDefaults(),
		protocol: protocol,
		userID:   userID,
		state:    StateDetached,
	}
}

func (m *base) UserID() string           { return m.userID }
func (m *base) Protocol() model.Protocol { return m.protocol }

// stale reports whether the event belongs to a superseded generation.
func (m *base) stale(ev sched.Event) bool {
	if ev.Payload.Generation == m.gen {
		return false
	}
	m.env.Log.Debug(context.Background(), "dropping stale event",
		logging.String("user", m.userID),
		logging.String("kind", ev.Payload.Kind.String()),
		logging.Any("event_gen", ev.Payload.Generation),
		logging.Any("current_gen", m.gen),
	)
	return true
}

// schedule enqueues an event for this user under the current generation
// and tracks its handle for cancellation at the next generation bump.
func (m *base) schedule(at time.Time, kind sched.Kind) error {
	id, err := m.env.Sched.Schedule(at, sched.Payload{
		Kind:       kind,
		UserID:     m.userID,
		Generation: m.gen,
	})
	if err != nil {
		return err
	}
	m.pending = append(m.pending, id)
	return nil
}

// bumpGeneration invalidates every outstanding event of the current
// generation. Cancellation is explicit where we hold the handle; the
// generation check covers anything already popped.
func (m *base) bumpGeneration() {
	for _, id := range m.pending {
		m.env.Sched.Cancel(id)
	}
	m.pending = nil
	m.gen++
}

// enterOutage marks the user detached and starts the interruption clock,
// unless an outage is already running.
func (m *base) enterOutage(now time.Time) {
	if !m.inOutage {
		m.inOutage = true
		m.outageSince = now
	}
	if m.servingID != "" {
		if err := m.env.Store.Detach(m.userID); err != nil {
			m.env.Log.Warn(context.Background(), "detach failed",
				logging.String("user", m.userID), logging.String("error", err.Error()))
		}
		m.servingID = ""
	}
}

// interruptionAt returns the accumulated service gap if the user attaches
// at now.
func (m *base) interruptionAt(now time.Time) time.Duration {
	if !m.inOutage {
		return 0
	}
	return now.Sub(m.outageSince)
}

// record emits one outcome record for the current attempt.
func (m *base) record(now time.Time, success bool, reason string) {
	var latency time.Duration
	if m.att != nil {
		latency = now.Sub(m.att.initiatedAt)
	}
	m.env.Sink.Observe(model.OutcomeRecord{
		UserID:       m.userID,
		Protocol:     m.protocol,
		Interruption: m.interruptionAt(now),
		TotalLatency: latency,
		Success:      success,
		Reason:       reason,
	})
}

// attach completes a handover (or initial attachment) onto satID. It ends
// the attempt, clears any outage, recomputes the serving window, and
// leaves the machine Attached under a fresh generation. The caller
// schedules the variant's follow-up events afterwards.
func (m *base) attach(now time.Time, satID string, key *model.SessionKey) error {
	w, err := m.env.Geometry.Window(satID, m.userID, now)
	if err != nil {
		return err
	}
	if err := m.env.Store.Attach(m.userID, satID, key); err != nil {
		return err
	}

	m.bumpGeneration()
	m.state = StateAttached
	m.servingID = satID
	m.window = w
	m.att = nil
	m.inOutage = false

	m.env.Log.Debug(context.Background(), "user attached",
		logging.String("user", m.userID),
		logging.String("satellite", satID),
		logging.String("window_end", w.End.Format(time.RFC3339)),
	)
	return nil
}

// initialAttach connects the user to the best currently visible satellite.
// It reports whether the user ended up attached; a false return with nil
// error means the no-candidate path already recorded a failure and armed a
// reattach probe.
func (m *base) initialAttach(now time.Time) (bool, error) {
	candID, _, err := m.env.Geometry.NextCandidate(m.userID, now, nil)
	if errors.Is(err, core.ErrNoCandidate) {
		m.newAttempt(now, now, "")
		return false, m.failAttempt(now, model.ReasonNoCandidate)
	}
	if err != nil {
		return false, err
	}

	// First attachment keys are provisioned before service start; only
	// handovers exercise the exchange capability.
	key := &model.SessionKey{Algorithm: m.cfg.Algorithm, Fingerprint: "provisioned"}
	if err := m.attach(now, candID, key); err != nil {
		if errors.Is(err, core.ErrNotVisible) {
			m.newAttempt(now, now, "")
			return false, m.failAttempt(now, model.ReasonNotVisible)
		}
		return false, err
	}
	return true, nil
}

// newAttempt opens a handover context. prevServing is excluded from
// candidate selection for the whole attempt.
func (m *base) newAttempt(initiated, deadline time.Time, prevServing string) {
	exclude := make(map[string]bool)
	if prevServing != "" {
		exclude[prevServing] = true
	}
	m.att = &attempt{
		initiatedAt: initiated,
		deadline:    deadline,
		exclude:     exclude,
	}
}

// failAttempt records a terminal failure for the current attempt, clears
// session state, and schedules a reattach probe so the user keeps trying
// while the run continues.
func (m *base) failAttempt(now time.Time, reason string) error {
	m.record(now, false, reason)
	m.enterOutage(now)
	m.state = StateFailed
	m.att = nil
	m.bumpGeneration()
	m.state = StateDetached
	return m.schedule(now.Add(m.cfg.RetryInterval), sched.KindReattachProbe)
}

// beginExchange selects a candidate at queryAt and starts a key exchange
// at now, retrying across candidates on modeled exchange failures. On
// success an ExchangeDone event is scheduled at the completion time. The
// returned reason is non-empty when the attempt is out of options.
func (m *base) beginExchange(now, queryAt time.Time) (reason string, err error) {
	for {
		candID, w, err := m.env.Geometry.NextCandidate(m.userID, queryAt, m.att.exclude)
		if errors.Is(err, core.ErrNoCandidate) {
			if m.att.exchangeFailures > 0 {
				return model.ReasonExchangeFailed, nil
			}
			return model.ReasonNoCandidate, nil
		}
		if err != nil {
			return "", err
		}

		ex, err := m.env.Exchanger.Begin(now, m.cfg.Algorithm)
		if err != nil {
			var xerr *kem.ExchangeError
			if errors.As(err, &xerr) {
				m.env.Log.Debug(context.Background(), "exchange failed; trying next candidate",
					logging.String("user", m.userID),
					logging.String("candidate", candID),
					logging.String("reason", string(xerr.Reason)),
				)
				m.att.exclude[candID] = true
				m.att.exchangeFailures++
				m.att.candidateID = ""
				continue
			}
			return "", err
		}

		m.att.candidateID = candID
		m.att.candidateW = w
		m.att.exchange = ex
		m.att.keyReady = false
		return "", m.schedule(ex.CompletionTime(), sched.KindExchangeDone)
	}
}

// sessionKey converts the completed exchange into user-held key material.
func (a *attempt) sessionKey() *model.SessionKey {
	return &model.SessionKey{
		Algorithm:   a.exchange.Algorithm,
		Fingerprint: a.exchange.KeyFingerprint,
	}
}

// noteExchange records an observed exchange duration for the adaptive
// lead-time policy.
func (m *base) noteExchange(d time.Duration) {
	m.observedExchanges = append(m.observedExchanges, d)
}

// effectiveMargin returns the lead-time margin for the next proactive
// trigger under the configured policy.
func (m *base) effectiveMargin() time.Duration {
	if m.cfg.LeadTimePolicy != LeadTimeAdaptive || len(m.observedExchanges) == 0 {
		return m.cfg.LeadTimeMargin
	}
	var total time.Duration
	for _, d := range m.observedExchanges {
		total += d
	}
	mean := total / time.Duration(len(m.observedExchanges))
	adaptive := time.Duration(float64(mean) * m.cfg.AdaptiveSafety)
	if adaptive < m.cfg.LeadTimeMargin {
		return m.cfg.LeadTimeMargin
	}
	return adaptive
}

// Flush emits a record for an attempt cut off by the end of the run.
func (m *base) Flush(now time.Time) {
	if m.att == nil {
		return
	}
	m.record(now, false, "simulation-ended")
	m.att = nil
}
