package handover

import (
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/handover-simulator/core"
	"github.com/signalsfoundry/handover-simulator/internal/sim/sched"
	"github.com/signalsfoundry/handover-simulator/model"
)

// Baseline is the reactive protocol: it does not look ahead. Key exchange
// and handshake begin only after the serving link is already lost, so the
// interruption of a successful handover is the full exchange plus switch
// time.
type Baseline struct {
	base
}

// NewBaseline builds the reactive machine for one user.
func NewBaseline(env Env, cfg Config, userID string) *Baseline {
	return &Baseline{base: newBase(env, cfg, model.ProtocolBaseline, userID)}
}

// Step consumes one dispatched event.
func (m *Baseline) Step(ev sched.Event) error {
	if m.stale(ev) {
		return nil
	}
	now := ev.Time
	switch ev.Payload.Kind {
	case sched.KindServiceStart, sched.KindReattachProbe:
		return m.tryAttach(now)
	case sched.KindVisibilityLoss:
		return m.onLoss(now)
	case sched.KindExchangeDone:
		return m.onExchangeDone(now)
	case sched.KindSwitchover:
		return m.onSwitchover(now)
	default:
		return fmt.Errorf("baseline: unexpected event kind %s", ev.Payload.Kind)
	}
}

// tryAttach performs the initial (or post-failure) attachment. The session
// key for first attachment is established before service start, so no
// exchange is modeled here; only handovers produce outcome records.
func (m *Baseline) tryAttach(now time.Time) error {
	attached, err := m.initialAttach(now)
	if err != nil || !attached {
		return err
	}
	return m.afterAttach(now)
}

// afterAttach arms loss detection at the predicted visibility end. The
// baseline consults the oracle only to know when the link physically
// drops; it takes no proactive action on that knowledge.
func (m *Baseline) afterAttach(now time.Time) error {
	return m.schedule(m.window.End, sched.KindVisibilityLoss)
}

func (m *Baseline) onLoss(now time.Time) error {
	prev := m.servingID
	m.enterOutage(now)
	m.state = StateOutage

	m.newAttempt(now, now, prev)
	reason, err := m.beginExchange(now, now)
	if err != nil {
		return err
	}
	if reason != "" {
		return m.failAttempt(now, reason)
	}
	return nil
}

func (m *Baseline) onExchangeDone(now time.Time) error {
	if m.att == nil {
		return nil
	}
	m.noteExchange(m.att.exchange.Duration())
	m.att.keyReady = true
	m.state = StateSwitching
	return m.schedule(now.Add(m.cfg.SwitchDelay), sched.KindSwitchover)
}

func (m *Baseline) onSwitchover(now time.Time) error {
	cand := m.att.candidateID
	if _, err := m.env.Geometry.Window(cand, m.userID, now); err != nil {
		if !errors.Is(err, core.ErrNotVisible) {
			return err
		}
		// Candidate set while we were switching; pick another reactively.
		m.att.exclude[cand] = true
		m.state = StateOutage
		reason, err := m.beginExchange(now, now)
		if err != nil {
			return err
		}
		if reason != "" {
			return m.failAttempt(now, reason)
		}
		return nil
	}

	key := m.att.sessionKey()
	m.record(now, true, "")
	if err := m.attach(now, cand, key); err != nil {
		return err
	}
	return m.afterAttach(now)
}
