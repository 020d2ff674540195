package handover

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/handover-simulator/core"
	"github.com/signalsfoundry/handover-simulator/internal/logging"
	"github.com/signalsfoundry/handover-simulator/internal/sim/sched"
	"github.com/signalsfoundry/handover-simulator/model"
)

// SATPQH is the proactive protocol: at the predicted visibility end minus
// the lead-time margin it selects the next satellite and runs the
// post-quantum key exchange ahead of need. The switchover is gated on the
// later of (key ready, geometry deadline), never earlier, which is what
// yields the protocol's zero-interruption claim when the margin suffices.
type SATPQH struct {
	base
}

// NewSATPQH builds the proactive machine for one user.
func NewSATPQH(env Env, cfg Config, userID string) *SATPQH {
	return &SATPQH{base: newBase(env, cfg, model.ProtocolSATPQH, userID)}
}

// Step consumes one dispatched event.
func (m *SATPQH) Step(ev sched.Event) error {
	if m.stale(ev) {
		return nil
	}
	now := ev.Time
	switch ev.Payload.Kind {
	case sched.KindServiceStart, sched.KindReattachProbe:
		return m.tryAttach(now)
	case sched.KindLeadTime:
		return m.onLeadTime(now)
	case sched.KindVisibilityLoss:
		return m.onLoss(now)
	case sched.KindExchangeDone:
		return m.onExchangeDone(now)
	case sched.KindSwitchover:
		return m.onSwitchover(now)
	default:
		return fmt.Errorf("sat-pqh: unexpected event kind %s", ev.Payload.Kind)
	}
}

func (m *SATPQH) tryAttach(now time.Time) error {
	attached, err := m.initialAttach(now)
	if err != nil || !attached {
		return err
	}
	return m.afterAttach(now)
}

// afterAttach arms both the proactive trigger at (predicted end − margin)
// and the loss deadline itself. The margin comes from the configured
// lead-time policy; a window already shorter than the margin triggers
// immediately.
func (m *SATPQH) afterAttach(now time.Time) error {
	deadline := m.window.End
	leadAt := deadline.Add(-m.effectiveMargin())
	if leadAt.Before(now) {
		leadAt = now
	}
	if err := m.schedule(leadAt, sched.KindLeadTime); err != nil {
		return err
	}
	return m.schedule(deadline, sched.KindVisibilityLoss)
}

// onLeadTime opens the proactive handover context and starts the key
// exchange for the candidate that will be best at the deadline. Candidate
// selection queries the oracle at the deadline, not at the trigger, so a
// satellite that rises between now and the loss instant still qualifies.
func (m *SATPQH) onLeadTime(now time.Time) error {
	if m.state != StateAttached {
		return nil
	}
	m.state = StateProactiveExchange

	deadline := m.window.End
	m.newAttempt(now, deadline, m.servingID)

	reason, err := m.beginExchange(now, deadline)
	if err != nil {
		return err
	}
	if reason == "" {
		m.att.proactive = true
	} else {
		// Nothing to exchange with yet. Keep the context open; the loss
		// deadline retries reactively, where a late riser may still save
		// the attempt.
		m.env.Log.Debug(context.Background(), "proactive exchange not started",
			logging.String("user", m.userID),
			logging.String("reason", reason),
		)
	}
	return nil
}

func (m *SATPQH) onLoss(now time.Time) error {
	switch m.state {
	case StateKeyReady, StateSwitching:
		// The switchover fires at this same instant (or is already booked);
		// just start the interruption clock so an on-time switch records a
		// zero gap.
		m.enterOutage(now)
		return nil

	case StateProactiveExchange:
		m.enterOutage(now)
		if m.att != nil && m.att.candidateID != "" {
			// Key still in flight past the deadline: the margin was too
			// small. ExchangeDone completes the reactive fallback.
			m.state = StateOutage
			return nil
		}
		m.state = StateOutage
		reason, err := m.beginExchange(now, now)
		if err != nil {
			return err
		}
		if reason != "" {
			return m.failAttempt(now, reason)
		}
		return nil

	case StateAttached:
		// Lead time and loss coincide when the margin is zero; the lead
		// event fires first by sequence order, so reaching here means the
		// window closed before the trigger could act. Fall back reactively.
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

	default:
		m.enterOutage(now)
		return nil
	}
}

func (m *SATPQH) onExchangeDone(now time.Time) error {
	if m.att == nil {
		return nil
	}
	m.noteExchange(m.att.exchange.Duration())
	m.att.keyReady = true

	switch m.state {
	case StateProactiveExchange:
		// Key ready ahead of the deadline: hold the switch until the
		// geometry deadline, never earlier.
		m.state = StateKeyReady
		return m.schedule(m.att.deadline, sched.KindSwitchover)

	case StateOutage:
		// A proactive key completing after the visibility deadline means
		// the margin was insufficient; a reactively started exchange is
		// just the fallback path doing its job.
		m.att.marginShort = m.att.proactive
		m.state = StateSwitching
		return m.schedule(now.Add(m.cfg.SwitchDelay), sched.KindSwitchover)

	default:
		return nil
	}
}

func (m *SATPQH) onSwitchover(now time.Time) error {
	if m.att == nil {
		return nil
	}
	cand := m.att.candidateID

	if _, err := m.env.Geometry.Window(cand, m.userID, now); err != nil {
		if !errors.Is(err, core.ErrNotVisible) {
			return err
		}
		// The prepared candidate set before we could switch; its key is
		// useless now. Discard and go reactive.
		return m.discardAndReexchange(now, true)
	}

	if m.cfg.ReselectPolicy == ReselectRecheck {
		bestID, bestW, err := m.env.Geometry.NextCandidate(m.userID, now, m.att.exclude)
		if err == nil && bestID != cand && bestW.End.After(m.att.candidateW.End) {
			m.env.Log.Debug(context.Background(), "better candidate at switch time; discarding prepared key",
				logging.String("user", m.userID),
				logging.String("prepared", cand),
				logging.String("better", bestID),
			)
			return m.discardAndReexchange(now, false)
		}
	}

	reason := ""
	if m.att.marginShort {
		reason = model.ReasonMarginInsufficient
	}
	key := m.att.sessionKey()
	m.record(now, true, reason)
	if err := m.attach(now, cand, key); err != nil {
		return err
	}
	return m.afterAttach(now)
}

// discardAndReexchange drops the prepared key and runs a reactive exchange
// within the same attempt. excludePrepared removes the stale candidate
// from consideration (used when it is no longer visible at all).
func (m *SATPQH) discardAndReexchange(now time.Time, excludePrepared bool) error {
	if excludePrepared {
		m.att.exclude[m.att.candidateID] = true
	}
	m.att.candidateID = ""
	m.att.keyReady = false
	m.att.proactive = false
	m.enterOutage(now)
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
