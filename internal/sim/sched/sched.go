// Package sched is the discrete-event core: a time-ordered queue of
// scheduled actions over a virtual clock. Dispatch is strictly ordered by
// (time, sequence number), handlers run to completion on one goroutine,
// and all waiting is represented as a future event, never a real sleep.
package sched

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/signalsfoundry/handover-simulator/timectrl"
)

// ErrCausalityViolation reports an attempt to schedule an event strictly
// before the current simulation time. It indicates a bug in a state
// machine and is fatal to the run.
var ErrCausalityViolation = errors.New("causality violation: scheduled time is in the past")

// Kind tags an event payload with the action it triggers.
type Kind int

const (
	KindServiceStart Kind = iota
	KindLeadTime
	KindVisibilityLoss
	KindExchangeDone
	KindSwitchover
	KindReattachProbe
)

// String returns the payload tag name, used in logs and errors.
func (k Kind) String() string {
	switch k {
	case KindServiceStart:
		return "service-start"
	case KindLeadTime:
		return "lead-time"
	case KindVisibilityLoss:
		return "visibility-loss"
	case KindExchangeDone:
		return "exchange-done"
	case KindSwitchover:
		return "switchover"
	case KindReattachProbe:
		return "reattach-probe"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Payload identifies the action and the user it applies to. Generation is
// the handover-context generation the event was scheduled under; handlers
// no-op when it no longer matches, which neutralises superseded events
// that were not cancelled explicitly.
type Payload struct {
	Kind       Kind
	UserID     string
	Generation uint64
}

// Event is a dispatched queue entry as seen by a handler.
type Event struct {
	Time    time.Time
	Seq     uint64
	Payload Payload
}

// Handler processes one due event. A returned error aborts the run.
type Handler func(ev Event) error

type scheduledEvent struct {
	id        string
	when      time.Time
	seq       uint64
	payload   Payload
	cancelled bool
}

// Scheduler maintains events ordered by (time, sequence) and drives the
// virtual clock forward as it dispatches them. It is single-goroutine by
// design: one run owns one scheduler, and handlers are invoked
// synchronously so they may schedule follow-up events that are still
// eligible within the same RunUntil call.
type Scheduler struct {
	clock *timectrl.VirtualClock

	seq      uint64
	events   []*scheduledEvent // ordered by (when, seq), earliest first
	index    map[string]*scheduledEvent
	handlers map[Kind]Handler

	dispatched uint64
}

// New creates a scheduler over the given virtual clock.
func New(clock *timectrl.VirtualClock) *Scheduler {
	return &Scheduler{
		clock:    clock,
		index:    make(map[string]*scheduledEvent),
		handlers: make(map[Kind]Handler),
	}
}

// Now returns the current simulation time.
func (s *Scheduler) Now() time.Time { return s.clock.Now() }

// Dispatched returns how many events have been dispatched so far.
func (s *Scheduler) Dispatched() uint64 { return s.dispatched }

// Register installs the handler for a payload kind. Registering a kind
// twice is a wiring bug and panics early.
func (s *Scheduler) Register(kind Kind, h Handler) {
	if _, exists := s.handlers[kind]; exists {
		panic(fmt.Sprintf("sched: handler for %s already registered", kind))
	}
	s.handlers[kind] = h
}

// Schedule registers an event at simulation time at. Scheduling strictly
// before Now() returns ErrCausalityViolation; scheduling exactly at Now()
// is legal and fires within the current RunUntil pass.
func (s *Scheduler) Schedule(at time.Time, p Payload) (string, error) {
	now := s.clock.Now()
	if at.Before(now) {
		return "", fmt.Errorf("%w: now=%s requested=%s payload=%s user=%s",
			ErrCausalityViolation, now, at, p.Kind, p.UserID)
	}

	s.seq++
	ev := &scheduledEvent{
		id:      fmt.Sprintf("ev-%d", s.seq),
		when:    at,
		seq:     s.seq,
		payload: p,
	}
	s.insert(ev)
	s.index[ev.id] = ev
	return ev.id, nil
}

// insert places ev into the queue keeping (when, seq) order.
func (s *Scheduler) insert(ev *scheduledEvent) {
	idx := sort.Search(len(s.events), func(i int) bool {
		e := s.events[i]
		if e.when.Equal(ev.when) {
			return e.seq > ev.seq
		}
		return e.when.After(ev.when)
	})
	s.events = append(s.events, nil)
	copy(s.events[idx+1:], s.events[idx:])
	s.events[idx] = ev
}

// Cancel marks a scheduled event as cancelled. Removal is lazy: the entry
// stays queued and is skipped at dispatch time. Unknown or already-run IDs
// are a no-op.
func (s *Scheduler) Cancel(id string) {
	ev, ok := s.index[id]
	if !ok {
		return
	}
	ev.cancelled = true
	delete(s.index, id)
}

// RunUntil dispatches events in (time, sequence) order until the queue has
// no event at or before end, advancing the virtual clock to each event's
// time first and to end when done. Handler errors abort the drain and are
// returned; an event, once dispatched, is never dispatched again.
func (s *Scheduler) RunUntil(end time.Time) error {
	for {
		ev := s.popDue(end)
		if ev == nil {
			break
		}

		if err := s.clock.AdvanceTo(ev.when); err != nil {
			return err
		}
		delete(s.index, ev.id)
		s.dispatched++

		h, ok := s.handlers[ev.payload.Kind]
		if !ok {
			return fmt.Errorf("sched: no handler registered for %s", ev.payload.Kind)
		}
		if err := h(Event{Time: ev.when, Seq: ev.seq, Payload: ev.payload}); err != nil {
			return fmt.Errorf("dispatch %s for user %s at %s: %w",
				ev.payload.Kind, ev.payload.UserID, ev.when, err)
		}
	}

	if end.After(s.clock.Now()) {
		return s.clock.AdvanceTo(end)
	}
	return nil
}

// popDue removes and returns the earliest non-cancelled event with
// when <= end, discarding cancelled entries it walks over.
func (s *Scheduler) popDue(end time.Time) *scheduledEvent {
	for len(s.events) > 0 {
		ev := s.events[0]
		if ev.cancelled {
			s.events = s.events[1:]
			continue
		}
		if ev.when.After(end) {
			return nil
		}
		s.events = s.events[1:]
		return ev
	}
	return nil
}

// Pending returns the number of queued, non-cancelled events.
func (s *Scheduler) Pending() int {
	n := 0
	for _, ev := range s.events {
		if !ev.cancelled {
			n++
		}
	}
	return n
}
