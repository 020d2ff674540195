// Package sim wires the simulation together: it owns the virtual clock,
// the event scheduler, the geometry oracle, the per-user protocol
// machines, and the outcome recorder, and drives one run from service
// start to the configured end time.
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/handover-simulator/core"
	"github.com/signalsfoundry/handover-simulator/internal/config"
	"github.com/signalsfoundry/handover-simulator/internal/kem"
	"github.com/signalsfoundry/handover-simulator/internal/logging"
	"github.com/signalsfoundry/handover-simulator/internal/observability"
	"github.com/signalsfoundry/handover-simulator/internal/sim/handover"
	"github.com/signalsfoundry/handover-simulator/internal/sim/sched"
	"github.com/signalsfoundry/handover-simulator/kb"
	"github.com/signalsfoundry/handover-simulator/model"
	"github.com/signalsfoundry/handover-simulator/timectrl"
)

const tracerName = "handover-simulator/engine"

// Engine is one simulation run: one clock, one scheduler, one machine per
// user. Engines are single-use; build a fresh one per run.
type Engine struct {
	cfg   config.Run
	store *kb.Store

	clock     *timectrl.VirtualClock
	scheduler *sched.Scheduler
	oracle    *core.Oracle
	exchanger kem.Exchanger
	machines  map[string]handover.Machine
	recorder  *Recorder
	metrics   *observability.HandoverCollector
	log       logging.Logger
}

// Option customises engine construction.
type Option func(*Engine)

// WithExchanger substitutes the key-exchange capability, e.g. the
// wall-clock measured exchanger or a scripted one in tests.
func WithExchanger(x kem.Exchanger) Option {
	return func(e *Engine) { e.exchanger = x }
}

// WithMetrics attaches a Prometheus collector; outcome records and
// scheduler activity feed it as the run progresses.
func WithMetrics(c *observability.HandoverCollector) Option {
	return func(e *Engine) { e.metrics = c }
}

// WithLogger replaces the default environment-configured logger.
func WithLogger(log logging.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// New builds an engine over a populated constellation store. The store's
// user set determines which machines exist; every user gets one machine of
// the configured protocol.
func New(cfg config.Run, store *kb.Store, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:   cfg,
		store: store,
		log:   logging.NewFromEnv(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.clock = timectrl.NewVirtualClock(cfg.StartTime)
	e.scheduler = sched.New(e.clock)

	e.oracle = core.NewOracle(store, e.log)
	e.oracle.MinElevationDeg = cfg.MinElevationDeg
	e.oracle.SampleStep = cfg.SampleStep

	if e.exchanger == nil {
		e.exchanger = kem.NewCostModel(cfg.CostModelConfig())
	}

	var observers []OutcomeObserver
	if e.metrics != nil {
		observers = append(observers, e.metrics)
	}
	e.recorder = NewRecorder(observers...)

	env := handover.Env{
		Geometry:  e.oracle,
		Exchanger: e.instrumentedExchanger(),
		Sched:     e.scheduler,
		Store:     store,
		Sink:      e.recorder,
		Log:       e.log,
	}
	hcfg := cfg.HandoverConfig()

	e.machines = make(map[string]handover.Machine)
	for _, userID := range store.UserIDs() {
		switch cfg.Protocol {
		case model.ProtocolBaseline:
			e.machines[userID] = handover.NewBaseline(env, hcfg, userID)
		case model.ProtocolSATPQH:
			e.machines[userID] = handover.NewSATPQH(env, hcfg, userID)
		default:
			return nil, fmt.Errorf("unknown protocol %q", cfg.Protocol)
		}
	}

	e.registerHandlers()
	return e, nil
}

// registerHandlers installs one dispatcher per event kind; each routes the
// event to the owning user's machine.
func (e *Engine) registerHandlers() {
	kinds := []sched.Kind{
		sched.KindServiceStart,
		sched.KindLeadTime,
		sched.KindVisibilityLoss,
		sched.KindExchangeDone,
		sched.KindSwitchover,
		sched.KindReattachProbe,
	}
	for _, kind := range kinds {
		e.scheduler.Register(kind, func(ev sched.Event) error {
			if e.metrics != nil {
				e.metrics.EventsDispatched.Inc()
			}
			m, ok := e.machines[ev.Payload.UserID]
			if !ok {
				return fmt.Errorf("event %s addressed to unknown user %q", ev.Payload.Kind, ev.Payload.UserID)
			}
			return m.Step(ev)
		})
	}
}

// instrumentedExchanger wraps the exchanger so every begun exchange feeds
// the metrics collector; without metrics the exchanger passes through.
func (e *Engine) instrumentedExchanger() kem.Exchanger {
	if e.metrics == nil {
		return e.exchanger
	}
	return exchangerFunc(func(now time.Time, algorithm string) (kem.Exchange, error) {
		ex, err := e.exchanger.Begin(now, algorithm)
		if err != nil {
			return ex, err
		}
		e.metrics.ExchangesBegunTotal.WithLabelValues(ex.Algorithm).Inc()
		e.metrics.ExchangeDurationSecs.WithLabelValues(ex.Algorithm).Observe(ex.Duration().Seconds())
		return ex, nil
	})
}

// Run executes the simulation from the configured start for the configured
// duration and returns every outcome record emitted, in emission order.
// Same configuration and scenario in, same records out.
func (e *Engine) Run(ctx context.Context) ([]model.OutcomeRecord, error) {
	runID := uuid.NewString()
	ctx, log := logging.WithRunLogger(ctx, e.log, runID)

	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "simulation.run", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("protocol", string(e.cfg.Protocol)),
		attribute.Int("users", len(e.machines)),
		attribute.Int64("seed", e.cfg.RandomSeed),
	))
	defer span.End()

	start := e.cfg.StartTime
	end := start.Add(e.cfg.SimulationDuration)

	if e.metrics != nil {
		e.metrics.UsersSimulated.Set(float64(len(e.machines)))
	}
	log.Info(ctx, "simulation starting",
		logging.String("protocol", string(e.cfg.Protocol)),
		logging.Int("users", len(e.machines)),
		logging.String("start", start.Format(time.RFC3339)),
		logging.String("end", end.Format(time.RFC3339)),
	)

	for _, userID := range e.store.UserIDs() {
		if _, err := e.scheduler.Schedule(start, sched.Payload{
			Kind:   sched.KindServiceStart,
			UserID: userID,
		}); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("seed service start for %s: %w", userID, err)
		}
	}

	if err := e.scheduler.RunUntil(end); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	// Account for attempts cut off by the end of the run, in user order so
	// the record tail is deterministic.
	for _, userID := range e.store.UserIDs() {
		e.machines[userID].Flush(end)
	}

	records := e.recorder.Records()
	span.SetAttributes(
		attribute.Int("records", len(records)),
		attribute.Int64("events_dispatched", int64(e.scheduler.Dispatched())),
	)
	log.Info(ctx, "simulation finished",
		logging.Int("records", len(records)),
		logging.Any("events_dispatched", e.scheduler.Dispatched()),
	)
	return records, nil
}

// Recorder exposes the run's outcome sink, mainly for CSV output.
func (e *Engine) Recorder() *Recorder { return e.recorder }

// ReplicaResult is the outcome of one Monte Carlo replica.
type ReplicaResult struct {
	Seed    int64
	Records []model.OutcomeRecord
	Err     error
}

// RunMany executes independent replicas of the same configuration, one per
// seed, in parallel. Each replica gets its own store, clock, scheduler, and
// exchanger, so replicas share nothing but the immutable configuration.
// newStore receives the replica's seed so seed-derived scenario content
// (the generated user population) varies per replica too. Results are
// returned in seed order.
func RunMany(ctx context.Context, cfg config.Run, seeds []int64, newStore func(seed int64) (*kb.Store, error), opts ...Option) []ReplicaResult {
	results := make([]ReplicaResult, len(seeds))
	var wg sync.WaitGroup
	for i, seed := range seeds {
		wg.Add(1)
		go func(i int, seed int64) {
			defer wg.Done()
			results[i] = ReplicaResult{Seed: seed}

			replicaCfg := cfg
			replicaCfg.RandomSeed = seed

			store, err := newStore(seed)
			if err != nil {
				results[i].Err = fmt.Errorf("replica seed %d: build scenario: %w", seed, err)
				return
			}
			eng, err := New(replicaCfg, store, opts...)
			if err != nil {
				results[i].Err = fmt.Errorf("replica seed %d: %w", seed, err)
				return
			}
			records, err := eng.Run(ctx)
			if err != nil {
				results[i].Err = fmt.Errorf("replica seed %d: %w", seed, err)
				return
			}
			results[i].Records = records
		}(i, seed)
	}
	wg.Wait()
	return results
}

type exchangerFunc func(now time.Time, algorithm string) (kem.Exchange, error)

func (f exchangerFunc) Begin(now time.Time, algorithm string) (kem.Exchange, error) {
	return f(now, algorithm)
}
