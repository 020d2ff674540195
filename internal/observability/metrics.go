package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalsfoundry/handover-simulator/model"
)

// HandoverCollector bundles Prometheus metrics for the simulation engine
// and provides a ready-to-serve /metrics handler.
type HandoverCollector struct {
	gatherer prometheus.Gatherer

	HandoversTotal       *prometheus.CounterVec
	InterruptionSeconds  *prometheus.HistogramVec
	HandoverLatency      *prometheus.HistogramVec
	EventsDispatched     prometheus.Counter
	UsersSimulated       prometheus.Gauge
	ExchangesBegunTotal  *prometheus.CounterVec
	ExchangeDurationSecs *prometheus.HistogramVec
}

// NewHandoverCollector registers simulation metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewHandoverCollector(reg prometheus.Registerer) (*HandoverCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	handovers := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "handovers_total",
		Help: "Completed or failed handover attempts, labeled by protocol, result, and reason.",
	}, []string{"protocol", "result", "reason"})
	handovers, err := registerCounterVec(reg, handovers, "handovers_total")
	if err != nil {
		return nil, err
	}

	interruption := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "handover_interruption_seconds",
		Help:    "Service gap experienced per handover, in simulated seconds.",
		Buckets: []float64{0, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"protocol"})
	interruption, err = registerHistogramVec(reg, interruption, "handover_interruption_seconds")
	if err != nil {
		return nil, err
	}

	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "handover_latency_seconds",
		Help:    "Time from handover initiation to re-attachment, in simulated seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"protocol"})
	latency, err = registerHistogramVec(reg, latency, "handover_latency_seconds")
	if err != nil {
		return nil, err
	}

	dispatched := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_events_dispatched_total",
		Help: "Cumulative number of events dispatched by the discrete-event scheduler.",
	})
	dispatched, err = registerCounter(reg, dispatched, "scheduler_events_dispatched_total")
	if err != nil {
		return nil, err
	}

	users, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "simulated_users",
		Help: "Number of ground users in the current run.",
	}), "simulated_users")
	if err != nil {
		return nil, err
	}

	exchanges := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "key_exchanges_total",
		Help: "Key exchanges begun, labeled by algorithm.",
	}, []string{"algorithm"})
	exchanges, err = registerCounterVec(reg, exchanges, "key_exchanges_total")
	if err != nil {
		return nil, err
	}

	exchangeDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "key_exchange_duration_seconds",
		Help:    "Modeled key exchange duration, labeled by algorithm.",
		Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1, 5, 15, 60},
	}, []string{"algorithm"})
	exchangeDur, err = registerHistogramVec(reg, exchangeDur, "key_exchange_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &HandoverCollector{
		gatherer:             gatherer,
		HandoversTotal:       handovers,
		InterruptionSeconds:  interruption,
		HandoverLatency:      latency,
		EventsDispatched:     dispatched,
		UsersSimulated:       users,
		ExchangesBegunTotal:  exchanges,
		ExchangeDurationSecs: exchangeDur,
	}, nil
}

// ObserveOutcome records a terminal handover transition. It satisfies the
// recorder's observer interface so outcome records drive the metrics
// directly.
func (c *HandoverCollector) ObserveOutcome(rec model.OutcomeRecord) {
	if c == nil {
		return
	}
	result := "failure"
	if rec.Success {
		result = "success"
	}
	if c.HandoversTotal != nil {
		c.HandoversTotal.WithLabelValues(string(rec.Protocol), result, rec.Reason).Inc()
	}
	if c.InterruptionSeconds != nil {
		c.InterruptionSeconds.WithLabelValues(string(rec.Protocol)).Observe(rec.Interruption.Seconds())
	}
	if c.HandoverLatency != nil {
		c.HandoverLatency.WithLabelValues(string(rec.Protocol)).Observe(rec.TotalLatency.Seconds())
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *HandoverCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *HandoverCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
