package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus implements Recorder with collectors registered lazily on first
// use, so constructing one has no side effects on the registry.
type Prometheus struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	assignments   *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	active        *prometheus.GaugeVec
	notifications *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	requests      *prometheus.CounterVec
}

var _ Recorder = (*Prometheus)(nil)

// NewPrometheus returns a Recorder registering into reg (the default
// registerer when nil) under namespace ("qms" when empty).
func NewPrometheus(reg prometheus.Registerer, namespace string) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "qms"
	}
	return &Prometheus{reg: reg, namespace: namespace}
}

func (p *Prometheus) ensureRegistered() {
	p.once.Do(func() {
		p.assignments = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "tokens",
			Name:      "assignments_total",
			Help:      "Token assignment attempts by outcome.",
		}, []string{"outcome"})
		p.transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "tokens",
			Name:      "transitions_total",
			Help:      "Accepted token status transitions by target status.",
		}, []string{"status"})
		p.active = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "tokens",
			Name:      "active",
			Help:      "Active (waiting, upcoming, serving) tokens per queue.",
		}, []string{"queue"})
		p.notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "notifications",
			Name:      "requests_total",
			Help:      "Notification requests by dispatch result.",
		}, []string{"result"})
		p.dropped = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Token events not delivered, by sink.",
		}, []string{"sink"})
		p.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method and status code.",
		}, []string{"method", "code"})

		p.reg.MustRegister(p.assignments, p.transitions, p.active, p.notifications, p.dropped, p.requests)
	})
}

func (p *Prometheus) ObserveAssignment(outcome string) {
	p.ensureRegistered()
	p.assignments.WithLabelValues(outcome).Inc()
}

func (p *Prometheus) ObserveTransition(status string) {
	p.ensureRegistered()
	p.transitions.WithLabelValues(status).Inc()
}

func (p *Prometheus) SetActive(queue string, count int) {
	p.ensureRegistered()
	p.active.WithLabelValues(queue).Set(float64(count))
}

func (p *Prometheus) ObserveNotification(result string) {
	p.ensureRegistered()
	p.notifications.WithLabelValues(result).Inc()
}

func (p *Prometheus) ObserveEventDropped(sink string) {
	p.ensureRegistered()
	p.dropped.WithLabelValues(sink).Inc()
}

func (p *Prometheus) ObserveRequest(method string, status int) {
	p.ensureRegistered()
	p.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}
