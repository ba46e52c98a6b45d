package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "communicator"

// Collectors - broker activity counters. A nil *Collectors records nothing.
type Collectors struct {
	Published *prometheus.CounterVec
	Received  *prometheus.CounterVec
	Settled   *prometheus.CounterVec
	Errors    *prometheus.CounterVec
}

// New creates the collectors and registers them on reg (when non-nil).
func New(reg prometheus.Registerer) (*Collectors, error) {
	c := &Collectors{
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "published_total",
			Help:      "Messages handed to a broker for publishing.",
		}, []string{"backend", "topic", "outcome"}),
		Received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "received_total",
			Help:      "Messages delivered to a subscriber.",
		}, []string{"backend", "topic"}),
		Settled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settled_total",
			Help:      "Messages completed, abandoned or acknowledged.",
		}, []string{"backend", "topic", "action"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Failures by subscribe loop stage.",
		}, []string{"backend", "topic", "stage"}),
	}
	if reg == nil {
		return c, nil
	}
	for _, collector := range []prometheus.Collector{c.Published, c.Received, c.Settled, c.Errors} {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ObservePublish ...
func (c *Collectors) ObservePublish(backend, topic string, ok bool) {
	if c == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	c.Published.WithLabelValues(backend, topic, outcome).Inc()
}

// ObserveReceive ...
func (c *Collectors) ObserveReceive(backend, topic string) {
	if c == nil {
		return
	}
	c.Received.WithLabelValues(backend, topic).Inc()
}

// ObserveSettle ...
func (c *Collectors) ObserveSettle(backend, topic, action string) {
	if c == nil {
		return
	}
	c.Settled.WithLabelValues(backend, topic, action).Inc()
}

// ObserveError ...
func (c *Collectors) ObserveError(backend, topic, stage string) {
	if c == nil {
		return
	}
	c.Errors.WithLabelValues(backend, topic, stage).Inc()
}
