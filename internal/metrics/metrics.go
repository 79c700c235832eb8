// Package metrics holds the gateway's Prometheus collectors.
package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	bidderStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "biddergw",
			Subsystem: "bidder",
			Name:      "starts_total",
			Help:      "Start requests by outcome.",
		}, []string{"result"},
	)
	bidderStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "biddergw",
			Subsystem: "bidder",
			Name:      "stops_total",
			Help:      "Stop requests by outcome.",
		}, []string{"result"},
	)
	bidderAborts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "biddergw",
			Subsystem: "bidder",
			Name:      "aborts_total",
			Help:      "Bidders found dead by a status check.",
		},
	)
	registered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "biddergw",
			Subsystem: "bidder",
			Name:      "registered",
			Help:      "Bidders currently held by the registry.",
		},
	)
	pidDiscovery = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "biddergw",
			Subsystem: "bidder",
			Name:      "pid_discovery_seconds",
			Help:      "Time from spawn request until the bidder reported its pid.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{bidderStarts, bidderStops, bidderAborts, registered, pidDiscovery}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// already registered with this registerer: keep the existing one
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves the metrics gathered by g.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// The helpers below no-op until Register succeeds.

func IncStart(result string) {
	if regOK.Load() {
		bidderStarts.WithLabelValues(result).Inc()
	}
}

func IncStop(result string) {
	if regOK.Load() {
		bidderStops.WithLabelValues(result).Inc()
	}
}

func IncAbort() {
	if regOK.Load() {
		bidderAborts.Inc()
	}
}

func SetRegistered(n int) {
	if regOK.Load() {
		registered.Set(float64(n))
	}
}

func ObservePIDDiscovery(seconds float64) {
	if regOK.Load() {
		pidDiscovery.Observe(seconds)
	}
}
