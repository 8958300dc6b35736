// internal/metrics/collector.go
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "solsniperx"

var surveillanceStates = []string{"disconnected", "connecting", "subscribed", "failed"}

// Collector owns the process metrics on a private registry. It satisfies
// the recorder interfaces of the trader, surveillance and api packages.
type Collector struct {
	registry *prometheus.Registry

	trades              *prometheus.CounterVec
	surveillanceEvents  *prometheus.CounterVec
	surveillanceResets  prometheus.Counter
	surveillanceState   *prometheus.GaugeVec
	cycleDuration       prometheus.Histogram
	openPositions       prometheus.Gauge
	notificationClients prometheus.Gauge

	stateMu sync.Mutex
}

// NewCollector registers every metric plus the Go and process collectors.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		trades: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trades_total",
				Help:      "Buy and sell orders issued by the control loop",
			},
			[]string{"side", "reason", "status"},
		),
		surveillanceEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "surveillance_events_total",
				Help:      "Events emitted by chain surveillance",
			},
			[]string{"kind"},
		),
		surveillanceResets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "surveillance_reconnects_total",
			Help:      "Log subscription reconnects",
		}),
		surveillanceState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "surveillance_state",
				Help:      "1 for the current subscription state, 0 otherwise",
			},
			[]string{"state"},
		),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one scan and monitor cycle",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_positions",
			Help:      "Positions currently held",
		}),
		notificationClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections",
			Help:      "Connected notification clients",
		}),
	}

	c.registry.MustRegister(
		c.trades,
		c.surveillanceEvents,
		c.surveillanceResets,
		c.surveillanceState,
		c.cycleDuration,
		c.openPositions,
		c.notificationClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.SurveillanceState("disconnected")
	return c
}

// Registry exposes the private registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) Trade(side, reason, status string) {
	c.trades.WithLabelValues(side, reason, status).Inc()
}

func (c *Collector) CycleDuration(d time.Duration) {
	c.cycleDuration.Observe(d.Seconds())
}

func (c *Collector) OpenPositions(n int) {
	c.openPositions.Set(float64(n))
}

func (c *Collector) SurveillanceEvent(kind string) {
	c.surveillanceEvents.WithLabelValues(kind).Inc()
}

func (c *Collector) SurveillanceReconnect() {
	c.surveillanceResets.Inc()
}

// SurveillanceState marks state as current and clears the others.
func (c *Collector) SurveillanceState(state string) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	for _, s := range surveillanceStates {
		c.surveillanceState.WithLabelValues(s).Set(0)
	}
	c.surveillanceState.WithLabelValues(state).Set(1)
}

func (c *Collector) NotificationClients(n int) {
	c.notificationClients.Set(float64(n))
}
