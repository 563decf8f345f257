// Package metrics holds the Prometheus collectors of the login service.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	flowsTotal       *prometheus.CounterVec
	exchangeDuration *prometheus.HistogramVec
	statesSwept      prometheus.Counter

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg. A
// *prometheus.Registry is also used as the gatherer behind Handler.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		gatherer: prometheus.DefaultGatherer,
		flowsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_oauth_flows_total",
			Help: "OAuth flow steps by provider, step and outcome",
		}, []string{"provider", "step", "outcome"}),
		exchangeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sentinel_oauth_exchange_duration_seconds",
			Help:    "Latency of authorization-code exchanges",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"provider"}),
		statesSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_oauth_states_swept_total",
			Help: "Expired OAuth states deleted by the sweeper",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests processed",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	for _, c := range []prometheus.Collector{
		m.flowsTotal, m.exchangeDuration, m.statesSwept,
		m.httpRequestsTotal, m.httpRequestDuration,
	} {
		if err := register(reg, c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RegisterPool exposes connection pool gauges for pool.
func (m *Metrics) RegisterPool(reg prometheus.Registerer, pool *pgxpool.Pool) error {
	if m == nil || pool == nil {
		return nil
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return register(reg, newPoolCollector(pool))
}

// Flow counts one flow step ("start", "link", "callback", "unlink") with its outcome.
func (m *Metrics) Flow(provider, step, outcome string) {
	if m == nil {
		return
	}
	m.flowsTotal.WithLabelValues(provider, step, outcome).Inc()
}

func (m *Metrics) ObserveExchange(provider string, d time.Duration) {
	if m == nil {
		return
	}
	m.exchangeDuration.WithLabelValues(provider).Observe(d.Seconds())
}

func (m *Metrics) StatesSwept(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.statesSwept.Add(float64(n))
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency labelled by route pattern.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method
		m.httpRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		m.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

func register(reg prometheus.Registerer, c prometheus.Collector) error {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return nil
		}
		return err
	}
	return nil
}

type poolCollector struct {
	pool *pgxpool.Pool

	acquired *prometheus.Desc
	idle     *prometheus.Desc
	total    *prometheus.Desc
}

func newPoolCollector(pool *pgxpool.Pool) *poolCollector {
	return &poolCollector{
		pool:     pool,
		acquired: prometheus.NewDesc("sentinel_pgxpool_acquired", "Acquired database connections", nil, nil),
		idle:     prometheus.NewDesc("sentinel_pgxpool_idle", "Idle database connections", nil, nil),
		total:    prometheus.NewDesc("sentinel_pgxpool_total", "Total database connections", nil, nil),
	}
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.acquired
	ch <- c.idle
	ch <- c.total
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.pool.Stat()
	ch <- prometheus.MustNewConstMetric(c.acquired, prometheus.GaugeValue, float64(s.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(s.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(s.TotalConns()))
}
