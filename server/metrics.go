package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/jrsteele09/go-consent-server/consent"
	"github.com/jrsteele09/go-consent-server/oauth2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "consent_server"

// Metrics owns a private registry so tests can build several servers in one process.
type Metrics struct {
	registry   *prometheus.Registry
	challenges *prometheus.CounterVec
	grants     *prometheus.CounterVec
	keys       *prometheus.CounterVec
	requests   *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

func NewMetrics(version string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	factory.NewGauge(prometheus.GaugeOpts{
		Namespace:   metricsNamespace,
		Name:        "build_info",
		Help:        "Always 1, labelled with the running version.",
		ConstLabels: prometheus.Labels{"version": version},
	}).Set(1)

	return &Metrics{
		registry: reg,
		challenges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "challenges_total",
			Help:      "Login, consent and logout challenges by state transition.",
		}, []string{"kind", "status"}),
		grants: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "token_requests_total",
			Help:      "Token endpoint requests by grant type and result.",
		}, []string{"grant_type", "result"}),
		keys: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "key_operations_total",
			Help:      "Admin key operations by set and operation.",
		}, []string{"set", "operation"}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// ObserveChallenge is a consent.Observer.
func (m *Metrics) ObserveChallenge(kind consent.Kind, status consent.Status) {
	m.challenges.WithLabelValues(string(kind), string(status)).Inc()
}

// ObserveGrant counts a token request. Failures are labelled with the OAuth2 error name.
func (m *Metrics) ObserveGrant(grantType oauth2.GrantType, err error) {
	result := "success"
	if err != nil {
		result = errorName(err)
	}
	if grantType == "" {
		grantType = "none"
	}
	m.grants.WithLabelValues(string(grantType), result).Inc()
}

func (m *Metrics) observeKeyOperation(set, operation string) {
	m.keys.WithLabelValues(set, operation).Inc()
}

func (m *Metrics) observeRequest(r *http.Request, status int, duration time.Duration) {
	route := r.Pattern
	if route == "" {
		route = "unmatched"
	}
	m.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(route).Observe(duration.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
