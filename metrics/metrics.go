// Package metrics provides Prometheus metric stores for HTTP server and
// client instrumentation, plus the middleware that feeds the server-side
// store. Server metrics track requests, responses, latency, in-flight count
// and handler panics keyed by method, scheme, remote and route template.
// Client metrics track the outbound request lifecycle: per-request counters
// and latency, body bytes in both directions, redirects, transport errors,
// connection pool behavior and DNS resolution.
//
// Stores are registered once per (prefix, namespace, registry) identity
// through a StoreCache, so constructing several middlewares or transports
// against the same registry reuses the same collectors instead of failing
// with duplicate registration errors.
package metrics

import (
	"fmt"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultServerPrefix is the metric name prefix used by server stores when
// none is configured.
const DefaultServerPrefix = "http"

// ClientSubsystem is the fixed subsystem of all client-side metric names.
const ClientSubsystem = "http_client"

// DurationBuckets are the histogram buckets used for all latency metrics.
var DurationBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5}

// ServerMetrics holds the collectors recorded by the server middleware.
// All metrics are labeled by method, scheme, remote and path_template,
// plus status_code or exception_type where noted.
type ServerMetrics struct {
	Requests           *prometheus.CounterVec
	Responses          *prometheus.CounterVec // + status_code
	RequestDuration    *prometheus.HistogramVec
	RequestsInProgress *prometheus.GaugeVec
	Exceptions         *prometheus.CounterVec // + exception_type
}

// ClientMetrics holds the collectors recorded by the client trace transport.
// Every metric carries a constant client_name label.
type ClientMetrics struct {
	Requests           *prometheus.CounterVec   // method, scheme, remote, status_code
	RequestsInProgress *prometheus.GaugeVec     // method, scheme, remote
	RequestDuration    *prometheus.HistogramVec // method, scheme, remote, status_code
	ChunksSent         *prometheus.CounterVec
	ChunksReceived     *prometheus.CounterVec
	RequestsExceptions *prometheus.CounterVec // method, scheme, remote, exception_name
	RequestsRedirect   *prometheus.CounterVec // method, scheme, remote, status_code
	ConnectionQueued   *prometheus.HistogramVec
	ConnectionCreate   *prometheus.HistogramVec
	ConnectionReuse    *prometheus.CounterVec
	DNSResolve         *prometheus.HistogramVec // host
	DNSCacheHit        *prometheus.CounterVec   // host
	DNSCacheMiss       *prometheus.CounterVec   // host
}

// NewServerMetrics builds and registers the server-side collectors against
// reg. A nil registry falls back to the Prometheus default registerer.
// Conflicting registrations (same name, different labels) are configuration
// errors and surface here.
func NewServerMetrics(prefix, namespace string, reg prometheus.Registerer) (*ServerMetrics, error) {
	if prefix == "" {
		prefix = DefaultServerPrefix
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &ServerMetrics{
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: prefix,
				Name:      "requests_total",
				Help:      "Total requests by method, scheme, remote and path template.",
			},
			[]string{"method", "scheme", "remote", "path_template"},
		),
		Responses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: prefix,
				Name:      "responses_total",
				Help:      "Total responses by method, scheme, remote, path template and status code.",
			},
			[]string{"method", "scheme", "remote", "path_template", "status_code"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: prefix,
				Name:      "request_duration_seconds",
				Help:      "Request processing time by method, scheme, remote, path template and status code.",
				Buckets:   DurationBuckets,
			},
			[]string{"method", "scheme", "remote", "path_template", "status_code"},
		),
		RequestsInProgress: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: prefix,
				Name:      "requests_in_progress",
				Help:      "Requests currently being processed by method, scheme, remote and path template.",
			},
			[]string{"method", "scheme", "remote", "path_template"},
		),
		Exceptions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: prefix,
				Name:      "exceptions_total",
				Help:      "Total handler panics by method, scheme, remote, path template and exception type.",
			},
			[]string{"method", "scheme", "remote", "path_template", "exception_type"},
		),
	}

	if err := registerAll(reg, m.Requests, m.Responses, m.RequestDuration, m.RequestsInProgress, m.Exceptions); err != nil {
		return nil, err
	}
	return m, nil
}

// NewClientMetrics builds and registers the client-side collectors against
// reg. A nil registry falls back to the Prometheus default registerer.
func NewClientMetrics(namespace string, reg prometheus.Registerer) (*ClientMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &ClientMetrics{
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: ClientSubsystem,
				Name:      "requests_total",
				Help:      "Total client requests by client name, method, scheme, remote and status code.",
			},
			[]string{"client_name", "method", "scheme", "remote", "status_code"},
		),
		RequestsInProgress: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: ClientSubsystem,
				Name:      "requests_in_progress",
				Help:      "Client requests currently in flight by client name, method, scheme and remote.",
			},
			[]string{"client_name", "method", "scheme", "remote"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: ClientSubsystem,
				Name:      "request_duration_seconds",
				Help:      "Client request processing time by client name, method, scheme, remote and status code.",
				Buckets:   DurationBuckets,
			},
			[]string{"client_name", "method", "scheme", "remote", "status_code"},
		),
		ChunksSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: ClientSubsystem,
				Name:      "chunks_sent_bytes_total",
				Help:      "Total request body bytes sent by client name.",
			},
			[]string{"client_name"},
		),
		ChunksReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: ClientSubsystem,
				Name:      "chunks_received_bytes_total",
				Help:      "Total response body bytes received by client name.",
			},
			[]string{"client_name"},
		),
		RequestsExceptions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: ClientSubsystem,
				Name:      "requests_exceptions_total",
				Help:      "Total failed client requests by client name, method, scheme, remote and exception name.",
			},
			[]string{"client_name", "method", "scheme", "remote", "exception_name"},
		),
		RequestsRedirect: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: ClientSubsystem,
				Name:      "requests_redirect_total",
				Help:      "Total redirect hops by client name, method, scheme, remote and status code.",
			},
			[]string{"client_name", "method", "scheme", "remote", "status_code"},
		),
		ConnectionQueued: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: ClientSubsystem,
				Name:      "connection_queued_seconds",
				Help:      "Time spent waiting for a connection from the pool by client name.",
				Buckets:   DurationBuckets,
			},
			[]string{"client_name"},
		),
		ConnectionCreate: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: ClientSubsystem,
				Name:      "connection_create_seconds",
				Help:      "Time spent establishing new connections by client name.",
				Buckets:   DurationBuckets,
			},
			[]string{"client_name"},
		),
		ConnectionReuse: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: ClientSubsystem,
				Name:      "connection_reuseconn_total",
				Help:      "Total pooled connection reuses by client name.",
			},
			[]string{"client_name"},
		),
		DNSResolve: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: ClientSubsystem,
				Name:      "dns_resolvehost_seconds",
				Help:      "DNS resolution time by client name and host.",
				Buckets:   DurationBuckets,
			},
			[]string{"client_name", "host"},
		),
		DNSCacheHit: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: ClientSubsystem,
				Name:      "dns_cache_hit_total",
				Help:      "Total DNS cache hits by client name and host.",
			},
			[]string{"client_name", "host"},
		),
		DNSCacheMiss: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: ClientSubsystem,
				Name:      "dns_cache_miss_total",
				Help:      "Total DNS cache misses by client name and host.",
			},
			[]string{"client_name", "host"},
		),
	}

	if err := registerAll(reg,
		m.Requests, m.RequestsInProgress, m.RequestDuration,
		m.ChunksSent, m.ChunksReceived,
		m.RequestsExceptions, m.RequestsRedirect,
		m.ConnectionQueued, m.ConnectionCreate, m.ConnectionReuse,
		m.DNSResolve, m.DNSCacheHit, m.DNSCacheMiss,
	); err != nil {
		return nil, err
	}
	return m, nil
}

func registerAll(reg prometheus.Registerer, collectors ...prometheus.Collector) error {
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("metrics registration failed: %w", err)
		}
	}
	return nil
}

type serverKey struct {
	prefix    string
	namespace string
	registry  prometheus.Registerer
}

type clientKey struct {
	namespace string
	registry  prometheus.Registerer
}

// StoreCache memoizes metric stores per (prefix, namespace, registry)
// identity so repeated construction reuses the same collectors. It belongs
// to the composition root and is passed to whoever builds middlewares or
// transports; DefaultCache serves callers that do not need isolation.
type StoreCache struct {
	mu     sync.Mutex
	server map[serverKey]*ServerMetrics
	client map[clientKey]*ClientMetrics
}

// DefaultCache is the shared process-wide store cache.
var DefaultCache = NewStoreCache()

// NewStoreCache creates an empty, independent store cache.
func NewStoreCache() *StoreCache {
	return &StoreCache{
		server: make(map[serverKey]*ServerMetrics),
		client: make(map[clientKey]*ClientMetrics),
	}
}

// Server returns the server store for (prefix, namespace, reg), registering
// its collectors on first use. Safe for concurrent construction.
func (c *StoreCache) Server(prefix, namespace string, reg prometheus.Registerer) (*ServerMetrics, error) {
	if prefix == "" {
		prefix = DefaultServerPrefix
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	key := serverKey{prefix: prefix, namespace: namespace, registry: reg}

	c.mu.Lock()
	defer c.mu.Unlock()

	if m, ok := c.server[key]; ok {
		return m, nil
	}
	m, err := NewServerMetrics(prefix, namespace, reg)
	if err != nil {
		return nil, err
	}
	c.server[key] = m
	return m, nil
}

// Client returns the client store for (namespace, reg), registering its
// collectors on first use. Safe for concurrent construction.
func (c *StoreCache) Client(namespace string, reg prometheus.Registerer) (*ClientMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	key := clientKey{namespace: namespace, registry: reg}

	c.mu.Lock()
	defer c.mu.Unlock()

	if m, ok := c.client[key]; ok {
		return m, nil
	}
	m, err := NewClientMetrics(namespace, reg)
	if err != nil {
		return nil, err
	}
	c.client[key] = m
	return m, nil
}

// TypeName returns the concrete type name of v, with pointers dereferenced,
// for use as an exception_type or exception_name label value.
func TypeName(v any) string {
	if v == nil {
		return "nil"
	}
	t := strings.TrimLeft(fmt.Sprintf("%T", v), "*")
	if i := strings.LastIndex(t, "."); i >= 0 {
		t = t[i+1:]
	}
	return t
}
