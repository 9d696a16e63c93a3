// Package trace instruments outbound HTTP requests with Prometheus metrics.
// Transport wraps an http.RoundTripper and accounts every attempt: request
// counters and latency, in-flight gauge, body bytes in both directions,
// redirect hops, transport errors, plus the connection pool and DNS phases
// reported by net/http/httptrace. Resolver adds a TTL DNS cache that feeds
// the cache hit/miss counters.
package trace

import (
	"io"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/giygas/httpmetrics/metrics"
)

// DefaultClientName is the client_name label used when none is configured.
const DefaultClientName = "http_client"

// Transport records client metrics around a base RoundTripper. It is safe
// for concurrent use; each in-flight attempt carries its own trace state.
type Transport struct {
	base       http.RoundTripper
	store      *metrics.ClientMetrics
	clientName string
}

// NewTransport wraps base with metric recording against store. A nil base
// falls back to http.DefaultTransport; an empty clientName falls back to
// DefaultClientName.
func NewTransport(base http.RoundTripper, store *metrics.ClientMetrics, clientName string) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	if clientName == "" {
		clientName = DefaultClientName
	}
	return &Transport{base: base, store: store, clientName: clientName}
}

// NewClient returns an http.Client whose transport records metrics against
// store.
func NewClient(store *metrics.ClientMetrics, clientName string) *http.Client {
	return &http.Client{Transport: NewTransport(nil, store, clientName)}
}

// hopTrace holds per-attempt phase start times. httptrace may invoke hooks
// from different goroutines, so access is mutex guarded. A missing start
// time records a zero elapsed instead of failing.
type hopTrace struct {
	mu              sync.Mutex
	connQueuedStart time.Time
	connCreateStart time.Time
	dnsStart        time.Time
	dnsHost         string
}

// RoundTrip implements http.RoundTripper.
//
// The in-flight gauge is incremented per attempt and decremented on every
// outcome (final response, redirect hop, transport error); http.Client
// issues each redirect hop as a separate attempt, so across a followed
// redirect the gauge migrates from the old target to the new one. A request
// with N redirects increments the requests counter N+1 times: once per
// redirect hop with the hop's status, once with the final status. Duration
// is observed on non-redirect responses only.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	method := req.Method
	scheme := req.URL.Scheme
	host := req.URL.Hostname()

	t.store.RequestsInProgress.WithLabelValues(t.clientName, method, scheme, host).Inc()

	start := time.Now()
	hop := &hopTrace{}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), t.clientTrace(hop)))

	if req.Body != nil {
		req.Body = &countingReadCloser{
			rc:      req.Body,
			counter: t.store.ChunksSent.WithLabelValues(t.clientName),
		}
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		t.store.RequestsExceptions.WithLabelValues(t.clientName, method, scheme, host, metrics.TypeName(err)).Inc()
		t.store.RequestsInProgress.WithLabelValues(t.clientName, method, scheme, host).Dec()
		return nil, err
	}

	status := strconv.Itoa(resp.StatusCode)
	t.store.RequestsInProgress.WithLabelValues(t.clientName, method, scheme, host).Dec()
	t.store.Requests.WithLabelValues(t.clientName, method, scheme, host, status).Inc()

	if target := redirectTarget(req, resp); target != nil {
		t.store.RequestsRedirect.WithLabelValues(t.clientName, method, scheme, host, status).Inc()
	} else {
		t.store.RequestDuration.WithLabelValues(t.clientName, method, scheme, host, status).Observe(elapsedSince(start))
	}

	if resp.Body != nil {
		resp.Body = &countingReadCloser{
			rc:      resp.Body,
			counter: t.store.ChunksReceived.WithLabelValues(t.clientName),
		}
	}
	return resp, nil
}

// CloseIdleConnections forwards to the base transport so http.Client can
// still reach it through the wrapper.
func (t *Transport) CloseIdleConnections() {
	if ci, ok := t.base.(interface{ CloseIdleConnections() }); ok {
		ci.CloseIdleConnections()
	}
}

func (t *Transport) clientTrace(hop *hopTrace) *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		GetConn: func(string) {
			hop.mu.Lock()
			hop.connQueuedStart = time.Now()
			hop.mu.Unlock()
		},
		GotConn: func(info httptrace.GotConnInfo) {
			hop.mu.Lock()
			queuedStart := hop.connQueuedStart
			hop.connQueuedStart = time.Time{}
			hop.mu.Unlock()

			t.store.ConnectionQueued.WithLabelValues(t.clientName).Observe(elapsedSince(queuedStart))
			if info.Reused {
				t.store.ConnectionReuse.WithLabelValues(t.clientName).Inc()
			}
		},
		ConnectStart: func(network, addr string) {
			hop.mu.Lock()
			// Happy Eyeballs may dial several addresses; keep the first start.
			if hop.connCreateStart.IsZero() {
				hop.connCreateStart = time.Now()
			}
			hop.mu.Unlock()
		},
		ConnectDone: func(network, addr string, err error) {
			hop.mu.Lock()
			createStart := hop.connCreateStart
			hop.connCreateStart = time.Time{}
			hop.mu.Unlock()

			if err == nil {
				t.store.ConnectionCreate.WithLabelValues(t.clientName).Observe(elapsedSince(createStart))
			}
		},
		DNSStart: func(info httptrace.DNSStartInfo) {
			hop.mu.Lock()
			hop.dnsStart = time.Now()
			hop.dnsHost = info.Host
			hop.mu.Unlock()
		},
		DNSDone: func(httptrace.DNSDoneInfo) {
			hop.mu.Lock()
			dnsStart := hop.dnsStart
			dnsHost := hop.dnsHost
			hop.dnsStart = time.Time{}
			hop.mu.Unlock()

			t.store.DNSResolve.WithLabelValues(t.clientName, dnsHost).Observe(elapsedSince(dnsStart))
		},
	}
}

func elapsedSince(start time.Time) float64 {
	if start.IsZero() {
		return 0
	}
	return time.Since(start).Seconds()
}

func isRedirect(resp *http.Response) bool {
	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return resp.Header.Get("Location") != ""
	}
	return false
}

// redirectTarget resolves the Location header of a redirect response against
// the hop's request URL. It returns nil for non-redirect responses and
// unparseable locations; those hops are accounted as final responses.
func redirectTarget(req *http.Request, resp *http.Response) *url.URL {
	if !isRedirect(resp) {
		return nil
	}
	u, err := req.URL.Parse(resp.Header.Get("Location"))
	if err != nil {
		return nil
	}
	return u
}

// countingReadCloser adds each read's byte count to a counter. It wraps
// request bodies (bytes handed to the transport) and response bodies (bytes
// handed to the caller).
type countingReadCloser struct {
	rc      io.ReadCloser
	counter prometheus.Counter
}

func (c *countingReadCloser) Read(p []byte) (int, error) {
	n, err := c.rc.Read(p)
	if n > 0 {
		c.counter.Add(float64(n))
	}
	return n, err
}

func (c *countingReadCloser) Close() error {
	return c.rc.Close()
}
