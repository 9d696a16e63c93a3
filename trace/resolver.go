package trace

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/giygas/httpmetrics/metrics"
)

// DefaultResolverTTL is how long cached lookups stay valid when no TTL is
// configured.
const DefaultResolverTTL = 30 * time.Second

// LookupFunc resolves a host name to addresses.
type LookupFunc func(ctx context.Context, host string) ([]string, error)

// Resolver is a TTL caching host resolver that records DNS cache hits and
// misses per host. Resolution latency itself is observed by the Transport's
// httptrace hooks, which fire on real lookups only, so serving from the
// cache records a hit and no latency sample.
type Resolver struct {
	store      *metrics.ClientMetrics
	clientName string
	lookup     LookupFunc
	ttl        time.Duration

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	addrs   []string
	expires time.Time
}

// NewResolver creates a caching resolver recording against store. A nil
// lookup uses net.DefaultResolver; a non-positive ttl uses
// DefaultResolverTTL.
func NewResolver(store *metrics.ClientMetrics, clientName string, ttl time.Duration, lookup LookupFunc) *Resolver {
	if clientName == "" {
		clientName = DefaultClientName
	}
	if ttl <= 0 {
		ttl = DefaultResolverTTL
	}
	if lookup == nil {
		lookup = net.DefaultResolver.LookupHost
	}
	return &Resolver{
		store:      store,
		clientName: clientName,
		lookup:     lookup,
		ttl:        ttl,
		cache:      make(map[string]cacheEntry),
	}
}

// LookupHost resolves host, serving from the cache when a fresh entry
// exists. Failed lookups are not cached.
func (r *Resolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	r.mu.Lock()
	entry, ok := r.cache[host]
	r.mu.Unlock()

	if ok && time.Now().Before(entry.expires) {
		r.store.DNSCacheHit.WithLabelValues(r.clientName, host).Inc()
		return entry.addrs, nil
	}

	r.store.DNSCacheMiss.WithLabelValues(r.clientName, host).Inc()

	addrs, err := r.lookup(ctx, host)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[host] = cacheEntry{addrs: addrs, expires: time.Now().Add(r.ttl)}
	r.mu.Unlock()

	return addrs, nil
}

// DialContext returns a dial function that resolves host names through the
// cache, for use as http.Transport.DialContext. Literal IP addresses and
// unparseable targets bypass the cache; when the cached lookup fails the
// base dialer is used directly so the connection still has a chance.
func (r *Resolver) DialContext(base func(ctx context.Context, network, addr string) (net.Conn, error)) func(ctx context.Context, network, addr string) (net.Conn, error) {
	if base == nil {
		d := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
		base = d.DialContext
	}

	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil || net.ParseIP(host) != nil {
			return base(ctx, network, addr)
		}

		addrs, err := r.LookupHost(ctx, host)
		if err != nil || len(addrs) == 0 {
			return base(ctx, network, addr)
		}

		var firstErr error
		for _, ip := range addrs {
			conn, err := base(ctx, network, net.JoinHostPort(ip, port))
			if err == nil {
				return conn, nil
			}
			if firstErr == nil {
				firstErr = err
			}
		}
		return nil, firstErr
	}
}
