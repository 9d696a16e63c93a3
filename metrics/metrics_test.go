package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestStoreCacheReusesServerStore(t *testing.T) {
	reg := prometheus.NewRegistry()
	cache := NewStoreCache()

	first, err := cache.Server("http", "", reg)
	if err != nil {
		t.Fatalf("first construction failed: %v", err)
	}
	second, err := cache.Server("http", "", reg)
	if err != nil {
		t.Fatalf("second construction failed: %v", err)
	}

	if first != second {
		t.Error("expected the same store for the same (prefix, namespace, registry)")
	}

	// Both handles must update the same collectors
	first.Requests.WithLabelValues("GET", "http", "127.0.0.1", "/ping").Inc()
	got := testutil.ToFloat64(second.Requests.WithLabelValues("GET", "http", "127.0.0.1", "/ping"))
	if got != 1 {
		t.Errorf("expected shared counter value 1, got %v", got)
	}
}

func TestStoreCacheReusesClientStore(t *testing.T) {
	reg := prometheus.NewRegistry()
	cache := NewStoreCache()

	first, err := cache.Client("", reg)
	if err != nil {
		t.Fatalf("first construction failed: %v", err)
	}
	second, err := cache.Client("", reg)
	if err != nil {
		t.Fatalf("second construction failed: %v", err)
	}

	if first != second {
		t.Error("expected the same store for the same (namespace, registry)")
	}
}

func TestStoreCacheSeparatesRegistries(t *testing.T) {
	cache := NewStoreCache()

	first, err := cache.Server("http", "", prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("first construction failed: %v", err)
	}
	second, err := cache.Server("http", "", prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("second construction failed: %v", err)
	}

	if first == second {
		t.Error("expected distinct stores for distinct registries")
	}
}

func TestStoreCacheSeparatesNamespaces(t *testing.T) {
	reg := prometheus.NewRegistry()
	cache := NewStoreCache()

	first, err := cache.Server("http", "alpha", reg)
	if err != nil {
		t.Fatalf("alpha construction failed: %v", err)
	}
	second, err := cache.Server("http", "beta", reg)
	if err != nil {
		t.Fatalf("beta construction failed: %v", err)
	}

	if first == second {
		t.Error("expected distinct stores for distinct namespaces")
	}
}

func TestConflictingRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()

	// Occupy the requests name with a different label set
	conflicting := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total requests by method, scheme, remote and path template.",
		},
		[]string{"method"},
	)
	reg.MustRegister(conflicting)

	if _, err := NewServerMetrics("http", "", reg); err == nil {
		t.Fatal("expected a configuration error for conflicting metric definitions")
	}
}

func TestTypeName(t *testing.T) {
	tests := []struct {
		name     string
		value    any
		expected string
	}{
		{"stdlib error", errors.New("boom"), "errorString"},
		{"pointer type", &HTTPError{Code: 404}, "HTTPError"},
		{"string panic", "something broke", "string"},
		{"int panic", 42, "int"},
		{"nil", nil, "nil"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TypeName(tt.value); got != tt.expected {
				t.Errorf("TypeName(%v) = %q, want %q", tt.value, got, tt.expected)
			}
		})
	}
}
