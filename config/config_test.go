package config

import (
	"reflect"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "ADDRESS", "ENV", "LOG_LEVEL", "METRICS_NAMESPACE", "SERVER_METRICS_PREFIX", "CLIENT_NAME", "PROBE_TARGETS", "PROBE_INTERVAL_SECONDS"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() with defaults failed: %v", err)
	}

	if cfg.Port != "8000" {
		t.Errorf("Port = %q, want 8000", cfg.Port)
	}
	if cfg.ServerMetricsPrefix != "http" {
		t.Errorf("ServerMetricsPrefix = %q, want http", cfg.ServerMetricsPrefix)
	}
	if cfg.ClientName != "http_client" {
		t.Errorf("ClientName = %q, want http_client", cfg.ClientName)
	}
	if cfg.ProbeIntervalSeconds != 30 {
		t.Errorf("ProbeIntervalSeconds = %d, want 30", cfg.ProbeIntervalSeconds)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9100")
	t.Setenv("METRICS_NAMESPACE", "myapp")
	t.Setenv("PROBE_TARGETS", "http://a.test/ping, http://b.test/ping")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "9100" {
		t.Errorf("Port = %q, want 9100", cfg.Port)
	}
	if cfg.MetricsNamespace != "myapp" {
		t.Errorf("MetricsNamespace = %q, want myapp", cfg.MetricsNamespace)
	}
	want := []string{"http://a.test/ping", "http://b.test/ping"}
	if !reflect.DeepEqual(cfg.ProbeTargets, want) {
		t.Errorf("ProbeTargets = %v, want %v", cfg.ProbeTargets, want)
	}
}

func TestValidateConfig(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Port:                 "8000",
			Address:              "127.0.0.1",
			Env:                  "dev",
			LogLevel:             "info",
			ServerMetricsPrefix:  "http",
			ClientName:           "http_client",
			ProbeIntervalSeconds: 30,
		}
	}

	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr bool
	}{
		{"valid defaults", func(cfg *Config) {}, false},
		{"empty port", func(cfg *Config) { cfg.Port = "" }, true},
		{"non-numeric port", func(cfg *Config) { cfg.Port = "abc" }, true},
		{"privileged port", func(cfg *Config) { cfg.Port = "80" }, true},
		{"port out of range", func(cfg *Config) { cfg.Port = "70000" }, true},
		{"bad address", func(cfg *Config) { cfg.Address = "not-an-ip" }, true},
		{"localhost address", func(cfg *Config) { cfg.Address = "localhost" }, false},
		{"bad env", func(cfg *Config) { cfg.Env = "production!" }, true},
		{"bad log level", func(cfg *Config) { cfg.LogLevel = "verbose" }, true},
		{"bad namespace", func(cfg *Config) { cfg.MetricsNamespace = "my-app" }, true},
		{"valid namespace", func(cfg *Config) { cfg.MetricsNamespace = "my_app" }, false},
		{"empty prefix", func(cfg *Config) { cfg.ServerMetricsPrefix = "" }, true},
		{"bad prefix", func(cfg *Config) { cfg.ServerMetricsPrefix = "9http" }, true},
		{"empty client name", func(cfg *Config) { cfg.ClientName = "" }, true},
		{"zero probe interval", func(cfg *Config) { cfg.ProbeIntervalSeconds = 0 }, true},
		{"bad probe target", func(cfg *Config) { cfg.ProbeTargets = []string{"ftp://x.test"} }, true},
		{"good probe target", func(cfg *Config) { cfg.ProbeTargets = []string{"https://x.test/ping"} }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := validateConfig(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"empty", "", nil},
		{"single", "http://a.test", []string{"http://a.test"}},
		{"spaces and empties", " http://a.test ,, http://b.test", []string{"http://a.test", "http://b.test"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := splitList(tt.input); !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("splitList(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}
