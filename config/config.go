// Package config has the configuration file for the app
package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// Config holds all application configuration
type Config struct {
	Port                 string
	Address              string
	Env                  string
	LogLevel             string
	MetricsNamespace     string   // Optional prefix prepended to all metric names
	ServerMetricsPrefix  string   // Name prefix for server-side metrics
	ClientName           string   // client_name label for client-side metrics
	ProbeTargets         []string // URLs probed periodically through the instrumented client
	ProbeIntervalSeconds int
}

// metricNamePattern matches valid Prometheus metric name fragments.
var metricNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Load loads and validates configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:                 getEnvWithDefault("PORT", "8000"),
		Address:              getEnvWithDefault("ADDRESS", "127.0.0.1"),
		Env:                  getEnvWithDefault("ENV", "dev"),
		LogLevel:             getEnvWithDefault("LOG_LEVEL", "info"),
		MetricsNamespace:     getEnvWithDefault("METRICS_NAMESPACE", ""),
		ServerMetricsPrefix:  getEnvWithDefault("SERVER_METRICS_PREFIX", "http"),
		ClientName:           getEnvWithDefault("CLIENT_NAME", "http_client"),
		ProbeTargets:         splitList(getEnvWithDefault("PROBE_TARGETS", "")),
		ProbeIntervalSeconds: getIntEnvWithDefault("PROBE_INTERVAL_SECONDS", 30),
	}

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// validateConfig validates all configuration values
func validateConfig(cfg *Config) error {
	if err := validatePort(cfg.Port); err != nil {
		return fmt.Errorf("invalid PORT: %w", err)
	}

	if err := validateAddress(cfg.Address); err != nil {
		return fmt.Errorf("invalid ADDRESS: %w", err)
	}

	if err := validateEnv(cfg.Env); err != nil {
		return fmt.Errorf("invalid ENV: %w", err)
	}

	if err := validateLogLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	if err := validateMetricName(cfg.MetricsNamespace, "METRICS_NAMESPACE", true); err != nil {
		return err
	}

	if err := validateMetricName(cfg.ServerMetricsPrefix, "SERVER_METRICS_PREFIX", false); err != nil {
		return err
	}

	if cfg.ClientName == "" {
		return fmt.Errorf("invalid CLIENT_NAME: cannot be empty")
	}

	if cfg.ProbeIntervalSeconds < 1 {
		return fmt.Errorf("invalid PROBE_INTERVAL_SECONDS: must be positive, got: %d", cfg.ProbeIntervalSeconds)
	}

	for _, target := range cfg.ProbeTargets {
		if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
			return fmt.Errorf("invalid PROBE_TARGETS entry %q: must be an http or https URL", target)
		}
	}

	return nil
}

// validatePort validates the PORT environment variable
func validatePort(port string) error {
	if port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}

	portNum, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("PORT must be a valid number: %w", err)
	}

	if portNum < 1 || portNum > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535")
	}

	if portNum < 1024 {
		return fmt.Errorf("PORT %d is privileged (less than 1024), use ports 1024-65535", portNum)
	}

	return nil
}

// validateAddress validates the ADDRESS environment variable
func validateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("ADDRESS cannot be empty")
	}

	if address == "127.0.0.1" || address == "::1" || address == "localhost" {
		return nil
	}

	if ip := net.ParseIP(address); ip == nil {
		return fmt.Errorf("ADDRESS must be a valid IP address or 'localhost', got: %s", address)
	}

	return nil
}

// validateEnv validates the ENV environment variable
func validateEnv(env string) error {
	if env == "" {
		return fmt.Errorf("ENV cannot be empty")
	}

	validEnvs := []string{"dev", "staging", "prod", "test"}
	env = strings.ToLower(env)

	for _, validEnv := range validEnvs {
		if env == validEnv {
			return nil
		}
	}

	return fmt.Errorf("ENV must be one of: %v, got: %s", validEnvs, env)
}

// validateLogLevel validates the LOG_LEVEL environment variable
func validateLogLevel(logLevel string) error {
	if logLevel == "" {
		return fmt.Errorf("LOG_LEVEL cannot be empty")
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	logLevel = strings.ToLower(logLevel)

	for _, level := range validLevels {
		if logLevel == level {
			return nil
		}
	}

	return fmt.Errorf("LOG_LEVEL must be one of: %v, got: %s", validLevels, logLevel)
}

// validateMetricName validates a metric name fragment; empty values are
// allowed only when optional is set.
func validateMetricName(name, configName string, optional bool) error {
	if name == "" {
		if optional {
			return nil
		}
		return fmt.Errorf("invalid %s: cannot be empty", configName)
	}

	if !metricNamePattern.MatchString(name) {
		return fmt.Errorf("invalid %s: must match %s, got: %s", configName, metricNamePattern.String(), name)
	}

	return nil
}

// splitList splits a comma-separated list, trimming whitespace and dropping
// empty entries.
func splitList(value string) []string {
	if value == "" {
		return nil
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvWithDefault gets an environment variable with a default value
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnvWithDefault gets an environment variable as int with a default value
func getIntEnvWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
