// Package config loads the controller configuration from an optional YAML
// file, a .env file and environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all configuration values for the application.
type Config struct {
	// Database connection string
	DatabaseURL string
	StoreDriver string

	// HTTP server port for the controller
	HTTPPort int
	// PublicURL is used in reminder messages, e.g. "http://fleet:6161".
	PublicURL string

	OTELEndpoint string
	// LogLevel is one of debug, info, warn or error.
	LogLevel string

	// InternalTokenHash is the SHA-256 of the API token. Empty disables
	// token checks.
	InternalTokenHash string
	RateLimit         float64
	RateLimitBurst    int

	ThrottleLimit          int
	ThrottleExemptionsFile string

	DebugWindow          time.Duration
	DebugWindowHourly    time.Duration
	DebugScanInterval    time.Duration
	DebugScanConcurrency int
	DebugAutoGrant       bool

	UninstallCommand  string
	UninstallTimeout  time.Duration
	ReleaseLogDir     string
	K8sNamespace      string
	K8sKubeconfig     string
	EphemeralPrefixes []string

	NotifyWebhookURL string

	ZombieSweepInterval time.Duration
	ZombieMinAge        time.Duration

	CostFile string
}

// env maps config keys to their environment variables.
var env = map[string]string{
	"database_url":             "DATABASE_URL",
	"store_driver":             "STORE_DRIVER",
	"http_port":                "PORT",
	"public_url":               "PUBLIC_URL",
	"otel_endpoint":            "OTEL_EXPORTER_OTLP_ENDPOINT",
	"log_level":                "LOG_LEVEL",
	"internal_token_hash":      "INTERNAL_TOKEN_HASH",
	"rate_limit":               "RATE_LIMIT",
	"rate_limit_burst":         "RATE_LIMIT_BURST",
	"throttle_limit":           "THROTTLE_LIMIT",
	"throttle_exemptions_file": "THROTTLE_EXEMPTIONS_FILE",
	"debug_window":             "DEBUG_WINDOW",
	"debug_window_hourly":      "DEBUG_WINDOW_HOURLY",
	"debug_scan_interval":      "DEBUG_SCAN_INTERVAL",
	"debug_scan_concurrency":   "DEBUG_SCAN_CONCURRENCY",
	"debug_auto_grant":         "DEBUG_AUTO_GRANT",
	"uninstall_command":        "UNINSTALL_COMMAND",
	"uninstall_timeout":        "UNINSTALL_TIMEOUT",
	"release_log_dir":          "RELEASE_LOG_DIR",
	"k8s_namespace":            "K8S_NAMESPACE",
	"k8s_kubeconfig":           "KUBECONFIG",
	"ephemeral_prefixes":       "EPHEMERAL_PREFIXES",
	"notify_webhook_url":       "NOTIFY_WEBHOOK_URL",
	"zombie_sweep_interval":    "ZOMBIE_SWEEP_INTERVAL",
	"zombie_min_age":           "ZOMBIE_MIN_AGE",
	"cost_file":                "COST_FILE",
}

// Load reads configuration from path (optional), then .env and the
// environment. Environment variables win over the file.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetDefault("store_driver", DriverPostgres)
	v.SetDefault("http_port", 6161)
	v.SetDefault("public_url", "http://localhost:6161")
	v.SetDefault("otel_endpoint", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("rate_limit", 20)
	v.SetDefault("rate_limit_burst", 40)
	v.SetDefault("throttle_limit", 3)
	v.SetDefault("debug_window", 24*time.Hour)
	v.SetDefault("debug_window_hourly", 72*time.Hour)
	v.SetDefault("debug_scan_interval", 5*time.Minute)
	v.SetDefault("debug_scan_concurrency", 4)
	v.SetDefault("debug_auto_grant", true)
	v.SetDefault("uninstall_timeout", 10*time.Minute)
	v.SetDefault("k8s_namespace", "default")
	v.SetDefault("ephemeral_prefixes", []string{"k8s-", "docker-"})
	v.SetDefault("zombie_sweep_interval", 30*time.Minute)
	v.SetDefault("zombie_min_age", 2*time.Hour)

	for key, name := range env {
		if err := v.BindEnv(key, name); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", name, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		DatabaseURL:            v.GetString("database_url"),
		StoreDriver:            strings.ToLower(v.GetString("store_driver")),
		HTTPPort:               v.GetInt("http_port"),
		PublicURL:              strings.TrimRight(v.GetString("public_url"), "/"),
		OTELEndpoint:           v.GetString("otel_endpoint"),
		LogLevel:               v.GetString("log_level"),
		InternalTokenHash:      v.GetString("internal_token_hash"),
		RateLimit:              v.GetFloat64("rate_limit"),
		RateLimitBurst:         v.GetInt("rate_limit_burst"),
		ThrottleLimit:          v.GetInt("throttle_limit"),
		ThrottleExemptionsFile: v.GetString("throttle_exemptions_file"),
		DebugWindow:            v.GetDuration("debug_window"),
		DebugWindowHourly:      v.GetDuration("debug_window_hourly"),
		DebugScanInterval:      v.GetDuration("debug_scan_interval"),
		DebugScanConcurrency:   v.GetInt("debug_scan_concurrency"),
		DebugAutoGrant:         v.GetBool("debug_auto_grant"),
		UninstallCommand:       v.GetString("uninstall_command"),
		UninstallTimeout:       v.GetDuration("uninstall_timeout"),
		ReleaseLogDir:          v.GetString("release_log_dir"),
		K8sNamespace:           v.GetString("k8s_namespace"),
		K8sKubeconfig:          v.GetString("k8s_kubeconfig"),
		EphemeralPrefixes:      prefixes(v.GetStringSlice("ephemeral_prefixes")),
		NotifyWebhookURL:       v.GetString("notify_webhook_url"),
		ZombieSweepInterval:    v.GetDuration("zombie_sweep_interval"),
		ZombieMinAge:           v.GetDuration("zombie_min_age"),
		CostFile:               v.GetString("cost_file"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("database_url is required (env: DATABASE_URL)")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("invalid store_driver %q: must be %q or %q", c.StoreDriver, DriverPostgres, DriverMemory)
	}

	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port %d", c.HTTPPort)
	}
	if c.ThrottleLimit <= 0 {
		return fmt.Errorf("throttle_limit must be positive, got %d", c.ThrottleLimit)
	}
	for key, d := range map[string]time.Duration{
		"debug_window":          c.DebugWindow,
		"debug_window_hourly":   c.DebugWindowHourly,
		"debug_scan_interval":   c.DebugScanInterval,
		"zombie_sweep_interval": c.ZombieSweepInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %v", key, d)
		}
	}
	if c.DebugScanConcurrency <= 0 {
		return fmt.Errorf("debug_scan_concurrency must be positive, got %d", c.DebugScanConcurrency)
	}
	return nil
}

// prefixes accepts both a YAML list and a comma separated env value.
func prefixes(raw []string) []string {
	var out []string
	for _, r := range raw {
		for _, p := range strings.Split(r, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
