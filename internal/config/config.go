// Package config provides configuration loading, validation, and hot-reload
// for AstraGuard.
//
// Configuration file: /etc/astraguard/config.yaml (default)
// Schema version: 1
//
// Hot-reload:
//   - The service listens for SIGHUP.
//   - On SIGHUP: re-read and re-validate the mission phase policy file
//     only (policy.policy_file) and atomically swap it into the running
//     policy.Engine via Engine.Reload.
//   - Every other setting (storage paths, API bind address, reliability
//     thresholds) is destructive and requires a restart.
//   - If the new policy file is invalid, the old policy remains active
//     and an error is logged. The service does NOT crash on invalid
//     hot-reload input.
//
// Validation:
//   - All required fields must be present.
//   - Numeric ranges enforced (weights/thresholds in their documented
//     domains, capacities > 0).
//   - Required file paths must be non-empty (they are not checked for
//     being absolute).
//   - Invalid config on startup: the service refuses to start.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Version, GitCommit, BuildTime are injected at build time via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Config is the root configuration structure for AstraGuard.
type Config struct {
	SchemaVersion string `yaml:"schema_version"`

	// NodeID identifies this AstraGuard instance in logs and the audit
	// ledger. Default: hostname.
	NodeID string `yaml:"node_id"`

	Detector      DetectorConfig      `yaml:"detector"`
	Policy        PolicyConfig        `yaml:"policy"`
	Reliability   ReliabilityConfig   `yaml:"reliability"`
	History       HistoryConfig       `yaml:"history"`
	Feedback      FeedbackConfig      `yaml:"feedback"`
	HIL           HILConfig           `yaml:"hil"`
	Storage       StorageConfig       `yaml:"storage"`
	Observability ObservabilityConfig `yaml:"observability"`
	API           APIConfig           `yaml:"api"`
}

// DetectorConfig holds anomaly detector parameters.
type DetectorConfig struct {
	// BaselineFile, if set, is loaded into the native detector at startup
	// (one JSON Baseline envelope per satellite, §4.8).
	BaselineFile string `yaml:"baseline_file"`

	// ClassifyTimeout is validated (> 0) but not passed to the detector:
	// anomaly.NewDetector bounds each native classification attempt with
	// a fixed 2s timeout regardless of this value. Default: 2s.
	ClassifyTimeout time.Duration `yaml:"classify_timeout"`
}

// PolicyConfig points at the mission-phase policy document.
type PolicyConfig struct {
	// PolicyFile is the YAML document defining the PhasePolicy table.
	// Reloaded on SIGHUP.
	PolicyFile string `yaml:"policy_file"`
}

// ReliabilityConfig holds circuit breaker and retry parameters (§5). They
// are validated at load but not passed to the detector, which builds its
// breaker and retry policy from reliability.DefaultCircuitBreakerConfig
// and reliability.DefaultRetryConfig.
type ReliabilityConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`

	RetryMaxAttempts int           `yaml:"retry_max_attempts"`
	RetryBaseDelay   time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay    time.Duration `yaml:"retry_max_delay"`
}

// HistoryConfig holds the bounded in-memory decision history parameters.
type HistoryConfig struct {
	// Capacity is the ring buffer size. Default: 10000.
	Capacity int `yaml:"capacity"`

	// RecurrenceWindow is the sliding window for per-type recurrence
	// tracking. Default: 1h.
	RecurrenceWindow time.Duration `yaml:"recurrence_window"`
}

// FeedbackConfig holds the feedback journal parameters.
type FeedbackConfig struct {
	// JournalPath is the JSON file the feedback journal persists to.
	JournalPath string `yaml:"journal_path"`
}

// HILConfig holds hardware-in-the-loop metrics export parameters.
type HILConfig struct {
	// ResultsDir is the root directory runs are written under
	// (<results_dir>/<run_id>/...).
	ResultsDir string `yaml:"results_dir"`
}

// StorageConfig holds BoltDB parameters.
type StorageConfig struct {
	// DBPath is the absolute path to the BoltDB file.
	DBPath string `yaml:"db_path"`

	// RetentionWindow is the audit ledger retention period. Default: 6h.
	RetentionWindow time.Duration `yaml:"retention_window"`
}

// ObservabilityConfig holds metrics and logging parameters.
type ObservabilityConfig struct {
	// MetricsAddr is the Prometheus metrics HTTP bind address.
	// Default: 127.0.0.1:9091.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls the minimum log level (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// LogFormat controls the log output format (json, console).
	LogFormat string `yaml:"log_format"`
}

// APIConfig holds the HTTP telemetry/control API parameters (§4.10).
type APIConfig struct {
	// ListenAddr is the HTTP bind address. Default: 0.0.0.0:8080.
	ListenAddr string `yaml:"listen_addr"`

	// APIKey, if non-empty, is required via the X-API-Key header on every
	// request except GET /health. This check is a minimal boundary guard, not an
	// authoritative access-control system.
	APIKey string `yaml:"api_key"`

	// MaxBatchSize caps the number of samples accepted by the telemetry
	// batch endpoint in a single request. Default: 1000.
	MaxBatchSize int `yaml:"max_batch_size"`
}

// Defaults returns a Config populated with all default values.
func Defaults() Config {
	hostname, _ := os.Hostname()
	return Config{
		SchemaVersion: "1",
		NodeID:        hostname,
		Detector: DetectorConfig{
			ClassifyTimeout: 2 * time.Second,
		},
		Policy: PolicyConfig{
			PolicyFile: "/etc/astraguard/policy.yaml",
		},
		Reliability: ReliabilityConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			RecoveryTimeout:  60 * time.Second,
			RetryMaxAttempts: 3,
			RetryBaseDelay:   500 * time.Millisecond,
			RetryMaxDelay:    8 * time.Second,
		},
		History: HistoryConfig{
			Capacity:         10000,
			RecurrenceWindow: time.Hour,
		},
		Feedback: FeedbackConfig{
			JournalPath: "/var/lib/astraguard/feedback.json",
		},
		HIL: HILConfig{
			ResultsDir: "/var/lib/astraguard/hil-results",
		},
		Storage: StorageConfig{
			DBPath:          DefaultDBPath,
			RetentionWindow: 6 * time.Hour,
		},
		Observability: ObservabilityConfig{
			MetricsAddr: "127.0.0.1:9091",
			LogLevel:    "info",
			LogFormat:   "json",
		},
		API: APIConfig{
			ListenAddr:   "0.0.0.0:8080",
			MaxBatchSize: 1000,
		},
	}
}

// DefaultDBPath mirrors the storage package constant for use in config defaults.
const DefaultDBPath = "/var/lib/astraguard/astraguard.db"

// Load reads and validates a config file from the given path.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks all config fields for correctness, returning a
// descriptive error listing every violation found.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.SchemaVersion != "1" {
		errs = append(errs, fmt.Sprintf("schema_version must be \"1\", got %q", cfg.SchemaVersion))
	}
	if cfg.NodeID == "" {
		errs = append(errs, "node_id must not be empty")
	}
	if cfg.Detector.ClassifyTimeout <= 0 {
		errs = append(errs, "detector.classify_timeout must be > 0")
	}
	if cfg.Policy.PolicyFile == "" {
		errs = append(errs, "policy.policy_file must not be empty")
	}
	if cfg.Reliability.FailureThreshold < 1 {
		errs = append(errs, fmt.Sprintf("reliability.failure_threshold must be >= 1, got %d", cfg.Reliability.FailureThreshold))
	}
	if cfg.Reliability.SuccessThreshold < 1 {
		errs = append(errs, fmt.Sprintf("reliability.success_threshold must be >= 1, got %d", cfg.Reliability.SuccessThreshold))
	}
	if cfg.Reliability.RecoveryTimeout <= 0 {
		errs = append(errs, "reliability.recovery_timeout must be > 0")
	}
	if cfg.Reliability.RetryMaxAttempts < 1 {
		errs = append(errs, fmt.Sprintf("reliability.retry_max_attempts must be >= 1, got %d", cfg.Reliability.RetryMaxAttempts))
	}
	if cfg.Reliability.RetryBaseDelay <= 0 || cfg.Reliability.RetryMaxDelay < cfg.Reliability.RetryBaseDelay {
		errs = append(errs, "reliability.retry_base_delay must be > 0 and <= retry_max_delay")
	}
	if cfg.History.Capacity < 1 {
		errs = append(errs, fmt.Sprintf("history.capacity must be >= 1, got %d", cfg.History.Capacity))
	}
	if cfg.History.RecurrenceWindow <= 0 {
		errs = append(errs, "history.recurrence_window must be > 0")
	}
	if cfg.Feedback.JournalPath == "" {
		errs = append(errs, "feedback.journal_path must not be empty")
	}
	if cfg.Storage.DBPath == "" {
		errs = append(errs, "storage.db_path must not be empty")
	}
	if cfg.Storage.RetentionWindow <= 0 {
		errs = append(errs, "storage.retention_window must be > 0")
	}
	if cfg.API.MaxBatchSize < 1 {
		errs = append(errs, fmt.Sprintf("api.max_batch_size must be >= 1, got %d", cfg.API.MaxBatchSize))
	}
	if cfg.API.ListenAddr == "" {
		errs = append(errs, "api.listen_addr must not be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", joinStrings(errs, "\n  - "))
	}
	return nil
}

// joinStrings joins a slice of strings with a separator.
func joinStrings(ss []string, sep string) string {
	if len(ss) == 0 {
		return ""
	}
	result := ss[0]
	for _, s := range ss[1:] {
		result += sep + s
	}
	return result
}
