package config

import "context"

// Package config provides configuration management for the DCA analyzer.
//
// Configuration sources (priority order, high to low):
//  1. Environment variables (DCA_* prefix)
//  2. YAML config file (default: /etc/dca-analyzer/config.yaml)
//  3. Built-in defaults
//
// Run parameters (lifespan, weights, thresholds, safe function) are
// immutable for the duration of a run; the manager's Watch only announces
// file changes so a new run can pick them up.

// Config contains all configuration fields.
type Config struct {
	// DCA holds the engine's run parameters.
	DCA struct {
		// Lifespan is the cell window width and the steady-state population size.
		Lifespan int
		// DangerWeights maps fault-indicator names to non-negative weights.
		DangerWeights map[string]float64
		// MigrationThreshold is the csm total above which a cell retires mature.
		MigrationThreshold float64
		// ClassificationThreshold is the MCAV above which a mature cell's
		// antigen is labeled anomalous.
		ClassificationThreshold float64
		Safe                    struct {
			Max      float64
			Slope    float64
			Relative bool
		}
	}

	// Source configuration.
	Source struct {
		Type          string // "sql" | "mqtt"
		Driver        string // "sqlite" | "postgres" (sql source)
		DSN           string
		Table         string
		ReadingColumn string
		Nodes         []string
		PeriodStart   string // RFC 3339, empty = unbounded
		PeriodEnd     string
	}

	// MQTT source configuration.
	MQTT struct {
		Broker   string // host:port
		Topic    string
		ClientID string
		Username string
		Password string
		QoS      int
		Buffer   int // pending-observation channel capacity
	}

	// Sink configuration.
	Sink struct {
		SQLitePath string
		CSVEnabled bool
		CSVDir     string
	}

	// Server configuration.
	Server struct {
		Port int
		// AllowedOrigins is the list of origins permitted to call the API and
		// open WebSocket connections. Use ["*"] for development only.
		AllowedOrigins []string
	}

	// Logging configuration.
	Logging struct {
		Level      string
		File       string // empty disables the rotating file core
		MaxSizeMB  int
		MaxBackups int
		MaxAgeDays int
		Compress   bool
	}
}

// Manager defines the interface for configuration access.
type Manager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches for configuration file changes. Updated configs are
	// delivered on the returned channel for the next run; the running
	// engine's parameters are never touched.
	Watch(ctx context.Context) <-chan Config

	// Reload re-reads configuration from sources.
	Reload(ctx context.Context) error
}

// NewManager creates a configuration manager for the given file path.
func NewManager(configPath string) Manager {
	return &viperManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
}

// NewManagerWithDefaults creates a manager with the default config path.
func NewManagerWithDefaults() Manager {
	return NewManager("/etc/dca-analyzer/config.yaml")
}
