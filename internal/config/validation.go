package config

import (
	"fmt"
	"net"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// knownIndicators is the testbed's chi indicator set; weights may only be
// configured for these names.
var knownIndicators = map[string]bool{
	"nt": true, "vs": true, "bat": true, "art": true,
	"rst": true, "ic": true, "adc": true, "usart": true,
}

// Validate validates the configuration and returns all validation errors.
func (c *Config) Validate() []error {
	var errs []error

	// DCA parameters
	if c.DCA.Lifespan < 1 {
		errs = append(errs, &ValidationError{
			Field:   "dca.lifespan",
			Message: fmt.Sprintf("lifespan must be >= 1, got %d", c.DCA.Lifespan),
		})
	}
	if len(c.DCA.DangerWeights) == 0 {
		errs = append(errs, &ValidationError{
			Field:   "dca.danger_weights",
			Message: "at least one danger weight is required",
		})
	}
	for name, w := range c.DCA.DangerWeights {
		if !knownIndicators[name] {
			errs = append(errs, &ValidationError{
				Field:   "dca.danger_weights." + name,
				Message: "unknown fault indicator",
			})
		}
		if w < 0 {
			errs = append(errs, &ValidationError{
				Field:   "dca.danger_weights." + name,
				Message: fmt.Sprintf("weight must be non-negative, got %g", w),
			})
		}
	}
	if c.DCA.ClassificationThreshold < 0 {
		errs = append(errs, &ValidationError{
			Field:   "dca.classification_threshold",
			Message: fmt.Sprintf("threshold must be non-negative, got %g", c.DCA.ClassificationThreshold),
		})
	}
	if c.DCA.Safe.Max <= 0 {
		errs = append(errs, &ValidationError{
			Field:   "dca.safe.max",
			Message: fmt.Sprintf("safe maximum must be positive, got %g", c.DCA.Safe.Max),
		})
	}
	if c.DCA.Safe.Slope < 0 {
		errs = append(errs, &ValidationError{
			Field:   "dca.safe.slope",
			Message: fmt.Sprintf("safe slope must be non-negative, got %g", c.DCA.Safe.Slope),
		})
	}

	// Source
	switch c.Source.Type {
	case "sql":
		switch c.Source.Driver {
		case "sqlite", "postgres":
		default:
			errs = append(errs, &ValidationError{
				Field:   "source.driver",
				Message: fmt.Sprintf("driver must be sqlite or postgres, got %q", c.Source.Driver),
			})
		}
		if c.Source.DSN == "" {
			errs = append(errs, &ValidationError{
				Field:   "source.dsn",
				Message: "dsn is required for the sql source",
			})
		}
		if c.Source.Table == "" {
			errs = append(errs, &ValidationError{
				Field:   "source.table",
				Message: "table is required for the sql source",
			})
		}
		for _, field := range []struct{ name, value string }{
			{"source.period_start", c.Source.PeriodStart},
			{"source.period_end", c.Source.PeriodEnd},
		} {
			if field.value == "" {
				continue
			}
			if _, err := time.Parse(time.RFC3339, field.value); err != nil {
				errs = append(errs, &ValidationError{
					Field:   field.name,
					Message: fmt.Sprintf("invalid RFC 3339 timestamp: %v", err),
				})
			}
		}
	case "mqtt":
		if c.MQTT.Broker == "" {
			errs = append(errs, &ValidationError{
				Field:   "mqtt.broker",
				Message: "broker address is required for the mqtt source",
			})
		} else if _, _, err := net.SplitHostPort(c.MQTT.Broker); err != nil {
			errs = append(errs, &ValidationError{
				Field:   "mqtt.broker",
				Message: fmt.Sprintf("invalid address format (expected host:port): %v", err),
			})
		}
		if c.MQTT.Topic == "" {
			errs = append(errs, &ValidationError{
				Field:   "mqtt.topic",
				Message: "topic is required for the mqtt source",
			})
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 1 {
			errs = append(errs, &ValidationError{
				Field:   "mqtt.qos",
				Message: fmt.Sprintf("qos must be 0 or 1, got %d", c.MQTT.QoS),
			})
		}
	default:
		errs = append(errs, &ValidationError{
			Field:   "source.type",
			Message: fmt.Sprintf("source type must be sql or mqtt, got %q", c.Source.Type),
		})
	}

	// Sink
	if c.Sink.SQLitePath == "" {
		errs = append(errs, &ValidationError{
			Field:   "sink.sqlite_path",
			Message: "sqlite_path is required",
		})
	}
	if c.Sink.CSVEnabled && c.Sink.CSVDir == "" {
		errs = append(errs, &ValidationError{
			Field:   "sink.csv_dir",
			Message: "csv_dir is required when csv output is enabled",
		})
	}

	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Server.Port),
		})
	}

	// Logging
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, &ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("level must be one of debug, info, warn, error; got %q", c.Logging.Level),
		})
	}

	return errs
}
