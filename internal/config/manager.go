package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// viperManager implements Manager using Viper.
type viperManager struct {
	configPath string
	config     *Config
	viper      *viper.Viper
	watchChan  chan Config
}

// Load loads configuration from all sources.
func (m *viperManager) Load(ctx context.Context) error {
	m.viper = viper.New()

	m.viper.SetConfigFile(m.configPath)
	m.viper.SetConfigType("yaml")

	m.viper.SetEnvPrefix("DCA")
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	m.setDefaults()

	// The config file is optional: defaults plus env vars are a complete
	// configuration.
	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// use defaults
		} else if os.IsNotExist(err) {
			// use defaults
		} else {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	m.unmarshalConfig()
	return nil
}

// Get returns the current configuration.
func (m *viperManager) Get(ctx context.Context) *Config {
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperManager) Validate(ctx context.Context) error {
	errs := m.config.Validate()
	if len(errs) > 0 {
		var msgs []string
		for _, err := range errs {
			msgs = append(msgs, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
	}
	return nil
}

// Watch watches for configuration file changes and republishes the parsed
// config. Consumers apply it to the next run; in-flight run parameters are
// immutable.
func (m *viperManager) Watch(ctx context.Context) <-chan Config {
	m.viper.WatchConfig()
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		m.unmarshalConfig()
		select {
		case m.watchChan <- *m.config:
		default:
			// channel full, skip this update
		}
	})

	return m.watchChan
}

// Reload re-reads configuration from sources.
func (m *viperManager) Reload(ctx context.Context) error {
	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	m.unmarshalConfig()
	return nil
}

// setDefaults sets default values in viper.
func (m *viperManager) setDefaults() {
	defaults := DefaultConfig()

	// DCA defaults
	m.viper.SetDefault("dca.lifespan", defaults.DCA.Lifespan)
	m.viper.SetDefault("dca.danger_weights", defaults.DCA.DangerWeights)
	m.viper.SetDefault("dca.migration_threshold", defaults.DCA.MigrationThreshold)
	m.viper.SetDefault("dca.classification_threshold", defaults.DCA.ClassificationThreshold)
	m.viper.SetDefault("dca.safe.max", defaults.DCA.Safe.Max)
	m.viper.SetDefault("dca.safe.slope", defaults.DCA.Safe.Slope)
	m.viper.SetDefault("dca.safe.relative", defaults.DCA.Safe.Relative)

	// Source defaults
	m.viper.SetDefault("source.type", defaults.Source.Type)
	m.viper.SetDefault("source.driver", defaults.Source.Driver)
	m.viper.SetDefault("source.dsn", defaults.Source.DSN)
	m.viper.SetDefault("source.table", defaults.Source.Table)
	m.viper.SetDefault("source.reading_column", defaults.Source.ReadingColumn)
	m.viper.SetDefault("source.nodes", defaults.Source.Nodes)
	m.viper.SetDefault("source.period_start", defaults.Source.PeriodStart)
	m.viper.SetDefault("source.period_end", defaults.Source.PeriodEnd)

	// MQTT defaults
	m.viper.SetDefault("mqtt.broker", defaults.MQTT.Broker)
	m.viper.SetDefault("mqtt.topic", defaults.MQTT.Topic)
	m.viper.SetDefault("mqtt.client_id", defaults.MQTT.ClientID)
	m.viper.SetDefault("mqtt.username", defaults.MQTT.Username)
	m.viper.SetDefault("mqtt.password", defaults.MQTT.Password)
	m.viper.SetDefault("mqtt.qos", defaults.MQTT.QoS)
	m.viper.SetDefault("mqtt.buffer", defaults.MQTT.Buffer)

	// Sink defaults
	m.viper.SetDefault("sink.sqlite_path", defaults.Sink.SQLitePath)
	m.viper.SetDefault("sink.csv_enabled", defaults.Sink.CSVEnabled)
	m.viper.SetDefault("sink.csv_dir", defaults.Sink.CSVDir)

	// Server defaults
	m.viper.SetDefault("server.port", defaults.Server.Port)
	m.viper.SetDefault("server.allowed_origins", defaults.Server.AllowedOrigins)

	// Logging defaults
	m.viper.SetDefault("logging.level", defaults.Logging.Level)
	m.viper.SetDefault("logging.file", defaults.Logging.File)
	m.viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	m.viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	m.viper.SetDefault("logging.max_age_days", defaults.Logging.MaxAgeDays)
	m.viper.SetDefault("logging.compress", defaults.Logging.Compress)
}

// unmarshalConfig copies viper state into a fresh Config struct.
func (m *viperManager) unmarshalConfig() {
	cfg := &Config{}

	// DCA
	cfg.DCA.Lifespan = m.viper.GetInt("dca.lifespan")
	cfg.DCA.DangerWeights = weightMap(m.viper.GetStringMap("dca.danger_weights"))
	cfg.DCA.MigrationThreshold = m.viper.GetFloat64("dca.migration_threshold")
	cfg.DCA.ClassificationThreshold = m.viper.GetFloat64("dca.classification_threshold")
	cfg.DCA.Safe.Max = m.viper.GetFloat64("dca.safe.max")
	cfg.DCA.Safe.Slope = m.viper.GetFloat64("dca.safe.slope")
	cfg.DCA.Safe.Relative = m.viper.GetBool("dca.safe.relative")

	// Source
	cfg.Source.Type = m.viper.GetString("source.type")
	cfg.Source.Driver = m.viper.GetString("source.driver")
	cfg.Source.DSN = m.viper.GetString("source.dsn")
	cfg.Source.Table = m.viper.GetString("source.table")
	cfg.Source.ReadingColumn = m.viper.GetString("source.reading_column")
	cfg.Source.Nodes = m.viper.GetStringSlice("source.nodes")
	cfg.Source.PeriodStart = m.viper.GetString("source.period_start")
	cfg.Source.PeriodEnd = m.viper.GetString("source.period_end")

	// MQTT
	cfg.MQTT.Broker = m.viper.GetString("mqtt.broker")
	cfg.MQTT.Topic = m.viper.GetString("mqtt.topic")
	cfg.MQTT.ClientID = m.viper.GetString("mqtt.client_id")
	cfg.MQTT.Username = m.viper.GetString("mqtt.username")
	cfg.MQTT.Password = m.viper.GetString("mqtt.password")
	cfg.MQTT.QoS = m.viper.GetInt("mqtt.qos")
	cfg.MQTT.Buffer = m.viper.GetInt("mqtt.buffer")

	// Sink
	cfg.Sink.SQLitePath = m.viper.GetString("sink.sqlite_path")
	cfg.Sink.CSVEnabled = m.viper.GetBool("sink.csv_enabled")
	cfg.Sink.CSVDir = m.viper.GetString("sink.csv_dir")

	// Server
	cfg.Server.Port = m.viper.GetInt("server.port")
	cfg.Server.AllowedOrigins = m.viper.GetStringSlice("server.allowed_origins")

	// Logging
	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.File = m.viper.GetString("logging.file")
	cfg.Logging.MaxSizeMB = m.viper.GetInt("logging.max_size_mb")
	cfg.Logging.MaxBackups = m.viper.GetInt("logging.max_backups")
	cfg.Logging.MaxAgeDays = m.viper.GetInt("logging.max_age_days")
	cfg.Logging.Compress = m.viper.GetBool("logging.compress")

	m.config = cfg
}

// weightMap converts viper's generic string map into float weights. Values
// that cannot be interpreted as numbers become NaN-free zeros and are caught
// by validation via the unknown-indicator check or left at 0 weight.
func weightMap(raw map[string]interface{}) map[string]float64 {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		switch n := v.(type) {
		case float64:
			out[k] = n
		case float32:
			out[k] = float64(n)
		case int:
			out[k] = float64(n)
		case int64:
			out[k] = float64(n)
		default:
			out[k] = 0
		}
	}
	return out
}
