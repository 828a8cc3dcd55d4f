package config

// DefaultConfig returns a configuration with all default values. The danger
// weights cover the testbed's full chi indicator set with uniform weight.
func DefaultConfig() *Config {
	cfg := &Config{}

	// DCA defaults
	cfg.DCA.Lifespan = 10
	cfg.DCA.DangerWeights = map[string]float64{
		"nt": 1, "vs": 1, "bat": 1, "art": 1,
		"rst": 1, "ic": 1, "adc": 1, "usart": 1,
	}
	cfg.DCA.MigrationThreshold = 0.0
	cfg.DCA.ClassificationThreshold = 0.5
	cfg.DCA.Safe.Max = 1.0
	cfg.DCA.Safe.Slope = 1.0
	cfg.DCA.Safe.Relative = true

	// Source defaults
	cfg.Source.Type = "sql"
	cfg.Source.Driver = "sqlite"
	cfg.Source.DSN = "/var/lib/dca-analyzer/sensordata.db"
	cfg.Source.Table = "sensordata"
	cfg.Source.ReadingColumn = "t_air"
	cfg.Source.Nodes = nil // all nodes
	cfg.Source.PeriodStart = ""
	cfg.Source.PeriodEnd = ""

	// MQTT defaults
	cfg.MQTT.Broker = "localhost:1883"
	cfg.MQTT.Topic = "wsn/+/status"
	cfg.MQTT.ClientID = "dca-analyzer"
	cfg.MQTT.QoS = 1
	cfg.MQTT.Buffer = 256

	// Sink defaults
	cfg.Sink.SQLitePath = "/var/lib/dca-analyzer/results.db"
	cfg.Sink.CSVEnabled = false
	cfg.Sink.CSVDir = "."

	// Server defaults
	cfg.Server.Port = 8080
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000"}

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.File = ""
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxBackups = 10
	cfg.Logging.MaxAgeDays = 30
	cfg.Logging.Compress = true

	return cfg
}
