package main

// Package main is the entry point for the DCA analyzer service.
//
// Responsibilities:
//   - Load and validate configuration from YAML and DCA_* environment variables
//   - Open the result store and record the run
//   - Build the observation source (stored sensor data over SQL, or live
//     updates over MQTT) and the configured sinks
//   - Run the dendritic cell engine until the stream ends or a signal arrives
//   - Serve results, metrics, and the live websocket feed over HTTP
//   - Shut down gracefully on SIGINT/SIGTERM
//
// Data Flow:
//   1. Source (sensordata table or wsn/+/status topic) → Observation stream
//   2. Engine: signal extraction → cell population → maturation verdicts
//   3. Sinks: result store, optional per-node CSV files, websocket feed
//   4. REST API + /metrics expose stored results to the operator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/wsn-testbed/dca-analyzer/internal/config"
	"github.com/wsn-testbed/dca-analyzer/internal/dca"
	"github.com/wsn-testbed/dca-analyzer/internal/db"
	"github.com/wsn-testbed/dca-analyzer/internal/logging"
	"github.com/wsn-testbed/dca-analyzer/internal/models"
	"github.com/wsn-testbed/dca-analyzer/internal/server"
	"github.com/wsn-testbed/dca-analyzer/internal/sink"
	"github.com/wsn-testbed/dca-analyzer/internal/source"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "dca-analyzer: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mgr := newConfigManager()
	if err := mgr.Load(ctx); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := mgr.Validate(ctx); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	cfg := mgr.Get(ctx)

	log, err := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	store, err := db.NewSQLiteStore(cfg.Sink.SQLitePath)
	if err != nil {
		return fmt.Errorf("open result store: %w", err)
	}
	defer store.Close()

	srv, err := server.NewServer(server.Config{
		Port:           cfg.Server.Port,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, store, log)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}
	if err := srv.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	defer srv.Stop()

	src, closeSource, err := buildSource(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeSource()

	sinks, closeSinks, err := buildSinks(cfg, store, srv, log)
	if err != nil {
		return err
	}
	defer closeSinks()

	engine, err := dca.New(engineParams(cfg), src, sinks, log)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	snapshot, err := json.Marshal(cfg.DCA)
	if err != nil {
		return fmt.Errorf("snapshot config: %w", err)
	}
	started := time.Now().UTC()
	if err := store.CreateRun(ctx, &db.RunRecord{
		ID:        engine.RunID(),
		StartedAt: started,
		Config:    string(snapshot),
	}); err != nil {
		return fmt.Errorf("record run: %w", err)
	}

	log.Info("run starting",
		zap.String("run_id", engine.RunID()),
		zap.String("source", cfg.Source.Type),
		zap.Int("lifespan", cfg.DCA.Lifespan))

	stats, runErr := engine.Run(ctx)

	// Record whatever was completed even on abort; the stored rows are valid
	// up to the failure point.
	finishCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.FinishRun(finishCtx, engine.RunID(), time.Now().UTC(), stats.Iterations, stats.Records); err != nil {
		log.Warn("finish run", zap.Error(err))
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("run %s: %w", engine.RunID(), runErr)
	}
	log.Info("run complete",
		zap.String("run_id", engine.RunID()),
		zap.Int64("iterations", stats.Iterations),
		zap.Int64("records", stats.Records),
		zap.Int64("anomalous", stats.Anomalous),
		zap.Int64("malformed", stats.Malformed))
	return nil
}

func newConfigManager() config.Manager {
	if path := os.Getenv("DCA_CONFIG"); path != "" {
		return config.NewManager(path)
	}
	return config.NewManagerWithDefaults()
}

func engineParams(cfg *config.Config) dca.Params {
	return dca.Params{
		Lifespan:                cfg.DCA.Lifespan,
		DangerWeights:           cfg.DCA.DangerWeights,
		MigrationThreshold:      cfg.DCA.MigrationThreshold,
		ClassificationThreshold: cfg.DCA.ClassificationThreshold,
		Safe: dca.SafeParams{
			Max:      cfg.DCA.Safe.Max,
			Slope:    cfg.DCA.Safe.Slope,
			Relative: cfg.DCA.Safe.Relative,
		},
	}
}

func buildSource(ctx context.Context, cfg *config.Config, log *zap.Logger) (dca.Source, func(), error) {
	switch cfg.Source.Type {
	case "sql":
		src, err := source.NewSQLSource(ctx, source.SQLConfig{
			Driver:        cfg.Source.Driver,
			DSN:           cfg.Source.DSN,
			Table:         cfg.Source.Table,
			ReadingColumn: cfg.Source.ReadingColumn,
			Nodes:         cfg.Source.Nodes,
			PeriodStart:   parsePeriod(cfg.Source.PeriodStart),
			PeriodEnd:     parsePeriod(cfg.Source.PeriodEnd),
		})
		if err != nil {
			return nil, nil, err
		}
		return src, func() { _ = src.Close() }, nil
	case "mqtt":
		src, err := source.NewMQTTSource(ctx, source.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			QoS:      byte(cfg.MQTT.QoS),
			Buffer:   cfg.MQTT.Buffer,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		return src, func() { _ = src.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown source type %q", cfg.Source.Type)
	}
}

func buildSinks(cfg *config.Config, store db.Store, srv *server.Server, log *zap.Logger) (dca.Sink, func(), error) {
	sinks := []sink.Sink{
		sink.NewStoreSink(store),
		sink.FuncSink(func(_ context.Context, recs []*models.ClassificationRecord) error {
			srv.Hub().Publish(recs)
			return nil
		}),
	}
	closer := func() {}

	if cfg.Sink.CSVEnabled {
		csv, err := sink.NewCSVSink(cfg.Sink.CSVDir)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, csv)
		closer = func() {
			if err := csv.Close(); err != nil {
				log.Warn("close csv sink", zap.Error(err))
			}
		}
	}

	return sink.NewMultiSink(sinks...), closer, nil
}

// parsePeriod converts a validated RFC 3339 bound; empty means unbounded.
func parsePeriod(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339, s)
	return t
}
