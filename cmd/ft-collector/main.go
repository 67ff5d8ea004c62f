package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/tymiles003/FlowTrack/internal/collector"
	"github.com/tymiles003/FlowTrack/internal/config"
	"github.com/tymiles003/FlowTrack/internal/engine/manager"
	"github.com/tymiles003/FlowTrack/internal/factory"
	"github.com/tymiles003/FlowTrack/internal/health"
	"github.com/tymiles003/FlowTrack/internal/logging"
	"github.com/tymiles003/FlowTrack/internal/metrics"
	"github.com/tymiles003/FlowTrack/internal/probe"
	"github.com/tymiles003/FlowTrack/internal/probe/persistent"
	"github.com/tymiles003/FlowTrack/internal/snapshot"
	"github.com/tymiles003/FlowTrack/internal/telemetry"

	_ "github.com/tymiles003/FlowTrack/internal/store/clickhouse"
	_ "github.com/tymiles003/FlowTrack/internal/store/memstore"
	_ "github.com/tymiles003/FlowTrack/internal/store/redisstore"
	_ "github.com/tymiles003/FlowTrack/internal/store/sqlstore"
)

const connectTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file.")
	flag.Parse()

	// 1. Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()
	logger.Infow("Starting ft-collector", "config", *configPath, "internal_network", cfg.InternalNetwork)

	if cfg.PidFile != "" {
		if err := writePidFile(cfg.PidFile); err != nil {
			logger.Fatalw("Failed to write pid file", "path", cfg.PidFile, "error", err)
		}
		defer os.Remove(cfg.PidFile)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg.OTEL.Endpoint, cfg.OTEL.Service, cfg.OTEL.Insecure)
	if err != nil {
		logger.Fatalw("Failed to initialize tracing", "error", err)
	}
	defer shutdownTracing(context.Background())

	go metrics.Serve(cfg.MetricsAddr, logger)

	// 2. Open storage
	stores, err := factory.Open(ctx, cfg, logger, connectTimeout)
	if err != nil {
		logger.Fatalw("Failed to initialize storage", "error", err)
	}
	defer stores.Close()

	// 3. Optional side channels
	var opts []manager.Option
	if cfg.NATS.Enabled {
		var pub *probe.Publisher
		err := factory.Retry(ctx, logger, "nats "+cfg.NATS.URL, connectTimeout, func() error {
			p, err := probe.NewPublisher(cfg.NATS.URL, cfg.NATS.Subject, logger)
			pub = p
			return err
		})
		if err != nil {
			logger.Fatalw("Failed to connect to NATS", "error", err)
		}
		defer pub.Close()
		opts = append(opts, manager.WithPublisher(pub))
	}
	if cfg.Snapshot.Enabled {
		opts = append(opts, manager.WithSnapshotWriter(snapshot.NewWriter(cfg.Snapshot.RootPath)))
	}

	// 4. Start the manager, then the listener feeding it
	mgr, err := manager.NewManager(cfg, stores.Flows, stores.Talkers, logger, opts...)
	if err != nil {
		logger.Fatalw("Failed to create manager", "error", err)
	}
	mgr.Start()

	var collectorOpts []collector.Option
	var recorder *persistent.Recorder
	if cfg.Record.Enabled {
		recorder, err = persistent.NewRecorder(cfg.Record.Path, cfg.NetflowPort, cfg.Record.ChannelSize, logger)
		if err != nil {
			logger.Fatalw("Failed to start datagram recorder", "error", err)
		}
		collectorOpts = append(collectorOpts, collector.WithRecorder(recorder))
	}

	coll, err := collector.New(cfg.NetflowAddr(), cfg.Ingest.ReadBuffer, mgr, logger, collectorOpts...)
	if err != nil {
		logger.Fatalw("Failed to start collector", "error", err)
	}
	coll.Start()

	var hs *health.Server
	if cfg.GRPCAddr != "" {
		hs, err = health.Listen(cfg.GRPCAddr, logger)
		if err != nil {
			logger.Fatalw("Failed to start health server", "error", err)
		}
		hs.Start()
		hs.SetServing(true)
	}

	// 5. Wait for a shutdown signal for graceful shutdown
	<-ctx.Done()
	logger.Info("Shutdown signal received, stopping collector...")

	if hs != nil {
		hs.Stop()
	}
	coll.Stop()
	if recorder != nil {
		recorder.Stop()
	}
	mgr.Stop()
	logger.Info("Shutdown complete.")
}

func writePidFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create pid directory: %w", err)
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644)
}
