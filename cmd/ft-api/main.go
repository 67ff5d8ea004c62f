package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tymiles003/FlowTrack/internal/api"
	"github.com/tymiles003/FlowTrack/internal/config"
	"github.com/tymiles003/FlowTrack/internal/factory"
	"github.com/tymiles003/FlowTrack/internal/ipaddr"
	"github.com/tymiles003/FlowTrack/internal/logging"
	"github.com/tymiles003/FlowTrack/internal/query"
	"github.com/tymiles003/FlowTrack/internal/snapshot"

	_ "github.com/tymiles003/FlowTrack/internal/store/clickhouse"
	_ "github.com/tymiles003/FlowTrack/internal/store/redisstore"
	_ "github.com/tymiles003/FlowTrack/internal/store/sqlstore"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file.")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Open the same stores the collector writes to
	stores, err := factory.Open(ctx, cfg, logger, 30*time.Second)
	if err != nil {
		logger.Fatalw("Failed to open storage", "error", err)
	}
	defer stores.Close()

	resolver := ipaddr.NewResolver(nil, cfg.DNS.CacheSize, cfg.CacheTTL(), cfg.LookupTimeout())
	querier := query.NewQuerier(stores.Flows, stores.Talkers, resolver)

	var snapshots api.SnapshotSource
	if cfg.Snapshot.Enabled {
		snapshots = snapshot.NewWriter(cfg.Snapshot.RootPath)
	}

	server := api.NewServer(cfg.WebAddr(), api.NewRouter(querier, snapshots, logger), logger)
	go func() {
		if err := server.ListenAndServe(); err != nil {
			logger.Fatalw("API server failed", "error", err)
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorw("Server forced to shutdown", "error", err)
	}
	logger.Info("API server exited.")
}
