package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/tymiles003/FlowTrack/internal/config"
	"github.com/tymiles003/FlowTrack/internal/factory"
	"github.com/tymiles003/FlowTrack/internal/ipaddr"
	"github.com/tymiles003/FlowTrack/internal/logging"
	"github.com/tymiles003/FlowTrack/internal/model"
	"github.com/tymiles003/FlowTrack/internal/probe"
	"github.com/tymiles003/FlowTrack/internal/query"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file.")
	url := flag.String("url", "", "NATS server URL (overrides config).")
	subject := flag.String("subject", "", "Subject to subscribe to (overrides config).")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *url != "" {
		cfg.NATS.URL = *url
	}
	if *subject != "" {
		cfg.NATS.Subject = *subject
	}

	logger, err := logging.New(cfg.LogLevel, "")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Create a new subscriber
	var sub *probe.Subscriber
	err = factory.Retry(ctx, logger, "nats "+cfg.NATS.URL, 30*time.Second, func() error {
		s, err := probe.NewSubscriber(cfg.NATS.URL, cfg.NATS.Subject, logger)
		sub = s
		return err
	})
	if err != nil {
		logger.Fatalw("Failed to create subscriber", "error", err)
	}
	defer sub.Close()

	var received atomic.Int64
	handler := func(records []model.FlowRecord) {
		for _, r := range records {
			received.Add(1)
			logger.Infow("Flow",
				"src", ipaddr.ToText(r.SrcIP), "src_port", r.SrcPort,
				"dst", ipaddr.ToText(r.DstIP), "dst_port", r.DstPort,
				"protocol", query.ProtocolName(r.Protocol),
				"bytes", r.Bytes, "packets", r.Packets,
				"observed_at", r.ObservedAt.Format(time.RFC3339))
		}
	}

	// Start listening for messages
	if err := sub.Start(handler); err != nil {
		logger.Fatalw("Failed to subscribe", "subject", cfg.NATS.Subject, "error", err)
	}

	<-ctx.Done()
	logger.Infow("Shutdown signal received", "flows_received", received.Load())
}
