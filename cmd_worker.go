package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/spf13/cobra"

	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/app"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/config"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/worker"
)

// nsqd caps message timeouts at 15 minutes by default.
const workerMsgTimeout = 15 * time.Minute

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume dispatched locations from NSQ and ingest them",
	Args:  cobra.NoArgs,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	orchestrator, err := app.NewOrchestrator(cfg, deps)
	if err != nil {
		return err
	}
	if err := app.CreateTopics(ctx, deps.HTTPClient, cfg.NSQDHTTP, config.TopicIngestLocation, config.TopicIngestResult); err != nil {
		slog.Warn("failed to create NSQ topics", "error", err)
	}

	nsqCfg := nsq.NewConfig()
	nsqCfg.MaxInFlight = cfg.IngestionConcurrency
	nsqCfg.MsgTimeout = workerMsgTimeout
	consumer, err := nsq.NewConsumer(config.TopicIngestLocation, config.ChannelIngestWorker, nsqCfg)
	if err != nil {
		return fmt.Errorf("nsq consumer error: %w", err)
	}
	consumer.AddConcurrentHandlers(worker.NewLocationConsumer(deps.Registry, orchestrator, deps.NSQProducer), cfg.IngestionConcurrency)

	if err := consumer.ConnectToNSQLookupd(cfg.NSQLookupd); err != nil {
		return fmt.Errorf("failed to connect to NSQLookupd: %w", err)
	}
	slog.Info("worker started", "topic", config.TopicIngestLocation, "channel", config.ChannelIngestWorker, "concurrency", cfg.IngestionConcurrency)

	<-ctx.Done()
	slog.Info("stopping worker...")
	consumer.Stop()
	<-consumer.StopChan
	return nil
}
