package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"
	"github.com/spf13/cobra"

	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/app"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/config"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/ingest"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/middleware"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/worker"
)

var errFailedLocations = errors.New("some locations failed")

var (
	ingestOrigins  []string
	ingestForce    bool
	ingestDispatch bool
	ingestWait     bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest pending documents of one or more origins",
	Long: `Discovers the documents of each origin and ingests the ones not yet indexed.
With --dispatch the pending locations are published to NSQ for workers instead;
--wait then collects the workers' results and prints one summary per origin.`,
	Args: cobra.NoArgs,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringSliceVar(&ingestOrigins, "origin", nil, "origin to ingest (repeatable, default all)")
	ingestCmd.Flags().BoolVar(&ingestForce, "force", false, "re-ingest locations that were already processed")
	ingestCmd.Flags().BoolVar(&ingestDispatch, "dispatch", false, "publish pending locations to NSQ instead of ingesting")
	ingestCmd.Flags().BoolVar(&ingestWait, "wait", false, "with --dispatch, wait for the workers and print their results")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
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

	origins := ingestOrigins
	if len(origins) == 0 {
		origins = deps.Registry.Origins()
	}

	if ingestDispatch {
		if err := app.CreateTopics(ctx, deps.HTTPClient, cfg.NSQDHTTP, config.TopicIngestLocation, config.TopicIngestResult); err != nil {
			return err
		}
		return dispatchOrigins(cmd, deps, orchestrator, origins)
	}

	failed := false
	for _, origin := range origins {
		a, err := deps.Registry.Get(origin)
		if err != nil {
			return err
		}
		summary, err := orchestrator.Run(ctx, a, ingestForce)
		printSummary(cmd, summary)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			return fmt.Errorf("ingest %s: %w", origin, err)
		}
		if summary.Failed > 0 {
			failed = true
		}
	}
	if failed {
		return errFailedLocations
	}
	return nil
}

func dispatchOrigins(cmd *cobra.Command, deps *app.Dependencies, orchestrator *ingest.Orchestrator, origins []string) error {
	ctx := cmd.Context()

	failed := false
	var results *worker.ResultConsumer
	if ingestWait {
		results = worker.NewResultConsumer(func(_ string, s ingest.Summary) {
			printSummary(cmd, s)
			if s.Failed > 0 {
				failed = true
			}
		})
		// Subscribe before publishing so no result is missed.
		consumer, err := nsq.NewConsumer(config.TopicIngestResult, "ingest-"+uuid.NewString()+"#ephemeral", nsq.NewConfig())
		if err != nil {
			return fmt.Errorf("nsq consumer error: %w", err)
		}
		consumer.AddHandler(results)
		if err := consumer.ConnectToNSQLookupd(cfg.NSQLookupd); err != nil {
			return fmt.Errorf("failed to connect to NSQLookupd: %w", err)
		}
		defer func() {
			consumer.Stop()
			<-consumer.StopChan
		}()
	}

	dispatcher := worker.NewDispatcher(orchestrator, deps.NSQProducer)
	for _, origin := range origins {
		a, err := deps.Registry.Get(origin)
		if err != nil {
			return err
		}
		runCtx, correlationID := middleware.NewCorrelationID(ctx)
		n, err := dispatcher.Dispatch(runCtx, a, ingestForce)
		if err != nil {
			return fmt.Errorf("dispatch %s: %w", origin, err)
		}
		cmd.Printf("%s: dispatched %d locations\n", origin, n)
		if results != nil {
			results.Expect(correlationID, origin, n)
		}
	}

	if results == nil {
		return nil
	}
	if err := results.Wait(ctx); err != nil {
		return err
	}
	if failed {
		return errFailedLocations
	}
	return nil
}

func printSummary(cmd *cobra.Command, s ingest.Summary) {
	cmd.Printf("%s: discovered %d, pending %d, ingested %d, skipped %d, failed %d",
		s.Origin, s.Discovered, s.Pending, s.Ingested, s.Skipped, s.Failed)
	if s.Busy > 0 {
		cmd.Printf(", busy %d", s.Busy)
	}
	cmd.Println()
	for _, r := range s.Results {
		if r.Outcome == ingest.OutcomeIngested {
			continue
		}
		msg := ""
		if r.Err != nil {
			msg = r.Err.Error()
		}
		cmd.Printf("  [%s] %s %s\n", r.Outcome, r.Location.URL, msg)
	}
}
