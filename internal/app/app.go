package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/features/location"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/features/mcp"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/features/search"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/features/stats"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/config"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/extract"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/ingest"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/middleware"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/retrieval"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/vector"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	Handler   http.Handler
	Retrieval *retrieval.Service
	port      int
}

func New(cfg *config.Config, idx vector.Index, ledger *location.Service, embedder retrieval.Embedder, queryLog *retrieval.QueryLogger, origins mcp.OriginLister) *App {
	retrievalService := NewRetrieval(cfg, embedder, idx, queryLog)

	searchHandler := search.NewHandler(retrievalService)
	statsHandler := stats.NewHandler(ledger, idx)
	locationHandler := location.NewHandler(ledger)
	mcpHandler := mcp.NewHandler(retrievalService, origins)

	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Correlation-ID")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	mux := http.NewServeMux()

	mux.Handle("POST /api/query/documents", middleware.CorrelationID(enableCORS(searchHandler.Documents)))
	mux.Handle("OPTIONS /api/query/documents", middleware.CorrelationID(enableCORS(searchHandler.Documents)))

	mux.Handle("GET /api/stats", middleware.CorrelationID(enableCORS(statsHandler.GetStats)))

	mux.Handle("GET /api/locations/failed", middleware.CorrelationID(enableCORS(locationHandler.ListFailed)))
	mux.Handle("POST /api/locations/{id}/reset", middleware.CorrelationID(enableCORS(locationHandler.Reset)))

	mux.Handle("POST /mcp", middleware.CorrelationID(mcpHandler))
	mux.Handle("GET /mcp/sse", middleware.CorrelationID(http.HandlerFunc(mcpHandler.HandleSSE)))
	mux.Handle("POST /mcp/messages", middleware.CorrelationID(http.HandlerFunc(mcpHandler.HandleMessage)))

	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return &App{
		Handler:   mux,
		Retrieval: retrievalService,
		port:      cfg.ServerPort,
	}
}

func NewRetrieval(cfg *config.Config, embedder retrieval.Embedder, idx vector.Index, queryLog *retrieval.QueryLogger) *retrieval.Service {
	return retrieval.NewService(embedder, idx, queryLog, retrieval.Options{
		TopDocuments:  cfg.QueryTopDocuments,
		Overfetch:     cfg.QueryOverfetch,
		MinScore:      float32(cfg.QueryMinScore),
		EmbedTimeout:  time.Duration(cfg.QueryEmbedTimeoutSeconds) * time.Second,
		SearchTimeout: time.Duration(cfg.QuerySearchTimeoutSeconds) * time.Second,
	})
}

func NewOrchestrator(cfg *config.Config, deps *Dependencies) (*ingest.Orchestrator, error) {
	d := ingest.Deps{
		Ledger:    deps.Ledger,
		Extractor: extract.New(extract.Options{MaxBundleBytes: cfg.MaxPayloadBytes}),
		Embedder:  deps.Embedder,
		Index:     deps.Index,
	}
	// A nil *Lock must not become a non-nil interface.
	if deps.Lock != nil {
		d.Lock = deps.Lock
	}
	return ingest.New(d, ingest.Options{
		ChunkSize:       cfg.ChunkSize,
		ChunkOverlap:    cfg.ChunkOverlap,
		Concurrency:     cfg.IngestionConcurrency,
		MaxPayloadBytes: cfg.MaxPayloadBytes,
		FetchMaxRetries: cfg.FetchMaxRetries,
		WorkspaceDir:    cfg.WorkspaceDir,
		LockTTL:         time.Duration(cfg.RunLockTTLSeconds) * time.Second,
	})
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.port),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.port)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
