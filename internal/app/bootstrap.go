package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	goredis "github.com/redis/go-redis/v9"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/features/location"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/adapter/gemini"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/adapter/hashembed"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/adapter/memory"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/adapter/openai"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/adapter/pgvector"
	redisadapter "github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/adapter/redis"
	wstore "github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/adapter/weaviate"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/config"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/embedding"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/source"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/source/listing"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/source/manual"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/vector"
)

// Dependencies holds every external resource a command may need. Fields for
// disabled backends stay nil.
type Dependencies struct {
	DB          *sql.DB
	Index       vector.Index
	Ledger      *location.Service
	Embedder    *embedding.Batcher
	Lock        *redisadapter.Lock
	NSQProducer *nsq.Producer
	Registry    *source.Registry
	HTTPClient  *http.Client

	closers []io.Closer
}

func Bootstrap(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	deps := &Dependencies{}
	ok := false
	defer func() {
		if !ok {
			deps.Close()
		}
	}()

	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second

	if cfg.NeedsPostgres() {
		db, err := OpenDatabase(ctx, cfg)
		if err != nil {
			return nil, err
		}
		deps.DB = db
		deps.closers = append(deps.closers, db)
	}

	provider, err := newProvider(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("embedding provider error: %w", err)
	}
	if c, isCloser := provider.(io.Closer); isCloser {
		deps.closers = append(deps.closers, c)
	}
	deps.Embedder = embedding.NewBatcher(provider, embedding.Options{
		BatchSize:   cfg.BatchSize,
		MaxInFlight: cfg.MaxWorkers,
		MaxRetries:  cfg.EmbeddingMaxRetries,
		CallTimeout: time.Duration(cfg.EmbeddingTimeoutSeconds) * time.Second,
		RateLimit:   cfg.EmbeddingRateLimit,
	})

	idx, err := newIndex(cfg, deps.DB)
	if err != nil {
		return nil, err
	}
	if c, isCloser := idx.(io.Closer); isCloser {
		deps.closers = append(deps.closers, c)
	}
	if err := EnsureModelWithRetry(ctx, idx, deps.Embedder.Model(), cfg.BootstrapRetryAttempts, retryDelay); err != nil {
		return nil, fmt.Errorf("vector index error: %w", err)
	}
	deps.Index = idx

	repo, err := newLedger(cfg, deps.DB)
	if err != nil {
		return nil, err
	}
	if c, isCloser := repo.(io.Closer); isCloser {
		deps.closers = append(deps.closers, c)
	}
	deps.Ledger = location.NewService(repo, time.Duration(cfg.ClaimTTLSeconds)*time.Second)

	if cfg.RedisAddr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		deps.closers = append(deps.closers, client)
		lock := redisadapter.NewLock(client)
		if err := lock.Ping(ctx); err != nil {
			return nil, fmt.Errorf("redis ping error: %w", err)
		}
		deps.Lock = lock
	}

	// The producer connects lazily on first publish.
	producer, err := nsq.NewProducer(cfg.NSQDHost, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("nsq producer error: %w", err)
	}
	deps.NSQProducer = producer

	deps.HTTPClient = NewHTTPClient(time.Duration(cfg.FetchTimeoutSeconds) * time.Second)

	fileCfg, err := source.LoadFile(cfg.SourcesFile)
	if err != nil {
		return nil, err
	}
	deps.Registry, err = NewRegistry(fileCfg, deps.HTTPClient, cfg.MaxPayloadBytes)
	if err != nil {
		return nil, err
	}

	ok = true
	return deps, nil
}

// Close releases every resource in reverse order of creation.
func (d *Dependencies) Close() {
	if d.NSQProducer != nil {
		d.NSQProducer.Stop()
	}
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i].Close(); err != nil {
			slog.Warn("failed to close dependency", "error", err)
		}
	}
	d.closers = nil
}

// OpenDatabase connects with retries and applies pending migrations.
func OpenDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second
	for i := 0; i < cfg.BootstrapRetryAttempts; i++ {
		if err := db.PingContext(ctx); err == nil {
			break
		}
		slog.Warn("failed to ping db, retrying...", "attempt", i+1)
		time.Sleep(retryDelay)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(cfg.MigrationPath, "postgres", driver)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		db.Close()
		return nil, fmt.Errorf("migration up error: %w", err)
	}
	return db, nil
}

func newProvider(ctx context.Context, cfg *config.Config) (embedding.Provider, error) {
	switch cfg.EmbeddingProvider {
	case config.ProviderOpenAI:
		return openai.NewEmbedder(cfg.OpenAIAPIKey, cfg.EmbeddingModel, cfg.OpenAIBaseURL,
			time.Duration(cfg.EmbeddingTimeoutSeconds)*time.Second)
	case config.ProviderGemini:
		return gemini.NewEmbedder(ctx, cfg.GeminiAPIKey, cfg.EmbeddingModel)
	case config.ProviderHash:
		return hashembed.New(cfg.EmbeddingDimensions), nil
	}
	return nil, fmt.Errorf("%w: unknown EMBEDDING_PROVIDER %q", config.ErrInvalid, cfg.EmbeddingProvider)
}

func newIndex(cfg *config.Config, db *sql.DB) (vector.Index, error) {
	switch cfg.VectorBackend {
	case config.BackendWeaviate:
		wClient, err := weaviate.NewClient(weaviate.Config{Host: cfg.WeaviateHost, Scheme: cfg.WeaviateScheme})
		if err != nil {
			return nil, fmt.Errorf("weaviate client error: %w", err)
		}
		return wstore.NewIndex(wClient, cfg.CollectionName), nil
	case config.BackendPgvector:
		return pgvector.NewIndex(db, cfg.CollectionName), nil
	case config.BackendMemory:
		if cfg.MemoryIndexPath == "" {
			return nil, fmt.Errorf("%w: MEMORY_INDEX_PATH is required for the memory index", config.ErrInvalid)
		}
		idx, err := memory.Open(cfg.MemoryIndexPath)
		if err != nil {
			return nil, fmt.Errorf("memory index error: %w", err)
		}
		return idx, nil
	}
	return nil, fmt.Errorf("%w: unknown VECTOR_BACKEND %q", config.ErrInvalid, cfg.VectorBackend)
}

func newLedger(cfg *config.Config, db *sql.DB) (location.Repository, error) {
	switch cfg.LedgerBackend {
	case config.LedgerPostgres:
		return location.NewPostgresRepo(db), nil
	case config.LedgerBolt:
		repo, err := location.NewBoltRepo(cfg.LedgerPath)
		if err != nil {
			return nil, fmt.Errorf("ledger error: %w", err)
		}
		return repo, nil
	}
	return nil, fmt.Errorf("%w: unknown LEDGER_BACKEND %q", config.ErrInvalid, cfg.LedgerBackend)
}

// NewRegistry builds one adapter per configured origin.
func NewRegistry(fileCfg *source.FileConfig, client *http.Client, maxBytes int64) (*source.Registry, error) {
	fetcher := source.NewHTTPFetcher(client, maxBytes)
	reg := source.NewRegistry()
	for _, o := range fileCfg.Origins {
		var a source.Adapter
		switch o.Kind {
		case source.KindManual:
			a = manual.New(o, fetcher)
		case source.KindListing:
			a = listing.New(o, client, fetcher)
		default:
			return nil, fmt.Errorf("origin %s: unknown kind %q", o.ID, o.Kind)
		}
		if err := reg.Register(a); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// NewHTTPClient bounds connection setup and time to first byte. Bodies of
// large files may stream for longer than timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}).DialContext
	transport.TLSHandshakeTimeout = timeout
	transport.ResponseHeaderTimeout = timeout
	return &http.Client{Transport: transport}
}

// EnsureModelWithRetry retries transient index errors. A model mismatch is
// returned at once.
func EnsureModelWithRetry(ctx context.Context, idx vector.Index, model string, attempts int, delay time.Duration) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = idx.EnsureModel(ctx, model); err == nil || errors.Is(err, vector.ErrModelMismatch) {
			return err
		}
		slog.WarnContext(ctx, "failed to prepare vector index, retrying...", "attempt", i+1, "error", err)
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return err
}

// CreateTopics pre-creates NSQ topics so lookupd-connected consumers find them
// before the first publish.
func CreateTopics(ctx context.Context, client *http.Client, nsqdHTTP string, topics ...string) error {
	if client == nil {
		client = http.DefaultClient
	}
	var errs []error
	for _, topic := range topics {
		u := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, url.QueryEscape(topic))
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		resp, err := client.Do(req) // #nosec G107 -- URL is built from internal NSQ config, not user input
		if err != nil {
			errs = append(errs, fmt.Errorf("create topic %s: %w", topic, err))
			continue
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			errs = append(errs, fmt.Errorf("create topic %s: nsqd returned %d", topic, resp.StatusCode))
		}
	}
	return errors.Join(errs...)
}
