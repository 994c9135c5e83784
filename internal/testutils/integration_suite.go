package testutils

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/config"
	"github.com/Provincie-Zuid-Holland/Provincie-Zuid-Holland-PZH-Wooverzicht/internal/logger"
)

const (
	dbName = "wooverzicht_test"
	dbUser = "test"
	dbPass = "test"
)

// IntegrationSuite starts throwaway Postgres (with pgvector), Weaviate and
// nsqd containers. Callers skip it under testing.Short().
type IntegrationSuite struct {
	T        *testing.T
	DB       *sql.DB
	Weaviate *weaviate.Client
	NSQ      *nsq.Producer

	// Set before Setup to skip containers a test does not need.
	SkipWeaviate bool
	SkipNSQ      bool

	dbHost, weaviateHost, nsqdTCP, nsqdHTTP string
	dbPort                                  int

	pgContainer       *postgres.PostgresContainer
	weaviateContainer testcontainers.Container
	nsqContainer      testcontainers.Container
}

func NewIntegrationSuite(t *testing.T) *IntegrationSuite {
	return &IntegrationSuite{T: t}
}

// MigrationPath is the file:// URL of the repository's migrations directory.
func MigrationPath() string {
	_, b, _, _ := runtime.Caller(0)
	return fmt.Sprintf("file://%s", filepath.Join(filepath.Dir(b), "..", "..", "migrations"))
}

func (s *IntegrationSuite) Setup() {
	ctx := context.Background()

	// 1. Postgres
	pgContainer, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase(dbName),
		postgres.WithUsername(dbUser),
		postgres.WithPassword(dbPass),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(s.T, err)
	s.pgContainer = pgContainer

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(s.T, err)

	s.DB, err = sql.Open("postgres", connStr)
	require.NoError(s.T, err)

	m, err := migrate.New(MigrationPath(), connStr)
	require.NoError(s.T, err)
	require.NoError(s.T, m.Up())

	s.dbHost, err = pgContainer.Host(ctx)
	require.NoError(s.T, err)
	pgPort, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(s.T, err)
	s.dbPort, err = strconv.Atoi(pgPort.Port())
	require.NoError(s.T, err)

	// 2. Weaviate
	if !s.SkipWeaviate {
		req := testcontainers.ContainerRequest{
			Image:        "semitechnologies/weaviate:1.33.6",
			ExposedPorts: []string{"8080/tcp", "50051/tcp"},
			Env: map[string]string{
				"AUTHENTICATION_ANONYMOUS_ACCESS_ENABLED": "true",
				"DEFAULT_VECTORIZER_MODULE":               "none",
				"PERSISTENCE_DATA_PATH":                   "/var/lib/weaviate",
			},
			WaitingFor: wait.ForHTTP("/v1/meta").WithPort("8080/tcp").WithStartupTimeout(60 * time.Second),
		}
		weaviateC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
		require.NoError(s.T, err)
		s.weaviateContainer = weaviateC

		host, err := weaviateC.Host(ctx)
		require.NoError(s.T, err)
		port, err := weaviateC.MappedPort(ctx, "8080")
		require.NoError(s.T, err)

		s.weaviateHost = fmt.Sprintf("%s:%s", host, port.Port())
		s.Weaviate, err = weaviate.NewClient(weaviate.Config{Host: s.weaviateHost, Scheme: "http"})
		require.NoError(s.T, err)
	}

	// 3. NSQ
	if !s.SkipNSQ {
		nsqReq := testcontainers.ContainerRequest{
			Image:        "nsqio/nsq:v1.3.0",
			ExposedPorts: []string{"4150/tcp", "4151/tcp"},
			Cmd:          []string{"/nsqd", "--broadcast-address=localhost"},
			WaitingFor:   wait.ForLog("TCP: listening on").WithStartupTimeout(60 * time.Second),
		}
		nsqC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: nsqReq,
			Started:          true,
		})
		require.NoError(s.T, err)
		s.nsqContainer = nsqC

		nsqHost, err := nsqC.Host(ctx)
		require.NoError(s.T, err)
		tcpPort, err := nsqC.MappedPort(ctx, "4150")
		require.NoError(s.T, err)
		httpPort, err := nsqC.MappedPort(ctx, "4151")
		require.NoError(s.T, err)

		s.nsqdTCP = fmt.Sprintf("%s:%s", nsqHost, tcpPort.Port())
		s.nsqdHTTP = fmt.Sprintf("%s:%s", nsqHost, httpPort.Port())
		s.NSQ, err = nsq.NewProducer(s.nsqdTCP, nsq.NewConfig())
		require.NoError(s.T, err)
	}
}

// NSQDAddr returns the TCP address of the nsqd container.
func (s *IntegrationSuite) NSQDAddr() string { return s.nsqdTCP }

// GetAppConfig returns a configuration pointing at the suite's containers,
// with the hash embedder so no provider credentials are needed.
func (s *IntegrationSuite) GetAppConfig() *config.Config {
	dir := s.T.TempDir()
	sources := filepath.Join(dir, "sources.yaml")
	require.NoError(s.T, os.WriteFile(sources, []byte("origins: []\n"), 0o600))

	backend := config.BackendWeaviate
	if s.SkipWeaviate {
		backend = config.BackendPgvector
	}

	return &config.Config{
		DBHost:                     s.dbHost,
		DBPort:                     s.dbPort,
		DBUser:                     dbUser,
		DBPass:                     dbPass,
		DBName:                     dbName,
		WeaviateHost:               s.weaviateHost,
		WeaviateScheme:             "http",
		NSQDHost:                   s.nsqdTCP,
		NSQDHTTP:                   s.nsqdHTTP,
		VectorBackend:              backend,
		LedgerBackend:              config.LedgerPostgres,
		MigrationPath:              MigrationPath(),
		SourcesFile:                sources,
		ChunkSize:                  500,
		ChunkOverlap:               50,
		EmbeddingProvider:          config.ProviderHash,
		EmbeddingModel:             "hash",
		EmbeddingDimensions:        64,
		CollectionName:             "document_chunks",
		MaxWorkers:                 2,
		BatchSize:                  16,
		MaxPayloadBytes:            1 << 20,
		IngestionConcurrency:       2,
		FetchMaxRetries:            1,
		FetchTimeoutSeconds:        5,
		ClaimTTLSeconds:            3600,
		RunLockTTLSeconds:          60,
		QueryTopDocuments:          10,
		QueryOverfetch:             3,
		QueryEmbedTimeoutSeconds:   5,
		QuerySearchTimeoutSeconds:  5,
		QueryLogPath:               filepath.Join(dir, "query.log"),
		BootstrapRetryAttempts:     5,
		BootstrapRetryDelaySeconds: 1,
	}
}

func (s *IntegrationSuite) Logger() *slog.Logger {
	return logger.New(os.Stdout, slog.LevelDebug)
}

func (s *IntegrationSuite) Teardown() {
	ctx := context.Background()
	if s.NSQ != nil {
		s.NSQ.Stop()
	}
	if s.DB != nil {
		s.DB.Close()
	}
	if s.pgContainer != nil {
		_ = s.pgContainer.Terminate(ctx)
	}
	if s.weaviateContainer != nil {
		_ = s.weaviateContainer.Terminate(ctx)
	}
	if s.nsqContainer != nil {
		_ = s.nsqContainer.Terminate(ctx)
	}
}
