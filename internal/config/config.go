package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalid         = errors.New("invalid configuration")
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderHash   = "hash"

	BackendWeaviate = "weaviate"
	BackendPgvector = "pgvector"
	BackendMemory   = "memory"

	LedgerPostgres = "postgres"
	LedgerBolt     = "bolt"
)

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"wooverzicht"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"wooverzicht"`

	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	// Empty disables the cross-process run lock.
	RedisAddr string `envconfig:"REDIS_ADDR"`

	VectorBackend string `envconfig:"VECTOR_BACKEND" default:"weaviate"`
	LedgerBackend string `envconfig:"LEDGER_BACKEND" default:"postgres"`
	LedgerPath    string `envconfig:"LEDGER_PATH" default:"data/ledger.db"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`
	SourcesFile   string `envconfig:"SOURCES_FILE" default:"sources.yaml"`

	// Backing file of the memory index; required with VECTOR_BACKEND=memory.
	MemoryIndexPath string `envconfig:"MEMORY_INDEX_PATH" default:"data/index.db"`

	// Chunking
	ChunkSize    int `envconfig:"CHUNK_SIZE" default:"500"`
	ChunkOverlap int `envconfig:"CHUNK_OVERLAP" default:"50"`

	// Embedding
	EmbeddingProvider       string  `envconfig:"EMBEDDING_PROVIDER" default:"openai"`
	EmbeddingModel          string  `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	EmbeddingDimensions     int     `envconfig:"EMBEDDING_DIMENSIONS" default:"256"`
	CollectionName          string  `envconfig:"COLLECTION_NAME" default:"document_chunks"`
	MaxWorkers              int     `envconfig:"MAX_WORKERS" default:"5"`
	BatchSize               int     `envconfig:"BATCH_SIZE" default:"100"`
	EmbeddingMaxRetries     int     `envconfig:"EMBEDDING_MAX_RETRIES" default:"5"`
	EmbeddingTimeoutSeconds int     `envconfig:"EMBEDDING_TIMEOUT_SECONDS" default:"60"`
	EmbeddingRateLimit      float64 `envconfig:"EMBEDDING_RATE_LIMIT" default:"0"`
	OpenAIAPIKey            string  `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL           string  `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com/v1"`
	GeminiAPIKey            string  `envconfig:"GEMINI_API_KEY"`

	// Ingestion
	MaxPayloadBytes      int64  `envconfig:"MAX_PAYLOAD_BYTES" default:"2684354560"` // 2.5GB
	IngestionConcurrency int    `envconfig:"INGESTION_CONCURRENCY" default:"4"`
	FetchMaxRetries      int    `envconfig:"FETCH_MAX_RETRIES" default:"3"`
	FetchTimeoutSeconds  int    `envconfig:"FETCH_TIMEOUT_SECONDS" default:"30"`
	WorkspaceDir         string `envconfig:"WORKSPACE_DIR"`
	ClaimTTLSeconds      int    `envconfig:"CLAIM_TTL_SECONDS" default:"3600"`
	RunLockTTLSeconds    int    `envconfig:"RUN_LOCK_TTL_SECONDS" default:"7200"`

	// Query
	QueryTopDocuments         int     `envconfig:"QUERY_TOP_DOCUMENTS" default:"10"`
	QueryOverfetch            int     `envconfig:"QUERY_OVERFETCH" default:"3"`
	QueryMinScore             float64 `envconfig:"QUERY_MIN_SCORE" default:"0"`
	QueryEmbedTimeoutSeconds  int     `envconfig:"QUERY_EMBED_TIMEOUT_SECONDS" default:"10"`
	QuerySearchTimeoutSeconds int     `envconfig:"QUERY_SEARCH_TIMEOUT_SECONDS" default:"10"`

	// Server
	ServerPort   int    `envconfig:"SERVER_PORT" default:"8000"`
	QueryLogPath string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Try loading .env from current dir and repo root
	// Ignore errors, as env vars might be set in the shell
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	rootEnv := filepath.Join(cwd, "../../.env")
	_ = godotenv.Load(rootEnv)

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: CHUNK_SIZE must be positive", ErrInvalid)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: CHUNK_OVERLAP (%d) must be smaller than CHUNK_SIZE (%d)", ErrInvalid, c.ChunkOverlap, c.ChunkSize)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: BATCH_SIZE must be positive", ErrInvalid)
	}
	if c.MaxWorkers <= 0 {
		return fmt.Errorf("%w: MAX_WORKERS must be positive", ErrInvalid)
	}
	if c.IngestionConcurrency <= 0 {
		return fmt.Errorf("%w: INGESTION_CONCURRENCY must be positive", ErrInvalid)
	}
	if c.QueryTopDocuments <= 0 || c.QueryOverfetch <= 0 {
		return fmt.Errorf("%w: QUERY_TOP_DOCUMENTS and QUERY_OVERFETCH must be positive", ErrInvalid)
	}
	if c.EmbeddingModel == "" {
		return fmt.Errorf("%w: EMBEDDING_MODEL", ErrMissingRequired)
	}
	if c.CollectionName == "" {
		return fmt.Errorf("%w: COLLECTION_NAME", ErrMissingRequired)
	}

	switch c.EmbeddingProvider {
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY", ErrMissingRequired)
		}
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY", ErrMissingRequired)
		}
	case ProviderHash:
		if c.EmbeddingDimensions <= 0 {
			return fmt.Errorf("%w: EMBEDDING_DIMENSIONS must be positive", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown EMBEDDING_PROVIDER %q", ErrInvalid, c.EmbeddingProvider)
	}

	switch c.VectorBackend {
	case BackendWeaviate, BackendPgvector:
	case BackendMemory:
		if c.MemoryIndexPath == "" {
			return fmt.Errorf("%w: VECTOR_BACKEND=memory needs MEMORY_INDEX_PATH, a persistent ledger would skip vectors lost on exit", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown VECTOR_BACKEND %q", ErrInvalid, c.VectorBackend)
	}

	switch c.LedgerBackend {
	case LedgerPostgres, LedgerBolt:
	default:
		return fmt.Errorf("%w: unknown LEDGER_BACKEND %q", ErrInvalid, c.LedgerBackend)
	}

	if c.NeedsPostgres() {
		if c.DBHost == "" {
			return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
		}
		if c.DBUser == "" {
			return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
		}
		if c.DBName == "" {
			return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
		}
	}
	return nil
}

// NeedsPostgres reports whether the selected backends require a database connection.
func (c *Config) NeedsPostgres() bool {
	return c.LedgerBackend == LedgerPostgres || c.VectorBackend == BackendPgvector
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPass, c.DBName)
}
