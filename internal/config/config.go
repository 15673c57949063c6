package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")

type Config struct {
	DBHost    string `envconfig:"DB_HOST" default:"postgres"`
	DBPort    int    `envconfig:"DB_PORT" default:"5432"`
	DBUser    string `envconfig:"DB_USER" default:"alicit"`
	DBPass    string `envconfig:"DB_PASS" default:"password"`
	DBName    string `envconfig:"DB_NAME" default:"alicit"`
	DBSSLMode string `envconfig:"DB_SSLMODE" default:"disable"`

	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	EnableAPI             bool `envconfig:"ENABLE_API" default:"true"`
	EnableVectorizeWorker bool `envconfig:"ENABLE_VECTORIZE_WORKER" default:"true"`

	// Embeddings
	EmbeddingModel     string `envconfig:"EMBEDDING_MODEL" default:"sentence-transformers/all-MiniLM-L6-v2"`
	EmbeddingModelDir  string `envconfig:"EMBEDDING_MODEL_DIR" default:"./models"`
	EmbeddingDim       int    `envconfig:"EMBEDDING_DIM" default:"384"`
	EmbeddingBatchSize int    `envconfig:"EMBEDDING_BATCH_SIZE" default:"32"`
	OllamaURL          string `envconfig:"OLLAMA_URL" default:"http://ollama:11434"`
	OllamaEmbedModel   string `envconfig:"OLLAMA_EMBED_MODEL" default:"all-minilm"`
	FallbackBatchSize  int    `envconfig:"FALLBACK_BATCH_SIZE" default:"50"`

	// Rerank & completion
	RerankModel    string `envconfig:"RERANK_MODEL" default:"cross-encoder/ms-marco-MiniLM-L-6-v2"`
	RerankProvider string `envconfig:"RERANK_PROVIDER" default:"jina"`
	RerankAPIKey   string `envconfig:"RERANK_API_KEY"`
	GeminiAPIKey   string `envconfig:"GEMINI_API_KEY"`
	GeminiModel    string `envconfig:"GEMINI_MODEL" default:"gemini-2.0-flash"`

	DocumentProcessorURL string `envconfig:"DOCUMENT_PROCESSOR_URL" default:"http://document-processor:8000"`

	ChunkMaxTokens     int `envconfig:"CHUNK_MAX_TOKENS" default:"400"`
	ChunkOverlapTokens int `envconfig:"CHUNK_OVERLAP_TOKENS" default:"50"`

	CacheTTLSeconds     int `envconfig:"CACHE_TTL_SECONDS" default:"3600"`
	CacheCleanupSeconds int `envconfig:"CACHE_CLEANUP_SECONDS" default:"600"`

	// Server
	ServerPort   int    `envconfig:"SERVER_PORT" default:"8081"`
	QueryLogPath string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`

	// Per-stage timeouts
	EmbedTimeoutSeconds    int `envconfig:"EMBED_TIMEOUT_SECONDS" default:"120"`
	SearchTimeoutSeconds   int `envconfig:"SEARCH_TIMEOUT_SECONDS" default:"15"`
	RerankTimeoutSeconds   int `envconfig:"RERANK_TIMEOUT_SECONDS" default:"10"`
	GenerateTimeoutSeconds int `envconfig:"GENERATE_TIMEOUT_SECONDS" default:"60"`
	ExtractTimeoutSeconds  int `envconfig:"EXTRACT_TIMEOUT_SECONDS" default:"180"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Env vars set in the shell win over the file.
	_ = godotenv.Load(".env")

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if c.EmbeddingDim <= 0 {
		return fmt.Errorf("%w: EMBEDDING_DIM", ErrMissingRequired)
	}
	if c.DocumentProcessorURL == "" {
		return fmt.Errorf("%w: DOCUMENT_PROCESSOR_URL", ErrMissingRequired)
	}
	return nil
}

// DSN builds the lib/pq connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPass, c.DBName, c.DBSSLMode)
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// Timeouts groups the per-stage deadlines handed to the RAG pipeline.
type Timeouts struct {
	Embed    time.Duration
	Search   time.Duration
	Rerank   time.Duration
	Generate time.Duration
	Extract  time.Duration
}

func (c *Config) Timeouts() Timeouts {
	return Timeouts{
		Embed:    time.Duration(c.EmbedTimeoutSeconds) * time.Second,
		Search:   time.Duration(c.SearchTimeoutSeconds) * time.Second,
		Rerank:   time.Duration(c.RerankTimeoutSeconds) * time.Second,
		Generate: time.Duration(c.GenerateTimeoutSeconds) * time.Second,
		Extract:  time.Duration(c.ExtractTimeoutSeconds) * time.Second,
	}
}
