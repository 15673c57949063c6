package testutils

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"runtime"
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

	"github.com/Pedro004-dot/AlicitSaas/internal/config"
)

const (
	pgImage  = "pgvector/pgvector:pg16"
	nsqImage = "nsqio/nsq:v1.3.0"
)

type IntegrationSuite struct {
	T   *testing.T
	DB  *sql.DB
	NSQ *nsq.Producer

	// SkipNSQ leaves the broker out for tests that only need Postgres.
	SkipNSQ bool

	connStr  string
	nsqdAddr string
	nsqdHTTP string

	pgContainer  *postgres.PostgresContainer
	nsqContainer testcontainers.Container
}

func NewIntegrationSuite(t *testing.T) *IntegrationSuite {
	return &IntegrationSuite{T: t}
}

func (s *IntegrationSuite) Setup() {
	ctx := context.Background()

	// 1. Postgres with pgvector
	pgContainer, err := postgres.Run(ctx,
		pgImage,
		postgres.WithDatabase("alicit_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(s.T, err)
	s.pgContainer = pgContainer

	s.connStr, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(s.T, err)

	s.DB, err = sql.Open("postgres", s.connStr)
	require.NoError(s.T, err)

	m, err := migrate.New(MigrationPath(), s.connStr)
	require.NoError(s.T, err)
	require.NoError(s.T, m.Up())

	if s.SkipNSQ {
		return
	}

	// 2. NSQ
	nsqReq := testcontainers.ContainerRequest{
		Image:        nsqImage,
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

	s.nsqdAddr = fmt.Sprintf("%s:%s", nsqHost, tcpPort.Port())
	s.nsqdHTTP = fmt.Sprintf("%s:%s", nsqHost, httpPort.Port())

	s.NSQ, err = nsq.NewProducer(s.nsqdAddr, nsq.NewConfig())
	require.NoError(s.T, err)
}

// GetAppConfig returns a config pointing at the suite's containers.
func (s *IntegrationSuite) GetAppConfig() *config.Config {
	ctx := context.Background()

	host, err := s.pgContainer.Host(ctx)
	require.NoError(s.T, err)
	port, err := s.pgContainer.MappedPort(ctx, "5432")
	require.NoError(s.T, err)

	return &config.Config{
		DBHost:                     host,
		DBPort:                     port.Int(),
		DBUser:                     "test",
		DBPass:                     "test",
		DBName:                     "alicit_test",
		DBSSLMode:                  "disable",
		MigrationPath:              MigrationPath(),
		NSQDHost:                   s.nsqdAddr,
		NSQDHTTP:                   s.nsqdHTTP,
		EmbeddingModel:             "sentence-transformers/all-MiniLM-L6-v2",
		EmbeddingModelDir:          s.T.TempDir(),
		EmbeddingDim:               384,
		EmbeddingBatchSize:         32,
		FallbackBatchSize:          50,
		OllamaEmbedModel:           "all-minilm",
		RerankModel:                "cross-encoder/ms-marco-MiniLM-L-6-v2",
		RerankProvider:             "none",
		GeminiModel:                "gemini-2.0-flash",
		DocumentProcessorURL:       "http://localhost:1",
		ChunkMaxTokens:             400,
		ChunkOverlapTokens:         50,
		CacheTTLSeconds:            3600,
		CacheCleanupSeconds:        600,
		ServerPort:                 8081,
		LogLevel:                   "info",
		EnableAPI:                  true,
		BootstrapRetryAttempts:     3,
		BootstrapRetryDelaySeconds: 1,
		EmbedTimeoutSeconds:        120,
		SearchTimeoutSeconds:       15,
		RerankTimeoutSeconds:       10,
		GenerateTimeoutSeconds:     60,
		ExtractTimeoutSeconds:      180,
	}
}

// MigrationPath is the file:// URL of the repo's migrations directory.
func MigrationPath() string {
	_, b, _, _ := runtime.Caller(0)
	return fmt.Sprintf("file://%s", filepath.Join(filepath.Dir(b), "..", "..", "migrations"))
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
		s.pgContainer.Terminate(ctx)
	}
	if s.nsqContainer != nil {
		s.nsqContainer.Terminate(ctx)
	}
}
