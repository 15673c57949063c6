package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"

	"github.com/Pedro004-dot/AlicitSaas/internal/config"
	"github.com/Pedro004-dot/AlicitSaas/internal/vector"
)

type Dependencies struct {
	DB          *sql.DB
	NSQProducer *nsq.Producer
	Schema      *vector.SchemaInfo
}

func Bootstrap(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	// Database
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second
	if err := pingWithRetry(ctx, db, cfg.BootstrapRetryAttempts, retryDelay); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	// Migrations
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(cfg.MigrationPath, "postgres", driver)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		_ = db.Close()
		return nil, fmt.Errorf("migration up error: %w", err)
	}

	// Vector schema
	schema, err := EnsureSchemaWithRetry(ctx, vector.NewPostgresSchemaClient(db), cfg.EmbeddingDim, cfg.BootstrapRetryAttempts, retryDelay)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("vector schema error: %w", err)
	}
	if !schema.HybridSearch {
		slog.Warn("hybrid_search routine missing, queries will use semantic search only")
	}

	// NSQ Producer
	producer, err := nsq.NewProducer(cfg.NSQDHost, nsq.NewConfig())
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("nsq producer error: %w", err)
	}

	createTopics(cfg.NSQDHTTP)

	return &Dependencies{
		DB:          db,
		NSQProducer: producer,
		Schema:      schema,
	}, nil
}

func pingWithRetry(ctx context.Context, db *sql.DB, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < max(attempts, 1); i++ {
		if err = db.PingContext(ctx); err == nil {
			return nil
		}
		slog.Warn("failed to ping db, retrying...", "attempt", i+1, "error", err)
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

func createTopics(nsqdHTTP string) {
	create := func(topic string) {
		u := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, url.QueryEscape(topic))
		resp, err := http.Post(u, "application/json", nil) // #nosec G107 -- URL is built from internal NSQ config, not user input
		if err != nil {
			slog.Warn("failed to create NSQ topic", "topic", topic, "error", err)
			return
		}
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("failed to close NSQ topic creation response body", "error", closeErr)
		}
	}

	go func() {
		time.Sleep(2 * time.Second)
		create(config.TopicVectorize)
	}()
}

// EnsureSchemaWithRetry validates the pgvector schema, retrying while the
// database is still coming up. A dimension mismatch is not retried.
func EnsureSchemaWithRetry(ctx context.Context, client vector.SchemaClient, dim, attempts int, delay time.Duration) (*vector.SchemaInfo, error) {
	var (
		info *vector.SchemaInfo
		err  error
	)
	for i := 0; i < max(attempts, 1); i++ {
		if info, err = vector.EnsureSchema(ctx, client, dim); err == nil {
			return info, nil
		}
		if errors.Is(err, vector.ErrDimensionMismatch) {
			return nil, err
		}
		if i < attempts-1 {
			time.Sleep(delay)
		}
	}
	return nil, err
}
