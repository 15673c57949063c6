package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nsqio/go-nsq"

	"github.com/Pedro004-dot/AlicitSaas/internal/app"
	"github.com/Pedro004-dot/AlicitSaas/internal/config"
	"github.com/Pedro004-dot/AlicitSaas/internal/logger"
)

func main() {
	// 1. Load Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(os.Stdout, cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		slog.Error("service exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	// 2. Infrastructure
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer deps.DB.Close()
	defer deps.NSQProducer.Stop()

	// 3. Application
	application, err := app.New(cfg, deps.DB, deps.NSQProducer, log)
	if err != nil {
		return fmt.Errorf("app init: %w", err)
	}
	defer func() {
		if err := application.Close(); err != nil {
			log.Warn("failed to release resources", "error", err)
		}
	}()

	// Loading the models takes a while; do it before traffic arrives.
	go func() {
		if application.Embedder.Warmup(ctx) {
			log.Info("embedding model ready", "model", cfg.EmbeddingModel)
		} else {
			log.Warn("embedding model unavailable, using fallback provider", "model", cfg.EmbeddingModel)
		}
		if !application.Reranker.Warmup(ctx) {
			log.Warn("cross-encoder unavailable, local reranking off", "model", cfg.RerankModel)
		}
	}()

	// 4. Worker (Vectorize Consumer)
	if cfg.EnableVectorizeWorker {
		consumer, err := startVectorizeConsumer(cfg, application)
		if err != nil {
			return err
		}
		defer func() {
			consumer.Stop()
			<-consumer.StopChan
		}()
	}

	// 5. Start Server
	if !cfg.EnableAPI {
		log.Info("api disabled, running worker only")
		<-ctx.Done()
		return nil
	}
	return application.Run(ctx)
}

func startVectorizeConsumer(cfg *config.Config, application *app.App) (*nsq.Consumer, error) {
	nsqCfg := nsq.NewConfig()
	nsqCfg.MaxAttempts = 0 // the handler decides when to give up
	consumer, err := nsq.NewConsumer(config.TopicVectorize, config.ChannelVectorize, nsqCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create NSQ consumer: %w", err)
	}
	consumer.AddHandler(application.VectorizeConsumer)

	if cfg.NSQLookupd != "" {
		err = consumer.ConnectToNSQLookupd(cfg.NSQLookupd)
	} else {
		err = consumer.ConnectToNSQD(cfg.NSQDHost)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect NSQ consumer: %w", err)
	}
	slog.Info("NSQ vectorize consumer connected", "topic", config.TopicVectorize, "channel", config.ChannelVectorize)
	return consumer, nil
}
