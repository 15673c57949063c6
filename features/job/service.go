package job

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Pedro004-dot/AlicitSaas/internal/config"
)

const publishTimeout = 5 * time.Second

var ErrPublishTimeout = errors.New("timeout waiting for NSQ publish")

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

type Service struct {
	repo   Repository
	pub    EventPublisher
	logger *slog.Logger
}

func NewService(repo Repository, pub EventPublisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, pub: pub, logger: logger}
}

func (s *Service) List(ctx context.Context) ([]Job, error) {
	return s.repo.List(ctx)
}

// Record stores a failed task for later replay.
func (s *Service) Record(ctx context.Context, j *Job) error {
	return s.repo.Save(ctx, j)
}

// Retry republishes the job's payload to the topic of the handler that
// produced it, then deletes the job.
func (s *Service) Retry(ctx context.Context, id string) error {
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if s.pub == nil {
		return errors.New("no publisher configured")
	}

	// rag.vectorize is the only handler that records failures.
	topic := config.TopicVectorize
	done := make(chan error, 1)
	go func() {
		done <- s.pub.Publish(topic, job.Payload)
	}()

	select {
	case err := <-done:
		if err != nil {
			return err
		}
	case <-time.After(publishTimeout):
		return ErrPublishTimeout
	case <-ctx.Done():
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "job republished", "id", id, "topic", topic, "licitacao_id", job.RecordID)
	return s.repo.Delete(ctx, id)
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}
