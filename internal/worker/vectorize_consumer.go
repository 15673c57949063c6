package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"

	"github.com/Pedro004-dot/AlicitSaas/features/job"
	"github.com/Pedro004-dot/AlicitSaas/internal/config"
	"github.com/Pedro004-dot/AlicitSaas/internal/middleware"
	"github.com/Pedro004-dot/AlicitSaas/internal/rag"
)

// MaxAttempts bounds NSQ redeliveries of a task that hit a transient error.
const MaxAttempts = 3

// VectorizeConsumer runs rag.vectorize tasks. Tasks that end in a
// non-transient failure are recorded in failed_jobs and acknowledged.
type VectorizeConsumer struct {
	vectorizer Vectorizer
	jobRepo    job.Repository
}

func NewVectorizeConsumer(v Vectorizer, j job.Repository) *VectorizeConsumer {
	return &VectorizeConsumer{vectorizer: v, jobRepo: j}
}

func (h *VectorizeConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var task rag.VectorizeTask
	err := json.Unmarshal(m.Body, &task)

	correlationID := task.CorrelationID
	if correlationID == "" || correlationID == "unknown" {
		correlationID = uuid.New().String()
	}
	ctx := middleware.WithCorrelationID(context.Background(), correlationID)

	if err != nil {
		// Poison pill: never redeliver
		slog.ErrorContext(ctx, "invalid vectorize task", "error", err)
		return nil
	}
	if task.RecordID == "" {
		slog.ErrorContext(ctx, "vectorize task without licitacao_id, dropping")
		return nil
	}

	slog.InfoContext(ctx, "vectorize task received", "licitacao_id", task.RecordID, "attempt", m.Attempts)

	res := h.vectorizer.Vectorize(ctx, task.RecordID)
	if res.Success {
		slog.InfoContext(ctx, "vectorize task done",
			"licitacao_id", task.RecordID, "processed", res.ProcessedDocuments, "chunks", res.TotalChunks)
		return nil
	}

	if res.Action == rag.ActionCriticalError && m.Attempts < MaxAttempts {
		slog.WarnContext(ctx, "vectorize task failed, requeueing", "licitacao_id", task.RecordID, "error", res.Error)
		return fmt.Errorf("vectorize %s: %s", task.RecordID, res.Error)
	}

	slog.ErrorContext(ctx, "vectorize task failed", "licitacao_id", task.RecordID, "action", res.Action, "error", res.Error)
	failed := &job.Job{
		RecordID: task.RecordID,
		Handler:  config.HandlerVectorize,
		Payload:  m.Body,
		Error:    res.Action + ": " + res.Error,
	}
	if err := h.jobRepo.Save(ctx, failed); err != nil {
		slog.ErrorContext(ctx, "failed to save failed job", "error", err)
	} else {
		slog.InfoContext(ctx, "saved failed job for retry", "job_id", failed.ID)
	}
	return nil
}
