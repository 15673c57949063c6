package ingestion

import (
	"context"
	"log/slog"

	"github.com/Pedro004-dot/AlicitSaas/internal/text"
)

type Repository interface {
	DocumentsExist(ctx context.Context, recordID string) (bool, error)
	GetDocuments(ctx context.Context, recordID string) ([]Document, error)
	GetRecordInfo(ctx context.Context, recordID string) (*RecordInfo, error)
	PurgeDocuments(ctx context.Context, recordID string) (int64, error)
	UpdateDocumentStatus(ctx context.Context, documentIDs []string, status string) error
	SaveExtractedText(ctx context.Context, documentID, text string) error
	CountDocuments(ctx context.Context) (int, error)
}

type Processor interface {
	Process(ctx context.Context, recordID string) (ProcessResult, error)
	Extract(ctx context.Context, doc Document) ([]text.Page, error)
}

// Service is the ingestion boundary the RAG pipeline depends on.
type Service struct {
	repo      Repository
	processor Processor
}

func NewService(repo Repository, processor Processor) *Service {
	return &Service{repo: repo, processor: processor}
}

func (s *Service) DocumentsExist(ctx context.Context, recordID string) (bool, error) {
	return s.repo.DocumentsExist(ctx, recordID)
}

func (s *Service) GetDocuments(ctx context.Context, recordID string) ([]Document, error) {
	return s.repo.GetDocuments(ctx, recordID)
}

func (s *Service) GetRecordInfo(ctx context.Context, recordID string) (*RecordInfo, error) {
	return s.repo.GetRecordInfo(ctx, recordID)
}

func (s *Service) PurgeDocuments(ctx context.Context, recordID string) error {
	n, err := s.repo.PurgeDocuments(ctx, recordID)
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "purged documents", "licitacao_id", recordID, "count", n)
	return nil
}

func (s *Service) ProcessDocuments(ctx context.Context, recordID string) (ProcessResult, error) {
	return s.processor.Process(ctx, recordID)
}

func (s *Service) ExtractText(ctx context.Context, doc Document) ([]text.Page, error) {
	return s.processor.Extract(ctx, doc)
}

func (s *Service) UpdateDocumentStatus(ctx context.Context, documentID, status string) error {
	return s.repo.UpdateDocumentStatus(ctx, []string{documentID}, status)
}

func (s *Service) SaveExtractedText(ctx context.Context, documentID, text string) error {
	return s.repo.SaveExtractedText(ctx, documentID, text)
}

func (s *Service) CountDocuments(ctx context.Context) (int, error) {
	return s.repo.CountDocuments(ctx)
}
