package rag_test

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/Pedro004-dot/AlicitSaas/internal/adapter/pgstore"
	"github.com/Pedro004-dot/AlicitSaas/internal/embedding"
	"github.com/Pedro004-dot/AlicitSaas/internal/ingestion"
	"github.com/Pedro004-dot/AlicitSaas/internal/retrieval"
	"github.com/Pedro004-dot/AlicitSaas/internal/settings"
	"github.com/Pedro004-dot/AlicitSaas/internal/text"
	"github.com/Pedro004-dot/AlicitSaas/internal/vector"
)

type MockStore struct{ mock.Mock }

func (m *MockStore) CheckVectorizationStatus(ctx context.Context, recordID string) (vector.Status, error) {
	args := m.Called(ctx, recordID)
	return args.Get(0).(vector.Status), args.Error(1)
}

func (m *MockStore) CountDocumentChunks(ctx context.Context, documentID string) (int, error) {
	args := m.Called(ctx, documentID)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) SaveChunksWithEmbeddings(ctx context.Context, documentID, recordID string, chunks []text.Chunk, embeddings [][]float32) (pgstore.SaveResult, error) {
	args := m.Called(ctx, documentID, recordID, chunks, embeddings)
	return args.Get(0).(pgstore.SaveResult), args.Error(1)
}

func (m *MockStore) HybridSearch(ctx context.Context, q pgstore.HybridQuery) ([]vector.SearchResult, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]vector.SearchResult), args.Error(1)
}

func (m *MockStore) DeleteRecordChunks(ctx context.Context, recordID string) (int64, error) {
	args := m.Called(ctx, recordID)
	return args.Get(0).(int64), args.Error(1)
}

type MockIngestion struct{ mock.Mock }

func (m *MockIngestion) DocumentsExist(ctx context.Context, recordID string) (bool, error) {
	args := m.Called(ctx, recordID)
	return args.Bool(0), args.Error(1)
}

func (m *MockIngestion) GetDocuments(ctx context.Context, recordID string) ([]ingestion.Document, error) {
	args := m.Called(ctx, recordID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ingestion.Document), args.Error(1)
}

func (m *MockIngestion) GetRecordInfo(ctx context.Context, recordID string) (*ingestion.RecordInfo, error) {
	args := m.Called(ctx, recordID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ingestion.RecordInfo), args.Error(1)
}

func (m *MockIngestion) PurgeDocuments(ctx context.Context, recordID string) error {
	return m.Called(ctx, recordID).Error(0)
}

func (m *MockIngestion) ProcessDocuments(ctx context.Context, recordID string) (ingestion.ProcessResult, error) {
	args := m.Called(ctx, recordID)
	return args.Get(0).(ingestion.ProcessResult), args.Error(1)
}

func (m *MockIngestion) ExtractText(ctx context.Context, doc ingestion.Document) ([]text.Page, error) {
	args := m.Called(ctx, doc)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]text.Page), args.Error(1)
}

func (m *MockIngestion) UpdateDocumentStatus(ctx context.Context, documentID, status string) error {
	return m.Called(ctx, documentID, status).Error(0)
}

func (m *MockIngestion) SaveExtractedText(ctx context.Context, documentID, txt string) error {
	return m.Called(ctx, documentID, txt).Error(0)
}

// fakeEmbedder returns one unit vector per text and fails any batch that
// contains failOn.
type fakeEmbedder struct {
	mu       sync.Mutex
	failOn   string
	queryErr error
	batches  int
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) (embedding.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return embedding.Outcome{}, err
	}
	f.mu.Lock()
	f.batches++
	f.mu.Unlock()
	for _, t := range texts {
		if f.failOn != "" && strings.Contains(t, f.failOn) {
			return embedding.Outcome{}, embedding.ErrExhausted
		}
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return embedding.Outcome{Embeddings: out, Provider: "fake"}, nil
}

func (f *fakeEmbedder) EmbedOne(ctx context.Context, t string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return []float32{1, 0, 0}, nil
}

type MockAnswerer struct{ mock.Mock }

func (m *MockAnswerer) Rerank(ctx context.Context, query string, chunks []vector.SearchResult, topK int) []vector.SearchResult {
	args := m.Called(ctx, query, chunks, topK)
	return args.Get(0).([]vector.SearchResult)
}

func (m *MockAnswerer) GenerateAnswer(ctx context.Context, query string, chunks []vector.SearchResult, info *ingestion.RecordInfo) retrieval.AnswerResult {
	args := m.Called(ctx, query, chunks, info)
	return args.Get(0).(retrieval.AnswerResult)
}

type staticSettings struct{ s settings.Settings }

func (st staticSettings) Effective(ctx context.Context) settings.Settings { return st.s }

type MockPublisher struct{ mock.Mock }

func (m *MockPublisher) Publish(topic string, body []byte) error {
	return m.Called(topic, body).Error(0)
}

var errBoom = errors.New("boom")
