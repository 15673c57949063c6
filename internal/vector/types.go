package vector

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrLengthMismatch is returned when chunks and embeddings cannot be paired 1:1.
	ErrLengthMismatch = errors.New("chunk and embedding counts differ")

	// ErrDimensionMismatch is returned when a vector does not match the store's dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Document processing states persisted in documentos_licitacao.status_processamento.
const (
	StatusPending        = "pending"
	StatusProcessing     = "processing"
	StatusConcluded      = "concluded"
	StatusError          = "error"
	StatusErrorEmbedding = "error_embedding"
)

// Search strategies reported on each result.
const (
	StrategyHybrid   = "hybrid"
	StrategySemantic = "semantic"
)

// Metadata is the free-form JSONB payload attached to a chunk.
type Metadata map[string]interface{}

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = Metadata{}
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("metadata: unsupported scan type %T", value)
	}
	if len(raw) == 0 {
		*m = Metadata{}
		return nil
	}
	return json.Unmarshal(raw, m)
}

// SearchResult is one retrieved chunk with its scores.
// Score is the retrieval score of the strategy that produced it: the hybrid
// score for hybrid search, cosine similarity for semantic search.
type SearchResult struct {
	ChunkID       string   `json:"chunk_id"`
	DocumentID    string   `json:"documento_id,omitempty"`
	Text          string   `json:"chunk_text"`
	ChunkType     string   `json:"chunk_type"`
	PageNumber    *int     `json:"page_number"`
	SectionTitle  *string  `json:"section_title"`
	Metadata      Metadata `json:"metadata,omitempty"`
	Strategy      string   `json:"strategy"`
	Score         float64  `json:"score"`
	SemanticScore float64  `json:"semantic_score"`
	TextScore     float64  `json:"text_score"`

	RerankScore *float64 `json:"rerank_score,omitempty"`
	FinalScore  *float64 `json:"final_score,omitempty"`
}

// RankScore is the best available ranking score: the blended score once
// reranked, the retrieval score otherwise.
func (r SearchResult) RankScore() float64 {
	if r.FinalScore != nil {
		return *r.FinalScore
	}
	return r.Score
}

// Status is the derived vectorization view over a record's documents.
type Status struct {
	RecordID            string    `json:"licitacao_id"`
	TotalDocuments      int       `json:"total_documentos"`
	VectorizedDocuments int       `json:"documentos_vetorizados"`
	TotalChunks         int       `json:"total_chunks"`
	Complete            bool      `json:"vetorizado_completo"`
	CheckedAt           time.Time `json:"checked_at"`
}

// NewStatus derives Complete from the counts.
func NewStatus(recordID string, total, vectorized, chunks int) Status {
	return Status{
		RecordID:            recordID,
		TotalDocuments:      total,
		VectorizedDocuments: vectorized,
		TotalChunks:         chunks,
		Complete:            total > 0 && vectorized == total,
		CheckedAt:           time.Now().UTC(),
	}
}
