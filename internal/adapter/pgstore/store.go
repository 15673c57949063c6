package pgstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"

	"github.com/pgvector/pgvector-go"

	"github.com/Pedro004-dot/AlicitSaas/internal/text"
	"github.com/Pedro004-dot/AlicitSaas/internal/vector"
)

// Store is the pgvector-backed chunk store. It is the only writer of
// documentos_chunks.
type Store struct {
	db  *sql.DB
	dim int
}

func NewStore(db *sql.DB, dim int) *Store {
	return &Store{db: db, dim: dim}
}

// HybridQuery describes one hybrid_search call.
type HybridQuery struct {
	Text           string
	Embedding      []float32
	RecordID       string
	Limit          int
	SemanticWeight float64
	TextWeight     float64
}

// SaveResult reports what SaveChunksWithEmbeddings persisted.
type SaveResult struct {
	Inserted       int
	ChunkCount     int
	AlreadyPresent bool
}

const insertChunkQuery = `INSERT INTO documentos_chunks
	(documento_id, licitacao_id, chunk_index, chunk_text, chunk_type, page_number, section_title, token_count, char_count, embedding, metadata_chunk)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

// SaveChunksWithEmbeddings writes every chunk of a document and flips the
// document to concluded in one transaction. A per-document advisory lock
// serializes concurrent writers; a writer that finds chunks already present
// commits without inserting.
func (s *Store) SaveChunksWithEmbeddings(ctx context.Context, documentID, recordID string, chunks []text.Chunk, embeddings [][]float32) (SaveResult, error) {
	if len(chunks) != len(embeddings) {
		return SaveResult{}, fmt.Errorf("%w: %d chunks, %d embeddings", vector.ErrLengthMismatch, len(chunks), len(embeddings))
	}
	if s.dim > 0 {
		for i, e := range embeddings {
			if len(e) != s.dim {
				return SaveResult{}, fmt.Errorf("%w: embedding %d has %d dims, store expects %d", vector.ErrDimensionMismatch, i, len(e), s.dim)
			}
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return SaveResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, documentID); err != nil {
		return SaveResult{}, fmt.Errorf("lock document %s: %w", documentID, err)
	}

	var existing int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM documentos_chunks WHERE documento_id = $1`, documentID).Scan(&existing); err != nil {
		return SaveResult{}, fmt.Errorf("count existing chunks: %w", err)
	}

	result := SaveResult{ChunkCount: existing, AlreadyPresent: existing > 0}
	if existing == 0 {
		stmt, err := tx.PrepareContext(ctx, insertChunkQuery)
		if err != nil {
			return SaveResult{}, fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		for i, c := range chunks {
			_, err := stmt.ExecContext(ctx,
				documentID, recordID, c.Index, c.Text, string(c.Type),
				nullInt(c.PageNumber), nullString(c.SectionTitle),
				c.TokenCount, c.CharCount,
				pgvector.NewVector(embeddings[i]), vector.Metadata(c.Metadata),
			)
			if err != nil {
				return SaveResult{}, fmt.Errorf("insert chunk %d: %w", c.Index, err)
			}
		}
		result.Inserted = len(chunks)
		result.ChunkCount = len(chunks)
	} else {
		slog.InfoContext(ctx, "document already vectorized, skipping insert", "documento_id", documentID, "chunks", existing)
	}

	_, err = tx.ExecContext(ctx, `UPDATE documentos_licitacao
		SET status_processamento = $2, vetorizado = TRUE, chunks_count = $3, updated_at = NOW()
		WHERE id = $1`, documentID, vector.StatusConcluded, result.ChunkCount)
	if err != nil {
		return SaveResult{}, fmt.Errorf("update document status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return SaveResult{}, fmt.Errorf("commit: %w", err)
	}
	return result, nil
}

type strategy struct {
	name      string
	available func(ctx context.Context) (bool, error)
	search    func(ctx context.Context) ([]vector.SearchResult, error)
}

// HybridSearch degrades in three steps: no chunks -> empty; no hybrid_search
// routine -> semantic; hybrid_search error -> semantic. Only a failure of
// the semantic baseline itself is returned.
func (s *Store) HybridSearch(ctx context.Context, q HybridQuery) ([]vector.SearchResult, error) {
	count, err := s.CountRecordChunks(ctx, q.RecordID)
	if err != nil {
		slog.WarnContext(ctx, "chunk count failed, searching anyway", "licitacao_id", q.RecordID, "error", err)
	} else if count == 0 {
		slog.InfoContext(ctx, "no chunks for record", "licitacao_id", q.RecordID)
		return []vector.SearchResult{}, nil
	}

	return firstSuccessful(ctx, []strategy{
		{
			name:      vector.StrategyHybrid,
			available: s.HasHybridSearch,
			search:    func(ctx context.Context) ([]vector.SearchResult, error) { return s.hybrid(ctx, q) },
		},
		{
			name: vector.StrategySemantic,
			search: func(ctx context.Context) ([]vector.SearchResult, error) {
				return s.SemanticSearch(ctx, q.Embedding, q.RecordID, q.Limit)
			},
		},
	})
}

func firstSuccessful(ctx context.Context, strategies []strategy) ([]vector.SearchResult, error) {
	var lastErr error
	for _, st := range strategies {
		if st.available != nil {
			ok, err := st.available(ctx)
			if err != nil {
				// Unknown capability: try it and let the runtime error decide.
				slog.WarnContext(ctx, "capability check failed", "strategy", st.name, "error", err)
			} else if !ok {
				slog.WarnContext(ctx, "search strategy unavailable, falling back", "strategy", st.name)
				continue
			}
		}

		results, err := st.search(ctx)
		if err != nil {
			slog.WarnContext(ctx, "search strategy failed, falling back", "strategy", st.name, "error", err)
			lastErr = err
			continue
		}
		sortByScore(results)
		return results, nil
	}
	return nil, lastErr
}

// sortByScore orders by score descending; ties keep retrieval order.
func sortByScore(results []vector.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}

// HasHybridSearch reports whether the hybrid_search routine is installed.
func (s *Store) HasHybridSearch(ctx context.Context) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM information_schema.routines WHERE routine_name = $1)`,
		vector.HybridSearchFunc).Scan(&exists)
	return exists, err
}

func (s *Store) hybrid(ctx context.Context, q HybridQuery) ([]vector.SearchResult, error) {
	query := `SELECT chunk_id, documento_id, chunk_text, chunk_type, page_number, section_title,
		semantic_score, text_score, hybrid_score, metadata_chunk
		FROM hybrid_search($1::vector, $2, $3::uuid, $4, $5, $6)`

	rows, err := s.db.QueryContext(ctx, query,
		pgvector.NewVector(q.Embedding), q.Text, q.RecordID, q.Limit, q.SemanticWeight, q.TextWeight)
	if err != nil {
		return nil, fmt.Errorf("hybrid_search: %w", err)
	}
	defer rows.Close()

	results := []vector.SearchResult{}
	for rows.Next() {
		var (
			r       vector.SearchResult
			page    sql.NullInt32
			section sql.NullString
		)
		if err := rows.Scan(&r.ChunkID, &r.DocumentID, &r.Text, &r.ChunkType, &page, &section,
			&r.SemanticScore, &r.TextScore, &r.Score, &r.Metadata); err != nil {
			return nil, fmt.Errorf("scan hybrid row: %w", err)
		}
		r.PageNumber = intPtr(page)
		r.SectionTitle = stringPtr(section)
		r.Strategy = vector.StrategyHybrid
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("hybrid rows: %w", err)
	}
	return results, nil
}

// SemanticSearch ranks a record's chunks by cosine similarity only.
func (s *Store) SemanticSearch(ctx context.Context, embedding []float32, recordID string, limit int) ([]vector.SearchResult, error) {
	query := `SELECT id, documento_id, chunk_text, chunk_type, page_number, section_title, metadata_chunk,
		1 - (embedding <=> $1) AS similarity
		FROM documentos_chunks
		WHERE licitacao_id = $2 AND embedding IS NOT NULL
		ORDER BY embedding <=> $1
		LIMIT $3`

	rows, err := s.db.QueryContext(ctx, query, pgvector.NewVector(embedding), recordID, limit)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}
	defer rows.Close()

	results := []vector.SearchResult{}
	for rows.Next() {
		var (
			r       vector.SearchResult
			page    sql.NullInt32
			section sql.NullString
		)
		if err := rows.Scan(&r.ChunkID, &r.DocumentID, &r.Text, &r.ChunkType, &page, &section, &r.Metadata, &r.Score); err != nil {
			return nil, fmt.Errorf("scan semantic row: %w", err)
		}
		r.PageNumber = intPtr(page)
		r.SectionTitle = stringPtr(section)
		r.SemanticScore = r.Score
		r.Strategy = vector.StrategySemantic
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("semantic rows: %w", err)
	}
	sortByScore(results)
	return results, nil
}

func (s *Store) CheckVectorizationStatus(ctx context.Context, recordID string) (vector.Status, error) {
	query := `SELECT COUNT(*),
		COUNT(*) FILTER (WHERE vetorizado),
		COALESCE(SUM(chunks_count), 0)
		FROM documentos_licitacao WHERE licitacao_id = $1`

	var total, vectorized, chunks int
	if err := s.db.QueryRowContext(ctx, query, recordID).Scan(&total, &vectorized, &chunks); err != nil {
		return vector.Status{}, fmt.Errorf("vectorization status: %w", err)
	}
	return vector.NewStatus(recordID, total, vectorized, chunks), nil
}

func (s *Store) CountDocumentChunks(ctx context.Context, documentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documentos_chunks WHERE documento_id = $1`, documentID).Scan(&n)
	return n, err
}

func (s *Store) CountRecordChunks(ctx context.Context, recordID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documentos_chunks WHERE licitacao_id = $1`, recordID).Scan(&n)
	return n, err
}

// DeleteRecordChunks drops a record's chunks and resets its documents to
// pending so the next run vectorizes them again.
func (s *Store) DeleteRecordChunks(ctx context.Context, recordID string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM documentos_chunks WHERE licitacao_id = $1`, recordID)
	if err != nil {
		return 0, fmt.Errorf("delete chunks: %w", err)
	}
	deleted, _ := res.RowsAffected()

	_, err = tx.ExecContext(ctx, `UPDATE documentos_licitacao
		SET vetorizado = FALSE, chunks_count = 0, status_processamento = $2, updated_at = NOW()
		WHERE licitacao_id = $1`, recordID, vector.StatusPending)
	if err != nil {
		return 0, fmt.Errorf("reset documents: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return deleted, nil
}

// CountChunks returns the total number of stored chunks.
func (s *Store) CountChunks(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documentos_chunks`).Scan(&n)
	return n, err
}

// CountVectorizedRecords returns how many records have at least one chunk.
func (s *Store) CountVectorizedRecords(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT licitacao_id) FROM documentos_chunks`).Scan(&n)
	return n, err
}

func nullInt(p *int) sql.NullInt32 {
	if p == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: int32(*p), Valid: true}
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func intPtr(n sql.NullInt32) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int32)
	return &v
}

func stringPtr(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	v := n.String
	return &v
}
