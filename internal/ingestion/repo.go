package ingestion

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) DocumentsExist(ctx context.Context, recordID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM documentos_licitacao WHERE licitacao_id = $1)`, recordID).Scan(&exists)
	return exists, err
}

func (r *PostgresRepo) GetDocuments(ctx context.Context, recordID string) ([]Document, error) {
	query := `SELECT id, licitacao_id, titulo, arquivo_nuvem_url, tipo_arquivo, tamanho_arquivo, status_processamento, vetorizado, chunks_count, created_at
		FROM documentos_licitacao WHERE licitacao_id = $1 ORDER BY created_at, id`
	rows, err := r.db.QueryContext(ctx, query, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.RecordID, &d.Title, &d.URL, &d.MimeType, &d.Size, &d.Status, &d.Vectorized, &d.ChunksCount, &d.CreatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (r *PostgresRepo) GetRecordInfo(ctx context.Context, recordID string) (*RecordInfo, error) {
	query := `SELECT id, COALESCE(pncp_id, ''), objeto_compra, COALESCE(modalidade_nome, ''), valor_total_estimado, COALESCE(orgao_entidade, ''), COALESCE(uf, '')
		FROM licitacoes WHERE id = $1`

	var (
		info  RecordInfo
		valor sql.NullFloat64
	)
	err := r.db.QueryRowContext(ctx, query, recordID).Scan(&info.ID, &info.PNCPID, &info.Objeto, &info.Modalidade, &valor, &info.Orgao, &info.UF)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, recordID)
	}
	if err != nil {
		return nil, err
	}
	if valor.Valid {
		info.ValorTotalEstimado = &valor.Float64
	}
	return &info, nil
}

// PurgeDocuments deletes a record's documents; their chunks cascade.
func (r *PostgresRepo) PurgeDocuments(ctx context.Context, recordID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM documentos_licitacao WHERE licitacao_id = $1`, recordID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresRepo) UpdateDocumentStatus(ctx context.Context, documentIDs []string, status string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE documentos_licitacao SET status_processamento = $2, updated_at = NOW() WHERE id = ANY($1)`,
		pq.Array(documentIDs), status)
	return err
}

func (r *PostgresRepo) SaveExtractedText(ctx context.Context, documentID, text string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE documentos_licitacao SET texto_extraido = $2, updated_at = NOW() WHERE id = $1`, documentID, text)
	return err
}

func (r *PostgresRepo) CountDocuments(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documentos_licitacao`).Scan(&n)
	return n, err
}
