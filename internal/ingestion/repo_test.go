package ingestion_test

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Pedro004-dot/AlicitSaas/internal/ingestion"
)

const recordID = "22222222-2222-2222-2222-222222222222"

func TestPostgresRepo_GetDocuments(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "licitacao_id", "titulo", "arquivo_nuvem_url", "tipo_arquivo", "tamanho_arquivo", "status_processamento", "vetorizado", "chunks_count", "created_at"}).
		AddRow("d1", recordID, "Edital", "https://s/edital.pdf", "application/pdf", 50000, "pending", false, 0, now).
		AddRow("d2", recordID, "Anexo", "https://s/anexo.doc", "application/msword", 800, "concluded", true, 4, now)

	mock.ExpectQuery(regexp.QuoteMeta("FROM documentos_licitacao WHERE licitacao_id = $1 ORDER BY created_at, id")).
		WithArgs(recordID).WillReturnRows(rows)

	docs, err := ingestion.NewPostgresRepo(db).GetDocuments(context.Background(), recordID)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "Edital", docs[0].Title)
	assert.True(t, docs[0].Valid())
	assert.False(t, docs[1].Valid())
	assert.Equal(t, 4, docs[1].ChunksCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_GetRecordInfo(t *testing.T) {
	query := regexp.QuoteMeta("FROM licitacoes WHERE id = $1")

	t.Run("Found", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(query).WithArgs(recordID).WillReturnRows(
			sqlmock.NewRows([]string{"id", "pncp_id", "objeto_compra", "modalidade_nome", "valor_total_estimado", "orgao_entidade", "uf"}).
				AddRow(recordID, "123-1-2024", "Aquisição de notebooks", "Pregão Eletrônico", 250000.0, "Prefeitura de Campinas", "SP"))

		info, err := ingestion.NewPostgresRepo(db).GetRecordInfo(context.Background(), recordID)
		require.NoError(t, err)
		assert.Equal(t, "Aquisição de notebooks", info.Objeto)
		require.NotNil(t, info.ValorTotalEstimado)
		assert.Equal(t, 250000.0, *info.ValorTotalEstimado)
	})

	t.Run("Missing Value Is Nil", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(query).WithArgs(recordID).WillReturnRows(
			sqlmock.NewRows([]string{"id", "pncp_id", "objeto_compra", "modalidade_nome", "valor_total_estimado", "orgao_entidade", "uf"}).
				AddRow(recordID, "", "Serviços", "", nil, "", ""))

		info, err := ingestion.NewPostgresRepo(db).GetRecordInfo(context.Background(), recordID)
		require.NoError(t, err)
		assert.Nil(t, info.ValorTotalEstimado)
	})

	t.Run("Not Found", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(query).WithArgs(recordID).WillReturnError(sql.ErrNoRows)

		info, err := ingestion.NewPostgresRepo(db).GetRecordInfo(context.Background(), recordID)
		assert.Nil(t, info)
		assert.True(t, errors.Is(err, ingestion.ErrRecordNotFound))
	})
}

func TestPostgresRepo_Writes(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := ingestion.NewPostgresRepo(db)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE documentos_licitacao SET status_processamento = $2, updated_at = NOW() WHERE id = ANY($1)")).
		WithArgs(pq.Array([]string{"d1", "d2"}), "processing").
		WillReturnResult(sqlmock.NewResult(0, 2))
	require.NoError(t, repo.UpdateDocumentStatus(ctx, []string{"d1", "d2"}, "processing"))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE documentos_licitacao SET texto_extraido = $2")).
		WithArgs("d1", "texto").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.SaveExtractedText(ctx, "d1", "texto"))

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM documentos_licitacao WHERE licitacao_id = $1")).
		WithArgs(recordID).
		WillReturnResult(sqlmock.NewResult(0, 3))
	n, err := repo.PurgeDocuments(ctx, recordID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM documentos_licitacao WHERE licitacao_id = $1)")).
		WithArgs(recordID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	exists, err := repo.DocumentsExist(ctx, recordID)
	require.NoError(t, err)
	assert.False(t, exists)

	assert.NoError(t, mock.ExpectationsWereMet())
}
