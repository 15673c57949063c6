package ingestion

import (
	"errors"
	"time"
)

// ErrRecordNotFound means the licitação does not exist upstream.
var ErrRecordNotFound = errors.New("licitacao not found")

// ErrUpstreamUnavailable means the document processor, or PNCP behind it,
// could not be reached or answered with a gateway error.
var ErrUpstreamUnavailable = errors.New("document source unavailable")

// MinDocumentSize is the smallest file, in bytes, treated as a usable document.
const MinDocumentSize = 1000

var validMimeTypes = map[string]bool{
	"application/pdf":    true,
	"application/msword": true,
}

type Document struct {
	ID          string    `json:"id"`
	RecordID    string    `json:"licitacao_id"`
	Title       string    `json:"titulo"`
	URL         string    `json:"arquivo_nuvem_url"`
	MimeType    string    `json:"tipo_arquivo"`
	Size        int64     `json:"tamanho_arquivo"`
	Status      string    `json:"status_processamento"`
	Vectorized  bool      `json:"vetorizado"`
	ChunksCount int       `json:"chunks_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// Valid reports whether the stored file looks like a real PDF or Word document.
func (d Document) Valid() bool {
	return validMimeTypes[d.MimeType] && d.Size > MinDocumentSize
}

// RecordInfo is the lightweight licitação metadata used in prompts and
// error payloads.
type RecordInfo struct {
	ID                 string   `json:"id"`
	PNCPID             string   `json:"pncp_id,omitempty"`
	Objeto             string   `json:"objeto_compra"`
	Modalidade         string   `json:"modalidade_nome,omitempty"`
	ValorTotalEstimado *float64 `json:"valor_total_estimado,omitempty"`
	Orgao              string   `json:"orgao_entidade,omitempty"`
	UF                 string   `json:"uf,omitempty"`
}

// ProcessResult is the document processor's answer to a process request.
type ProcessResult struct {
	Success   bool   `json:"success"`
	Processed int    `json:"documentos_processados"`
	Error     string `json:"error,omitempty"`
}
