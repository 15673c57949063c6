package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/Pedro004-dot/AlicitSaas/internal/rag"
)

const (
	ToolQuery  = "licitacao_query"
	ToolStatus = "licitacao_status"
)

type Service interface {
	ProcessOrQuery(ctx context.Context, recordID, query string) *rag.Result
	Status(ctx context.Context, recordID string) (rag.StatusReport, error)
}

type Handler struct {
	service      Service
	sessions     map[string]chan string // sessionId -> serialized JSON-RPC responses
	sessionsLock sync.RWMutex
}

func NewHandler(s Service) *Handler {
	return &Handler{
		service:  s,
		sessions: make(map[string]chan string),
	}
}

type QueryArgs struct {
	RecordID string `json:"licitacao_id"`
	Query    string `json:"query"`
}

type StatusArgs struct {
	RecordID string `json:"licitacao_id"`
}

var tools = []Tool{
	{
		Name: ToolQuery,
		Description: `Pergunta sobre os documentos de uma licitação (edital, termo de referência, anexos).
Os documentos são baixados e vetorizados na primeira pergunta; as seguintes usam o índice.
A resposta cita as páginas usadas.

USAGE EXAMPLE:
licitacao_query(licitacao_id="7d3c1a52-...", query="Qual o valor total estimado?")`,
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"licitacao_id": map[string]string{"type": "string", "description": "ID da licitação"},
				"query":        map[string]string{"type": "string", "description": "Pergunta em linguagem natural"},
			},
			"required": []string{"licitacao_id", "query"},
		},
	},
	{
		Name:        ToolStatus,
		Description: `Mostra se os documentos de uma licitação já foram vetorizados e quantos trechos existem.`,
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"licitacao_id": map[string]string{"type": "string", "description": "ID da licitação"},
			},
			"required": []string{"licitacao_id"},
		},
	},
}

// processRequest returns nil for notifications.
func (h *Handler) processRequest(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	switch req.Method {
	case "initialize":
		return &JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: map[string]interface{}{
				"protocolVersion": "2024-11-05",
				"capabilities": map[string]interface{}{
					"tools": map[string]interface{}{},
				},
				"serverInfo": map[string]interface{}{
					"name":    "alicit-rag-mcp",
					"version": "1.0.0",
				},
			},
		}
	case "notifications/initialized":
		return nil
	case "ping":
		return &JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]interface{}{}}
	case "tools/list":
		return &JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: ListToolsResult{Tools: tools}}
	case "tools/call":
		var params CallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			slog.WarnContext(ctx, "invalid params structure", "error", err)
			return makeErrorResponse(req.ID, ErrInvalidParams, "Invalid params")
		}
		switch params.Name {
		case ToolQuery:
			return h.callQuery(ctx, req.ID, params.Arguments)
		case ToolStatus:
			return h.callStatus(ctx, req.ID, params.Arguments)
		}
		slog.WarnContext(ctx, "tool not found", "tool", params.Name)
		return makeErrorResponse(req.ID, ErrMethodNotFound, "Method not found: "+params.Name)
	}

	slog.WarnContext(ctx, "unknown jsonrpc method", "method", req.Method)
	return makeErrorResponse(req.ID, ErrMethodNotFound, "Method not found")
}

func (h *Handler) callQuery(ctx context.Context, id interface{}, raw json.RawMessage) *JSONRPCResponse {
	var args QueryArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return makeErrorResponse(id, ErrInvalidParams, "Invalid arguments")
	}
	if strings.TrimSpace(args.RecordID) == "" || strings.TrimSpace(args.Query) == "" {
		return makeErrorResponse(id, ErrInvalidParams, "licitacao_id and query are required")
	}
	recordID, err := uuid.Parse(strings.TrimSpace(args.RecordID))
	if err != nil {
		return makeErrorResponse(id, ErrInvalidParams, "licitacao_id must be a UUID")
	}

	res := h.service.ProcessOrQuery(ctx, recordID.String(), strings.TrimSpace(args.Query))
	if !res.Success {
		text := fmt.Sprintf("Erro (%s): %s", res.Action, res.Error)
		if res.Suggestion != "" {
			text += "\n" + res.Suggestion
		}
		return textResult(id, text, true)
	}

	var b strings.Builder
	b.WriteString(res.Answer)
	if len(res.Sources) > 0 {
		b.WriteString("\n\nFontes:\n")
		for _, src := range res.Sources {
			page := "?"
			if src.PageNumber != nil {
				page = fmt.Sprint(*src.PageNumber)
			}
			fmt.Fprintf(&b, "- Página %s (%s, score %.2f)\n", page, src.ChunkType, src.Score)
		}
	}
	slog.InfoContext(ctx, "tool execution completed", "tool", ToolQuery, "chunks_used", res.ChunksUsed, "cached", res.Cached)
	return textResult(id, b.String(), false)
}

func (h *Handler) callStatus(ctx context.Context, id interface{}, raw json.RawMessage) *JSONRPCResponse {
	var args StatusArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return makeErrorResponse(id, ErrInvalidParams, "Invalid arguments")
	}
	if strings.TrimSpace(args.RecordID) == "" {
		return makeErrorResponse(id, ErrInvalidParams, "licitacao_id is required")
	}
	recordID, err := uuid.Parse(strings.TrimSpace(args.RecordID))
	if err != nil {
		return makeErrorResponse(id, ErrInvalidParams, "licitacao_id must be a UUID")
	}

	report, err := h.service.Status(ctx, recordID.String())
	if err != nil {
		slog.ErrorContext(ctx, "status tool failed", "error", err)
		return textResult(id, "Error: "+err.Error(), true)
	}
	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return textResult(id, "Error marshalling results", true)
	}
	return textResult(id, string(out), false)
}

// ServeHTTP answers a single JSON-RPC request synchronously (POST /mcp).
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeRPC(w, makeErrorResponse(nil, ErrParse, "Parse error"))
		return
	}

	resp := h.processRequest(r.Context(), req)
	if resp == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	h.writeRPC(w, resp)
}

// JSON-RPC errors travel in the body with HTTP 200.
func (h *Handler) writeRPC(w http.ResponseWriter, resp *JSONRPCResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode jsonrpc response", "error", err)
	}
}
