package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Pedro004-dot/AlicitSaas/internal/rag"
	"github.com/Pedro004-dot/AlicitSaas/internal/retrieval"
	"github.com/Pedro004-dot/AlicitSaas/internal/vector"
)

type MockService struct{ mock.Mock }

func (m *MockService) ProcessOrQuery(ctx context.Context, recordID, query string) *rag.Result {
	args := m.Called(ctx, recordID, query)
	return args.Get(0).(*rag.Result)
}

func (m *MockService) Status(ctx context.Context, recordID string) (rag.StatusReport, error) {
	args := m.Called(ctx, recordID)
	return args.Get(0).(rag.StatusReport), args.Error(1)
}

const (
	rec1 = "0b6f4c3e-2a1d-4e7f-8c9b-5a4d3e2f1a01"
	rec2 = "0b6f4c3e-2a1d-4e7f-8c9b-5a4d3e2f1a02"
)

func call(t *testing.T, name string, args interface{}) JSONRPCRequest {
	t.Helper()
	rawArgs, err := json.Marshal(args)
	require.NoError(t, err)
	params, err := json.Marshal(CallParams{Name: name, Arguments: rawArgs})
	require.NoError(t, err)
	return JSONRPCRequest{JSONRPC: "2.0", Method: "tools/call", Params: params, ID: 1}
}

func toolText(t *testing.T, resp *JSONRPCResponse) (string, bool) {
	t.Helper()
	require.NotNil(t, resp)
	res, ok := resp.Result.(ToolResult)
	require.True(t, ok, "expected a tool result, got %#v", resp)
	require.Len(t, res.Content, 1)
	return res.Content[0].Text, res.IsError
}

func TestProcessRequest_Protocol(t *testing.T) {
	h := NewHandler(new(MockService))
	ctx := context.Background()

	t.Run("Initialize", func(t *testing.T) {
		resp := h.processRequest(ctx, JSONRPCRequest{JSONRPC: "2.0", Method: "initialize", ID: 1})
		result := resp.Result.(map[string]interface{})
		assert.Equal(t, "2024-11-05", result["protocolVersion"])
	})

	t.Run("Notification Has No Response", func(t *testing.T) {
		assert.Nil(t, h.processRequest(ctx, JSONRPCRequest{Method: "notifications/initialized"}))
	})

	t.Run("Tools List", func(t *testing.T) {
		resp := h.processRequest(ctx, JSONRPCRequest{Method: "tools/list", ID: 2})
		list := resp.Result.(ListToolsResult)
		require.Len(t, list.Tools, 2)
		assert.Equal(t, ToolQuery, list.Tools[0].Name)
		assert.Equal(t, ToolStatus, list.Tools[1].Name)
	})

	t.Run("Unknown Method", func(t *testing.T) {
		resp := h.processRequest(ctx, JSONRPCRequest{Method: "resources/list", ID: 3})
		assert.Equal(t, ErrMethodNotFound, resp.Error.(map[string]interface{})["code"])
	})

	t.Run("Unknown Tool", func(t *testing.T) {
		resp := h.processRequest(ctx, call(t, "web_search", map[string]string{}))
		assert.Equal(t, ErrMethodNotFound, resp.Error.(map[string]interface{})["code"])
	})
}

func TestProcessRequest_Query(t *testing.T) {
	ctx := context.Background()
	page := 3

	t.Run("Answer With Sources", func(t *testing.T) {
		svc := new(MockService)
		svc.On("ProcessOrQuery", mock.Anything, rec1, "Qual o prazo?").Return(&rag.Result{
			Success: true,
			Answer:  "O prazo é de 30 dias (Página 3).",
			Sources: []retrieval.Source{{PageNumber: &page, ChunkType: "body", Score: 0.91}},
		})

		text, isErr := toolText(t, NewHandler(svc).processRequest(ctx, call(t, ToolQuery, QueryArgs{RecordID: rec1, Query: " Qual o prazo? "})))
		assert.False(t, isErr)
		assert.Contains(t, text, "30 dias")
		assert.Contains(t, text, "Página 3")
	})

	t.Run("Pipeline Failure Is Tool Error", func(t *testing.T) {
		svc := new(MockService)
		svc.On("ProcessOrQuery", mock.Anything, rec1, "x").Return(&rag.Result{
			Action: rag.ActionAPIError, Error: "HTTP 502", Suggestion: "Verifique a API",
		})

		text, isErr := toolText(t, NewHandler(svc).processRequest(ctx, call(t, ToolQuery, QueryArgs{RecordID: rec1, Query: "x"})))
		assert.True(t, isErr)
		assert.Contains(t, text, rag.ActionAPIError)
		assert.Contains(t, text, "Verifique a API")
	})

	t.Run("Missing Arguments", func(t *testing.T) {
		svc := new(MockService)
		resp := NewHandler(svc).processRequest(ctx, call(t, ToolQuery, QueryArgs{RecordID: rec1}))
		assert.Equal(t, ErrInvalidParams, resp.Error.(map[string]interface{})["code"])
		svc.AssertNotCalled(t, "ProcessOrQuery", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Malformed Record ID", func(t *testing.T) {
		svc := new(MockService)
		resp := NewHandler(svc).processRequest(ctx, call(t, ToolQuery, QueryArgs{RecordID: "42 OR 1=1", Query: "Qual o prazo?"}))
		assert.Equal(t, ErrInvalidParams, resp.Error.(map[string]interface{})["code"])
		svc.AssertNotCalled(t, "ProcessOrQuery", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestProcessRequest_Status(t *testing.T) {
	ctx := context.Background()

	svc := new(MockService)
	svc.On("Status", mock.Anything, rec1).Return(rag.StatusReport{
		RecordID:            rec1,
		VectorizationStatus: vector.NewStatus(rec1, 2, 2, 18),
	}, nil)
	svc.On("Status", mock.Anything, rec2).Return(rag.StatusReport{}, errors.New("db down"))
	h := NewHandler(svc)

	text, isErr := toolText(t, h.processRequest(ctx, call(t, ToolStatus, StatusArgs{RecordID: rec1})))
	assert.False(t, isErr)
	assert.Contains(t, text, `"total_chunks": 18`)

	_, isErr = toolText(t, h.processRequest(ctx, call(t, ToolStatus, StatusArgs{RecordID: rec2})))
	assert.True(t, isErr)

	resp := h.processRequest(ctx, call(t, ToolStatus, StatusArgs{RecordID: "rec-3"}))
	assert.Equal(t, ErrInvalidParams, resp.Error.(map[string]interface{})["code"])
}

func TestServeHTTP(t *testing.T) {
	h := NewHandler(new(MockService))

	t.Run("Parse Error", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString("{bad")))

		assert.Equal(t, http.StatusOK, rec.Code)
		var resp JSONRPCResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.EqualValues(t, ErrParse, resp.Error.(map[string]interface{})["code"])
	})

	t.Run("Tools List", func(t *testing.T) {
		body, _ := json.Marshal(JSONRPCRequest{JSONRPC: "2.0", Method: "tools/list", ID: 7})
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader(body)))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), ToolQuery)
	})
}

func TestHandleMessage(t *testing.T) {
	t.Run("Missing Session ID", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewHandler(nil).HandleMessage(rec, httptest.NewRequest(http.MethodPost, "/mcp/messages", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "VALIDATION_ERROR")
	})

	t.Run("Session Not Found", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewHandler(nil).HandleMessage(rec, httptest.NewRequest(http.MethodPost, "/mcp/messages?sessionId=unknown", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("Invalid JSON", func(t *testing.T) {
		h := NewHandler(nil)
		h.sessions["s1"] = make(chan string, 1)

		rec := httptest.NewRecorder()
		h.HandleMessage(rec, httptest.NewRequest(http.MethodPost, "/mcp/messages?sessionId=s1", bytes.NewBufferString("{invalid")))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "INVALID_JSON")
	})

	t.Run("Response Delivered To Session", func(t *testing.T) {
		h := NewHandler(nil)
		ch := make(chan string, 1)
		h.sessions["s1"] = ch

		body, _ := json.Marshal(JSONRPCRequest{JSONRPC: "2.0", Method: "ping", ID: 1})
		rec := httptest.NewRecorder()
		h.HandleMessage(rec, httptest.NewRequest(http.MethodPost, "/mcp/messages?sessionId=s1", bytes.NewReader(body)))
		assert.Equal(t, http.StatusAccepted, rec.Code)

		select {
		case msg := <-ch:
			assert.Contains(t, msg, `"id":1`)
		case <-time.After(2 * time.Second):
			t.Fatal("no response delivered")
		}
	})
}
