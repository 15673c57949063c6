package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Pedro004-dot/AlicitSaas/internal/middleware"
	"github.com/Pedro004-dot/AlicitSaas/internal/text"
)

// ProcessorClient talks to the document processor, which downloads
// documents from PNCP, unpacks archives, uploads to storage and extracts text.
type ProcessorClient struct {
	baseURL string
	client  *http.Client
}

func NewProcessorClient(baseURL string, timeout time.Duration) *ProcessorClient {
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	return &ProcessorClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// ResponseError is a non-200 reply from the document processor. Gateway
// statuses unwrap to ErrUpstreamUnavailable.
type ResponseError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("document processor %s returned %d: %s", e.Path, e.StatusCode, e.Body)
}

func (e *ResponseError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return ErrUpstreamUnavailable
	}
	return nil
}

func (c *ProcessorClient) Process(ctx context.Context, recordID string) (ProcessResult, error) {
	var out ProcessResult
	status, err := c.post(ctx, "/documents/process", map[string]string{"licitacao_id": recordID}, &out)
	if status == http.StatusNotFound {
		return ProcessResult{}, fmt.Errorf("%w: %s", ErrRecordNotFound, recordID)
	}
	if err != nil {
		// A failed run still carries the processor's own explanation.
		var re *ResponseError
		if errors.As(err, &re) && !errors.Is(err, ErrUpstreamUnavailable) {
			var failed ProcessResult
			if json.Unmarshal([]byte(re.Body), &failed) == nil && failed.Error != "" {
				return ProcessResult{Error: failed.Error}, nil
			}
		}
		return ProcessResult{}, err
	}
	return out, nil
}

type extractResponse struct {
	Pages []struct {
		Number int    `json:"number"`
		Text   string `json:"text"`
	} `json:"pages"`
}

func (c *ProcessorClient) Extract(ctx context.Context, doc Document) ([]text.Page, error) {
	var out extractResponse
	if _, err := c.post(ctx, "/documents/extract", map[string]string{"documento_id": doc.ID, "url": doc.URL}, &out); err != nil {
		return nil, err
	}
	pages := make([]text.Page, 0, len(out.Pages))
	for _, p := range out.Pages {
		pages = append(pages, text.Page{Number: p.Number, Text: p.Text})
	}
	return pages, nil
}

func (c *ProcessorClient) post(ctx context.Context, path string, body interface{}, out interface{}) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.CorrelationHeader, middleware.GetCorrelationID(ctx))

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: post %s: %w", ErrUpstreamUnavailable, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return resp.StatusCode, &ResponseError{Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode %s response: %w", path, err)
	}
	return resp.StatusCode, nil
}
