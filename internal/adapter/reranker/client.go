package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrDisabled is returned when no rerank provider is configured.
var ErrDisabled = errors.New("reranker disabled")

const (
	jinaURL     = "https://api.jina.ai/v1/rerank"
	cohereURL   = "https://api.cohere.ai/v1/rerank"
	jinaModel   = "jina-reranker-v2-base-multilingual"
	cohereModel = "rerank-multilingual-v3.0"
)

type Client struct {
	apiKey   string
	provider string
	client   *http.Client
	baseURL  string
}

func NewClient(provider, apiKey string) *Client {
	return &Client{
		provider: provider,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) SetBaseURL(url string) {
	c.baseURL = url
}

func (c *Client) Provider() string {
	return c.provider
}

// Score returns one relevance score per document, aligned with docs.
// Documents the provider leaves out score 0.
func (c *Client) Score(ctx context.Context, query string, docs []string) ([]float64, error) {
	switch c.provider {
	case "jina":
		return c.score(ctx, jinaURL, map[string]interface{}{
			"model":     jinaModel,
			"query":     query,
			"documents": docs,
			"top_n":     len(docs),
		}, len(docs))
	case "cohere":
		return c.score(ctx, cohereURL, map[string]interface{}{
			"model":            cohereModel,
			"query":            query,
			"documents":        docs,
			"top_n":            len(docs),
			"return_documents": false,
		}, len(docs))
	default:
		return nil, ErrDisabled
	}
}

func (c *Client) score(ctx context.Context, defaultURL string, reqBody map[string]interface{}, n int) ([]float64, error) {
	url := defaultURL
	if c.baseURL != "" {
		url = c.baseURL
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%s api error: %d %s", c.provider, resp.StatusCode, string(body))
	}

	var result struct {
		Results []struct {
			Index int     `json:"index"`
			Score float64 `json:"relevance_score"`
		} `json:"results"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", c.provider, err)
	}

	scores := make([]float64, n)
	for _, r := range result.Results {
		if r.Index >= 0 && r.Index < n {
			scores[r.Index] = r.Score
		}
	}
	return scores, nil
}
