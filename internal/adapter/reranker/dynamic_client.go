package reranker

import (
	"context"
	"fmt"
	"sync"

	"github.com/Pedro004-dot/AlicitSaas/internal/settings"
)

// Scorer returns one relevance score per doc, in input order.
type Scorer interface {
	Score(ctx context.Context, query string, docs []string) ([]float64, error)
}

// DynamicClient picks provider and key from the settings table on every
// call, so changes through PUT /settings apply without a restart. The
// "local" provider, also used when none is stored, is the in-process
// cross-encoder; "none" turns reranking off.
type DynamicClient struct {
	settingsSvc *settings.Service
	local       Scorer
	baseURL     string

	mu       sync.RWMutex
	client   *Client
	provider string
	apiKey   string
}

// NewDynamicClient takes the local scorer used for the "local" provider;
// it may be nil.
func NewDynamicClient(settingsSvc *settings.Service, local Scorer) *DynamicClient {
	return &DynamicClient{settingsSvc: settingsSvc, local: local}
}

// SetBaseURL overrides the provider endpoint for every client built afterwards.
func (d *DynamicClient) SetBaseURL(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.baseURL = url
	d.client = nil
}

func (d *DynamicClient) Score(ctx context.Context, query string, docs []string) ([]float64, error) {
	s, err := d.settingsSvc.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	switch s.RerankProvider {
	case settings.RerankNone:
		return nil, ErrDisabled
	case "", settings.RerankLocal:
		if d.local == nil {
			return nil, ErrDisabled
		}
		return d.local.Score(ctx, query, docs)
	}
	return d.getClient(s.RerankProvider, s.RerankAPIKey).Score(ctx, query, docs)
}

func (d *DynamicClient) getClient(provider, apiKey string) *Client {
	d.mu.RLock()
	if d.client != nil && d.provider == provider && d.apiKey == apiKey {
		c := d.client
		d.mu.RUnlock()
		return c
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client != nil && d.provider == provider && d.apiKey == apiKey {
		return d.client
	}
	d.client = NewClient(provider, apiKey)
	if d.baseURL != "" {
		d.client.SetBaseURL(d.baseURL)
	}
	d.provider = provider
	d.apiKey = apiKey
	return d.client
}
