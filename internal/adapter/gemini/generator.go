package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/Pedro004-dot/AlicitSaas/internal/settings"
)

const DefaultModel = "gemini-2.0-flash"

var (
	ErrNoAPIKey      = errors.New("gemini api key not configured")
	ErrEmptyResponse = errors.New("gemini returned no text")
)

// Request is one completion call.
type Request struct {
	System      string
	Prompt      string
	Temperature float32
	MaxTokens   int32
}

// Completion is the model's answer plus the usage it reported.
type Completion struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Generator issues completions with the API key stored in settings. The
// genai client is rebuilt only when the key changes.
type Generator struct {
	settingsSvc *settings.Service
	model       string
	clientOpts  []option.ClientOption

	mu         sync.RWMutex
	client     *genai.Client
	currentKey string
}

func NewGenerator(svc *settings.Service, model string, opts ...option.ClientOption) *Generator {
	if model == "" {
		model = DefaultModel
	}
	return &Generator{
		settingsSvc: svc,
		model:       model,
		clientOpts:  opts,
	}
}

func (g *Generator) Model() string {
	return g.model
}

func (g *Generator) Generate(ctx context.Context, req Request) (Completion, error) {
	s, err := g.settingsSvc.Get(ctx)
	if err != nil {
		return Completion{}, fmt.Errorf("failed to get settings: %w", err)
	}
	if s.GeminiAPIKey == "" {
		return Completion{}, ErrNoAPIKey
	}

	client, err := g.getClient(ctx, s.GeminiAPIKey)
	if err != nil {
		return Completion{}, err
	}

	model := client.GenerativeModel(g.model)
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	model.SetTemperature(req.Temperature)
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(req.MaxTokens)
	}

	slog.DebugContext(ctx, "generating content", "model", g.model, "prompt_length", len(req.Prompt))
	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return Completion{}, fmt.Errorf("generate content: %w", err)
	}

	out := Completion{Model: g.model, Text: responseText(resp)}
	if out.Text == "" {
		return Completion{}, ErrEmptyResponse
	}
	if resp.UsageMetadata != nil {
		out.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	return strings.TrimSpace(sb.String())
}

func (g *Generator) getClient(ctx context.Context, key string) (*genai.Client, error) {
	g.mu.RLock()
	if g.client != nil && g.currentKey == key {
		defer g.mu.RUnlock()
		return g.client, nil
	}
	g.mu.RUnlock()

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.client != nil && g.currentKey == key {
		return g.client, nil
	}

	if g.client != nil {
		if err := g.client.Close(); err != nil {
			slog.Warn("failed to close previous genai client", "error", err)
		}
	}

	opts := append(append([]option.ClientOption{}, g.clientOpts...), option.WithAPIKey(key))
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}

	g.client = client
	g.currentKey = key
	return client, nil
}

func (g *Generator) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client == nil {
		return nil
	}
	err := g.client.Close()
	g.client = nil
	return err
}
