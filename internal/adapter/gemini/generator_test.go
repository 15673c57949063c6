package gemini_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/Pedro004-dot/AlicitSaas/internal/adapter/gemini"
	"github.com/Pedro004-dot/AlicitSaas/internal/settings"
)

type MockSettingsRepo struct {
	mock.Mock
}

func (m *MockSettingsRepo) Get(ctx context.Context) (*settings.Settings, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*settings.Settings), args.Error(1)
}

func (m *MockSettingsRepo) Update(ctx context.Context, s *settings.Settings) error {
	return m.Called(ctx, s).Error(0)
}

func TestGenerator_Generate(t *testing.T) {
	mockRepo := new(MockSettingsRepo)
	settingsSvc := settings.NewService(mockRepo)

	var gotBody map[string]interface{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.Contains(r.URL.Path, "gemini-2.0-flash:generateContent"), r.URL.Path)
		json.NewDecoder(r.Body).Decode(&gotBody)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"candidates": []map[string]interface{}{{
				"content": map[string]interface{}{
					"role":  "model",
					"parts": []map[string]interface{}{{"text": "O valor estimado é R$ 10.000,00 (Página 1)."}},
				},
				"finishReason": "STOP",
			}},
			"usageMetadata": map[string]interface{}{
				"promptTokenCount":     120,
				"candidatesTokenCount": 18,
				"totalTokenCount":      138,
			},
		})
	}))
	defer ts.Close()

	gen := gemini.NewGenerator(settingsSvc, "", option.WithEndpoint(ts.URL))
	defer gen.Close()
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		mockRepo.On("Get", ctx).Return(&settings.Settings{GeminiAPIKey: "test-key"}, nil).Once()

		out, err := gen.Generate(ctx, gemini.Request{
			System:      "Responda apenas com base no contexto.",
			Prompt:      "Qual o valor estimado?",
			Temperature: 0.1,
			MaxTokens:   1500,
		})
		require.NoError(t, err)
		assert.Equal(t, "O valor estimado é R$ 10.000,00 (Página 1).", out.Text)
		assert.Equal(t, "gemini-2.0-flash", out.Model)
		assert.Equal(t, 120, out.PromptTokens)
		assert.Equal(t, 18, out.CompletionTokens)

		cfg, _ := gotBody["generationConfig"].(map[string]interface{})
		assert.InDelta(t, 0.1, cfg["temperature"], 1e-6)
		assert.NotNil(t, gotBody["systemInstruction"])
		mockRepo.AssertExpectations(t)
	})

	t.Run("Missing API Key", func(t *testing.T) {
		mockRepo.On("Get", ctx).Return(&settings.Settings{}, nil).Once()

		_, err := gen.Generate(ctx, gemini.Request{Prompt: "x"})
		assert.True(t, errors.Is(err, gemini.ErrNoAPIKey))
	})

	t.Run("Settings Error", func(t *testing.T) {
		mockRepo.On("Get", ctx).Return(nil, errors.New("db fail")).Once()

		_, err := gen.Generate(ctx, gemini.Request{Prompt: "x"})
		assert.ErrorContains(t, err, "failed to get settings")
	})
}

func TestGenerator_Generate_ServerError(t *testing.T) {
	mockRepo := new(MockSettingsRepo)
	mockRepo.On("Get", mock.Anything).Return(&settings.Settings{GeminiAPIKey: "k"}, nil)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"code":500,"message":"boom","status":"INTERNAL"}}`))
	}))
	defer ts.Close()

	gen := gemini.NewGenerator(settings.NewService(mockRepo), "gemini-2.0-flash", option.WithEndpoint(ts.URL))
	defer gen.Close()

	_, err := gen.Generate(context.Background(), gemini.Request{Prompt: "x"})
	assert.Error(t, err)
}
