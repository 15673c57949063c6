package settings_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Pedro004-dot/AlicitSaas/internal/settings"
)

// MockRepository is a mock implementation of settings.Repository
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Get(ctx context.Context) (*settings.Settings, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*settings.Settings), args.Error(1)
}

func (m *MockRepository) Update(ctx context.Context, s *settings.Settings) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func validSettings() *settings.Settings {
	return &settings.Settings{
		RerankProvider: "jina",
		SemanticWeight: 0.6,
		TextWeight:     0.4,
		SearchLimit:    12,
		RerankTopK:     8,
	}
}

func storedDefaults() *settings.Settings {
	d := settings.Defaults()
	return &d
}

func TestHandler_GetSettings(t *testing.T) {
	t.Run("Success Masks Keys", func(t *testing.T) {
		mockRepo := new(MockRepository)
		handler := settings.NewHandler(settings.NewService(mockRepo))

		mockRepo.On("Get", mock.Anything).Return(&settings.Settings{
			RerankProvider: "cohere",
			RerankAPIKey:   "co-1234567890abcd",
			SemanticWeight: 0.5,
			SearchLimit:    10,
		}, nil)

		req := httptest.NewRequest("GET", "/settings", nil)
		w := httptest.NewRecorder()

		handler.GetSettings(w, req)

		resp := w.Result()
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]map[string]interface{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

		data := body["data"]
		assert.Equal(t, "cohere", data["rerank_provider"])
		assert.Equal(t, "****abcd", data["rerank_api_key"])
		assert.Equal(t, true, data["rerank_api_key_set"])
		assert.Equal(t, "", data["gemini_api_key"])
		assert.Equal(t, true, data["hosted_reranking"])
		assert.Equal(t, 0.5, data["semantic_weight"])
		assert.Equal(t, float64(10), data["search_limit"])
		assert.NotContains(t, w.Body.String(), "co-1234567890abcd")

		mockRepo.AssertExpectations(t)
	})

	t.Run("Empty Provider Reads As Local", func(t *testing.T) {
		mockRepo := new(MockRepository)
		mockRepo.On("Get", mock.Anything).Return(&settings.Settings{}, nil)

		w := httptest.NewRecorder()
		settings.NewHandler(settings.NewService(mockRepo)).GetSettings(w, httptest.NewRequest("GET", "/settings", nil))

		assert.Contains(t, w.Body.String(), `"rerank_provider":"local"`)
		assert.Contains(t, w.Body.String(), `"local_reranking":true`)
	})

	t.Run("InternalError", func(t *testing.T) {
		mockRepo := new(MockRepository)
		handler := settings.NewHandler(settings.NewService(mockRepo))

		mockRepo.On("Get", mock.Anything).Return(nil, errors.New("db error"))

		req := httptest.NewRequest("GET", "/settings", nil)
		w := httptest.NewRecorder()

		handler.GetSettings(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Result().StatusCode)
	})
}

func TestHandler_UpdateSettings(t *testing.T) {
	t.Run("Full Update", func(t *testing.T) {
		mockRepo := new(MockRepository)
		handler := settings.NewHandler(settings.NewService(mockRepo))

		mockRepo.On("Get", mock.Anything).Return(storedDefaults(), nil)
		mockRepo.On("Update", mock.Anything, mock.MatchedBy(func(s *settings.Settings) bool {
			return s.RerankProvider == "jina" && s.SemanticWeight == 0.6
		})).Return(nil)

		body, _ := json.Marshal(validSettings())
		req := httptest.NewRequest("PUT", "/settings", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		handler.UpdateSettings(w, req)

		assert.Equal(t, http.StatusOK, w.Result().StatusCode)
		assert.Contains(t, w.Body.String(), `"rerank_provider":"jina"`)
		mockRepo.AssertExpectations(t)
	})

	t.Run("Partial Update Keeps Stored Values", func(t *testing.T) {
		mockRepo := new(MockRepository)
		handler := settings.NewHandler(settings.NewService(mockRepo))

		mockRepo.On("Get", mock.Anything).Return(&settings.Settings{
			RerankProvider: "jina",
			RerankAPIKey:   "jina_secret_key_9876",
			GeminiAPIKey:   "gm-key-0000111122",
			SemanticWeight: 0.7,
			TextWeight:     0.3,
			SearchLimit:    12,
			RerankTopK:     8,
		}, nil)
		mockRepo.On("Update", mock.Anything, mock.MatchedBy(func(s *settings.Settings) bool {
			return s.SearchLimit == 20 &&
				s.RerankAPIKey == "jina_secret_key_9876" &&
				s.GeminiAPIKey == "gm-key-0000111122" &&
				s.RerankProvider == "jina" &&
				s.SemanticWeight == 0.7
		})).Return(nil)

		req := httptest.NewRequest("PUT", "/settings", bytes.NewBufferString(`{"search_limit":20,"rerank_api_key":"****9876"}`))
		w := httptest.NewRecorder()

		handler.UpdateSettings(w, req)

		assert.Equal(t, http.StatusOK, w.Result().StatusCode)
		mockRepo.AssertExpectations(t)
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		handler := settings.NewHandler(settings.NewService(new(MockRepository)))

		req := httptest.NewRequest("PUT", "/settings", bytes.NewBufferString("invalid json"))
		w := httptest.NewRecorder()

		handler.UpdateSettings(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Result().StatusCode)
	})

	t.Run("Unknown Field", func(t *testing.T) {
		mockRepo := new(MockRepository)
		w := httptest.NewRecorder()
		settings.NewHandler(settings.NewService(mockRepo)).UpdateSettings(w,
			httptest.NewRequest("PUT", "/settings", bytes.NewBufferString(`{"rerank_top":3}`)))

		assert.Equal(t, http.StatusBadRequest, w.Result().StatusCode)
		mockRepo.AssertNotCalled(t, "Get", mock.Anything)
	})

	t.Run("RejectedValues", func(t *testing.T) {
		mockRepo := new(MockRepository)
		handler := settings.NewHandler(settings.NewService(mockRepo))
		mockRepo.On("Get", mock.Anything).Return(storedDefaults(), nil)

		s := validSettings()
		s.RerankTopK = 50
		body, _ := json.Marshal(s)
		req := httptest.NewRequest("PUT", "/settings", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		handler.UpdateSettings(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Result().StatusCode)
		var resp map[string]map[string]string
		json.NewDecoder(w.Body).Decode(&resp)
		assert.Equal(t, "VALIDATION_ERROR", resp["error"]["code"])
		mockRepo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	})
}
