package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statquery/statquery/internal/config"
)

func TestNewServiceResolvesProviders(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LLMConfig
		wantErr string
	}{
		{
			name: "openai",
			cfg:  config.LLMConfig{Provider: "openai", Model: "gpt-4o-mini", APIKey: "sk-test"},
		},
		{
			name: "anthropic",
			cfg:  config.LLMConfig{Provider: "anthropic", Model: "claude-3-5-haiku-latest", APIKey: "ak-test"},
		},
		{
			name: "ollama without key",
			cfg:  config.LLMConfig{Provider: "ollama", Model: "llama3"},
		},
		{
			name:    "openai without key",
			cfg:     config.LLMConfig{Provider: "openai", Model: "gpt-4o-mini"},
			wantErr: "API key is required",
		},
		{
			name:    "missing model",
			cfg:     config.LLMConfig{Provider: "ollama"},
			wantErr: "model is required",
		},
		{
			name:    "unknown provider",
			cfg:     config.LLMConfig{Provider: "bard", Model: "x"},
			wantErr: "unsupported LLM provider",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := NewService(tt.cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.NotNil(t, svc)
		})
	}
}

func TestOpenAIGenerate(t *testing.T) {
	var gotAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")

		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		require.Len(t, req.Messages, 1)

		resp := openAIResponse{
			Choices: []openAIChoice{
				{Message: openAIMessage{Role: "assistant", Content: "SELECT COUNT(*) FROM goals LIMIT 5"}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	svc, err := NewService(config.LLMConfig{
		Provider: "openai",
		Model:    "gpt-4o-mini",
		APIKey:   "sk-test",
		BaseURL:  server.URL,
	})
	require.NoError(t, err)

	text, err := svc.Generate(context.Background(), "How many goals?")
	require.NoError(t, err)
	assert.Equal(t, "SELECT COUNT(*) FROM goals LIMIT 5", text)
	assert.Equal(t, "Bearer sk-test", gotAuth)
}

func TestOpenAIGenerateAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(openAIResponse{
			Error: &openAIError{Message: "model overloaded", Type: "server_error"},
		})
	}))
	defer server.Close()

	svc, err := NewService(config.LLMConfig{
		Provider: "openai", Model: "gpt-4o-mini", APIKey: "sk-test", BaseURL: server.URL,
	})
	require.NoError(t, err)

	_, err = svc.Generate(context.Background(), "question")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestAnthropicGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ak-test", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		_ = json.NewEncoder(w).Encode(anthropicResponse{
			Content: []anthropicContent{{Type: "text", Text: "SELECT 1 LIMIT 5"}},
		})
	}))
	defer server.Close()

	svc, err := NewService(config.LLMConfig{
		Provider: "anthropic", Model: "claude-3-5-haiku-latest", APIKey: "ak-test", BaseURL: server.URL,
	})
	require.NoError(t, err)

	text, err := svc.Generate(context.Background(), "question")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1 LIMIT 5", text)
}

func TestOllamaGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)

		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)

		_ = json.NewEncoder(w).Encode(ollamaResponse{Response: "SELECT clubName FROM clubs LIMIT 5", Done: true})
	}))
	defer server.Close()

	svc, err := NewService(config.LLMConfig{
		Provider: "ollama", Model: "llama3", BaseURL: server.URL,
	})
	require.NoError(t, err)

	text, err := svc.Generate(context.Background(), "question")
	require.NoError(t, err)
	assert.Equal(t, "SELECT clubName FROM clubs LIMIT 5", text)
}

func TestGenerateHTTPFailureStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	svc, err := NewService(config.LLMConfig{Provider: "ollama", Model: "llama3", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = svc.Generate(context.Background(), "question")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}

func TestGenerateRespectsContextCancellation(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		<-block
	}))
	defer server.Close()
	defer close(block)

	svc, err := NewService(config.LLMConfig{Provider: "ollama", Model: "llama3", BaseURL: server.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = svc.Generate(ctx, "question")
	require.Error(t, err)
}
