package llms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kadirpekel/mnemo/pkg/config"
)

func TestNewOllamaProvider_Defaults(t *testing.T) {
	cfg := &config.LLMConfig{Provider: config.LLMProviderOllama, Model: "llama3.2"}

	provider, err := NewOllamaProvider(cfg, nil)
	if err != nil {
		t.Fatalf("NewOllamaProvider() error = %v", err)
	}
	if provider.Name() != "ollama" {
		t.Errorf("Name() = %q, want ollama", provider.Name())
	}
	if provider.baseURL != ollamaDefaultBaseURL {
		t.Errorf("baseURL = %q, want %q", provider.baseURL, ollamaDefaultBaseURL)
	}
}

func TestOllamaProvider_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s, want /api/chat", r.URL.Path)
		}

		var req ollamaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if req.Stream {
			t.Error("stream should be false")
		}
		if req.Model != "llama3.2" {
			t.Errorf("model = %q, want llama3.2", req.Model)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Role != "user" {
			t.Errorf("messages = %+v, want system then user", req.Messages)
		}
		if req.Options == nil || req.Options.NumPredict != 512 {
			t.Errorf("options = %+v, want num_predict 512", req.Options)
		}

		_ = json.NewEncoder(w).Encode(ollamaResponse{
			Model:           "llama3.2",
			Message:         ollamaMessage{Role: "assistant", Content: "Local answer."},
			Done:            true,
			PromptEvalCount: 15,
			EvalCount:       5,
		})
	}))
	defer server.Close()

	cfg := &config.LLMConfig{
		Provider: config.LLMProviderOllama,
		Model:    "llama3.2",
		BaseURL:  server.URL,
	}
	provider, err := NewOllamaProvider(cfg, fastDispatcherConfig())
	if err != nil {
		t.Fatalf("NewOllamaProvider() error = %v", err)
	}

	resp, err := provider.Complete(context.Background(), CompletionRequest{
		System:    "Answer briefly.",
		Prompt:    "Hello?",
		MaxTokens: 512,
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	if resp.Text != "Local answer." {
		t.Errorf("Text = %q, want Local answer.", resp.Text)
	}
	if resp.PromptTokens != 15 || resp.CompletionTokens != 5 {
		t.Errorf("tokens = %d/%d, want 15/5", resp.PromptTokens, resp.CompletionTokens)
	}
}

func TestOllamaProvider_Complete_SchemaInFormatField(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}

		// Structured calls pass the schema object straight through;
		// ollama constrains decoding server-side.
		format, ok := req.Format.(map[string]any)
		if !ok {
			t.Fatalf("format = %T(%v), want schema object", req.Format, req.Format)
		}
		if format["type"] != "object" {
			t.Errorf("format.type = %v, want object", format["type"])
		}

		_ = json.NewEncoder(w).Encode(ollamaResponse{
			Message: ollamaMessage{Role: "assistant", Content: `{"status": "ok"}`},
			Done:    true,
		})
	}))
	defer server.Close()

	cfg := &config.LLMConfig{
		Provider: config.LLMProviderOllama,
		Model:    "llama3.2",
		BaseURL:  server.URL,
	}
	provider, err := NewOllamaProvider(cfg, fastDispatcherConfig())
	if err != nil {
		t.Fatalf("NewOllamaProvider() error = %v", err)
	}

	resp, err := provider.Complete(context.Background(), CompletionRequest{
		Prompt: "check",
		Format: &ResponseFormat{Name: "status", Schema: map[string]any{"type": "object"}},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.Text != `{"status": "ok"}` {
		t.Errorf("Text = %q", resp.Text)
	}
}

func TestOllamaProvider_Complete_NoOptionsWhenUnset(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if req.Options != nil {
			t.Errorf("options = %+v, want omitted", req.Options)
		}
		_ = json.NewEncoder(w).Encode(ollamaResponse{
			Message: ollamaMessage{Role: "assistant", Content: "ok"},
			Done:    true,
		})
	}))
	defer server.Close()

	cfg := &config.LLMConfig{
		Provider: config.LLMProviderOllama,
		Model:    "llama3.2",
		BaseURL:  server.URL,
	}
	provider, err := NewOllamaProvider(cfg, fastDispatcherConfig())
	if err != nil {
		t.Fatalf("NewOllamaProvider() error = %v", err)
	}

	if _, err := provider.Complete(context.Background(), CompletionRequest{Prompt: "hi"}); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
}

func TestOllamaProvider_Complete_ErrorField(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaResponse{Error: "model 'llama3.2' not found"})
	}))
	defer server.Close()

	cfg := &config.LLMConfig{
		Provider: config.LLMProviderOllama,
		Model:    "llama3.2",
		BaseURL:  server.URL,
	}
	provider, err := NewOllamaProvider(cfg, fastDispatcherConfig())
	if err != nil {
		t.Fatalf("NewOllamaProvider() error = %v", err)
	}

	_, err = provider.Complete(context.Background(), CompletionRequest{Prompt: "hi"})
	if err == nil {
		t.Fatal("Complete() should surface the error field")
	}
}
