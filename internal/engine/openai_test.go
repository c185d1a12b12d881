package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newFakeOpenAI(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/chat/completions"):
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			content := "respuesta"
			if _, ok := body["response_format"]; ok {
				content = `{"capability":"policy_answer"}`
			}
			json.NewEncoder(w).Encode(map[string]any{
				"id":      "chatcmpl-1",
				"object":  "chat.completion",
				"created": 0,
				"model":   body["model"],
				"choices": []map[string]any{{
					"index":         0,
					"finish_reason": "stop",
					"message":       map[string]any{"role": "assistant", "content": content},
				}},
			})
		case strings.HasSuffix(r.URL.Path, "/embeddings"):
			json.NewEncoder(w).Encode(map[string]any{
				"object": "list",
				"model":  "text-embedding-3-small",
				"data": []map[string]any{{
					"object":    "embedding",
					"index":     0,
					"embedding": []float64{0.5, -0.25, 1},
				}},
				"usage": map[string]any{"prompt_tokens": 1, "total_tokens": 1},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestOpenAI_ChatAndEmbed(t *testing.T) {
	srv := newFakeOpenAI(t)
	defer srv.Close()

	o, err := NewOpenAI(OpenAIOptions{
		APIKey: "sk-test", BaseURL: srv.URL + "/v1",
		ChatModel: "gpt-4o-mini", EmbedModel: "text-embedding-3-small", Dimensions: 3,
	})
	if err != nil {
		t.Fatalf("NewOpenAI: %v", err)
	}

	out, err := o.Chat(context.Background(), []Message{
		{Role: RoleSystem, Content: "eres un asistente"},
		{Role: RoleUser, Content: "hola"},
	}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out != "respuesta" {
		t.Errorf("Chat = %q, want %q", out, "respuesta")
	}

	structured, err := o.Chat(context.Background(), []Message{{Role: RoleUser, Content: "x"}},
		&Schema{Type: "object", Properties: map[string]SchemaProperty{"capability": {Type: "string"}}})
	if err != nil {
		t.Fatalf("Chat with schema: %v", err)
	}
	if !strings.Contains(structured, "policy_answer") {
		t.Errorf("structured output = %q", structured)
	}

	vec, err := o.Embed(context.Background(), "hola")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 || vec[1] != -0.25 {
		t.Errorf("Embed = %v", vec)
	}
}

func TestOpenAI_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	o, err := NewOpenAI(OpenAIOptions{APIKey: "sk-test", BaseURL: srv.URL + "/v1", ChatModel: "m", EmbedModel: "e"})
	if err != nil {
		t.Fatalf("NewOpenAI: %v", err)
	}
	if _, err := o.Chat(context.Background(), []Message{{Role: RoleUser, Content: "x"}}, nil); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Chat error = %v, want ErrUnavailable", err)
	}
	if _, err := o.Embed(context.Background(), "x"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Embed error = %v, want ErrUnavailable", err)
	}
}
