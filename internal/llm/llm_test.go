package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pavelanni/kotoba/internal/model"
)

func TestParseExplanation(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"plain", `{"explanation": "neko means cat", "example": "neko ga imasu"}`, "neko means cat", false},
		{"fenced", "```json\n{\"explanation\": \"inu means dog\"}\n```", "inu means dog", false},
		{"empty explanation", `{"explanation": "  "}`, "", true},
		{"not json", "neko means cat", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseExplanation(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseExplanation: %v", err)
			}
			if got.Explanation != tt.want {
				t.Errorf("Explanation = %q, want %q", got.Explanation, tt.want)
			}
		})
	}
}

// fakeOpenAI serves the two endpoints the client uses.
func fakeOpenAI(t *testing.T, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/models"):
			json.NewEncoder(w).Encode(map[string]any{
				"object": "list",
				"data":   []map[string]any{{"id": "test-model", "object": "model"}},
			})
		case strings.HasSuffix(r.URL.Path, "/chat/completions"):
			var req struct {
				Model    string `json:"model"`
				Messages []struct {
					Content string `json:"content"`
				} `json:"messages"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode request: %v", err)
			}
			if len(req.Messages) != 1 || !strings.Contains(req.Messages[0].Content, "ねこ") {
				t.Errorf("unexpected messages %+v", req.Messages)
			}
			json.NewEncoder(w).Encode(map[string]any{
				"id":     "chatcmpl-1",
				"object": "chat.completion",
				"model":  req.Model,
				"choices": []map[string]any{{
					"index":         0,
					"finish_reason": "stop",
					"message":       map[string]any{"role": "assistant", "content": content},
				}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestExplainAnswer(t *testing.T) {
	srv := fakeOpenAI(t, `{"explanation": "ねこ is neko, a cat.", "example": "neko ga suki desu"}`)
	c := New(srv.URL+"/v1", "test-key", "test-model")
	ctx := context.Background()

	if err := c.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	q := model.Question{Kind: model.KindMultipleChoice, Prompt: "ねこ", Options: []string{"neko", "inu"}, Answer: "neko"}
	got, err := c.ExplainAnswer(ctx, "en", q, "inu", false)
	if err != nil {
		t.Fatalf("ExplainAnswer: %v", err)
	}
	if got.Explanation != "ねこ is neko, a cat." || got.Example == "" {
		t.Errorf("unexpected explanation %+v", got)
	}
}
