package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestOpenAICompatGenerateText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer k" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req oaiChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("unexpected messages %+v", req.Messages)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":" hello "}}]}`))
	}))
	defer srv.Close()

	g := NewOpenAICompatGenerator(srv.URL+"/v1", "k", "m", time.Second)
	got, err := g.GenerateText(context.Background(), "sys", "user")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got != "hello" {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestGeneratorErrorCategories(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retryable bool
		check     func(error) bool
	}{
		{
			name: "server error", status: 503, body: `{"error":{"message":"overloaded"}}`, retryable: true,
			check: func(err error) bool { var e *APIError; return errors.As(err, &e) && e.StatusCode == 503 },
		},
		{
			name: "rate limited", status: 429, body: `{}`, retryable: true,
			check: func(err error) bool { var e *APIError; return errors.As(err, &e) },
		},
		{
			name: "bad request", status: 400, body: `{"error":{"message":"bad"}}`, retryable: false,
			check: func(err error) bool { var e *APIError; return errors.As(err, &e) && e.Message == "bad" },
		},
		{
			name: "malformed body", status: 200, body: `not json`, retryable: false,
			check: func(err error) bool { return errors.Is(err, ErrMalformedResponse) },
		},
		{
			name: "no choices", status: 200, body: `{"choices":[]}`, retryable: false,
			check: func(err error) bool { return errors.Is(err, ErrMalformedResponse) },
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()
			g := NewOpenAICompatGenerator(srv.URL, "", "m", time.Second)
			_, err := g.GenerateText(context.Background(), "", "q")
			if err == nil || !tc.check(err) {
				t.Fatalf("unexpected error category: %v", err)
			}
			if Retryable(err) != tc.retryable {
				t.Fatalf("retryable mismatch for %v", err)
			}
		})
	}
}

func TestTransportErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	g := NewOllamaGenerator(NewOllamaClient(url, time.Second), "llama3")
	_, err := g.GenerateText(context.Background(), "", "q")
	if !errors.Is(err, ErrTransport) || !Retryable(err) {
		t.Fatalf("expected retryable transport error, got %v", err)
	}
}

func TestGeminiGenerateText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/gemini-pro:generateContent" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") != "key" {
			t.Errorf("missing api key header")
		}
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"a"},{"text":"b"}]}}]}`))
	}))
	defer srv.Close()

	client, err := NewGeminiClient("key", srv.URL, time.Second)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	got, err := NewGeminiGenerator(client, "models/gemini-pro").GenerateText(context.Background(), "sys", "q")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got != "ab" {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestNewTextGenerator(t *testing.T) {
	if _, err := NewTextGenerator(ProviderConfig{Provider: "gemini", Model: "m"}); err == nil {
		t.Fatalf("expected gemini without key to fail")
	}
	if _, err := NewTextGenerator(ProviderConfig{Provider: "nope", Model: "m"}); err == nil {
		t.Fatalf("expected unknown provider to fail")
	}
	if _, err := NewTextGenerator(ProviderConfig{Provider: "ollama"}); err == nil {
		t.Fatalf("expected missing model to fail")
	}
	g, err := NewTextGenerator(ProviderConfig{Provider: "ollama", Model: "llama3"})
	if err != nil || g == nil {
		t.Fatalf("expected ollama generator, err=%v", err)
	}
}
