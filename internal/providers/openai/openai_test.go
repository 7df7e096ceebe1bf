package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"llmbench/config"
	"llmbench/internal/core"
	"llmbench/internal/providers"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p, err := New(config.NewMemoryStore(config.Credentials{Default: map[string]string{
		envAPIKey:  "sk-test",
		envBaseURL: server.URL,
		envOrgID:   "org-1",
	}}), providers.BuildOptions{HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

func TestNew_MissingKey(t *testing.T) {
	_, err := New(config.NewMemoryStore(config.Credentials{}), providers.BuildOptions{})

	var coreErr *core.Error
	if !errors.As(err, &coreErr) || coreErr.Type != core.ErrorTypeConfiguration {
		t.Fatalf("New() error = %v, want configuration error", err)
	}
	if len(coreErr.Missing) != 1 || coreErr.Missing[0] != envAPIKey {
		t.Errorf("Missing = %v, want [%s]", coreErr.Missing, envAPIKey)
	}
}

func TestCatalog(t *testing.T) {
	p := newTestProvider(t, func(http.ResponseWriter, *http.Request) {})

	models, _ := p.ListModels(context.Background())
	if len(models) != 3 {
		t.Fatalf("ListModels() = %v, want 3 models", models)
	}

	info, err := p.GetModelInfo(context.Background(), "")
	if err != nil || info.Name != "gpt-3.5-turbo" {
		t.Fatalf("default model = %v, %v", info, err)
	}
	if info.Pricing.InputPer1K != 0.0005 || info.Pricing.OutputPer1K != 0.0015 {
		t.Errorf("Pricing = %+v", info.Pricing)
	}

	if _, err := p.GetModelInfo(context.Background(), "gpt-9"); !errors.Is(err, core.ErrUnknownModel) {
		t.Errorf("GetModelInfo(gpt-9) error = %v, want unknown model", err)
	}
}

func TestChatCompletion(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
		wantErr    bool
		wantText   string
	}{
		{
			name:       "successful request",
			statusCode: http.StatusOK,
			body: `{"id":"chatcmpl-123","model":"gpt-4","choices":[{"index":0,"message":{"role":"assistant","content":"Hello!"},"finish_reason":"stop"}],
				"usage":{"prompt_tokens":10,"completion_tokens":20,"total_tokens":30}}`,
			wantText: "Hello!",
		},
		{name: "auth error", statusCode: http.StatusUnauthorized, body: `{"error":{"message":"Invalid API key"}}`, wantErr: true},
		{name: "rate limit", statusCode: http.StatusTooManyRequests, body: `{"error":{"message":"Rate limit exceeded"}}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sent map[string]interface{}
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/chat/completions" {
					t.Errorf("path = %q", r.URL.Path)
				}
				if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
					t.Errorf("Authorization = %q", got)
				}
				if got := r.Header.Get("OpenAI-Organization"); got != "org-1" {
					t.Errorf("OpenAI-Organization = %q", got)
				}
				body, _ := io.ReadAll(r.Body)
				_ = json.Unmarshal(body, &sent)
				w.WriteHeader(tt.statusCode)
				_, _ = w.Write([]byte(tt.body))
			})

			res, err := p.ChatCompletion(context.Background(), &core.ChatRequest{
				Model:    "gpt-4",
				Messages: []core.Message{{Role: core.RoleUser, Content: "Hi"}},
				Params: core.Params{
					Temperature: core.Float64Ptr(0.5),
					TopK:        core.IntPtr(40),
				},
			})

			if tt.wantErr {
				if !errors.Is(err, core.ErrTransport) {
					t.Fatalf("error = %v, want transport error", err)
				}
				var coreErr *core.Error
				errors.As(err, &coreErr)
				if coreErr.StatusCode != tt.statusCode {
					t.Errorf("StatusCode = %d, want %d", coreErr.StatusCode, tt.statusCode)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Text != tt.wantText || res.TotalTokens != 30 {
				t.Errorf("result = %+v", res)
			}
			if sent["temperature"] != 0.5 {
				t.Errorf("temperature = %v, want 0.5", sent["temperature"])
			}
			if _, ok := sent["top_k"]; ok {
				t.Error("top_k must be dropped for openai")
			}
		})
	}
}

func sseHandler(t *testing.T, chunks ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"include_usage":true`) {
			t.Errorf("request body %s does not ask for stream usage", body)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			_, _ = io.WriteString(w, "data: "+c+"\n\n")
		}
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}
}

func collect(t *testing.T, s *core.Stream) ([]string, *core.Stats) {
	t.Helper()
	var deltas []string
	var stats *core.Stats
	for ev := range s.Events() {
		switch e := ev.(type) {
		case core.Content:
			deltas = append(deltas, e.Delta)
		case core.Stats:
			stats = &e
		default:
			t.Fatalf("unexpected event %T", ev)
		}
	}
	return deltas, stats
}

func TestStreamChatCompletion(t *testing.T) {
	p := newTestProvider(t, sseHandler(t,
		`{"choices":[{"delta":{"role":"assistant","content":""}}]}`,
		`{"choices":[{"delta":{"content":"Hel"}}]}`,
		`{"choices":[{"delta":{"content":"lo"}}]}`,
		`{"choices":[],"usage":{"prompt_tokens":9,"completion_tokens":2,"total_tokens":11}}`,
	))

	s, err := p.StreamChatCompletion(context.Background(), &core.ChatRequest{
		Messages: []core.Message{{Role: core.RoleUser, Content: "Hi"}},
	})
	if err != nil {
		t.Fatalf("StreamChatCompletion() error = %v", err)
	}
	defer s.Close()

	deltas, stats := collect(t, s)
	if err := s.Err(); err != nil {
		t.Fatalf("stream error = %v", err)
	}
	if strings.Join(deltas, "") != "Hello" || len(deltas) != 2 {
		t.Errorf("deltas = %q", deltas)
	}
	if stats == nil {
		t.Fatal("missing Stats event")
	}
	if stats.Content != "Hello" || stats.PromptTokens != 9 || stats.CompletionTokens != 2 || stats.TotalTokens != 11 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestStreamChatCompletion_EstimatesWithoutUsage(t *testing.T) {
	p := newTestProvider(t, sseHandler(t,
		`{"choices":[{"delta":{"content":"one two three"}}]}`,
	))

	s, err := p.StreamChatCompletion(context.Background(), &core.ChatRequest{
		Messages: []core.Message{{Role: core.RoleUser, Content: "count to three please"}},
	})
	if err != nil {
		t.Fatalf("StreamChatCompletion() error = %v", err)
	}
	_, stats := collect(t, s)
	if stats == nil {
		t.Fatal("missing Stats event")
	}
	if stats.PromptTokens != 5 || stats.CompletionTokens != 3 {
		t.Errorf("estimated usage = %d/%d, want 5/3", stats.PromptTokens, stats.CompletionTokens)
	}
}

func TestStreamChatCompletion_ErrorChunk(t *testing.T) {
	p := newTestProvider(t, sseHandler(t,
		`{"choices":[{"delta":{"content":"partial"}}]}`,
		`{"error":{"message":"The server had an error"}}`,
	))

	s, err := p.StreamChatCompletion(context.Background(), &core.ChatRequest{})
	if err != nil {
		t.Fatalf("StreamChatCompletion() error = %v", err)
	}
	_, stats := collect(t, s)
	if stats != nil {
		t.Error("failed stream must not produce Stats")
	}
	var coreErr *core.Error
	if !errors.As(s.Err(), &coreErr) || coreErr.Message != "The server had an error" {
		t.Errorf("Err() = %v", s.Err())
	}
}

func TestStreamChatCompletion_TruncatedBody(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"cut\"}}]}\n\n")
	})

	s, err := p.StreamChatCompletion(context.Background(), &core.ChatRequest{})
	if err != nil {
		t.Fatalf("StreamChatCompletion() error = %v", err)
	}
	deltas, stats := collect(t, s)
	if len(deltas) != 1 || deltas[0] != "cut" {
		t.Errorf("deltas = %q", deltas)
	}
	if stats != nil {
		t.Error("truncated stream must not produce Stats")
	}
	if !errors.Is(s.Err(), core.ErrTransport) {
		t.Errorf("Err() = %v, want transport error", s.Err())
	}
}

func TestStreamChatCompletion_AuthFailsUpFront(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided"}}`))
	})

	_, err := p.StreamChatCompletion(context.Background(), &core.ChatRequest{})
	var coreErr *core.Error
	if !errors.As(err, &coreErr) || coreErr.Message != "Incorrect API key provided" {
		t.Errorf("error = %v, want vendor message preserved", err)
	}
}

func TestValidateConnection(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   bool
	}{
		{"ok", http.StatusOK, true},
		{"bad key", http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/models" {
					t.Errorf("path = %q, want /models", r.URL.Path)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"data":[]}`))
			})
			if got := p.ValidateConnection(context.Background()); got != tt.want {
				t.Errorf("ValidateConnection() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCountTokens(t *testing.T) {
	p := newTestProvider(t, func(http.ResponseWriter, *http.Request) {})
	n, err := p.CountTokens(context.Background(), "one two three four five six seven eight nine ten")
	if err != nil || n != 13 {
		t.Errorf("CountTokens() = %d, %v; want 13", n, err)
	}
}
