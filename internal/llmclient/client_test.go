package llmclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"llmbench/internal/core"
)

func TestClient_Do_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Test") != "value" {
			t.Errorf("expected header X-Test 'value', got '%s'", r.Header.Get("X-Test"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"hello"}`))
	}))
	defer server.Close()

	client := New(Config{ProviderName: "test", BaseURL: server.URL}, func(req *http.Request) {
		req.Header.Set("X-Test", "value")
	})

	var result struct {
		Message string `json:"message"`
	}
	err := client.Do(context.Background(), Request{Method: http.MethodGet, Endpoint: "/test"}, &result)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Message != "hello" {
		t.Errorf("expected message 'hello', got '%s'", result.Message)
	}
}

func TestClient_Do_WithBodyAndQuery(t *testing.T) {
	var receivedBody map[string]interface{}
	var receivedKey string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected Content-Type 'application/json', got '%s'", r.Header.Get("Content-Type"))
		}
		receivedKey = r.URL.Query().Get("key")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &receivedBody)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := New(Config{ProviderName: "test", BaseURL: server.URL}, nil)
	err := client.Do(context.Background(), Request{
		Method:   http.MethodPost,
		Endpoint: "/test",
		Query:    url.Values{"key": {"secret"}},
		Body:     map[string]string{"input": "test"},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receivedBody["input"] != "test" {
		t.Errorf("expected input 'test', got '%v'", receivedBody["input"])
	}
	if receivedKey != "secret" {
		t.Errorf("expected key 'secret', got '%s'", receivedKey)
	}
}

func TestClient_DoRaw_NoRetryOnServerError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded"}}`))
	}))
	defer server.Close()

	client := New(Config{ProviderName: "openai", BaseURL: server.URL}, nil)
	_, err := client.DoRaw(context.Background(), Request{Method: http.MethodGet, Endpoint: "/models"})

	var coreErr *core.Error
	if !errors.As(err, &coreErr) {
		t.Fatalf("expected *core.Error, got %T: %v", err, err)
	}
	if coreErr.Type != core.ErrorTypeTransport {
		t.Errorf("Type = %v, want %v", coreErr.Type, core.ErrorTypeTransport)
	}
	if coreErr.Message != "overloaded" {
		t.Errorf("Message = %q, want %q", coreErr.Message, "overloaded")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("server called %d times, want exactly 1", got)
	}
}

func TestClient_DoRaw_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	baseURL := server.URL
	server.Close()

	client := New(Config{ProviderName: "anthropic", BaseURL: baseURL}, nil)
	_, err := client.DoRaw(context.Background(), Request{Method: http.MethodGet, Endpoint: "/"})
	if !errors.Is(err, core.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestClient_DoStream(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantErr    bool
		wantStatus int
	}{
		{name: "ok", status: http.StatusOK, body: "data: {}\n\n"},
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"error":{"message":"bad key"}}`, wantErr: true, wantStatus: 401},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Accept") != "text/event-stream" {
					t.Errorf("Accept = %q", r.Header.Get("Accept"))
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := New(Config{ProviderName: "test", BaseURL: server.URL}, nil)
			body, err := client.DoStream(context.Background(), Request{Method: http.MethodPost, Endpoint: "/stream", Body: map[string]bool{"stream": true}})

			if tt.wantErr {
				var coreErr *core.Error
				if !errors.As(err, &coreErr) {
					t.Fatalf("expected *core.Error, got %v", err)
				}
				if coreErr.StatusCode != tt.wantStatus {
					t.Errorf("StatusCode = %d, want %d", coreErr.StatusCode, tt.wantStatus)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			defer func() { _ = body.Close() }()
			got, _ := io.ReadAll(body)
			if string(got) != tt.body {
				t.Errorf("body = %q, want %q", got, tt.body)
			}
		})
	}
}

func TestClient_CancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := New(Config{ProviderName: "test", BaseURL: server.URL}, nil)
	_, err := client.DoRaw(ctx, Request{Method: http.MethodGet, Endpoint: "/"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestClient_Hooks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	var started []RequestInfo
	var ended []ResponseInfo
	client := New(Config{
		ProviderName: "openai",
		BaseURL:      server.URL,
		Hooks: Hooks{
			OnRequestStart: func(ctx context.Context, info RequestInfo) context.Context {
				started = append(started, info)
				return ctx
			},
			OnRequestEnd: func(_ context.Context, info ResponseInfo) {
				ended = append(ended, info)
			},
		},
	}, nil)

	_, _ = client.DoRaw(context.Background(), Request{Method: http.MethodGet, Endpoint: "/ok"})
	_, _ = client.DoRaw(context.Background(), Request{Method: http.MethodGet, Endpoint: "/fail"})
	body, err := client.DoStream(context.Background(), Request{Method: http.MethodPost, Endpoint: "/ok"})
	if err != nil {
		t.Fatalf("DoStream() error = %v", err)
	}
	_ = body.Close()

	if len(started) != 3 || len(ended) != 3 {
		t.Fatalf("hooks called start=%d end=%d, want 3 each", len(started), len(ended))
	}
	if ended[0].StatusCode != http.StatusOK || ended[0].Err != nil {
		t.Errorf("ended[0] = %+v, want 200 without error", ended[0])
	}
	if ended[1].StatusCode != http.StatusTooManyRequests || ended[1].Err == nil {
		t.Errorf("ended[1] = %+v, want 429 with error", ended[1])
	}
	if !started[2].Stream || !ended[2].Stream || ended[2].StatusCode != http.StatusOK {
		t.Errorf("stream hooks = %+v / %+v", started[2], ended[2])
	}
}
