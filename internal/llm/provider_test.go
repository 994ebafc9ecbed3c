package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/felixgeelhaar/nosubvo/internal/config"
)

// mockProvider is a test implementation of Provider
type mockProvider struct {
	name     string
	response *Response
	errs     []error // returned in order, then response
	calls    atomic.Int32
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	n := int(m.calls.Add(1)) - 1
	if n < len(m.errs) {
		return nil, m.errs[n]
	}
	return m.response, nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	if _, err := r.Default(); !errors.Is(err, ErrNoDefaultProvider) {
		t.Errorf("Default() on empty registry error = %v; want ErrNoDefaultProvider", err)
	}

	a := &mockProvider{name: "a"}
	b := &mockProvider{name: "b"}
	r.Register("b", b)
	r.Register("a", a)

	got, err := r.Default()
	if err != nil || got != a {
		t.Errorf("Default() = %v, %v; want first by name", got, err)
	}

	if err := r.SetDefault("b"); err != nil {
		t.Fatalf("SetDefault() error = %v", err)
	}
	if got, _ := r.Default(); got != b {
		t.Error("Default() did not honour SetDefault")
	}
	if err := r.SetDefault("missing"); !errors.Is(err, ErrProviderNotFound) {
		t.Errorf("SetDefault(missing) error = %v; want ErrProviderNotFound", err)
	}
	if _, err := r.Get("missing"); !errors.Is(err, ErrProviderNotFound) {
		t.Errorf("Get(missing) error = %v; want ErrProviderNotFound", err)
	}
	if names := r.List(); len(names) != 2 || names[0] != "a" {
		t.Errorf("List() = %v; want [a b]", names)
	}
}

func TestOpenAIProvider_Generate(t *testing.T) {
	var got openaiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer key" {
			t.Errorf("Authorization = %q", auth)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"[]"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":1}}`)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "key", BaseURL: srv.URL + "/"})
	req := UserPrompt("hello")
	req.System = "be brief"
	req.JSON = true

	resp, err := p.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if resp.Content != "[]" || resp.Usage.InputTokens != 3 {
		t.Errorf("Generate() = %+v", resp)
	}
	if got.Model != DefaultOpenAIModel {
		t.Errorf("model = %q; want %q", got.Model, DefaultOpenAIModel)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Errorf("messages = %+v; want system first", got.Messages)
	}
	if got.ResponseFormat == nil || got.ResponseFormat.Type != "json_object" {
		t.Errorf("response_format = %+v; want json_object", got.ResponseFormat)
	}
}

func TestOpenAIProvider_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
	}{
		{"api error", http.StatusTooManyRequests, `{"error":"slow down"}`, func(err error) bool {
			var apiErr *APIError
			return errors.As(err, &apiErr) && apiErr.StatusCode == 429
		}},
		{"no choices", http.StatusOK, `{"choices":[]}`, func(err error) bool { return errors.Is(err, ErrEmptyResponse) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			_, err := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL}).Generate(context.Background(), UserPrompt("x"))
			if !tt.check(err) {
				t.Errorf("Generate() error = %v", err)
			}
		})
	}
}

func TestOllamaProvider_Generate(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"message":{"role":"assistant","content":"ok"},"done":true,"eval_count":2}`)
	}))
	defer srv.Close()

	req := UserPrompt("hi")
	req.JSON = true
	req.Temperature = 0.2

	resp, err := NewOllamaProvider(OllamaConfig{BaseURL: srv.URL}).Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if resp.Content != "ok" || resp.FinishReason != "stop" || resp.Usage.OutputTokens != 2 {
		t.Errorf("Generate() = %+v", resp)
	}
	if got.Format != "json" || got.Stream || got.Model != "llama3.2" {
		t.Errorf("request = %+v", got)
	}
	if got.Options == nil || got.Options.Temperature != 0.2 {
		t.Errorf("options = %+v", got.Options)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("status 500"), false},
		{&APIError{StatusCode: 429}, true},
		{&APIError{StatusCode: 503}, true},
		{fmt.Errorf("wrapped: %w", &APIError{StatusCode: 502}), true},
		{&APIError{StatusCode: 400}, false},
		{&APIError{StatusCode: 401}, false},
	}

	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v; want %v", tt.err, got, tt.want)
		}
	}
}

func TestResilientProvider_RetriesTransient(t *testing.T) {
	m := &mockProvider{
		name:     "mock",
		errs:     []error{&APIError{StatusCode: 503}},
		response: &Response{Content: "done"},
	}
	cfg := ResilientConfig{EnableRetry: true, RetryDelay: time.Millisecond}
	p := NewResilientProvider(m, cfg)
	defer p.Close()

	resp, err := p.Generate(context.Background(), UserPrompt("x"))
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if resp.Content != "done" || m.calls.Load() != 2 {
		t.Errorf("Generate() = %+v after %d calls; want done after 2", resp, m.calls.Load())
	}
}

func TestResilientProvider_DoesNotRetryClientErrors(t *testing.T) {
	m := &mockProvider{name: "mock", errs: []error{&APIError{StatusCode: 400}}}
	p := NewResilientProvider(m, ResilientConfig{EnableRetry: true, RetryDelay: time.Millisecond})

	if _, err := p.Generate(context.Background(), UserPrompt("x")); err == nil {
		t.Fatal("Generate() error = nil; want 400")
	}
	if m.calls.Load() != 1 {
		t.Errorf("calls = %d; want 1", m.calls.Load())
	}
}

func TestResilientProvider_AllPatterns(t *testing.T) {
	m := &mockProvider{name: "mock", response: &Response{Content: "ok"}}
	p := NewResilientProvider(m, DefaultResilientConfig())
	defer p.Close()

	if p.Name() != "mock" {
		t.Errorf("Name() = %q; want mock", p.Name())
	}
	resp, err := p.Generate(context.Background(), UserPrompt("x"))
	if err != nil || resp.Content != "ok" {
		t.Errorf("Generate() = %+v, %v", resp, err)
	}
}

func TestFromConfig(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	tests := []struct {
		name     string
		provider string
		apiKey   string
		want     []string
	}{
		{"openai with key", "openai", "k", []string{"openai"}},
		{"openai without key", "openai", "", nil},
		{"ollama", "ollama", "", []string{"ollama"}},
		{"none", "none", "k", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.LLMProvider = tt.provider
			cfg.LLMAPIKey = tt.apiKey

			got := FromConfig(cfg, logger).List()
			if len(got) != len(tt.want) || (len(got) > 0 && got[0] != tt.want[0]) {
				t.Errorf("FromConfig().List() = %v; want %v", got, tt.want)
			}
		})
	}
}
