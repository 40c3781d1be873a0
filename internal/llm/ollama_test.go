package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/auralink/auralink-bridge/internal/httpkit"
)

func TestOllamaClient_Chat(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %q, want /api/chat", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		io.WriteString(w, `{
			"model": "llama3.2",
			"created_at": "2024-10-19T12:00:00.123456Z",
			"message": {"role": "assistant", "content": "SUMMARY: Two invoices due\nURGENCY: HIGH"},
			"done": true,
			"total_duration": 1500000000,
			"prompt_eval_count": 120,
			"eval_count": 14
		}`)
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, 5*time.Second, quietLogger())
	resp, err := c.Chat(context.Background(), "llama3.2", []Message{User("summarize")},
		Options{Temperature: 0.3, MaxTokens: 80})
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}

	if got.Stream {
		t.Error("request should not stream")
	}
	if got.Options == nil || got.Options.Temperature != 0.3 || got.Options.NumPredict != 80 {
		t.Errorf("options = %+v, want temperature 0.3 num_predict 80", got.Options)
	}

	if resp.Message.Content != "SUMMARY: Two invoices due\nURGENCY: HIGH" {
		t.Errorf("content = %q", resp.Message.Content)
	}
	if resp.InputTokens != 120 || resp.OutputTokens != 14 {
		t.Errorf("tokens = %d/%d, want 120/14", resp.InputTokens, resp.OutputTokens)
	}
	if resp.TotalDuration != 1500*time.Millisecond {
		t.Errorf("TotalDuration = %v, want 1.5s", resp.TotalDuration)
	}
	if resp.CreatedAt.IsZero() {
		t.Error("CreatedAt should be parsed")
	}
}

func TestOllamaClient_Chat_NoOptions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]any
		json.NewDecoder(r.Body).Decode(&raw)
		if _, ok := raw["options"]; ok {
			t.Errorf("options should be omitted when unset, got %v", raw["options"])
		}
		io.WriteString(w, `{"message":{"role":"assistant","content":"ok"},"done":true}`)
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, 5*time.Second, quietLogger())
	if _, err := c.Chat(context.Background(), "m", []Message{User("hi")}, Options{}); err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
}

func TestOllamaClient_Chat_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":"model 'nope' not found"}`)
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, 5*time.Second, quietLogger())
	if _, err := c.Chat(context.Background(), "nope", []Message{User("hi")}, Options{}); err == nil {
		t.Fatal("expected error for 404")
	}
}

func TestOllamaClient_Ping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		io.WriteString(w, `{"models":[]}`)
	}))
	defer srv.Close()

	if err := NewOllamaClient(srv.URL, time.Second, quietLogger()).Ping(context.Background()); err != nil {
		t.Errorf("Ping() error: %v", err)
	}
}

func TestOllamaClient_SelfSignedTLS(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"models":[]}`)
	}))
	defer srv.Close()

	if err := NewOllamaClient(srv.URL, time.Second, quietLogger()).Ping(context.Background()); err == nil {
		t.Error("Ping() to a self-signed server should fail certificate verification")
	}

	insecure := NewOllamaClient(srv.URL, time.Second, quietLogger(), httpkit.WithTLSInsecureSkipVerify())
	if err := insecure.Ping(context.Background()); err != nil {
		t.Errorf("Ping() with verification disabled: %v", err)
	}
}
