package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/zhouzirui/embedchat/backend/internal/service/upstream"
)

func newWebhook(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{URL: srv.URL + "/webhook/query"})
}

func TestGenerateReturnsOutputAndSources(t *testing.T) {
	var got queryRequest
	client := newWebhook(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"output":"We open at 9.","sources":[{"title":"hours.md","score":0.8}]}`))
	})

	reply, err := client.Generate(context.Background(), upstream.Prompt{Text: "when do you open?", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Generate err: %v", err)
	}
	if got.QueryText != "when do you open?" || got.SessionID != "s1" {
		t.Fatalf("unexpected request payload: %+v", got)
	}
	if reply.Text != "We open at 9." {
		t.Fatalf("unexpected text: %q", reply.Text)
	}
	if len(reply.Sources) != 1 || reply.Sources[0].Title != "hours.md" {
		t.Fatalf("unexpected sources: %+v", reply.Sources)
	}
}

func TestGenerateMissingOutputIsProtocolError(t *testing.T) {
	client := newWebhook(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"answer":"wrong key"}`))
	})

	_, err := client.Generate(context.Background(), upstream.Prompt{Text: "hi"})
	var perr *upstream.ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
	if perr.Raw != `{"answer":"wrong key"}` {
		t.Fatalf("raw payload not preserved: %q", perr.Raw)
	}
}

func TestGenerateNonObjectIsProtocolError(t *testing.T) {
	client := newWebhook(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`["not","an","object"]`))
	})

	_, err := client.Generate(context.Background(), upstream.Prompt{Text: "hi"})
	var perr *upstream.ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
}

func TestGenerateHTTPFailure(t *testing.T) {
	client := newWebhook(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	_, err := client.Generate(context.Background(), upstream.Prompt{Text: "hi"})
	if err == nil {
		t.Fatal("expected error for 502")
	}
	var perr *upstream.ProtocolError
	if errors.As(err, &perr) {
		t.Fatalf("transport failure must not be a protocol error: %v", err)
	}
}

func TestGenerateStreamUnsupported(t *testing.T) {
	posts := 0
	client := newWebhook(t, func(w http.ResponseWriter, r *http.Request) {
		posts++
		_, _ = w.Write([]byte(`{"output":"whole answer"}`))
	})

	stream, err := client.GenerateStream(context.Background(), upstream.Prompt{Text: "hi"})
	if !errors.Is(err, upstream.ErrStreamingUnsupported) {
		t.Fatalf("expected ErrStreamingUnsupported, got %v", err)
	}
	if stream != nil {
		t.Fatalf("expected no stream")
	}
	if posts != 0 {
		t.Fatalf("GenerateStream must not call the workflow, got %d posts", posts)
	}
}

func TestHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := New(Config{URL: srv.URL}).Healthy(context.Background()); err != nil {
		t.Fatalf("no health URL should mean healthy, got %v", err)
	}
	err := New(Config{URL: srv.URL, HealthURL: srv.URL + "/healthz"}).Healthy(context.Background())
	if !errors.Is(err, upstream.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if err := New(Config{}).Healthy(context.Background()); !errors.Is(err, upstream.ErrUnavailable) {
		t.Fatalf("unconfigured client must be unavailable, got %v", err)
	}
}
