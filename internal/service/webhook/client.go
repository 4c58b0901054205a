// Package webhook implements upstream.Generator on top of a remote workflow
// webhook that answers a whole query in one synchronous call.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/zhouzirui/embedchat/backend/internal/model/event"
	"github.com/zhouzirui/embedchat/backend/internal/service/upstream"
)

const (
	backendName     = "workflow webhook"
	maxResponseSize = 4 << 20
	defaultTimeout  = 60 * time.Second
)

// Config points the client at the workflow.
type Config struct {
	URL       string
	HealthURL string
	Timeout   time.Duration
}

// Client posts queries to the workflow webhook.
type Client struct {
	url       string
	healthURL string
	http      *http.Client
}

// New returns a client with an instrumented transport.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		url:       cfg.URL,
		healthURL: cfg.HealthURL,
		http: &http.Client{
			Timeout: timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
					return operation + " " + r.URL.Path
				}),
			),
		},
	}
}

var _ upstream.Generator = (*Client)(nil)

type queryRequest struct {
	QueryText string `json:"queryText"`
	SessionID string `json:"sessionId"`
}

// Healthy probes the health URL when one is configured.
func (c *Client) Healthy(ctx context.Context) error {
	if c == nil || c.url == "" {
		return upstream.ErrUnavailable
	}
	if c.healthURL == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.healthURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", upstream.ErrUnavailable, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", upstream.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: health check returned %s", upstream.ErrUnavailable, resp.Status)
	}
	return nil
}

// Generate sends the query and returns the workflow output.
func (c *Client) Generate(ctx context.Context, p upstream.Prompt) (*upstream.Reply, error) {
	payload, err := json.Marshal(queryRequest{QueryText: p.Text, SessionID: p.SessionID})
	if err != nil {
		return nil, fmt.Errorf("marshal webhook request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error communicating with %s: %w", backendName, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read webhook response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("error communicating with %s: status %s", backendName, resp.Status)
	}

	reply, err := decodeReply(body)
	if err != nil {
		log.Printf("[webhook] rejected response for session=%s: %v", p.SessionID, err)
		return nil, err
	}
	return reply, nil
}

// GenerateStream always reports ErrStreamingUnsupported: the workflow only
// answers in one shot, and callers reuse or request that single answer.
func (c *Client) GenerateStream(context.Context, upstream.Prompt) (*schema.StreamReader[*schema.Message], error) {
	return nil, upstream.ErrStreamingUnsupported
}

func decodeReply(body []byte) (*upstream.Reply, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		return nil, &upstream.ProtocolError{
			Backend: backendName,
			Reason:  "expected a JSON object",
			Raw:     string(body),
		}
	}

	raw, ok := fields["output"]
	if !ok {
		raw, ok = fields["textResponse"]
	}
	if !ok {
		return nil, &upstream.ProtocolError{
			Backend: backendName,
			Reason:  "expected 'output' key in response, but it was not found",
			Raw:     string(body),
		}
	}

	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return nil, &upstream.ProtocolError{
			Backend: backendName,
			Reason:  "'output' is not a string",
			Raw:     string(body),
		}
	}

	reply := &upstream.Reply{Text: text}
	if rawSources, ok := fields["sources"]; ok {
		var sources []event.Source
		if err := json.Unmarshal(rawSources, &sources); err != nil {
			log.Printf("[webhook] ignoring malformed sources: %v", err)
		} else {
			reply.Sources = sources
		}
	}
	return reply, nil
}
