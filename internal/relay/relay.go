// Package relay translates the OpenAI embeddings wire format into the
// upstream text-embeddings-inference format and back. It is stateless; the
// bridge exposes it so OpenAI-client agents can use a TEI deployment
// unchanged.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// UpstreamError is a non-200 response from the embedding service. Status and
// body propagate verbatim to the caller.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("embedding upstream error (status %d): %s", e.Status, e.Body)
}

// Client talks to a text-embeddings-inference style upstream.
type Client struct {
	client        *http.Client
	baseURL       string
	embedTimeout  time.Duration
	healthTimeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithTimeouts overrides the embed and health call timeouts.
func WithTimeouts(embed, health time.Duration) Option {
	return func(c *Client) {
		c.embedTimeout = embed
		c.healthTimeout = health
	}
}

// NewClient creates a client for the embedding service at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		client:        &http.Client{},
		baseURL:       baseURL,
		embedTimeout:  30 * time.Second,
		healthTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Embed sends texts upstream and returns one vector per input, in order.
func (c *Client) Embed(ctx context.Context, inputs []string) ([][]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.embedTimeout)
	defer cancel()

	payload, err := json.Marshal(map[string]any{"inputs": inputs})
	if err != nil {
		return nil, fmt.Errorf("relay: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("relay: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relay: embed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("relay: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &UpstreamError{Status: resp.StatusCode, Body: string(body)}
	}

	var vectors [][]float64
	if err := json.Unmarshal(body, &vectors); err != nil {
		return nil, fmt.Errorf("relay: decode vectors: %w", err)
	}
	return vectors, nil
}

// Health checks upstream reachability.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("relay: create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("relay: health: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &UpstreamError{Status: resp.StatusCode, Body: resp.Status}
	}
	return nil
}
