// Package qdrant is a thin HTTP client for the slice of the Qdrant REST API
// the bridge uses. The collection is treated purely as a filterable document
// store: every point carries the degenerate single-coordinate vector and all
// real data lives in the payload.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrNotFound signals an absent point or collection.
var ErrNotFound = errors.New("not found")

// StatusError is a non-success response from the store, body preserved so the
// caller can propagate it verbatim.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("store error (status %d): %s", e.Code, e.Body)
}

// Client talks to a Qdrant instance over HTTP.
type Client struct {
	client       *http.Client
	baseURL      string
	apiKey       string
	readTimeout  time.Duration // existence checks, point reads, health
	writeTimeout time.Duration // collection create, upsert, scroll, patch
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sets the api-key header sent on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithTimeouts overrides the per-call read and write timeouts.
func WithTimeouts(read, write time.Duration) Option {
	return func(c *Client) {
		c.readTimeout = read
		c.writeTimeout = write
	}
}

// New creates a client for the Qdrant instance at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		client:       &http.Client{},
		baseURL:      baseURL,
		readTimeout:  5 * time.Second,
		writeTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EnsureCollection creates the collection if it doesn't exist. It is
// idempotent and safe to call on every request: the existence check is a
// single GET, and a concurrent create racing us counts as success.
func (c *Client) EnsureCollection(ctx context.Context, name string) error {
	status, body, err := c.do(ctx, c.readTimeout, http.MethodGet, "/collections/"+name, nil)
	if err != nil {
		return err
	}
	if status == http.StatusOK {
		return nil
	}
	if status != http.StatusNotFound {
		return &StatusError{Code: status, Body: string(body)}
	}

	spec := map[string]any{
		// Placeholder index config. Similarity search is never used; the
		// vector exists only because the store requires one.
		"vectors": map[string]any{"size": 1, "distance": "Cosine"},
	}
	status, body, err = c.do(ctx, c.writeTimeout, http.MethodPut, "/collections/"+name, spec)
	if err != nil {
		return err
	}
	if status == http.StatusConflict {
		return nil // someone else created it first
	}
	if status < 200 || status >= 300 {
		return &StatusError{Code: status, Body: string(body)}
	}
	return nil
}

// Upsert writes or overwrites the full payload keyed by id.
func (c *Client) Upsert(ctx context.Context, collection, id string, payload map[string]any) error {
	req := map[string]any{
		"points": []map[string]any{
			{"id": id, "vector": []float64{0.0}, "payload": payload},
		},
	}
	status, body, err := c.do(ctx, c.writeTimeout, http.MethodPut, "/collections/"+collection+"/points", req)
	if err != nil {
		return err
	}
	// 202 means "accepted, applying"; correctness is observable via read.
	if status < 200 || status >= 300 {
		return &StatusError{Code: status, Body: string(body)}
	}
	return nil
}

// FetchByID returns the payload stored under id, or ErrNotFound.
func (c *Client) FetchByID(ctx context.Context, collection, id string) (map[string]any, error) {
	status, body, err := c.do(ctx, c.readTimeout, http.MethodGet, "/collections/"+collection+"/points/"+id, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if status != http.StatusOK {
		return nil, &StatusError{Code: status, Body: string(body)}
	}

	var resp struct {
		Result struct {
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("qdrant: decode point: %w", err)
	}
	if resp.Result.Payload == nil {
		return nil, ErrNotFound
	}
	return resp.Result.Payload, nil
}

// Scroll returns up to limit payloads matching filter. A nil filter matches
// everything. No cursor is exposed; one bounded page is all callers get.
func (c *Client) Scroll(ctx context.Context, collection string, filter *Filter, limit int) ([]map[string]any, error) {
	req := map[string]any{
		"limit":        limit,
		"with_payload": true,
		"with_vector":  false,
	}
	if filter != nil {
		req["filter"] = filter
	}
	status, body, err := c.do(ctx, c.writeTimeout, http.MethodPost, "/collections/"+collection+"/points/scroll", req)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &StatusError{Code: status, Body: string(body)}
	}

	var resp struct {
		Result struct {
			Points []struct {
				Payload map[string]any `json:"payload"`
			} `json:"points"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("qdrant: decode scroll: %w", err)
	}

	payloads := make([]map[string]any, 0, len(resp.Result.Points))
	for _, p := range resp.Result.Points {
		payloads = append(payloads, p.Payload)
	}
	return payloads, nil
}

// SetPayload merges fields into the payload of id. Fields not mentioned are
// left untouched.
func (c *Client) SetPayload(ctx context.Context, collection, id string, fields map[string]any) error {
	req := map[string]any{
		"payload": fields,
		"points":  []string{id},
	}
	status, body, err := c.do(ctx, c.writeTimeout, http.MethodPost, "/collections/"+collection+"/points/payload", req)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return &StatusError{Code: status, Body: string(body)}
	}
	return nil
}

// Health checks store reachability.
func (c *Client) Health(ctx context.Context) error {
	status, body, err := c.do(ctx, c.readTimeout, http.MethodGet, "/healthz", nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &StatusError{Code: status, Body: string(body)}
	}
	return nil
}

// do performs a single bounded HTTP call and returns status plus body.
// Transport failures and timeouts surface as errors, never a fake status.
func (c *Client) do(ctx context.Context, timeout time.Duration, method, path string, reqBody any) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if reqBody != nil {
		payload, err := json.Marshal(reqBody)
		if err != nil {
			return 0, nil, fmt.Errorf("qdrant: marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("qdrant: create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("qdrant: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("qdrant: read response: %w", err)
	}
	return resp.StatusCode, body, nil
}
