package relay

import (
	"encoding/json"
	"fmt"
)

// Request is the OpenAI-style embeddings request. Input accepts either a
// single string or an array of strings.
type Request struct {
	Model          string          `json:"model"`
	Input          json.RawMessage `json:"input"`
	EncodingFormat string          `json:"encoding_format,omitempty"`
}

// Texts normalizes the flexible input field to a slice.
func (r *Request) Texts() ([]string, error) {
	if len(r.Input) == 0 {
		return nil, fmt.Errorf("input is required")
	}

	var single string
	if err := json.Unmarshal(r.Input, &single); err == nil {
		return []string{single}, nil
	}

	var many []string
	if err := json.Unmarshal(r.Input, &many); err == nil {
		return many, nil
	}
	return nil, fmt.Errorf("input must be a string or an array of strings")
}

// Response is the OpenAI-style embeddings response.
type Response struct {
	Object string      `json:"object"`
	Data   []Embedding `json:"data"`
	Model  string      `json:"model"`
	Usage  Usage       `json:"usage"`
}

// Embedding is one vector in a Response.
type Embedding struct {
	Object    string    `json:"object"`
	Embedding []float64 `json:"embedding"`
	Index     int       `json:"index"`
}

// Usage mirrors the OpenAI usage block. The upstream reports no token
// counts, so both fields are always zero.
type Usage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// NewResponse shapes upstream vectors into the OpenAI list response.
func NewResponse(model string, vectors [][]float64) Response {
	data := make([]Embedding, len(vectors))
	for i, v := range vectors {
		data[i] = Embedding{Object: "embedding", Embedding: v, Index: i}
	}
	return Response{Object: "list", Data: data, Model: model}
}
