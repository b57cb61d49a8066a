package provider

import (
	"context"
	"encoding/json"
)

// Message is a single role/content exchange sent to a model backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ObjectRequest asks a backend for a single JSON object conforming to the
// given schema.
type ObjectRequest struct {
	Messages    []Message
	SchemaName  string         // identifier for the schema (used as tool/format name)
	Schema      map[string]any // JSON Schema the response must satisfy
	Model       string         // optional model override
	MaxTokens   int
	Temperature float64
}

// TextRequest asks a backend for free-form text.
type TextRequest struct {
	System      string
	Prompt      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Provider is the abstraction over LLM APIs.
type Provider interface {
	// GenerateObject returns raw JSON conforming to the request schema.
	GenerateObject(ctx context.Context, req ObjectRequest) (json.RawMessage, error)
	// GenerateText returns an unstructured completion.
	GenerateText(ctx context.Context, req TextRequest) (string, error)
	Name() string
}
