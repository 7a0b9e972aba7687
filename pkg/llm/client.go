// Package llm provides the model client used by prompt and evaluate steps:
// a Client interface, an OpenAI-compatible HTTP adapter, and record/replay
// wrappers for deterministic runs.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Request is a single completion request. Model carries the pipeline alias
// (haiku, sonnet, opus); adapters resolve it to a concrete model ID.
type Request struct {
	Model       string          `json:"model"`
	System      string          `json:"system,omitempty"`
	Prompt      string          `json:"prompt"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	SchemaName  string          `json:"schema_name,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty"`
}

// Usage reports token counts for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the adapter-normalized reply.
type Response struct {
	Text    string  `json:"text"`
	Usage   Usage   `json:"usage"`
	CostUSD float64 `json:"cost_usd"`
}

// Client is a completion backend. The HTTP adapter implements it against a
// live endpoint; RecordingClient and ReplayClient wrap it for tests and
// deterministic reruns.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// ResolveModel maps a pipeline model alias to a concrete model ID. Aliases
// are overridable via FLUME_MODEL_HAIKU, FLUME_MODEL_SONNET and
// FLUME_MODEL_OPUS; anything else passes through untouched.
func ResolveModel(alias string) string {
	switch alias {
	case "haiku":
		return envOr("FLUME_MODEL_HAIKU", "claude-3-5-haiku-latest")
	case "sonnet":
		return envOr("FLUME_MODEL_SONNET", "claude-sonnet-4-0")
	case "opus":
		return envOr("FLUME_MODEL_OPUS", "claude-opus-4-0")
	}
	return alias
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// modelRates is USD per million tokens (input, output) by alias.
var modelRates = map[string][2]float64{
	"haiku":  {0.80, 4.00},
	"sonnet": {3.00, 15.00},
	"opus":   {15.00, 75.00},
}

// CostUSD prices one call by its alias and usage. Unknown models cost zero.
func CostUSD(alias string, u Usage) float64 {
	r, ok := modelRates[alias]
	if !ok {
		return 0
	}
	return (float64(u.InputTokens)*r[0] + float64(u.OutputTokens)*r[1]) / 1e6
}

// DecodeStructured parses a schema-constrained reply into v. Replies under a
// json_schema response format are the JSON value itself, so this is a strict
// unmarshal with a readable error.
func DecodeStructured(resp *Response, v any) error {
	text := strings.TrimSpace(resp.Text)
	if err := json.Unmarshal([]byte(text), v); err != nil {
		return fmt.Errorf("structured reply is not valid JSON: %w (reply: %s)", err, truncate(text, 200))
	}
	return nil
}

// APIError is a non-2xx reply from the completion endpoint.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm http error %d: %s", e.Status, e.Body)
}

// RefusalError is a model refusal surfaced instead of content.
type RefusalError struct {
	Reason string
}

func (e *RefusalError) Error() string {
	return "model refused the request: " + e.Reason
}
