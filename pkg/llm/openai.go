package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultBaseURL is the OpenAI-compatible chat completions endpoint used
// when FLUME_BASE_URL is unset.
const DefaultBaseURL = "https://api.anthropic.com/v1"

const defaultMaxTokens = 4096

// HTTPClient talks to an OpenAI-compatible chat completions endpoint.
type HTTPClient struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

// NewHTTPClient builds a client from explicit values, falling back to
// FLUME_BASE_URL / FLUME_API_KEY (then ANTHROPIC_API_KEY) and the default
// endpoint.
func NewHTTPClient(baseURL, apiKey string) (*HTTPClient, error) {
	if baseURL == "" {
		baseURL = envOr("FLUME_BASE_URL", DefaultBaseURL)
	}
	if apiKey == "" {
		apiKey = envOr("FLUME_API_KEY", envOr("ANTHROPIC_API_KEY", ""))
	}
	if apiKey == "" {
		return nil, fmt.Errorf("no API key: set FLUME_API_KEY (or ANTHROPIC_API_KEY), or put it in a .env file")
	}
	return &HTTPClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP:    &http.Client{},
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model               string          `json:"model"`
	Messages            []chatMessage   `json:"messages"`
	MaxCompletionTokens int             `json:"max_completion_tokens,omitempty"`
	Temperature         *float64        `json:"temperature,omitempty"`
	ResponseFormat      *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type       string         `json:"type"`
	JSONSchema *schemaWrapper `json:"json_schema,omitempty"`
}

type schemaWrapper struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
	Strict bool            `json:"strict,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content json.RawMessage `json:"content"`
			Refusal json.RawMessage `json:"refusal,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete sends one chat completion request and normalizes the reply.
func (c *HTTPClient) Complete(ctx context.Context, req Request) (*Response, error) {
	payload := chatRequest{
		Model:               ResolveModel(req.Model),
		MaxCompletionTokens: req.MaxTokens,
		Temperature:         req.Temperature,
	}
	if payload.MaxCompletionTokens == 0 {
		payload.MaxCompletionTokens = defaultMaxTokens
	}
	if req.System != "" {
		payload.Messages = append(payload.Messages, chatMessage{Role: "system", Content: req.System})
	}
	payload.Messages = append(payload.Messages, chatMessage{Role: "user", Content: req.Prompt})
	if len(req.Schema) > 0 {
		name := req.SchemaName
		if name == "" {
			name = "response"
		}
		payload.ResponseFormat = &responseFormat{
			Type:       "json_schema",
			JSONSchema: &schemaWrapper{Name: name, Schema: req.Schema, Strict: true},
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)

	httpResp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("completion request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read completion response: %w", err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, &APIError{Status: httpResp.StatusCode, Body: truncate(string(respBody), 512)}
	}

	var completion chatResponse
	if err := json.Unmarshal(respBody, &completion); err != nil {
		return nil, fmt.Errorf("decode completion response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("completion returned no choices")
	}

	choice := completion.Choices[0]
	if reason := decodeRefusal(choice.Message.Refusal); reason != "" {
		return nil, &RefusalError{Reason: reason}
	}

	text := strings.TrimSpace(collectText(decodeContent(choice.Message.Content)))
	if text == "" {
		return nil, fmt.Errorf("completion returned empty message (finish_reason=%s)", choice.FinishReason)
	}

	usage := Usage{
		InputTokens:  completion.Usage.PromptTokens,
		OutputTokens: completion.Usage.CompletionTokens,
	}
	return &Response{
		Text:    text,
		Usage:   usage,
		CostUSD: CostUSD(req.Model, usage),
	}, nil
}

// partKind is the closed set of content parts the adapter understands.
// Anything the endpoint invents later lands on partSkip and is dropped
// before callers see it.
type partKind int

const (
	partText partKind = iota
	partSkip
)

type contentPart struct {
	kind partKind
	text string
}

// decodeContent normalizes string-or-parts message content into typed parts.
func decodeContent(raw json.RawMessage) []contentPart {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []contentPart{{kind: partText, text: s}}
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil
	}
	out := make([]contentPart, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case "text", "output_text":
			out = append(out, contentPart{kind: partText, text: p.Text})
		default:
			out = append(out, contentPart{kind: partSkip})
		}
	}
	return out
}

func collectText(parts []contentPart) string {
	var fragments []string
	for _, p := range parts {
		if p.kind != partText {
			continue
		}
		if t := strings.TrimSpace(p.text); t != "" {
			fragments = append(fragments, t)
		}
	}
	return strings.Join(fragments, "\n")
}

func decodeRefusal(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(truncate(string(raw), 200))
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}
