package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func completionServer(t *testing.T, handler func(body map[string]any) (int, string)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Fatalf("request body not JSON: %v", err)
		}
		status, resp := handler(body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, resp)
	}))
}

// TestHTTPClientComplete verifies the request shape and reply normalization
// for a plain text completion.
func TestHTTPClientComplete(t *testing.T) {
	var seen map[string]any
	srv := completionServer(t, func(body map[string]any) (int, string) {
		seen = body
		return 200, `{"choices":[{"message":{"content":"four"},"finish_reason":"stop"}],"usage":{"prompt_tokens":12,"completion_tokens":3}}`
	})
	defer srv.Close()

	c := &HTTPClient{BaseURL: srv.URL, APIKey: "test-key", HTTP: srv.Client()}
	resp, err := c.Complete(context.Background(), Request{Model: "haiku", Prompt: "what is 2+2"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "four" {
		t.Errorf("Text = %q, want four", resp.Text)
	}
	if resp.Usage.InputTokens != 12 || resp.Usage.OutputTokens != 3 {
		t.Errorf("Usage = %+v", resp.Usage)
	}
	if resp.CostUSD <= 0 {
		t.Errorf("CostUSD = %v, want > 0 for haiku", resp.CostUSD)
	}

	msgs, _ := seen["messages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("messages = %v, want one user message", seen["messages"])
	}
	msg := msgs[0].(map[string]any)
	if msg["role"] != "user" || msg["content"] != "what is 2+2" {
		t.Errorf("message = %v", msg)
	}
	if _, ok := seen["response_format"]; ok {
		t.Error("response_format sent without a schema")
	}
}

// TestHTTPClientStructured verifies the json_schema response format is sent
// when a schema is set.
func TestHTTPClientStructured(t *testing.T) {
	var seen map[string]any
	srv := completionServer(t, func(body map[string]any) (int, string) {
		seen = body
		return 200, `{"choices":[{"message":{"content":"{\"answer\":4}"},"finish_reason":"stop"}],"usage":{}}`
	})
	defer srv.Close()

	c := &HTTPClient{BaseURL: srv.URL, APIKey: "k", HTTP: srv.Client()}
	schema := json.RawMessage(`{"type":"object","properties":{"answer":{"type":"integer"}}}`)
	resp, err := c.Complete(context.Background(), Request{
		Model: "sonnet", Prompt: "2+2", Schema: schema, SchemaName: "math",
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != `{"answer":4}` {
		t.Errorf("Text = %q", resp.Text)
	}

	rf, ok := seen["response_format"].(map[string]any)
	if !ok {
		t.Fatal("response_format missing from request")
	}
	if rf["type"] != "json_schema" {
		t.Errorf("response_format.type = %v", rf["type"])
	}
	js := rf["json_schema"].(map[string]any)
	if js["name"] != "math" || js["strict"] != true {
		t.Errorf("json_schema = %v", js)
	}
}

// TestHTTPClientContentParts verifies list-form content: text parts join,
// unknown part kinds are skipped.
func TestHTTPClientContentParts(t *testing.T) {
	srv := completionServer(t, func(body map[string]any) (int, string) {
		return 200, `{"choices":[{"message":{"content":[
			{"type":"text","text":"first"},
			{"type":"reasoning","text":"hidden"},
			{"type":"audio_chunk"},
			{"type":"text","text":"second"}
		]},"finish_reason":"stop"}],"usage":{}}`
	})
	defer srv.Close()

	c := &HTTPClient{BaseURL: srv.URL, APIKey: "k", HTTP: srv.Client()}
	resp, err := c.Complete(context.Background(), Request{Model: "haiku", Prompt: "p"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "first\nsecond" {
		t.Errorf("Text = %q, want text parts only", resp.Text)
	}
}

// TestHTTPClientRefusal verifies refusals surface as RefusalError.
func TestHTTPClientRefusal(t *testing.T) {
	srv := completionServer(t, func(body map[string]any) (int, string) {
		return 200, `{"choices":[{"message":{"content":null,"refusal":"cannot comply"},"finish_reason":"stop"}]}`
	})
	defer srv.Close()

	c := &HTTPClient{BaseURL: srv.URL, APIKey: "k", HTTP: srv.Client()}
	_, err := c.Complete(context.Background(), Request{Model: "haiku", Prompt: "p"})
	var refusal *RefusalError
	if !errors.As(err, &refusal) {
		t.Fatalf("err = %v, want RefusalError", err)
	}
	if refusal.Reason != "cannot comply" {
		t.Errorf("Reason = %q", refusal.Reason)
	}
}

// TestHTTPClientAPIError verifies non-2xx replies surface status and body.
func TestHTTPClientAPIError(t *testing.T) {
	srv := completionServer(t, func(body map[string]any) (int, string) {
		return 429, `{"error":"rate limited"}`
	})
	defer srv.Close()

	c := &HTTPClient{BaseURL: srv.URL, APIKey: "k", HTTP: srv.Client()}
	_, err := c.Complete(context.Background(), Request{Model: "haiku", Prompt: "p"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want APIError", err)
	}
	if apiErr.Status != 429 {
		t.Errorf("Status = %d", apiErr.Status)
	}
}

// TestCostUSD checks the per-alias rate table.
func TestCostUSD(t *testing.T) {
	got := CostUSD("haiku", Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000})
	if math.Abs(got-4.80) > 1e-9 {
		t.Errorf("haiku 1M/1M = %v, want 4.80", got)
	}
	if got := CostUSD("mystery-model", Usage{InputTokens: 1000}); got != 0 {
		t.Errorf("unknown model cost = %v, want 0", got)
	}
}

// TestResolveModel verifies alias resolution and env overrides.
func TestResolveModel(t *testing.T) {
	if got := ResolveModel("haiku"); got != "claude-3-5-haiku-latest" {
		t.Errorf("haiku = %q", got)
	}
	t.Setenv("FLUME_MODEL_SONNET", "my-gateway-model")
	if got := ResolveModel("sonnet"); got != "my-gateway-model" {
		t.Errorf("sonnet override = %q", got)
	}
	if got := ResolveModel("custom-id"); got != "custom-id" {
		t.Errorf("passthrough = %q", got)
	}
}
