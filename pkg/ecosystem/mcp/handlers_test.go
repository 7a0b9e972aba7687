package mcp

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func writePipeline(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func callReq(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func contentText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, not text", result.Content[0])
	}
	return tc.Text
}

func TestHandleValidateMissingPath(t *testing.T) {
	result, err := HandleValidate(context.Background(), callReq(map[string]any{}))
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Error("expected error for missing path")
	}
}

func TestHandleValidateValidPipeline(t *testing.T) {
	path := writePipeline(t, `
input: {}
steps:
  - name: doubled
    kind: transform
    arguments: "input.n * 2"
`)
	result, err := HandleValidate(context.Background(), callReq(map[string]any{"path": path}))
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Fatalf("expected success: %s", contentText(t, result))
	}
	if !strings.Contains(contentText(t, result), "1 steps") {
		t.Errorf("unexpected message: %s", contentText(t, result))
	}
}

func TestHandleValidateBrokenReference(t *testing.T) {
	path := writePipeline(t, `
input: {}
steps:
  - name: doubled
    kind: transform
    arguments: "missing * 2"
`)
	result, err := HandleValidate(context.Background(), callReq(map[string]any{"path": path}))
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Error("expected validation failure")
	}
	if !strings.Contains(contentText(t, result), "missing") {
		t.Errorf("diagnostic should name the unknown reference: %s", contentText(t, result))
	}
}

func TestHandleSchema(t *testing.T) {
	result, err := HandleSchema(context.Background(), callReq(map[string]any{}))
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Error("expected success")
	}
	if !strings.Contains(contentText(t, result), "find_files") {
		t.Error("schema should enumerate step kinds")
	}
}

func TestHandleDescribe(t *testing.T) {
	path := writePipeline(t, `
name: demo
input: {}
steps:
  - name: doubled
    kind: transform
    arguments: "input.n * 2"
`)
	result, err := HandleDescribe(context.Background(), callReq(map[string]any{"path": path}))
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Fatalf("expected success: %s", contentText(t, result))
	}
	if !strings.Contains(contentText(t, result), "flowchart TD") {
		t.Errorf("expected mermaid output: %s", contentText(t, result))
	}

	result, err = HandleDescribe(context.Background(), callReq(map[string]any{"path": path, "format": "ascii"}))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(contentText(t, result), "doubled") {
		t.Errorf("expected ascii output: %s", contentText(t, result))
	}
}

// TestHandleRunWithoutLLMSteps verifies a pipeline with no prompt or evaluate
// step runs without any API credentials configured.
func TestHandleRunWithoutLLMSteps(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("FLUME_API_KEY", "")
	path := writePipeline(t, `
input: {}
steps:
  - name: doubled
    kind: transform
    arguments: "input.n * 2"
`)
	result, err := HandleRun(context.Background(), callReq(map[string]any{
		"path":  path,
		"input": map[string]any{"n": 21},
	}))
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Fatalf("expected success: %s", contentText(t, result))
	}
	if !strings.Contains(contentText(t, result), "42") {
		t.Errorf("expected output 42: %s", contentText(t, result))
	}
}

func TestHandleRunMissingPath(t *testing.T) {
	result, err := HandleRun(context.Background(), callReq(map[string]any{}))
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Error("expected error for missing path")
	}
}
