package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/ormasoftchile/flume/pkg/diagram"
	"github.com/ormasoftchile/flume/pkg/llm"
	"github.com/ormasoftchile/flume/pkg/runtime"
	"github.com/ormasoftchile/flume/pkg/schema"
)

// HandleValidate implements the flume/validate MCP tool.
func HandleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	path, _ := args["path"].(string)
	if path == "" {
		return errorResult("path argument is required"), nil
	}

	p, result, err := schema.ValidateFile(path)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	if !result.OK() {
		return errorResult(formatDiagnostics(result.Errors())), nil
	}

	msg := fmt.Sprintf("✓ pipeline is valid (%d steps)", len(p.Steps))
	if warnings := result.Warnings(); len(warnings) > 0 {
		msg += "\nwarnings:\n" + formatDiagnostics(warnings)
	}
	return textResult(msg), nil
}

// HandleSchema implements the flume/schema MCP tool.
func HandleSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := schema.GenerateJSONSchema()
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(string(data)), nil
}

// HandleDescribe implements the flume/describe MCP tool.
func HandleDescribe(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	path, _ := args["path"].(string)
	if path == "" {
		return errorResult("path argument is required"), nil
	}
	format := diagram.FormatMermaid
	if f, _ := args["format"].(string); f != "" {
		format = diagram.Format(f)
	}

	p, err := schema.LoadFile(path)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	out, err := diagram.Generate(p, format)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(out), nil
}

// HandleRun implements the flume/run MCP tool.
func HandleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	path, _ := args["path"].(string)
	if path == "" {
		return errorResult("path argument is required"), nil
	}

	p, result, err := schema.ValidateFile(path)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	if !result.OK() {
		return errorResult(formatDiagnostics(result.Errors())), nil
	}

	input, _ := args["input"].(map[string]any)

	var client llm.Client
	if replayPath, _ := args["replay"].(string); replayPath != "" {
		client, err = llm.NewReplayClient(replayPath)
	} else if p.UsesLLM() {
		client, err = llm.NewHTTPClient("", "")
	}
	if err != nil {
		return errorResult(err.Error()), nil
	}

	eng, err := runtime.NewEngine(p, runtime.Options{
		Input:   input,
		Client:  client,
		BaseDir: filepath.Dir(path),
	})
	if err != nil {
		return errorResult(err.Error()), nil
	}

	runResult, runErr := eng.Run(ctx)

	response := map[string]any{}
	if runErr != nil {
		response["error"] = runErr.Error()
		response["completed_steps"] = stepSummaries(eng.Results())
	} else {
		response["output"] = runResult.Output
		response["total_cost_usd"] = runResult.TotalCostUSD
		response["total_duration_ms"] = runResult.TotalDurationMS
		response["steps"] = stepSummaries(runResult.StepResults)
	}

	data, _ := json.MarshalIndent(response, "", "  ")
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
		IsError: runErr != nil,
	}, nil
}

// stepSummaries flattens step results for the tool response, dropping the
// often-bulky outputs.
func stepSummaries(results []runtime.StepResult) []map[string]any {
	out := make([]map[string]any, 0, len(results))
	for _, r := range results {
		out = append(out, map[string]any{
			"name":        r.Name,
			"kind":        r.Kind,
			"duration_ms": r.DurationMS,
			"cost_usd":    r.CostUSD,
		})
	}
	return out
}

func formatDiagnostics(diags []schema.Diagnostic) string {
	var msgs []string
	for _, d := range diags {
		msgs = append(msgs, d.String())
	}
	return strings.Join(msgs, "\n")
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(msg),
		},
		IsError: true,
	}
}
