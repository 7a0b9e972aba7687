// Package mcp exposes pipeline operations as MCP tools.
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewServer creates an MCP server with flume tools registered.
func NewServer(version string) *server.MCPServer {
	s := server.NewMCPServer(
		"flume",
		version,
		server.WithToolCapabilities(true),
	)

	s.AddTool(
		mcp.NewTool("flume/validate",
			mcp.WithDescription("Validate a flume pipeline YAML file without running it"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the pipeline YAML file")),
		),
		HandleValidate,
	)

	s.AddTool(
		mcp.NewTool("flume/run",
			mcp.WithDescription("Validate and execute a flume pipeline"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the pipeline YAML file")),
			mcp.WithObject("input", mcp.Description("Run input, validated against the pipeline's input schema")),
			mcp.WithString("replay", mcp.Description("Path to a recorded LLM call log to replay instead of calling the API")),
		),
		HandleRun,
	)

	s.AddTool(
		mcp.NewTool("flume/describe",
			mcp.WithDescription("Render a pipeline's step structure as a diagram"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the pipeline YAML file")),
			mcp.WithString("format", mcp.Description("Diagram format: 'mermaid' (default) or 'ascii'")),
		),
		HandleDescribe,
	)

	s.AddTool(
		mcp.NewTool("flume/schema",
			mcp.WithDescription("Export the JSON Schema for pipeline YAML files"),
		),
		HandleSchema,
	)

	return s
}
