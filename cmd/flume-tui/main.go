// Package main provides the flume-tui binary — Bubble Tea terminal UI for
// watching a pipeline run live.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/ormasoftchile/flume/pkg/llm"
	"github.com/ormasoftchile/flume/pkg/runtime"
	"github.com/ormasoftchile/flume/pkg/schema"
	"github.com/ormasoftchile/flume/pkg/tui"
	"gopkg.in/yaml.v3"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: flume-tui <pipeline.yaml> [--input file] [--input-json object] [--replay file]")
		os.Exit(1)
	}

	filePath := os.Args[1]
	inputFile := ""
	inputJSON := ""
	replayPath := ""

	for i := 2; i < len(os.Args); i++ {
		arg := os.Args[i]
		switch {
		case arg == "--input" && i+1 < len(os.Args):
			i++
			inputFile = os.Args[i]
		case arg == "--input-json" && i+1 < len(os.Args):
			i++
			inputJSON = os.Args[i]
		case arg == "--replay" && i+1 < len(os.Args):
			i++
			replayPath = os.Args[i]
		}
	}

	p, result, err := schema.ValidateFile(filePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if errs := result.Errors(); len(errs) > 0 {
		for _, d := range errs {
			fmt.Fprintf(os.Stderr, "  %s\n", d.String())
		}
		fmt.Fprintln(os.Stderr, "Validation failed")
		os.Exit(1)
	}

	input := map[string]any{}
	if inputFile != "" {
		data, err := os.ReadFile(inputFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := yaml.Unmarshal(data, &input); err != nil {
			fmt.Fprintf(os.Stderr, "Error: parse input: %v\n", err)
			os.Exit(1)
		}
	}
	if inputJSON != "" {
		var overlay map[string]any
		if err := json.Unmarshal([]byte(inputJSON), &overlay); err != nil {
			fmt.Fprintf(os.Stderr, "Error: parse --input-json: %v\n", err)
			os.Exit(1)
		}
		for k, v := range overlay {
			input[k] = v
		}
	}

	var client llm.Client
	if replayPath != "" {
		client, err = llm.NewReplayClient(replayPath)
	} else if p.UsesLLM() {
		client, err = llm.NewHTTPClient("", "")
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	model := tui.NewModel(p, runtime.Options{
		Input:   input,
		Client:  client,
		BaseDir: filepath.Dir(filePath),
	})

	prog := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := prog.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
