package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ormasoftchile/flume/pkg/debugger"
	"github.com/ormasoftchile/flume/pkg/diagram"
	"github.com/ormasoftchile/flume/pkg/llm"
	"github.com/ormasoftchile/flume/pkg/runtime"
	"github.com/ormasoftchile/flume/pkg/schema"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Version is set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	loadDotEnv() // load .env file if present (gitignored)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadDotEnv reads a .env file from the working directory and sets
// any variables that aren't already set in the environment.
// Lines are KEY=VALUE (or KEY="VALUE"). Comments (#) and blanks are skipped.
// The .env file is gitignored so API keys never end up in source control.
func loadDotEnv() {
	f, err := os.Open(".env")
	if err != nil {
		return // no .env file — that's fine
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		val = strings.Trim(val, `"'`)
		// Don't overwrite existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

var rootCmd = &cobra.Command{
	Use:   "flume",
	Short: "Declarative LLM data pipelines",
	Long:  "flume — run declarative YAML pipelines that read files, chunk and transform data, prompt LLMs, and score the results.",
}

// --- validate ---

var validateCmd = &cobra.Command{
	Use:   "validate [pipeline.yaml]",
	Short: "Validate a pipeline YAML file without running it",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	p, result, err := schema.ValidateFile(args[0])
	if err != nil {
		return err
	}
	printWarnings(result)
	if errs := result.Errors(); len(errs) > 0 {
		fmt.Fprintf(os.Stderr, "Validation failed: %d error(s)\n\n", len(errs))
		for i, d := range errs {
			fmt.Fprintf(os.Stderr, "  %d. %s\n", i+1, d.String())
		}
		return fmt.Errorf("validation failed with %d error(s)", len(errs))
	}
	name := p.Name
	if name == "" {
		name = args[0]
	}
	fmt.Printf("✓ %s is valid (%d steps)\n", name, len(p.Steps))
	return nil
}

// --- run ---

var (
	runInputFile  string
	runInputJSON  string
	runOutput     string
	runLogDir     string
	runRecord     string
	runReplay     string
	runResumeFrom string
	runSnapshotTo string
	runTimeout    string
)

var runCmd = &cobra.Command{
	Use:   "run [pipeline.yaml]",
	Short: "Validate and execute a pipeline",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	filePath := args[0]

	p, result, err := schema.ValidateFile(filePath)
	if err != nil {
		return err
	}
	printWarnings(result)
	if errs := result.Errors(); len(errs) > 0 {
		for _, d := range errs {
			fmt.Fprintf(os.Stderr, "  %s\n", d.String())
		}
		return fmt.Errorf("pipeline validation failed")
	}

	input, err := loadInput(runInputFile, runInputJSON)
	if err != nil {
		return err
	}

	client, closeClient, err := buildClient(p, runReplay, runRecord)
	if err != nil {
		return err
	}
	defer closeClient()

	var sinks runtime.MultiSink
	if runLogDir != "" {
		if err := os.MkdirAll(runLogDir, 0755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		logPath := filepath.Join(runLogDir, fmt.Sprintf("run-%s.jsonl", time.Now().Format("20060102-150405")))
		fs, err := runtime.NewFileSink(logPath)
		if err != nil {
			return err
		}
		defer fs.Close()
		sinks = append(sinks, fs)
		fmt.Printf("Event log: %s\n", logPath)
	}

	opts := runtime.Options{
		Input:   input,
		Client:  client,
		Sink:    sinks,
		BaseDir: filepath.Dir(filePath),
	}

	var eng *runtime.Engine
	if runResumeFrom != "" {
		snap, err := runtime.LoadSnapshot(runResumeFrom)
		if err != nil {
			return fmt.Errorf("load snapshot: %w", err)
		}
		eng, err = runtime.ResumeEngine(p, snap, opts)
		if err != nil {
			return fmt.Errorf("resume: %w", err)
		}
		fmt.Printf("Resuming at step %d/%d\n", eng.StepIndex()+1, eng.StepCount())
	} else {
		eng, err = runtime.NewEngine(p, opts)
		if err != nil {
			return err
		}
	}

	ctx := context.Background()
	if runTimeout != "" {
		d, err := time.ParseDuration(runTimeout)
		if err != nil {
			return fmt.Errorf("invalid --timeout %q: %w", runTimeout, err)
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	runResult, runErr := eng.Run(ctx)
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "✗ %v\n", runErr)
		if runSnapshotTo != "" {
			if err := runtime.SaveSnapshot(eng.Snapshot(), runSnapshotTo); err != nil {
				fmt.Fprintf(os.Stderr, "warning: save snapshot: %v\n", err)
			} else {
				fmt.Fprintf(os.Stderr, "Snapshot saved: %s — resume with --resume %s\n", runSnapshotTo, runSnapshotTo)
			}
		}
		os.Exit(1)
	}

	if err := writeOutput(runResult.Output, runOutput); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "✓ %d steps in %.0fms, total $%.4f\n",
		len(runResult.StepResults), runResult.TotalDurationMS, runResult.TotalCostUSD)
	return nil
}

// loadInput assembles the run input from a YAML/JSON file and/or an inline
// JSON object. Inline values override file values key by key.
func loadInput(file, inline string) (map[string]any, error) {
	input := map[string]any{}
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read input file: %w", err)
		}
		// YAML is a superset of JSON, so one decoder covers both
		if err := yaml.Unmarshal(data, &input); err != nil {
			return nil, fmt.Errorf("parse input file %s: %w", file, err)
		}
	}
	if inline != "" {
		var overlay map[string]any
		if err := json.Unmarshal([]byte(inline), &overlay); err != nil {
			return nil, fmt.Errorf("parse --input-json: %w", err)
		}
		for k, v := range overlay {
			input[k] = v
		}
	}
	return input, nil
}

// buildClient picks replay, recording, or live LLM access. Pipelines with no
// prompt or evaluate steps get a nil client, so they run without an API key.
// The returned closer flushes the recording log when one is active.
func buildClient(p *schema.Pipeline, replayPath, recordPath string) (llm.Client, func(), error) {
	if replayPath != "" {
		c, err := llm.NewReplayClient(replayPath)
		if err != nil {
			return nil, nil, fmt.Errorf("load replay log: %w", err)
		}
		return c, func() {}, nil
	}
	if !p.UsesLLM() {
		return nil, func() {}, nil
	}
	live, err := llm.NewHTTPClient("", "")
	if err != nil {
		return nil, nil, err
	}
	if recordPath != "" {
		rec, err := llm.NewRecordingClient(live, recordPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open recording log: %w", err)
		}
		return rec, func() { rec.Close() }, nil
	}
	return live, func() {}, nil
}

// writeOutput prints the final output, or writes it to a file as JSON.
func writeOutput(output any, path string) error {
	if path == "" {
		if s, ok := output.(string); ok {
			fmt.Println(s)
			return nil
		}
		data, err := json.MarshalIndent(output, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}
	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Output written: %s\n", path)
	return nil
}

// --- debug ---

var (
	debugInputFile string
	debugInputJSON string
	debugReplay    string
)

var debugCmd = &cobra.Command{
	Use:   "debug [pipeline.yaml]",
	Short: "Step through a pipeline in an interactive REPL",
	Args:  cobra.ExactArgs(1),
	RunE:  runDebug,
}

func runDebug(cmd *cobra.Command, args []string) error {
	filePath := args[0]

	p, result, err := schema.ValidateFile(filePath)
	if err != nil {
		return err
	}
	printWarnings(result)
	if errs := result.Errors(); len(errs) > 0 {
		for _, d := range errs {
			fmt.Fprintf(os.Stderr, "  %s\n", d.String())
		}
		return fmt.Errorf("pipeline validation failed")
	}

	input, err := loadInput(debugInputFile, debugInputJSON)
	if err != nil {
		return err
	}

	client, closeClient, err := buildClient(p, debugReplay, "")
	if err != nil {
		return err
	}
	defer closeClient()

	d, err := debugger.New(p, runtime.Options{
		Input:   input,
		Client:  client,
		BaseDir: filepath.Dir(filePath),
	})
	if err != nil {
		return fmt.Errorf("create debugger: %w", err)
	}
	return d.Run(context.Background())
}

// --- schema export ---

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Schema operations",
}

var schemaExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the pipeline JSON Schema to stdout",
	RunE:  runSchemaExport,
}

func runSchemaExport(cmd *cobra.Command, args []string) error {
	data, err := schema.GenerateJSONSchema()
	if err != nil {
		return fmt.Errorf("generate schema: %w", err)
	}
	var out json.RawMessage = data
	formatted, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fmt.Println(string(data))
		return nil
	}
	fmt.Println(string(formatted))
	return nil
}

// --- diagram ---

var diagramFormat string

var diagramCmd = &cobra.Command{
	Use:   "diagram [pipeline.yaml]",
	Short: "Render a pipeline's step structure as a diagram",
	Args:  cobra.ExactArgs(1),
	RunE:  runDiagram,
}

func runDiagram(cmd *cobra.Command, args []string) error {
	p, err := schema.LoadFile(args[0])
	if err != nil {
		return err
	}
	out, err := diagram.Generate(p, diagram.Format(diagramFormat))
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

// --- version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("flume %s (build: %s)\n", version, commit)
	},
}

func printWarnings(result *schema.Result) {
	for _, d := range result.Warnings() {
		fmt.Fprintf(os.Stderr, "  ⚠ %s\n", d.String())
	}
}

func init() {
	runCmd.Flags().StringVarP(&runInputFile, "input", "i", "", "Path to a YAML or JSON file with the run input")
	runCmd.Flags().StringVar(&runInputJSON, "input-json", "", "Inline JSON object merged over --input values")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "Write the final output to this file as JSON")
	runCmd.Flags().StringVar(&runLogDir, "log-dir", "", "Directory for JSONL event logs")
	runCmd.Flags().StringVar(&runRecord, "record", "", "Record LLM calls to this file for later replay")
	runCmd.Flags().StringVar(&runReplay, "replay", "", "Replay LLM calls from a recorded file instead of calling the API")
	runCmd.Flags().StringVar(&runResumeFrom, "resume", "", "Resume from a snapshot file")
	runCmd.Flags().StringVar(&runSnapshotTo, "snapshot-to", "", "On failure, save a resumable snapshot here")
	runCmd.Flags().StringVar(&runTimeout, "timeout", "", "Abort the run after this duration (e.g. 5m)")

	debugCmd.Flags().StringVarP(&debugInputFile, "input", "i", "", "Path to a YAML or JSON file with the run input")
	debugCmd.Flags().StringVar(&debugInputJSON, "input-json", "", "Inline JSON object merged over --input values")
	debugCmd.Flags().StringVar(&debugReplay, "replay", "", "Replay LLM calls from a recorded file")

	diagramCmd.Flags().StringVar(&diagramFormat, "format", "mermaid", "Diagram format: mermaid or ascii")

	schemaCmd.AddCommand(schemaExportCmd)

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(debugCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(diagramCmd)
	rootCmd.AddCommand(versionCmd)
}
