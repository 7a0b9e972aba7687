package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/ormasoftchile/flume/pkg/expression"
	"github.com/ormasoftchile/flume/pkg/judge"
	"github.com/ormasoftchile/flume/pkg/render"
	"github.com/ormasoftchile/flume/pkg/schema"
)

// executeStep dispatches one step against scope and returns its output.
// The switch is exhaustive over the step union; the default is unreachable
// for loaded pipelines and loud for any kind added later.
func (e *Engine) executeStep(ctx context.Context, step schema.Step, scope *Context) (any, error) {
	switch s := step.(type) {
	case *schema.FindFilesStep:
		return e.executeFindFiles(s, scope)
	case *schema.ReadFileStep:
		return e.executeReadFile(s, scope)
	case *schema.TransformStep:
		return expression.Evaluate(s.Arguments, scope.Env())
	case *schema.ChunkStep:
		return e.executeChunk(s, scope)
	case *schema.PromptStep:
		return e.executePrompt(ctx, s, scope)
	case *schema.EvaluateStep:
		return e.executeEvaluate(ctx, s, scope)
	case *schema.ForEachStep:
		return e.executeForEach(ctx, s, scope)
	}
	return nil, fmt.Errorf("unhandled step kind %q", step.StepKind())
}

// executeFindFiles lists the files matching the step's glob pattern inside
// the resolved directory. Directories among the matches are excluded and the
// result is sorted by name so runs are deterministic.
func (e *Engine) executeFindFiles(s *schema.FindFilesStep, scope *Context) (any, error) {
	resolved, err := expression.Evaluate(s.Arguments, scope.Env())
	if err != nil {
		return nil, err
	}
	dir, err := pathString(resolved)
	if err != nil {
		return nil, fmt.Errorf("resolve directory: %w", err)
	}
	dir = e.resolvePath(dir)

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("directory not found: %s", dir)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", dir)
	}

	matches, err := filepath.Glob(filepath.Join(dir, s.Pattern))
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", s.Pattern, err)
	}

	files := make([]any, 0, len(matches))
	for _, m := range matches {
		fi, err := os.Stat(m)
		if err != nil || fi.IsDir() {
			continue
		}
		files = append(files, map[string]any{
			"name": filepath.Base(m),
			"path": m,
		})
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].(map[string]any)["name"].(string) < files[j].(map[string]any)["name"].(string)
	})
	return files, nil
}

// executeReadFile reads the resolved path as UTF-8 text. A record output
// from an earlier step (a find_files entry, say) is accepted directly via
// its path field.
func (e *Engine) executeReadFile(s *schema.ReadFileStep, scope *Context) (any, error) {
	resolved, err := expression.Evaluate(s.Arguments, scope.Env())
	if err != nil {
		return nil, err
	}
	path, err := pathString(resolved)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}
	path = e.resolvePath(path)

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return nil, fmt.Errorf("file not found: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

// pathString extracts a filesystem path from a resolved argument: either a
// string, or a record carrying a path field.
func pathString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case map[string]any:
		if p, ok := t["path"].(string); ok {
			return p, nil
		}
		return "", fmt.Errorf("record has no 'path' field")
	}
	return "", fmt.Errorf("expected a path string or a record with a 'path' field, got %T", v)
}

// resolvePath anchors relative paths at the engine's base directory, which
// is the pipeline file's directory when run through the CLI.
func (e *Engine) resolvePath(p string) string {
	if e.baseDir == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(e.baseDir, p)
}

// executeChunk splits the resolved text into sliding windows. The output is
// wrapped under a "chunks" key so downstream expressions read name.chunks.
func (e *Engine) executeChunk(s *schema.ChunkStep, scope *Context) (any, error) {
	resolved, err := expression.Evaluate(s.Arguments, scope.Env())
	if err != nil {
		return nil, err
	}
	text, ok := resolved.(string)
	if !ok {
		return nil, fmt.Errorf("chunk input must be text, got %T", resolved)
	}
	return map[string]any{"chunks": SplitText(text, s.ChunkSize, s.Overlap)}, nil
}

// SplitText splits text into windows of at most chunkSize runes where
// consecutive windows share overlap runes. Overlap at or above the window
// size clamps to chunkSize-1 so the stride stays positive and the split
// always terminates. Empty text yields no chunks; the final chunk may be
// short; no chunk is ever empty.
func SplitText(text string, chunkSize, overlap int) []any {
	runes := []rune(text)
	if len(runes) == 0 {
		return []any{}
	}
	if overlap >= chunkSize {
		overlap = chunkSize - 1
	}
	stride := chunkSize - overlap

	chunks := []any{}
	for pos, index := 0, 0; pos < len(runes); pos, index = pos+stride, index+1 {
		end := pos + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, map[string]any{
			"text":  string(runes[pos:end]),
			"index": index,
		})
	}
	return chunks
}

// executePrompt renders the step template and makes one completion call.
// With an output schema the reply must parse as JSON and conform; without
// one the raw text is the output.
func (e *Engine) executePrompt(ctx context.Context, s *schema.PromptStep, scope *Context) (any, error) {
	args := map[string]any{}
	if s.Arguments != "" {
		resolved, err := expression.Evaluate(s.Arguments, scope.Env())
		if err != nil {
			return nil, err
		}
		if m, ok := resolved.(map[string]any); ok {
			args = m
		} else {
			args = map[string]any{"value": resolved}
		}
	}

	tmpl, err := render.Parse(s.Template)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	prompt, err := tmpl.Render(args)
	if err != nil {
		return nil, err
	}

	if e.client == nil {
		return nil, fmt.Errorf("no LLM client configured")
	}
	req := llmRequest(s.Model, s.SystemPrompt, prompt, s.Name, s.OutputSchema)
	resp, err := e.client.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	if s.OutputSchema == nil {
		return resp.Text, nil
	}
	value, err := parseJSONReply(resp.Text)
	if err != nil {
		return nil, fmt.Errorf("reply does not conform to output_schema: %w", err)
	}
	if err := validateAgainstSchema(value, s.OutputSchema, s.Name+"-output"); err != nil {
		return nil, err
	}
	return value, nil
}

// parseJSONReply decodes a model reply as JSON, falling back to the first
// fenced ```json block when the model wrapped its answer in prose.
func parseJSONReply(text string) (any, error) {
	text = strings.TrimSpace(text)
	var value any
	if err := json.Unmarshal([]byte(text), &value); err == nil {
		return value, nil
	}
	if idx := strings.Index(text, "```json"); idx >= 0 {
		rest := text[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			if err := json.Unmarshal([]byte(strings.TrimSpace(rest[:end])), &value); err == nil {
				return value, nil
			}
		}
	}
	return nil, fmt.Errorf("reply is not valid JSON")
}

// validateAgainstSchema checks value against a JSON Schema given as a map.
func validateAgainstSchema(value any, schemaDoc map[string]any, name string) error {
	// round-trip the schema through JSON so YAML-decoded maps compile cleanly
	raw, err := json.Marshal(schemaDoc)
	if err != nil {
		return fmt.Errorf("marshal output_schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("unmarshal output_schema: %w", err)
	}

	c := sjsonschema.NewCompiler()
	resource := name + ".json"
	if err := c.AddResource(resource, doc); err != nil {
		return fmt.Errorf("add output_schema resource: %w", err)
	}
	sch, err := c.Compile(resource)
	if err != nil {
		return fmt.Errorf("compile output_schema: %w", err)
	}
	if err := sch.Validate(value); err != nil {
		return fmt.Errorf("output failed schema validation: %w", err)
	}
	return nil
}

// executeEvaluate resolves the strategy arguments and runs the judge.
func (e *Engine) executeEvaluate(ctx context.Context, s *schema.EvaluateStep, scope *Context) (any, error) {
	resolved, err := expression.Evaluate(s.Arguments, scope.Env())
	if err != nil {
		return nil, err
	}
	args, ok := resolved.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("evaluate arguments must resolve to a record, got %T", resolved)
	}
	if e.client == nil {
		return nil, fmt.Errorf("no LLM client configured")
	}
	return judge.Run(ctx, e.client, s.Strategy, s.Model, args)
}

// executeForEach iterates the resolved list, running the nested steps in an
// isolated child scope per element. The iteration's value is the last nested
// step's output; nested names never escape into the parent scope.
func (e *Engine) executeForEach(ctx context.Context, s *schema.ForEachStep, scope *Context) (any, error) {
	resolved, err := expression.Evaluate(s.Arguments, scope.Env())
	if err != nil {
		return nil, err
	}
	items, err := asList(resolved)
	if err != nil {
		return nil, fmt.Errorf("for_each target: %w", err)
	}

	results := make([]any, 0, len(items))
	for i, item := range items {
		child := scope.Child(map[string]any{"item": item, "item_index": i})
		var last any
		for _, nested := range s.Steps {
			out, err := e.runNested(ctx, nested, child)
			if err != nil {
				return nil, err
			}
			if err := child.SetResult(nested.StepName(), out); err != nil {
				return nil, err
			}
			last = out
		}
		results = append(results, last)
	}
	return results, nil
}

// runNested executes one nested step with start/complete events but without
// binding into the parent scope.
func (e *Engine) runNested(ctx context.Context, step schema.Step, scope *Context) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.emit(Event{Type: EventStepStart, Step: step.StepName(), Kind: step.StepKind()})
	start := now()
	out, err := e.executeStep(ctx, step, scope)
	elapsed := sinceMS(start)
	if err != nil {
		e.emit(Event{Type: EventError, Step: step.StepName(), Message: err.Error()})
		if _, ok := err.(*StepError); ok {
			return nil, err
		}
		return nil, &StepError{Step: step.StepName(), Err: err}
	}
	e.emit(Event{Type: EventStepComplete, Step: step.StepName(), Kind: step.StepKind(), DurationMS: elapsed})
	return out, nil
}

// asList normalizes the iteration target. Only lists iterate; a string here
// is almost always a mistake (the validator warns about the common case) and
// fails loudly instead of degenerating to per-character iteration.
func asList(v any) ([]any, error) {
	switch t := v.(type) {
	case []any:
		return t, nil
	case []string:
		items := make([]any, len(t))
		for i, s := range t {
			items[i] = s
		}
		return items, nil
	case []map[string]any:
		items := make([]any, len(t))
		for i, m := range t {
			items[i] = m
		}
		return items, nil
	}
	return nil, fmt.Errorf("expected a list, got %T", v)
}
