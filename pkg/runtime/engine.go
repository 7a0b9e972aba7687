package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/ormasoftchile/flume/pkg/llm"
	"github.com/ormasoftchile/flume/pkg/schema"
)

// Options configures one engine. Client may be nil for pipelines without
// prompt or evaluate steps; Sink defaults to NopSink; BaseDir anchors
// relative file paths (the CLI passes the pipeline file's directory).
type Options struct {
	Input   map[string]any
	Client  llm.Client
	Sink    EventSink
	BaseDir string
}

// Engine runs one pipeline against one input. Steps execute strictly in
// declared order; the first failure aborts the run. An engine is not safe
// for concurrent use.
type Engine struct {
	pipeline *schema.Pipeline
	scope    *Context
	client   *meteredClient
	sink     EventSink
	baseDir  string

	next      int // index of the next top-level step
	results   []StepResult
	startedAt time.Time
}

// NewEngine validates input against the pipeline's input schema and seeds
// the execution context. A non-conforming input fails here, before any step
// runs.
func NewEngine(p *schema.Pipeline, opts Options) (*Engine, error) {
	if err := validateInput(opts.Input, p.InputSchema); err != nil {
		return nil, err
	}
	sink := opts.Sink
	if sink == nil {
		sink = NopSink{}
	}
	e := &Engine{
		pipeline:  p,
		scope:     NewContext(opts.Input),
		sink:      sink,
		baseDir:   opts.BaseDir,
		startedAt: time.Now(),
	}
	if opts.Client != nil {
		e.client = &meteredClient{inner: opts.Client, engine: e}
	}
	return e, nil
}

// validateInput checks the run input against the pipeline's JSON Schema.
// The input round-trips through JSON so typed values compare the way the
// schema library expects.
func validateInput(input, schemaDoc map[string]any) error {
	if input == nil {
		input = map[string]any{}
	}
	if len(schemaDoc) == 0 {
		return nil // empty schema admits everything
	}

	raw, err := json.Marshal(schemaDoc)
	if err != nil {
		return fmt.Errorf("marshal input schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("unmarshal input schema: %w", err)
	}
	c := sjsonschema.NewCompiler()
	if err := c.AddResource("input.json", doc); err != nil {
		return fmt.Errorf("add input schema resource: %w", err)
	}
	sch, err := c.Compile("input.json")
	if err != nil {
		return fmt.Errorf("compile input schema: %w", err)
	}

	raw, err = json.Marshal(input)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return fmt.Errorf("unmarshal input: %w", err)
	}
	if err := sch.Validate(value); err != nil {
		return fmt.Errorf("input does not conform to the pipeline's input schema: %w", err)
	}
	return nil
}

// Done reports whether every top-level step has completed.
func (e *Engine) Done() bool { return e.next >= len(e.pipeline.Steps) }

// StepIndex returns the index of the next step to run.
func (e *Engine) StepIndex() int { return e.next }

// StepCount returns the number of top-level steps.
func (e *Engine) StepCount() int { return len(e.pipeline.Steps) }

// Scope exposes the top-level context for inspection (the debugger's print
// and eval commands).
func (e *Engine) Scope() *Context { return e.scope }

// StepOnce executes the next top-level step, binds its result, and returns
// it. The debugger drives runs one call at a time through here; Run loops
// over it.
func (e *Engine) StepOnce(ctx context.Context) (*StepResult, error) {
	if e.Done() {
		return nil, fmt.Errorf("pipeline has no more steps")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	step := e.pipeline.Steps[e.next]

	e.emit(Event{Type: EventStepStart, Step: step.StepName(), Kind: step.StepKind()})
	costBefore := e.costSoFar()
	start := now()
	out, err := e.executeStep(ctx, step, e.scope)
	elapsed := sinceMS(start)
	if err != nil {
		e.emit(Event{Type: EventError, Step: step.StepName(), Message: err.Error()})
		if _, ok := err.(*StepError); ok {
			return nil, err
		}
		return nil, &StepError{Step: step.StepName(), Err: err}
	}

	if err := e.scope.SetResult(step.StepName(), out); err != nil {
		return nil, &StepError{Step: step.StepName(), Err: err}
	}
	result := StepResult{
		Name:       step.StepName(),
		Kind:       step.StepKind(),
		Output:     out,
		DurationMS: elapsed,
		CostUSD:    round6(e.costSoFar() - costBefore),
	}
	e.results = append(e.results, result)
	e.next++
	e.emit(Event{Type: EventStepComplete, Step: step.StepName(), Kind: step.StepKind(),
		DurationMS: result.DurationMS, CostUSD: result.CostUSD})
	return &result, nil
}

// Run executes the remaining steps in order and assembles the run result.
// Cancellation is honored between steps; a blocked LLM call is interrupted
// through its request context.
func (e *Engine) Run(ctx context.Context) (*RunResult, error) {
	e.emit(Event{Type: EventRunStart, Pipeline: e.pipeline.Name})
	for !e.Done() {
		if _, err := e.StepOnce(ctx); err != nil {
			return nil, err
		}
	}
	result := &RunResult{
		StepResults:     e.results,
		TotalDurationMS: sinceMS(e.startedAt),
		TotalCostUSD:    round6(e.costSoFar()),
	}
	if n := len(e.results); n > 0 {
		result.Output = e.results[n-1].Output
	}
	e.emit(Event{Type: EventRunComplete, Pipeline: e.pipeline.Name,
		DurationMS: result.TotalDurationMS, CostUSD: result.TotalCostUSD})
	return result, nil
}

// Results returns the step results completed so far. Callers that want
// partial state after a failure read it here.
func (e *Engine) Results() []StepResult {
	out := make([]StepResult, len(e.results))
	copy(out, e.results)
	return out
}

func (e *Engine) emit(ev Event) {
	ev.Timestamp = time.Now()
	e.sink.Emit(ev)
}

func (e *Engine) costSoFar() float64 {
	if e.client == nil {
		return 0
	}
	return e.client.total
}

// llmRequest assembles the completion request for a prompt step.
func llmRequest(model, system, prompt, name string, outputSchema map[string]any) llm.Request {
	req := llm.Request{Model: model, System: system, Prompt: prompt}
	if outputSchema != nil {
		if raw, err := json.Marshal(outputSchema); err == nil {
			req.SchemaName = name
			req.Schema = raw
		}
	}
	return req
}

// meteredClient wraps the run's LLM client to accumulate cost and emit one
// llm_call event per completion. Runs are single-threaded, so the running
// total needs no lock.
type meteredClient struct {
	inner  llm.Client
	engine *Engine
	total  float64
}

func (m *meteredClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	start := now()
	resp, err := m.inner.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	m.total += resp.CostUSD
	m.engine.emit(Event{Type: EventLLMCall, Model: req.Model, Usage: &resp.Usage,
		DurationMS: sinceMS(start), CostUSD: resp.CostUSD})
	return resp, nil
}

func now() time.Time { return time.Now() }

func sinceMS(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000.0
}

func round6(x float64) float64 {
	return math.Round(x*1e6) / 1e6
}
