// Package runtime executes pipelines: a scoped execution context, one
// executor per step kind, and a sequential fail-fast engine whose scoping
// mirrors the availability model the static validator proves.
package runtime

import (
	"fmt"

	"github.com/ormasoftchile/flume/pkg/schema"
)

// StepResult records one completed top-level step.
type StepResult struct {
	Name       string      `json:"step_name"`
	Kind       schema.Kind `json:"kind"`
	Output     any         `json:"output"`
	DurationMS float64     `json:"duration_ms"`
	CostUSD    float64     `json:"cost_usd,omitempty"`
}

// RunResult is the outcome of a completed run. Output is the last top-level
// step's output (nil for an empty pipeline).
type RunResult struct {
	Output          any          `json:"output"`
	StepResults     []StepResult `json:"step_results"`
	TotalDurationMS float64      `json:"total_duration_ms"`
	TotalCostUSD    float64      `json:"total_cost_usd"`
}

// StepError wraps a failure with the name of the step that caused it. The
// engine guarantees every error escaping a run is one of these.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step '%s' failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
