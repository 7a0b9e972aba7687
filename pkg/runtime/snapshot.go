package runtime

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ormasoftchile/flume/pkg/schema"
)

// Snapshot captures a run's input and completed top-level results so an
// aborted run can continue from the first incomplete step. Nested for_each
// state is never captured: a for_each either completed as a whole or reruns.
// Results pass through JSON on save/load, so after a resume earlier outputs
// carry JSON types: numbers become float64 and maps become map[string]any.
type Snapshot struct {
	Pipeline     string         `json:"pipeline,omitempty"`
	Input        map[string]any `json:"input"`
	StepResults  []StepResult   `json:"step_results"`
	TotalCostUSD float64        `json:"total_cost_usd"`
}

// Snapshot captures the engine's current completed state.
func (e *Engine) Snapshot() *Snapshot {
	return &Snapshot{
		Pipeline:     e.pipeline.Name,
		Input:        inputOf(e.scope),
		StepResults:  e.Results(),
		TotalCostUSD: round6(e.costSoFar()),
	}
}

func inputOf(scope *Context) map[string]any {
	v, _ := scope.Lookup("input")
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return nil
}

// SaveSnapshot persists a snapshot as indented JSON.
func SaveSnapshot(snap *Snapshot, path string) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads a snapshot from a JSON file.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// ResumeEngine rebuilds an engine from a snapshot: the snapshot's input is
// re-validated, completed results are re-bound into the context under their
// step names, and execution continues from the first step the snapshot does
// not cover. The pipeline must be the same document the snapshot came from;
// a result for a name the pipeline no longer declares is rejected.
func ResumeEngine(p *schema.Pipeline, snap *Snapshot, opts Options) (*Engine, error) {
	if len(snap.StepResults) > len(p.Steps) {
		return nil, fmt.Errorf("snapshot has %d results but the pipeline has %d steps",
			len(snap.StepResults), len(p.Steps))
	}
	opts.Input = snap.Input
	e, err := NewEngine(p, opts)
	if err != nil {
		return nil, err
	}
	for i, r := range snap.StepResults {
		declared := p.Steps[i].StepName()
		if r.Name != declared {
			return nil, fmt.Errorf("snapshot step %d is '%s' but the pipeline declares '%s'",
				i, r.Name, declared)
		}
		if err := e.scope.SetResult(r.Name, r.Output); err != nil {
			return nil, fmt.Errorf("rebind snapshot result: %w", err)
		}
		e.results = append(e.results, r)
	}
	e.next = len(snap.StepResults)
	if e.client != nil {
		e.client.total = snap.TotalCostUSD
	}
	return e, nil
}
