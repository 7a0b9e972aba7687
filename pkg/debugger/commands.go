package debugger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ormasoftchile/flume/pkg/expression"
	"github.com/ormasoftchile/flume/pkg/runtime"
)

// handleNext executes the next step and advances.
func (d *Debugger) handleNext(ctx context.Context) error {
	if d.engine.Done() {
		fmt.Fprintf(d.output, "All steps completed.\n")
		return nil
	}

	idx := d.engine.StepIndex()
	step := d.pipeline.Steps[idx]
	fmt.Fprintf(d.output, "Executing step %d: %s [%s]\n", idx+1, step.StepName(), step.StepKind())

	result, err := d.engine.StepOnce(ctx)
	if err != nil {
		fmt.Fprintf(d.output, "  ✗ %s failed\n", step.StepName())
		return err
	}

	fmt.Fprintf(d.output, "  ✓ %s (%.0fms", result.Name, result.DurationMS)
	if result.CostUSD > 0 {
		fmt.Fprintf(d.output, ", $%.4f", result.CostUSD)
	}
	fmt.Fprintf(d.output, ")\n")
	return nil
}

// handleContinue executes all remaining steps, halting on the first failure.
func (d *Debugger) handleContinue(ctx context.Context) error {
	for !d.engine.Done() {
		if err := d.handleNext(ctx); err != nil {
			fmt.Fprintf(d.output, "Halted on failure.\n")
			return err
		}
	}
	fmt.Fprintf(d.output, "All steps completed.\n")
	return nil
}

// handlePrint displays one binding, or lists the names in scope.
func (d *Debugger) handlePrint(parts []string) {
	scope := d.engine.Scope()
	if len(parts) < 2 {
		names := scope.Names()
		if len(names) == 0 {
			fmt.Fprintf(d.output, "Nothing in scope.\n")
			return
		}
		fmt.Fprintf(d.output, "In scope:\n")
		for _, n := range names {
			fmt.Fprintf(d.output, "  %s\n", n)
		}
		return
	}
	v, ok := scope.Lookup(parts[1])
	if !ok {
		fmt.Fprintf(d.output, "No binding named %q. 'print' with no argument lists names.\n", parts[1])
		return
	}
	fmt.Fprintf(d.output, "  %s = %s\n", parts[1], renderValue(v))
}

// handleEval evaluates an expression against the current scope.
func (d *Debugger) handleEval(src string) {
	if src == "" {
		fmt.Fprintf(d.output, "Usage: eval <expression>\n")
		return
	}
	v, err := expression.Evaluate(src, d.engine.Scope().Env())
	if err != nil {
		fmt.Fprintf(d.output, "  Error: %v\n", err)
		return
	}
	fmt.Fprintf(d.output, "  %s\n", renderValue(v))
}

// handleHistory shows completed step results.
func (d *Debugger) handleHistory() {
	results := d.engine.Results()
	if len(results) == 0 {
		fmt.Fprintf(d.output, "No steps executed yet.\n")
		return
	}
	for i, r := range results {
		fmt.Fprintf(d.output, "  ✓ [%d] %s (%s) — %.0fms", i+1, r.Name, r.Kind, r.DurationMS)
		if r.CostUSD > 0 {
			fmt.Fprintf(d.output, ", $%.4f", r.CostUSD)
		}
		fmt.Fprintf(d.output, "\n")
	}
}

// handleSnapshot saves a resumable snapshot of the run.
func (d *Debugger) handleSnapshot(parts []string) {
	path := fmt.Sprintf("flume-step-%04d.json", d.engine.StepIndex())
	if len(parts) > 1 {
		path = parts[1]
	}
	if err := runtime.SaveSnapshot(d.engine.Snapshot(), path); err != nil {
		fmt.Fprintf(d.output, "  Error: %v\n", err)
		return
	}
	fmt.Fprintf(d.output, "  Snapshot saved: %s\n", path)
}

// handleHelp displays available commands.
func (d *Debugger) handleHelp() {
	fmt.Fprintln(d.output, "Available commands:")
	fmt.Fprintln(d.output, "  next (n)         Execute the next step")
	fmt.Fprintln(d.output, "  continue (c)     Execute all remaining steps")
	fmt.Fprintln(d.output, "  print [name]     Show a binding, or list names in scope")
	fmt.Fprintln(d.output, "  eval <expr>      Evaluate an expression against the scope")
	fmt.Fprintln(d.output, "  history (h)      Show completed step results")
	fmt.Fprintln(d.output, "  snapshot [path]  Save a resumable snapshot")
	fmt.Fprintln(d.output, "  help (?)         Show this help")
	fmt.Fprintln(d.output, "  quit (q)         Exit debugger")
}

// renderValue formats a scope value for terminal display, truncating long
// output.
func renderValue(v any) string {
	var s string
	switch t := v.(type) {
	case string:
		s = fmt.Sprintf("%q", t)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			s = fmt.Sprintf("%v", v)
		} else {
			s = string(data)
		}
	}
	if len(s) > 400 {
		s = s[:400] + "..."
	}
	return s
}
