// Package debugger implements the interactive REPL for stepping through
// pipeline execution.
package debugger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/ormasoftchile/flume/pkg/runtime"
	"github.com/ormasoftchile/flume/pkg/schema"
)

// Debugger provides an interactive REPL for stepping through a pipeline.
type Debugger struct {
	pipeline *schema.Pipeline
	engine   *runtime.Engine
	output   io.Writer
	rl       *readline.Instance
}

// New creates a debugger for the given pipeline and run options.
func New(p *schema.Pipeline, opts runtime.Options) (*Debugger, error) {
	eng, err := runtime.NewEngine(p, opts)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	return &Debugger{
		pipeline: p,
		engine:   eng,
		output:   os.Stdout,
	}, nil
}

// Engine returns the underlying engine for external configuration.
func (d *Debugger) Engine() *runtime.Engine {
	return d.engine
}

// Run starts the interactive REPL loop.
func (d *Debugger) Run(ctx context.Context) error {
	commands := []string{"next", "continue", "print", "eval",
		"history", "snapshot", "help", "quit"}

	var completer = readline.NewPrefixCompleter()
	for _, cmd := range commands {
		completer.Children = append(completer.Children,
			readline.PcItem(cmd))
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          d.buildPrompt(),
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	d.rl = rl
	defer rl.Close()

	fmt.Fprintf(d.output, "flume debugger — %d steps\n", d.engine.StepCount())
	fmt.Fprintf(d.output, "Type 'help' for available commands, 'next' to execute the next step.\n\n")

	for {
		rl.SetPrompt(d.buildPrompt())
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := parts[0]

		switch cmd {
		case "next", "n":
			if err := d.handleNext(ctx); err != nil {
				fmt.Fprintf(d.output, "Error: %v\n", err)
			}
		case "continue", "c":
			if err := d.handleContinue(ctx); err != nil {
				fmt.Fprintf(d.output, "Error: %v\n", err)
			}
		case "print", "p":
			d.handlePrint(parts)
		case "eval", "e":
			d.handleEval(strings.TrimSpace(strings.TrimPrefix(line, cmd)))
		case "history", "h":
			d.handleHistory()
		case "snapshot":
			d.handleSnapshot(parts)
		case "help", "?":
			d.handleHelp()
		case "quit", "q":
			fmt.Fprintf(d.output, "Exiting debugger.\n")
			return nil
		default:
			fmt.Fprintf(d.output, "Unknown command: %q. Type 'help' for available commands.\n", cmd)
		}
	}
}

// buildPrompt creates the prompt string: flume[N/total | step_name]>
func (d *Debugger) buildPrompt() string {
	if d.engine.Done() {
		return "flume[done]> "
	}
	idx := d.engine.StepIndex()
	name := d.pipeline.Steps[idx].StepName()
	return fmt.Sprintf("flume[%d/%d | %s]> ", idx+1, d.engine.StepCount(), name)
}
