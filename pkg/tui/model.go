// Package tui implements the live terminal view of a pipeline run.
package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/ormasoftchile/flume/pkg/runtime"
	"github.com/ormasoftchile/flume/pkg/schema"
)

// StepState tracks one top-level step in the view.
type StepState struct {
	Name       string
	Kind       schema.Kind
	Status     string // "pending", "running", "done", "failed"
	DurationMS float64
	CostUSD    float64
}

// Model is the Bubble Tea model for a pipeline run.
type Model struct {
	pipeline *schema.Pipeline
	opts     runtime.Options
	sink     *runtime.ChannelSink

	steps    []StepState
	selected int
	spin     spinner.Model
	output   viewport.Model
	ready    bool

	status    string // "idle", "running", "completed", "failed"
	activity  string // most recent event line, nested steps included
	totalCost float64
	err       error

	width  int
	height int

	ctx    context.Context
	cancel context.CancelFunc
}

// NewModel builds the view for a pipeline and run options. The model installs
// its own event sink in front of any sink the caller set.
func NewModel(p *schema.Pipeline, opts runtime.Options) Model {
	sink := runtime.NewChannelSink(256)
	if opts.Sink != nil {
		opts.Sink = runtime.MultiSink{opts.Sink, sink}
	} else {
		opts.Sink = sink
	}

	steps := make([]StepState, 0, len(p.Steps))
	for _, s := range p.Steps {
		steps = append(steps, StepState{
			Name:   s.StepName(),
			Kind:   s.StepKind(),
			Status: "pending",
		})
	}

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))

	ctx, cancel := context.WithCancel(context.Background())
	return Model{
		pipeline: p,
		opts:     opts,
		sink:     sink,
		steps:    steps,
		spin:     sp,
		status:   "idle",
		ctx:      ctx,
		cancel:   cancel,
	}
}

// --- messages ---

type eventMsg struct{ Event runtime.Event }

type runDoneMsg struct {
	Result *runtime.RunResult
	Err    error
}

// Init starts the engine, the event pump and the spinner.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.startRun(), m.waitForEvent(), m.spin.Tick)
}

// startRun executes the pipeline in a goroutine-backed command.
func (m Model) startRun() tea.Cmd {
	pipeline, opts, ctx := m.pipeline, m.opts, m.ctx
	return func() tea.Msg {
		eng, err := runtime.NewEngine(pipeline, opts)
		if err != nil {
			return runDoneMsg{Err: err}
		}
		result, err := eng.Run(ctx)
		return runDoneMsg{Result: result, Err: err}
	}
}

// waitForEvent blocks on the sink channel and re-arms itself from Update.
func (m Model) waitForEvent() tea.Cmd {
	sink := m.sink
	return func() tea.Msg {
		return eventMsg{Event: <-sink.C}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.cancel()
			return m, tea.Quit
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
		case "down", "j":
			if m.selected < len(m.steps)-1 {
				m.selected++
			}
		default:
			if m.ready {
				var cmd tea.Cmd
				m.output, cmd = m.output.Update(msg)
				return m, cmd
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vh := m.height - len(m.steps) - 8
		if vh < 3 {
			vh = 3
		}
		if !m.ready {
			m.output = viewport.New(m.width, vh)
			m.ready = true
		} else {
			m.output.Width = m.width
			m.output.Height = vh
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case eventMsg:
		m.applyEvent(msg.Event)
		return m, m.waitForEvent()

	case runDoneMsg:
		if msg.Err != nil {
			m.status = "failed"
			m.err = msg.Err
		} else {
			m.status = "completed"
			m.totalCost = msg.Result.TotalCostUSD
			if m.ready {
				m.output.SetContent(renderOutput(msg.Result.Output, m.width))
			}
		}
	}

	return m, nil
}

// applyEvent folds one run event into the step list.
func (m *Model) applyEvent(evt runtime.Event) {
	switch evt.Type {
	case runtime.EventRunStart:
		m.status = "running"
	case runtime.EventStepStart:
		m.activity = fmt.Sprintf("running %s (%s)", evt.Step, evt.Kind)
		if i := m.stepIndex(evt.Step); i >= 0 {
			m.steps[i].Status = "running"
		}
	case runtime.EventStepComplete:
		if i := m.stepIndex(evt.Step); i >= 0 {
			m.steps[i].Status = "done"
			m.steps[i].DurationMS = evt.DurationMS
			m.steps[i].CostUSD = evt.CostUSD
		}
	case runtime.EventLLMCall:
		m.totalCost += evt.CostUSD
		m.activity = fmt.Sprintf("%s called %s ($%.4f)", evt.Step, evt.Model, evt.CostUSD)
	case runtime.EventError:
		if i := m.stepIndex(evt.Step); i >= 0 {
			m.steps[i].Status = "failed"
		}
		m.activity = evt.Message
	}
}

// stepIndex finds a top-level step by name; nested step events return -1.
func (m *Model) stepIndex(name string) int {
	for i := range m.steps {
		if m.steps[i].Name == name {
			return i
		}
	}
	return -1
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	name := m.pipeline.Name
	if name == "" {
		name = "pipeline"
	}
	b.WriteString(headerStyle.Render("  flume: " + name))
	b.WriteString("\n\n")

	for i, s := range m.steps {
		icon := stepIcon(s.Status)
		if s.Status == "running" {
			icon = m.spin.View()
		}
		line := fmt.Sprintf("%s %s [%s]", icon, s.Name, s.Kind)
		if s.Status == "done" {
			line += fmt.Sprintf("  %.0fms", s.DurationMS)
			if s.CostUSD > 0 {
				line += fmt.Sprintf("  $%.4f", s.CostUSD)
			}
		}
		if i == m.selected {
			line = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("51")).Render("▸ " + line)
		} else {
			line = "  " + line
		}
		b.WriteString("  " + line + "\n")
	}

	b.WriteString("\n")
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	switch m.status {
	case "idle":
		b.WriteString(dim.Render("  Ready"))
	case "running":
		b.WriteString(dim.Render("  " + m.activity))
	case "completed":
		done := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("40"))
		b.WriteString(done.Render(fmt.Sprintf("  ✓ Completed  total $%.4f", m.totalCost)))
		if m.ready {
			b.WriteString("\n\n" + m.output.View())
		}
	case "failed":
		fail := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
		errMsg := ""
		if m.err != nil {
			errMsg = m.err.Error()
		}
		b.WriteString(fail.Render("  ✗ Failed: " + errMsg))
	}

	b.WriteString("\n\n")
	b.WriteString(dim.Render("  q: quit  ↑/↓: navigate"))
	return b.String()
}

// renderOutput formats the final pipeline output for the viewport. Strings
// render as markdown; everything else as indented JSON.
func renderOutput(output any, width int) string {
	if s, ok := output.(string); ok {
		if width <= 0 {
			width = 80
		}
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width-4),
		)
		if err == nil {
			if rendered, err := r.Render(s); err == nil {
				return rendered
			}
		}
		return s
	}
	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", output)
	}
	return string(data)
}

func stepIcon(status string) string {
	switch status {
	case "pending":
		return "○"
	case "running":
		return "◉"
	case "done":
		return "✓"
	case "failed":
		return "✗"
	}
	return "?"
}
