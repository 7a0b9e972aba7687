// Package diagram renders pipeline structure as Mermaid flowcharts or
// ASCII boxes.
package diagram

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/ormasoftchile/flume/pkg/schema"
)

// Format selects the output diagram format.
type Format string

const (
	FormatMermaid Format = "mermaid"
	FormatASCII   Format = "ascii"
)

// Generate produces a diagram string from a parsed pipeline.
func Generate(p *schema.Pipeline, format Format) (string, error) {
	if p == nil {
		return "", fmt.Errorf("nil pipeline")
	}
	switch format {
	case FormatMermaid:
		return generateMermaid(p), nil
	case FormatASCII:
		return generateASCII(p), nil
	default:
		return "", fmt.Errorf("unsupported diagram format: %s", format)
	}
}

// --- Mermaid flowchart ---

func generateMermaid(p *schema.Pipeline) string {
	var b strings.Builder
	b.WriteString("flowchart TD\n")
	if len(p.Steps) == 0 {
		return b.String()
	}

	b.WriteString("    START([Start]) --> " + safeID(topID(p.Steps[0])) + "\n")
	writeMermaidSteps(&b, p.Steps, "", 1)

	// sequential edges between top-level steps
	for i := 0; i < len(p.Steps)-1; i++ {
		b.WriteString(fmt.Sprintf("    %s --> %s\n",
			safeID(topID(p.Steps[i])), safeID(topID(p.Steps[i+1]))))
	}
	return b.String()
}

// writeMermaidSteps emits node (or subgraph) definitions. prefix keeps IDs
// unique when sibling for_each scopes reuse step names.
func writeMermaidSteps(b *strings.Builder, steps []schema.Step, prefix string, depth int) {
	pad := strings.Repeat("    ", depth)
	for _, s := range steps {
		id := safeID(prefix + s.StepName())
		if fe, ok := s.(*schema.ForEachStep); ok {
			b.WriteString(fmt.Sprintf("%ssubgraph %s [\"%s %s\"]\n",
				pad, id, kindIcon(schema.KindForEach), escMermaid(fe.Name)))
			writeMermaidSteps(b, fe.Steps, prefix+fe.Name+"_", depth+1)
			for i := 0; i < len(fe.Steps)-1; i++ {
				b.WriteString(fmt.Sprintf("%s    %s --> %s\n",
					pad,
					safeID(prefix+fe.Name+"_"+fe.Steps[i].StepName()),
					safeID(prefix+fe.Name+"_"+fe.Steps[i+1].StepName())))
			}
			b.WriteString(pad + "end\n")
			continue
		}
		b.WriteString(pad + nodeDefinition(id, s) + "\n")
	}
}

func topID(s schema.Step) string { return s.StepName() }

// nodeDefinition picks a Mermaid shape per step kind.
func nodeDefinition(id string, s schema.Step) string {
	icon := kindIcon(s.StepKind())
	label := escMermaid(s.StepName())
	switch s.StepKind() {
	case schema.KindPrompt:
		return fmt.Sprintf(`%s[/"%s %s"/]`, id, icon, label)
	case schema.KindEvaluate:
		return fmt.Sprintf(`%s{{"%s %s"}}`, id, icon, label)
	case schema.KindFindFiles, schema.KindReadFile:
		return fmt.Sprintf(`%s[("%s %s")]`, id, icon, label)
	default:
		return fmt.Sprintf(`%s["%s %s"]`, id, icon, label)
	}
}

// --- ASCII ---

func generateASCII(p *schema.Pipeline) string {
	var b strings.Builder

	name := p.Name
	if name == "" {
		name = "Pipeline"
	}
	if len(p.Steps) == 0 {
		b.WriteString(name + " (empty)\n")
		return b.String()
	}

	const indent = 4
	boxWidth := uniformBoxWidth(p.Steps, name, 0)
	connCol := indent + 1 + boxWidth/2
	pad := strings.Repeat(" ", indent)
	connPad := strings.Repeat(" ", connCol)

	// header, same width as the step boxes
	mid := boxWidth / 2
	b.WriteString(pad + "╔" + strings.Repeat("═", boxWidth) + "╗\n")
	b.WriteString(pad + "║" + centerPad(name, boxWidth) + "║\n")
	b.WriteString(pad + "╚" + strings.Repeat("═", mid) + "╤" + strings.Repeat("═", boxWidth-mid-1) + "╝\n")
	b.WriteString(connPad + "│\n")

	for i, s := range p.Steps {
		writeASCIIStep(&b, s, indent, boxWidth, 0)
		if i < len(p.Steps)-1 {
			b.WriteString(connPad + "│\n")
		}
	}
	return b.String()
}

// writeASCIIStep draws one step box; for_each children render inside the
// box, indented under a bracket.
func writeASCIIStep(b *strings.Builder, s schema.Step, indent, boxWidth, depth int) {
	pad := strings.Repeat(" ", indent)
	mid := boxWidth / 2

	content := stepLine(s, 0)
	b.WriteString(pad + "┌" + strings.Repeat("─", boxWidth) + "┐\n")
	b.WriteString(pad + "│" + rightPad(content, boxWidth) + "│\n")
	if fe, ok := s.(*schema.ForEachStep); ok {
		for _, line := range nestedLines(fe.Steps, 1) {
			b.WriteString(pad + "│" + rightPad(line, boxWidth) + "│\n")
		}
	}
	b.WriteString(pad + "└" + strings.Repeat("─", mid) + "┬" + strings.Repeat("─", boxWidth-mid-1) + "┘\n")
}

// nestedLines renders a for_each body as bracketed lines, recursing for
// nested loops.
func nestedLines(steps []schema.Step, depth int) []string {
	var lines []string
	for _, s := range steps {
		lines = append(lines, stepLine(s, depth))
		if fe, ok := s.(*schema.ForEachStep); ok {
			lines = append(lines, nestedLines(fe.Steps, depth+1)...)
		}
	}
	return lines
}

func stepLine(s schema.Step, depth int) string {
	bracket := ""
	if depth > 0 {
		bracket = strings.Repeat("  ", depth-1) + " └ "
	}
	return fmt.Sprintf(" %s%s %s (%s) ", bracket, kindIcon(s.StepKind()), s.StepName(), s.StepKind())
}

// uniformBoxWidth returns the interior width every box shares, sized to the
// widest step line or the header name.
func uniformBoxWidth(steps []schema.Step, name string, depth int) int {
	w := 22
	if nw := runewidth.StringWidth(name) + 4; nw > w {
		w = nw
	}
	var widest func(steps []schema.Step, depth int)
	widest = func(steps []schema.Step, depth int) {
		for _, s := range steps {
			if sw := runewidth.StringWidth(stepLine(s, depth)); sw > w {
				w = sw
			}
			if fe, ok := s.(*schema.ForEachStep); ok {
				widest(fe.Steps, depth+1)
			}
		}
	}
	widest(steps, depth)
	return w
}

func rightPad(s string, width int) string {
	sw := runewidth.StringWidth(s)
	if sw >= width {
		return s
	}
	return s + strings.Repeat(" ", width-sw)
}

// centerPad centers s within width based on display width.
func centerPad(s string, width int) string {
	sw := runewidth.StringWidth(s)
	if sw >= width {
		return s
	}
	total := width - sw
	left := total / 2
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", total-left)
}

func kindIcon(k schema.Kind) string {
	switch k {
	case schema.KindFindFiles:
		return "🔍"
	case schema.KindReadFile:
		return "📄"
	case schema.KindTransform:
		return "ƒ"
	case schema.KindChunk:
		return "✂"
	case schema.KindPrompt:
		return "✨"
	case schema.KindEvaluate:
		return "⚖"
	case schema.KindForEach:
		return "🔁"
	}
	return "○"
}

// --- string helpers ---

func safeID(id string) string {
	r := strings.NewReplacer("-", "_", " ", "_", ".", "_")
	return r.Replace(id)
}

func escMermaid(s string) string {
	s = strings.ReplaceAll(s, `"`, "#quot;")
	s = strings.ReplaceAll(s, `'`, "#apos;")
	return s
}
