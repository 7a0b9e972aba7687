package diagram

import (
	"strings"
	"testing"

	"github.com/ormasoftchile/flume/pkg/schema"
)

const testYAML = `
name: review-docs
input: {}
steps:
  - name: files
    kind: find_files
    arguments: "docs"
    pattern: "*.md"
  - name: per_file
    kind: for_each
    arguments: files
    steps:
      - name: contents
        kind: read_file
        arguments: item.path
      - name: summary
        kind: prompt
        template: "Summarize: {{.args.value}}"
        arguments: contents
  - name: score
    kind: evaluate
    strategy: faithfulness
    arguments: "{response: input.summary, source: input.topic}"
`

func loadTestPipeline(t *testing.T) *schema.Pipeline {
	t.Helper()
	p, err := schema.Load(strings.NewReader(testYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return p
}

func TestGenerateMermaid(t *testing.T) {
	p := loadTestPipeline(t)
	out, err := Generate(p, FormatMermaid)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	for _, want := range []string{
		"flowchart TD",
		"START([Start]) --> files",
		`files[("🔍 files")]`,
		"subgraph per_file",
		`per_file_contents[("📄 contents")]`,
		`per_file_summary[/"✨ summary"/]`,
		"per_file_contents --> per_file_summary",
		`score{{"⚖ score"}}`,
		"files --> per_file",
		"per_file --> score",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("mermaid output missing %q\n%s", want, out)
		}
	}
}

func TestGenerateMermaidEmpty(t *testing.T) {
	out, err := Generate(&schema.Pipeline{Name: "empty"}, FormatMermaid)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if strings.TrimSpace(out) != "flowchart TD" {
		t.Errorf("expected bare flowchart header, got %q", out)
	}
}

func TestGenerateASCII(t *testing.T) {
	p := loadTestPipeline(t)
	out, err := Generate(p, FormatASCII)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	for _, want := range []string{
		"review-docs",
		"files (find_files)",
		"per_file (for_each)",
		"└ 📄 contents (read_file)",
		"└ ✨ summary (prompt)",
		"score (evaluate)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("ascii output missing %q\n%s", want, out)
		}
	}
}

func TestGenerateASCIIEmpty(t *testing.T) {
	out, err := Generate(&schema.Pipeline{Name: "bare"}, FormatASCII)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.Contains(out, "bare (empty)") {
		t.Errorf("expected empty marker, got %q", out)
	}
}

func TestGenerateUnknownFormat(t *testing.T) {
	if _, err := Generate(&schema.Pipeline{}, Format("dot")); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestSafeID(t *testing.T) {
	if got := safeID("read all-files.v2"); got != "read_all_files_v2" {
		t.Errorf("safeID = %q", got)
	}
}
