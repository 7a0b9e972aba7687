package expression

import (
	"reflect"
	"strings"
	"testing"
)

// TestExtractRoots verifies which context names an expression is counted as
// referencing: member chains count their base, closure shorthand and builtin
// names never count, let bindings are subtracted.
func TestExtractRoots(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []string
	}{
		{"bare identifier", "chunks", []string{"chunks"}},
		{"member chain counts base", "chunks.chunks", []string{"chunks"}},
		{"deep member chain", "result.data.rows", []string{"result"}},
		{"closure shorthand excluded", "filter(items, .verified)", []string{"items"}},
		{"pointer excluded", "filter(scores, # > 3)", []string{"scores"}},
		{"closure body counted", "filter(items, .score > threshold)", []string{"items", "threshold"}},
		{"builtin name excluded", "len(items)", []string{"items"}},
		{"call arguments counted", "map(rows, .text)", []string{"rows"}},
		{"string literal", `"hello"`, nil},
		{"number literal", "42", nil},
		{"map literal values", "{source: doc, summary: sum}", []string{"doc", "sum"}},
		{"array literal", "[a, b, 1]", []string{"a", "b"}},
		{"binary operators", "a + b * c", []string{"a", "b", "c"}},
		{"conditional", "ok ? yes : no", []string{"no", "ok", "yes"}},
		{"index access", "items[0].name", []string{"items"}},
		{"computed index counted", "data[idx]", []string{"data", "idx"}},
		{"slice", "items[1:3]", []string{"items"}},
		{"let binding subtracted", "let x = input.rows; map(x, # * scale)", []string{"input", "scale"}},
		{"item member", "item.text", []string{"item"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractRoots(tt.src)
			if err != nil {
				t.Fatalf("ExtractRoots(%q): %v", tt.src, err)
			}
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExtractRoots(%q) = %v, want %v", tt.src, got, tt.want)
			}
		})
	}
}

// TestExtractRootsSyntaxError verifies parse failures surface as errors.
func TestExtractRootsSyntaxError(t *testing.T) {
	if _, err := ExtractRoots("items[verified"); err == nil {
		t.Error("expected error for unbalanced bracket, got nil")
	}
}

// TestEvaluate runs expressions against a context environment.
func TestEvaluate(t *testing.T) {
	env := map[string]any{
		"input": map[string]any{"count": 21, "name": "go"},
		"items": []any{1, 2, 3},
	}

	tests := []struct {
		src  string
		want any
	}{
		{"1 + 2", 3},
		{"input.count * 2", 42},
		{"len(items)", 3},
		{"upper(input.name)", "GO"},
		{"input.count > 3", true},
	}
	for _, tt := range tests {
		got, err := Evaluate(tt.src, env)
		if err != nil {
			t.Fatalf("Evaluate(%q): %v", tt.src, err)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Evaluate(%q) = %v (%T), want %v", tt.src, got, got, tt.want)
		}
	}
}

// TestEvaluateCompileError verifies syntax errors are reported with context.
func TestEvaluateCompileError(t *testing.T) {
	_, err := Evaluate("items[", map[string]any{})
	if err == nil {
		t.Fatal("expected compile error, got nil")
	}
	if !strings.Contains(err.Error(), "compile expression") {
		t.Errorf("error = %q, want compile expression prefix", err)
	}
}

// TestMapLiteralKeys verifies static key extraction from map literals.
func TestMapLiteralKeys(t *testing.T) {
	tests := []struct {
		src      string
		want     []string
		analyzed bool
	}{
		{"{source: doc, summary: result}", []string{"source", "summary"}, true},
		{`{"question": q, "context": ctx}`, []string{"question", "context"}, true},
		{"{}", []string{}, true},
		{"doc", nil, false},
		{"buildArgs(doc)", nil, false},
		{"items[", nil, false},
	}
	for _, tt := range tests {
		got, ok := MapLiteralKeys(tt.src)
		if ok != tt.analyzed {
			t.Errorf("MapLiteralKeys(%q) ok = %v, want %v", tt.src, ok, tt.analyzed)
			continue
		}
		if ok && !reflect.DeepEqual(got, tt.want) {
			t.Errorf("MapLiteralKeys(%q) = %v, want %v", tt.src, got, tt.want)
		}
	}
}

// TestBareIdentifier verifies only single identifiers qualify.
func TestBareIdentifier(t *testing.T) {
	if name, ok := BareIdentifier("doc"); !ok || name != "doc" {
		t.Errorf("BareIdentifier(doc) = %q, %v", name, ok)
	}
	for _, src := range []string{"doc.text", "len(doc)", "a + b", "["} {
		if _, ok := BareIdentifier(src); ok {
			t.Errorf("BareIdentifier(%q) = true, want false", src)
		}
	}
}
