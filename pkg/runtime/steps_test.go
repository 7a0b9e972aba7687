package runtime

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ormasoftchile/flume/pkg/schema"
)

// TestSplitText exercises the sliding-window laws: coverage without gaps,
// clamped overlap, boundary alignment, and the empty input.
func TestSplitText(t *testing.T) {
	cases := []struct {
		name        string
		text        string
		size        int
		overlap     int
		wantLengths []int
	}{
		{"exact multiple plus tail", strings.Repeat("a", 25), 10, 0, []int{10, 10, 5}},
		{"aligned boundary", strings.Repeat("b", 20), 10, 0, []int{10, 10}},
		{"with overlap", strings.Repeat("c", 10), 4, 2, []int{4, 4, 4, 4, 2}},
		{"overlap equals size clamps", strings.Repeat("d", 5), 3, 3, []int{3, 3, 3, 2, 1}},
		{"single short chunk", "ab", 10, 2, []int{2}},
		{"empty", "", 10, 2, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			chunks := SplitText(tc.text, tc.size, tc.overlap)
			if len(chunks) != len(tc.wantLengths) {
				t.Fatalf("got %d chunks, want %d", len(chunks), len(tc.wantLengths))
			}
			for i, c := range chunks {
				m := c.(map[string]any)
				if m["index"] != i {
					t.Errorf("chunk %d has index %v", i, m["index"])
				}
				text := m["text"].(string)
				if len(text) != tc.wantLengths[i] {
					t.Errorf("chunk %d length = %d, want %d", i, len(text), tc.wantLengths[i])
				}
				if text == "" {
					t.Errorf("chunk %d is empty", i)
				}
			}
		})
	}
}

// TestSplitTextCoverage verifies every rune of the input appears at the
// expected offset of some window, with stride size-overlap.
func TestSplitTextCoverage(t *testing.T) {
	text := "abcdefghijklmnopqrstuvwxyz"
	chunks := SplitText(text, 7, 3)
	stride := 7 - 3
	covered := make([]bool, len(text))
	for i, c := range chunks {
		m := c.(map[string]any)
		start := i * stride
		for j := range m["text"].(string) {
			if text[start+j] != m["text"].(string)[j] {
				t.Fatalf("chunk %d misaligned at offset %d", i, j)
			}
			covered[start+j] = true
		}
	}
	for i, ok := range covered {
		if !ok {
			t.Errorf("rune %d never covered", i)
		}
	}
}

// TestSplitTextRuneOffsets verifies multi-byte text splits on rune
// boundaries, not bytes.
func TestSplitTextRuneOffsets(t *testing.T) {
	chunks := SplitText("héllo wörld", 5, 0)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	first := chunks[0].(map[string]any)["text"].(string)
	if first != "héllo" {
		t.Errorf("first chunk = %q", first)
	}
}

// testEngine builds an engine over steps with an empty input schema.
func testEngine(t *testing.T, opts Options, steps ...schema.Step) *Engine {
	t.Helper()
	p := &schema.Pipeline{Name: "test", InputSchema: map[string]any{}, Steps: steps}
	if opts.Input == nil {
		opts.Input = map[string]any{}
	}
	e, err := NewEngine(p, opts)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

// TestFindFilesStep verifies glob matching, directory exclusion and name
// ordering.
func TestFindFilesStep(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.txt", "a.txt", "c.md"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.txt"), 0755); err != nil {
		t.Fatal(err)
	}

	e := testEngine(t, Options{Input: map[string]any{"dir": dir}},
		&schema.FindFilesStep{Name: "files", Arguments: "input.dir", Pattern: "*.txt"},
	)
	result, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	files := result.Output.([]any)
	if len(files) != 2 {
		t.Fatalf("got %d files, want 2 (directories excluded)", len(files))
	}
	first := files[0].(map[string]any)
	second := files[1].(map[string]any)
	if first["name"] != "a.txt" || second["name"] != "b.txt" {
		t.Errorf("order = %v, %v; want a.txt, b.txt", first["name"], second["name"])
	}
	if !strings.HasSuffix(first["path"].(string), "a.txt") {
		t.Errorf("path = %v", first["path"])
	}
}

// TestFindFilesMissingDir verifies the not-found condition.
func TestFindFilesMissingDir(t *testing.T) {
	e := testEngine(t, Options{Input: map[string]any{"dir": "/no/such/dir"}},
		&schema.FindFilesStep{Name: "files", Arguments: "input.dir", Pattern: "*"},
	)
	_, err := e.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "directory not found") {
		t.Errorf("err = %v", err)
	}
}

// TestReadFileStep verifies both accepted argument shapes: a bare path and a
// record with a path field.
func TestReadFileStep(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.txt")
	if err := os.WriteFile(path, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}

	e := testEngine(t, Options{Input: map[string]any{"path": path}},
		&schema.TransformStep{Name: "rec", Arguments: `{"path": input.path, "name": "note.txt"}`},
		&schema.ReadFileStep{Name: "direct", Arguments: "input.path"},
		&schema.ReadFileStep{Name: "via_record", Arguments: "rec"},
	)
	result, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.StepResults[1].Output != "hello" || result.StepResults[2].Output != "hello" {
		t.Errorf("outputs = %v / %v", result.StepResults[1].Output, result.StepResults[2].Output)
	}
}

// TestReadFileMissing verifies reading a non-file fails with a step error.
func TestReadFileMissing(t *testing.T) {
	e := testEngine(t, Options{},
		&schema.ReadFileStep{Name: "read", Arguments: `"/no/such/file.txt"`},
	)
	_, err := e.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "file not found") {
		t.Errorf("err = %v", err)
	}
	var se *StepError
	if !errors.As(err, &se) || se.Step != "read" {
		t.Errorf("error not wrapped with the step name: %v", err)
	}
}

// TestChunkStepOutputShape verifies the chunks wrapper and downstream
// expression access to it.
func TestChunkStepOutputShape(t *testing.T) {
	e := testEngine(t, Options{Input: map[string]any{"text": strings.Repeat("z", 12)}},
		&schema.ChunkStep{Name: "chunks", Arguments: "input.text", ChunkSize: 5, Overlap: 0},
		&schema.TransformStep{Name: "count", Arguments: "len(chunks.chunks)"},
		&schema.TransformStep{Name: "first", Arguments: "chunks.chunks[0].text"},
	)
	result, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.StepResults[1].Output != 3 {
		t.Errorf("count = %v, want 3", result.StepResults[1].Output)
	}
	if result.StepResults[2].Output != "zzzzz" {
		t.Errorf("first chunk = %v", result.StepResults[2].Output)
	}
}

// TestChunkStepRejectsNonText verifies the input type check.
func TestChunkStepRejectsNonText(t *testing.T) {
	e := testEngine(t, Options{},
		&schema.TransformStep{Name: "nums", Arguments: "[1, 2, 3]"},
		&schema.ChunkStep{Name: "chunks", Arguments: "nums", ChunkSize: 5, Overlap: 0},
	)
	_, err := e.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "must be text") {
		t.Errorf("err = %v", err)
	}
}

// TestForEachStep verifies per-item child scopes and that the iteration
// value is the last nested step's output.
func TestForEachStep(t *testing.T) {
	e := testEngine(t, Options{},
		&schema.TransformStep{Name: "nums", Arguments: "[1, 2, 3]"},
		&schema.ForEachStep{Name: "doubled", Arguments: "nums", Steps: []schema.Step{
			&schema.TransformStep{Name: "twice", Arguments: "item * 2"},
		}},
	)
	result, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	out := result.Output.([]any)
	if len(out) != 3 || out[0] != 2 || out[1] != 4 || out[2] != 6 {
		t.Errorf("output = %v, want [2 4 6]", out)
	}

	// nested names and loop bindings never escape into the parent scope
	for _, name := range []string{"twice", "item", "item_index"} {
		if _, ok := e.Scope().Lookup(name); ok {
			t.Errorf("%q leaked into the parent scope", name)
		}
	}
}

// TestForEachItemIndex verifies item_index threads through nested steps.
func TestForEachItemIndex(t *testing.T) {
	e := testEngine(t, Options{},
		&schema.TransformStep{Name: "letters", Arguments: `["a", "b"]`},
		&schema.ForEachStep{Name: "tagged", Arguments: "letters", Steps: []schema.Step{
			&schema.TransformStep{Name: "pair", Arguments: `{"i": item_index, "v": item}`},
		}},
	)
	result, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	out := result.Output.([]any)
	first := out[0].(map[string]any)
	if first["i"] != 0 || first["v"] != "a" {
		t.Errorf("first iteration = %v", first)
	}
}

// TestForEachEmptyList verifies zero iterations is a success, not an error.
func TestForEachEmptyList(t *testing.T) {
	e := testEngine(t, Options{},
		&schema.TransformStep{Name: "empty", Arguments: "[]"},
		&schema.ForEachStep{Name: "loop", Arguments: "empty", Steps: []schema.Step{
			&schema.TransformStep{Name: "inner", Arguments: "item"},
		}},
	)
	result, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out := result.Output.([]any); len(out) != 0 {
		t.Errorf("output = %v, want []", out)
	}
}

// TestForEachRejectsNonList verifies the iteration type check the validator
// hint points at.
func TestForEachRejectsNonList(t *testing.T) {
	e := testEngine(t, Options{},
		&schema.TransformStep{Name: "text", Arguments: `"not a list"`},
		&schema.ForEachStep{Name: "loop", Arguments: "text", Steps: []schema.Step{
			&schema.TransformStep{Name: "inner", Arguments: "item"},
		}},
	)
	_, err := e.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "expected a list") {
		t.Errorf("err = %v", err)
	}
}

// TestForEachNested verifies two levels of iteration scoping.
func TestForEachNested(t *testing.T) {
	e := testEngine(t, Options{},
		&schema.TransformStep{Name: "grid", Arguments: "[[1, 2], [3]]"},
		&schema.ForEachStep{Name: "rows", Arguments: "grid", Steps: []schema.Step{
			&schema.ForEachStep{Name: "cells", Arguments: "item", Steps: []schema.Step{
				&schema.TransformStep{Name: "inc", Arguments: "item + 10"},
			}},
		}},
	)
	result, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	rows := result.Output.([]any)
	first := rows[0].([]any)
	second := rows[1].([]any)
	if first[0] != 11 || first[1] != 12 || second[0] != 13 {
		t.Errorf("output = %v", result.Output)
	}
}
