// Package schema defines the Go types for the pipeline YAML document and
// provides strict parsing into a closed step union.
package schema

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Kind discriminates the step union.
type Kind string

const (
	KindFindFiles Kind = "find_files"
	KindReadFile  Kind = "read_file"
	KindTransform Kind = "transform"
	KindChunk     Kind = "chunk"
	KindPrompt    Kind = "prompt"
	KindEvaluate  Kind = "evaluate"
	KindForEach   Kind = "for_each"
)

// KindPipelineAlias is accepted in YAML as a synonym for for_each.
const KindPipelineAlias = "pipeline"

// Kinds lists every step kind in declaration order.
func Kinds() []Kind {
	return []Kind{KindFindFiles, KindReadFile, KindTransform, KindChunk,
		KindPrompt, KindEvaluate, KindForEach}
}

// Model aliases accepted by prompt and evaluate steps.
const (
	ModelHaiku  = "haiku"
	ModelSonnet = "sonnet"
	ModelOpus   = "opus"
)

// Defaults applied at load time.
const (
	DefaultChunkSize     = 4000
	DefaultOverlap       = 200
	DefaultPromptModel   = ModelSonnet
	DefaultEvaluateModel = ModelHaiku
)

// IsReserved reports whether name is a context binding steps may not shadow.
func IsReserved(name string) bool {
	return name == "input" || name == "item" || name == "item_index"
}

// Pipeline is a parsed pipeline with its steps converted to the typed union.
// InputSchema is the JSON Schema run inputs must conform to.
type Pipeline struct {
	Name        string
	Description string
	InputSchema map[string]any
	Steps       []Step
}

// UsesLLM reports whether the pipeline contains any prompt or evaluate step,
// including inside for_each bodies. Pipelines without one run with a nil
// client.
func (p *Pipeline) UsesLLM() bool {
	return stepsUseLLM(p.Steps)
}

func stepsUseLLM(steps []Step) bool {
	for _, s := range steps {
		switch s := s.(type) {
		case *PromptStep, *EvaluateStep:
			return true
		case *ForEachStep:
			if stepsUseLLM(s.Steps) {
				return true
			}
		}
	}
	return false
}

// Step is the closed set of pipeline step variants. The executor dispatches
// on the concrete type; there is no registration mechanism. Every variant
// carries an Arguments expression resolved against the execution context
// (optional only on prompt steps).
type Step interface {
	StepName() string
	StepKind() Kind
	step()
}

// FindFilesStep lists files matching a glob pattern inside the directory its
// Arguments expression resolves to.
type FindFilesStep struct {
	Name      string
	Arguments string
	Pattern   string
}

func (s *FindFilesStep) StepName() string { return s.Name }
func (s *FindFilesStep) StepKind() Kind   { return KindFindFiles }
func (s *FindFilesStep) step()            {}

// ReadFileStep reads the file its Arguments expression resolves to (a path
// string, or a record with a path field) as UTF-8 text.
type ReadFileStep struct {
	Name      string
	Arguments string
}

func (s *ReadFileStep) StepName() string { return s.Name }
func (s *ReadFileStep) StepKind() Kind   { return KindReadFile }
func (s *ReadFileStep) step()            {}

// TransformStep evaluates its Arguments expression and returns the result
// unchanged.
type TransformStep struct {
	Name      string
	Arguments string
}

func (s *TransformStep) StepName() string { return s.Name }
func (s *TransformStep) StepKind() Kind   { return KindTransform }
func (s *TransformStep) step()            {}

// ChunkStep splits the text its Arguments expression resolves to into
// sliding-window chunks.
type ChunkStep struct {
	Name      string
	Arguments string
	ChunkSize int
	Overlap   int
}

func (s *ChunkStep) StepName() string { return s.Name }
func (s *ChunkStep) StepKind() Kind   { return KindChunk }
func (s *ChunkStep) step()            {}

// PromptStep renders a template and sends it to an LLM. Arguments optionally
// produces the template variables. With OutputSchema set the reply is parsed
// as JSON and validated; otherwise the raw text is the step output.
type PromptStep struct {
	Name         string
	Arguments    string
	Model        string
	SystemPrompt string
	Template     string
	OutputSchema map[string]any
}

func (s *PromptStep) StepName() string { return s.Name }
func (s *PromptStep) StepKind() Kind   { return KindPrompt }
func (s *PromptStep) step()            {}

// EvaluateStep scores prior outputs with an LLM-judge strategy. Arguments
// must produce the strategy's argument record.
type EvaluateStep struct {
	Name      string
	Arguments string
	Strategy  string
	Model     string
}

func (s *EvaluateStep) StepName() string { return s.Name }
func (s *EvaluateStep) StepKind() Kind   { return KindEvaluate }
func (s *EvaluateStep) step()            {}

// ForEachStep runs nested steps once per element of the list its Arguments
// expression resolves to.
type ForEachStep struct {
	Name      string
	Arguments string
	Steps     []Step
}

func (s *ForEachStep) StepName() string { return s.Name }
func (s *ForEachStep) StepKind() Kind   { return KindForEach }
func (s *ForEachStep) step()            {}

// PipelineDoc is the YAML wire form of a pipeline document. It exists so the
// decoder stays flat and strict; Load converts it to the typed union. The
// JSON Schema export reflects this type.
type PipelineDoc struct {
	Name        string         `yaml:"name,omitempty" json:"name,omitempty"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Input       map[string]any `yaml:"input" json:"input"`
	Steps       []StepDoc      `yaml:"steps" json:"steps"`
}

// StepDoc is the wire form of a single step: the union of all kind fields.
type StepDoc struct {
	Name string `yaml:"name" json:"name"`
	Kind string `yaml:"kind" json:"kind" jsonschema:"enum=find_files,enum=read_file,enum=transform,enum=chunk,enum=prompt,enum=evaluate,enum=for_each,enum=pipeline"`

	// all kinds (optional on prompt)
	Arguments string `yaml:"arguments,omitempty" json:"arguments,omitempty"`

	// find_files
	Pattern string `yaml:"pattern,omitempty" json:"pattern,omitempty"`

	// chunk
	ChunkSize *int `yaml:"chunk_size,omitempty" json:"chunk_size,omitempty"`
	Overlap   *int `yaml:"overlap,omitempty" json:"overlap,omitempty"`

	// prompt / evaluate
	Model string `yaml:"model,omitempty" json:"model,omitempty" jsonschema:"enum=haiku,enum=sonnet,enum=opus"`

	// prompt
	SystemPrompt string         `yaml:"system_prompt,omitempty" json:"system_prompt,omitempty"`
	Template     string         `yaml:"template,omitempty" json:"template,omitempty"`
	OutputSchema map[string]any `yaml:"output_schema,omitempty" json:"output_schema,omitempty"`

	// evaluate
	Strategy string `yaml:"strategy,omitempty" json:"strategy,omitempty"`

	// for_each
	Steps []StepDoc `yaml:"steps,omitempty" json:"steps,omitempty"`
}

// LoadFile parses the pipeline YAML file at path.
func LoadFile(path string) (*Pipeline, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pipeline: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses a pipeline from an io.Reader with strict unknown-field
// rejection, then converts the steps into the typed union.
func Load(r io.Reader) (*Pipeline, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true) // reject unknown fields

	var doc PipelineDoc
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode pipeline: %w", err)
	}
	return fromDoc(&doc)
}

func fromDoc(doc *PipelineDoc) (*Pipeline, error) {
	if doc.Input == nil {
		return nil, fmt.Errorf("pipeline requires an 'input' JSON Schema (use {} for none)")
	}
	if doc.Steps == nil {
		return nil, fmt.Errorf("pipeline requires a 'steps' list")
	}
	steps, err := convertSteps(doc.Steps)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		Name:        doc.Name,
		Description: doc.Description,
		InputSchema: doc.Input,
		Steps:       steps,
	}, nil
}

func convertSteps(docs []StepDoc) ([]Step, error) {
	steps := make([]Step, 0, len(docs))
	for i := range docs {
		s, err := convertStep(&docs[i])
		if err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
		steps = append(steps, s)
	}
	return steps, nil
}

// fieldsByKind maps each kind to the wire fields it accepts beyond name/kind.
var fieldsByKind = map[Kind]map[string]bool{
	KindFindFiles: {"arguments": true, "pattern": true},
	KindReadFile:  {"arguments": true},
	KindTransform: {"arguments": true},
	KindChunk:     {"arguments": true, "chunk_size": true, "overlap": true},
	KindPrompt:    {"arguments": true, "model": true, "system_prompt": true, "template": true, "output_schema": true},
	KindEvaluate:  {"arguments": true, "strategy": true, "model": true},
	KindForEach:   {"arguments": true, "steps": true},
}

// setFields returns the wire fields that carry a value, for cross-kind
// misuse detection.
func (d *StepDoc) setFields() []string {
	var fs []string
	if d.Arguments != "" {
		fs = append(fs, "arguments")
	}
	if d.Pattern != "" {
		fs = append(fs, "pattern")
	}
	if d.ChunkSize != nil {
		fs = append(fs, "chunk_size")
	}
	if d.Overlap != nil {
		fs = append(fs, "overlap")
	}
	if d.Model != "" {
		fs = append(fs, "model")
	}
	if d.SystemPrompt != "" {
		fs = append(fs, "system_prompt")
	}
	if d.Template != "" {
		fs = append(fs, "template")
	}
	if d.OutputSchema != nil {
		fs = append(fs, "output_schema")
	}
	if d.Strategy != "" {
		fs = append(fs, "strategy")
	}
	if d.Steps != nil {
		fs = append(fs, "steps")
	}
	return fs
}

func convertStep(d *StepDoc) (Step, error) {
	if d.Name == "" {
		return nil, fmt.Errorf("step requires a non-empty 'name'")
	}
	if d.Kind == "" {
		return nil, fmt.Errorf("step %q requires a 'kind'", d.Name)
	}

	kind := Kind(d.Kind)
	if d.Kind == KindPipelineAlias {
		kind = KindForEach
	}
	allowed, known := fieldsByKind[kind]
	if !known {
		return nil, fmt.Errorf("step %q has unknown kind %q (expected one of: %s)",
			d.Name, d.Kind, kindList())
	}
	for _, f := range d.setFields() {
		if !allowed[f] {
			return nil, fmt.Errorf("step %q: field %q is not valid for kind %q", d.Name, f, d.Kind)
		}
	}

	switch kind {
	case KindFindFiles:
		if d.Arguments == "" {
			return nil, fmt.Errorf("find_files step %q requires 'arguments'", d.Name)
		}
		if d.Pattern == "" {
			return nil, fmt.Errorf("find_files step %q requires 'pattern'", d.Name)
		}
		return &FindFilesStep{Name: d.Name, Arguments: d.Arguments, Pattern: d.Pattern}, nil

	case KindReadFile:
		if d.Arguments == "" {
			return nil, fmt.Errorf("read_file step %q requires 'arguments'", d.Name)
		}
		return &ReadFileStep{Name: d.Name, Arguments: d.Arguments}, nil

	case KindTransform:
		if d.Arguments == "" {
			return nil, fmt.Errorf("transform step %q requires 'arguments'", d.Name)
		}
		return &TransformStep{Name: d.Name, Arguments: d.Arguments}, nil

	case KindChunk:
		if d.Arguments == "" {
			return nil, fmt.Errorf("chunk step %q requires 'arguments'", d.Name)
		}
		size := DefaultChunkSize
		if d.ChunkSize != nil {
			size = *d.ChunkSize
		}
		if size <= 0 {
			return nil, fmt.Errorf("chunk step %q: chunk_size must be positive, got %d", d.Name, size)
		}
		overlap := DefaultOverlap
		if d.Overlap != nil {
			overlap = *d.Overlap
		}
		if overlap < 0 {
			return nil, fmt.Errorf("chunk step %q: overlap must be non-negative, got %d", d.Name, overlap)
		}
		return &ChunkStep{Name: d.Name, Arguments: d.Arguments, ChunkSize: size, Overlap: overlap}, nil

	case KindPrompt:
		if d.Template == "" {
			return nil, fmt.Errorf("prompt step %q requires 'template'", d.Name)
		}
		model := d.Model
		if model == "" {
			model = DefaultPromptModel
		}
		if err := checkModel(model); err != nil {
			return nil, fmt.Errorf("prompt step %q: %w", d.Name, err)
		}
		return &PromptStep{
			Name:         d.Name,
			Arguments:    d.Arguments,
			Model:        model,
			SystemPrompt: d.SystemPrompt,
			Template:     d.Template,
			OutputSchema: d.OutputSchema,
		}, nil

	case KindEvaluate:
		if d.Arguments == "" {
			return nil, fmt.Errorf("evaluate step %q requires 'arguments'", d.Name)
		}
		if d.Strategy == "" {
			return nil, fmt.Errorf("evaluate step %q requires 'strategy'", d.Name)
		}
		model := d.Model
		if model == "" {
			model = DefaultEvaluateModel
		}
		if err := checkModel(model); err != nil {
			return nil, fmt.Errorf("evaluate step %q: %w", d.Name, err)
		}
		return &EvaluateStep{Name: d.Name, Arguments: d.Arguments, Strategy: d.Strategy, Model: model}, nil

	case KindForEach:
		if d.Arguments == "" {
			return nil, fmt.Errorf("for_each step %q requires 'arguments'", d.Name)
		}
		if len(d.Steps) == 0 {
			return nil, fmt.Errorf("for_each step %q requires a non-empty 'steps' list", d.Name)
		}
		nested, err := convertSteps(d.Steps)
		if err != nil {
			return nil, fmt.Errorf("for_each step %q: %w", d.Name, err)
		}
		return &ForEachStep{Name: d.Name, Arguments: d.Arguments, Steps: nested}, nil
	}

	// Unreachable: fieldsByKind gates every kind above.
	return nil, fmt.Errorf("step %q has unhandled kind %q", d.Name, d.Kind)
}

func checkModel(m string) error {
	switch m {
	case ModelHaiku, ModelSonnet, ModelOpus:
		return nil
	}
	return fmt.Errorf("unknown model %q (expected %s, %s, or %s)", m, ModelHaiku, ModelSonnet, ModelOpus)
}

func kindList() string {
	s := ""
	for i, k := range Kinds() {
		if i > 0 {
			s += ", "
		}
		s += string(k)
	}
	return s
}

// Doc converts a typed pipeline back to its wire form. The semantic
// validation phase and the describe surfaces work on this form.
func (p *Pipeline) Doc() *PipelineDoc {
	return &PipelineDoc{
		Name:        p.Name,
		Description: p.Description,
		Input:       p.InputSchema,
		Steps:       stepsToDocs(p.Steps),
	}
}

func stepsToDocs(steps []Step) []StepDoc {
	docs := make([]StepDoc, 0, len(steps))
	for _, s := range steps {
		docs = append(docs, stepToDoc(s))
	}
	return docs
}

func stepToDoc(s Step) StepDoc {
	switch s := s.(type) {
	case *FindFilesStep:
		return StepDoc{Name: s.Name, Kind: string(KindFindFiles), Arguments: s.Arguments, Pattern: s.Pattern}
	case *ReadFileStep:
		return StepDoc{Name: s.Name, Kind: string(KindReadFile), Arguments: s.Arguments}
	case *TransformStep:
		return StepDoc{Name: s.Name, Kind: string(KindTransform), Arguments: s.Arguments}
	case *ChunkStep:
		size, overlap := s.ChunkSize, s.Overlap
		return StepDoc{Name: s.Name, Kind: string(KindChunk), Arguments: s.Arguments, ChunkSize: &size, Overlap: &overlap}
	case *PromptStep:
		return StepDoc{Name: s.Name, Kind: string(KindPrompt), Arguments: s.Arguments, Model: s.Model,
			SystemPrompt: s.SystemPrompt, Template: s.Template, OutputSchema: s.OutputSchema}
	case *EvaluateStep:
		return StepDoc{Name: s.Name, Kind: string(KindEvaluate), Arguments: s.Arguments,
			Strategy: s.Strategy, Model: s.Model}
	case *ForEachStep:
		return StepDoc{Name: s.Name, Kind: string(KindForEach), Arguments: s.Arguments, Steps: stepsToDocs(s.Steps)}
	}
	return StepDoc{}
}
