package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/ormasoftchile/flume/pkg/expression"
	"github.com/ormasoftchile/flume/pkg/judge"
	"github.com/ormasoftchile/flume/pkg/render"
)

// Severity classifies a diagnostic. Warnings never fail validation.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic is a single validator finding, tied to the step and field that
// produced it.
type Diagnostic struct {
	Severity Severity `json:"severity"`
	Step     string   `json:"step_name"`
	Field    string   `json:"field"` // name, arguments, template, strategy
	Message  string   `json:"message"`
}

// String renders the finding the way the CLI prints it.
func (d Diagnostic) String() string {
	loc := d.Step
	if d.Field != "" {
		if loc == "" {
			loc = d.Field
		} else {
			loc += "." + d.Field
		}
	}
	if loc == "" {
		loc = "pipeline"
	}
	return fmt.Sprintf("[%s] %s: %s", d.Severity, loc, d.Message)
}

// Result aggregates the findings of one validation pass.
type Result struct {
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// OK reports whether no finding has error severity.
func (r *Result) OK() bool {
	for _, d := range r.Diagnostics {
		if d.Severity == SeverityError {
			return false
		}
	}
	return true
}

// Errors returns the error-severity findings.
func (r *Result) Errors() []Diagnostic { return r.filter(SeverityError) }

// Warnings returns the warning-severity findings.
func (r *Result) Warnings() []Diagnostic { return r.filter(SeverityWarning) }

func (r *Result) filter(sev Severity) []Diagnostic {
	var out []Diagnostic
	for _, d := range r.Diagnostics {
		if d.Severity == sev {
			out = append(out, d)
		}
	}
	return out
}

// ValidateFile loads the pipeline at path and validates it. Load failures
// (missing file, malformed YAML, structural mismatch) come back as the
// error return; they are not diagnostics because there is no pipeline to
// diagnose. A nil error means the Result carries every finding.
func ValidateFile(path string) (*Pipeline, *Result, error) {
	p, err := LoadFile(path)
	if err != nil {
		return nil, nil, err
	}
	diags := validateSemantic(p)
	diags = append(diags, Validate(p).Diagnostics...)
	return p, &Result{Diagnostics: diags}, nil
}

// Validate statically checks a pipeline without executing it: no file I/O,
// no LLM calls. Findings are collected rather than returned at the first
// failure so an author sees every problem in one pass.
//
// Checks:
//   - step name reservation and per-scope uniqueness
//   - expression syntax on every arguments field
//   - reference resolution against the names visible at each step
//   - template syntax on prompt steps
//   - template/arguments key cross-check on prompt steps
//   - iteration target type hint on for_each steps
//   - strategy and argument-key checks on evaluate steps
func Validate(p *Pipeline) *Result {
	var diags []Diagnostic
	diags = append(diags, checkNames(p.Steps, "")...)
	diags = append(diags, checkReferences(p.Steps, map[string]bool{"input": true})...)
	return &Result{Diagnostics: diags}
}

// checkNames walks every scope detecting reserved step names and duplicates.
// Scopes are independent: the same name may appear in two different for_each
// bodies, but never twice in one step list.
func checkNames(steps []Step, scopePath string) []Diagnostic {
	var diags []Diagnostic
	seen := map[string]int{}

	for i, step := range steps {
		name := step.StepName()
		if IsReserved(name) {
			diags = append(diags, Diagnostic{
				Severity: SeverityError,
				Step:     name,
				Field:    "name",
				Message:  fmt.Sprintf("Step name '%s' is reserved", name),
			})
		}

		if first, ok := seen[name]; ok {
			label := scopePath
			if label == "" {
				label = "top level"
			}
			diags = append(diags, Diagnostic{
				Severity: SeverityError,
				Step:     name,
				Field:    "name",
				Message:  fmt.Sprintf("Duplicate step name '%s' at %s (first at index %d)", name, label, first),
			})
		} else {
			seen[name] = i
		}

		if fe, ok := step.(*ForEachStep); ok {
			diags = append(diags, checkNames(fe.Steps, childScope(scopePath, fe.Name))...)
		}
	}
	return diags
}

func childScope(scopePath, name string) string {
	if scopePath == "" {
		return name
	}
	return scopePath + "/" + name
}

// checkReferences threads the set of names visible at each step, mirroring
// the executor's sequential writes: a step's own name becomes available only
// after its expressions are checked, so self references and forward
// references both fail. A for_each body sees everything its parent scope has
// accumulated so far plus item and item_index; names declared inside the
// body never escape back out.
func checkReferences(steps []Step, parentAvailable map[string]bool) []Diagnostic {
	var diags []Diagnostic
	available := make(map[string]bool, len(parentAvailable))
	for k := range parentAvailable {
		available[k] = true
	}

	for _, step := range steps {
		if args := stepArguments(step); args != "" {
			refs, err := expression.ExtractRoots(args)
			if err != nil {
				diags = append(diags, Diagnostic{
					Severity: SeverityError,
					Step:     step.StepName(),
					Field:    "arguments",
					Message:  fmt.Sprintf("Invalid expression: %v", err),
				})
			} else {
				for _, ref := range refs {
					if !available[ref] {
						diags = append(diags, Diagnostic{
							Severity: SeverityError,
							Step:     step.StepName(),
							Field:    "arguments",
							Message: fmt.Sprintf("Reference '%s' is not available. Available names: %v",
								ref, sortedNames(available)),
						})
					}
				}
			}
		}

		switch s := step.(type) {
		case *PromptStep:
			diags = append(diags, checkTemplate(s)...)
			diags = append(diags, crossCheckTemplateArgs(s)...)
		case *EvaluateStep:
			diags = append(diags, checkEvaluateArguments(s)...)
		case *ForEachStep:
			diags = append(diags, checkIterationTarget(s, steps)...)
			inner := make(map[string]bool, len(available)+2)
			for k := range available {
				inner[k] = true
			}
			inner["item"] = true
			inner["item_index"] = true
			diags = append(diags, checkReferences(s.Steps, inner)...)
		}

		available[step.StepName()] = true
	}
	return diags
}

// stepArguments returns the step's arguments expression. Empty means the
// step has none (only prompt steps may omit it).
func stepArguments(s Step) string {
	switch s := s.(type) {
	case *FindFilesStep:
		return s.Arguments
	case *ReadFileStep:
		return s.Arguments
	case *TransformStep:
		return s.Arguments
	case *ChunkStep:
		return s.Arguments
	case *PromptStep:
		return s.Arguments
	case *EvaluateStep:
		return s.Arguments
	case *ForEachStep:
		return s.Arguments
	}
	return ""
}

// checkTemplate parses a prompt template without rendering it.
func checkTemplate(s *PromptStep) []Diagnostic {
	if _, err := render.Parse(s.Template); err != nil {
		return []Diagnostic{{
			Severity: SeverityError,
			Step:     s.Name,
			Field:    "template",
			Message:  fmt.Sprintf("Invalid template: %v", err),
		}}
	}
	return nil
}

// crossCheckTemplateArgs compares the keys a prompt's arguments map literal
// produces with the .args.K references in its template. When arguments is
// anything other than a map literal the produced keys cannot be determined
// statically and the check is skipped.
func crossCheckTemplateArgs(s *PromptStep) []Diagnostic {
	if s.Arguments == "" {
		return nil
	}
	keys, ok := expression.MapLiteralKeys(s.Arguments)
	if !ok {
		return nil
	}
	tmpl, err := render.Parse(s.Template)
	if err != nil {
		return nil // checkTemplate already reported the syntax error
	}

	produced := make(map[string]bool, len(keys))
	for _, k := range keys {
		produced[k] = true
	}
	argKeys := append([]string(nil), keys...)
	sort.Strings(argKeys)

	referenced := tmpl.ArgKeys()
	refSet := make(map[string]bool, len(referenced))
	for _, k := range referenced {
		refSet[k] = true
	}

	var diags []Diagnostic
	for _, k := range referenced {
		if !produced[k] {
			diags = append(diags, Diagnostic{
				Severity: SeverityError,
				Step:     s.Name,
				Field:    "template",
				Message: fmt.Sprintf("Template references 'args.%s' but arguments does not produce key '%s'. Arguments keys: %v",
					k, k, argKeys),
			})
		}
	}
	for _, k := range argKeys {
		if !refSet[k] {
			diags = append(diags, Diagnostic{
				Severity: SeverityWarning,
				Step:     s.Name,
				Field:    "arguments",
				Message:  fmt.Sprintf("Arguments produces key '%s' but template never references 'args.%s'", k, k),
			})
		}
	}
	return diags
}

// checkEvaluateArguments verifies an evaluate step's strategy and, when
// arguments is a map literal, the keys it produces. Required keys that are
// missing are errors; keys belonging to the judge vocabulary but unused by
// this strategy are warnings; keys outside the vocabulary pass silently.
func checkEvaluateArguments(s *EvaluateStep) []Diagnostic {
	if !judge.Known(s.Strategy) {
		return []Diagnostic{{
			Severity: SeverityError,
			Step:     s.Name,
			Field:    "strategy",
			Message:  fmt.Sprintf("Unknown strategy '%s'. Valid strategies: %v", s.Strategy, judge.Names()),
		}}
	}

	keys, ok := expression.MapLiteralKeys(s.Arguments)
	if !ok {
		return nil
	}
	produced := make(map[string]bool, len(keys))
	for _, k := range keys {
		produced[k] = true
	}
	sortedKeys := append([]string(nil), keys...)
	sort.Strings(sortedKeys)

	required := judge.RequiredKeys(s.Strategy)
	requiredSet := make(map[string]bool, len(required))
	for _, k := range required {
		requiredSet[k] = true
	}

	var diags []Diagnostic
	for _, k := range required {
		if !produced[k] {
			diags = append(diags, Diagnostic{
				Severity: SeverityError,
				Step:     s.Name,
				Field:    "arguments",
				Message: fmt.Sprintf("Strategy '%s' requires key '%s' in arguments. Got keys: %v",
					s.Strategy, k, sortedKeys),
			})
		}
	}

	vocabulary := make(map[string]bool)
	for _, k := range judge.ArgumentVocabulary() {
		vocabulary[k] = true
	}
	for _, k := range sortedKeys {
		if requiredSet[k] || !vocabulary[k] {
			continue
		}
		diags = append(diags, Diagnostic{
			Severity: SeverityWarning,
			Step:     s.Name,
			Field:    "arguments",
			Message:  fmt.Sprintf("Strategy '%s' does not use key '%s'", s.Strategy, k),
		})
	}
	return diags
}

// checkIterationTarget warns when a for_each directly iterates an earlier
// read_file sibling. read_file always produces a string and for_each
// requires a list, so the step is guaranteed to fail at run time. Only a
// bare name triggers the hint: a sub-path like paper.sections may
// legitimately reach a list.
func checkIterationTarget(s *ForEachStep, siblings []Step) []Diagnostic {
	ref, ok := expression.BareIdentifier(s.Arguments)
	if !ok {
		return nil
	}

	kinds := make(map[string]Kind, len(siblings))
	for _, sib := range siblings {
		kinds[sib.StepName()] = sib.StepKind()
		if sib.StepName() == s.Name {
			break
		}
	}
	if kinds[ref] != KindReadFile {
		return nil
	}
	return []Diagnostic{{
		Severity: SeverityWarning,
		Step:     s.Name,
		Field:    "arguments",
		Message:  fmt.Sprintf("for_each iterates over '%s' which is a read_file step (produces a string, not a list)", ref),
	}}
}

func sortedNames(set map[string]bool) []string {
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// validateSemantic validates the pipeline's wire form against the generated
// JSON Schema and maps each leaf cause to a diagnostic.
func validateSemantic(p *Pipeline) []Diagnostic {
	data, err := json.Marshal(p.Doc())
	if err != nil {
		return semanticFault(fmt.Sprintf("marshal for schema validation: %v", err))
	}

	schemaJSON, err := GenerateJSONSchema()
	if err != nil {
		return semanticFault(fmt.Sprintf("generate schema: %v", err))
	}
	var schemaDoc any
	if err := json.Unmarshal(schemaJSON, &schemaDoc); err != nil {
		return semanticFault(fmt.Sprintf("unmarshal schema: %v", err))
	}

	c := sjsonschema.NewCompiler()
	if err := c.AddResource("pipeline-v0.json", schemaDoc); err != nil {
		return semanticFault(fmt.Sprintf("add schema resource: %v", err))
	}
	sch, err := c.Compile("pipeline-v0.json")
	if err != nil {
		return semanticFault(fmt.Sprintf("compile schema: %v", err))
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return semanticFault(fmt.Sprintf("unmarshal document: %v", err))
	}

	err = sch.Validate(doc)
	if err == nil {
		return nil
	}
	ve, ok := err.(*sjsonschema.ValidationError)
	if !ok {
		return semanticFault(err.Error())
	}
	var diags []Diagnostic
	for _, cause := range flattenValidationErrors(ve) {
		diags = append(diags, Diagnostic{
			Severity: SeverityError,
			Field:    strings.Join(cause.InstanceLocation, "/"),
			Message:  fmt.Sprintf("%v", cause.ErrorKind),
		})
	}
	return diags
}

func semanticFault(msg string) []Diagnostic {
	return []Diagnostic{{Severity: SeverityError, Message: msg}}
}

// flattenValidationErrors recursively collects all leaf validation errors.
func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}
