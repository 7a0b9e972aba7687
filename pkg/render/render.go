// Package render parses and renders prompt templates. Templates use Go
// text/template syntax with the step's resolved arguments bound under .args,
// and fail at render time on missing keys.
package render

import (
	"fmt"
	"sort"
	"strings"
	"text/template"
	"text/template/parse"
)

// promptFuncMap provides string helpers available inside prompt templates.
// These supplement the built-in template functions (eq, ne, and, or, not, etc.).
var promptFuncMap = template.FuncMap{
	"hasPrefix":  strings.HasPrefix,
	"hasSuffix":  strings.HasSuffix,
	"contains":   strings.Contains,
	"lower":      strings.ToLower,
	"upper":      strings.ToUpper,
	"trim":       strings.TrimSpace,
	"split":      strings.Split,
	"join":       strings.Join,
	"replace":    strings.ReplaceAll,
	"trimPrefix": strings.TrimPrefix,
	"trimSuffix": strings.TrimSuffix,
}

// Template is a parsed prompt template.
type Template struct {
	tmpl *template.Template
}

// Parse parses src with missing-key errors enabled, so a reference to an
// argument key the step never produced fails the render instead of printing
// "<no value>".
func Parse(src string) (*Template, error) {
	tmpl, err := template.New("prompt").Funcs(promptFuncMap).Option("missingkey=error").Parse(src)
	if err != nil {
		return nil, err
	}
	return &Template{tmpl: tmpl}, nil
}

// Render executes the template with args bound under .args.
func (t *Template) Render(args map[string]any) (string, error) {
	if args == nil {
		args = map[string]any{}
	}
	var b strings.Builder
	if err := t.tmpl.Execute(&b, map[string]any{"args": args}); err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return b.String(), nil
}

// ArgKeys returns the sorted set of keys the template references as .args.K.
// Only direct field access is visible; keys reached through range variables
// or custom pipelines are not counted (best effort, like the validator that
// consumes this).
func (t *Template) ArgKeys() []string {
	set := make(map[string]bool)
	if t.tmpl.Tree != nil && t.tmpl.Tree.Root != nil {
		walkNode(t.tmpl.Tree.Root, set)
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func walkNode(node parse.Node, set map[string]bool) {
	switch n := node.(type) {
	case *parse.ListNode:
		if n == nil {
			return
		}
		for _, c := range n.Nodes {
			walkNode(c, set)
		}
	case *parse.ActionNode:
		walkPipe(n.Pipe, set)
	case *parse.IfNode:
		walkBranch(&n.BranchNode, set)
	case *parse.RangeNode:
		walkBranch(&n.BranchNode, set)
	case *parse.WithNode:
		walkBranch(&n.BranchNode, set)
	case *parse.TemplateNode:
		walkPipe(n.Pipe, set)
	}
}

func walkBranch(n *parse.BranchNode, set map[string]bool) {
	walkPipe(n.Pipe, set)
	if n.List != nil {
		walkNode(n.List, set)
	}
	if n.ElseList != nil {
		walkNode(n.ElseList, set)
	}
}

func walkPipe(pipe *parse.PipeNode, set map[string]bool) {
	if pipe == nil {
		return
	}
	for _, cmd := range pipe.Cmds {
		for _, arg := range cmd.Args {
			walkArg(arg, set)
		}
	}
}

func walkArg(arg parse.Node, set map[string]bool) {
	switch a := arg.(type) {
	case *parse.FieldNode:
		// .args.key[...] — Ident is ["args", "key", ...]
		if len(a.Ident) >= 2 && a.Ident[0] == "args" {
			set[a.Ident[1]] = true
		}
	case *parse.ChainNode:
		// (.args).key and parenthesized pipelines
		if f, ok := a.Node.(*parse.FieldNode); ok && len(f.Ident) == 1 && f.Ident[0] == "args" && len(a.Field) > 0 {
			set[a.Field[0]] = true
			return
		}
		walkArg(a.Node, set)
	case *parse.PipeNode:
		walkPipe(a, set)
	}
}
