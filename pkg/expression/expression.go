// Package expression evaluates pipeline expressions against the execution
// context and extracts the context names an expression references.
//
// It uses the expr-lang/expr library. Expressions see the context as a flat
// environment map, so `chunks.chunks` is member access on the `chunks`
// binding and `filter(items, .verified)` filters the `items` binding.
//
// Note: expr uses "contains" as a string operator (substring matching); use
// "in" for membership checks.
package expression

import (
	"fmt"
	"sort"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
)

// Evaluate compiles and runs src against env. Expressions are evaluated once
// per step, so programs are compiled per call rather than cached.
func Evaluate(src string, env map[string]any) (any, error) {
	program, err := expr.Compile(src, expr.Env(env))
	if err != nil {
		return nil, fmt.Errorf("compile expression: %w", err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("evaluate expression: %w", err)
	}
	return out, nil
}

// ExtractRoots returns the sorted set of context names src references.
// A member chain counts only its base (`chunks.chunks` references `chunks`),
// closure shorthand (`#`, `.field`) and builtin names never count, and
// let-bound names are subtracted from the body they scope.
func ExtractRoots(src string) ([]string, error) {
	tree, err := parser.Parse(src)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool)
	collectRoots(tree.Node, map[string]bool{}, set)
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// collectRoots walks the expr AST. bound holds let-declared names in scope.
// Each node kind is handled explicitly so a parser upgrade that adds kinds
// surfaces here instead of silently miscounting.
func collectRoots(node ast.Node, bound map[string]bool, out map[string]bool) {
	switch n := node.(type) {
	case nil:
		return

	case *ast.NilNode, *ast.IntegerNode, *ast.FloatNode, *ast.BoolNode,
		*ast.StringNode, *ast.ConstantNode:
		return

	case *ast.IdentifierNode:
		if !bound[n.Value] {
			out[n.Value] = true
		}

	case *ast.PointerNode:
		// closure shorthand (# and .field) resolves inside the closure,
		// never against the context
		return

	case *ast.MemberNode:
		collectRoots(n.Node, bound, out)
		switch n.Property.(type) {
		case *ast.StringNode, *ast.IntegerNode:
			// static property access, not a reference
		default:
			collectRoots(n.Property, bound, out)
		}

	case *ast.ChainNode:
		collectRoots(n.Node, bound, out)

	case *ast.SliceNode:
		collectRoots(n.Node, bound, out)
		collectRoots(n.From, bound, out)
		collectRoots(n.To, bound, out)

	case *ast.CallNode:
		collectRoots(n.Callee, bound, out)
		for _, a := range n.Arguments {
			collectRoots(a, bound, out)
		}

	case *ast.BuiltinNode:
		// the builtin's name is not a context reference
		for _, a := range n.Arguments {
			collectRoots(a, bound, out)
		}

	case *ast.PredicateNode:
		collectRoots(n.Node, bound, out)

	case *ast.UnaryNode:
		collectRoots(n.Node, bound, out)

	case *ast.BinaryNode:
		collectRoots(n.Left, bound, out)
		collectRoots(n.Right, bound, out)

	case *ast.ConditionalNode:
		collectRoots(n.Cond, bound, out)
		collectRoots(n.Exp1, bound, out)
		collectRoots(n.Exp2, bound, out)

	case *ast.ArrayNode:
		for _, e := range n.Nodes {
			collectRoots(e, bound, out)
		}

	case *ast.MapNode:
		for _, p := range n.Pairs {
			collectRoots(p, bound, out)
		}

	case *ast.PairNode:
		switch n.Key.(type) {
		case *ast.StringNode, *ast.IntegerNode:
			// literal key
		default:
			collectRoots(n.Key, bound, out)
		}
		collectRoots(n.Value, bound, out)

	case *ast.VariableDeclaratorNode:
		collectRoots(n.Value, bound, out)
		inner := make(map[string]bool, len(bound)+1)
		for k := range bound {
			inner[k] = true
		}
		inner[n.Name] = true
		collectRoots(n.Expr, inner, out)

	case *ast.SequenceNode:
		for _, e := range n.Nodes {
			collectRoots(e, bound, out)
		}
	}
}

// MapLiteralKeys returns the string keys of src in source order when src is
// a single map literal. ok is false for anything else, including unparseable
// input; callers treat that as "not statically analyzable".
func MapLiteralKeys(src string) ([]string, bool) {
	tree, err := parser.Parse(src)
	if err != nil {
		return nil, false
	}
	m, ok := tree.Node.(*ast.MapNode)
	if !ok {
		return nil, false
	}
	keys := make([]string, 0, len(m.Pairs))
	for _, p := range m.Pairs {
		pair, ok := p.(*ast.PairNode)
		if !ok {
			continue
		}
		if k, ok := pair.Key.(*ast.StringNode); ok {
			keys = append(keys, k.Value)
		}
	}
	return keys, true
}

// BareIdentifier reports whether src is a single identifier, returning it.
func BareIdentifier(src string) (string, bool) {
	tree, err := parser.Parse(src)
	if err != nil {
		return "", false
	}
	id, ok := tree.Node.(*ast.IdentifierNode)
	if !ok {
		return "", false
	}
	return id.Value, true
}
