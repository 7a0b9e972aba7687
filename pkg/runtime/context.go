package runtime

import (
	"fmt"
	"sort"
)

// Context is the scoped name-to-value mapping steps read from and write
// into. A context is owned by exactly one step sequence; for_each iterations
// get child contexts that snapshot the parent's bindings at branch time, so
// writes in one iteration are invisible to the parent and to siblings.
type Context struct {
	data map[string]any
}

// NewContext seeds a context with the run input bound under "input".
func NewContext(input map[string]any) *Context {
	return &Context{data: map[string]any{"input": input}}
}

// SetResult binds a step's output under its name. Binding a name twice is a
// data-integrity error; the validator's per-scope uniqueness check makes it
// unreachable for loaded pipelines.
func (c *Context) SetResult(name string, value any) error {
	if _, exists := c.data[name]; exists {
		return fmt.Errorf("step name '%s' already holds a result", name)
	}
	c.data[name] = value
	return nil
}

// Lookup returns the value bound under name.
func (c *Context) Lookup(name string) (any, bool) {
	v, ok := c.data[name]
	return v, ok
}

// Names returns every bound name, sorted.
func (c *Context) Names() []string {
	names := make([]string, 0, len(c.data))
	for n := range c.data {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Env returns a flat copy of the bindings for expression evaluation. The
// copy keeps evaluator-side mutation from leaking back into the scope.
func (c *Context) Env() map[string]any {
	env := make(map[string]any, len(c.data))
	for k, v := range c.data {
		env[k] = v
	}
	return env
}

// Child branches an isolated scope: a copy of the current bindings overlaid
// with extra, where extra shadows same-named parent entries. Later writes to
// the parent never appear in the child and vice versa.
func (c *Context) Child(extra map[string]any) *Context {
	data := make(map[string]any, len(c.data)+len(extra))
	for k, v := range c.data {
		data[k] = v
	}
	for k, v := range extra {
		data[k] = v
	}
	return &Context{data: data}
}
