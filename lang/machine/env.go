package machine

import "github.com/dolthub/swiss"

// An Env is a lexical scope node: a mapping from names to values with a link
// to the parent environment, or nil for the global environment. Environments
// form a DAG rooted at the global environment; a node is live while it is
// the current environment, is saved in a live call frame, or is captured by
// a reachable closure.
type Env struct {
	vars   *swiss.Map[string, Value]
	parent *Env
}

// NewEnv returns an empty environment with the given parent.
func NewEnv(parent *Env) *Env {
	return &Env{vars: swiss.NewMap[string, Value](8), parent: parent}
}

// Lookup resolves a name, walking the parent chain.
func (e *Env) Lookup(name string) (Value, bool) {
	for env := e; env != nil; env = env.parent {
		if v, ok := env.vars.Get(name); ok {
			return v, true
		}
	}
	return nil, false
}

// Define binds a name in this environment, shadowing any binding of the
// same name in an ancestor. Used for parameter binding and for injecting
// the host builtins into the global environment.
func (e *Env) Define(name string, v Value) {
	e.vars.Put(name, v)
}

// Assign sets a name in the nearest environment that already binds it, so
// that assignments in a function body update captured state. When no
// enclosing environment binds the name, it is defined in this one.
func (e *Env) Assign(name string, v Value) {
	for env := e; env != nil; env = env.parent {
		if _, ok := env.vars.Get(name); ok {
			env.vars.Put(name, v)
			return
		}
	}
	e.vars.Put(name, v)
}
