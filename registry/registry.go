// Package registry resolves protocol names to declarations across a
// module (and its imports), computes `do`-call dependency graphs, checks
// for missing targets/cycles/arity mismatches, and memoises the CFG built
// for each protocol (spec.md §4.2).
package registry

import (
	"fmt"
	"sort"

	"github.com/mpst-go/mpst/ast"
	"github.com/mpst-go/mpst/cfg"
	"github.com/mpst-go/mpst/project"
)

// Registry indexes one or more parsed modules by protocol name. Modules
// are typically the entry module plus whatever its imports pulled in;
// this package does not itself resolve import names to source files
// (config.ModuleSource does that) — it only indexes whatever *ast.Module
// values it is given.
type Registry struct {
	protocols map[string]*ast.Protocol
	order     []string // insertion order, for deterministic iteration

	cfgCache  map[string]*cfg.CFG
	cfsmCache map[string]*project.CFSM
	builder   *cfg.Builder
}

// New builds a Registry from one or more parsed modules. A protocol name
// declared in more than one module is a DuplicateProtocolError.
func New(modules ...*ast.Module) (*Registry, error) {
	r := &Registry{
		protocols: make(map[string]*ast.Protocol),
		cfgCache:  make(map[string]*cfg.CFG),
		cfsmCache: make(map[string]*project.CFSM),
	}
	for _, m := range modules {
		for _, p := range m.Protocols {
			if _, exists := r.protocols[p.Name]; exists {
				return nil, &DuplicateProtocolError{Name: p.Name}
			}
			r.protocols[p.Name] = p
			r.order = append(r.order, p.Name)
		}
	}
	r.builder = cfg.NewBuilder(r)
	return r, nil
}

// Resolve returns the declaration for name, or an UnknownProtocolError.
func (r *Registry) Resolve(name string) (*ast.Protocol, error) {
	p, ok := r.protocols[name]
	if !ok {
		return nil, &UnknownProtocolError{Name: name}
	}
	return p, nil
}

// Protocol implements cfg.Resolver.
func (r *Registry) Protocol(name string) (*ast.Protocol, bool) {
	p, ok := r.protocols[name]
	return p, ok
}

// Names returns every registered protocol name in declaration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Dependencies returns every protocol transitively reachable from name
// via `do` calls, not including name itself, in a deterministic
// (sorted) order.
func (r *Registry) Dependencies(name string) ([]string, error) {
	if _, err := r.Resolve(name); err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var walk func(string) error
	walk = func(n string) error {
		p, err := r.Resolve(n)
		if err != nil {
			return err
		}
		for _, target := range subProtocolTargets(p.Body) {
			if seen[target] {
				continue
			}
			if _, err := r.Resolve(target); err != nil {
				return err
			}
			seen[target] = true
			if err := walk(target); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(name); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

// Validate checks every registered protocol for: a `do` call to an
// undeclared protocol (UnknownProtocolError), a `do` call whose argument
// count does not match the target's declared role count
// (RoleMismatchError), and a cycle in the do-call graph
// (ProtocolCycleError) — spec.md §4.2's "acyclic protocol dependency
// graph" invariant (I8).
func (r *Registry) Validate() error {
	for _, name := range r.order {
		p := r.protocols[name]
		for _, call := range subProtocolCalls(p.Body) {
			target, ok := r.protocols[call.Target]
			if !ok {
				return &UnknownProtocolError{Name: call.Target}
			}
			if len(call.Arguments) != len(target.Roles) {
				return &RoleMismatchError{
					Caller: name, Callee: call.Target,
					Expected: len(target.Roles), Got: len(call.Arguments),
				}
			}
		}
	}
	return r.checkAcyclic()
}

// checkAcyclic runs a grey/black three-colour DFS over the do-call graph
// and reports the first cycle found.
func (r *Registry) checkAcyclic() error {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(r.order))
	var path []string
	var visit func(name string) error
	visit = func(name string) error {
		color[name] = grey
		path = append(path, name)
		p := r.protocols[name]
		for _, call := range subProtocolTargets(p.Body) {
			switch color[call] {
			case grey:
				return &ProtocolCycleError{Cycle: append(append([]string{}, path...), call)}
			case white:
				if err := visit(call); err != nil {
					return err
				}
			}
		}
		path = path[:len(path)-1]
		color[name] = black
		return nil
	}
	for _, name := range r.order {
		if color[name] == white {
			if err := visit(name); err != nil {
				return err
			}
		}
	}
	return nil
}

// RoleMapping computes the formal-to-actual role binding for a single
// `do Target(actual1, actual2, ...)` call site, keyed by the callee's
// declared role names in order. It returns a RoleMismatchError if the
// arity does not match.
func (r *Registry) RoleMapping(callerName string, call *ast.SubProtocolCall) (map[string]string, error) {
	target, err := r.Resolve(call.Target)
	if err != nil {
		return nil, err
	}
	if len(call.Arguments) != len(target.Roles) {
		return nil, &RoleMismatchError{
			Caller: callerName, Callee: call.Target,
			Expected: len(target.Roles), Got: len(call.Arguments),
		}
	}
	mapping := make(map[string]string, len(target.Roles))
	for i, formal := range target.Roles {
		mapping[formal.Name] = call.Arguments[i]
	}
	return mapping, nil
}

// CFG returns the control-flow graph for the named protocol, building
// and memoising it on first request. A subsequent call returns the
// cached graph; it is safe to call CFG for a protocol that itself `do`s
// other protocols, since the builder only looks each callee up through
// the Registry's Protocol/RoleMapping methods and never builds the
// callee's own graph.
func (r *Registry) CFG(name string) (*cfg.CFG, error) {
	if g, ok := r.cfgCache[name]; ok {
		return g, nil
	}
	p, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	g, err := r.builder.Build(p)
	if err != nil {
		return nil, err
	}
	r.cfgCache[name] = g
	return g, nil
}

// CFSM returns role's projected CFSM for the named protocol, building
// and memoising both the CFG and the projection on first request. It
// satisfies cfsmsim.Resolver, letting a cfsmsim.Simulator resolve a `do`
// call's target without depending on this package directly.
func (r *Registry) CFSM(name, role string) (*project.CFSM, error) {
	key := name + "/" + role
	if m, ok := r.cfsmCache[key]; ok {
		return m, nil
	}
	g, err := r.CFG(name)
	if err != nil {
		return nil, err
	}
	m, err := project.Project(g, role)
	if err != nil {
		return nil, err
	}
	r.cfsmCache[key] = m
	return m, nil
}

// subProtocolTargets returns the (possibly duplicated) list of `do`
// target names reachable directly within an interaction tree, without
// descending into other protocols.
func subProtocolTargets(it ast.Interaction) []string {
	var out []string
	for _, call := range subProtocolCalls(it) {
		out = append(out, call.Target)
	}
	return out
}

// subProtocolCalls walks an interaction tree and returns every
// SubProtocolCall node found, in encounter order.
func subProtocolCalls(it ast.Interaction) []*ast.SubProtocolCall {
	var out []*ast.SubProtocolCall
	var walk func(ast.Interaction)
	walk = func(n ast.Interaction) {
		switch n.Kind {
		case ast.KindSubProtocol:
			out = append(out, n.SubProtocol)
		case ast.KindSeq:
			for _, c := range n.Seq {
				walk(c)
			}
		case ast.KindChoice:
			for _, b := range n.Choice.Branches {
				walk(b)
			}
		case ast.KindParallel:
			for _, b := range n.Parallel.Branches {
				walk(b)
			}
		case ast.KindRecursion:
			walk(n.Recursion.Body)
		}
	}
	walk(it)
	return out
}

// DuplicateProtocolError reports two modules declaring the same protocol
// name.
type DuplicateProtocolError struct {
	Name string
}

func (e *DuplicateProtocolError) Error() string {
	return fmt.Sprintf("registry: protocol %q declared more than once", e.Name)
}

// UnknownProtocolError reports a reference (direct Resolve, or a `do`
// call) to a protocol name that was never declared.
type UnknownProtocolError struct {
	Name string
}

func (e *UnknownProtocolError) Error() string {
	return fmt.Sprintf("registry: unknown protocol %q", e.Name)
}

// RoleMismatchError reports a `do` call whose argument count does not
// match the callee's declared role count.
type RoleMismatchError struct {
	Caller, Callee string
	Expected, Got  int
}

func (e *RoleMismatchError) Error() string {
	return fmt.Sprintf("registry: %s calls do %s with %d argument(s), expected %d",
		e.Caller, e.Callee, e.Got, e.Expected)
}

// ProtocolCycleError reports a cycle in the `do`-call dependency graph
// (spec.md §4.2 invariant I8).
type ProtocolCycleError struct {
	Cycle []string
}

func (e *ProtocolCycleError) Error() string {
	return fmt.Sprintf("registry: cyclic protocol dependency: %v", e.Cycle)
}
