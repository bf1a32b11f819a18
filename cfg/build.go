package cfg

import "github.com/mpst-go/mpst/ast"

// Resolver is the subset of registry.Registry the builder needs: looking
// up a protocol declaration by name, and computing the formal->actual
// role binding for one `do` call site. Depending on this interface
// rather than a concrete registry type keeps this package free of an
// import cycle with package registry.
type Resolver interface {
	Protocol(name string) (*ast.Protocol, bool)
	RoleMapping(callerName string, call *ast.SubProtocolCall) (map[string]string, error)
}

// Builder builds a CFG for one protocol. A `do` call becomes a single
// NodeSubProtocol leaf carrying its resolved target and role mapping;
// the callee's body is never copied into the caller's graph.
type Builder struct {
	resolver Resolver
}

// NewBuilder returns a Builder that resolves `do` calls through r.
func NewBuilder(r Resolver) *Builder {
	return &Builder{resolver: r}
}

// Build constructs the complete CFG for p, per the 8 transformation
// rules of spec.md §4.3 (empty, sequence, message, choice, parallel,
// recursion, continue, sub-protocol call).
func (b *Builder) Build(p *ast.Protocol) (*CFG, error) {
	g := newCFG(p.Name)
	initNode := g.addNode(NodeInitial, p.Pos)
	g.Initial = initNode.ID

	bc := &buildContext{g: g, resolver: b.resolver}
	entry, exits, err := bc.build(p.Name, p.Body, newRecScope())
	if err != nil {
		return nil, err
	}
	g.link(initNode.ID, entry, EdgeSequence, 0)

	term := g.addNode(NodeTerminal, p.Pos)
	g.Terminals = append(g.Terminals, term.ID)
	bc.patch(exits, term.ID)
	return g, nil
}

// open is a dangling edge source: a node whose successor is not yet
// decided, recorded with the edge kind/branch index it should use once
// one is.
type open struct {
	from        NodeID
	kind        EdgeKind
	branchIndex int
}

// recScope tracks which NodeRecursive a `continue` label currently
// refers to, with shadowing for nested `rec` blocks reusing a label.
type recScope struct {
	labels map[string]NodeID
}

func newRecScope() *recScope {
	return &recScope{labels: make(map[string]NodeID)}
}

func (s *recScope) push(label string, id NodeID) (prev NodeID, had bool) {
	prev, had = s.labels[label]
	s.labels[label] = id
	return prev, had
}

func (s *recScope) pop(label string, prev NodeID, had bool) {
	if had {
		s.labels[label] = prev
	} else {
		delete(s.labels, label)
	}
}

func (s *recScope) lookup(label string) (NodeID, bool) {
	id, ok := s.labels[label]
	return id, ok
}

// buildContext carries the per-Build-call state: the graph under
// construction and the resolver used to validate `do` call targets and
// compute their role mappings.
type buildContext struct {
	g        *CFG
	resolver Resolver
}

func (bc *buildContext) patch(exits []open, target NodeID) {
	for _, o := range exits {
		bc.g.link(o.from, target, o.kind, o.branchIndex)
	}
}

// build compiles one interaction node into the graph, returning its
// entry node id and the list of dangling exit edges a following
// interaction (or the enclosing terminal) should be patched onto.
func (bc *buildContext) build(protocolName string, it ast.Interaction, scope *recScope) (NodeID, []open, error) {
	switch it.Kind {
	case ast.KindEmpty:
		n := bc.g.addNode(NodeMerge, it.Pos)
		return n.ID, []open{{from: n.ID, kind: EdgeSequence}}, nil

	case ast.KindSeq:
		return bc.buildSeq(protocolName, it.Seq, scope)

	case ast.KindMessage:
		n := bc.g.addNode(NodeAction, it.Pos)
		n.Action = it.Message
		return n.ID, []open{{from: n.ID, kind: EdgeSequence}}, nil

	case ast.KindChoice:
		return bc.buildChoice(protocolName, it.Choice, scope)

	case ast.KindParallel:
		return bc.buildParallel(protocolName, it.Parallel, scope)

	case ast.KindRecursion:
		return bc.buildRecursion(protocolName, it.Recursion, scope)

	case ast.KindContinue:
		return bc.buildContinue(it.Continue, scope)

	case ast.KindSubProtocol:
		return bc.buildSubProtocol(protocolName, it.SubProtocol, scope)

	default:
		n := bc.g.addNode(NodeMerge, it.Pos)
		return n.ID, []open{{from: n.ID, kind: EdgeSequence}}, nil
	}
}

func (bc *buildContext) buildSeq(protocolName string, items []ast.Interaction, scope *recScope) (NodeID, []open, error) {
	var first NodeID
	var pending []open
	for i, item := range items {
		entry, exits, err := bc.build(protocolName, item, scope)
		if err != nil {
			return NodeID{}, nil, err
		}
		if i == 0 {
			first = entry
		} else {
			bc.patch(pending, entry)
		}
		pending = exits
	}
	return first, pending, nil
}

// buildChoice implements the branch/merge transformation rule: one
// NodeBranch fans out via EdgeBranch to each alternative, and every
// alternative's dangling exits are patched to a single NodeMerge,
// satisfying I2's branch/merge pairing by construction.
func (bc *buildContext) buildChoice(protocolName string, c *ast.Choice, scope *recScope) (NodeID, []open, error) {
	branchNode := bc.g.addNode(NodeBranch, c.Pos)
	branchNode.Decider = c.Decider
	mergeNode := bc.g.addNode(NodeMerge, c.Pos)
	bc.g.BranchOf[branchNode.ID] = mergeNode.ID
	bc.g.MergeOf[mergeNode.ID] = branchNode.ID

	for i, branch := range c.Branches {
		entry, exits, err := bc.build(protocolName, branch, scope)
		if err != nil {
			return NodeID{}, nil, err
		}
		bc.g.link(branchNode.ID, entry, EdgeBranch, i)
		bc.patch(exits, mergeNode.ID)
	}
	return branchNode.ID, []open{{from: mergeNode.ID, kind: EdgeSequence}}, nil
}

// buildParallel implements the fork/join transformation rule, mirroring
// buildChoice but with EdgeFork/NodeJoin instead of EdgeBranch/NodeMerge,
// since parallel branches all execute rather than selecting one.
func (bc *buildContext) buildParallel(protocolName string, par *ast.Parallel, scope *recScope) (NodeID, []open, error) {
	forkNode := bc.g.addNode(NodeFork, par.Pos)
	joinNode := bc.g.addNode(NodeJoin, par.Pos)
	bc.g.ForkOf[forkNode.ID] = joinNode.ID
	bc.g.JoinOf[joinNode.ID] = forkNode.ID

	for i, branch := range par.Branches {
		entry, exits, err := bc.build(protocolName, branch, scope)
		if err != nil {
			return NodeID{}, nil, err
		}
		bc.g.link(forkNode.ID, entry, EdgeFork, i)
		bc.patch(exits, joinNode.ID)
	}
	return forkNode.ID, []open{{from: joinNode.ID, kind: EdgeSequence}}, nil
}

// buildRecursion creates the NodeRecursive entry marker a matching
// `continue` jumps back to. Per I4, falling off the end of the body
// without an explicit continue exits the loop rather than repeating it:
// the body's own dangling exits become the recursion construct's exits,
// exactly as for any other single interaction.
func (bc *buildContext) buildRecursion(protocolName string, r *ast.Recursion, scope *recScope) (NodeID, []open, error) {
	recNode := bc.g.addNode(NodeRecursive, r.Pos)
	recNode.RecLabel = r.Label

	prev, had := scope.push(r.Label, recNode.ID)
	entry, exits, err := bc.build(protocolName, r.Body, scope)
	scope.pop(r.Label, prev, had)
	if err != nil {
		return NodeID{}, nil, err
	}
	bc.g.link(recNode.ID, entry, EdgeSequence, 0)
	return recNode.ID, exits, nil
}

// buildContinue links back to the enclosing rec's entry node via an
// EdgeContinue and produces no dangling exits of its own: control has
// diverted to the loop head, so nothing in the current sequence follows
// it (I4).
func (bc *buildContext) buildContinue(c *ast.Continue, scope *recScope) (NodeID, []open, error) {
	target, ok := scope.lookup(c.Label)
	if !ok {
		return NodeID{}, nil, &UnknownRecursionLabelError{Label: c.Label}
	}
	marker := bc.g.addNode(NodeMerge, c.Pos)
	bc.g.link(marker.ID, target, EdgeContinue, 0)
	return marker.ID, nil, nil
}

// buildSubProtocol emits a single NodeSubProtocol leaf carrying the call
// target and its resolved role mapping, rather than inlining the
// callee's body at the call site (spec.md §4.3 rule 8: "new action node
// carrying a SubProtocolCall action ... expansion is deferred to
// projection/simulation"). The callee still has to exist and its arity
// still has to match; registry.Validate performs the same checks across
// the whole module, but the builder re-checks defensively since it can
// be used standalone.
func (bc *buildContext) buildSubProtocol(callerName string, call *ast.SubProtocolCall, scope *recScope) (NodeID, []open, error) {
	if _, ok := bc.resolver.Protocol(call.Target); !ok {
		return NodeID{}, nil, &UnknownSubProtocolError{Target: call.Target}
	}
	mapping, err := bc.resolver.RoleMapping(callerName, call)
	if err != nil {
		return NodeID{}, nil, err
	}

	n := bc.g.addNode(NodeSubProtocol, call.Pos)
	n.SubProtocolCall = call
	n.RoleMapping = mapping
	return n.ID, []open{{from: n.ID, kind: EdgeSequence}}, nil
}
