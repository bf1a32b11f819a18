// Package cfg builds the control-flow graph representation of a global
// protocol's interaction tree (spec.md §4.3): explicit initial/terminal
// markers, one node per message/branch/merge/fork/join/recursion point,
// and edges recording how control passes between them.
package cfg

import (
	"fmt"

	uuid "github.com/satori/go.uuid"

	"github.com/mpst-go/mpst/ast"
)

// NodeID uniquely identifies a node within one CFG.
type NodeID uuid.UUID

func newNodeID() NodeID { return NodeID(uuid.NewV4()) }

// String renders a NodeID the way the teacher's identity types do.
func (id NodeID) String() string { return uuid.UUID(id).String() }

// NodeKind tags which variant of Node is populated, per spec.md §4.3's
// node taxonomy.
type NodeKind int

const (
	NodeInitial NodeKind = iota
	NodeTerminal
	NodeAction
	NodeBranch
	NodeMerge
	NodeFork
	NodeJoin
	NodeRecursive
	NodeSubProtocol
)

func (k NodeKind) String() string {
	switch k {
	case NodeInitial:
		return "initial"
	case NodeTerminal:
		return "terminal"
	case NodeAction:
		return "action"
	case NodeBranch:
		return "branch"
	case NodeMerge:
		return "merge"
	case NodeFork:
		return "fork"
	case NodeJoin:
		return "join"
	case NodeRecursive:
		return "recursive"
	case NodeSubProtocol:
		return "subprotocol"
	default:
		return "unknown"
	}
}

// Node is one point in the control-flow graph. Exactly the fields
// relevant to Kind are meaningful; the rest are zero.
type Node struct {
	ID   NodeID
	Kind NodeKind
	Pos  ast.Pos

	// Action is set when Kind == NodeAction: the message transferred at
	// this point.
	Action *ast.Message

	// Decider is set when Kind == NodeBranch: the role whose local
	// choice this branch point represents.
	Decider string

	// RecLabel is set when Kind == NodeRecursive: the source-level label
	// used by matching `continue` nodes.
	RecLabel string

	// SubProtocolCall is set when Kind == NodeSubProtocol: the `do` call
	// this node represents. Expansion (deciding per role whether it is a
	// participant) is deferred to projection and simulation rather than
	// performed here, per spec.md §4.3 rule 8.
	SubProtocolCall *ast.SubProtocolCall

	// RoleMapping is set when Kind == NodeSubProtocol: the callee's
	// formal-to-actual role binding computed at this call site.
	RoleMapping map[string]string
}

// EdgeKind tags how control passes from one node to the next.
type EdgeKind int

const (
	EdgeSequence EdgeKind = iota
	EdgeBranch
	EdgeFork
	EdgeContinue
)

func (k EdgeKind) String() string {
	switch k {
	case EdgeSequence:
		return "sequence"
	case EdgeBranch:
		return "branch"
	case EdgeFork:
		return "fork"
	case EdgeContinue:
		return "continue"
	default:
		return "unknown"
	}
}

// Edge connects two nodes. BranchIndex distinguishes the N branches out
// of a single NodeBranch or NodeFork (0-based, matching declaration
// order); it is meaningless on an EdgeSequence/EdgeContinue edge.
type Edge struct {
	ID          NodeID
	Kind        EdgeKind
	From, To    NodeID
	BranchIndex int
}

// CFG is the complete control-flow graph for one protocol. A `do` call
// is represented by a single NodeSubProtocol node carrying the callee
// name and role mapping rather than the callee's body inlined at the
// call site; expanding it is the job of projection and simulation.
type CFG struct {
	Protocol  string
	Nodes     map[NodeID]*Node
	Edges     []*Edge
	Out       map[NodeID][]*Edge
	In        map[NodeID][]*Edge
	Initial   NodeID
	Terminals []NodeID

	// ForkOf/JoinOf pair each NodeFork with its matching NodeJoin and
	// vice versa, satisfying spec.md §4.3 invariant I2 by construction:
	// the builder never creates one without the other.
	ForkOf map[NodeID]NodeID
	JoinOf map[NodeID]NodeID

	// BranchOf/MergeOf do the same for NodeBranch/NodeMerge pairs (I2).
	BranchOf map[NodeID]NodeID
	MergeOf  map[NodeID]NodeID
}

func newCFG(protocol string) *CFG {
	return &CFG{
		Protocol: protocol,
		Nodes:    make(map[NodeID]*Node),
		Out:      make(map[NodeID][]*Edge),
		In:       make(map[NodeID][]*Edge),
		ForkOf:   make(map[NodeID]NodeID),
		JoinOf:   make(map[NodeID]NodeID),
		BranchOf: make(map[NodeID]NodeID),
		MergeOf:  make(map[NodeID]NodeID),
	}
}

func (g *CFG) addNode(kind NodeKind, pos ast.Pos) *Node {
	n := &Node{ID: newNodeID(), Kind: kind, Pos: pos}
	g.Nodes[n.ID] = n
	return n
}

func (g *CFG) link(from, to NodeID, kind EdgeKind, branchIndex int) *Edge {
	e := &Edge{ID: newNodeID(), Kind: kind, From: from, To: to, BranchIndex: branchIndex}
	g.Edges = append(g.Edges, e)
	g.Out[from] = append(g.Out[from], e)
	g.In[to] = append(g.In[to], e)
	return e
}

// Node looks up a node by id, panicking on an id this graph did not
// issue — a programmer error, not a data error, anywhere it happens.
func (g *CFG) Node(id NodeID) *Node {
	n, ok := g.Nodes[id]
	if !ok {
		panic(fmt.Sprintf("cfg: unknown node id %s", id))
	}
	return n
}

// Successors returns the outgoing edges of a node, in creation order.
func (g *CFG) Successors(id NodeID) []*Edge { return g.Out[id] }

// Predecessors returns the incoming edges of a node, in creation order.
func (g *CFG) Predecessors(id NodeID) []*Edge { return g.In[id] }

// IsTerminal reports whether id is one of the graph's terminal nodes.
func (g *CFG) IsTerminal(id NodeID) bool {
	for _, t := range g.Terminals {
		if t == id {
			return true
		}
	}
	return false
}
