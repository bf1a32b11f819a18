package cfg

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mpst-go/mpst/ast"
)

// stubResolver implements Resolver over a fixed in-memory map, for tests
// that don't need a full registry.Registry.
type stubResolver struct {
	protos   map[string]*ast.Protocol
	mappings map[string]map[string]string // callee name -> formal->actual
}

func (s *stubResolver) Protocol(name string) (*ast.Protocol, bool) {
	p, ok := s.protos[name]
	return p, ok
}

func (s *stubResolver) RoleMapping(callerName string, call *ast.SubProtocolCall) (map[string]string, error) {
	return s.mappings[call.Target], nil
}

func msg(label, sender string, receivers ...string) ast.Interaction {
	return ast.MsgInteraction(&ast.Message{Label: label, Sender: sender, Receivers: receivers})
}

func TestBuildSingleMessageHasOneInitialAndTerminal(t *testing.T) {
	p := &ast.Protocol{Name: "P", Roles: []ast.Role{{Name: "A"}, {Name: "B"}}, Body: msg("Hi", "A", "B")}
	g, err := NewBuilder(&stubResolver{}).Build(p)
	require.NoError(t, err)
	require.Len(t, g.Terminals, 1)
	require.Equal(t, NodeInitial, g.Node(g.Initial).Kind)

	outs := g.Successors(g.Initial)
	require.Len(t, outs, 1)
	actionNode := g.Node(outs[0].To)
	require.Equal(t, NodeAction, actionNode.Kind)
	require.Equal(t, "Hi", actionNode.Action.Label)

	actionOuts := g.Successors(actionNode.ID)
	require.Len(t, actionOuts, 1)
	require.True(t, g.IsTerminal(actionOuts[0].To))
}

func TestBuildChoiceProducesPairedBranchMerge(t *testing.T) {
	choice := ast.ChoiceInteraction(&ast.Choice{
		Decider: "A",
		Branches: []ast.Interaction{
			msg("More", "A", "B"),
			msg("Stop", "A", "B"),
		},
	})
	p := &ast.Protocol{Name: "P", Roles: []ast.Role{{Name: "A"}, {Name: "B"}}, Body: choice}
	g, err := NewBuilder(&stubResolver{}).Build(p)
	require.NoError(t, err)

	var branchNode *Node
	for _, n := range g.Nodes {
		if n.Kind == NodeBranch {
			branchNode = n
		}
	}
	require.NotNil(t, branchNode)
	mergeID, ok := g.BranchOf[branchNode.ID]
	require.True(t, ok)
	require.Equal(t, NodeMerge, g.Node(mergeID).Kind)
	require.Equal(t, branchNode.ID, g.MergeOf[mergeID])

	outs := g.Successors(branchNode.ID)
	require.Len(t, outs, 2)
	require.Equal(t, EdgeBranch, outs[0].Kind)
}

func TestBuildParallelProducesPairedForkJoin(t *testing.T) {
	par := ast.ParallelInteraction(&ast.Parallel{
		Branches: []ast.Interaction{
			msg("Ping", "A", "B"),
			msg("Pong", "C", "D"),
		},
	})
	p := &ast.Protocol{Name: "P", Body: par}
	g, err := NewBuilder(&stubResolver{}).Build(p)
	require.NoError(t, err)

	var forkNode *Node
	for _, n := range g.Nodes {
		if n.Kind == NodeFork {
			forkNode = n
		}
	}
	require.NotNil(t, forkNode)
	joinID := g.ForkOf[forkNode.ID]
	require.Equal(t, NodeJoin, g.Node(joinID).Kind)
	require.Equal(t, forkNode.ID, g.JoinOf[joinID])
}

func TestBuildRecursionContinueJumpsBack(t *testing.T) {
	body := ast.Sequence(ast.Pos{},
		msg("Req", "C", "S"),
		ast.ContinueInteraction(&ast.Continue{Label: "Loop"}),
	)
	rec := ast.RecursionInteraction(&ast.Recursion{Label: "Loop", Body: body})
	p := &ast.Protocol{Name: "P", Body: rec}
	g, err := NewBuilder(&stubResolver{}).Build(p)
	require.NoError(t, err)

	var recNode *Node
	for _, n := range g.Nodes {
		if n.Kind == NodeRecursive {
			recNode = n
		}
	}
	require.NotNil(t, recNode)

	var foundContinueEdge bool
	for _, e := range g.Edges {
		if e.Kind == EdgeContinue && e.To == recNode.ID {
			foundContinueEdge = true
		}
	}
	require.True(t, foundContinueEdge, "expected a continue edge back to the rec node")
}

func TestBuildRecursionWithoutContinueFallsThrough(t *testing.T) {
	rec := ast.RecursionInteraction(&ast.Recursion{Label: "Loop", Body: msg("Req", "C", "S")})
	p := &ast.Protocol{Name: "P", Body: rec}
	g, err := NewBuilder(&stubResolver{}).Build(p)
	require.NoError(t, err)
	require.Len(t, g.Terminals, 1)

	var actionNode *Node
	for _, n := range g.Nodes {
		if n.Kind == NodeAction {
			actionNode = n
		}
	}
	require.NotNil(t, actionNode)
	outs := g.Successors(actionNode.ID)
	require.Len(t, outs, 1)
	require.True(t, g.IsTerminal(outs[0].To))
}

func TestBuildUnknownContinueLabelErrors(t *testing.T) {
	p := &ast.Protocol{Name: "P", Body: ast.ContinueInteraction(&ast.Continue{Label: "Nope"})}
	_, err := NewBuilder(&stubResolver{}).Build(p)
	require.Error(t, err)
	require.IsType(t, &UnknownRecursionLabelError{}, err)
}

func TestBuildSubProtocolCallEmitsCallNodeWithRoleMapping(t *testing.T) {
	sub := &ast.Protocol{
		Name:  "Sub",
		Roles: []ast.Role{{Name: "X"}, {Name: "Y"}},
		Body:  msg("Ping", "X", "Y"),
	}
	resolver := &stubResolver{
		protos:   map[string]*ast.Protocol{"Sub": sub},
		mappings: map[string]map[string]string{"Sub": {"X": "A", "Y": "B"}},
	}
	p := &ast.Protocol{
		Name:  "P",
		Roles: []ast.Role{{Name: "A"}, {Name: "B"}},
		Body:  ast.SubProtocolInteraction(&ast.SubProtocolCall{Target: "Sub", Arguments: []string{"A", "B"}}),
	}
	g, err := NewBuilder(resolver).Build(p)
	require.NoError(t, err)

	var callNode *Node
	for _, n := range g.Nodes {
		if n.Kind == NodeSubProtocol {
			callNode = n
		}
	}
	require.NotNil(t, callNode, "expected a NodeSubProtocol node, not an inlined callee body")
	require.Equal(t, "Sub", callNode.SubProtocolCall.Target)
	require.Equal(t, map[string]string{"X": "A", "Y": "B"}, callNode.RoleMapping)

	for _, n := range g.Nodes {
		require.NotEqual(t, NodeAction, n.Kind, "callee body must not be inlined into the caller's graph")
	}
}

func TestBuildUnknownSubProtocolErrors(t *testing.T) {
	p := &ast.Protocol{
		Name: "P",
		Body: ast.SubProtocolInteraction(&ast.SubProtocolCall{Target: "Missing"}),
	}
	_, err := NewBuilder(&stubResolver{protos: map[string]*ast.Protocol{}}).Build(p)
	require.Error(t, err)
	require.IsType(t, &UnknownSubProtocolError{}, err)
}
