package cfgsim

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mpst-go/mpst/ast"
	"github.com/mpst-go/mpst/cfg"
	"github.com/mpst-go/mpst/config"
)

type stubResolver struct{}

func (stubResolver) Protocol(name string) (*ast.Protocol, bool) { return nil, false }
func (stubResolver) RoleMapping(string, *ast.SubProtocolCall) (map[string]string, error) {
	return nil, nil
}

func msg(label, sender string, receivers ...string) ast.Interaction {
	return ast.MsgInteraction(&ast.Message{Label: label, Sender: sender, Receivers: receivers})
}

func build(t *testing.T, p *ast.Protocol) *cfg.CFG {
	t.Helper()
	g, err := cfg.NewBuilder(stubResolver{}).Build(p)
	require.NoError(t, err)
	return g
}

func TestRunSimpleProtocolTerminates(t *testing.T) {
	p := &ast.Protocol{Name: "P", Body: msg("Req", "C", "S")}
	g := build(t, p)
	sim := New(g, config.CFGSimulatorConfig{RecordTrace: true, MaxSteps: 100}, config.CallStackConfig{MaxDepth: 10, MaxIterations: 100}, nil, nil)
	trace, err := sim.Run()
	require.NoError(t, err)

	var kinds []EventKind
	for _, e := range trace.Events {
		kinds = append(kinds, e.Kind)
	}
	require.Contains(t, kinds, EventActionFired)
	require.Contains(t, kinds, EventTerminated)
}

func TestRunChoiceFirstAlwaysTakesBranchZero(t *testing.T) {
	choice := ast.ChoiceInteraction(&ast.Choice{
		Decider: "C",
		Branches: []ast.Interaction{
			msg("More", "C", "S"),
			msg("Stop", "C", "S"),
		},
	})
	p := &ast.Protocol{Name: "P", Body: choice}
	g := build(t, p)
	sim := New(g, config.CFGSimulatorConfig{ChoiceStrategy: config.ChoiceFirst, RecordTrace: true, MaxSteps: 100},
		config.CallStackConfig{MaxDepth: 10, MaxIterations: 100}, nil, nil)
	trace, err := sim.Run()
	require.NoError(t, err)

	var fired []string
	for _, e := range trace.Events {
		if e.Kind == EventActionFired {
			fired = append(fired, e.Detail)
		}
	}
	require.Len(t, fired, 1)
	require.Contains(t, fired[0], "More")
}

func TestRunChoiceManualUsesChooser(t *testing.T) {
	choice := ast.ChoiceInteraction(&ast.Choice{
		Decider: "C",
		Branches: []ast.Interaction{
			msg("More", "C", "S"),
			msg("Stop", "C", "S"),
		},
	})
	p := &ast.Protocol{Name: "P", Body: choice}
	g := build(t, p)
	sim := New(g, config.CFGSimulatorConfig{ChoiceStrategy: config.ChoiceManual, RecordTrace: true, MaxSteps: 100},
		config.CallStackConfig{MaxDepth: 10, MaxIterations: 100},
		func(decider string, options int) int { return 1 }, nil)
	trace, err := sim.Run()
	require.NoError(t, err)

	var fired []string
	for _, e := range trace.Events {
		if e.Kind == EventActionFired {
			fired = append(fired, e.Detail)
		}
	}
	require.Len(t, fired, 1)
	require.Contains(t, fired[0], "Stop")
}

func TestRunParallelWaitsForBothBranchesAtJoin(t *testing.T) {
	par := ast.ParallelInteraction(&ast.Parallel{
		Branches: []ast.Interaction{
			msg("Ping", "A", "B"),
			msg("Pong", "X", "Y"),
		},
	})
	p := &ast.Protocol{Name: "P", Body: par}
	g := build(t, p)
	sim := New(g, config.CFGSimulatorConfig{RecordTrace: true, MaxSteps: 100}, config.CallStackConfig{MaxDepth: 10, MaxIterations: 100}, nil, nil)
	trace, err := sim.Run()
	require.NoError(t, err)

	var actionCount, joinCount int
	for _, e := range trace.Events {
		if e.Kind == EventActionFired {
			actionCount++
		}
		if e.Kind == EventJoinSync {
			joinCount++
		}
	}
	require.Equal(t, 2, actionCount)
	require.Equal(t, 1, joinCount)
}

type subResolver struct {
	protos map[string]*ast.Protocol
}

func (r subResolver) Protocol(name string) (*ast.Protocol, bool) {
	p, ok := r.protos[name]
	return p, ok
}

func (r subResolver) RoleMapping(string, *ast.SubProtocolCall) (map[string]string, error) {
	return map[string]string{"X": "A", "Y": "B"}, nil
}

type cfgResolver struct {
	resolver cfg.Resolver
	protos   map[string]*ast.Protocol
}

func (r cfgResolver) CFG(name string) (*cfg.CFG, error) {
	p, ok := r.protos[name]
	if !ok {
		return nil, fmt.Errorf("unknown protocol %s", name)
	}
	return cfg.NewBuilder(r.resolver).Build(p)
}

func TestRunSubProtocolCallRunsCalleeToCompletion(t *testing.T) {
	sub := &ast.Protocol{Name: "Sub", Roles: []ast.Role{{Name: "X"}, {Name: "Y"}}, Body: msg("Ping", "X", "Y")}
	resolver := subResolver{protos: map[string]*ast.Protocol{"Sub": sub}}
	call := ast.SubProtocolInteraction(&ast.SubProtocolCall{Target: "Sub", Arguments: []string{"A", "B"}})
	p := &ast.Protocol{Name: "P", Roles: []ast.Role{{Name: "A"}, {Name: "B"}}, Body: call}
	g, err := cfg.NewBuilder(resolver).Build(p)
	require.NoError(t, err)

	sim := New(g, config.CFGSimulatorConfig{RecordTrace: true, MaxSteps: 100}, config.CallStackConfig{MaxDepth: 10, MaxIterations: 100}, nil,
		cfgResolver{resolver: resolver, protos: map[string]*ast.Protocol{"Sub": sub}})
	trace, err := sim.Run()
	require.NoError(t, err)

	var kinds []EventKind
	for _, e := range trace.Events {
		kinds = append(kinds, e.Kind)
	}
	require.Contains(t, kinds, EventSubProtocolEnter)
	require.Contains(t, kinds, EventSubProtocolExit)
	require.Contains(t, kinds, EventActionFired)
	require.Contains(t, kinds, EventTerminated)
}

func TestRunSubProtocolCallWithoutResolverErrors(t *testing.T) {
	sub := &ast.Protocol{Name: "Sub", Roles: []ast.Role{{Name: "X"}, {Name: "Y"}}, Body: msg("Ping", "X", "Y")}
	resolver := subResolver{protos: map[string]*ast.Protocol{"Sub": sub}}
	call := ast.SubProtocolInteraction(&ast.SubProtocolCall{Target: "Sub", Arguments: []string{"A", "B"}})
	p := &ast.Protocol{Name: "P", Roles: []ast.Role{{Name: "A"}, {Name: "B"}}, Body: call}
	g, err := cfg.NewBuilder(resolver).Build(p)
	require.NoError(t, err)

	sim := New(g, config.CFGSimulatorConfig{RecordTrace: true, MaxSteps: 100}, config.CallStackConfig{MaxDepth: 10, MaxIterations: 100}, nil, nil)
	_, err = sim.Run()
	require.Error(t, err)
	require.IsType(t, &ErrSubProtocolNotFound{}, err)
}

func TestRunExceedingMaxStepsErrors(t *testing.T) {
	rec := ast.RecursionInteraction(&ast.Recursion{
		Label: "Loop",
		Body: ast.Sequence(ast.Pos{},
			msg("Ping", "A", "B"),
			ast.ContinueInteraction(&ast.Continue{Label: "Loop"}),
		),
	})
	p := &ast.Protocol{Name: "P", Body: rec}
	g := build(t, p)
	sim := New(g, config.CFGSimulatorConfig{RecordTrace: true, MaxSteps: 5}, config.CallStackConfig{MaxDepth: 10, MaxIterations: 1000}, nil, nil)
	_, err := sim.Run()
	require.Error(t, err)
	require.IsType(t, &ErrMaxStepsExceeded{}, err)
}
