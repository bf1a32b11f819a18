package distsim

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mpst-go/mpst/ast"
	"github.com/mpst-go/mpst/cfg"
	"github.com/mpst-go/mpst/config"
	"github.com/mpst-go/mpst/project"
)

type stubResolver struct{}

func (stubResolver) Protocol(name string) (*ast.Protocol, bool) { return nil, false }
func (stubResolver) RoleMapping(string, *ast.SubProtocolCall) (map[string]string, error) {
	return nil, nil
}

func msg(label, sender string, receivers ...string) ast.Interaction {
	return ast.MsgInteraction(&ast.Message{Label: label, Sender: sender, Receivers: receivers})
}

func buildAll(t *testing.T, p *ast.Protocol, roles []string) (*cfg.CFG, map[string]*project.CFSM) {
	t.Helper()
	g, err := cfg.NewBuilder(stubResolver{}).Build(p)
	require.NoError(t, err)
	cfsms, err := project.ProjectAll(g, roles)
	require.NoError(t, err)
	return g, cfsms
}

func runConfig() config.DistributedSimulatorConfig {
	return config.DistributedSimulatorConfig{
		SchedulingStrategy: config.ScheduleRoundRobin,
		DeliveryModel:      config.DeliveryFIFO,
		MaxGlobalSteps:     100,
		RecordTrace:        true,
	}
}

func TestRunSingleMessageCompletesBothRoles(t *testing.T) {
	p := &ast.Protocol{Name: "P", Roles: []ast.Role{{Name: "C"}, {Name: "S"}}, Body: msg("Req", "C", "S")}
	g, cfsms := buildAll(t, p, []string{"C", "S"})
	sim := New(g, cfsms, runConfig(), config.CFSMSimulatorConfig{RecordTrace: true, VerifyFIFO: true}, config.CallStackConfig{}, nil)

	trace, err := sim.Run()
	require.NoError(t, err)

	var completion bool
	for _, e := range trace.Events {
		if e.Kind == EventCompletion {
			completion = true
		}
	}
	require.True(t, completion)
	for role, rs := range sim.Simulators() {
		require.Truef(t, rs.Done(), "role %s did not complete", role)
	}
}

func TestRunSequenceDeliversInOrder(t *testing.T) {
	body := ast.Sequence(ast.Pos{}, msg("Ping", "A", "B"), msg("Pong", "B", "A"))
	p := &ast.Protocol{Name: "P", Roles: []ast.Role{{Name: "A"}, {Name: "B"}}, Body: body}
	g, cfsms := buildAll(t, p, []string{"A", "B"})
	sim := New(g, cfsms, runConfig(), config.CFSMSimulatorConfig{RecordTrace: true, VerifyFIFO: true}, config.CallStackConfig{}, nil)

	_, err := sim.Run()
	require.NoError(t, err)
	require.True(t, sim.Simulators()["A"].Done())
	require.True(t, sim.Simulators()["B"].Done())
}

func TestRunUninvolvedRoleCompletesImmediately(t *testing.T) {
	p := &ast.Protocol{Name: "P", Roles: []ast.Role{{Name: "A"}, {Name: "B"}, {Name: "C"}}, Body: msg("Hi", "A", "B")}
	g, cfsms := buildAll(t, p, []string{"A", "B", "C"})
	sim := New(g, cfsms, runConfig(), config.CFSMSimulatorConfig{RecordTrace: true}, config.CallStackConfig{}, nil)

	_, err := sim.Run()
	require.NoError(t, err)
	require.True(t, sim.Simulators()["C"].Done())
}

func TestMaxGlobalStepsExceeded(t *testing.T) {
	rec := ast.RecursionInteraction(&ast.Recursion{
		Label: "Loop",
		Body: ast.Sequence(ast.Pos{},
			msg("Ping", "A", "B"),
			ast.ContinueInteraction(&ast.Continue{Label: "Loop"}),
		),
	})
	p := &ast.Protocol{Name: "P", Roles: []ast.Role{{Name: "A"}, {Name: "B"}}, Body: rec}
	g, cfsms := buildAll(t, p, []string{"A", "B"})
	cfg_ := runConfig()
	cfg_.MaxGlobalSteps = 5
	sim := New(g, cfsms, cfg_, config.CFSMSimulatorConfig{MaxBufferSize: 0}, config.CallStackConfig{}, nil)

	_, err := sim.Run()
	require.Error(t, err)
	require.IsType(t, &ErrMaxGlobalStepsExceeded{}, err)
}
