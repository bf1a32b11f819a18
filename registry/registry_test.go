package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mpst-go/mpst/ast"
)

func msg(label, sender string, receivers ...string) ast.Interaction {
	return ast.MsgInteraction(&ast.Message{Label: label, Sender: sender, Receivers: receivers})
}

func TestResolveAndNames(t *testing.T) {
	mod := &ast.Module{Protocols: []*ast.Protocol{
		{Name: "A", Body: msg("Hi", "X", "Y")},
		{Name: "B", Body: msg("Hi", "X", "Y")},
	}}
	r, err := New(mod)
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B"}, r.Names())

	p, err := r.Resolve("A")
	require.NoError(t, err)
	require.Equal(t, "A", p.Name)

	_, err = r.Resolve("Missing")
	require.Error(t, err)
	require.IsType(t, &UnknownProtocolError{}, err)
}

func TestDuplicateProtocolNameRejected(t *testing.T) {
	mod := &ast.Module{Protocols: []*ast.Protocol{
		{Name: "A", Body: msg("Hi", "X", "Y")},
		{Name: "A", Body: msg("Bye", "X", "Y")},
	}}
	_, err := New(mod)
	require.Error(t, err)
	require.IsType(t, &DuplicateProtocolError{}, err)
}

func TestDependenciesTransitive(t *testing.T) {
	mod := &ast.Module{Protocols: []*ast.Protocol{
		{Name: "Top", Roles: []ast.Role{{Name: "A"}, {Name: "B"}},
			Body: ast.SubProtocolInteraction(&ast.SubProtocolCall{Target: "Mid", Arguments: []string{"A", "B"}})},
		{Name: "Mid", Roles: []ast.Role{{Name: "X"}, {Name: "Y"}},
			Body: ast.SubProtocolInteraction(&ast.SubProtocolCall{Target: "Leaf", Arguments: []string{"X", "Y"}})},
		{Name: "Leaf", Roles: []ast.Role{{Name: "P"}, {Name: "Q"}}, Body: msg("Ping", "P", "Q")},
	}}
	r, err := New(mod)
	require.NoError(t, err)
	deps, err := r.Dependencies("Top")
	require.NoError(t, err)
	require.Equal(t, []string{"Leaf", "Mid"}, deps)
}

func TestValidateDetectsCycle(t *testing.T) {
	mod := &ast.Module{Protocols: []*ast.Protocol{
		{Name: "A", Roles: []ast.Role{{Name: "X"}},
			Body: ast.SubProtocolInteraction(&ast.SubProtocolCall{Target: "B", Arguments: []string{"X"}})},
		{Name: "B", Roles: []ast.Role{{Name: "Y"}},
			Body: ast.SubProtocolInteraction(&ast.SubProtocolCall{Target: "A", Arguments: []string{"Y"}})},
	}}
	r, err := New(mod)
	require.NoError(t, err)
	err = r.Validate()
	require.Error(t, err)
	require.IsType(t, &ProtocolCycleError{}, err)
}

func TestValidateDetectsMissingTarget(t *testing.T) {
	mod := &ast.Module{Protocols: []*ast.Protocol{
		{Name: "A", Roles: []ast.Role{{Name: "X"}},
			Body: ast.SubProtocolInteraction(&ast.SubProtocolCall{Target: "Ghost", Arguments: []string{"X"}})},
	}}
	r, err := New(mod)
	require.NoError(t, err)
	err = r.Validate()
	require.Error(t, err)
	require.IsType(t, &UnknownProtocolError{}, err)
}

func TestValidateDetectsArityMismatch(t *testing.T) {
	mod := &ast.Module{Protocols: []*ast.Protocol{
		{Name: "A", Roles: []ast.Role{{Name: "X"}},
			Body: ast.SubProtocolInteraction(&ast.SubProtocolCall{Target: "B", Arguments: []string{"X"}})},
		{Name: "B", Roles: []ast.Role{{Name: "P"}, {Name: "Q"}}, Body: msg("Ping", "P", "Q")},
	}}
	r, err := New(mod)
	require.NoError(t, err)
	err = r.Validate()
	require.Error(t, err)
	require.IsType(t, &RoleMismatchError{}, err)
}

func TestRoleMapping(t *testing.T) {
	mod := &ast.Module{Protocols: []*ast.Protocol{
		{Name: "A", Roles: []ast.Role{{Name: "X"}, {Name: "Y"}},
			Body: ast.SubProtocolInteraction(&ast.SubProtocolCall{Target: "B", Arguments: []string{"P1", "P2"}})},
		{Name: "B", Roles: []ast.Role{{Name: "M"}, {Name: "N"}}, Body: msg("Ping", "M", "N")},
	}}
	r, err := New(mod)
	require.NoError(t, err)
	call := &ast.SubProtocolCall{Target: "B", Arguments: []string{"P1", "P2"}}
	mapping, err := r.RoleMapping("A", call)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"M": "P1", "N": "P2"}, mapping)

	badCall := &ast.SubProtocolCall{Target: "B", Arguments: []string{"OnlyOne"}}
	_, err = r.RoleMapping("A", badCall)
	require.Error(t, err)
	require.IsType(t, &RoleMismatchError{}, err)
}

func TestCFGIsMemoised(t *testing.T) {
	mod := &ast.Module{Protocols: []*ast.Protocol{
		{Name: "A", Roles: []ast.Role{{Name: "X"}, {Name: "Y"}}, Body: msg("Ping", "X", "Y")},
	}}
	r, err := New(mod)
	require.NoError(t, err)
	g1, err := r.CFG("A")
	require.NoError(t, err)
	g2, err := r.CFG("A")
	require.NoError(t, err)
	require.Same(t, g1, g2)
}

func TestCFSMIsMemoisedAndProjectsTheRightRole(t *testing.T) {
	mod := &ast.Module{Protocols: []*ast.Protocol{
		{Name: "A", Roles: []ast.Role{{Name: "X"}, {Name: "Y"}}, Body: msg("Ping", "X", "Y")},
	}}
	r, err := New(mod)
	require.NoError(t, err)
	m1, err := r.CFSM("A", "X")
	require.NoError(t, err)
	require.Equal(t, "X", m1.Role)
	m2, err := r.CFSM("A", "X")
	require.NoError(t, err)
	require.Same(t, m1, m2)

	mY, err := r.CFSM("A", "Y")
	require.NoError(t, err)
	require.Equal(t, "Y", mY.Role)
}
