package project

import (
	"fmt"
	"strings"

	"github.com/mpst-go/mpst/cfg"
	"github.com/mpst-go/mpst/verify"
)

// ProjectAll projects every role named in roles, returning an error on
// the first role that fails to project.
func ProjectAll(g *cfg.CFG, roles []string) (map[string]*CFSM, error) {
	out := make(map[string]*CFSM, len(roles))
	for _, role := range roles {
		m, err := Project(g, role)
		if err != nil {
			return nil, err
		}
		out[role] = m
	}
	return out, nil
}

// ProjectVerified is Project guarded by a verify.Report: it refuses to
// project a CFG that failed (or was never run through) the P0 checks,
// per spec.md §4.5's precondition that projection is only defined on a
// well-formed CFG.
func ProjectVerified(g *cfg.CFG, role string, report *verify.Report) (*CFSM, error) {
	if report == nil || !report.Passed() {
		return nil, &ErrProjectionUndefined{Protocol: g.Protocol, Role: role, Reason: "CFG did not pass verification"}
	}
	return Project(g, role)
}

// Project computes role's CFSM from g, assuming g is already known to be
// well-formed (callers that haven't verified g should use
// ProjectVerified instead).
func Project(g *cfg.CFG, role string) (*CFSM, error) {
	p := &projector{g: g, role: role, m: newCFSM(g.Protocol, role), mapped: make(map[cfg.NodeID]StateID)}
	initial, err := p.project(g.Initial)
	if err != nil {
		return nil, err
	}
	p.m.Initial = initial
	eliminateTau(p.m)
	return p.m, nil
}

type projector struct {
	g      *cfg.CFG
	role   string
	m      *CFSM
	mapped map[cfg.NodeID]StateID

	// hasStop/stopAt let a projector be used to build a bounded fragment
	// (one `par` branch up to its join) rather than a whole protocol:
	// reaching stopAt is treated as a local final state instead of
	// recursing into stopAt's own node kind. Unused by the top-level
	// Project call.
	hasStop bool
	stopAt  cfg.NodeID
}

// project returns the CFSM state corresponding to CFG node id's position
// in role's local view, building it (and its successors) on first visit
// and memoising by node id so `continue` back-edges resolve to the
// already-created state instead of recursing forever.
func (p *projector) project(id cfg.NodeID) (StateID, error) {
	if s, ok := p.mapped[id]; ok {
		return s, nil
	}
	s := p.m.addState()
	p.mapped[id] = s

	if p.hasStop && id == p.stopAt {
		p.m.Final[s] = true
		return s, nil
	}

	n := p.g.Node(id)
	switch n.Kind {
	case cfg.NodeTerminal:
		p.m.Final[s] = true
		return s, nil

	case cfg.NodeInitial, cfg.NodeMerge, cfg.NodeJoin, cfg.NodeRecursive:
		return p.projectThrough(s, id)

	case cfg.NodeAction:
		return p.projectAction(s, n, id)

	case cfg.NodeBranch:
		return p.projectBranch(s, n, id)

	case cfg.NodeFork:
		return p.projectFork(s, id)

	case cfg.NodeSubProtocol:
		return p.projectSubProtocolCall(s, n, id)

	default:
		return s, fmt.Errorf("project: unhandled node kind %v", n.Kind)
	}
}

// projectThrough handles a node with no local meaning for this role
// (Initial/Merge/Join/Recursive): one tau transition per outgoing CFG
// edge, fanning out exactly as the CFG does, into the projection of each
// successor.
func (p *projector) projectThrough(s StateID, id cfg.NodeID) (StateID, error) {
	for _, e := range p.g.Successors(id) {
		to, err := p.project(e.To)
		if err != nil {
			return s, err
		}
		p.m.addTransition(s, to, Action{Kind: Tau})
	}
	return s, nil
}

// projectBranch handles a choice point. Per spec.md §3/§4.5: the
// deciding role and every role that observes any branch record a
// choice{decider} action on the edge into each alternative — the
// decider's view is thereby an internal choice (it picked the branch),
// every observing role's identical-looking transition is its external
// choice (it learns which branch from the first message that follows).
// A role present in none of the branches sees a plain tau straight to
// the merge point instead, since the choice has no observable effect on
// it.
func (p *projector) projectBranch(s StateID, n *cfg.Node, id cfg.NodeID) (StateID, error) {
	mergeID := p.g.BranchOf[id]
	involved := p.role == n.Decider
	for _, e := range p.g.Successors(id) {
		if involved {
			break
		}
		involved = branchInvolvesRole(p.g, e.To, mergeID, p.role)
	}
	if !involved {
		to, err := p.project(mergeID)
		if err != nil {
			return s, err
		}
		p.m.addTransition(s, to, Action{Kind: Tau})
		return s, nil
	}

	for _, e := range p.g.Successors(id) {
		to, err := p.project(e.To)
		if err != nil {
			return s, err
		}
		p.m.addTransition(s, to, Action{Kind: Choice, Peer: n.Decider})
	}
	return s, nil
}

// projectSubProtocolCall handles a `do` call: a role named in the call's
// arguments emits a subprotocol-call action recording the target and its
// role mapping (spec.md §4.5 rule for `do`); a role not participating in
// the callee sees it as a tau, since the call has no observable effect
// on its own behaviour.
func (p *projector) projectSubProtocolCall(s StateID, n *cfg.Node, id cfg.NodeID) (StateID, error) {
	successorEdges := p.g.Successors(id)
	if len(successorEdges) != 1 {
		return s, fmt.Errorf("project: sub-protocol node %s has %d successors, want 1", id, len(successorEdges))
	}
	to, err := p.project(successorEdges[0].To)
	if err != nil {
		return s, err
	}

	if !containsRole(n.SubProtocolCall.Arguments, p.role) {
		p.m.addTransition(s, to, Action{Kind: Tau})
		return s, nil
	}
	p.m.addTransition(s, to, Action{
		Kind:        SubProtocolCall,
		Protocol:    n.SubProtocolCall.Target,
		RoleMapping: n.RoleMapping,
	})
	return s, nil
}

// projectAction turns one CFG message node into this role's local
// action: a Send (possibly a chain, for a multicast with >1 receivers —
// spec.md's "delivered as independent ordered sends"), a Receive, or
// (role uninvolved) a Tau.
func (p *projector) projectAction(s StateID, n *cfg.Node, id cfg.NodeID) (StateID, error) {
	msg := n.Action
	successorEdges := p.g.Successors(id)
	if len(successorEdges) != 1 {
		return s, fmt.Errorf("project: action node %s has %d successors, want 1", id, len(successorEdges))
	}
	to, err := p.project(successorEdges[0].To)
	if err != nil {
		return s, err
	}

	switch {
	case msg.Sender == p.role:
		cur := s
		for i, recv := range msg.Receivers {
			next := to
			if i < len(msg.Receivers)-1 {
				next = p.m.addState()
			}
			p.m.addTransition(cur, next, Action{Kind: Send, Peer: recv, Label: msg.Label, PayloadTypes: msg.PayloadTypes})
			cur = next
		}
		return s, nil

	case containsRole(msg.Receivers, p.role):
		p.m.addTransition(s, to, Action{Kind: Receive, Peer: msg.Sender, Label: msg.Label, PayloadTypes: msg.PayloadTypes})
		return s, nil

	default:
		p.m.addTransition(s, to, Action{Kind: Tau})
		return s, nil
	}
}

// projectFork handles a parallel split. If role participates in at most
// one branch, the other branches are entirely invisible to it and the
// fork collapses to a tau straight into whichever branch role does
// appear in (or straight to the join if none). If role appears in two or
// more branches, its local view is the diamond of interleavings of its
// actions from each branch (spec.md §4.5): every ordering of the
// branches' actions relative to one another is a valid local run, so the
// projected CFSM must contain all of them.
func (p *projector) projectFork(s StateID, id cfg.NodeID) (StateID, error) {
	edges := p.g.Successors(id)
	joinID := p.g.ForkOf[id]
	var involved []*branchInvolvement
	for _, e := range edges {
		inv := &branchInvolvement{edge: e, involves: branchInvolvesRole(p.g, e.To, joinID, p.role)}
		involved = append(involved, inv)
	}
	var active []*branchInvolvement
	for _, inv := range involved {
		if inv.involves {
			active = append(active, inv)
		}
	}

	if len(active) == 0 {
		to, err := p.project(joinID)
		if err != nil {
			return s, err
		}
		p.m.addTransition(s, to, Action{Kind: Tau})
		return s, nil
	}
	if len(active) == 1 {
		to, err := p.project(active[0].edge.To)
		if err != nil {
			return s, err
		}
		p.m.addTransition(s, to, Action{Kind: Tau})
		return s, nil
	}

	postJoin, err := p.project(joinID)
	if err != nil {
		return s, err
	}
	fragments := make([]*CFSM, len(active))
	for i, inv := range active {
		frag, err := projectBranchFragment(p.g, p.role, inv.edge.To, joinID)
		if err != nil {
			return s, err
		}
		fragments[i] = frag
	}
	if err := spliceInterleaving(p.m, s, fragments, postJoin); err != nil {
		return s, err
	}
	return s, nil
}

// projectBranchFragment projects role's local view of a single `par`
// branch, from its entry node up to (not including) the fork's join,
// which is treated as the fragment's sole final state. The result is a
// small, self-contained CFSM used only as raw material for
// spliceInterleaving; it is never returned to a caller of Project.
func projectBranchFragment(g *cfg.CFG, role string, entry, joinID cfg.NodeID) (*CFSM, error) {
	bp := &projector{
		g:       g,
		role:    role,
		m:       newCFSM(g.Protocol, role),
		mapped:  make(map[cfg.NodeID]StateID),
		hasStop: true,
		stopAt:  joinID,
	}
	initial, err := bp.project(entry)
	if err != nil {
		return nil, err
	}
	bp.m.Initial = initial
	eliminateTau(bp.m)
	return bp.m, nil
}

// spliceInterleaving builds, inside m starting at start, the product of
// the given per-branch fragments: every reachable combination of
// "how far has each branch progressed" is one outer state, identified by
// the tuple of the fragments' own states (memoised by string key so a
// fragment containing its own cycle still terminates). From a tuple,
// advancing any one not-yet-final branch by one of its own transitions
// produces a new tuple and reuses that transition's original action,
// faithfully preserving its Send/Receive/Choice/Tau/SubProtocolCall kind.
// Once every branch's component is final, the tuple's state gets a tau
// into postJoin. For two single-action branches this produces exactly
// the two orderings spec.md §4.5 requires; for k branches it produces
// all k! interleavings.
func spliceInterleaving(m *CFSM, start StateID, fragments []*CFSM, postJoin StateID) error {
	tuples := make(map[string]StateID)
	key := func(t []StateID) string {
		parts := make([]string, len(t))
		for i, id := range t {
			parts[i] = id.String()
		}
		return strings.Join(parts, "|")
	}

	initial := make([]StateID, len(fragments))
	for i, f := range fragments {
		initial[i] = f.Initial
	}
	tuples[key(initial)] = start

	var walk func(t []StateID) error
	walk = func(t []StateID) error {
		outerState := tuples[key(t)]

		allFinal := true
		for i, f := range fragments {
			if !f.Final[t[i]] {
				allFinal = false
				break
			}
		}
		if allFinal {
			m.addTransition(outerState, postJoin, Action{Kind: Tau})
			return nil
		}

		for i, f := range fragments {
			if f.Final[t[i]] {
				continue
			}
			for _, tr := range f.Out[t[i]] {
				next := make([]StateID, len(t))
				copy(next, t)
				next[i] = tr.To

				k := key(next)
				nextOuter, seen := tuples[k]
				if !seen {
					nextOuter = m.addState()
					tuples[k] = nextOuter
					m.addTransition(outerState, nextOuter, tr.Action)
					if err := walk(next); err != nil {
						return err
					}
				} else {
					m.addTransition(outerState, nextOuter, tr.Action)
				}
			}
		}
		return nil
	}
	return walk(initial)
}

type branchInvolvement struct {
	edge     *cfg.Edge
	involves bool
}

// branchInvolvesRole reports whether role sends or receives anywhere
// between a fork branch's entry and its join.
func branchInvolvesRole(g *cfg.CFG, start, stop cfg.NodeID, role string) bool {
	seen := make(map[cfg.NodeID]bool)
	var walk func(cfg.NodeID) bool
	walk = func(id cfg.NodeID) bool {
		if id == stop || seen[id] {
			return false
		}
		seen[id] = true
		n := g.Node(id)
		if n.Kind == cfg.NodeAction {
			if n.Action.Sender == role || containsRole(n.Action.Receivers, role) {
				return true
			}
		}
		for _, e := range g.Successors(id) {
			if walk(e.To) {
				return true
			}
		}
		return false
	}
	return walk(start)
}

func containsRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
