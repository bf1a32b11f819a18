// Package verify runs the static checks of spec.md §4.4 over a built
// CFG: deadlock-freedom, liveness, choice determinism/mergeability,
// race-freedom, connectedness, and a handful of structural sanity and
// style checks, grouped by priority (P0 safety-critical through P3
// structural) the way the teacher groups its own health checks in
// `lib/sda/host_test.go`.
package verify

import (
	"fmt"
	"sort"

	"github.com/mpst-go/mpst/cfg"
)

// Priority orders checks by how serious a failure is. P0 failures mean
// the protocol cannot be safely projected; P1/P2 are warnings that only
// fail the overall report under strict mode; P3 are structural sanity
// checks that should never fail for a graph the builder produced.
type Priority int

const (
	P0 Priority = iota
	P1
	P2
	P3
)

func (p Priority) String() string {
	return [...]string{"P0", "P1", "P2", "P3"}[p]
}

// CheckResult is the outcome of a single named check.
type CheckResult struct {
	Name       string
	Priority   Priority
	Passed     bool
	Violations []string
}

// Report is the complete outcome of verifying one CFG.
type Report struct {
	Protocol string
	Checks   []CheckResult
	Strict   bool
}

// Passed reports whether the protocol is safe to project: every P0
// check passed, and — under strict mode — every check of any priority
// passed.
func (r *Report) Passed() bool {
	for _, c := range r.Checks {
		if !c.Passed && (c.Priority == P0 || r.Strict) {
			return false
		}
	}
	return true
}

// Failures returns every failed check, most severe first.
func (r *Report) Failures() []CheckResult {
	var out []CheckResult
	for _, c := range r.Checks {
		if !c.Passed {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// Verify runs every check against g and returns the combined report.
// declaredRoles is the protocol's declared role list, used only by the
// unused-role advisory check; pass nil to skip that one check.
func Verify(g *cfg.CFG, declaredRoles []string, strict bool) *Report {
	r := &Report{Protocol: g.Protocol, Strict: strict}
	checks := []func(*cfg.CFG) CheckResult{
		checkSingleInitial,
		checkAtLeastOneTerminal,
		checkLiveness,
		checkDeadlockFreedom,
		checkForkJoinPairing,
		checkBranchMergePairing,
		checkChoiceDeterminism,
		checkChoiceMergeability,
		checkRaceFreedom,
		checkParallelDeadlock,
		checkProgress,
		checkConnectedness,
		checkRecursionScoping,
		checkMulticastWarning,
		checkSelfCommunicationWarning,
		checkEmptyBranchWarning,
		checkEdgeEndpointsValid,
		checkTerminalsHaveNoOutgoing,
		checkNodeIDUniqueness,
	}
	for _, fn := range checks {
		r.Checks = append(r.Checks, fn(g))
	}
	r.Checks = append(r.Checks, checkUnusedRoleWarning(g, declaredRoles))
	return r
}

func result(name string, p Priority, violations []string) CheckResult {
	return CheckResult{Name: name, Priority: p, Passed: len(violations) == 0, Violations: violations}
}

// ---- P0: safety / projection-critical ----

func checkSingleInitial(g *cfg.CFG) CheckResult {
	var v []string
	count := 0
	for _, n := range g.Nodes {
		if n.Kind == cfg.NodeInitial {
			count++
		}
	}
	if count != 1 {
		v = append(v, fmt.Sprintf("found %d initial nodes, want exactly 1", count))
	}
	return result("single-initial", P0, v)
}

func checkAtLeastOneTerminal(g *cfg.CFG) CheckResult {
	var v []string
	if len(g.Terminals) == 0 {
		v = append(v, "no terminal node")
	}
	return result("at-least-one-terminal", P0, v)
}

// checkLiveness requires every node to have a path to some terminal
// node: every node must be able to make progress toward completion.
func checkLiveness(g *cfg.CFG) CheckResult {
	canReachTerminal := computeCanReachTerminal(g)
	var v []string
	for id := range g.Nodes {
		if !canReachTerminal[id] {
			v = append(v, fmt.Sprintf("node %s cannot reach any terminal", id))
		}
	}
	sort.Strings(v)
	return result("liveness", P0, v)
}

// checkDeadlockFreedom requires every node to be reachable from the
// initial node: a node unreachable from initial is dead code cut off
// from any run, the structural symptom of a deadlocked branch.
func checkDeadlockFreedom(g *cfg.CFG) CheckResult {
	reachable := computeReachableFromInitial(g)
	var v []string
	for id := range g.Nodes {
		if !reachable[id] {
			v = append(v, fmt.Sprintf("node %s is unreachable from the initial node", id))
		}
	}
	sort.Strings(v)
	return result("deadlock-freedom", P0, v)
}

func checkForkJoinPairing(g *cfg.CFG) CheckResult {
	var v []string
	for _, n := range g.Nodes {
		if n.Kind == cfg.NodeFork {
			if _, ok := g.ForkOf[n.ID]; !ok {
				v = append(v, fmt.Sprintf("fork %s has no matching join", n.ID))
			}
		}
		if n.Kind == cfg.NodeJoin {
			if _, ok := g.JoinOf[n.ID]; !ok {
				v = append(v, fmt.Sprintf("join %s has no matching fork", n.ID))
			}
		}
	}
	return result("fork-join-pairing", P0, v)
}

func checkBranchMergePairing(g *cfg.CFG) CheckResult {
	// A NodeMerge not present in MergeOf is still legitimate: it's the
	// pass-through node the builder emits for an empty interaction, not
	// every NodeMerge traces back to a choice.
	var v []string
	for _, n := range g.Nodes {
		if n.Kind == cfg.NodeBranch {
			if _, ok := g.BranchOf[n.ID]; !ok {
				v = append(v, fmt.Sprintf("branch %s has no matching merge", n.ID))
			}
		}
	}
	return result("branch-merge-pairing", P0, v)
}

// checkChoiceDeterminism requires that, at every choice point, a
// receiver can tell which branch was taken from the first message alone:
// every branch must begin with an action sent by the deciding role, and
// no two branches may use the same label for their first action.
func checkChoiceDeterminism(g *cfg.CFG) CheckResult {
	var v []string
	for _, n := range g.Nodes {
		if n.Kind != cfg.NodeBranch {
			continue
		}
		seenLabels := make(map[string]bool)
		for _, e := range g.Successors(n.ID) {
			first := firstAction(g, e.To)
			if first == nil {
				v = append(v, fmt.Sprintf("branch %s: branch %d has no leading action", n.ID, e.BranchIndex))
				continue
			}
			if first.Action.Sender != n.Decider {
				v = append(v, fmt.Sprintf("branch %s: branch %d's first action is sent by %q, not deciding role %q",
					n.ID, e.BranchIndex, first.Action.Sender, n.Decider))
			}
			if seenLabels[first.Action.Label] {
				v = append(v, fmt.Sprintf("branch %s: label %q reused as the first action of two branches",
					n.ID, first.Action.Label))
			}
			seenLabels[first.Action.Label] = true
		}
	}
	return result("choice-determinism", P0, v)
}

// checkChoiceMergeability requires every branch of a choice to involve
// the same set of roles, so a role not involved in deciding still
// behaves identically regardless of which branch is actually taken.
func checkChoiceMergeability(g *cfg.CFG) CheckResult {
	var v []string
	for _, n := range g.Nodes {
		if n.Kind != cfg.NodeBranch {
			continue
		}
		mergeID := g.BranchOf[n.ID]
		var roleSets []map[string]bool
		for _, e := range g.Successors(n.ID) {
			roleSets = append(roleSets, rolesBetween(g, e.To, mergeID))
		}
		for i := 1; i < len(roleSets); i++ {
			if !sameRoleSet(roleSets[0], roleSets[i]) {
				v = append(v, fmt.Sprintf("branch %s: branch %d involves a different set of roles than branch 0", n.ID, i))
			}
		}
	}
	return result("choice-mergeability", P0, v)
}

// checkRaceFreedom (the linearity restriction on `par`, spec.md §9 Open
// Question 2) forbids the same (sender,receiver,label) triple from
// appearing in two different branches of the same fork, since their
// relative order would then be unspecified (a race on the same
// logical message).
func checkRaceFreedom(g *cfg.CFG) CheckResult {
	var v []string
	for _, n := range g.Nodes {
		if n.Kind != cfg.NodeFork {
			continue
		}
		joinID := g.ForkOf[n.ID]
		seen := make(map[string]int) // triple -> branch index first seen in
		for _, e := range g.Successors(n.ID) {
			for _, a := range actionsBetween(g, e.To, joinID) {
				for _, recv := range a.Receivers {
					triple := fmt.Sprintf("%s->%s:%s", a.Sender, recv, a.Label)
					if first, ok := seen[triple]; ok && first != e.BranchIndex {
						v = append(v, fmt.Sprintf("fork %s: %s appears in both branch %d and branch %d",
							n.ID, triple, first, e.BranchIndex))
					} else if !ok {
						seen[triple] = e.BranchIndex
					}
				}
			}
		}
	}
	return result("race-freedom", P0, v)
}

// checkParallelDeadlock requires that a fork's branches never reference
// each other's nodes before rejoining — i.e. the branches are genuinely
// independent subgraphs until the join.
func checkParallelDeadlock(g *cfg.CFG) CheckResult {
	var v []string
	for _, n := range g.Nodes {
		if n.Kind != cfg.NodeFork {
			continue
		}
		joinID := g.ForkOf[n.ID]
		branchNodeSets := make([]map[cfg.NodeID]bool, 0)
		for _, e := range g.Successors(n.ID) {
			branchNodeSets = append(branchNodeSets, nodesBetween(g, e.To, joinID))
		}
		for i := range branchNodeSets {
			for j := range branchNodeSets {
				if i == j {
					continue
				}
				for id := range branchNodeSets[i] {
					if branchNodeSets[j][id] {
						v = append(v, fmt.Sprintf("fork %s: branch %d and branch %d share node %s", n.ID, i, j, id))
					}
				}
			}
		}
	}
	return result("parallel-deadlock", P0, v)
}

// checkProgress requires every recursion body to perform at least one
// action before it may continue: a loop that only ever continues can
// never make progress or terminate.
func checkProgress(g *cfg.CFG) CheckResult {
	var v []string
	for _, n := range g.Nodes {
		if n.Kind != cfg.NodeRecursive {
			continue
		}
		if !reachesActionBeforeContinue(g, n.ID, n.ID, make(map[cfg.NodeID]bool)) {
			v = append(v, fmt.Sprintf("recursion %q performs no action before looping", n.RecLabel))
		}
	}
	return result("progress", P0, v)
}

func checkConnectedness(g *cfg.CFG) CheckResult {
	reachable := computeReachableFromInitial(g)
	canReach := computeCanReachTerminal(g)
	var v []string
	for id := range g.Nodes {
		if !reachable[id] || !canReach[id] {
			v = append(v, fmt.Sprintf("node %s is not on any initial-to-terminal path", id))
		}
	}
	sort.Strings(v)
	return result("connectedness", P0, v)
}

func checkRecursionScoping(g *cfg.CFG) CheckResult {
	var v []string
	for _, e := range g.Edges {
		if e.Kind == cfg.EdgeContinue {
			if g.Node(e.To).Kind != cfg.NodeRecursive {
				v = append(v, fmt.Sprintf("continue edge %s targets a non-recursive node", e.ID))
			}
		}
	}
	return result("recursion-scoping", P0, v)
}

// ---- P1/P2: warnings ----

func checkMulticastWarning(g *cfg.CFG) CheckResult {
	var v []string
	for _, n := range g.Nodes {
		if n.Kind == cfg.NodeAction && len(n.Action.Receivers) > 1 {
			v = append(v, fmt.Sprintf("action %s (%s) has %d receivers: delivered as independent ordered sends",
				n.ID, n.Action.Label, len(n.Action.Receivers)))
		}
	}
	return result("multicast-advisory", P2, v)
}

func checkSelfCommunicationWarning(g *cfg.CFG) CheckResult {
	var v []string
	for _, n := range g.Nodes {
		if n.Kind != cfg.NodeAction {
			continue
		}
		for _, r := range n.Action.Receivers {
			if r == n.Action.Sender {
				v = append(v, fmt.Sprintf("action %s (%s): role %q sends to itself", n.ID, n.Action.Label, r))
			}
		}
	}
	return result("self-communication-warning", P1, v)
}

func checkEmptyBranchWarning(g *cfg.CFG) CheckResult {
	var v []string
	for _, n := range g.Nodes {
		if n.Kind != cfg.NodeBranch && n.Kind != cfg.NodeFork {
			continue
		}
		for _, e := range g.Successors(n.ID) {
			target := g.Node(e.To)
			if target.Kind == cfg.NodeMerge || target.Kind == cfg.NodeJoin {
				v = append(v, fmt.Sprintf("%s %s: branch %d is empty", n.Kind, n.ID, e.BranchIndex))
			}
		}
	}
	return result("empty-branch-warning", P2, v)
}

// checkUnusedRoleWarning flags a declared role that never sends or
// receives anywhere in the CFG: almost always a typo or a forgotten
// interaction.
func checkUnusedRoleWarning(g *cfg.CFG, declaredRoles []string) CheckResult {
	used := make(map[string]bool)
	for _, n := range g.Nodes {
		if n.Kind != cfg.NodeAction {
			continue
		}
		used[n.Action.Sender] = true
		for _, r := range n.Action.Receivers {
			used[r] = true
		}
	}
	var v []string
	for _, role := range declaredRoles {
		if !used[role] {
			v = append(v, fmt.Sprintf("role %q is declared but never sends or receives", role))
		}
	}
	return result("unused-role-warning", P2, v)
}

// ---- P3: structural ----

func checkEdgeEndpointsValid(g *cfg.CFG) CheckResult {
	var v []string
	for _, e := range g.Edges {
		if _, ok := g.Nodes[e.From]; !ok {
			v = append(v, fmt.Sprintf("edge %s: unknown From node %s", e.ID, e.From))
		}
		if _, ok := g.Nodes[e.To]; !ok {
			v = append(v, fmt.Sprintf("edge %s: unknown To node %s", e.ID, e.To))
		}
	}
	return result("edge-endpoints-valid", P3, v)
}

func checkTerminalsHaveNoOutgoing(g *cfg.CFG) CheckResult {
	var v []string
	for _, id := range g.Terminals {
		if len(g.Successors(id)) != 0 {
			v = append(v, fmt.Sprintf("terminal %s has outgoing edges", id))
		}
	}
	return result("terminals-have-no-outgoing", P3, v)
}

func checkNodeIDUniqueness(g *cfg.CFG) CheckResult {
	seen := make(map[cfg.NodeID]bool, len(g.Nodes))
	var v []string
	for id := range g.Nodes {
		if seen[id] {
			v = append(v, fmt.Sprintf("duplicate node id %s", id))
		}
		seen[id] = true
	}
	return result("node-id-uniqueness", P3, v)
}
