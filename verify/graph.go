package verify

import "github.com/mpst-go/mpst/cfg"

// computeReachableFromInitial returns the set of nodes reachable from
// g.Initial via any edge kind.
func computeReachableFromInitial(g *cfg.CFG) map[cfg.NodeID]bool {
	seen := map[cfg.NodeID]bool{g.Initial: true}
	queue := []cfg.NodeID{g.Initial}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, e := range g.Successors(id) {
			if !seen[e.To] {
				seen[e.To] = true
				queue = append(queue, e.To)
			}
		}
	}
	return seen
}

// computeCanReachTerminal returns the set of nodes with a forward path
// to some terminal node, via a reverse BFS seeded at every terminal.
func computeCanReachTerminal(g *cfg.CFG) map[cfg.NodeID]bool {
	seen := make(map[cfg.NodeID]bool, len(g.Terminals))
	var queue []cfg.NodeID
	for _, t := range g.Terminals {
		if !seen[t] {
			seen[t] = true
			queue = append(queue, t)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, e := range g.Predecessors(id) {
			if !seen[e.From] {
				seen[e.From] = true
				queue = append(queue, e.From)
			}
		}
	}
	return seen
}

// firstAction returns the first NodeAction reached by following
// EdgeSequence-only paths from id (passing through any node whose only
// successor edge is an EdgeSequence), or nil once it meets a node with
// zero or several successors, a non-sequence edge, or a cycle.
func firstAction(g *cfg.CFG, id cfg.NodeID) *cfg.Node {
	visited := make(map[cfg.NodeID]bool)
	for {
		if visited[id] {
			return nil
		}
		visited[id] = true
		n := g.Node(id)
		if n.Kind == cfg.NodeAction {
			return n
		}
		outs := g.Successors(id)
		if len(outs) != 1 || outs[0].Kind != cfg.EdgeSequence {
			return nil
		}
		id = outs[0].To
	}
}

// nodesBetween returns every node on a path from start (inclusive) up
// to, but not including, stop, following any edge kind. It is used to
// compute the node set belonging to one branch of a choice/fork.
func nodesBetween(g *cfg.CFG, start, stop cfg.NodeID) map[cfg.NodeID]bool {
	seen := make(map[cfg.NodeID]bool)
	var walk func(cfg.NodeID)
	walk = func(id cfg.NodeID) {
		if id == stop || seen[id] {
			return
		}
		seen[id] = true
		for _, e := range g.Successors(id) {
			walk(e.To)
		}
	}
	walk(start)
	return seen
}

// actionsBetween returns every NodeAction on a path from start up to
// (not including) stop.
func actionsBetween(g *cfg.CFG, start, stop cfg.NodeID) []*cfgMessage {
	var out []*cfgMessage
	for id := range nodesBetween(g, start, stop) {
		n := g.Node(id)
		if n.Kind == cfg.NodeAction {
			out = append(out, &cfgMessage{Sender: n.Action.Sender, Receivers: n.Action.Receivers, Label: n.Action.Label})
		}
	}
	return out
}

// cfgMessage is a trimmed read-only view of ast.Message, avoiding an
// import of package ast purely for this local helper type.
type cfgMessage struct {
	Sender    string
	Receivers []string
	Label     string
}

// rolesBetween returns the set of role names appearing as sender or
// receiver on any action between start and stop.
func rolesBetween(g *cfg.CFG, start, stop cfg.NodeID) map[string]bool {
	roles := make(map[string]bool)
	for _, a := range actionsBetween(g, start, stop) {
		roles[a.Sender] = true
		for _, r := range a.Receivers {
			roles[r] = true
		}
	}
	return roles
}

func sameRoleSet(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

// reachesActionBeforeContinue reports whether every path starting at id
// (within the current recursion's body, i.e. before reaching recNode a
// second time) passes through at least one NodeAction before any
// EdgeContinue back to recNode. A loop that continues without ever
// acting cannot make progress.
func reachesActionBeforeContinue(g *cfg.CFG, id, recNode cfg.NodeID, visiting map[cfg.NodeID]bool) bool {
	if visiting[id] {
		// Revisiting without having found an action anywhere on this
		// path: no progress guaranteed on this cycle.
		return false
	}
	n := g.Node(id)
	if n.Kind == cfg.NodeAction {
		return true
	}
	visiting[id] = true
	defer delete(visiting, id)

	outs := g.Successors(id)
	if len(outs) == 0 {
		return true // reached a terminal without continuing: vacuously fine
	}
	for _, e := range outs {
		if e.Kind == cfg.EdgeContinue && e.To == recNode {
			return false // continued with no action seen on this path
		}
		if !reachesActionBeforeContinue(g, e.To, recNode, visiting) {
			return false
		}
	}
	return true
}
