package project

// eliminateTau repeatedly collapses a state whose only outgoing
// transition is a single Tau into its target, redirecting every
// transition that pointed at the collapsed state. This is the
// tau-elimination/state-merging step of spec.md §4.5: CFSM actions occur
// only on transitions, so a state that can only silently step forward
// contributes nothing observable and is removed.
//
// A state is never collapsed if it is Final (eliminating it would lose
// the fact that the protocol can end there) or if collapsing it would
// turn it into a self-loop.
func eliminateTau(m *CFSM) {
	for {
		collapsed := false
		for id := range m.States {
			if collapseIfPureTau(m, id) {
				collapsed = true
				break // restart: the map and transition lists changed underfoot
			}
		}
		if !collapsed {
			return
		}
	}
}

func collapseIfPureTau(m *CFSM, id StateID) bool {
	if m.Final[id] {
		return false
	}
	outs := m.Out[id]
	if len(outs) != 1 || outs[0].Action.Kind != Tau {
		return false
	}
	target := outs[0].To
	if target == id {
		return false // a genuine self-loop; leave it alone rather than deleting the state
	}

	// Redirect every incoming transition of id to point at target instead.
	for _, in := range m.In[id] {
		in.To = target
		m.In[target] = append(m.In[target], in)
	}

	if m.Initial == id {
		m.Initial = target
	}

	delete(m.States, id)
	delete(m.In, id)
	delete(m.Out, id)
	removeTransition(m, outs[0])
	return true
}

func removeTransition(m *CFSM, t *Transition) {
	m.Transitions = removeFromSlice(m.Transitions, t)
	m.Out[t.From] = removeFromSlice(m.Out[t.From], t)
}

func removeFromSlice(s []*Transition, t *Transition) []*Transition {
	out := s[:0]
	for _, x := range s {
		if x != t {
			out = append(out, x)
		}
	}
	return out
}
