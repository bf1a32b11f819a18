// Package project implements the Honda/Yoshida/Carbone endpoint
// projection (spec.md §4.5): turning one role's view of a protocol's CFG
// into a Communicating Finite State Machine — the automaton that role
// actually runs.
package project

import (
	"fmt"

	uuid "github.com/satori/go.uuid"
)

// StateID uniquely identifies a state within one CFSM.
type StateID uuid.UUID

func newStateID() StateID { return StateID(uuid.NewV4()) }

func (id StateID) String() string { return uuid.UUID(id).String() }

// ActionKind tags what a Transition does from the role's own point of
// view, per spec.md §3/§4.5's action alphabet.
type ActionKind int

const (
	Send ActionKind = iota
	Receive
	Choice
	SubProtocolCall
	Tau
)

func (k ActionKind) String() string {
	switch k {
	case Send:
		return "send"
	case Receive:
		return "receive"
	case Choice:
		return "choice"
	case SubProtocolCall:
		return "subprotocol-call"
	case Tau:
		return "tau"
	default:
		return "unknown"
	}
}

// Action is the label on one Transition.
type Action struct {
	Kind ActionKind

	// Peer is the other role this role sends to or receives from (Send,
	// Receive), or the deciding role (Choice). Empty for Tau.
	Peer string

	Label        string
	PayloadTypes []string

	// Protocol and RoleMapping are set when Kind == SubProtocolCall: the
	// `do` call's target protocol and its formal->actual role binding.
	Protocol    string
	RoleMapping map[string]string
}

func (a Action) String() string {
	switch a.Kind {
	case Send:
		return fmt.Sprintf("!%s,%s", a.Peer, a.Label)
	case Receive:
		return fmt.Sprintf("?%s,%s", a.Peer, a.Label)
	case Choice:
		return fmt.Sprintf("choice{%s}", a.Peer)
	case SubProtocolCall:
		return fmt.Sprintf("do %s", a.Protocol)
	default:
		return "tau"
	}
}

// Transition is one CFSM edge.
type Transition struct {
	ID       StateID
	From, To StateID
	Action   Action
}

// CFSM is one role's projected local automaton: (Q, q0, A, ->, F) per
// spec.md §3/§4.5 — states, an initial state, an action alphabet implicit
// in the transitions, the transition relation, and a set of final
// (accepting) states.
type CFSM struct {
	Role      string
	Protocol  string
	States    map[StateID]bool
	Initial   StateID
	Final     map[StateID]bool
	Out       map[StateID][]*Transition
	In        map[StateID][]*Transition
	Transitions []*Transition
}

func newCFSM(protocol, role string) *CFSM {
	return &CFSM{
		Role:     role,
		Protocol: protocol,
		States:   make(map[StateID]bool),
		Final:    make(map[StateID]bool),
		Out:      make(map[StateID][]*Transition),
		In:       make(map[StateID][]*Transition),
	}
}

func (m *CFSM) addState() StateID {
	id := newStateID()
	m.States[id] = true
	return id
}

func (m *CFSM) addTransition(from, to StateID, a Action) *Transition {
	t := &Transition{ID: newStateID(), From: from, To: to, Action: a}
	m.Transitions = append(m.Transitions, t)
	m.Out[from] = append(m.Out[from], t)
	m.In[to] = append(m.In[to], t)
	return t
}

// IsFinal reports whether id is one of the CFSM's accepting states.
func (m *CFSM) IsFinal(id StateID) bool { return m.Final[id] }
