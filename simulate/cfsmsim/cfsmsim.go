// Package cfsmsim implements the CFSM Simulator (spec.md §4.8): one
// role's projected automaton executed in isolation, exchanging messages
// through per-sender FIFO buffers instead of the CFG Simulator's atomic
// send/receive. A Simulator only ever advances its own state; wiring
// multiple together — draining outboxes and delivering into the right
// peer's inbox — is the distributed simulator's job (package distsim).
package cfsmsim

import (
	"fmt"
	"math/rand"

	uuid "github.com/satori/go.uuid"

	"github.com/mpst-go/mpst/callstack"
	"github.com/mpst-go/mpst/config"
	"github.com/mpst-go/mpst/project"
	"github.com/mpst-go/mpst/wire"
)

func newMessageID() uuid.UUID { return uuid.NewV4() }

// EventKind tags one entry in a Trace.
type EventKind int

const (
	EventStepStart EventKind = iota
	EventStepEnd
	EventTransitionFired
	EventSend
	EventReceive
	EventTau
	EventChoice
	EventBufferEnqueue
	EventBufferDequeue
	EventSubProtocolEnter
	EventSubProtocolExit
	EventComplete
	EventDeadlock
)

func (k EventKind) String() string {
	switch k {
	case EventStepStart:
		return "step-start"
	case EventStepEnd:
		return "step-end"
	case EventTransitionFired:
		return "transition-fired"
	case EventSend:
		return "send"
	case EventReceive:
		return "receive"
	case EventTau:
		return "tau"
	case EventChoice:
		return "choice"
	case EventBufferEnqueue:
		return "buffer-enqueue"
	case EventBufferDequeue:
		return "buffer-dequeue"
	case EventSubProtocolEnter:
		return "sub-protocol-enter"
	case EventSubProtocolExit:
		return "sub-protocol-exit"
	case EventComplete:
		return "complete"
	case EventDeadlock:
		return "deadlock"
	default:
		return "unknown"
	}
}

// Event is one recorded step.
type Event struct {
	Kind   EventKind
	State  project.StateID
	Detail string
}

// Resolver resolves a `do` call's target to the callee's CFSM for the
// same participant, by the callee's own (formal) role name. nil
// disables sub-protocol calls: firing one then fails with
// ErrSubProtocolNotFound, per spec.md §4.8.
type Resolver interface {
	CFSM(protocol, role string) (*project.CFSM, error)
}

// callFrame remembers the CFSM and state to resume once an entered
// sub-protocol's CFSM reaches its own final state.
type callFrame struct {
	m           *project.CFSM
	returnState project.StateID
}

// Simulator drives one role's CFSM. It owns its inbox (messages other
// roles have delivered to it) and accumulates an outbox of messages it
// has sent but that the coordinator has not yet drained.
type Simulator struct {
	m     *project.CFSM
	cfg   config.CFSMSimulatorConfig
	clock *wire.Clock
	rng   *rand.Rand

	resolver Resolver
	stack    *callstack.Manager
	calls    []callFrame // active sub-protocol CFSM switches, LIFO

	current project.StateID
	done    bool

	inbox  *wire.MessageBuffer
	outbox []*wire.Message

	lastReceived map[string]wire.Timestamp // sender -> timestamp of last dequeued message, for FIFO verification

	trace []Event
}

// New returns a Simulator positioned at m's initial state. clock is
// shared across every role in a run so timestamps stay comparable.
// stackCfg bounds this simulator's own callstack.Manager (one Manager
// per Simulator, never shared); resolver resolves `do` targets to their
// CFSM for this role, or nil to make sub-protocol calls an error.
func New(m *project.CFSM, cfg config.CFSMSimulatorConfig, clock *wire.Clock, stackCfg config.CallStackConfig, resolver Resolver) *Simulator {
	return &Simulator{
		m:            m,
		cfg:          cfg,
		clock:        clock,
		rng:          rand.New(rand.NewSource(1)),
		resolver:     resolver,
		stack:        callstack.New(stackCfg),
		current:      m.Initial,
		inbox:        wire.NewMessageBuffer(),
		lastReceived: make(map[string]wire.Timestamp),
	}
}

func (s *Simulator) emit(e Event) {
	if s.cfg.RecordTrace {
		s.trace = append(s.trace, e)
	}
}

// Trace returns the recorded event history (empty unless RecordTrace).
func (s *Simulator) Trace() []Event { return s.trace }

// Role is the CFSM's owning role, as known in the currently active
// frame: after a sub-protocol call is entered this reports the callee's
// own (formal) role name until the call returns.
func (s *Simulator) Role() string { return s.m.Role }

// Current returns the automaton's current state.
func (s *Simulator) Current() project.StateID { return s.current }

// Done reports whether the simulator has reached a final state with no
// enclosing sub-protocol call left to return to.
func (s *Simulator) Done() bool {
	return s.done || (s.m.IsFinal(s.current) && len(s.calls) == 0)
}

// Enabled reports whether Step would fire a transition right now — it is
// what a distributed coordinator should check before scheduling this
// role, so that a role merely waiting on an empty inbox (or paused at a
// sub-protocol's final state, about to return to its caller) is not
// mistaken for a dead end.
func (s *Simulator) Enabled() bool {
	if s.done {
		return false
	}
	if s.m.IsFinal(s.current) {
		return len(s.calls) > 0
	}
	return len(s.enabled()) > 0
}

// Deliver appends an incoming message to this role's inbox, failing with
// ErrBufferOverflow if that would exceed cfg.MaxBufferSize (0 = unbounded).
func (s *Simulator) Deliver(msg *wire.Message) error {
	if s.cfg.MaxBufferSize > 0 && s.inbox.Len(msg.Sender, s.m.Role) >= s.cfg.MaxBufferSize {
		return &ErrBufferOverflow{Sender: msg.Sender, Receiver: s.m.Role, Max: s.cfg.MaxBufferSize}
	}
	s.inbox.Push(msg)
	s.emit(Event{Kind: EventBufferEnqueue, State: s.current, Detail: fmt.Sprintf("%s -> %s: %s", msg.Sender, msg.Receiver, msg.Label)})
	return nil
}

// DrainOutbox returns and clears every message sent since the last
// drain, for the coordinator to deliver to their recipients.
func (s *Simulator) DrainOutbox() []*wire.Message {
	out := s.outbox
	s.outbox = nil
	return out
}

// enabled returns the transitions out of the current state that could
// fire right now: every send/tau/choice/subprotocol-call transition,
// plus any receive transition whose peer's inbox head carries the
// matching label.
func (s *Simulator) enabled() []*project.Transition {
	var out []*project.Transition
	for _, t := range s.m.Out[s.current] {
		switch t.Action.Kind {
		case project.Send, project.Tau, project.Choice, project.SubProtocolCall:
			out = append(out, t)
		case project.Receive:
			if head, ok := s.peekInbox(t.Action.Peer); ok && head.Label == t.Action.Label {
				out = append(out, t)
			}
		}
	}
	return out
}

func (s *Simulator) peekInbox(peer string) (*wire.Message, bool) {
	return s.inbox.Peek(peer, s.m.Role)
}

func (s *Simulator) choose(enabled []*project.Transition) *project.Transition {
	switch s.cfg.TransitionStrategy {
	case config.TransitionRandom:
		return enabled[s.rng.Intn(len(enabled))]
	default: // config.TransitionFirst
		return enabled[0]
	}
}

// Step fires exactly one enabled transition, or reports completion or
// local deadlock. It never blocks: a receive with nothing queued simply
// is not in the enabled set. Reaching a final state while a sub-protocol
// call is still active returns to the caller's CFSM instead of
// completing the whole run.
func (s *Simulator) Step() (*Event, error) {
	s.emit(Event{Kind: EventStepStart, State: s.current})

	if s.m.IsFinal(s.current) {
		if len(s.calls) > 0 {
			return s.returnFromSubProtocol()
		}
		s.done = true
		e := Event{Kind: EventComplete, State: s.current}
		s.emit(e)
		return &e, nil
	}

	enabled := s.enabled()
	if len(enabled) == 0 {
		e := Event{Kind: EventDeadlock, State: s.current, Detail: "no enabled transition"}
		s.emit(e)
		return &e, &ErrLocalDeadlock{Role: s.m.Role, State: s.current}
	}

	t := s.choose(enabled)

	if t.Action.Kind == project.SubProtocolCall {
		return s.enterSubProtocol(t)
	}

	var fired Event
	switch t.Action.Kind {
	case project.Send:
		msg := &wire.Message{
			ID:        newMessageID(),
			Sender:    s.m.Role,
			Receiver:  t.Action.Peer,
			Label:     t.Action.Label,
			Timestamp: s.clock.Next(),
		}
		s.outbox = append(s.outbox, msg)
		fired = Event{Kind: EventSend, State: s.current, Detail: fmt.Sprintf("%s -> %s: %s", msg.Sender, msg.Receiver, msg.Label)}

	case project.Receive:
		msg, _ := s.inbox.Pop(t.Action.Peer, s.m.Role)
		if s.cfg.VerifyFIFO {
			if last, ok := s.lastReceived[t.Action.Peer]; ok && msg.Timestamp < last {
				return nil, &wire.FIFOViolationError{Sender: t.Action.Peer, Receiver: s.m.Role, Expected: last, Got: msg.Timestamp}
			}
			s.lastReceived[t.Action.Peer] = msg.Timestamp
		}
		s.emit(Event{Kind: EventBufferDequeue, State: s.current, Detail: fmt.Sprintf("%s -> %s: %s", msg.Sender, msg.Receiver, msg.Label)})
		fired = Event{Kind: EventReceive, State: s.current, Detail: fmt.Sprintf("%s -> %s: %s", msg.Sender, msg.Receiver, msg.Label)}

	case project.Choice:
		fired = Event{Kind: EventChoice, State: s.current, Detail: t.Action.Peer}

	default: // project.Tau
		fired = Event{Kind: EventTau, State: s.current}
	}

	s.current = t.To
	s.emit(fired)
	s.emit(Event{Kind: EventTransitionFired, State: s.current})
	s.emit(Event{Kind: EventStepEnd, State: s.current})
	return &fired, nil
}

// enterSubProtocol fires a subprotocol-call transition (spec.md §4.8):
// it is always enabled, pushes a call-stack frame carrying the role
// mapping computed at projection time, and switches the active CFSM to
// the callee's projection for this same participant.
func (s *Simulator) enterSubProtocol(t *project.Transition) (*Event, error) {
	if s.resolver == nil {
		return nil, &ErrSubProtocolNotFound{Protocol: t.Action.Protocol}
	}
	calleeRole := inverseLookup(t.Action.RoleMapping, s.m.Role)
	callee, err := s.resolver.CFSM(t.Action.Protocol, calleeRole)
	if err != nil {
		return nil, &ErrSubProtocolNotFound{Protocol: t.Action.Protocol}
	}
	if _, err := s.stack.Push(t.Action.Protocol, t.Action.RoleMapping); err != nil {
		return nil, err
	}

	s.calls = append(s.calls, callFrame{m: s.m, returnState: t.To})
	s.m = callee
	s.current = callee.Initial

	e := Event{Kind: EventSubProtocolEnter, State: s.current, Detail: t.Action.Protocol}
	s.emit(e)
	s.emit(Event{Kind: EventTransitionFired, State: s.current})
	s.emit(Event{Kind: EventStepEnd, State: s.current})
	return &e, nil
}

// returnFromSubProtocol pops the innermost active call frame, switching
// back to the caller's CFSM at the state recorded when the call fired.
func (s *Simulator) returnFromSubProtocol() (*Event, error) {
	top := s.calls[len(s.calls)-1]
	s.calls = s.calls[:len(s.calls)-1]
	if _, err := s.stack.Pop(); err != nil {
		return nil, err
	}
	s.m = top.m
	s.current = top.returnState

	e := Event{Kind: EventSubProtocolExit, State: s.current}
	s.emit(e)
	s.emit(Event{Kind: EventTransitionFired, State: s.current})
	s.emit(Event{Kind: EventStepEnd, State: s.current})
	return &e, nil
}

// inverseLookup finds the formal role name mapping to actual in
// mapping, or actual itself if no entry maps to it (a no-op call,
// formal and actual names coinciding).
func inverseLookup(mapping map[string]string, actual string) string {
	for formal, a := range mapping {
		if a == actual {
			return formal
		}
	}
	return actual
}

// ErrLocalDeadlock reports that a non-final state has no enabled
// transition: every receive is blocked on an empty inbox and there is
// no send or tau to fall back on.
type ErrLocalDeadlock struct {
	Role  string
	State project.StateID
}

func (e *ErrLocalDeadlock) Error() string {
	return fmt.Sprintf("cfsmsim: role %s deadlocked at state %s", e.Role, e.State)
}

// ErrBufferOverflow reports that Deliver would exceed MaxBufferSize.
type ErrBufferOverflow struct {
	Sender, Receiver string
	Max              int
}

func (e *ErrBufferOverflow) Error() string {
	return fmt.Sprintf("cfsmsim: buffer %s->%s exceeds max size %d", e.Sender, e.Receiver, e.Max)
}

// ErrSubProtocolNotFound reports a subprotocol-call transition fired
// with no resolver configured, or whose target the resolver could not
// produce a CFSM for.
type ErrSubProtocolNotFound struct {
	Protocol string
}

func (e *ErrSubProtocolNotFound) Error() string {
	return fmt.Sprintf("cfsmsim: sub-protocol %q not found", e.Protocol)
}
