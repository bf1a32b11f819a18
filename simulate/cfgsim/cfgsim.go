// Package cfgsim implements the CFG Simulator (spec.md §4.7): a single
// orchestrator walks the whole control-flow graph, firing every message
// synchronously (a send and its matching receive happen as one event,
// there is no wire buffering at this layer — that's what the CFSM and
// distributed simulators are for) and resolving each choice according to
// a configurable strategy.
package cfgsim

import (
	"fmt"
	"math/rand"

	"github.com/mpst-go/mpst/callstack"
	"github.com/mpst-go/mpst/cfg"
	"github.com/mpst-go/mpst/config"
)

// EventKind tags one entry in a Trace.
type EventKind int

const (
	EventStarted EventKind = iota
	EventActionFired
	EventChoiceTaken
	EventForkSplit
	EventJoinSync
	EventRecursionEntered
	EventContinueTaken
	EventSubProtocolEnter
	EventSubProtocolExit
	EventTerminated
	EventMaxStepsExceeded
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventActionFired:
		return "action-fired"
	case EventChoiceTaken:
		return "choice-taken"
	case EventForkSplit:
		return "fork-split"
	case EventJoinSync:
		return "join-sync"
	case EventRecursionEntered:
		return "recursion-entered"
	case EventContinueTaken:
		return "continue-taken"
	case EventSubProtocolEnter:
		return "sub-protocol-enter"
	case EventSubProtocolExit:
		return "sub-protocol-exit"
	case EventTerminated:
		return "terminated"
	case EventMaxStepsExceeded:
		return "max-steps-exceeded"
	default:
		return "unknown"
	}
}

// Event is one recorded simulation step.
type Event struct {
	Kind   EventKind
	Node   cfg.NodeID
	Detail string
}

// Trace is the ordered record of a completed run, capped at
// config.CFGSimulatorConfig.PreviewLimit entries.
type Trace struct {
	Events    []Event
	Truncated bool
}

// ManualChooser is asked to pick a branch index when
// config.ChoiceManual is configured. options is the number of branches
// available; the decider is the role whose local choice this is.
type ManualChooser func(decider string, options int) int

// Resolver resolves a `do` call's target protocol name to its CFG, for
// the simulator to run recursively to completion in place of the call
// node. nil disables sub-protocol calls: reaching one then fails with
// ErrSubProtocolNotFound, per spec.md §4.7.
type Resolver interface {
	CFG(name string) (*cfg.CFG, error)
}

// Simulator drives one CFG Simulator run.
type Simulator struct {
	g        *cfg.CFG
	cfg      config.CFGSimulatorConfig
	stackCfg config.CallStackConfig
	rng      *rand.Rand
	chooser  ManualChooser
	resolver Resolver
}

// New returns a Simulator for g. chooser is only consulted when cfg's
// ChoiceStrategy is config.ChoiceManual; pass nil otherwise. stackCfg
// bounds the recursion-entry/iteration bookkeeping this simulator's own
// callstack.Manager performs (one Manager per Simulator, never shared).
// resolver resolves `do` call targets; pass nil to leave sub-protocol
// calls unsupported.
func New(g *cfg.CFG, cfg config.CFGSimulatorConfig, stackCfg config.CallStackConfig, chooser ManualChooser, resolver Resolver) *Simulator {
	return &Simulator{g: g, cfg: cfg, stackCfg: stackCfg, rng: rand.New(rand.NewSource(1)), chooser: chooser, resolver: resolver}
}

// cursor is one independent execution point; `par` forks one cursor per
// branch.
type cursor struct {
	node    cfg.NodeID
	visited map[cfg.NodeID]bool // rec nodes this cursor has already entered once
}

// Run executes the protocol to completion (every cursor reaching a
// terminal node), or until MaxSteps is exhausted.
func (s *Simulator) Run() (*Trace, error) {
	trace := &Trace{}
	emit := func(e Event) {
		if !s.cfg.RecordTrace {
			return
		}
		if s.cfg.PreviewLimit > 0 && len(trace.Events) >= s.cfg.PreviewLimit {
			trace.Truncated = true
			return
		}
		trace.Events = append(trace.Events, e)
	}
	emit(Event{Kind: EventStarted, Node: s.g.Initial})

	stack := callstack.New(s.stackCfg)

	active := []*cursor{{node: s.g.Initial, visited: make(map[cfg.NodeID]bool)}}
	joinTarget := make(map[cfg.NodeID]int)
	joinArrived := make(map[cfg.NodeID]int)

	steps := 0
	for len(active) > 0 {
		if s.cfg.MaxSteps > 0 && steps >= s.cfg.MaxSteps {
			emit(Event{Kind: EventMaxStepsExceeded})
			return trace, &ErrMaxStepsExceeded{MaxSteps: s.cfg.MaxSteps}
		}
		steps++
		if err := stack.Step(); err != nil {
			return trace, err
		}

		c := active[0]
		active = active[1:]
		n := s.g.Node(c.node)

		switch n.Kind {
		case cfg.NodeTerminal:
			emit(Event{Kind: EventTerminated, Node: c.node})
			continue

		case cfg.NodeAction:
			receivers := n.Action.Receivers
			emit(Event{Kind: EventActionFired, Node: c.node,
				Detail: fmt.Sprintf("%s -> %v: %s", n.Action.Sender, receivers, n.Action.Label)})
			c.node = singleSuccessor(s.g, c.node)
			active = append(active, c)

		case cfg.NodeBranch:
			outs := s.g.Successors(c.node)
			idx := s.chooseBranch(n.Decider, len(outs))
			emit(Event{Kind: EventChoiceTaken, Node: c.node, Detail: fmt.Sprintf("role %s chose branch %d", n.Decider, idx)})
			c.node = outs[idx].To
			active = append(active, c)

		case cfg.NodeFork:
			outs := s.g.Successors(c.node)
			joinID := s.g.ForkOf[c.node]
			joinTarget[joinID] = len(outs)
			emit(Event{Kind: EventForkSplit, Node: c.node, Detail: fmt.Sprintf("%d branches", len(outs))})
			for _, e := range outs {
				visitedCopy := make(map[cfg.NodeID]bool, len(c.visited))
				for k, v := range c.visited {
					visitedCopy[k] = v
				}
				active = append(active, &cursor{node: e.To, visited: visitedCopy})
			}

		case cfg.NodeJoin:
			joinArrived[c.node]++
			if joinArrived[c.node] < joinTarget[c.node] {
				continue // another branch hasn't arrived yet; this cursor stops here
			}
			emit(Event{Kind: EventJoinSync, Node: c.node})
			c.node = singleSuccessor(s.g, c.node)
			active = append(active, c)

		case cfg.NodeRecursive:
			if !c.visited[c.node] {
				c.visited[c.node] = true
				if _, err := stack.Push(s.g.Protocol, nil); err != nil {
					return trace, err
				}
				emit(Event{Kind: EventRecursionEntered, Node: c.node, Detail: n.RecLabel})
			}
			c.node = singleSuccessor(s.g, c.node)
			active = append(active, c)

		case cfg.NodeSubProtocol:
			if s.resolver == nil {
				return trace, &ErrSubProtocolNotFound{Protocol: n.SubProtocolCall.Target}
			}
			calleeG, err := s.resolver.CFG(n.SubProtocolCall.Target)
			if err != nil {
				return trace, &ErrSubProtocolNotFound{Protocol: n.SubProtocolCall.Target}
			}
			if _, err := stack.Push(n.SubProtocolCall.Target, n.RoleMapping); err != nil {
				return trace, err
			}
			emit(Event{Kind: EventSubProtocolEnter, Node: c.node, Detail: n.SubProtocolCall.Target})

			child := New(calleeG, s.cfg, s.stackCfg, s.chooser, s.resolver)
			childTrace, err := child.Run()
			for _, ce := range childTrace.Events {
				emit(ce)
			}
			if err != nil {
				return trace, err
			}
			if _, err := stack.Pop(); err != nil {
				return trace, err
			}
			emit(Event{Kind: EventSubProtocolExit, Node: c.node})

			c.node = singleSuccessor(s.g, c.node)
			active = append(active, c)

		case cfg.NodeMerge:
			c.node = singleSuccessor(s.g, c.node)
			active = append(active, c)

		case cfg.NodeInitial:
			c.node = singleSuccessor(s.g, c.node)
			active = append(active, c)

		default:
			return trace, fmt.Errorf("cfgsim: unhandled node kind %v", n.Kind)
		}
	}
	return trace, nil
}

func (s *Simulator) chooseBranch(decider string, options int) int {
	switch s.cfg.ChoiceStrategy {
	case config.ChoiceRandom:
		return s.rng.Intn(options)
	case config.ChoiceManual:
		if s.chooser != nil {
			return s.chooser(decider, options)
		}
		return 0
	default: // config.ChoiceFirst
		return 0
	}
}

func singleSuccessor(g *cfg.CFG, id cfg.NodeID) cfg.NodeID {
	outs := g.Successors(id)
	return outs[0].To
}

// ErrMaxStepsExceeded reports that the simulation ran longer than
// configured without reaching completion — most often an
// unverified protocol whose deadlock-freedom/progress checks would
// have caught this.
type ErrMaxStepsExceeded struct {
	MaxSteps int
}

func (e *ErrMaxStepsExceeded) Error() string {
	return fmt.Sprintf("cfgsim: exceeded %d steps without completing", e.MaxSteps)
}

// ErrSubProtocolNotFound reports a `do` call whose target has no
// resolver configured, or the resolver could not produce a CFG for.
type ErrSubProtocolNotFound struct {
	Protocol string
}

func (e *ErrSubProtocolNotFound) Error() string {
	return fmt.Sprintf("cfgsim: sub-protocol %q not found", e.Protocol)
}
