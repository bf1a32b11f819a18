// Package distsim implements the Distributed Simulator (spec.md §4.9):
// one cfsmsim.Simulator per role, coordinated by a single scheduler that
// picks a ready role, lets it fire one local transition, then drains and
// delivers whatever that role just sent. No two roles ever step
// concurrently — "distributed" describes the message-passing model, not
// the goroutine model (spec.md §5's single-threaded cooperative design).
package distsim

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/mpst-go/mpst/cfg"
	"github.com/mpst-go/mpst/config"
	"github.com/mpst-go/mpst/project"
	"github.com/mpst-go/mpst/simulate/cfsmsim"
	"github.com/mpst-go/mpst/wire"
)

// EventKind tags one entry in a Trace.
type EventKind int

const (
	EventRoleStepped EventKind = iota
	EventMessageDelivered
	EventGlobalDeadlock
	EventCompletion
	EventMaxStepsExceeded
)

func (k EventKind) String() string {
	switch k {
	case EventRoleStepped:
		return "role-stepped"
	case EventMessageDelivered:
		return "message-delivered"
	case EventGlobalDeadlock:
		return "global-deadlock"
	case EventCompletion:
		return "completion"
	case EventMaxStepsExceeded:
		return "max-steps-exceeded"
	default:
		return "unknown"
	}
}

// Event is one recorded global step.
type Event struct {
	Kind   EventKind
	Role   string
	Detail string
}

// Trace is the ordered record of a run.
type Trace struct {
	Events    []Event
	Truncated bool
}

// Simulator coordinates one cfsmsim.Simulator per role.
type Simulator struct {
	cfg       config.DistributedSimulatorConfig
	roles     []string // fixed order, used by round-robin scheduling
	sims      map[string]*cfsmsim.Simulator
	clock     *wire.Clock
	rng       *rand.Rand
	nextRobin int
	scheduled map[string]int // fair-least-scheduled bookkeeping
	protocol  string
}

// New builds a coordinator over one CFSM per entry in cfsms. cfsmCfg
// configures every per-role cfsmsim.Simulator identically, each with its
// own call-stack Manager bounded by stackCfg (spec.md §5: one stack per
// simulator instance, never shared). resolver resolves `do` targets for
// every role's simulator; pass nil to leave sub-protocol calls
// unsupported in this run. g is only consulted for its protocol name,
// used in error messages.
func New(g *cfg.CFG, cfsms map[string]*project.CFSM, cfg_ config.DistributedSimulatorConfig, cfsmCfg config.CFSMSimulatorConfig, stackCfg config.CallStackConfig, resolver cfsmsim.Resolver) *Simulator {
	clock := &wire.Clock{}
	sims := make(map[string]*cfsmsim.Simulator, len(cfsms))
	roles := make([]string, 0, len(cfsms))
	for role, m := range cfsms {
		sims[role] = cfsmsim.New(m, cfsmCfg, clock, stackCfg, resolver)
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return &Simulator{
		cfg:       cfg_,
		roles:     roles,
		sims:      sims,
		clock:     clock,
		rng:       rand.New(rand.NewSource(1)),
		scheduled: make(map[string]int, len(roles)),
		protocol:  g.Protocol,
	}
}

// readyRoles returns every role whose CFSM is neither done nor
// deadlocked — i.e. one whose next Step() might actually fire.
func (s *Simulator) readyRoles() []string {
	var out []string
	for _, role := range s.roles {
		if s.sims[role].Enabled() {
			out = append(out, role)
		}
	}
	return out
}

// allDone reports whether every role's CFSM has reached a final state.
func (s *Simulator) allDone() bool {
	for _, sim := range s.sims {
		if !sim.Done() {
			return false
		}
	}
	return true
}

func (s *Simulator) pickRole(ready []string) string {
	switch s.cfg.SchedulingStrategy {
	case config.ScheduleRandom:
		return ready[s.rng.Intn(len(ready))]
	case config.ScheduleFair:
		best := ready[0]
		for _, r := range ready[1:] {
			if s.scheduled[r] < s.scheduled[best] {
				best = r
			}
		}
		return best
	default: // config.ScheduleRoundRobin
		for i := 0; i < len(s.roles); i++ {
			idx := (s.nextRobin + i) % len(s.roles)
			candidate := s.roles[idx]
			for _, r := range ready {
				if r == candidate {
					s.nextRobin = (idx + 1) % len(s.roles)
					return candidate
				}
			}
		}
		return ready[0]
	}
}

// deliver routes msg to its recipient's inbox. The configured
// DeliveryModel is not consulted: under either model the message is
// pushed onto its per-pair FIFO queue (wire.MessageBuffer only models
// FIFO pairs), and no ordering is imposed across distinct pairs.
func (s *Simulator) deliver(msg *wire.Message) error {
	recipient, ok := s.sims[msg.Receiver]
	if !ok {
		return nil // message to a role outside this run; dropped
	}
	return recipient.Deliver(msg)
}

// Step selects one ready role via the scheduling strategy, fires one of
// its local transitions, and delivers everything it just sent.
func (s *Simulator) Step() (*Event, error) {
	ready := s.readyRoles()
	if len(ready) == 0 {
		if s.allDone() {
			return &Event{Kind: EventCompletion}, nil
		}
		return &Event{Kind: EventGlobalDeadlock}, &ErrGlobalDeadlock{Roles: s.stuckRoles()}
	}

	role := s.pickRole(ready)
	s.scheduled[role]++
	sim := s.sims[role]

	if _, err := sim.Step(); err != nil {
		return nil, fmt.Errorf("distsim: %s: role %s: %w", s.protocol, role, err)
	}

	for _, msg := range sim.DrainOutbox() {
		if err := s.deliver(msg); err != nil {
			return nil, fmt.Errorf("distsim: %s: delivering %s->%s: %w", s.protocol, msg.Sender, msg.Receiver, err)
		}
	}

	return &Event{Kind: EventRoleStepped, Role: role}, nil
}

// stuckRoles names every non-final role, for a deadlock report.
func (s *Simulator) stuckRoles() []string {
	var out []string
	for _, role := range s.roles {
		if !s.sims[role].Done() {
			out = append(out, role)
		}
	}
	return out
}

// Run steps until every role is terminal, global deadlock is detected,
// or MaxGlobalSteps is exhausted.
func (s *Simulator) Run() (*Trace, error) {
	trace := &Trace{}
	emit := func(e Event) {
		if !s.cfg.RecordTrace {
			return
		}
		trace.Events = append(trace.Events, e)
	}

	steps := 0
	for {
		if s.cfg.MaxGlobalSteps > 0 && steps >= s.cfg.MaxGlobalSteps {
			emit(Event{Kind: EventMaxStepsExceeded})
			return trace, &ErrMaxGlobalStepsExceeded{MaxGlobalSteps: s.cfg.MaxGlobalSteps}
		}
		steps++

		e, err := s.Step()
		if err != nil {
			return trace, err
		}
		emit(*e)
		if e.Kind == EventCompletion {
			return trace, nil
		}
		if e.Kind == EventGlobalDeadlock {
			return trace, &ErrGlobalDeadlock{Roles: s.stuckRoles()}
		}
	}
}

// Simulators exposes the per-role CFSM simulators, mainly for tests and
// tools that want to inspect a role's final state after Run.
func (s *Simulator) Simulators() map[string]*cfsmsim.Simulator { return s.sims }

// ErrGlobalDeadlock reports that no role has an enabled transition while
// at least one role is not yet terminal.
type ErrGlobalDeadlock struct {
	Roles []string
}

func (e *ErrGlobalDeadlock) Error() string {
	return fmt.Sprintf("distsim: global deadlock; stuck roles: %v", e.Roles)
}

// ErrMaxGlobalStepsExceeded reports a bounded halt, not a protocol
// violation: the run may still have been progressing correctly.
type ErrMaxGlobalStepsExceeded struct {
	MaxGlobalSteps int
}

func (e *ErrMaxGlobalStepsExceeded) Error() string {
	return fmt.Sprintf("distsim: exceeded %d global steps without completing", e.MaxGlobalSteps)
}
