// Package callstack provides the bounded frame stack a simulator uses to
// track `do` calls in progress (spec.md §4.6). A Manager is never shared
// across simulators: the teacher's own sda runtime once shared a single
// token/state table across concurrently running protocol instances and
// that turned into a well-known source of cross-instance corruption —
// this package's contract is one Manager per running simulation.
package callstack

import (
	"fmt"
	"sync"

	uuid "github.com/satori/go.uuid"

	"github.com/mpst-go/mpst/config"
)

// Frame is one `do`-call activation record: which protocol is running,
// and the role bindings that call site was entered with.
type Frame struct {
	ID          uuid.UUID
	Protocol    string
	RoleMapping map[string]string
	Depth       int
}

// EventKind tags what changed about the stack.
type EventKind int

const (
	FramePush EventKind = iota
	FramePop
	FrameStep
	StackReset
)

func (k EventKind) String() string {
	switch k {
	case FramePush:
		return "frame-push"
	case FramePop:
		return "frame-pop"
	case FrameStep:
		return "frame-step"
	case StackReset:
		return "stack-reset"
	default:
		return "unknown"
	}
}

// Event records one mutation of a Manager, for simulators that record a
// trace (config.CallStackConfig.EmitEvents).
type Event struct {
	Kind  EventKind
	Frame *Frame // nil for StackReset
}

// Manager is a single simulation run's bounded call stack.
type Manager struct {
	mu         sync.Mutex
	cfg        config.CallStackConfig
	frames     []*Frame
	iterations int
	events     []Event
}

// New returns a fresh, empty Manager bounded by cfg.
func New(cfg config.CallStackConfig) *Manager {
	return &Manager{cfg: cfg}
}

func (m *Manager) record(e Event) {
	if m.cfg.EmitEvents {
		m.events = append(m.events, e)
	}
}

// Push activates a new frame for a `do` call, failing with
// ErrStackOverflow once cfg.MaxDepth frames are already active.
func (m *Manager) Push(protocol string, roleMapping map[string]string) (*Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg.MaxDepth > 0 && len(m.frames) >= m.cfg.MaxDepth {
		return nil, &ErrStackOverflow{MaxDepth: m.cfg.MaxDepth}
	}
	f := &Frame{ID: uuid.NewV4(), Protocol: protocol, RoleMapping: roleMapping, Depth: len(m.frames)}
	m.frames = append(m.frames, f)
	m.record(Event{Kind: FramePush, Frame: f})
	return f, nil
}

// Pop deactivates the current top frame, failing with ErrStackUnderflow
// if the stack is already empty.
func (m *Manager) Pop() (*Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.frames) == 0 {
		return nil, &ErrStackUnderflow{}
	}
	f := m.frames[len(m.frames)-1]
	m.frames = m.frames[:len(m.frames)-1]
	m.record(Event{Kind: FramePop, Frame: f})
	return f, nil
}

// Step records one unit of simulation progress (one CFG node executed),
// failing with ErrIterationLimitExceeded once cfg.MaxIterations global
// steps have occurred. It exists to bound recursive protocols that would
// otherwise loop forever under an adversarial or buggy choice strategy.
func (m *Manager) Step() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.iterations++
	if m.cfg.MaxIterations > 0 && m.iterations > m.cfg.MaxIterations {
		return &ErrIterationLimitExceeded{MaxIterations: m.cfg.MaxIterations}
	}
	var top *Frame
	if len(m.frames) > 0 {
		top = m.frames[len(m.frames)-1]
	}
	m.record(Event{Kind: FrameStep, Frame: top})
	return nil
}

// Reset clears the stack and iteration counter, for reuse across
// multiple runs of the same simulator instance.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = nil
	m.iterations = 0
	m.record(Event{Kind: StackReset})
}

// Depth returns the number of active frames.
func (m *Manager) Depth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.frames)
}

// Current returns the top frame, or (nil, false) if the stack is empty.
func (m *Manager) Current() (*Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.frames) == 0 {
		return nil, false
	}
	return m.frames[len(m.frames)-1], true
}

// Events returns the recorded event trace (empty unless
// cfg.EmitEvents was set).
func (m *Manager) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// ErrStackOverflow reports that a `do` call would exceed MaxDepth.
type ErrStackOverflow struct {
	MaxDepth int
}

func (e *ErrStackOverflow) Error() string {
	return fmt.Sprintf("callstack: max depth %d exceeded", e.MaxDepth)
}

// ErrStackUnderflow reports a Pop on an empty stack.
type ErrStackUnderflow struct{}

func (e *ErrStackUnderflow) Error() string { return "callstack: pop on empty stack" }

// ErrIterationLimitExceeded reports that a simulation ran for more steps
// than cfg.MaxIterations allows.
type ErrIterationLimitExceeded struct {
	MaxIterations int
}

func (e *ErrIterationLimitExceeded) Error() string {
	return fmt.Sprintf("callstack: max iterations %d exceeded", e.MaxIterations)
}
