package callstack

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mpst-go/mpst/config"
)

func TestPushPopBasic(t *testing.T) {
	m := New(config.CallStackConfig{MaxDepth: 4, MaxIterations: 100})
	f, err := m.Push("Sub", map[string]string{"X": "A"})
	require.NoError(t, err)
	require.Equal(t, 0, f.Depth)
	require.Equal(t, 1, m.Depth())

	popped, err := m.Pop()
	require.NoError(t, err)
	require.Equal(t, f.ID, popped.ID)
	require.Equal(t, 0, m.Depth())
}

func TestPushBeyondMaxDepthFails(t *testing.T) {
	m := New(config.CallStackConfig{MaxDepth: 1, MaxIterations: 100})
	_, err := m.Push("A", nil)
	require.NoError(t, err)
	_, err = m.Push("B", nil)
	require.Error(t, err)
	require.IsType(t, &ErrStackOverflow{}, err)
}

func TestPopOnEmptyFails(t *testing.T) {
	m := New(config.CallStackConfig{MaxDepth: 4, MaxIterations: 100})
	_, err := m.Pop()
	require.Error(t, err)
	require.IsType(t, &ErrStackUnderflow{}, err)
}

func TestStepBeyondMaxIterationsFails(t *testing.T) {
	m := New(config.CallStackConfig{MaxDepth: 4, MaxIterations: 2})
	require.NoError(t, m.Step())
	require.NoError(t, m.Step())
	err := m.Step()
	require.Error(t, err)
	require.IsType(t, &ErrIterationLimitExceeded{}, err)
}

func TestResetClearsStackAndIterations(t *testing.T) {
	m := New(config.CallStackConfig{MaxDepth: 1, MaxIterations: 1})
	_, err := m.Push("A", nil)
	require.NoError(t, err)
	require.NoError(t, m.Step())
	m.Reset()
	require.Equal(t, 0, m.Depth())
	require.NoError(t, m.Step())
}

func TestEventsRecordedOnlyWhenEnabled(t *testing.T) {
	quiet := New(config.CallStackConfig{MaxDepth: 4, MaxIterations: 10})
	_, _ = quiet.Push("A", nil)
	require.Empty(t, quiet.Events())

	loud := New(config.CallStackConfig{MaxDepth: 4, MaxIterations: 10, EmitEvents: true})
	_, _ = loud.Push("A", nil)
	require.NoError(t, loud.Step())
	_, _ = loud.Pop()
	events := loud.Events()
	require.Len(t, events, 3)
	require.Equal(t, FramePush, events[0].Kind)
	require.Equal(t, FrameStep, events[1].Kind)
	require.Equal(t, FramePop, events[2].Kind)
}
