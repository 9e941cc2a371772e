package workflow

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/dotsetgreg/homeagent/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linearNodes(override map[State]nodeFunc) map[State]nodeFunc {
	nodes := map[State]nodeFunc{
		StateStart: func(ctx context.Context, t *turn) (State, error) {
			t.stage(func(s *session.Session) { s.AppendTurn(session.Turn{Role: session.RoleUser, Content: t.input}) })
			return StateResolveReference, nil
		},
		StateResolveReference: func(ctx context.Context, t *turn) (State, error) { return StateResolveIntent, nil },
		StateResolveIntent:    func(ctx context.Context, t *turn) (State, error) { return StateChat, nil },
		StateChat:             func(ctx context.Context, t *turn) (State, error) { return StateComposeReply, nil },
		StateComposeReply: func(ctx context.Context, t *turn) (State, error) {
			t.reply = "ok"
			return StateEnd, nil
		},
		StateError: func(ctx context.Context, t *turn) (State, error) {
			t.reply = "error"
			return StateError, nil
		},
	}
	for state, node := range override {
		nodes[state] = node
	}
	return nodes
}

func runMachine(t *testing.T, nodes map[State]nodeFunc) (*turn, State, error) {
	t.Helper()
	working := &session.Session{ID: "s1", UserID: "alice", DeviceStates: map[string]map[string]any{}}
	tr := newTurn("hello", "alice", working, working.CreatedAt)
	final, err := newMachine(nodes).Run(context.Background(), tr)
	return tr, final, err
}

func TestMachineWalksToEnd(t *testing.T) {
	tr, final, err := runMachine(t, linearNodes(nil))
	require.NoError(t, err)
	assert.Equal(t, StateEnd, final)
	assert.Equal(t, []State{StateStart, StateResolveReference, StateResolveIntent, StateChat, StateComposeReply, StateEnd}, tr.trace)
	assert.Len(t, tr.session.History, 1)
}

func TestMachineDiscardsMutationsOfFailingNode(t *testing.T) {
	cases := map[string]nodeFunc{
		"error": func(ctx context.Context, t *turn) (State, error) {
			t.stage(func(s *session.Session) { s.SetDeviceState("lights", map[string]any{"power": "on"}) })
			return "", errors.New("boom")
		},
		"panic": func(ctx context.Context, t *turn) (State, error) {
			t.stage(func(s *session.Session) { s.SetDeviceState("lights", map[string]any{"power": "on"}) })
			panic("node exploded")
		},
		"panic in staged mutation": func(ctx context.Context, t *turn) (State, error) {
			t.stage(func(s *session.Session) { s.SetDeviceState("lights", map[string]any{"power": "on"}) })
			t.stage(func(s *session.Session) { panic("mutation exploded") })
			return StateComposeReply, nil
		},
		"illegal transition": func(ctx context.Context, t *turn) (State, error) {
			t.stage(func(s *session.Session) { s.SetDeviceState("lights", map[string]any{"power": "on"}) })
			return StateDispatchDevice, nil
		},
	}
	for name, node := range cases {
		t.Run(name, func(t *testing.T) {
			tr, final, err := runMachine(t, linearNodes(map[State]nodeFunc{StateChat: node}))
			require.NoError(t, err)
			assert.Equal(t, StateError, final)
			assert.Equal(t, "error", tr.reply)
			assert.Equal(t, StateChat, tr.failedAt)
			assert.Error(t, tr.failure)
			assert.NotContains(t, tr.session.DeviceStates, "lights")
			assert.Len(t, tr.session.History, 1, "earlier nodes keep their mutations")
			assert.Equal(t, StateError, tr.trace[len(tr.trace)-1])
		})
	}
}

func TestMachineRejectsIllegalTransitionAsError(t *testing.T) {
	tr, _, err := runMachine(t, linearNodes(map[State]nodeFunc{
		StateResolveReference: func(ctx context.Context, t *turn) (State, error) { return StateEnd, nil },
	}))
	require.NoError(t, err)
	assert.ErrorIs(t, tr.failure, errIllegalTransition)
}

func TestMachineReturnsStoreUnavailable(t *testing.T) {
	tr, final, err := runMachine(t, linearNodes(map[State]nodeFunc{
		StateChat: func(ctx context.Context, t *turn) (State, error) {
			return "", fmt.Errorf("%w: disk full", session.ErrStoreUnavailable)
		},
	}))
	require.ErrorIs(t, err, session.ErrStoreUnavailable)
	assert.Equal(t, StateChat, final)
	assert.Empty(t, tr.reply)
}

func TestMachineFailingErrorNodeIsReturned(t *testing.T) {
	_, final, err := runMachine(t, linearNodes(map[State]nodeFunc{
		StateChat:  func(ctx context.Context, t *turn) (State, error) { return "", errors.New("boom") },
		StateError: func(ctx context.Context, t *turn) (State, error) { panic("no reply either") },
	}))
	require.Error(t, err)
	assert.Equal(t, StateError, final)
}

func TestMachineMissingNodeFails(t *testing.T) {
	nodes := linearNodes(nil)
	delete(nodes, StateChat)
	tr, final, err := runMachine(t, nodes)
	require.NoError(t, err)
	assert.Equal(t, StateError, final)
	assert.Equal(t, StateChat, tr.failedAt)
}

func TestAllowedTransitions(t *testing.T) {
	assert.True(t, allowed(StateAuthorize, StateDispatchDevice))
	assert.True(t, allowed(StateAuthorize, StateComposeReply))
	assert.False(t, allowed(StateResolveIntent, StateDispatchDevice), "dispatch requires authorization")
	assert.True(t, allowed(StateQueryStatus, StateError))
	assert.False(t, allowed(StateError, StateError))
	assert.False(t, allowed(StateEnd, StateError))
}
