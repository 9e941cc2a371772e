package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/dotsetgreg/homeagent/pkg/logger"
	"github.com/dotsetgreg/homeagent/pkg/session"
)

const maxSteps = 16

var errIllegalTransition = errors.New("illegal transition")

// nodeFunc does the work of one state and names the next.
type nodeFunc func(ctx context.Context, t *turn) (State, error)

// Machine walks a turn from START to a terminal state. Every node is
// all-or-nothing: its staged session mutations are applied together when it
// succeeds and dropped when it fails or panics.
type Machine struct {
	nodes map[State]nodeFunc
}

func newMachine(nodes map[State]nodeFunc) *Machine {
	return &Machine{nodes: nodes}
}

// Run returns the terminal state reached. A node failure moves the turn to
// ERROR, whose node still composes a reply; only a store failure or a
// failing ERROR node is returned to the caller.
func (m *Machine) Run(ctx context.Context, t *turn) (State, error) {
	state := StateStart
	for steps := 0; ; steps++ {
		if state == StateEnd {
			t.trace = append(t.trace, StateEnd)
			return StateEnd, nil
		}
		t.trace = append(t.trace, state)

		var (
			next State
			err  error
		)
		if steps >= maxSteps {
			err = fmt.Errorf("turn did not finish within %d steps", maxSteps)
		} else {
			next, err = m.step(ctx, state, t)
		}

		if state == StateError {
			if err != nil {
				return StateError, fmt.Errorf("compose error reply: %w", err)
			}
			return StateError, nil
		}
		if err != nil {
			if errors.Is(err, session.ErrStoreUnavailable) {
				return state, err
			}
			logger.ErrorCF("workflow", "Node failed",
				map[string]interface{}{
					"state":   string(state),
					"user_id": t.userID,
					"error":   err.Error(),
				})
			t.failure, t.failedAt = err, state
			state = StateError
			continue
		}
		state = next
	}
}

func (m *Machine) step(ctx context.Context, state State, t *turn) (next State, err error) {
	node, ok := m.nodes[state]
	if !ok {
		return "", fmt.Errorf("no node registered for %s", state)
	}

	t.staged = nil
	defer func() {
		t.staged = nil
		if r := recover(); r != nil {
			next, err = "", fmt.Errorf("panic in %s: %v", state, r)
		}
	}()

	next, err = node(ctx, t)
	if err != nil {
		return "", err
	}
	if state != StateError && !allowed(state, next) {
		return "", fmt.Errorf("%w: %s -> %s", errIllegalTransition, state, next)
	}
	if len(t.staged) > 0 {
		working := t.session.Clone()
		for _, fn := range t.staged {
			fn(&working)
		}
		*t.session = working
	}
	return next, nil
}
