package workflow

import (
	"time"

	"github.com/dotsetgreg/homeagent/pkg/authz"
	"github.com/dotsetgreg/homeagent/pkg/devices"
	"github.com/dotsetgreg/homeagent/pkg/intent"
	"github.com/dotsetgreg/homeagent/pkg/session"
	"github.com/dotsetgreg/homeagent/pkg/store"
)

// turn is the scratch state of one trip through the machine. Nodes read the
// working session freely but change it only through stage.
type turn struct {
	input  string
	userID string
	now    time.Time

	session *session.Session
	staged  []func(*session.Session)

	userTurn      session.Turn
	assistantTurn session.Turn
	firstSeq      int

	referenceWord string
	hint          string
	intent        intent.Intent
	decision      *authz.Decision
	result        *devices.Result
	dispatchErr   error
	devices       []devices.Device
	memories      []store.Message
	chat          string

	outcome  Outcome
	reply    string
	failure  error
	failedAt State
	trace    []State
}

func newTurn(input, userID string, working *session.Session, now time.Time) *turn {
	return &turn{input: input, userID: userID, session: working, now: now}
}

// stage queues a session mutation. The queue is applied when the current
// node returns without error and discarded otherwise.
func (t *turn) stage(fn func(*session.Session)) {
	t.staged = append(t.staged, fn)
}

func (t *turn) snapshot() session.Session {
	return *t.session
}

// priorSnapshot is the working session without this turn's user message, for
// collaborators that receive the message separately.
func (t *turn) priorSnapshot() session.Session {
	snap := *t.session
	if n := len(snap.History); n > 0 && t.userTurn.ID != "" && snap.History[n-1].ID == t.userTurn.ID {
		snap.History = snap.History[:n-1 : n-1]
	}
	return snap
}
