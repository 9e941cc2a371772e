package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dotsetgreg/homeagent/pkg/authz"
	"github.com/dotsetgreg/homeagent/pkg/bus"
	"github.com/dotsetgreg/homeagent/pkg/config"
	"github.com/dotsetgreg/homeagent/pkg/devices"
	"github.com/dotsetgreg/homeagent/pkg/intent"
	"github.com/dotsetgreg/homeagent/pkg/logger"
	"github.com/dotsetgreg/homeagent/pkg/session"
	"github.com/dotsetgreg/homeagent/pkg/tasks"
	"github.com/google/uuid"
)

type Options struct {
	DispatchTimeout  time.Duration
	ResponderTimeout time.Duration
	SynthesisTimeout time.Duration
	ReferenceScan    int
	IntentHistory    int
	ChatHistory      int
	MemoryResults    int
}

func OptionsFrom(cfg *config.Config) Options {
	return Options{
		DispatchTimeout:  cfg.Devices.DispatchTimeout.Std(),
		ResponderTimeout: cfg.Intent.Timeout.Std(),
		ReferenceScan:    cfg.Session.ReferenceScan,
		IntentHistory:    cfg.Session.IntentHistory,
		ChatHistory:      cfg.Session.HistoryWindowTurns * 2,
	}
}

func (o Options) withDefaults() Options {
	if o.DispatchTimeout <= 0 {
		o.DispatchTimeout = 5 * time.Second
	}
	if o.ResponderTimeout <= 0 {
		o.ResponderTimeout = 20 * time.Second
	}
	if o.SynthesisTimeout <= 0 {
		o.SynthesisTimeout = 10 * time.Second
	}
	if o.ReferenceScan <= 0 {
		o.ReferenceScan = 3
	}
	if o.IntentHistory <= 0 {
		o.IntentHistory = 10
	}
	if o.ChatHistory <= 0 {
		o.ChatHistory = 40
	}
	if o.MemoryResults <= 0 {
		o.MemoryResults = 3
	}
	return o
}

// Deps are the collaborators of an Engine. Sessions, Resolver, Policy and
// Devices are required; the rest may be nil.
type Deps struct {
	Sessions    *session.Store
	Resolver    IntentResolver
	Policy      *authz.Policy
	Devices     devices.Dispatcher
	Memory      MemorySearcher
	Responder   Responder
	Synthesizer Synthesizer
	Tasks       Scheduler
	Bus         *bus.MessageBus
}

type TurnResult struct {
	Reply      string
	SessionID  string
	FinalState State
	Outcome    Outcome
	Intent     intent.Intent
	Decision   *authz.Decision
	Trace      []State
	// Audio is nil when no synthesizer is configured or synthesis failed.
	Audio []byte
}

type Engine struct {
	opts        Options
	sessions    *session.Store
	resolver    IntentResolver
	policy      *authz.Policy
	devices     devices.Dispatcher
	memory      MemorySearcher
	responder   Responder
	synthesizer Synthesizer
	tasks       Scheduler
	bus         *bus.MessageBus
	composer    Composer
	machine     *Machine
	now         func() time.Time
	running     atomic.Bool
}

func NewEngine(opts Options, deps Deps) (*Engine, error) {
	switch {
	case deps.Sessions == nil:
		return nil, errors.New("workflow: session store is required")
	case deps.Resolver == nil:
		return nil, errors.New("workflow: intent resolver is required")
	case deps.Policy == nil:
		return nil, errors.New("workflow: authorization policy is required")
	case deps.Devices == nil:
		return nil, errors.New("workflow: device dispatcher is required")
	}
	e := &Engine{
		opts:        opts.withDefaults(),
		sessions:    deps.Sessions,
		resolver:    deps.Resolver,
		policy:      deps.Policy,
		devices:     deps.Devices,
		memory:      deps.Memory,
		responder:   deps.Responder,
		synthesizer: deps.Synthesizer,
		tasks:       deps.Tasks,
		bus:         deps.Bus,
		composer:    Composer{Disclosure: deps.Policy.Disclosure()},
		now:         time.Now,
	}
	e.machine = newMachine(map[State]nodeFunc{
		StateStart:            e.start,
		StateResolveReference: e.resolveReference,
		StateResolveIntent:    e.resolveIntent,
		StateAuthorize:        e.authorize,
		StateDispatchDevice:   e.dispatchDevice,
		StateQueryStatus:      e.queryStatus,
		StateRetrieveMemory:   e.retrieveMemory,
		StateChat:             e.chat,
		StateComposeReply:     e.composeReply,
		StateError:            e.composeError,
	})
	return e, nil
}

// ProcessTurn runs one user turn to completion under the session lock and
// returns the reply. Denials and degraded intents are ordinary replies; an
// error means the turn could not be processed at all and nothing of it was
// kept.
func (e *Engine) ProcessTurn(ctx context.Context, input, userID, sessionID string) (TurnResult, error) {
	input = strings.TrimSpace(input)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return TurnResult{SessionID: sessionID}, errors.New("process turn: missing user id")
	}
	started := time.Now()

	var (
		t     *turn
		final State
		snap  session.Session
		err   error
	)
	// A sweep can evict the session between lookup and lock; one reload
	// reattaches it from the durable store.
	for attempt := 0; attempt < 2; attempt++ {
		snap, err = e.sessions.GetOrCreate(ctx, sessionID, userID)
		if err != nil {
			return TurnResult{SessionID: sessionID}, err
		}
		t, err = session.WithSession(ctx, e.sessions, snap.ID, func(working *session.Session) (*turn, error) {
			tr := newTurn(input, userID, working, e.now())
			state, runErr := e.machine.Run(ctx, tr)
			final = state
			return tr, runErr
		})
		if !errors.Is(err, session.ErrSessionNotFound) {
			break
		}
	}
	if err != nil {
		logger.ErrorCF("workflow", "Turn aborted",
			map[string]interface{}{
				"session_id": snap.ID,
				"user_id":    userID,
				"error":      err.Error(),
			})
		return TurnResult{SessionID: snap.ID}, err
	}

	e.schedule(snap.ID, t)

	result := TurnResult{
		Reply:      t.reply,
		SessionID:  snap.ID,
		FinalState: final,
		Outcome:    t.outcome,
		Intent:     t.intent,
		Decision:   t.decision,
		Trace:      t.trace,
	}
	result.Audio = e.synthesize(ctx, t.reply)

	logger.InfoCF("workflow", "Turn processed",
		map[string]interface{}{
			"session_id":  snap.ID,
			"user_id":     userID,
			"final_state": string(final),
			"outcome":     string(t.outcome),
			"origin":      string(t.intent.Origin),
			"duration_ms": time.Since(started).Milliseconds(),
		})
	return result, nil
}

func (e *Engine) schedule(sessionID string, t *turn) {
	if e.tasks == nil {
		return
	}
	job := tasks.Job{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		UserID:      t.userID,
		TurnID:      t.userTurn.ID,
		FirstSeq:    t.firstSeq,
		Trust:       t.session.TrustScore,
		Outcome:     string(t.outcome),
		ScheduledAt: time.Now(),
	}
	for _, turn := range []session.Turn{t.userTurn, t.assistantTurn} {
		if turn.ID != "" {
			job.Turns = append(job.Turns, turn)
		}
	}
	if job.TurnID == "" {
		job.TurnID = job.ID
	}
	e.tasks.Schedule(job)
}

func (e *Engine) synthesize(ctx context.Context, text string) []byte {
	if e.synthesizer == nil || text == "" {
		return nil
	}
	sctx, cancel := context.WithTimeout(ctx, e.opts.SynthesisTimeout)
	defer cancel()
	audio, err := e.synthesizer.Synthesize(sctx, text)
	if err != nil {
		logger.WarnCF("workflow", "Speech synthesis failed",
			map[string]interface{}{"error": err.Error()})
		return nil
	}
	return audio
}

// Run consumes inbound turns from the bus until ctx is done or the bus is
// closed, publishing each reply back to the originating channel.
func (e *Engine) Run(ctx context.Context) error {
	if e.bus == nil {
		return errors.New("workflow: engine has no message bus")
	}
	e.running.Store(true)
	defer e.running.Store(false)

	for e.running.Load() {
		msg, ok := e.bus.ConsumeInbound(ctx)
		if !ok {
			if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		}

		out := bus.OutboundMessage{Channel: msg.Channel, UserID: msg.UserID, SessionID: msg.SessionID}
		res, err := e.ProcessTurn(ctx, msg.Content, msg.UserID, msg.SessionID)
		if err != nil {
			out.Error = err.Error()
			out.Content = e.composer.Error(session.ToneFormal)
		} else {
			out.SessionID = res.SessionID
			out.Content = res.Reply
		}
		e.bus.PublishOutbound(out)
	}
	return nil
}

func (e *Engine) Stop() {
	e.running.Store(false)
}

// Close stops the bus loop and drains background work.
func (e *Engine) Close(ctx context.Context) error {
	e.Stop()
	closer, ok := e.tasks.(interface{ Close(context.Context) error })
	if !ok {
		return nil
	}
	if err := closer.Close(ctx); err != nil {
		return fmt.Errorf("drain background tasks: %w", err)
	}
	return nil
}
