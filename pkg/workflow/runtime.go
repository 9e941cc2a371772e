package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/dotsetgreg/homeagent/pkg/authz"
	"github.com/dotsetgreg/homeagent/pkg/bus"
	"github.com/dotsetgreg/homeagent/pkg/config"
	"github.com/dotsetgreg/homeagent/pkg/devices"
	"github.com/dotsetgreg/homeagent/pkg/intent"
	"github.com/dotsetgreg/homeagent/pkg/logger"
	"github.com/dotsetgreg/homeagent/pkg/providers"
	"github.com/dotsetgreg/homeagent/pkg/session"
	"github.com/dotsetgreg/homeagent/pkg/store"
	"github.com/dotsetgreg/homeagent/pkg/tasks"
)

// Runtime is a fully wired engine together with the resources it owns.
type Runtime struct {
	Engine   *Engine
	Sessions *session.Store
	Store    *store.SQLiteStore
	Devices  *devices.Simulator
	Tasks    *tasks.Coordinator
	Bus      *bus.MessageBus

	cancelSweep context.CancelFunc
	sweepDone   chan struct{}
}

// NewRuntime builds everything from configuration. provider may be nil, in
// which case intents come from the keyword fallback and chat turns use
// templates.
func NewRuntime(cfg *config.Config, provider providers.LLMProvider) (*Runtime, error) {
	db, err := store.NewSQLiteStore(cfg.StorePath())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", session.ErrStoreUnavailable, err)
	}

	sessions := session.NewStore(session.ConfigFrom(cfg.Session), db)
	sim := devices.NewSimulator(devices.FromSpecs(cfg.Devices.Seed))
	coordinator := tasks.NewCoordinator(tasks.OptionsFrom(cfg.Tasks), db, sessions, tasks.LogObserver{})
	msgBus := bus.NewMessageBus(cfg.Tasks.QueueSize)

	var (
		collaborator intent.Collaborator
		responder    Responder
	)
	if provider != nil {
		model := providers.ModelFor(cfg)
		collaborator = intent.NewLLMCollaborator(provider, model, intent.LLMOptions{
			MaxTokens:   cfg.Intent.MaxTokens,
			Temperature: cfg.Intent.Temperature,
		})
		if cfg.Intent.ChatReplies {
			responder = NewLLMResponder(provider, model, cfg.Intent.MaxTokens)
		}
	}

	engine, err := NewEngine(OptionsFrom(cfg), Deps{
		Sessions:  sessions,
		Resolver:  intent.NewAdapter(collaborator, intent.OptionsFrom(cfg)),
		Policy:    authz.NewPolicy(cfg.Authorization),
		Devices:   sim,
		Memory:    db,
		Responder: responder,
		Tasks:     coordinator,
		Bus:       msgBus,
	})
	if err != nil {
		_ = coordinator.Close(context.Background())
		_ = db.Close()
		return nil, err
	}

	rt := &Runtime{
		Engine:    engine,
		Sessions:  sessions,
		Store:     db,
		Devices:   sim,
		Tasks:     coordinator,
		Bus:       msgBus,
		sweepDone: make(chan struct{}),
	}
	sweepCtx, cancel := context.WithCancel(context.Background())
	rt.cancelSweep = cancel
	go func() {
		defer close(rt.sweepDone)
		if err := sessions.RunSweeper(sweepCtx, cfg.Session.SweepSchedule); err != nil {
			logger.ErrorCF("workflow", "Session sweeper stopped",
				map[string]interface{}{"error": err.Error()})
		}
	}()
	return rt, nil
}

// Close drains background work, stops the sweeper, and closes the store.
func (r *Runtime) Close(ctx context.Context) error {
	r.cancelSweep()
	<-r.sweepDone
	err := r.Engine.Close(ctx)
	r.Bus.Close()
	return errors.Join(err, r.Store.Close())
}
