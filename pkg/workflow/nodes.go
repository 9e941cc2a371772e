package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/dotsetgreg/homeagent/pkg/devices"
	"github.com/dotsetgreg/homeagent/pkg/logger"
	"github.com/dotsetgreg/homeagent/pkg/session"
	"github.com/google/uuid"
)

func (e *Engine) start(ctx context.Context, t *turn) (State, error) {
	t.firstSeq = t.session.Seq
	t.userTurn = session.Turn{
		ID:        uuid.NewString(),
		Role:      session.RoleUser,
		Content:   t.input,
		Timestamp: t.now,
	}
	user := t.userTurn
	t.stage(func(s *session.Session) { s.AppendTurn(user) })
	return StateResolveReference, nil
}

func (e *Engine) resolveReference(ctx context.Context, t *turn) (State, error) {
	word, ok := session.DetectReference(t.input)
	if !ok {
		return StateResolveIntent, nil
	}
	t.referenceWord = word
	if device, found := session.ResolveReference(t.snapshot(), word, e.opts.ReferenceScan); found {
		t.hint = device
	}
	logger.DebugCF("workflow", "Reference detected",
		map[string]interface{}{
			"word":   word,
			"device": t.hint,
		})
	return StateResolveIntent, nil
}

func (e *Engine) resolveIntent(ctx context.Context, t *turn) (State, error) {
	in := e.resolver.Resolve(ctx, t.input, t.priorSnapshot(), t.hint)
	t.intent = in

	rec := in.Record(t.now)
	limit := e.opts.IntentHistory
	t.stage(func(s *session.Session) { s.RecordIntent(rec, limit) })

	switch {
	case in.InvolvesHardware && in.Device == "":
		t.outcome = OutcomeClarify
		t.stage(func(s *session.Session) { s.PendingIntent = &rec })
		return StateComposeReply, nil
	case in.InvolvesHardware:
		return StateAuthorize, nil
	case in.RequiresStatus:
		return StateQueryStatus, nil
	case in.RequiresMemory:
		return StateRetrieveMemory, nil
	}
	return StateChat, nil
}

func (e *Engine) authorize(ctx context.Context, t *turn) (State, error) {
	class, ok := e.devices.Class(t.intent.Device)
	if !ok {
		t.outcome = OutcomeUnknownDevice
		return StateComposeReply, nil
	}

	decision := e.policy.Evaluate(class, t.intent.Action, t.intent.Parameters, t.session.TrustScore, t.intent.IsFallback())
	t.decision = &decision
	logger.InfoCF("workflow", "Authorization decided",
		map[string]interface{}{
			"user_id":  t.userID,
			"device":   t.intent.Device,
			"action":   t.intent.Action,
			"allowed":  decision.Allowed,
			"reason":   string(decision.Reason),
			"required": decision.RequiredScore,
			"current":  decision.CurrentScore,
		})
	if decision.Allowed {
		return StateDispatchDevice, nil
	}

	t.outcome = OutcomeDenied
	rec := t.intent.Record(t.now)
	t.stage(func(s *session.Session) { s.PendingIntent = &rec })
	return StateComposeReply, nil
}

func (e *Engine) dispatchDevice(ctx context.Context, t *turn) (State, error) {
	dctx, cancel := context.WithTimeout(ctx, e.opts.DispatchTimeout)
	defer cancel()

	cmd := devices.Command{DeviceID: t.intent.Device, Command: t.intent.Action, Parameters: t.intent.Parameters}
	res, err := e.devices.Dispatch(dctx, cmd)
	t.result = &res
	if err == nil && !res.Success {
		err = errors.New(res.Message)
	}
	if err != nil {
		t.dispatchErr = err
		t.outcome = OutcomeDeviceFailure
		logger.WarnCF("workflow", "Device dispatch failed",
			map[string]interface{}{
				"device":  cmd.DeviceID,
				"command": cmd.Command,
				"error":   err.Error(),
			})
		return StateComposeReply, nil
	}

	t.outcome = OutcomeDeviceSuccess
	deviceID, command, state, at := res.DeviceID, res.Command, res.NewState, t.now
	if deviceID == "" {
		deviceID = cmd.DeviceID
	}
	t.stage(func(s *session.Session) {
		s.SetDeviceState(deviceID, state)
		s.SetLastDeviceAction(deviceID, command, at)
		s.PendingIntent = nil
	})
	return StateComposeReply, nil
}

func (e *Engine) queryStatus(ctx context.Context, t *turn) (State, error) {
	var ids []string
	if device := t.intent.Device; device != "" {
		if _, ok := e.devices.Class(device); ok {
			ids = []string{device}
		}
	}
	devs, err := e.devices.Status(ctx, ids...)
	if err != nil {
		return "", fmt.Errorf("query device status: %w", err)
	}
	t.devices = devs
	t.outcome = OutcomeStatus
	t.stage(func(s *session.Session) {
		for _, d := range devs {
			s.SetDeviceState(d.ID, d.State)
		}
	})
	return StateComposeReply, nil
}

func (e *Engine) retrieveMemory(ctx context.Context, t *turn) (State, error) {
	t.outcome = OutcomeMemory
	if e.memory == nil {
		return StateComposeReply, nil
	}
	found, err := e.memory.SearchMessages(ctx, t.userID, t.input, e.opts.MemoryResults)
	if err != nil {
		return "", fmt.Errorf("%w: search messages: %v", session.ErrStoreUnavailable, err)
	}
	t.memories = found
	return StateComposeReply, nil
}

func (e *Engine) chat(ctx context.Context, t *turn) (State, error) {
	t.outcome = OutcomeChat
	if e.responder == nil {
		return StateComposeReply, nil
	}
	rctx, cancel := context.WithTimeout(ctx, e.opts.ResponderTimeout)
	defer cancel()

	prior := t.priorSnapshot()
	reply, err := e.responder.Respond(rctx, ChatRequest{
		Text:       t.input,
		History:    prior.RecentHistory(e.opts.ChatHistory),
		Tone:       t.session.Tone(),
		TrustScore: t.session.TrustScore,
	})
	if err != nil {
		logger.WarnCF("workflow", "Chat responder failed, using template",
			map[string]interface{}{"error": err.Error()})
		return StateComposeReply, nil
	}
	t.chat = reply
	return StateComposeReply, nil
}

func (e *Engine) composeReply(ctx context.Context, t *turn) (State, error) {
	t.reply = e.composer.Compose(ReplyContext{
		Outcome:  t.outcome,
		Tone:     t.session.Tone(),
		Device:   t.intent.Device,
		Decision: t.decision,
		Result:   t.result,
		Devices:  t.devices,
		Memories: t.memories,
		Chat:     t.chat,
	})
	e.stageReply(t)
	return StateEnd, nil
}

func (e *Engine) composeError(ctx context.Context, t *turn) (State, error) {
	t.outcome = OutcomeError
	t.reply = e.composer.Error(t.session.Tone())
	e.stageReply(t)
	return StateError, nil
}

func (e *Engine) stageReply(t *turn) {
	t.assistantTurn = session.Turn{
		ID:        uuid.NewString(),
		Role:      session.RoleAssistant,
		Content:   t.reply,
		Timestamp: e.now(),
	}
	reply := t.assistantTurn
	t.stage(func(s *session.Session) { s.AppendTurn(reply) })
}
