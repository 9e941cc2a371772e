package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/dotsetgreg/homeagent/pkg/intent"
	"github.com/dotsetgreg/homeagent/pkg/providers"
	"github.com/dotsetgreg/homeagent/pkg/session"
	"github.com/dotsetgreg/homeagent/pkg/store"
	"github.com/dotsetgreg/homeagent/pkg/tasks"
)

// IntentResolver never fails; degraded paths come back as fallback intents.
type IntentResolver interface {
	Resolve(ctx context.Context, text string, snap session.Session, hint string) intent.Intent
}

// MemorySearcher looks up earlier things the user said.
type MemorySearcher interface {
	SearchMessages(ctx context.Context, userID, query string, limit int) ([]store.Message, error)
}

// Scheduler accepts post-turn work without blocking.
type Scheduler interface {
	Schedule(job tasks.Job) bool
}

// Synthesizer renders reply text to audio. It is optional.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

type ChatRequest struct {
	Text       string
	History    []session.Turn
	Tone       session.Tone
	TrustScore int
}

// Responder produces free-form replies for turns that are plain conversation.
type Responder interface {
	Respond(ctx context.Context, req ChatRequest) (string, error)
}

var toneGuidance = map[session.Tone]string{
	session.ToneFormal:   "You have only just met the user. Be courteous and formal, and keep replies brief.",
	session.TonePolite:   "You know the user a little. Be warm but polite.",
	session.ToneCasual:   "You know the user well. Be relaxed and friendly.",
	session.ToneIntimate: "You are close with the user. Be playful and affectionate, like an old friend.",
}

// LLMResponder answers chat turns with a chat model.
type LLMResponder struct {
	provider  providers.LLMProvider
	model     string
	maxTokens int
}

func NewLLMResponder(provider providers.LLMProvider, model string, maxTokens int) *LLMResponder {
	if model == "" {
		model = provider.GetDefaultModel()
	}
	return &LLMResponder{provider: provider, model: model, maxTokens: maxTokens}
}

func (r *LLMResponder) Respond(ctx context.Context, req ChatRequest) (string, error) {
	system := "You are a home assistant that can also control the user's smart devices. " +
		"Reply in one or two sentences, in the user's language. " + toneGuidance[req.Tone]
	messages := []providers.Message{{Role: "system", Content: system}}
	for _, turn := range req.History {
		messages = append(messages, providers.Message{Role: string(turn.Role), Content: turn.Content})
	}
	messages = append(messages, providers.Message{Role: "user", Content: req.Text})

	options := map[string]interface{}{"temperature": 0.7}
	if r.maxTokens > 0 {
		options["max_tokens"] = r.maxTokens
	}
	resp, err := r.provider.Chat(ctx, messages, r.model, options)
	if err != nil {
		return "", err
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("%s: empty chat reply", r.provider.Name())
	}
	return strings.TrimSpace(resp.Content), nil
}
