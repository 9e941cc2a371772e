package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/dotsetgreg/homeagent/pkg/providers"
)

const systemPrompt = `You translate a user's message to a home assistant into a single JSON object.
Reply with JSON only, no prose and no code fences. Fields:
  involves_hardware (bool, required): the user wants a device to change state
  device (string|null): one of the known device ids listed with the message
  action (string|null): turn_on, turn_off, set_brightness, set_color, set_temperature,
    set_mode, set_volume, play, pause, set_channel, set_position, open_curtain, close_curtain
  parameters (object): e.g. {"brightness": 40}, {"temperature": 22}, {"volume": 30}
  confidence (number 0..1)
  has_reference (bool): the message points back with a pronoun such as "it" or "that"
  reference_word (string|null)
  resolved_device (string|null): the device the pronoun names, if known
  requires_status (bool): the user asks about current device state
  requires_memory (bool): the user asks about something said in an earlier conversation`

// LLMCollaborator resolves intents with a chat model.
type LLMCollaborator struct {
	provider    providers.LLMProvider
	model       string
	maxTokens   int
	temperature float64
}

type LLMOptions struct {
	MaxTokens   int
	Temperature float64
}

func NewLLMCollaborator(provider providers.LLMProvider, model string, opts LLMOptions) *LLMCollaborator {
	if model == "" {
		model = provider.GetDefaultModel()
	}
	return &LLMCollaborator{
		provider:    provider,
		model:       model,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
	}
}

func (c *LLMCollaborator) ResolveIntent(ctx context.Context, req Request) (string, error) {
	messages := []providers.Message{{Role: "system", Content: systemPrompt}}
	for _, turn := range req.History {
		messages = append(messages, providers.Message{Role: string(turn.Role), Content: turn.Content})
	}
	messages = append(messages, providers.Message{Role: "user", Content: buildUserPrompt(req)})

	options := map[string]interface{}{
		"temperature": c.temperature,
		"json":        true,
	}
	if c.maxTokens > 0 {
		options["max_tokens"] = c.maxTokens
	}
	resp, err := c.provider.Chat(ctx, messages, c.model, options)
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", fmt.Errorf("%s: empty response", c.provider.Name())
	}
	return resp.Content, nil
}

func buildUserPrompt(req Request) string {
	var b strings.Builder
	listed := make(map[string]bool, len(req.Devices))
	if len(req.Devices) > 0 || len(req.DeviceContext) > 0 {
		b.WriteString("Known devices (use these ids):\n")
	}
	for _, d := range req.Devices {
		listed[d.ID] = true
		fmt.Fprintf(&b, "- %s (%s", d.ID, d.Class)
		if d.Name != "" {
			fmt.Fprintf(&b, ", %q", d.Name)
		}
		b.WriteString(")")
		if state, ok := req.DeviceContext[d.ID]; ok {
			raw, _ := json.Marshal(state)
			fmt.Fprintf(&b, ": %s", raw)
		}
		b.WriteString("\n")
	}
	extra := make([]string, 0, len(req.DeviceContext))
	for id := range req.DeviceContext {
		if !listed[id] {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	for _, id := range extra {
		raw, _ := json.Marshal(req.DeviceContext[id])
		fmt.Fprintf(&b, "- %s: %s\n", id, raw)
	}
	if req.ReferenceHint != "" {
		fmt.Fprintf(&b, "A pronoun in this message most likely refers to: %s\n", req.ReferenceHint)
	}
	fmt.Fprintf(&b, "User familiarity score: %d/100\n", req.TrustScore)
	fmt.Fprintf(&b, "Message: %s", req.Text)
	return b.String()
}
